package session

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"bingo-service/internal/feed"
	"bingo-service/internal/model"
	"bingo-service/internal/service/card"
	"bingo-service/internal/service/draw"
	"bingo-service/internal/service/ledger"
	"bingo-service/internal/service/pattern"
	appErr "bingo-service/pkg/errors"
	"bingo-service/pkg/logger"
	"bingo-service/pkg/utils/random"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// joinAttempts bounds the retries when two first joiners race to open a game.
const joinAttempts = 3

// Service drives a game through waiting, in_progress and finished. Money
// moves through the ledger, numbers through the drawer, and every committed
// change is announced on the feed.
type Service struct {
	db      *gorm.DB
	ledger  *ledger.Service
	drawer  *draw.Drawer
	manager *draw.Manager
	feed    feed.Publisher
	authz   ledger.Authorizer
	src     random.Source
}

// NewService wires the session engine. src is shared by concurrent card
// issues and must be safe for concurrent use.
func NewService(
	db *gorm.DB,
	ledgerSvc *ledger.Service,
	drawer *draw.Drawer,
	manager *draw.Manager,
	publisher feed.Publisher,
	authz ledger.Authorizer,
	src random.Source,
) *Service {
	if publisher == nil {
		publisher = feed.Nop()
	}
	s := &Service{
		db:      db,
		ledger:  ledgerSvc,
		drawer:  drawer,
		manager: manager,
		feed:    publisher,
		authz:   authz,
		src:     src,
	}
	manager.OnExhausted(s.finishExhausted)
	return s
}

type JoinResult struct {
	Game        model.Game            `json:"game"`
	Participant model.GameParticipant `json:"participant"`
	Created     bool                  `json:"created"`
}

type EntryResult struct {
	Receipt     *ledger.EntryReceipt `json:"receipt,omitempty"`
	Card        *model.BingoCard     `json:"card"`
	AlreadyPaid bool                 `json:"alreadyPaid"`
}

type ClaimResult struct {
	Game    model.Game        `json:"game"`
	Pattern model.PatternType `json:"pattern"`
}

// ParticipantView is what other players may see of a participant.
type ParticipantView struct {
	UserID    int64     `json:"userId"`
	FullName  string    `json:"fullName"`
	PaidEntry bool      `json:"paidEntry"`
	JoinedAt  time.Time `json:"joinedAt"`
}

type State struct {
	Game         model.Game           `json:"game"`
	Participants []ParticipantView    `json:"participants"`
	Called       []model.CalledNumber `json:"calledNumbers"`
	Card         *model.BingoCard     `json:"card,omitempty"`
	Paused       bool                 `json:"paused"`
}

// withTx runs fn in a transaction and publishes the events it raised only
// once the transaction has committed.
func (s *Service) withTx(ctx context.Context, fn func(tx *gorm.DB, events *feed.Transactional) error) error {
	events := feed.NewTransactional(s.feed)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, events)
	})
	if err != nil {
		events.Discard()
		return err
	}
	events.Flush(ctx)
	return nil
}

// Join attaches userID to the room's open game, opening one at the room's
// current entry cost and mode when none exists. Joining twice returns the
// existing participant.
func (s *Service) Join(ctx context.Context, roomID, userID int64) (*JoinResult, error) {
	var (
		result *JoinResult
		err    error
	)
	for attempt := 1; attempt <= joinAttempts; attempt++ {
		result, err = s.join(ctx, roomID, userID)
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
		logger.Log.Debug("join raced with another joiner, retrying",
			zap.Int64("roomID", roomID),
			zap.Int64("userID", userID),
			zap.Int("attempt", attempt),
		)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, appErr.ErrRoomBusy
	}
	return result, err
}

func (s *Service) join(ctx context.Context, roomID, userID int64) (*JoinResult, error) {
	var result JoinResult
	err := s.withTx(ctx, func(tx *gorm.DB, events *feed.Transactional) error {
		var room model.Room
		if err := tx.Preload("GameMode").First(&room, roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErr.ErrRoomNotFound
			}
			return err
		}
		if !room.IsActive {
			return appErr.ErrRoomInactive
		}
		if room.GameMode == nil {
			return appErr.ErrModeNotFound
		}

		var game model.Game
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("open_room_id = ?", roomID).
			First(&game).Error
		switch {
		case err == nil:
		case errors.Is(err, gorm.ErrRecordNotFound):
			if !room.GameMode.Active {
				return appErr.ErrRoomInactive
			}
			openRoom := room.ID
			game = model.Game{
				RoomID:              room.ID,
				OpenRoomID:          &openRoom,
				GameModeID:          room.GameModeID,
				PatternType:         room.GameMode.PatternType,
				BallIntervalSeconds: room.GameMode.BallIntervalSeconds,
				Status:              model.GameWaiting,
				EntryCost:           room.DefaultEntryCost,
			}
			if err := tx.Create(&game).Error; err != nil {
				return err
			}
			result.Created = true
			_ = events.Publish(ctx, feed.GameStatusEvent(feed.EventGameCreated, &game))
		default:
			return err
		}

		var existing model.GameParticipant
		err = tx.Where("game_id = ? AND user_id = ?", game.ID, userID).First(&existing).Error
		if err == nil {
			result.Game = game
			result.Participant = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var user model.User
		if err := tx.Select("id").First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErr.ErrUserNotFound
			}
			return err
		}

		var joined int64
		if err := tx.Model(&model.GameParticipant{}).Where("game_id = ?", game.ID).Count(&joined).Error; err != nil {
			return err
		}
		if capacity := roomCapacity(&room); capacity > 0 && joined >= int64(capacity) {
			return appErr.ErrRoomFull
		}

		participant := model.GameParticipant{
			GameID:   game.ID,
			UserID:   userID,
			JoinedAt: time.Now(),
		}
		if err := tx.Create(&participant).Error; err != nil {
			return err
		}
		result.Game = game
		result.Participant = participant
		_ = events.Publish(ctx, feed.ParticipantEvent(feed.EventParticipantJoined, &participant, game.PrizePool))
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Log.Info("player joined room",
		zap.Int64("roomID", roomID),
		zap.Int64("gameID", result.Game.ID),
		zap.Int64("userID", userID),
		zap.Bool("gameCreated", result.Created),
	)
	return &result, nil
}

func roomCapacity(room *model.Room) int {
	if room.MaxPlayers > 0 {
		return room.MaxPlayers
	}
	if room.GameMode != nil {
		return room.GameMode.MaxPlayers
	}
	return 0
}

// PurchaseEntry pays the entry cost and issues the participant's card in
// the same transaction. Paying again is a no-op that reports the existing
// card with AlreadyPaid set.
func (s *Service) PurchaseEntry(ctx context.Context, gameID, userID int64) (*EntryResult, error) {
	var result EntryResult
	err := s.withTx(ctx, func(tx *gorm.DB, events *feed.Transactional) error {
		var paid model.GameParticipant
		receipt, err := s.ledger.PurchaseEntryTx(tx, gameID, userID, func(tx *gorm.DB, p *model.GameParticipant) error {
			issued, err := s.issueCard(tx, p)
			if err != nil {
				return err
			}
			result.Card = issued
			paid = *p
			return nil
		})
		if err != nil {
			return err
		}
		result.Receipt = receipt

		var game model.Game
		if err := tx.First(&game, gameID).Error; err != nil {
			return err
		}
		_ = events.Publish(ctx, feed.ParticipantEvent(feed.EventEntryPaid, &paid, game.PrizePool))
		_ = events.Publish(ctx, feed.GameStatusEvent(feed.EventEntryPaid, &game))
		return nil
	})
	if errors.Is(err, appErr.ErrAlreadyPaid) {
		existing, cardErr := s.loadCard(s.db.WithContext(ctx), gameID, userID)
		if cardErr != nil {
			return nil, cardErr
		}
		return &EntryResult{Card: existing, AlreadyPaid: true}, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Log.Info("entry purchased",
		zap.Int64("gameID", gameID),
		zap.Int64("userID", userID),
		zap.Int64("amount", result.Receipt.Amount),
		zap.Int64("prizePool", result.Receipt.PrizePool),
	)
	return &result, nil
}

func (s *Service) issueCard(tx *gorm.DB, p *model.GameParticipant) (*model.BingoCard, error) {
	grid := card.Generate(s.src)
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	numbers, err := json.Marshal(grid)
	if err != nil {
		return nil, err
	}
	issued := model.BingoCard{
		GameID:        p.GameID,
		UserID:        p.UserID,
		Numbers:       datatypes.JSON(numbers),
		MarkedNumbers: datatypes.JSON("[]"),
	}
	if err := tx.Create(&issued).Error; err != nil {
		return nil, err
	}
	return &issued, nil
}

// Start moves a waiting game to in_progress once enough players have joined
// and hands it to the draw scheduler.
func (s *Service) Start(ctx context.Context, adminID, gameID int64) (*model.Game, error) {
	if err := s.authz.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	var game model.Game
	err := s.withTx(ctx, func(tx *gorm.DB, events *feed.Transactional) error {
		locked, err := lockGame(tx, gameID)
		if err != nil {
			return err
		}
		if locked.Status != model.GameWaiting {
			return appErr.ErrGameNotWaiting
		}

		var room model.Room
		if err := tx.First(&room, locked.RoomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErr.ErrRoomNotFound
			}
			return err
		}
		var joined int64
		if err := tx.Model(&model.GameParticipant{}).Where("game_id = ?", gameID).Count(&joined).Error; err != nil {
			return err
		}
		if joined < int64(room.MinPlayers) {
			return appErr.ErrNotEnoughPlayers
		}

		now := time.Now()
		res := tx.Model(&model.Game{}).
			Where("id = ? AND status = ?", gameID, model.GameWaiting).
			Updates(map[string]interface{}{
				"status":     model.GameInProgress,
				"started_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return appErr.ErrGameNotWaiting
		}
		locked.Status = model.GameInProgress
		locked.StartedAt = &now
		game = *locked
		_ = events.Publish(ctx, feed.GameStatusEvent(feed.EventGameStarted, &game))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.manager.Start(game.ID, game.BallIntervalSeconds)
	logger.Log.Info("game started",
		zap.Int64("gameID", game.ID),
		zap.Int64("adminID", adminID),
	)
	return &game, nil
}

// Pause halts the draw scheduler without touching the game row.
func (s *Service) Pause(ctx context.Context, adminID, gameID int64) (*model.Game, error) {
	game, err := s.requireRunning(ctx, adminID, gameID)
	if err != nil {
		return nil, err
	}
	if !s.manager.Pause(gameID) {
		if s.manager.Paused(gameID) {
			return nil, appErr.ErrGamePaused
		}
		return nil, appErr.ErrGameNotInProgress
	}
	s.publish(ctx, feed.GameStatusEvent(feed.EventGamePaused, game))
	return game, nil
}

// Resume restarts the scheduler with a full interval before the next draw.
// A game whose scheduler was lost is started afresh.
func (s *Service) Resume(ctx context.Context, adminID, gameID int64) (*model.Game, error) {
	game, err := s.requireRunning(ctx, adminID, gameID)
	if err != nil {
		return nil, err
	}
	if !s.manager.Resume(gameID) {
		if s.manager.Running(gameID) {
			return nil, appErr.ErrGameNotPaused
		}
		s.manager.Start(gameID, game.BallIntervalSeconds)
	}
	s.publish(ctx, feed.GameStatusEvent(feed.EventGameResumed, game))
	return game, nil
}

func (s *Service) requireRunning(ctx context.Context, adminID, gameID int64) (*model.Game, error) {
	if err := s.authz.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	game, err := s.loadGame(s.db.WithContext(ctx), gameID)
	if err != nil {
		return nil, err
	}
	if game.Status != model.GameInProgress {
		return nil, appErr.ErrGameNotInProgress
	}
	return game, nil
}

// CallNumber draws one number by hand through the same serialised path the
// scheduler uses. Drawing past the last number finishes the game, as does
// drawing the last number while the scheduler is paused.
func (s *Service) CallNumber(ctx context.Context, adminID, gameID int64) (*draw.Result, error) {
	if err := s.authz.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	res, err := s.drawer.DrawNext(ctx, gameID)
	if errors.Is(err, appErr.ErrPoolExhausted) {
		s.finishExhausted(ctx, gameID)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	// with no live scheduler there is no later tick to notice the empty pool
	if res.Game.DrawnCount >= card.BallCount && !s.manager.Running(gameID) {
		s.finishExhausted(ctx, gameID)
		if game, err := s.loadGame(s.db.WithContext(ctx), gameID); err == nil {
			res.Game = *game
		}
	}
	return res, nil
}

// MarkNumber records a mark after checking the number was called and is on
// the caller's card.
func (s *Service) MarkNumber(ctx context.Context, gameID, userID int64, number int) (*model.BingoCard, error) {
	if !card.ValidNumber(number) {
		return nil, appErr.ErrInvalidNumber
	}

	var marked *model.BingoCard
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		game, err := s.loadGame(tx, gameID)
		if err != nil {
			return err
		}
		if game.Status != model.GameInProgress {
			if game.Status == model.GameFinished {
				return appErr.ErrGameFinished
			}
			return appErr.ErrGameNotInProgress
		}

		bc, err := s.loadCard(tx.Clauses(clause.Locking{Strength: "UPDATE"}), gameID, userID)
		if err != nil {
			return err
		}
		grid, err := bc.Grid()
		if err != nil {
			return err
		}
		if !card.Grid(grid).Contains(number) {
			return appErr.ErrNumberNotOnCard
		}

		var called int64
		if err := tx.Model(&model.CalledNumber{}).
			Where("game_id = ? AND number = ?", gameID, number).
			Count(&called).Error; err != nil {
			return err
		}
		if called == 0 {
			return appErr.ErrNumberNotCalled
		}

		marks, err := bc.Marked()
		if err != nil {
			return err
		}
		for _, m := range marks {
			if m == number {
				return appErr.ErrNumberAlreadyMarked
			}
		}
		marks = append(marks, number)
		sort.Ints(marks)
		raw, err := json.Marshal(marks)
		if err != nil {
			return err
		}
		if err := tx.Model(bc).Update("marked_numbers", datatypes.JSON(raw)).Error; err != nil {
			return err
		}
		bc.MarkedNumbers = datatypes.JSON(raw)
		marked = bc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marked, nil
}

// ClaimWin re-derives the win from the caller's marks that were actually
// called. The first valid claim finishes the game; later claims see
// ErrGameFinished.
func (s *Service) ClaimWin(ctx context.Context, gameID, userID int64) (*ClaimResult, error) {
	var result ClaimResult
	err := s.withTx(ctx, func(tx *gorm.DB, events *feed.Transactional) error {
		game, err := lockGame(tx, gameID)
		if err != nil {
			return err
		}
		switch game.Status {
		case model.GameInProgress:
		case model.GameFinished:
			return appErr.ErrGameFinished
		default:
			return appErr.ErrGameNotInProgress
		}

		bc, err := s.loadCard(tx, gameID, userID)
		if err != nil {
			return err
		}
		grid, err := bc.Grid()
		if err != nil {
			return err
		}
		marks, err := bc.Marked()
		if err != nil {
			return err
		}
		var calledNumbers []int
		if err := tx.Model(&model.CalledNumber{}).
			Where("game_id = ?", gameID).
			Pluck("number", &calledNumbers).Error; err != nil {
			return err
		}
		called := make(map[int]bool, len(calledNumbers))
		for _, n := range calledNumbers {
			called[n] = true
		}

		if !pattern.IsWinner(card.Grid(grid), pattern.Effective(marks, called), game.PatternType) {
			return appErr.ErrPatternIncomplete
		}

		finished, err := s.ledger.FinishTx(tx, gameID, &userID, game.PatternType)
		if err != nil {
			return err
		}
		result.Game = *finished
		result.Pattern = finished.WinPattern
		_ = events.Publish(ctx, feed.GameStatusEvent(feed.EventGameFinished, finished))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.manager.Stop(gameID)
	logger.Log.Info("bingo claimed",
		zap.Int64("gameID", gameID),
		zap.Int64("winnerID", userID),
		zap.String("pattern", string(result.Pattern)),
	)
	return &result, nil
}

// ClaimPrize pays the prize pool out to the recorded winner.
func (s *Service) ClaimPrize(ctx context.Context, gameID, userID int64) (*ledger.PrizeReceipt, error) {
	var receipt *ledger.PrizeReceipt
	err := s.withTx(ctx, func(tx *gorm.DB, events *feed.Transactional) error {
		var err error
		receipt, err = s.ledger.ClaimPrizeTx(tx, gameID, userID)
		if err != nil {
			return err
		}
		var game model.Game
		if err := tx.First(&game, gameID).Error; err != nil {
			return err
		}
		_ = events.Publish(ctx, feed.GameStatusEvent(feed.EventPrizeClaimed, &game))
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Log.Info("prize claimed",
		zap.Int64("gameID", gameID),
		zap.Int64("userID", userID),
		zap.Int64("amount", receipt.Amount),
	)
	return receipt, nil
}

// ForceFinish ends an open game on an operator's word, with or without a
// winner. A game that never started can only finish without one.
func (s *Service) ForceFinish(ctx context.Context, adminID, gameID int64, winnerID *int64) (*model.Game, error) {
	if err := s.authz.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	var (
		game *model.Game
		err  error
	)
	if winnerID == nil {
		game, err = s.ledger.FinishWithoutWinner(ctx, adminID, gameID)
	} else {
		game, err = s.ledger.FinishWithWinner(ctx, adminID, gameID, *winnerID, "")
	}
	if err != nil {
		return nil, err
	}

	s.manager.Stop(gameID)
	s.publish(ctx, feed.GameStatusEvent(feed.EventGameFinished, game))
	logger.Log.Info("game force finished",
		zap.Int64("gameID", gameID),
		zap.Int64("adminID", adminID),
		zap.Bool("hasWinner", winnerID != nil),
	)
	return game, nil
}

// finishExhausted settles a game whose numbers ran out with no winner.
func (s *Service) finishExhausted(ctx context.Context, gameID int64) {
	err := s.withTx(ctx, func(tx *gorm.DB, events *feed.Transactional) error {
		finished, err := s.ledger.FinishTx(tx, gameID, nil, "")
		if err != nil {
			return err
		}
		_ = events.Publish(ctx, feed.GameStatusEvent(feed.EventGameFinished, finished))
		return nil
	})
	switch {
	case err == nil:
		logger.Log.Info("game finished without winner", zap.Int64("gameID", gameID))
	case errors.Is(err, appErr.ErrGameFinished):
	default:
		logger.Log.Error("failed to finish exhausted game",
			zap.Int64("gameID", gameID),
			zap.Error(err),
		)
	}
	s.manager.Stop(gameID)
}

// GameState returns the game with its participants, the ordered called
// numbers and, when viewerID has one, the viewer's card.
func (s *Service) GameState(ctx context.Context, gameID, viewerID int64) (*State, error) {
	db := s.db.WithContext(ctx)
	game, err := s.loadGame(db, gameID)
	if err != nil {
		return nil, err
	}

	state := &State{
		Game:         *game,
		Participants: make([]ParticipantView, 0),
		Called:       make([]model.CalledNumber, 0),
		Paused:       s.manager.Paused(gameID),
	}
	if err := db.Table("game_participants AS p").
		Select("p.user_id, u.full_name, p.paid_entry, p.joined_at").
		Joins("JOIN users AS u ON u.id = p.user_id").
		Where("p.game_id = ?", gameID).
		Order("p.joined_at ASC, p.id ASC").
		Scan(&state.Participants).Error; err != nil {
		return nil, err
	}
	if err := db.Where("game_id = ?", gameID).Order("seq ASC").Find(&state.Called).Error; err != nil {
		return nil, err
	}

	if viewerID > 0 {
		bc, err := s.loadCard(db, gameID, viewerID)
		switch {
		case err == nil:
			state.Card = bc
		case errors.Is(err, appErr.ErrCardNotFound), errors.Is(err, appErr.ErrEntryNotPaid), errors.Is(err, appErr.ErrNotParticipant):
		default:
			return nil, err
		}
	}
	return state, nil
}

func (s *Service) ListOpenGames(ctx context.Context) ([]model.Game, error) {
	games := make([]model.Game, 0)
	err := s.db.WithContext(ctx).
		Where("status IN ?", []model.GameStatus{model.GameWaiting, model.GameInProgress}).
		Order("id DESC").
		Find(&games).Error
	return games, err
}

// RecoverSchedulers restarts a draw scheduler for every game persisted as
// in_progress, so a restart does not strand running games.
func (s *Service) RecoverSchedulers(ctx context.Context) error {
	var games []model.Game
	if err := s.db.WithContext(ctx).
		Where("status = ?", model.GameInProgress).
		Find(&games).Error; err != nil {
		return err
	}
	started := 0
	for _, game := range games {
		if s.manager.Start(game.ID, game.BallIntervalSeconds) {
			started++
		}
	}
	logger.Log.Info("draw schedulers recovered", zap.Int("count", started))
	return nil
}

func (s *Service) publish(ctx context.Context, ev feed.Event) {
	if err := s.feed.Publish(ctx, ev); err != nil {
		logger.Log.Warn("Failed to publish feed event",
			zap.String("topic", ev.Topic),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}

func (s *Service) loadGame(db *gorm.DB, gameID int64) (*model.Game, error) {
	var game model.Game
	if err := db.First(&game, gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrGameNotFound
		}
		return nil, err
	}
	return &game, nil
}

func lockGame(tx *gorm.DB, gameID int64) (*model.Game, error) {
	var game model.Game
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&game, gameID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrGameNotFound
		}
		return nil, err
	}
	return &game, nil
}

// loadCard distinguishes a stranger from a participant who has not paid yet.
func (s *Service) loadCard(db *gorm.DB, gameID, userID int64) (*model.BingoCard, error) {
	var bc model.BingoCard
	err := db.Where("game_id = ? AND user_id = ?", gameID, userID).First(&bc).Error
	if err == nil {
		return &bc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var participant model.GameParticipant
	err = db.Session(&gorm.Session{NewDB: true}).
		Where("game_id = ? AND user_id = ?", gameID, userID).
		First(&participant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrNotParticipant
		}
		return nil, err
	}
	if !participant.PaidEntry {
		return nil, appErr.ErrEntryNotPaid
	}
	return nil, appErr.ErrCardNotFound
}
