package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bingo-service/internal/model"
	appErr "bingo-service/pkg/errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Authorizer answers whether a caller may run administrative operations.
type Authorizer interface {
	RequireAdmin(ctx context.Context, userID int64) error
}

// IssueFunc runs inside the purchase transaction once the entry is paid.
type IssueFunc func(tx *gorm.DB, participant *model.GameParticipant) error

type Service struct {
	db           *gorm.DB
	authz        Authorizer
	pointsPerWin int64
}

func NewService(db *gorm.DB, authz Authorizer, pointsPerWin int64) *Service {
	return &Service{db: db, authz: authz, pointsPerWin: pointsPerWin}
}

type EntryReceipt struct {
	GameID        int64 `json:"gameId"`
	UserID        int64 `json:"userId"`
	Amount        int64 `json:"amount"`
	Balance       int64 `json:"balance"`
	PrizePool     int64 `json:"prizePool"`
	TransactionID int64 `json:"transactionId"`
}

type PrizeReceipt struct {
	GameID        int64 `json:"gameId"`
	UserID        int64 `json:"userId"`
	Amount        int64 `json:"amount"`
	Balance       int64 `json:"balance"`
	TransactionID int64 `json:"transactionId"`
}

type DepositReceipt struct {
	UserID        int64 `json:"userId"`
	Amount        int64 `json:"amount"`
	Balance       int64 `json:"balance"`
	TransactionID int64 `json:"transactionId"`
}

type AuditReport struct {
	UserID          int64 `json:"userId"`
	Balance         int64 `json:"balance"`
	StartingBalance int64 `json:"startingBalance"`
	LedgerSum       int64 `json:"ledgerSum"`
	Transactions    int64 `json:"transactions"`
	Consistent      bool  `json:"consistent"`
}

func (s *Service) PurchaseEntry(ctx context.Context, gameID, userID int64, issue IssueFunc) (*EntryReceipt, error) {
	var receipt *EntryReceipt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		receipt, err = s.PurchaseEntryTx(tx, gameID, userID, issue)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// PurchaseEntryTx debits the entry cost, credits the prize pool and flips
// paid_entry inside tx. A participant that already paid gets ErrAlreadyPaid
// and nothing is written.
func (s *Service) PurchaseEntryTx(tx *gorm.DB, gameID, userID int64, issue IssueFunc) (*EntryReceipt, error) {
	game, err := lockGame(tx, gameID)
	if err != nil {
		return nil, err
	}
	if !game.Status.Open() {
		return nil, appErr.ErrGameFinished
	}

	var participant model.GameParticipant
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("game_id = ? AND user_id = ?", gameID, userID).
		First(&participant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrNotParticipant
		}
		return nil, err
	}
	if participant.PaidEntry {
		return nil, appErr.ErrAlreadyPaid
	}

	cost := game.EntryCost
	res := tx.Model(&model.User{}).
		Where("id = ? AND balance >= ?", userID, cost).
		UpdateColumn("balance", gorm.Expr("balance - ?", cost))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := loadUser(tx, userID); err != nil {
			return nil, err
		}
		return nil, appErr.ErrInsufficientBalance
	}

	res = tx.Model(&model.Game{}).
		Where("id = ? AND status IN ?", gameID, openStatuses).
		UpdateColumn("prize_pool", gorm.Expr("prize_pool + ?", cost))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, appErr.ErrGameFinished
	}

	now := time.Now()
	res = tx.Model(&model.GameParticipant{}).
		Where("id = ? AND paid_entry = ?", participant.ID, false).
		Updates(map[string]interface{}{"paid_entry": true, "paid_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, appErr.ErrAlreadyPaid
	}
	participant.PaidEntry = true
	participant.PaidAt = &now

	user, err := loadUser(tx, userID)
	if err != nil {
		return nil, err
	}
	record := model.Transaction{
		UserID:       userID,
		GameID:       &game.ID,
		Type:         model.TxEntryFee,
		Amount:       cost,
		BalanceAfter: user.Balance,
		Description:  fmt.Sprintf("Entry fee for game %d", game.ID),
		MetaJSON:     mustJSON(map[string]interface{}{"roomId": game.RoomID}),
		CreatedAt:    now,
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}

	if issue != nil {
		if err := issue(tx, &participant); err != nil {
			return nil, err
		}
	}

	return &EntryReceipt{
		GameID:        game.ID,
		UserID:        userID,
		Amount:        cost,
		Balance:       user.Balance,
		PrizePool:     game.PrizePool + cost,
		TransactionID: record.ID,
	}, nil
}

func (s *Service) ClaimPrize(ctx context.Context, gameID, userID int64) (*PrizeReceipt, error) {
	var receipt *PrizeReceipt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		receipt, err = s.ClaimPrizeTx(tx, gameID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ClaimPrizeTx moves the whole prize pool to the recorded winner.
func (s *Service) ClaimPrizeTx(tx *gorm.DB, gameID, userID int64) (*PrizeReceipt, error) {
	game, err := lockGame(tx, gameID)
	if err != nil {
		return nil, err
	}
	if game.WinnerID == nil || *game.WinnerID != userID {
		return nil, appErr.ErrNotWinner
	}
	pool := game.PrizePool
	if pool <= 0 {
		return nil, appErr.ErrNothingToClaim
	}

	res := tx.Model(&model.Game{}).
		Where("id = ? AND winner_id = ? AND prize_pool = ?", gameID, userID, pool).
		UpdateColumn("prize_pool", 0)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, appErr.ErrNothingToClaim
	}

	res = tx.Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("balance", gorm.Expr("balance + ?", pool))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, appErr.ErrUserNotFound
	}

	user, err := loadUser(tx, userID)
	if err != nil {
		return nil, err
	}
	record := model.Transaction{
		UserID:       userID,
		GameID:       &game.ID,
		Type:         model.TxPrizeWin,
		Amount:       pool,
		BalanceAfter: user.Balance,
		Description:  fmt.Sprintf("Prize for game %d", game.ID),
		MetaJSON:     mustJSON(map[string]interface{}{"roomId": game.RoomID, "pattern": game.WinPattern}),
		CreatedAt:    time.Now(),
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}

	return &PrizeReceipt{
		GameID:        game.ID,
		UserID:        userID,
		Amount:        pool,
		Balance:       user.Balance,
		TransactionID: record.ID,
	}, nil
}

func (s *Service) FinishWithWinner(ctx context.Context, callerID, gameID, winnerID int64, pattern model.PatternType) (*model.Game, error) {
	if err := s.authz.RequireAdmin(ctx, callerID); err != nil {
		return nil, err
	}
	var game *model.Game
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		game, err = s.FinishTx(tx, gameID, &winnerID, pattern)
		return err
	})
	return game, err
}

func (s *Service) FinishWithoutWinner(ctx context.Context, callerID, gameID int64) (*model.Game, error) {
	if err := s.authz.RequireAdmin(ctx, callerID); err != nil {
		return nil, err
	}
	var game *model.Game
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		game, err = s.FinishTx(tx, gameID, nil, "")
		return err
	})
	return game, err
}

// FinishTx settles a game exactly once. The status compare-and-swap from an
// open status is the guard: a second finish sees RowsAffected == 0. Only a
// game that has started can finish with a winner.
func (s *Service) FinishTx(tx *gorm.DB, gameID int64, winnerID *int64, pattern model.PatternType) (*model.Game, error) {
	game, err := lockGame(tx, gameID)
	if err != nil {
		return nil, err
	}
	if !game.Status.Open() {
		return nil, appErr.ErrGameFinished
	}
	if winnerID != nil {
		if game.Status == model.GameWaiting {
			return nil, appErr.ErrWinnerBeforeStart
		}
		var count int64
		if err := tx.Model(&model.GameParticipant{}).
			Where("game_id = ? AND user_id = ?", gameID, *winnerID).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, appErr.ErrNotParticipant
		}
		if pattern == "" {
			pattern = game.PatternType
		}
	}

	now := time.Now()
	res := tx.Model(&model.Game{}).
		Where("id = ? AND status IN ?", gameID, openStatuses).
		Updates(map[string]interface{}{
			"status":       model.GameFinished,
			"winner_id":    winnerID,
			"win_pattern":  pattern,
			"finished_at":  now,
			"open_room_id": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, appErr.ErrGameFinished
	}

	players := tx.Model(&model.GameParticipant{}).Select("user_id").Where("game_id = ?", gameID)
	if err := tx.Model(&model.User{}).
		Where("id IN (?)", players).
		UpdateColumn("games_played", gorm.Expr("games_played + 1")).Error; err != nil {
		return nil, err
	}

	if winnerID != nil {
		if err := tx.Model(&model.User{}).
			Where("id = ?", *winnerID).
			UpdateColumns(map[string]interface{}{
				"wins":   gorm.Expr("wins + 1"),
				"points": gorm.Expr("points + ?", s.pointsPerWin),
			}).Error; err != nil {
			return nil, err
		}
	}

	var finished model.Game
	if err := tx.First(&finished, gameID).Error; err != nil {
		return nil, err
	}
	return &finished, nil
}

func (s *Service) AdminAddBalance(ctx context.Context, adminID, userID, amount int64, note string) (*DepositReceipt, error) {
	if err := s.authz.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, appErr.ErrInvalidAmount
	}

	var receipt *DepositReceipt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.User{}).
			Where("id = ?", userID).
			UpdateColumn("balance", gorm.Expr("balance + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return appErr.ErrUserNotFound
		}

		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		if note == "" {
			note = "Balance added by administrator"
		}
		record := model.Transaction{
			UserID:       userID,
			Type:         model.TxDeposit,
			Amount:       amount,
			BalanceAfter: user.Balance,
			Description:  note,
			MetaJSON:     mustJSON(map[string]interface{}{"adminId": adminID}),
			CreatedAt:    time.Now(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		receipt = &DepositReceipt{
			UserID:        userID,
			Amount:        amount,
			Balance:       user.Balance,
			TransactionID: record.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

type HistoryResult struct {
	Items []model.Transaction
	Total int64
}

func (s *Service) History(ctx context.Context, userID int64, page, size int) (*HistoryResult, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}

	var total int64
	if err := s.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, err
	}

	result := &HistoryResult{Items: make([]model.Transaction, 0), Total: total}
	if total == 0 {
		return result, nil
	}
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(size).
		Offset((page - 1) * size).
		Find(&result.Items).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// Audit recomputes the signed transaction sum and compares it with the
// balance movement since the account was opened.
func (s *Service) Audit(ctx context.Context, userID int64) (*AuditReport, error) {
	db := s.db.WithContext(ctx)
	user, err := loadUser(db, userID)
	if err != nil {
		return nil, err
	}

	var rows []model.Transaction
	if err := db.Select("type", "amount").Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}
	var sum int64
	for _, row := range rows {
		sum += row.SignedAmount()
	}

	return &AuditReport{
		UserID:          userID,
		Balance:         user.Balance,
		StartingBalance: user.StartingBalance,
		LedgerSum:       sum,
		Transactions:    int64(len(rows)),
		Consistent:      user.Balance-user.StartingBalance == sum,
	}, nil
}

var openStatuses = []model.GameStatus{model.GameWaiting, model.GameInProgress}

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

func loadUser(tx *gorm.DB, userID int64) (*model.User, error) {
	var user model.User
	if err := tx.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func mustJSON(v interface{}) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("{}")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
