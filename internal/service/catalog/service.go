package catalog

import (
	"context"
	"errors"
	"strings"

	"bingo-service/internal/model"
	"bingo-service/internal/service/ledger"
	appErr "bingo-service/pkg/errors"
	"bingo-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service manages the game modes and rooms players join from the lobby.
type Service struct {
	db    *gorm.DB
	authz ledger.Authorizer
}

func NewService(db *gorm.DB, authz ledger.Authorizer) *Service {
	return &Service{db: db, authz: authz}
}

type ModeParams struct {
	Name                string
	Description         string
	PatternType         model.PatternType
	MaxPlayers          int
	BallIntervalSeconds int
	Active              bool
}

type RoomParams struct {
	Name             string
	GameModeID       int64
	MinPlayers       int
	MaxPlayers       int
	DefaultEntryCost int64
	IsActive         bool
}

type RoomListResult struct {
	Items []model.Room
	Total int64
}

// LobbyRoom is an active room with its open game, if one exists.
type LobbyRoom struct {
	Room    model.Room  `json:"room"`
	Game    *model.Game `json:"game,omitempty"`
	Players int64       `json:"players"`
}

func (p ModeParams) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return appErr.ErrInvalidMode
	}
	if !p.PatternType.Valid() {
		return appErr.ErrInvalidPattern
	}
	if p.BallIntervalSeconds < 1 || p.MaxPlayers < 1 {
		return appErr.ErrInvalidMode
	}
	return nil
}

func (p RoomParams) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return appErr.ErrInvalidRoom
	}
	if p.MinPlayers < 1 || p.MaxPlayers < p.MinPlayers || p.DefaultEntryCost < 0 {
		return appErr.ErrInvalidRoom
	}
	return nil
}

func (s *Service) ListModes(ctx context.Context, activeOnly bool) ([]model.GameMode, error) {
	modes := make([]model.GameMode, 0)
	query := s.db.WithContext(ctx).Order("id ASC")
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	if err := query.Find(&modes).Error; err != nil {
		return nil, err
	}
	return modes, nil
}

func (s *Service) CreateMode(ctx context.Context, adminID int64, params ModeParams) (*model.GameMode, error) {
	if err := s.authz.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	mode := model.GameMode{
		Name:                strings.TrimSpace(params.Name),
		Description:         strings.TrimSpace(params.Description),
		PatternType:         params.PatternType,
		MaxPlayers:          params.MaxPlayers,
		BallIntervalSeconds: params.BallIntervalSeconds,
		Active:              params.Active,
		CreatedBy:           &adminID,
	}
	if err := s.db.WithContext(ctx).Create(&mode).Error; err != nil {
		return nil, err
	}
	logger.Log.Info("game mode created",
		zap.Int64("modeID", mode.ID),
		zap.String("pattern", string(mode.PatternType)),
	)
	return &mode, nil
}

// UpdateMode changes a mode for games opened from now on. Games already
// open keep the pattern and interval they were created with.
func (s *Service) UpdateMode(ctx context.Context, adminID, id int64, params ModeParams) (*model.GameMode, error) {
	if err := s.authz.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	if _, err := s.loadMode(ctx, id); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"name":                  strings.TrimSpace(params.Name),
		"description":           strings.TrimSpace(params.Description),
		"pattern_type":          params.PatternType,
		"max_players":           params.MaxPlayers,
		"ball_interval_seconds": params.BallIntervalSeconds,
		"active":                params.Active,
	}
	if err := s.db.WithContext(ctx).
		Model(&model.GameMode{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.loadMode(ctx, id)
}

func (s *Service) DeleteMode(ctx context.Context, adminID, id int64) error {
	if err := s.authz.RequireAdmin(ctx, adminID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rooms int64
		if err := tx.Model(&model.Room{}).Where("game_mode_id = ?", id).Count(&rooms).Error; err != nil {
			return err
		}
		if rooms > 0 {
			return appErr.ErrModeInUse
		}
		res := tx.Delete(&model.GameMode{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return appErr.ErrModeNotFound
		}
		return nil
	})
}

func (s *Service) ListRooms(ctx context.Context, page, size int) (*RoomListResult, error) {
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
		Model(&model.Room{}).
		Count(&total).Error; err != nil {
		return nil, err
	}

	rooms := make([]model.Room, 0)
	if total > 0 {
		offset := (page - 1) * size
		if err := s.db.WithContext(ctx).
			Preload("GameMode").
			Order("id DESC").
			Limit(size).
			Offset(offset).
			Find(&rooms).Error; err != nil {
			return nil, err
		}
	}

	return &RoomListResult{Items: rooms, Total: total}, nil
}

func (s *Service) CreateRoom(ctx context.Context, adminID int64, params RoomParams) (*model.Room, error) {
	if err := s.authz.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	if _, err := s.loadMode(ctx, params.GameModeID); err != nil {
		return nil, err
	}

	room := model.Room{
		Name:             strings.TrimSpace(params.Name),
		GameModeID:       params.GameModeID,
		MinPlayers:       params.MinPlayers,
		MaxPlayers:       params.MaxPlayers,
		DefaultEntryCost: params.DefaultEntryCost,
		IsActive:         params.IsActive,
		CreatedBy:        &adminID,
	}
	if err := s.db.WithContext(ctx).Create(&room).Error; err != nil {
		return nil, err
	}
	logger.Log.Info("room created",
		zap.Int64("roomID", room.ID),
		zap.Int64("modeID", room.GameModeID),
		zap.Int64("entryCost", room.DefaultEntryCost),
	)
	return s.loadRoom(ctx, room.ID)
}

// UpdateRoom replaces a room's settings. While the room has an open game
// the only accepted change is deactivation.
func (s *Service) UpdateRoom(ctx context.Context, adminID, id int64, params RoomParams) (*model.Room, error) {
	if err := s.authz.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room model.Room
		if err := tx.First(&room, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErr.ErrRoomNotFound
			}
			return err
		}
		open, err := hasOpenGame(tx, id)
		if err != nil {
			return err
		}
		if open && !onlyDeactivates(&room, params) {
			return appErr.ErrRoomBusy
		}

		var modes int64
		if err := tx.Model(&model.GameMode{}).Where("id = ?", params.GameModeID).Count(&modes).Error; err != nil {
			return err
		}
		if modes == 0 {
			return appErr.ErrModeNotFound
		}

		return tx.Model(&model.Room{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"name":               strings.TrimSpace(params.Name),
				"game_mode_id":       params.GameModeID,
				"min_players":        params.MinPlayers,
				"max_players":        params.MaxPlayers,
				"default_entry_cost": params.DefaultEntryCost,
				"is_active":          params.IsActive,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.loadRoom(ctx, id)
}

func onlyDeactivates(room *model.Room, params RoomParams) bool {
	return !params.IsActive &&
		strings.TrimSpace(params.Name) == room.Name &&
		params.GameModeID == room.GameModeID &&
		params.MinPlayers == room.MinPlayers &&
		params.MaxPlayers == room.MaxPlayers &&
		params.DefaultEntryCost == room.DefaultEntryCost
}

func (s *Service) DeleteRoom(ctx context.Context, adminID, id int64) error {
	if err := s.authz.RequireAdmin(ctx, adminID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		open, err := hasOpenGame(tx, id)
		if err != nil {
			return err
		}
		if open {
			return appErr.ErrRoomBusy
		}
		res := tx.Delete(&model.Room{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return appErr.ErrRoomNotFound
		}
		return nil
	})
}

// Lobby lists active rooms with their open game and how many have joined it.
func (s *Service) Lobby(ctx context.Context) ([]LobbyRoom, error) {
	db := s.db.WithContext(ctx)

	var rooms []model.Room
	if err := db.Preload("GameMode").
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&rooms).Error; err != nil {
		return nil, err
	}
	lobby := make([]LobbyRoom, 0, len(rooms))
	if len(rooms) == 0 {
		return lobby, nil
	}

	ids := make([]int64, len(rooms))
	for i, room := range rooms {
		ids[i] = room.ID
	}
	var games []model.Game
	if err := db.Where("open_room_id IN ?", ids).Find(&games).Error; err != nil {
		return nil, err
	}
	byRoom := make(map[int64]*model.Game, len(games))
	gameIDs := make([]int64, 0, len(games))
	for i := range games {
		byRoom[games[i].RoomID] = &games[i]
		gameIDs = append(gameIDs, games[i].ID)
	}

	type countRow struct {
		GameID  int64
		Players int64
	}
	counts := make(map[int64]int64, len(gameIDs))
	if len(gameIDs) > 0 {
		var rows []countRow
		if err := db.Model(&model.GameParticipant{}).
			Select("game_id, COUNT(*) AS players").
			Where("game_id IN ?", gameIDs).
			Group("game_id").
			Scan(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			counts[row.GameID] = row.Players
		}
	}

	for _, room := range rooms {
		entry := LobbyRoom{Room: room}
		if game, ok := byRoom[room.ID]; ok {
			entry.Game = game
			entry.Players = counts[game.ID]
		}
		lobby = append(lobby, entry)
	}
	return lobby, nil
}

func (s *Service) loadMode(ctx context.Context, id int64) (*model.GameMode, error) {
	var mode model.GameMode
	if err := s.db.WithContext(ctx).First(&mode, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrModeNotFound
		}
		return nil, err
	}
	return &mode, nil
}

func (s *Service) loadRoom(ctx context.Context, id int64) (*model.Room, error) {
	var room model.Room
	if err := s.db.WithContext(ctx).Preload("GameMode").First(&room, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func hasOpenGame(tx *gorm.DB, roomID int64) (bool, error) {
	var open int64
	if err := tx.Model(&model.Game{}).Where("open_room_id = ?", roomID).Count(&open).Error; err != nil {
		return false, err
	}
	return open > 0, nil
}
