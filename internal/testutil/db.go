package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"bingo-service/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory sqlite database for t and migrates every model.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	// one connection keeps the shared-cache database alive and serialises writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func CreateUser(t *testing.T, db *gorm.DB, phone string, balance int64) *model.User {
	t.Helper()
	return createUser(t, db, phone, balance, model.RolePlayer)
}

func CreateAdmin(t *testing.T, db *gorm.DB, phone string) *model.User {
	t.Helper()
	return createUser(t, db, phone, 0, model.RoleAdmin)
}

func createUser(t *testing.T, db *gorm.DB, phone string, balance int64, role string) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("Secret@123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	user := &model.User{
		Phone:           phone,
		PasswordHash:    string(hash),
		FullName:        "Tester " + phone,
		Role:            role,
		Balance:         balance,
		StartingBalance: balance,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to insert user: %v", err)
	}
	return user
}

func CreateMode(t *testing.T, db *gorm.DB, p model.PatternType, intervalSeconds int) *model.GameMode {
	t.Helper()
	mode := &model.GameMode{
		Name:                string(p),
		PatternType:         p,
		MaxPlayers:          50,
		BallIntervalSeconds: intervalSeconds,
		Active:              true,
	}
	if err := db.Create(mode).Error; err != nil {
		t.Fatalf("failed to insert game mode: %v", err)
	}
	return mode
}

func CreateRoom(t *testing.T, db *gorm.DB, mode *model.GameMode, minPlayers int, entryCost int64) *model.Room {
	t.Helper()
	room := &model.Room{
		Name:             fmt.Sprintf("room-%d", mode.ID),
		GameModeID:       mode.ID,
		MinPlayers:       minPlayers,
		MaxPlayers:       mode.MaxPlayers,
		DefaultEntryCost: entryCost,
		IsActive:         true,
	}
	if err := db.Create(room).Error; err != nil {
		t.Fatalf("failed to insert room: %v", err)
	}
	return room
}

// CreateGame inserts an open game with the given participants already joined.
func CreateGame(t *testing.T, db *gorm.DB, room *model.Room, status model.GameStatus, userIDs ...int64) *model.Game {
	t.Helper()
	var mode model.GameMode
	if err := db.First(&mode, room.GameModeID).Error; err != nil {
		t.Fatalf("failed to load mode: %v", err)
	}
	game := &model.Game{
		RoomID:              room.ID,
		GameModeID:          mode.ID,
		PatternType:         mode.PatternType,
		BallIntervalSeconds: mode.BallIntervalSeconds,
		Status:              status,
		EntryCost:           room.DefaultEntryCost,
	}
	if status.Open() {
		roomID := room.ID
		game.OpenRoomID = &roomID
	}
	if err := db.Create(game).Error; err != nil {
		t.Fatalf("failed to insert game: %v", err)
	}
	for _, uid := range userIDs {
		Join(t, db, game.ID, uid)
	}
	return game
}

func Join(t *testing.T, db *gorm.DB, gameID, userID int64) *model.GameParticipant {
	t.Helper()
	p := &model.GameParticipant{GameID: gameID, UserID: userID, JoinedAt: time.Now()}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("failed to insert participant: %v", err)
	}
	return p
}

func ReloadUser(t *testing.T, db *gorm.DB, id int64) *model.User {
	t.Helper()
	var user model.User
	if err := db.WithContext(context.Background()).First(&user, id).Error; err != nil {
		t.Fatalf("failed to reload user %d: %v", id, err)
	}
	return &user
}

func ReloadGame(t *testing.T, db *gorm.DB, id int64) *model.Game {
	t.Helper()
	var game model.Game
	if err := db.First(&game, id).Error; err != nil {
		t.Fatalf("failed to reload game %d: %v", id, err)
	}
	return &game
}

// AllowAll is an authorizer that admits every caller.
type AllowAll struct{}

func (AllowAll) RequireAdmin(context.Context, int64) error { return nil }
