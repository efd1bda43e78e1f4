package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Amounts (balances, costs, pools) are int64 minor units.

const (
	RolePlayer = "player"
	RoleAdmin  = "admin"
)

type User struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Phone           string    `gorm:"uniqueIndex;size:32;not null" json:"phone"`
	PasswordHash    string    `gorm:"not null" json:"-"`
	FullName        string    `gorm:"size:128" json:"fullName"`
	Role            string    `gorm:"size:16;not null;default:player" json:"role"`
	Balance         int64     `gorm:"not null;default:0" json:"balance"`
	StartingBalance int64     `gorm:"not null;default:0" json:"-"`
	Points          int64     `gorm:"not null;default:0" json:"points"`
	Wins            int       `gorm:"not null;default:0" json:"wins"`
	GamesPlayed     int       `gorm:"not null;default:0" json:"gamesPlayed"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Game modes

type PatternType string

const (
	PatternHorizontalLine PatternType = "horizontal_line"
	PatternVerticalLine   PatternType = "vertical_line"
	PatternDiagonal       PatternType = "diagonal"
	PatternFourCorners    PatternType = "four_corners"
	PatternFullCard       PatternType = "full_card"
	PatternX              PatternType = "x_pattern"
)

var Patterns = []PatternType{
	PatternHorizontalLine,
	PatternVerticalLine,
	PatternDiagonal,
	PatternFourCorners,
	PatternFullCard,
	PatternX,
}

func (p PatternType) Valid() bool {
	for _, known := range Patterns {
		if p == known {
			return true
		}
	}
	return false
}

type GameMode struct {
	ID                  int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                string      `gorm:"size:64;not null" json:"name"`
	Description         string      `gorm:"size:255" json:"description"`
	PatternType         PatternType `gorm:"size:32;not null" json:"patternType"`
	MaxPlayers          int         `gorm:"not null" json:"maxPlayers"`
	BallIntervalSeconds int         `gorm:"not null" json:"ballIntervalSeconds"`
	Active              bool        `gorm:"not null" json:"active"`
	CreatedBy           *int64      `json:"createdBy,omitempty"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

type Room struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name             string    `gorm:"size:64;not null" json:"name"`
	GameModeID       int64     `gorm:"index;not null" json:"gameModeId"`
	GameMode         *GameMode `gorm:"foreignKey:GameModeID" json:"gameMode,omitempty"`
	MinPlayers       int       `gorm:"not null" json:"minPlayers"`
	MaxPlayers       int       `gorm:"not null" json:"maxPlayers"`
	DefaultEntryCost int64     `gorm:"not null" json:"defaultEntryCost"`
	IsActive         bool      `gorm:"not null" json:"isActive"`
	CreatedBy        *int64    `json:"createdBy,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Games

type GameStatus string

const (
	GameWaiting    GameStatus = "waiting"
	GameInProgress GameStatus = "in_progress"
	GameFinished   GameStatus = "finished"
)

func (s GameStatus) Open() bool {
	return s == GameWaiting || s == GameInProgress
}

// Game is one round in a room. OpenRoomID mirrors RoomID while the game is
// open and is cleared on finish; its unique index keeps one open game per room.
type Game struct {
	ID                  int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID              int64       `gorm:"index;not null" json:"roomId"`
	OpenRoomID          *int64      `gorm:"uniqueIndex" json:"-"`
	GameModeID          int64       `gorm:"not null" json:"gameModeId"`
	PatternType         PatternType `gorm:"size:32;not null" json:"patternType"`
	BallIntervalSeconds int         `gorm:"not null" json:"ballIntervalSeconds"`
	Status              GameStatus  `gorm:"size:16;index;not null" json:"status"`
	CurrentBall         int         `gorm:"not null;default:0" json:"currentBall"`
	DrawnCount          int         `gorm:"not null;default:0" json:"drawnCount"`
	EntryCost           int64       `gorm:"not null" json:"entryCost"`
	PrizePool           int64       `gorm:"not null;default:0" json:"prizePool"`
	WinnerID            *int64      `json:"winnerId"`
	WinPattern          PatternType `gorm:"size:32" json:"winPattern,omitempty"`
	StartedAt           *time.Time  `json:"startedAt"`
	FinishedAt          *time.Time  `json:"finishedAt"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

type GameParticipant struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	GameID    int64      `gorm:"uniqueIndex:idx_participant_game_user;not null" json:"gameId"`
	UserID    int64      `gorm:"uniqueIndex:idx_participant_game_user;not null" json:"userId"`
	IsReady   bool       `gorm:"not null" json:"isReady"`
	PaidEntry bool       `gorm:"not null" json:"paidEntry"`
	PaidAt    *time.Time `json:"paidAt,omitempty"`
	JoinedAt  time.Time  `json:"joinedAt"`
	User      *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

type BingoCard struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	GameID        int64          `gorm:"uniqueIndex:idx_card_game_user;not null" json:"gameId"`
	UserID        int64          `gorm:"uniqueIndex:idx_card_game_user;not null" json:"userId"`
	Numbers       datatypes.JSON `json:"numbers"`
	MarkedNumbers datatypes.JSON `json:"markedNumbers"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func (c *BingoCard) Grid() ([5][5]int, error) {
	var grid [5][5]int
	err := json.Unmarshal(c.Numbers, &grid)
	return grid, err
}

func (c *BingoCard) Marked() ([]int, error) {
	marked := []int{}
	if len(c.MarkedNumbers) == 0 {
		return marked, nil
	}
	err := json.Unmarshal(c.MarkedNumbers, &marked)
	return marked, err
}

type CalledNumber struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	GameID   int64     `gorm:"uniqueIndex:idx_called_game_number;uniqueIndex:idx_called_game_seq;not null" json:"gameId"`
	Number   int       `gorm:"uniqueIndex:idx_called_game_number;not null" json:"number"`
	Letter   string    `gorm:"size:1;not null" json:"letter"`
	Seq      int       `gorm:"uniqueIndex:idx_called_game_seq;not null" json:"order"`
	CalledAt time.Time `json:"calledAt"`
}

// Ledger

type TransactionType string

const (
	TxDeposit  TransactionType = "deposit"
	TxEntryFee TransactionType = "entry_fee"
	TxPrizeWin TransactionType = "prize_win"
	TxRefund   TransactionType = "refund"
)

// Transaction is one immutable balance movement. Amount is always positive;
// the sign comes from Type.
type Transaction struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       int64           `gorm:"index;not null" json:"userId"`
	GameID       *int64          `gorm:"index" json:"gameId,omitempty"`
	Type         TransactionType `gorm:"size:16;not null" json:"type"`
	Amount       int64           `gorm:"not null" json:"amount"`
	BalanceAfter int64           `gorm:"not null" json:"balanceAfter"`
	Description  string          `gorm:"size:255" json:"description"`
	MetaJSON     datatypes.JSON  `json:"meta,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (t Transaction) SignedAmount() int64 {
	if t.Type == TxEntryFee {
		return -t.Amount
	}
	return t.Amount
}

// All lists every table in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&GameMode{},
		&Room{},
		&Game{},
		&GameParticipant{},
		&BingoCard{},
		&CalledNumber{},
		&Transaction{},
	}
}
