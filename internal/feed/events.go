package feed

import (
	"fmt"
	"time"

	"bingo-service/internal/model"

	"github.com/google/uuid"
)

type EventType string

const (
	EventGameCreated       EventType = "game_created"
	EventGameStarted       EventType = "game_started"
	EventGamePaused        EventType = "game_paused"
	EventGameResumed       EventType = "game_resumed"
	EventGameFinished      EventType = "game_finished"
	EventParticipantJoined EventType = "participant_joined"
	EventEntryPaid         EventType = "entry_paid"
	EventNumberCalled      EventType = "number_called"
	EventPrizeClaimed      EventType = "prize_claimed"
)

type Event struct {
	ID     string      `json:"id"`
	Topic  string      `json:"topic"`
	Type   EventType   `json:"type"`
	GameID int64       `json:"gameId"`
	Data   interface{} `json:"data,omitempty"`
	At     time.Time   `json:"at"`
}

func NewEvent(topic string, typ EventType, gameID int64, data interface{}) Event {
	return Event{
		ID:     uuid.NewString(),
		Topic:  topic,
		Type:   typ,
		GameID: gameID,
		Data:   data,
		At:     time.Now().UTC(),
	}
}

func RoomTopic(roomID int64) string {
	return fmt.Sprintf("room:%d", roomID)
}

func ParticipantsTopic(gameID int64) string {
	return fmt.Sprintf("game:%d:participants", gameID)
}

func NumbersTopic(gameID int64) string {
	return fmt.Sprintf("game:%d:numbers", gameID)
}

type GameStatusData struct {
	RoomID      int64            `json:"roomId"`
	Status      model.GameStatus `json:"status"`
	CurrentBall int              `json:"currentBall"`
	DrawnCount  int              `json:"drawnCount"`
	PrizePool   int64            `json:"prizePool"`
	WinnerID    *int64           `json:"winnerId"`
}

type ParticipantData struct {
	UserID    int64 `json:"userId"`
	PaidEntry bool  `json:"paidEntry"`
	PrizePool int64 `json:"prizePool"`
}

type NumberData struct {
	Number int    `json:"number"`
	Letter string `json:"letter"`
	Seq    int    `json:"order"`
}

// GameStatusEvent snapshots a game onto its room topic.
func GameStatusEvent(typ EventType, game *model.Game) Event {
	return NewEvent(RoomTopic(game.RoomID), typ, game.ID, GameStatusData{
		RoomID:      game.RoomID,
		Status:      game.Status,
		CurrentBall: game.CurrentBall,
		DrawnCount:  game.DrawnCount,
		PrizePool:   game.PrizePool,
		WinnerID:    game.WinnerID,
	})
}

func ParticipantEvent(typ EventType, p *model.GameParticipant, prizePool int64) Event {
	return NewEvent(ParticipantsTopic(p.GameID), typ, p.GameID, ParticipantData{
		UserID:    p.UserID,
		PaidEntry: p.PaidEntry,
		PrizePool: prizePool,
	})
}

func NumberEvent(called *model.CalledNumber) Event {
	return NewEvent(NumbersTopic(called.GameID), EventNumberCalled, called.GameID, NumberData{
		Number: called.Number,
		Letter: called.Letter,
		Seq:    called.Seq,
	})
}
