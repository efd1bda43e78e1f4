package draw

import (
	"context"
	"errors"
	"sync"
	"time"

	"bingo-service/internal/feed"
	"bingo-service/internal/model"
	"bingo-service/internal/service/card"
	appErr "bingo-service/pkg/errors"
	"bingo-service/pkg/logger"
	"bingo-service/pkg/utils/random"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Drawer persists one unused number per call. Calls for the same game are
// serialised so sequence numbers stay gapless.
type Drawer struct {
	db    *gorm.DB
	src   random.Source
	feed  feed.Publisher
	locks sync.Map
}

func NewDrawer(db *gorm.DB, src random.Source, publisher feed.Publisher) *Drawer {
	if publisher == nil {
		publisher = feed.Nop()
	}
	return &Drawer{db: db, src: src, feed: publisher}
}

type Result struct {
	Called model.CalledNumber
	Game   model.Game
}

func (d *Drawer) gameLock(gameID int64) *sync.Mutex {
	mu, _ := d.locks.LoadOrStore(gameID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Forget drops the per-game lock once a game can no longer be drawn.
func (d *Drawer) Forget(gameID int64) {
	d.locks.Delete(gameID)
}

// DrawNext picks a number uniformly from those not yet called, stores it
// with the next sequence order and advances the game's current ball. On
// any failure nothing is written. ErrPoolExhausted means all 75 are out.
func (d *Drawer) DrawNext(ctx context.Context, gameID int64) (*Result, error) {
	mu := d.gameLock(gameID)
	mu.Lock()
	defer mu.Unlock()

	events := feed.NewTransactional(d.feed)
	var result Result
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var game model.Game
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&game, gameID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErr.ErrGameNotFound
			}
			return err
		}
		if game.Status != model.GameInProgress {
			return appErr.ErrGameNotInProgress
		}

		var called []int
		if err := tx.Model(&model.CalledNumber{}).
			Where("game_id = ?", gameID).
			Pluck("number", &called).Error; err != nil {
			return err
		}
		if len(called) >= card.BallCount {
			return appErr.ErrPoolExhausted
		}

		number := d.pick(called)
		seq := len(called) + 1
		record := model.CalledNumber{
			GameID:   gameID,
			Number:   number,
			Letter:   card.Letter(number),
			Seq:      seq,
			CalledAt: time.Now(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		res := tx.Model(&model.Game{}).
			Where("id = ? AND status = ? AND drawn_count = ?", gameID, model.GameInProgress, len(called)).
			Updates(map[string]interface{}{
				"current_ball": number,
				"drawn_count":  seq,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return appErr.ErrGameNotInProgress
		}

		game.CurrentBall = number
		game.DrawnCount = seq
		result = Result{Called: record, Game: game}

		_ = events.Publish(ctx, feed.NumberEvent(&record))
		_ = events.Publish(ctx, feed.GameStatusEvent(feed.EventNumberCalled, &game))
		return nil
	})
	if err != nil {
		events.Discard()
		return nil, err
	}
	events.Flush(ctx)

	logger.Log.Debug("number drawn",
		zap.Int64("gameID", gameID),
		zap.Int("number", result.Called.Number),
		zap.Int("order", result.Called.Seq),
	)
	return &result, nil
}

func (d *Drawer) pick(called []int) int {
	used := make(map[int]bool, len(called))
	for _, n := range called {
		used[n] = true
	}
	remaining := make([]int, 0, card.BallCount-len(called))
	for n := 1; n <= card.BallCount; n++ {
		if !used[n] {
			remaining = append(remaining, n)
		}
	}
	return remaining[d.src.IntN(len(remaining))]
}
