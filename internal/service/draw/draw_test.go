package draw_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"bingo-service/internal/feed"
	"bingo-service/internal/feed/feedtest"
	"bingo-service/internal/model"
	"bingo-service/internal/service/card"
	"bingo-service/internal/service/draw"
	"bingo-service/internal/testutil"
	appErr "bingo-service/pkg/errors"
	"bingo-service/pkg/utils/random"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newGame(t *testing.T, db *gorm.DB, status model.GameStatus) *model.Game {
	t.Helper()
	mode := testutil.CreateMode(t, db, model.PatternFullCard, 1)
	room := testutil.CreateRoom(t, db, mode, 1, 0)
	return testutil.CreateGame(t, db, room, status)
}

func calledNumbers(t *testing.T, db *gorm.DB, gameID int64) []model.CalledNumber {
	t.Helper()
	var rows []model.CalledNumber
	require.NoError(t, db.Where("game_id = ?", gameID).Order("seq ASC").Find(&rows).Error)
	return rows
}

func drawnCount(db *gorm.DB, gameID int64) int {
	var game model.Game
	if err := db.Select("drawn_count").First(&game, gameID).Error; err != nil {
		return -1
	}
	return game.DrawnCount
}

func assertGapless(t *testing.T, rows []model.CalledNumber) {
	t.Helper()
	seen := map[int]bool{}
	for i, row := range rows {
		assert.Equal(t, i+1, row.Seq)
		assert.False(t, seen[row.Number], "number %d drawn twice", row.Number)
		seen[row.Number] = true
		assert.Equal(t, card.Letter(row.Number), row.Letter)
	}
}

func TestDrawAllSeventyFive(t *testing.T) {
	db := testutil.NewDB(t)
	rec := &feedtest.Recorder{}
	drawer := draw.NewDrawer(db, random.Seeded(1), rec)
	game := newGame(t, db, model.GameInProgress)
	ctx := context.Background()

	for i := 1; i <= card.BallCount; i++ {
		res, err := drawer.DrawNext(ctx, game.ID)
		require.NoError(t, err)
		assert.Equal(t, i, res.Called.Seq)
		assert.Equal(t, res.Called.Number, res.Game.CurrentBall)
	}
	_, err := drawer.DrawNext(ctx, game.ID)
	require.ErrorIs(t, err, appErr.ErrPoolExhausted)

	rows := calledNumbers(t, db, game.ID)
	require.Len(t, rows, card.BallCount)
	assertGapless(t, rows)

	stored := testutil.ReloadGame(t, db, game.ID)
	assert.Equal(t, card.BallCount, stored.DrawnCount)
	assert.Equal(t, rows[len(rows)-1].Number, stored.CurrentBall)

	assert.Len(t, rec.OfType(feed.EventNumberCalled), 2*card.BallCount)
}

func TestDrawRequiresInProgress(t *testing.T) {
	db := testutil.NewDB(t)
	drawer := draw.NewDrawer(db, random.Seeded(2), nil)
	game := newGame(t, db, model.GameWaiting)

	_, err := drawer.DrawNext(context.Background(), game.ID)
	require.ErrorIs(t, err, appErr.ErrGameNotInProgress)
	_, err = drawer.DrawNext(context.Background(), 4242)
	require.ErrorIs(t, err, appErr.ErrGameNotFound)
}

func TestFailedDrawDoesNotAdvance(t *testing.T) {
	db := testutil.NewDB(t)
	rec := &feedtest.Recorder{}
	drawer := draw.NewDrawer(db, random.Seeded(3), rec)
	game := newGame(t, db, model.GameInProgress)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := drawer.DrawNext(cancelled, game.ID)
	require.Error(t, err)
	assert.Empty(t, calledNumbers(t, db, game.ID))
	assert.Equal(t, 0, testutil.ReloadGame(t, db, game.ID).DrawnCount)
	assert.Empty(t, rec.Events())

	res, err := drawer.DrawNext(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Called.Seq)
}

func TestConcurrentDrawsStayGapless(t *testing.T) {
	db := testutil.NewDB(t)
	drawer := draw.NewDrawer(db, random.NewLocked(random.Seeded(4)), nil)
	game := newGame(t, db, model.GameInProgress)
	ctx := context.Background()

	var wg conc.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Go(func() {
			if _, err := drawer.DrawNext(ctx, game.ID); err == nil {
				ok.Add(1)
			}
		})
	}
	wg.Wait()

	rows := calledNumbers(t, db, game.ID)
	assert.Len(t, rows, int(ok.Load()))
	assert.Len(t, rows, 20)
	assertGapless(t, rows)
}

func fastInterval(int) time.Duration { return 2 * time.Millisecond }

func TestManagerDrawsUntilExhausted(t *testing.T) {
	db := testutil.NewDB(t)
	drawer := draw.NewDrawer(db, random.Seeded(5), nil)
	mgr := draw.NewManager(drawer, draw.LocalLease{}, fastInterval)
	t.Cleanup(mgr.StopAll)
	game := newGame(t, db, model.GameInProgress)

	var exhausted atomic.Int64
	mgr.OnExhausted(func(ctx context.Context, gameID int64) {
		exhausted.Store(gameID)
	})

	require.True(t, mgr.Start(game.ID, game.BallIntervalSeconds))
	require.False(t, mgr.Start(game.ID, game.BallIntervalSeconds))

	require.Eventually(t, func() bool {
		return exhausted.Load() == game.ID
	}, 5*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !mgr.Running(game.ID) }, time.Second, 5*time.Millisecond)

	rows := calledNumbers(t, db, game.ID)
	require.Len(t, rows, card.BallCount)
	assertGapless(t, rows)
}

func TestManagerPauseAndResume(t *testing.T) {
	db := testutil.NewDB(t)
	drawer := draw.NewDrawer(db, random.Seeded(6), nil)
	mgr := draw.NewManager(drawer, nil, func(int) time.Duration { return 10 * time.Millisecond })
	t.Cleanup(mgr.StopAll)
	game := newGame(t, db, model.GameInProgress)

	require.True(t, mgr.Start(game.ID, 1))
	require.Eventually(t, func() bool {
		return drawnCount(db, game.ID) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, mgr.Pause(game.ID))
	assert.False(t, mgr.Pause(game.ID))
	assert.True(t, mgr.Paused(game.ID))

	// let any in-flight draw settle before sampling
	time.Sleep(30 * time.Millisecond)
	frozen := testutil.ReloadGame(t, db, game.ID).DrawnCount
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, frozen, testutil.ReloadGame(t, db, game.ID).DrawnCount)

	require.True(t, mgr.Resume(game.ID))
	assert.True(t, mgr.Running(game.ID))
	require.Eventually(t, func() bool {
		return drawnCount(db, game.ID) > frozen
	}, 2*time.Second, 5*time.Millisecond)

	mgr.Stop(game.ID)
	assert.False(t, mgr.Running(game.ID))
	assertGapless(t, calledNumbers(t, db, game.ID))
}

func TestManagerStopsWhenGameFinishes(t *testing.T) {
	db := testutil.NewDB(t)
	drawer := draw.NewDrawer(db, random.Seeded(7), nil)
	mgr := draw.NewManager(drawer, nil, fastInterval)
	t.Cleanup(mgr.StopAll)
	game := newGame(t, db, model.GameInProgress)

	require.True(t, mgr.Start(game.ID, 1))
	require.NoError(t, db.Model(&model.Game{}).Where("id = ?", game.ID).Update("status", model.GameFinished).Error)

	assert.Eventually(t, func() bool { return !mgr.Running(game.ID) }, 2*time.Second, 5*time.Millisecond)
}
