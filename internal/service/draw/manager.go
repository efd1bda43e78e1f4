package draw

import (
	"context"
	"errors"
	"sync"
	"time"

	appErr "bingo-service/pkg/errors"
	"bingo-service/pkg/logger"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// ExhaustedFunc is called from the runner goroutine once every number has
// been drawn without a winner.
type ExhaustedFunc func(ctx context.Context, gameID int64)

// IntervalFunc converts a game's configured seconds into a tick period.
type IntervalFunc func(seconds int) time.Duration

func SecondsInterval(seconds int) time.Duration {
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

// Manager owns at most one draw runner per game id.
type Manager struct {
	drawer      *Drawer
	lease       Lease
	interval    IntervalFunc
	onExhausted ExhaustedFunc

	mu      sync.Mutex
	runners map[int64]*runner
	wg      conc.WaitGroup
}

type runner struct {
	gameID  int64
	seconds int
	paused  bool
	cancel  context.CancelFunc
}

func NewManager(drawer *Drawer, lease Lease, interval IntervalFunc) *Manager {
	if lease == nil {
		lease = LocalLease{}
	}
	if interval == nil {
		interval = SecondsInterval
	}
	return &Manager{
		drawer:   drawer,
		lease:    lease,
		interval: interval,
		runners:  make(map[int64]*runner),
	}
}

func (m *Manager) OnExhausted(fn ExhaustedFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExhausted = fn
}

// Start launches the runner for gameID. It returns false when one is
// already registered, paused or not.
func (m *Manager) Start(gameID int64, seconds int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runners[gameID]; ok {
		return false
	}
	r := &runner{gameID: gameID, seconds: seconds}
	m.runners[gameID] = r
	m.launchLocked(r)
	logger.Log.Info("draw scheduler started",
		zap.Int64("gameID", gameID),
		zap.Int("intervalSeconds", seconds),
	)
	return true
}

// Pause cancels the pending tick. Nothing is written.
func (m *Manager) Pause(gameID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runners[gameID]
	if !ok || r.paused {
		return false
	}
	r.cancel()
	r.paused = true
	logger.Log.Info("draw scheduler paused", zap.Int64("gameID", gameID))
	return true
}

// Resume restarts a paused runner with a full interval before the next draw.
func (m *Manager) Resume(gameID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runners[gameID]
	if !ok || !r.paused {
		return false
	}
	r.paused = false
	m.launchLocked(r)
	logger.Log.Info("draw scheduler resumed", zap.Int64("gameID", gameID))
	return true
}

// Stop cancels and forgets the runner. It does not wait for an in-flight
// draw, so it is safe to call from the runner itself.
func (m *Manager) Stop(gameID int64) {
	m.mu.Lock()
	r, ok := m.runners[gameID]
	if ok {
		delete(m.runners, gameID)
		r.cancel()
	}
	m.mu.Unlock()

	if ok {
		m.lease.Release(context.Background(), gameID)
		m.drawer.Forget(gameID)
		logger.Log.Info("draw scheduler stopped", zap.Int64("gameID", gameID))
	}
}

// StopAll cancels every runner and waits for them to exit.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.runners))
	for id := range m.runners {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
	m.wg.Wait()
}

func (m *Manager) Running(gameID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runners[gameID]
	return ok && !r.paused
}

func (m *Manager) Paused(gameID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runners[gameID]
	return ok && r.paused
}

func (m *Manager) launchLocked(r *runner) {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	period := m.interval(r.seconds)
	m.wg.Go(func() {
		m.run(ctx, r, period)
	})
}

func (m *Manager) run(ctx context.Context, r *runner, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		held, err := m.lease.Acquire(ctx, r.gameID)
		if err != nil {
			logger.Log.Warn("draw lease error", zap.Int64("gameID", r.gameID), zap.Error(err))
			continue
		}
		if !held {
			logger.Log.Debug("draw lease held elsewhere", zap.Int64("gameID", r.gameID))
			continue
		}

		_, err = m.drawer.DrawNext(ctx, r.gameID)
		switch {
		case err == nil:
		case errors.Is(err, appErr.ErrPoolExhausted):
			logger.Log.Info("number pool exhausted", zap.Int64("gameID", r.gameID))
			m.mu.Lock()
			fn := m.onExhausted
			m.mu.Unlock()
			if fn != nil {
				fn(context.WithoutCancel(ctx), r.gameID)
			}
			m.stopRunner(r)
			return
		case errors.Is(err, appErr.ErrGameNotInProgress), errors.Is(err, appErr.ErrGameNotFound):
			m.stopRunner(r)
			return
		case ctx.Err() != nil:
			return
		default:
			logger.Log.Warn("draw failed, retrying next tick",
				zap.Int64("gameID", r.gameID),
				zap.Error(err),
			)
		}
	}
}

// stopRunner removes r only if it is still the registered runner.
func (m *Manager) stopRunner(r *runner) {
	m.mu.Lock()
	current, ok := m.runners[r.gameID]
	m.mu.Unlock()
	if ok && current == r {
		m.Stop(r.gameID)
	}
}
