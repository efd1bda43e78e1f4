package feedtest

import (
	"context"
	"sync"

	"bingo-service/internal/feed"

	"github.com/stretchr/testify/mock"
)

// MockPublisher is a testify mock of feed.Publisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, ev feed.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

// Recorder keeps every published event for later inspection.
type Recorder struct {
	mu     sync.Mutex
	events []feed.Event
}

func (r *Recorder) Publish(_ context.Context, ev feed.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []feed.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]feed.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) OfType(typ feed.EventType) []feed.Event {
	var out []feed.Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
