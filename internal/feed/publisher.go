package feed

import (
	"context"
	"errors"

	"bingo-service/pkg/logger"

	"go.uber.org/zap"
)

// Publisher delivers change notifications. The engine only ever publishes.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

func Nop() Publisher {
	return nopPublisher{}
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Transactional holds events raised inside a database transaction until
// the transaction commits. It is not safe for concurrent use; create one
// per operation.
type Transactional struct {
	target  Publisher
	pending []Event
}

func NewTransactional(target Publisher) *Transactional {
	if target == nil {
		target = Nop()
	}
	return &Transactional{target: target}
}

func (t *Transactional) Publish(_ context.Context, ev Event) error {
	t.pending = append(t.pending, ev)
	return nil
}

func (t *Transactional) Pending() int {
	return len(t.pending)
}

// Flush publishes everything queued. Delivery failures are logged; the
// state change they describe has already committed.
func (t *Transactional) Flush(ctx context.Context) {
	for _, ev := range t.pending {
		if err := t.target.Publish(ctx, ev); err != nil {
			logger.Log.Warn("Failed to publish feed event",
				zap.String("topic", ev.Topic),
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
		}
	}
	t.pending = t.pending[:0]
}

func (t *Transactional) Discard() {
	t.pending = t.pending[:0]
}
