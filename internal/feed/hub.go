package feed

import (
	"context"
	"sync"

	"bingo-service/pkg/logger"

	"go.uber.org/zap"
)

const subscriberBuffer = 16

// Hub is the in-process fan-out that websocket clients subscribe to.
type Hub struct {
	mu     sync.Mutex
	nextID int64
	topics map[string]map[int64]*Subscription
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[int64]*Subscription)}
}

type Subscription struct {
	id     int64
	topics []string
	ch     chan Event
	hub    *Hub
	once   sync.Once
}

func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		for _, topic := range s.topics {
			subs := s.hub.topics[topic]
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(s.hub.topics, topic)
			}
		}
		close(s.ch)
	})
}

func (h *Hub) Subscribe(topics ...string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		topics: topics,
		ch:     make(chan Event, subscriberBuffer),
		hub:    h,
	}
	for _, topic := range topics {
		subs, ok := h.topics[topic]
		if !ok {
			subs = make(map[int64]*Subscription)
			h.topics[topic] = subs
		}
		subs[sub.id] = sub
	}
	return sub
}

func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.topics[ev.Topic] {
		select {
		case sub.ch <- ev:
		default:
			logger.Log.Warn("feed subscriber channel full",
				zap.Int64("subscriptionID", id),
				zap.String("topic", ev.Topic),
			)
		}
	}
	return nil
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}
