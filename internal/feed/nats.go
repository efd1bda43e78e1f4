package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bingo-service/pkg/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const sourceService = "bingo-service"

// Envelope wraps every event published on NATS.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	Topic         string          `json:"topic"`
	Timestamp     time.Time       `json:"timestamp"`
	SourceService string          `json:"sourceService"`
	Payload       json.RawMessage `json:"payload"`
}

func ConnectNATS(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(sourceService),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Log.Error("NATS disconnected with error", zap.Error(err))
			} else {
				logger.Log.Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NATSPublisher maps "game:7:numbers" onto subject "<prefix>.game.7.numbers".
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: prefix}
}

func Subject(prefix, topic string) string {
	subject := strings.ReplaceAll(topic, ":", ".")
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}

func NewEnvelope(ev Event) (*Envelope, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &Envelope{
		EventID:       ev.ID,
		EventType:     string(ev.Type),
		Topic:         ev.Topic,
		Timestamp:     ev.At,
		SourceService: sourceService,
		Payload:       payload,
	}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	envelope, err := NewEnvelope(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}
	subject := Subject(p.prefix, ev.Topic)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event to NATS: %w", err)
	}
	logger.Log.Debug("Published event to NATS",
		zap.String("eventID", envelope.EventID),
		zap.String("subject", subject),
	)
	return nil
}
