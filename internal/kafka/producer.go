package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/spec-kit/lms-api/internal/events"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// auditMessage is the Kafka message payload for audit events.
type auditMessage struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Actor     events.Actor    `json:"actor"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Producer forwards audit events to a Kafka topic.
type Producer struct {
	writer messageWriter
	logger *zap.Logger
}

// NewProducer creates an asynchronous writer for topic. Delivery failures are
// logged from the writer's completion callback.
func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		BatchTimeout:           100 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("audit events not delivered to kafka", zap.Int("count", len(messages)), zap.Error(err))
			}
		},
	}
	return newProducer(writer, logger)
}

func newProducer(w messageWriter, logger *zap.Logger) *Producer {
	return &Producer{writer: w, logger: logger}
}

// Send encodes the event and hands it to the writer keyed by the actor so one
// subject's events stay ordered.
func (p *Producer) Send(ctx context.Context, event events.Event) error {
	msg, err := encode(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

// Close flushes pending messages.
func (p *Producer) Close() {
	if err := p.writer.Close(); err != nil {
		p.logger.Warn("error closing kafka writer", zap.Error(err))
	}
}

func encode(event events.Event) (kafka.Message, error) {
	var payload json.RawMessage
	if event.Payload != nil {
		raw, err := json.Marshal(event.Payload)
		if err != nil {
			return kafka.Message{}, err
		}
		payload = raw
	}

	value, err := json.Marshal(auditMessage{
		ID:        event.ID,
		EventType: string(event.Type),
		Actor:     event.Actor,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return kafka.Message{}, err
	}

	key := event.Actor.SubjectID
	if key == "" {
		key = event.Actor.IP
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}, nil
}
