package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaOptions configures the abuse-event producer.
type KafkaOptions struct {
	Brokers []string
	Topic   string
}

// QuotaEvent is the wire form of one quota event on the event stream.
type QuotaEvent struct {
	Type       string    `json:"type"`
	Identifier string    `json:"identifier"`
	At         time.Time `json:"at"`
}

// QuotaEventProducer publishes quota events (denials, degraded-mode
// transitions, admin resets) to Kafka. Writes are asynchronous: the request
// hot path must never wait on the broker, and a lost event is acceptable.
type QuotaEventProducer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewQuotaEventProducer(options KafkaOptions, logger *zap.Logger) *QuotaEventProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(options.Brokers...),
		Topic:        options.Topic,
		Balancer:     &kafka.LeastBytes{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("failed to write quota events",
					zap.Error(err),
					zap.Int("message_count", len(messages)))
			}
		},
	}

	logger.Info("quota event producer initialized",
		zap.Strings("brokers", options.Brokers),
		zap.String("topic", options.Topic))

	return &QuotaEventProducer{writer: writer, logger: logger}
}

// Publish enqueues one event. Errors are logged, never returned: event
// delivery is best effort and must not influence quota decisions.
func (p *QuotaEventProducer) Publish(ctx context.Context, event, identifier string, at time.Time) {
	payload, err := json.Marshal(QuotaEvent{Type: event, Identifier: identifier, At: at})
	if err != nil {
		p.logger.Error("failed to encode quota event", zap.Error(err))
		return
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(identifier),
		Value: payload,
	}); err != nil {
		p.logger.Error("failed to enqueue quota event",
			zap.String("event", event),
			zap.String("identifier", identifier),
			zap.Error(err))
	}
}

func (p *QuotaEventProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error("failed to close quota event producer", zap.Error(err))
		return err
	}
	p.logger.Info("quota event producer closed")
	return nil
}
