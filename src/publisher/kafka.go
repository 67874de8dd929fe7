package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams premium records to a topic keyed by symbol so each
// symbol stays ordered within its partition.
type KafkaPublisher struct {
	Writer MessageWriter
	Topic  string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewKafkaWriter(cfg models.MKafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// -----------------------------------------------------------------------------

func NewKafkaPublisher(cfg models.MKafkaConfig, writer MessageWriter, log *logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{Writer: writer, Topic: cfg.Topic, Logger: log}
}

// -----------------------------------------------------------------------------

func (p *KafkaPublisher) Name() string { return "kafka" }

// -----------------------------------------------------------------------------

func (p *KafkaPublisher) ConsumePremiums(ctx context.Context, records []models.MPremiumRecord) error {
	if len(records) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		value, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode premium %s: %w", r.Symbol, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.Symbol),
			Value: value,
			Time:  r.CalculatedAt,
		})
	}

	if err := p.Writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d premiums to %s: %w", len(msgs), p.Topic, err)
	}
	p.Logger.Debug("Published %d premiums to %s", len(msgs), p.Topic)
	return nil
}

// -----------------------------------------------------------------------------

func (p *KafkaPublisher) Close() error {
	return p.Writer.Close()
}
