// Package messaging forwards record events to external consumers.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexuscrm/mycrm/internal/config"
	"github.com/nexuscrm/mycrm/internal/domain/events"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the subset of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes record events to one topic, keyed by tenant so a
// tenant's events stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewKafkaSink(cfg config.KafkaConfig, logger *zap.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}
	return newKafkaSink(w, cfg.Topic, logger)
}

func newKafkaSink(w messageWriter, topic string, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic, logger: logger}
}

// Publish writes one event. It is registered as an event bus handler, so a
// returned error leaves the outbox event pending for another attempt.
func (s *KafkaSink) Publish(ctx context.Context, event *events.RecordEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.TenantID),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "entity", Value: []byte(event.Entity)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish to %s failed: %w", s.topic, err)
	}
	s.logger.Debug("Published record event",
		zap.String("topic", s.topic),
		zap.String("type", string(event.Type)),
		zap.String("record_id", event.RecordID))
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
