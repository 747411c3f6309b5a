package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/careguard/internal/config"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of kafka.Writer the reporter uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEventReporter ships security events to a Kafka topic, keyed by actor
// so the events of one actor stay ordered within a partition.
type KafkaEventReporter struct {
	writer MessageWriter
	logger *slog.Logger
}

func NewKafkaEventReporter(cfg config.KafkaConfig, logger *slog.Logger) (*KafkaEventReporter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.EventsTopic == "" {
		return nil, errors.New("kafka: no events topic configured")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.EventsTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Transport:              &kafka.Transport{DialTimeout: 5 * time.Second},
		AllowAutoTopicCreation: false,
		Async:                  true,
		BatchSize:              batchSize,
		BatchTimeout:           batchTimeout,
		WriteTimeout:           5 * time.Second,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("failed to deliver security events",
					slog.Int("messages", len(messages)),
					slog.Any("error", err),
				)
			}
		},
	}

	logger.Info("kafka event reporter configured",
		slog.String("topic", cfg.EventsTopic),
		slog.Int("brokers", len(cfg.Brokers)),
	)
	return NewKafkaEventReporterWithWriter(w, logger), nil
}

func NewKafkaEventReporterWithWriter(w MessageWriter, logger *slog.Logger) *KafkaEventReporter {
	return &KafkaEventReporter{writer: w, logger: logger}
}

// Report enqueues one event. With an async writer delivery errors surface
// through the completion callback, not here.
func (r *KafkaEventReporter) Report(ctx context.Context, event models.SecurityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode security event: %w", err)
	}

	key := event.Actor
	if key == "" {
		key = string(event.Type)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish security event: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (r *KafkaEventReporter) Close() error {
	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
