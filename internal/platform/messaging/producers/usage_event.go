package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/campaign-billing-ledger/internal/config"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/segmentio/kafka-go"
)

const correlationHeader = "correlation-id"

// UsageEventProducer publishes usage events keyed by account, so that one account's
// calls land on one partition and are charged in order.
type UsageEventProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

// NewUsageEventProducer ensures the usage topic exists and opens a synchronous writer.
// The API answers 202 only after the broker acknowledged the event.
func NewUsageEventProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*UsageEventProducer, error) {
	if cfg.UsageTopic == "" {
		return nil, fmt.Errorf("kafka usage topic is not configured")
	}

	if err := ensureTopic(ctx, logger, cfg, cfg.UsageTopic); err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.UsageTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.MaxWait,
	}

	return &UsageEventProducer{
		logger: logger.With("topic", cfg.UsageTopic),
		writer: writer,
		topic:  cfg.UsageTopic,
	}, nil
}

func (p *UsageEventProducer) PublishUsage(ctx context.Context, event shared.UsageEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal usage event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Key()),
		Value: value,
	}
	if event.CorrelationID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: correlationHeader, Value: []byte(event.CorrelationID)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish usage event",
			"event_id", event.EventID.String(),
			"account_id", event.AccountID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to publish usage event to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published usage event",
		"event_id", event.EventID.String(),
		"call_id", event.CallID,
	)
	return nil
}

func (p *UsageEventProducer) Close() error {
	p.logger.Info("Closing usage event producer")
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close usage event writer for topic %s: %w", p.topic, err)
	}
	return nil
}
