package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/platform/messaging/producers"
	"github.com/campaign-billing-ledger/internal/usage_processor/service"
)

// UsageEventHandler bills usage events consumed from the usage topic
type UsageEventHandler struct {
	charging service.ChargingService
	producer producers.DeadLetterPublisher
	logger   *slog.Logger
}

// NewUsageEventHandler creates a new handler. producer may be nil when no DLQ is configured.
func NewUsageEventHandler(
	logger *slog.Logger,
	charging service.ChargingService,
	producer producers.DeadLetterPublisher,
) *UsageEventHandler {
	return &UsageEventHandler{
		charging: charging,
		producer: producer,
		logger:   logger,
	}
}

// HandleMessage returns nil when the message may be committed: billed, blocked by the balance,
// or parked in the DLQ. Any error leaves the offset uncommitted.
func (h *UsageEventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event shared.UsageEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return h.park(ctx, msg, fmt.Sprintf("undecodable usage event: %s", err))
	}
	if err := event.Validate(); err != nil {
		return h.park(ctx, msg, err.Error())
	}

	logger := h.logger.With(
		"event_id", event.EventID.String(),
		"account_id", event.AccountID.String(),
		"call_id", event.CallID,
	)
	if event.CorrelationID != "" {
		logger = logger.With("correlation_id", event.CorrelationID)
	}

	result, err := h.charging.ChargeUsage(ctx, &event)
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrInsufficientBalance):
		// The failed charge row is already recorded for the account owner to see
		logger.Warn("Usage not billed, balance too low", "error", err)
		return nil
	case service.Permanent(err):
		logger.Error("Usage event cannot be billed", "error", err)
		return h.park(ctx, msg, err.Error())
	default:
		return fmt.Errorf("charging usage event %s failed: %w", event.EventID, err)
	}

	switch {
	case result.Skipped:
		logger.Info("Usage has no billable cost", "duration_seconds", event.DurationSeconds)
	case result.Replayed:
		logger.Info("Usage event already billed", "transaction_id", result.Transaction.ID.String())
	default:
		logger.Info("Usage billed",
			"transaction_id", result.Transaction.ID.String(),
			"billed", result.Cost.Billed.String(),
		)
	}
	return nil
}

// park moves a message the processor gave up on to the DLQ. Without a DLQ the event is
// logged and dropped so that it does not block its partition.
func (h *UsageEventHandler) park(ctx context.Context, msg kafka.Message, reason string) error {
	key := string(msg.Key)
	if h.producer == nil {
		h.logger.Error("Dropping unbillable usage event, no DLQ configured",
			"message_key", key,
			"offset", msg.Offset,
			"reason", reason,
		)
		return nil
	}

	err := h.producer.PublishToDLQ(ctx, key, msg.Value, reason)
	if errors.Is(err, producers.ErrDLQDisabled) {
		h.logger.Error("Dropping unbillable usage event, DLQ disabled", "message_key", key, "reason", reason)
		return nil
	}
	if err != nil {
		h.logger.Error("Failed to park usage event in DLQ", "message_key", key, "reason", reason, "dlq_error", err)
		return fmt.Errorf("failed to park usage event: %w", err)
	}

	h.logger.Info("Parked unbillable usage event in DLQ", "message_key", key, "reason", reason)
	return nil
}
