package shared

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UsageEvent is the Kafka message emitted for every completed call
type UsageEvent struct {
	EventID         uuid.UUID  `json:"event_id"`
	CallID          string     `json:"call_id,omitempty"`
	AccountID       uuid.UUID  `json:"account_id"`
	CampaignID      *uuid.UUID `json:"campaign_id,omitempty"`
	DurationSeconds int64      `json:"duration_seconds"`
	Destination     string     `json:"destination"`
	CorrelationID   string     `json:"correlation_id,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

// Key partitions events by account so one account's charges stay ordered
func (e UsageEvent) Key() string {
	return e.AccountID.String()
}

// Validate rejects events that can never be billed
func (e UsageEvent) Validate() error {
	switch {
	case e.AccountID == uuid.Nil:
		return fmt.Errorf("%w: account id is required", ErrInvalidUsage)
	case e.DurationSeconds < 0:
		return fmt.Errorf("%w: negative duration %d", ErrInvalidUsage, e.DurationSeconds)
	case len(e.CallID) > 128:
		return fmt.Errorf("%w: call id longer than 128 characters", ErrInvalidUsage)
	}
	return nil
}
