package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/shared"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 10 * time.Second
)

// ErrPermanent marks usage events that no retry can bill
var ErrPermanent = errors.New("usage event cannot be billed")

// permanentErrors are the charge failures caused by the event itself
var permanentErrors = []error{
	shared.ErrInvalidUsage,
	shared.ErrInvalidAmount,
	shared.ErrDuplicateIdempotencyKey,
	shared.ErrForbidden,
}

// Permanent reports whether err was caused by the event rather than by the ledger
func Permanent(err error) bool {
	if errors.Is(err, ErrPermanent) {
		return true
	}
	for _, target := range permanentErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// BalanceChargingService charges usage through the balance service. Transient failures are
// retried with exponential backoff until they succeed or ctx is done, so that one account's
// events are never billed out of order.
type BalanceChargingService struct {
	balances   billing.BalanceService
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
	timer      backoff.Timer // nil uses a real timer
}

func NewBalanceChargingService(logger *slog.Logger, balances billing.BalanceService) *BalanceChargingService {
	return &BalanceChargingService{
		balances:   balances,
		logger:     logger,
		newBackOff: chargeBackOff,
	}
}

// chargeBackOff doubles from initialBackoff up to maxBackoff and never gives up on its own
func chargeBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.MaxInterval = maxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return b
}

func (s *BalanceChargingService) ChargeUsage(ctx context.Context, event *shared.UsageEvent) (*billing.ChargeResult, error) {
	logger := s.logger.With("event_id", event.EventID.String(), "account_id", event.AccountID.String())
	if event.CorrelationID != "" {
		logger = logger.With("correlation_id", event.CorrelationID)
	}

	req := billing.ChargeRequest{
		AccountID:  event.AccountID,
		CampaignID: event.CampaignID,
		Usage: pricing.Usage{
			DurationSeconds: event.DurationSeconds,
			Destination:     event.Destination,
		},
		CallID:        event.CallID,
		CorrelationID: event.CorrelationID,
	}
	if event.EventID != uuid.Nil {
		req.EventKey = event.EventID.String()
	}

	var result *billing.ChargeResult
	attempts := 0
	charge := func() error {
		attempts++
		var err error
		result, err = s.balances.Charge(ctx, req)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, shared.ErrInsufficientBalance):
			return backoff.Permanent(err)
		case Permanent(err):
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrPermanent, err))
		}
		// a missing pricing configuration blocks billing until an admin installs one
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Charge failed, retrying",
			"attempt", attempts,
			"backoff", wait.String(),
			"error", err,
		)
	}

	err := backoff.RetryNotifyWithTimer(charge, backoff.WithContext(s.newBackOff(), ctx), notify, s.timer)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("charge abandoned after %d attempts: %w", attempts, err)
		}
		return nil, err
	}
	return result, nil
}
