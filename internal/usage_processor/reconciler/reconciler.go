package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/config"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
	"github.com/google/uuid"
)

// DepositSource lists and closes pending card deposits
type DepositSource interface {
	StaleDeposits(ctx context.Context, createdBefore time.Time, limit int) ([]*transaction.Transaction, error)
	FailDeposit(ctx context.Context, transactionID uuid.UUID, reason shared.FailureReason) (*transaction.Transaction, error)
}

// PaymentConfirmer asks the gateway for the current state of an intent and applies it
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, intentID string, caller shared.Identity) (*billing.Confirmation, error)
}

// Result counts what one reconciliation pass did
type Result struct {
	Checked int
	Applied int
	Closed  int
	Pending int
	Errors  int
}

// Reconciler settles card deposits whose webhook never arrived
type Reconciler struct {
	deposits  DepositSource
	payments  PaymentConfirmer
	logger    *slog.Logger
	interval  time.Duration
	staleAge  time.Duration
	batchSize int
	now       func() time.Time
}

func NewReconciler(cfg *config.ReconcilerConfig, deposits DepositSource, payments PaymentConfirmer, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		deposits:  deposits,
		payments:  payments,
		logger:    logger,
		interval:  cfg.Interval,
		staleAge:  cfg.StaleAge,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
}

// Start runs a pass every interval until context is canceled
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("Starting payment reconciler",
		"interval", r.interval.String(),
		"stale_age", r.staleAge.String(),
		"batch_size", r.batchSize,
	)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Payment reconciler stopping")
			return
		case <-ticker.C:
			result, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.Error("Reconciliation pass failed", "error", err)
				continue
			}
			if result.Checked > 0 {
				r.logger.Info("Reconciliation pass finished",
					"checked", result.Checked,
					"applied", result.Applied,
					"closed", result.Closed,
					"pending", result.Pending,
					"errors", result.Errors,
				)
			}
		}
	}
}

// RunOnce reconciles one batch of deposits older than the stale age. A deposit that fails
// to reconcile is logged and retried on the next pass.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	var result Result

	deposits, err := r.deposits.StaleDeposits(ctx, r.now().Add(-r.staleAge), r.batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list stale deposits: %w", err)
	}

	for _, tx := range deposits {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Checked++
		logger := r.logger.With("transaction_id", tx.ID, "account_id", tx.AccountID)

		intentID := tx.Reference()
		if intentID == "" {
			// the intent was never created at the gateway
			if _, err := r.deposits.FailDeposit(ctx, tx.ID, shared.FailureReasonGatewayUnavailable); err != nil {
				logger.Error("Failed to close unlinked deposit", "error", err)
				result.Errors++
				continue
			}
			logger.Warn("Closed deposit that never reached the gateway")
			result.Closed++
			continue
		}

		confirmation, err := r.payments.ConfirmPayment(ctx, intentID, shared.SystemIdentity)
		if err != nil {
			logger.Error("Failed to reconcile deposit", "intent_id", intentID, "error", err)
			result.Errors++
			continue
		}

		switch {
		case confirmation.Applied:
			logger.Info("Reconciled deposit applied", "intent_id", intentID)
			result.Applied++
		case confirmation.Transaction != nil && confirmation.Transaction.Status != shared.TransactionStatusPending:
			result.Closed++
		default:
			result.Pending++
		}
	}

	return result, nil
}
