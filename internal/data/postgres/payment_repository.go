package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	paymentColumns = `transaction_id, intent_id, account_id, amount, currency, gateway_status, commission, created_at, updated_at`

	createPaymentQuery = `INSERT INTO payment_records (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	getPaymentByIntentQuery      = `SELECT ` + paymentColumns + ` FROM payment_records WHERE intent_id = $1`
	getPaymentByTransactionQuery = `SELECT ` + paymentColumns + ` FROM payment_records WHERE transaction_id = $1`

	updatePaymentQuery = `UPDATE payment_records
		SET intent_id = $1, gateway_status = $2, commission = $3, updated_at = $4
		WHERE transaction_id = $5`
)

// PaymentRepository implements the payment.Repository interface for PostgreSQL
type PaymentRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewPaymentRepository(logger *slog.Logger, querier persistence.Querier) *PaymentRepository {
	return &PaymentRepository{
		querier: querier,
		logger:  logger,
	}
}

// WithTx binds the repository to an open transaction
func (r *PaymentRepository) WithTx(tx pgx.Tx) *PaymentRepository {
	return &PaymentRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *PaymentRepository) Create(ctx context.Context, record *payment.Record) error {
	_, err := r.querier.Exec(ctx, createPaymentQuery,
		record.TransactionID,
		record.IntentID,
		record.AccountID,
		record.Amount,
		record.Currency,
		record.GatewayStatus,
		record.Commission,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		if _, ok := persistence.UniqueViolation(err); ok {
			return fmt.Errorf("payment record for %s: %w", record.TransactionID, shared.ErrDuplicateIdempotencyKey)
		}
		r.logger.Error("Failed to create payment record", "transaction_id", record.TransactionID.String(), "error", err)
		return fmt.Errorf("failed to create payment record: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*payment.Record, error) {
	return r.getOne(ctx, getPaymentByIntentQuery, intentID, payment.ErrRecordNotFound{IntentID: intentID})
}

func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*payment.Record, error) {
	return r.getOne(ctx, getPaymentByTransactionQuery, transactionID, payment.ErrRecordNotFound{TransactionID: transactionID})
}

func (r *PaymentRepository) getOne(ctx context.Context, query string, arg any, notFound error) (*payment.Record, error) {
	var record payment.Record
	err := r.querier.QueryRow(ctx, query, arg).Scan(
		&record.TransactionID,
		&record.IntentID,
		&record.AccountID,
		&record.Amount,
		&record.Currency,
		&record.GatewayStatus,
		&record.Commission,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		r.logger.Error("Failed to get payment record", "key", fmt.Sprint(arg), "error", err)
		return nil, fmt.Errorf("failed to get payment record: %w", err)
	}
	return &record, nil
}

// Update stores the gateway linkage and status. A second transaction claiming the same intent
// is rejected by the unique index.
func (r *PaymentRepository) Update(ctx context.Context, record *payment.Record) error {
	result, err := r.querier.Exec(ctx, updatePaymentQuery,
		record.IntentID,
		record.GatewayStatus,
		record.Commission,
		record.UpdatedAt,
		record.TransactionID,
	)
	if err != nil {
		if _, ok := persistence.UniqueViolation(err); ok {
			return fmt.Errorf("intent already linked: %w", shared.ErrDuplicateIdempotencyKey)
		}
		r.logger.Error("Failed to update payment record", "transaction_id", record.TransactionID.String(), "error", err)
		return fmt.Errorf("failed to update payment record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return payment.ErrRecordNotFound{TransactionID: record.TransactionID}
	}
	return nil
}
