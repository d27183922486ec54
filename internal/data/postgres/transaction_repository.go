package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
	"github.com/campaign-billing-ledger/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	transactionColumns = `id, account_id, campaign_id, type, billed_amount, real_amount, status, payment_method,
		external_reference, description, metadata, failure_reason, created_at, updated_at, completed_at`

	createTransactionQuery = `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getTransactionByIDQuery        = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	getTransactionByReferenceQuery = `SELECT ` + transactionColumns + ` FROM transactions WHERE external_reference = $1`
	lockTransactionByIDQuery        = getTransactionByIDQuery + ` FOR UPDATE`
	lockTransactionByReferenceQuery = getTransactionByReferenceQuery + ` FOR UPDATE`

	// Amounts are not part of the SET list: they are fixed at creation
	updateTransactionQuery = `UPDATE transactions
		SET status = $1, external_reference = $2, description = $3, metadata = $4, failure_reason = $5,
			updated_at = $6, completed_at = $7
		WHERE id = $8 AND status = 'pending'`

	listTransactionsQuery = `SELECT ` + transactionColumns + ` FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	countTransactionsQuery = `SELECT COUNT(*) FROM transactions WHERE account_id = $1`

	listPendingTransactionsQuery = `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status = 'pending' AND payment_method = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`
)

// TransactionRepository implements the transaction.Repository interface for PostgreSQL
type TransactionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewTransactionRepository(logger *slog.Logger, querier persistence.Querier) *TransactionRepository {
	return &TransactionRepository{
		querier: querier,
		logger:  logger,
	}
}

// WithTx binds the repository to an open transaction
func (r *TransactionRepository) WithTx(tx pgx.Tx) *TransactionRepository {
	return &TransactionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create inserts the transaction. A reused external reference yields ErrDuplicateReference.
func (r *TransactionRepository) Create(ctx context.Context, tx *transaction.Transaction) error {
	_, err := r.querier.Exec(ctx, createTransactionQuery,
		tx.ID,
		tx.AccountID,
		tx.CampaignID,
		tx.Type,
		tx.BilledAmount,
		tx.RealAmount,
		tx.Status,
		tx.PaymentMethod,
		tx.ExternalReference,
		tx.Description,
		metadataOrEmpty(tx.Metadata),
		tx.FailureReason,
		tx.CreatedAt,
		tx.UpdatedAt,
		tx.CompletedAt,
	)
	if err != nil {
		if _, ok := persistence.UniqueViolation(err); ok {
			return transaction.ErrDuplicateReference{Reference: tx.Reference()}
		}
		r.logger.Error("Failed to create transaction", "transaction_id", tx.ID.String(), "error", err)
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	return r.getOne(ctx, getTransactionByIDQuery, id, transaction.ErrTransactionNotFound{ID: id})
}

func (r *TransactionRepository) GetByExternalReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	return r.getOne(ctx, getTransactionByReferenceQuery, reference, transaction.ErrTransactionNotFound{Reference: reference})
}

func (r *TransactionRepository) LockByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	return r.getOne(ctx, lockTransactionByIDQuery, id, transaction.ErrTransactionNotFound{ID: id})
}

func (r *TransactionRepository) LockByExternalReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	return r.getOne(ctx, lockTransactionByReferenceQuery, reference, transaction.ErrTransactionNotFound{Reference: reference})
}

func (r *TransactionRepository) getOne(ctx context.Context, query string, arg any, notFound error) (*transaction.Transaction, error) {
	tx, err := scanTransaction(r.querier.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		r.logger.Error("Failed to get transaction", "key", fmt.Sprint(arg), "error", err)
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// Update finalizes a pending transaction. Rows that already left pending are never touched.
func (r *TransactionRepository) Update(ctx context.Context, tx *transaction.Transaction) error {
	result, err := r.querier.Exec(ctx, updateTransactionQuery,
		tx.Status,
		tx.ExternalReference,
		tx.Description,
		metadataOrEmpty(tx.Metadata),
		tx.FailureReason,
		tx.UpdatedAt,
		tx.CompletedAt,
		tx.ID,
	)
	if err != nil {
		if _, ok := persistence.UniqueViolation(err); ok {
			return transaction.ErrDuplicateReference{Reference: tx.Reference()}
		}
		r.logger.Error("Failed to update transaction", "transaction_id", tx.ID.String(), "error", err)
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("update %s: %w", tx.ID, transaction.ErrInvalidTransition)
	}
	return nil
}

// ListByAccount returns a page of the account's transactions, newest first
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*transaction.Transaction, error) {
	rows, err := r.querier.Query(ctx, listTransactionsQuery, accountID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list transactions", "account_id", accountID.String(), "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (r *TransactionRepository) CountByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var count int64
	if err := r.querier.QueryRow(ctx, countTransactionsQuery, accountID).Scan(&count); err != nil {
		r.logger.Error("Failed to count transactions", "account_id", accountID.String(), "error", err)
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// ListPending returns the oldest pending transactions of a payment method created before a cutoff
func (r *TransactionRepository) ListPending(ctx context.Context, method shared.PaymentMethod, createdBefore time.Time, limit int) ([]*transaction.Transaction, error) {
	rows, err := r.querier.Query(ctx, listPendingTransactionsQuery, method, createdBefore, limit)
	if err != nil {
		r.logger.Error("Failed to list pending transactions", "payment_method", string(method), "error", err)
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]*transaction.Transaction, error) {
	defer rows.Close()

	txs := make([]*transaction.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over transactions: %w", err)
	}
	return txs, nil
}

func scanTransaction(row pgx.Row) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	err := row.Scan(
		&tx.ID,
		&tx.AccountID,
		&tx.CampaignID,
		&tx.Type,
		&tx.BilledAmount,
		&tx.RealAmount,
		&tx.Status,
		&tx.PaymentMethod,
		&tx.ExternalReference,
		&tx.Description,
		&tx.Metadata,
		&tx.FailureReason,
		&tx.CreatedAt,
		&tx.UpdatedAt,
		&tx.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if tx.Metadata == nil {
		tx.Metadata = map[string]any{}
	}
	return &tx, nil
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
