// Package postgres provides PostgreSQL implementations of the domain repositories.
// Every repository runs against a persistence.Querier so the same code serves the pool
// and an open unit of work.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/campaign-billing-ledger/internal/domain/balance"
	"github.com/campaign-billing-ledger/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	balanceColumns = `account_id, balance, total_spent, version, created_at, updated_at`

	getBalanceQuery = `SELECT ` + balanceColumns + ` FROM account_balances WHERE account_id = $1`

	ensureBalanceQuery = `INSERT INTO account_balances (account_id, balance, total_spent, version, created_at, updated_at)
		VALUES ($1, 0, 0, 1, NOW(), NOW())
		ON CONFLICT (account_id) DO NOTHING`

	lockBalanceQuery = `SELECT ` + balanceColumns + ` FROM account_balances WHERE account_id = $1 FOR UPDATE`

	updateBalanceQuery = `UPDATE account_balances
		SET balance = $1, total_spent = $2, version = $3, updated_at = $4
		WHERE account_id = $5 AND version = $6`
)

// BalanceRepository implements the balance.Repository interface for PostgreSQL
type BalanceRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

func NewBalanceRepository(logger *slog.Logger, querier persistence.Querier) *BalanceRepository {
	return &BalanceRepository{
		querier: querier,
		logger:  logger,
	}
}

// WithTx binds the repository to an open transaction
func (r *BalanceRepository) WithTx(tx pgx.Tx) *BalanceRepository {
	return &BalanceRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *BalanceRepository) Get(ctx context.Context, accountID uuid.UUID) (*balance.AccountBalance, error) {
	b, err := scanBalance(r.querier.QueryRow(ctx, getBalanceQuery, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, balance.ErrBalanceNotFound{AccountID: accountID}
		}
		r.logger.Error("Failed to get account balance", "account_id", accountID.String(), "error", err)
		return nil, fmt.Errorf("failed to get account balance: %w", err)
	}
	return b, nil
}

// LockForUpdate creates the balance row on first use, then locks it. Concurrent writers for the
// same account queue on the row lock until the holder commits.
func (r *BalanceRepository) LockForUpdate(ctx context.Context, accountID uuid.UUID) (*balance.AccountBalance, error) {
	if _, err := r.querier.Exec(ctx, ensureBalanceQuery, accountID); err != nil {
		r.logger.Error("Failed to create account balance", "account_id", accountID.String(), "error", err)
		return nil, fmt.Errorf("failed to create account balance: %w", err)
	}

	b, err := scanBalance(r.querier.QueryRow(ctx, lockBalanceQuery, accountID))
	if err != nil {
		r.logger.Error("Failed to lock account balance", "account_id", accountID.String(), "error", err)
		return nil, fmt.Errorf("failed to lock account balance: %w", err)
	}
	return b, nil
}

// Update persists the aggregate if nobody changed it since it was read
func (r *BalanceRepository) Update(ctx context.Context, b *balance.AccountBalance) error {
	result, err := r.querier.Exec(ctx, updateBalanceQuery,
		b.Balance,
		b.TotalSpent,
		b.Version,
		b.UpdatedAt,
		b.AccountID,
		b.Version-1, // Check previous version for optimistic locking
	)
	if err != nil {
		r.logger.Error("Failed to update account balance", "account_id", b.AccountID.String(), "error", err)
		return fmt.Errorf("failed to update account balance: %w", err)
	}

	if result.RowsAffected() == 0 {
		return balance.ErrConcurrentModification{AccountID: b.AccountID}
	}
	return nil
}

func scanBalance(row pgx.Row) (*balance.AccountBalance, error) {
	var b balance.AccountBalance
	err := row.Scan(
		&b.AccountID,
		&b.Balance,
		&b.TotalSpent,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
