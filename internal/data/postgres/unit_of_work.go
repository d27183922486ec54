package postgres

import (
	"context"
	"log/slog"

	"github.com/campaign-billing-ledger/internal/domain/balance"
	"github.com/campaign-billing-ledger/internal/domain/outbox"
	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
	"github.com/campaign-billing-ledger/internal/platform/persistence"
	"github.com/campaign-billing-ledger/internal/store"
	"github.com/jackc/pgx/v5"
)

var (
	_ store.UnitOfWork       = (*UnitOfWork)(nil)
	_ balance.Repository     = (*BalanceRepository)(nil)
	_ transaction.Repository = (*TransactionRepository)(nil)
	_ payment.Repository     = (*PaymentRepository)(nil)
	_ pricing.Repository     = (*PricingRepository)(nil)
	_ pricing.RateRepository = (*PricingRepository)(nil)
	_ outbox.Repository      = (*OutboxRepository)(nil)
)

// UnitOfWork runs store units as PostgreSQL transactions
type UnitOfWork struct {
	beginner     persistence.TxBeginner
	balances     *BalanceRepository
	transactions *TransactionRepository
	payments     *PaymentRepository
	pricing      *PricingRepository
	outbox       *OutboxRepository
}

// DB is a pool that can also start transactions
type DB interface {
	persistence.Querier
	persistence.TxBeginner
}

func NewUnitOfWork(logger *slog.Logger, db DB) *UnitOfWork {
	return &UnitOfWork{
		beginner:     db,
		balances:     NewBalanceRepository(logger, db),
		transactions: NewTransactionRepository(logger, db),
		payments:     NewPaymentRepository(logger, db),
		pricing:      NewPricingRepository(logger, db),
		outbox:       NewOutboxRepository(logger, db),
	}
}

// Within runs fn in one database transaction
func (u *UnitOfWork) Within(ctx context.Context, fn func(ctx context.Context, repos store.Repositories) error) error {
	return persistence.ExecuteTx(ctx, u.beginner, func(tx pgx.Tx) error {
		return fn(ctx, store.Repositories{
			Balances:     u.balances.WithTx(tx),
			Transactions: u.transactions.WithTx(tx),
			Payments:     u.payments.WithTx(tx),
			Pricing:      u.pricing.WithTx(tx),
			Outbox:       u.outbox.WithTx(tx),
		})
	})
}

// Transactions is the non-transactional read side of the transaction log
func (u *UnitOfWork) Transactions() *TransactionRepository {
	return u.transactions
}

// Balances is the non-transactional read side of the balance aggregate
func (u *UnitOfWork) Balances() *BalanceRepository {
	return u.balances
}

// Payments is the non-transactional read side of the payment index
func (u *UnitOfWork) Payments() *PaymentRepository {
	return u.payments
}

// Pricing is the non-transactional read side of pricing configuration
func (u *UnitOfWork) Pricing() *PricingRepository {
	return u.pricing
}

// Outbox is used by the poller outside any unit
func (u *UnitOfWork) Outbox() *OutboxRepository {
	return u.outbox
}

// Repositories is the non-transactional read side of every repository
func (u *UnitOfWork) Repositories() store.Repositories {
	return store.Repositories{
		Balances:     u.balances,
		Transactions: u.transactions,
		Payments:     u.payments,
		Pricing:      u.pricing,
		Outbox:       u.outbox,
	}
}
