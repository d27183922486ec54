// Package store defines the atomic unit every balance-affecting write runs in.
package store

import (
	"context"

	"github.com/campaign-billing-ledger/internal/domain/balance"
	"github.com/campaign-billing-ledger/internal/domain/outbox"
	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
)

// Repositories are bound to one unit of work. They must not be used after fn returns.
type Repositories struct {
	Balances     balance.Repository
	Transactions transaction.Repository
	Payments     payment.Repository
	Pricing      pricing.Repository
	Outbox       outbox.Repository
}

// UnitOfWork runs fn atomically: every write made through repos is committed when fn returns
// nil and discarded otherwise, including on panic.
type UnitOfWork interface {
	Within(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
