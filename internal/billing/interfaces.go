// Package billing is the balance and markup billing core shared by the HTTP API and the usage
// processor. Only BalanceService writes the ledger; every other service routes through it.
package billing

import (
	"context"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/balance"
	"github.com/campaign-billing-ledger/internal/domain/payment"
	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/report"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
	"github.com/campaign-billing-ledger/internal/platform/gateway"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PricingService resolves usage to money with the active configuration
type PricingService interface {
	// GetActiveConfig returns shared.ErrConfigurationMissing when nothing is active
	GetActiveConfig(ctx context.Context) (*pricing.Configuration, error)

	// ResolveUsageCost prices a call. A failed destination rate lookup falls back to the
	// configured minimum cost instead of failing the charge.
	ResolveUsageCost(ctx context.Context, usage pricing.Usage) (pricing.Cost, error)

	// UpdateConfig replaces the active configuration. Requires a privileged actor.
	UpdateConfig(ctx context.Context, rates pricing.Rates, actor shared.Identity) (*pricing.Configuration, error)

	History(ctx context.Context, page, perPage int) ([]*pricing.Configuration, error)

	// EnsureDefaults installs rates when no configuration is active and reports whether it did
	EnsureDefaults(ctx context.Context, rates pricing.Rates) (*pricing.Configuration, bool, error)
}

// BalanceService is the only writer of transactions and balances
type BalanceService interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (*balance.AccountBalance, error)
	HasSufficientBalance(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*Sufficiency, error)

	Credit(ctx context.Context, req CreditRequest) (*LedgerResult, error)
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	ApplyExternalPayment(ctx context.Context, p ExternalPayment) (*LedgerResult, error)
	Refund(ctx context.Context, chargeID uuid.UUID) (*LedgerResult, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error)
	History(ctx context.Context, accountID uuid.UUID, page, perPage int) ([]*transaction.Transaction, int64, error)

	// Card deposit lifecycle, driven by the payment service
	OpenDeposit(ctx context.Context, req DepositRequest) (*transaction.Transaction, error)
	LinkDeposit(ctx context.Context, transactionID uuid.UUID, intentID string, status payment.GatewayStatus) (*transaction.Transaction, error)
	FailDeposit(ctx context.Context, transactionID uuid.UUID, reason shared.FailureReason) (*transaction.Transaction, error)
	RecordGatewayStatus(ctx context.Context, intentID string, status payment.GatewayStatus) error
	StaleDeposits(ctx context.Context, createdBefore time.Time, limit int) ([]*transaction.Transaction, error)
	PaymentRecord(ctx context.Context, intentID string) (*payment.Record, error)
}

// PaymentService adapts the card processor to the ledger
type PaymentService interface {
	CreatePaymentIntent(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*PaymentIntent, error)

	// HandleWebhookEvent returns shared.ErrInvalidSignature before looking at the payload
	// when the signature does not verify
	HandleWebhookEvent(ctx context.Context, payload []byte, signature string) (*WebhookOutcome, error)

	ConfirmPayment(ctx context.Context, intentID string, caller shared.Identity) (*Confirmation, error)
}

// ReportService serves cached aggregations projected for the caller's role
type ReportService interface {
	Summary(ctx context.Context, f report.Filter, role shared.Role) (any, error)
	Rollup(ctx context.Context, f report.Filter, role shared.Role) (any, error)
	Top(ctx context.Context, f report.Filter) ([]report.PrivilegedRanking, error)
}

// PaymentGateway is the card processor as seen by the payment service
type PaymentGateway interface {
	CreateIntent(ctx context.Context, p gateway.IntentParams) (*gateway.Intent, error)
	GetIntent(ctx context.Context, intentID string) (*gateway.Intent, error)
	ParseEvent(payload []byte, signature string) (*gateway.Event, error)
}
