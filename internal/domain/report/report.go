package report

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Totals are the raw sums over completed entries. They contain real cost and are never
// returned to a caller as is; see PublicSummary and PrivilegedSummary.
type Totals struct {
	Deposits  decimal.Decimal `json:"deposits"`
	Charges   decimal.Decimal `json:"charges"` // billed, positive
	Refunds   decimal.Decimal `json:"refunds"`
	RealCost  decimal.Decimal `json:"real_cost"`
	CallCount int64           `json:"call_count"`
}

// NetBilled is what customers paid for usage after refunds
func (t Totals) NetBilled() decimal.Decimal {
	return t.Charges.Sub(t.Refunds)
}

// Profit is net billed minus real cost
func (t Totals) Profit() decimal.Decimal {
	return t.NetBilled().Sub(t.RealCost)
}

// ProfitMargin is profit as a percentage of net billed, zero when nothing was billed
func (t Totals) ProfitMargin() decimal.Decimal {
	net := t.NetBilled()
	if !net.IsPositive() {
		return decimal.Zero
	}
	return t.Profit().Div(net).Mul(hundred).Round(2)
}

// Bucket is one period of a time rollup
type Bucket struct {
	Period    time.Time       `json:"period"`
	CallCount int64           `json:"call_count"`
	Billed    decimal.Decimal `json:"billed"`
	RealCost  decimal.Decimal `json:"real_cost"`
}

// Ranking is one row of a top-N report
type Ranking struct {
	ID        uuid.UUID       `json:"id"`
	CallCount int64           `json:"call_count"`
	Billed    decimal.Decimal `json:"billed"`
	RealCost  decimal.Decimal `json:"real_cost"`
}

// Source computes aggregations over the ledger read model
type Source interface {
	Totals(ctx context.Context, f Filter) (Totals, error)
	Rollup(ctx context.Context, f Filter) ([]Bucket, error)
	Top(ctx context.Context, f Filter) ([]Ranking, error)
}
