package report

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PublicSummary is the account owner's financial summary. Billed figures only.
type PublicSummary struct {
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	TotalDeposits decimal.Decimal `json:"total_deposits"`
	TotalBilled   decimal.Decimal `json:"total_billed"`
	CallCount     int64           `json:"call_count"`
}

// PrivilegedSummary is the admin financial summary with real cost and margin
type PrivilegedSummary struct {
	From            time.Time       `json:"from"`
	To              time.Time       `json:"to"`
	TotalDeposits   decimal.Decimal `json:"total_deposits"`
	TotalBilled     decimal.Decimal `json:"total_billed"`
	TotalRefunded   decimal.Decimal `json:"total_refunded"`
	TotalReal       decimal.Decimal `json:"total_real"`
	Profit          decimal.Decimal `json:"profit"`
	ProfitMargin    decimal.Decimal `json:"profit_margin"`
	InflationFactor decimal.Decimal `json:"inflation_factor"`
	CallCount       int64           `json:"call_count"`
}

// PublicBucket is a rollup period without real cost
type PublicBucket struct {
	Period    time.Time       `json:"period"`
	CallCount int64           `json:"call_count"`
	Billed    decimal.Decimal `json:"billed"`
}

// PrivilegedBucket is a rollup period with real cost and profit
type PrivilegedBucket struct {
	PublicBucket
	RealCost decimal.Decimal `json:"real_cost"`
	Profit   decimal.Decimal `json:"profit"`
}

// PrivilegedRanking is a top-N row with profit
type PrivilegedRanking struct {
	ID        uuid.UUID       `json:"id"`
	CallCount int64           `json:"call_count"`
	Billed    decimal.Decimal `json:"billed"`
	RealCost  decimal.Decimal `json:"real_cost"`
	Profit    decimal.Decimal `json:"profit"`
}

func (t Totals) Public(f Filter) PublicSummary {
	return PublicSummary{
		From:          f.From,
		To:            f.To,
		TotalDeposits: t.Deposits,
		TotalBilled:   t.NetBilled(),
		CallCount:     t.CallCount,
	}
}

func (t Totals) Privileged(f Filter, inflationFactor decimal.Decimal) PrivilegedSummary {
	return PrivilegedSummary{
		From:            f.From,
		To:              f.To,
		TotalDeposits:   t.Deposits,
		TotalBilled:     t.NetBilled(),
		TotalRefunded:   t.Refunds,
		TotalReal:       t.RealCost,
		Profit:          t.Profit(),
		ProfitMargin:    t.ProfitMargin(),
		InflationFactor: inflationFactor,
		CallCount:       t.CallCount,
	}
}

func PublicBuckets(buckets []Bucket) []PublicBucket {
	out := make([]PublicBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, PublicBucket{Period: b.Period, CallCount: b.CallCount, Billed: b.Billed})
	}
	return out
}

func PrivilegedBuckets(buckets []Bucket) []PrivilegedBucket {
	out := make([]PrivilegedBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, PrivilegedBucket{
			PublicBucket: PublicBucket{Period: b.Period, CallCount: b.CallCount, Billed: b.Billed},
			RealCost:     b.RealCost,
			Profit:       b.Billed.Sub(b.RealCost),
		})
	}
	return out
}

func PrivilegedRankings(rankings []Ranking) []PrivilegedRanking {
	out := make([]PrivilegedRanking, 0, len(rankings))
	for _, r := range rankings {
		out = append(out, PrivilegedRanking{
			ID:        r.ID,
			CallCount: r.CallCount,
			Billed:    r.Billed,
			RealCost:  r.RealCost,
			Profit:    r.Billed.Sub(r.RealCost),
		})
	}
	return out
}
