package pricing

import (
	"errors"
	"strings"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the precision every computed amount is rounded to
const MoneyPlaces = 4

var secondsPerMinute = decimal.NewFromInt(60)

// Rates are the admin-editable fields of a pricing configuration.
// Zero billed rates mean "derive billed from real by the inflation factor".
type Rates struct {
	BilledPerCall       decimal.Decimal `json:"billed_per_call"`
	BilledPerMinute     decimal.Decimal `json:"billed_per_minute"`
	RealPerCall         decimal.Decimal `json:"real_per_call"`
	RealPerMinute       decimal.Decimal `json:"real_per_minute"`
	InflationFactor     decimal.Decimal `json:"inflation_factor"`
	MinimumRecharge     decimal.Decimal `json:"minimum_recharge"`
	FallbackMinimumCost decimal.Decimal `json:"fallback_minimum_cost"`
}

// Configuration is one version of the pricing policy. Old versions are kept for audit.
type Configuration struct {
	ID uuid.UUID `json:"id"`
	Rates
	IsActive      bool      `json:"is_active"`
	EffectiveFrom time.Time `json:"effective_from"`
	UpdatedBy     string    `json:"updated_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// Usage is one metered call
type Usage struct {
	DurationSeconds int64  `json:"duration_seconds"`
	Destination     string `json:"destination"`
}

// Cost is the priced usage. Billed is never below Real; Clamped marks a billed
// rate that was raised to the real cost.
type Cost struct {
	Real     decimal.Decimal `json:"real"`
	Billed   decimal.Decimal `json:"billed"`
	Fallback bool            `json:"fallback,omitempty"`
	Clamped  bool            `json:"-"`
}

// NewConfiguration validates the rates and returns an active configuration attributed to actor
func NewConfiguration(rates Rates, actor string) (*Configuration, error) {
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Configuration{
		ID:            uuid.New(),
		Rates:         rates,
		IsActive:      true,
		EffectiveFrom: now,
		UpdatedBy:     actor,
		CreatedAt:     now,
	}, nil
}

// Validate collects every problem with the rates
func (r Rates) Validate() error {
	var problems []string

	if r.RealPerCall.IsNegative() || r.RealPerMinute.IsNegative() {
		problems = append(problems, "real rates must not be negative")
	}
	if r.RealPerCall.IsZero() && r.RealPerMinute.IsZero() {
		problems = append(problems, "at least one real rate must be positive")
	}
	if r.BilledPerCall.IsNegative() || r.BilledPerMinute.IsNegative() {
		problems = append(problems, "billed rates must not be negative")
	}
	if r.independentlyBilled() && (r.BilledPerCall.LessThan(r.RealPerCall) || r.BilledPerMinute.LessThan(r.RealPerMinute)) {
		problems = append(problems, "billed rates must not be below real rates")
	}
	if r.InflationFactor.LessThan(decimal.NewFromInt(1)) {
		problems = append(problems, "inflation factor must be at least 1")
	}
	if r.MinimumRecharge.IsNegative() {
		problems = append(problems, "minimum recharge must not be negative")
	}
	if !r.FallbackMinimumCost.IsPositive() {
		problems = append(problems, "fallback minimum cost must be positive")
	}

	if len(problems) > 0 {
		return errors.Join(shared.ErrInvalidAmount, errors.New(strings.Join(problems, ", ")))
	}
	return nil
}

func (r Rates) independentlyBilled() bool {
	return !r.BilledPerCall.IsZero() || !r.BilledPerMinute.IsZero()
}

// ResolveUsageCost prices a call with the configured real per-minute rate
func (c *Configuration) ResolveUsageCost(usage Usage) (Cost, error) {
	return c.ResolveWithRealRate(usage, c.RealPerMinute)
}

// ResolveWithRealRate prices a call with a destination specific real per-minute rate.
// Duration is billed per second.
func (c *Configuration) ResolveWithRealRate(usage Usage, realPerMinute decimal.Decimal) (Cost, error) {
	if usage.DurationSeconds < 0 {
		return Cost{}, shared.ErrInvalidUsage
	}
	minutes := decimal.NewFromInt(usage.DurationSeconds).Div(secondsPerMinute)

	realCost := c.RealPerCall.Add(minutes.Mul(realPerMinute))
	var billedCost decimal.Decimal
	if c.independentlyBilled() {
		billedCost = c.BilledPerCall.Add(minutes.Mul(c.BilledPerMinute))
	} else {
		billedCost = realCost.Mul(c.InflationFactor)
	}

	return newCost(realCost, billedCost, false), nil
}

// FallbackCost is charged when the provider rate cannot be determined
func (c *Configuration) FallbackCost() Cost {
	realCost := c.FallbackMinimumCost
	return newCost(realCost, realCost.Mul(c.InflationFactor), true)
}

// BelowMinimum reports whether a recharge amount is under the configured minimum
func (c *Configuration) BelowMinimum(amount decimal.Decimal) bool {
	return amount.LessThan(c.MinimumRecharge)
}

func newCost(realCost, billedCost decimal.Decimal, fallback bool) Cost {
	realCost = realCost.Round(MoneyPlaces)
	billedCost = billedCost.Round(MoneyPlaces)
	clamped := billedCost.LessThan(realCost)
	if clamped {
		billedCost = realCost
	}
	return Cost{Real: realCost, Billed: billedCost, Fallback: fallback, Clamped: clamped}
}
