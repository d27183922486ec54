package pricing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository stores pricing configuration versions
type Repository interface {
	// GetActive wraps shared.ErrConfigurationMissing when nothing is active
	GetActive(ctx context.Context) (*Configuration, error)
	DeactivateAll(ctx context.Context) error
	Create(ctx context.Context, cfg *Configuration) error
	List(ctx context.Context, limit, offset int) ([]*Configuration, error)
}

// RateRepository looks up the provider's per-minute cost for a destination.
// found is false when no destination rule matches.
type RateRepository interface {
	RealPerMinute(ctx context.Context, destination string) (rate decimal.Decimal, found bool, err error)
}
