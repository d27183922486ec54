package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/platform/metrics"
	"github.com/campaign-billing-ledger/internal/store"
)

// PricingServiceImpl implements the PricingService interface
type PricingServiceImpl struct {
	configs pricing.Repository
	rates   pricing.RateRepository // optional
	uow     store.UnitOfWork
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPricingService creates a new pricing service. rates may be nil, in which case every call
// is priced with the configured real per-minute rate.
func NewPricingService(logger *slog.Logger, uow store.UnitOfWork, configs pricing.Repository, rates pricing.RateRepository, m *metrics.Metrics) PricingService {
	return &PricingServiceImpl{
		configs: configs,
		rates:   rates,
		uow:     uow,
		metrics: m,
		logger:  logger,
	}
}

func (s *PricingServiceImpl) GetActiveConfig(ctx context.Context) (*pricing.Configuration, error) {
	cfg, err := s.configs.GetActive(ctx)
	if err != nil {
		if !errors.Is(err, shared.ErrConfigurationMissing) {
			s.logger.Error("Failed to load active pricing configuration", "error", err)
		}
		return nil, err
	}
	return cfg, nil
}

func (s *PricingServiceImpl) ResolveUsageCost(ctx context.Context, usage pricing.Usage) (pricing.Cost, error) {
	if usage.DurationSeconds < 0 {
		return pricing.Cost{}, fmt.Errorf("%w: negative duration %d", shared.ErrInvalidUsage, usage.DurationSeconds)
	}

	cfg, err := s.GetActiveConfig(ctx)
	if err != nil {
		return pricing.Cost{}, err
	}

	if s.rates == nil || usage.Destination == "" {
		return cfg.ResolveUsageCost(usage)
	}

	rate, found, err := s.rates.RealPerMinute(ctx, usage.Destination)
	if err != nil {
		s.logger.Warn("Destination rate lookup failed, charging fallback minimum cost",
			"destination", usage.Destination,
			"fallback_minimum_cost", cfg.FallbackMinimumCost,
			"error", err,
		)
		s.metrics.PricingFallback("rate_lookup_failed")
		return cfg.FallbackCost(), nil
	}
	if !found {
		return cfg.ResolveUsageCost(usage)
	}

	cost, err := cfg.ResolveWithRealRate(usage, rate)
	if err != nil {
		return pricing.Cost{}, err
	}
	if cost.Clamped {
		s.logger.Warn("Destination rate exceeds the billed rate, charging at cost",
			"destination", usage.Destination,
			"real_per_minute", rate,
			"billed_per_minute", cfg.BilledPerMinute,
			"configuration_id", cfg.ID,
		)
		s.metrics.PricingClamped()
	}
	return cost, nil
}

func (s *PricingServiceImpl) UpdateConfig(ctx context.Context, rates pricing.Rates, actor shared.Identity) (*pricing.Configuration, error) {
	if !actor.Role.Privileged() {
		return nil, shared.ErrForbidden
	}

	cfg, err := pricing.NewConfiguration(rates, actor.Actor())
	if err != nil {
		return nil, err
	}

	err = s.uow.Within(ctx, func(ctx context.Context, repos store.Repositories) error {
		if err := repos.Pricing.DeactivateAll(ctx); err != nil {
			return err
		}
		return repos.Pricing.Create(ctx, cfg)
	})
	if err != nil {
		s.logger.Error("Failed to activate pricing configuration",
			"updated_by", cfg.UpdatedBy,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", shared.ErrLedgerUnavailable, err)
	}

	s.logger.Info("Pricing configuration activated",
		"configuration_id", cfg.ID,
		"updated_by", cfg.UpdatedBy,
		"inflation_factor", cfg.InflationFactor,
	)
	return cfg, nil
}

func (s *PricingServiceImpl) History(ctx context.Context, page, perPage int) ([]*pricing.Configuration, error) {
	limit, offset := pageBounds(page, perPage)
	return s.configs.List(ctx, limit, offset)
}

func (s *PricingServiceImpl) EnsureDefaults(ctx context.Context, rates pricing.Rates) (*pricing.Configuration, bool, error) {
	active, err := s.configs.GetActive(ctx)
	if err == nil {
		return active, false, nil
	}
	if !errors.Is(err, shared.ErrConfigurationMissing) {
		return nil, false, err
	}

	cfg, err := s.UpdateConfig(ctx, rates, shared.SystemIdentity)
	if err != nil {
		// Another replica may have bootstrapped first; its configuration wins.
		if active, getErr := s.configs.GetActive(ctx); getErr == nil {
			return active, false, nil
		}
		return nil, false, err
	}

	s.logger.Info("Installed default pricing configuration", "configuration_id", cfg.ID)
	return cfg, true, nil
}

// pageBounds converts 1-based pagination into limit and offset
func pageBounds(page, perPage int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	return perPage, (page - 1) * perPage
}
