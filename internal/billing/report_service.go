package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/campaign-billing-ledger/internal/domain/report"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/platform/cache"
	"github.com/shopspring/decimal"
)

// ReportServiceImpl implements the ReportService interface.
// The cache holds raw aggregates; the role projection is applied on every read.
type ReportServiceImpl struct {
	source  report.Source
	cache   *cache.Cache
	pricing PricingService
	now     func() time.Time
	logger  *slog.Logger
}

// NewReportService creates a new report service
func NewReportService(logger *slog.Logger, source report.Source, c *cache.Cache, pricingService PricingService) ReportService {
	return &ReportServiceImpl{
		source:  source,
		cache:   c,
		pricing: pricingService,
		now:     time.Now,
		logger:  logger,
	}
}

func (s *ReportServiceImpl) Summary(ctx context.Context, f report.Filter, role shared.Role) (any, error) {
	f, err := s.normalize(f, role)
	if err != nil {
		return nil, err
	}

	totals, err := cache.Fetch(ctx, s.cache, f.Key("totals"), func(ctx context.Context) (report.Totals, error) {
		return s.source.Totals(ctx, f)
	})
	if err != nil {
		s.logger.Error("Failed to compute report totals", "error", err)
		return nil, err
	}

	if !role.Privileged() {
		return totals.Public(f), nil
	}
	return totals.Privileged(f, s.inflationFactor(ctx)), nil
}

func (s *ReportServiceImpl) Rollup(ctx context.Context, f report.Filter, role shared.Role) (any, error) {
	f, err := s.normalize(f, role)
	if err != nil {
		return nil, err
	}

	buckets, err := cache.Fetch(ctx, s.cache, f.Key("rollup"), func(ctx context.Context) ([]report.Bucket, error) {
		return s.source.Rollup(ctx, f)
	})
	if err != nil {
		s.logger.Error("Failed to compute report rollup", "granularity", string(f.Granularity), "error", err)
		return nil, err
	}

	if !role.Privileged() {
		return report.PublicBuckets(buckets), nil
	}
	return report.PrivilegedBuckets(buckets), nil
}

func (s *ReportServiceImpl) Top(ctx context.Context, f report.Filter) ([]report.PrivilegedRanking, error) {
	f, err := s.normalize(f, shared.RoleAdmin)
	if err != nil {
		return nil, err
	}

	rankings, err := cache.Fetch(ctx, s.cache, f.Key("top"), func(ctx context.Context) ([]report.Ranking, error) {
		return s.source.Top(ctx, f)
	})
	if err != nil {
		s.logger.Error("Failed to compute report ranking", "rank_by", string(f.RankBy), "error", err)
		return nil, err
	}
	return report.PrivilegedRankings(rankings), nil
}

// normalize fills filter defaults; non-privileged callers only ever see one account
func (s *ReportServiceImpl) normalize(f report.Filter, role shared.Role) (report.Filter, error) {
	if !role.Privileged() && f.AccountID == nil {
		return report.Filter{}, shared.ErrForbidden
	}
	return f.Normalize(s.now())
}

func (s *ReportServiceImpl) inflationFactor(ctx context.Context) decimal.Decimal {
	cfg, err := s.pricing.GetActiveConfig(ctx)
	if err != nil {
		if !errors.Is(err, shared.ErrConfigurationMissing) {
			s.logger.Warn("Report served without inflation factor", "error", err)
		}
		return decimal.Zero
	}
	return cfg.InflationFactor
}
