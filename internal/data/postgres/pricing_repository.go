package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	pricingColumns = `id, billed_per_call, billed_per_minute, real_per_call, real_per_minute, inflation_factor,
		minimum_recharge, fallback_minimum_cost, is_active, effective_from, updated_by, created_at`

	getActivePricingQuery = `SELECT ` + pricingColumns + ` FROM pricing_configurations WHERE is_active`

	deactivatePricingQuery = `UPDATE pricing_configurations SET is_active = FALSE WHERE is_active`

	createPricingQuery = `INSERT INTO pricing_configurations (` + pricingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	listPricingQuery = `SELECT ` + pricingColumns + ` FROM pricing_configurations
		ORDER BY effective_from DESC
		LIMIT $1 OFFSET $2`

	// Longest matching prefix wins
	destinationRateQuery = `SELECT real_per_minute FROM destination_rates
		WHERE $1 LIKE prefix || '%'
		ORDER BY LENGTH(prefix) DESC
		LIMIT 1`
)

// PricingRepository implements pricing.Repository and pricing.RateRepository for PostgreSQL
type PricingRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewPricingRepository(logger *slog.Logger, querier persistence.Querier) *PricingRepository {
	return &PricingRepository{
		querier: querier,
		logger:  logger,
	}
}

// WithTx binds the repository to an open transaction
func (r *PricingRepository) WithTx(tx pgx.Tx) *PricingRepository {
	return &PricingRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *PricingRepository) GetActive(ctx context.Context) (*pricing.Configuration, error) {
	cfg, err := scanPricing(r.querier.QueryRow(ctx, getActivePricingQuery))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrConfigurationMissing
		}
		r.logger.Error("Failed to get active pricing configuration", "error", err)
		return nil, fmt.Errorf("failed to get active pricing configuration: %w", err)
	}
	return cfg, nil
}

func (r *PricingRepository) DeactivateAll(ctx context.Context) error {
	if _, err := r.querier.Exec(ctx, deactivatePricingQuery); err != nil {
		r.logger.Error("Failed to deactivate pricing configuration", "error", err)
		return fmt.Errorf("failed to deactivate pricing configuration: %w", err)
	}
	return nil
}

func (r *PricingRepository) Create(ctx context.Context, cfg *pricing.Configuration) error {
	_, err := r.querier.Exec(ctx, createPricingQuery,
		cfg.ID,
		cfg.BilledPerCall,
		cfg.BilledPerMinute,
		cfg.RealPerCall,
		cfg.RealPerMinute,
		cfg.InflationFactor,
		cfg.MinimumRecharge,
		cfg.FallbackMinimumCost,
		cfg.IsActive,
		cfg.EffectiveFrom,
		cfg.UpdatedBy,
		cfg.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create pricing configuration", "id", cfg.ID.String(), "error", err)
		return fmt.Errorf("failed to create pricing configuration: %w", err)
	}
	return nil
}

// List returns configuration versions, newest first
func (r *PricingRepository) List(ctx context.Context, limit, offset int) ([]*pricing.Configuration, error) {
	rows, err := r.querier.Query(ctx, listPricingQuery, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list pricing configurations", "error", err)
		return nil, fmt.Errorf("failed to list pricing configurations: %w", err)
	}
	defer rows.Close()

	configs := make([]*pricing.Configuration, 0)
	for rows.Next() {
		cfg, err := scanPricing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pricing configuration: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over pricing configurations: %w", err)
	}
	return configs, nil
}

func (r *PricingRepository) RealPerMinute(ctx context.Context, destination string) (decimal.Decimal, bool, error) {
	var rate decimal.Decimal
	err := r.querier.QueryRow(ctx, destinationRateQuery, destination).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		r.logger.Warn("Failed to look up destination rate", "destination", destination, "error", err)
		return decimal.Zero, false, fmt.Errorf("failed to look up destination rate: %w", err)
	}
	return rate, true, nil
}

func scanPricing(row pgx.Row) (*pricing.Configuration, error) {
	var cfg pricing.Configuration
	err := row.Scan(
		&cfg.ID,
		&cfg.BilledPerCall,
		&cfg.BilledPerMinute,
		&cfg.RealPerCall,
		&cfg.RealPerMinute,
		&cfg.InflationFactor,
		&cfg.MinimumRecharge,
		&cfg.FallbackMinimumCost,
		&cfg.IsActive,
		&cfg.EffectiveFrom,
		&cfg.UpdatedBy,
		&cfg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
