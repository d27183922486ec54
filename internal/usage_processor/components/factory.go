package components

import (
	"log/slog"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/config"
	"github.com/campaign-billing-ledger/internal/usage_processor/service"
)

// CreateChargingService wraps the balance service in the retrying charger and, when a pool
// size is configured, bounds concurrent charges with a worker pool.
func CreateChargingService(
	balances billing.BalanceService,
	logger *slog.Logger,
	cfg *config.Config,
) service.ChargingService {
	baseService := service.NewBalanceChargingService(logger.With("component", "charging"), balances)

	if cfg.WorkerPool.Size <= 0 {
		logger.Warn("Worker pool disabled, charging on consumer goroutines", "pool_size", cfg.WorkerPool.Size)
		return baseService
	}

	workerPoolService, err := service.NewWorkerPoolChargingService(
		baseService,
		service.WorkerPoolConfig{
			Size: cfg.WorkerPool.Size,
		},
		logger.With("component", "worker_pool"),
	)
	if err != nil {
		logger.Error("Failed to create worker pool charging service, falling back to base service", "error", err)
		return baseService
	}

	logger.Info("Created worker pool charging service", "pool_size", cfg.WorkerPool.Size)
	return workerPoolService
}
