package service

import (
	"context"
	"log/slog"

	"github.com/panjf2000/ants/v2"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/domain/shared"
)

// WorkerPoolChargingService bounds how many charges run at once across all partition readers
type WorkerPoolChargingService struct {
	baseService ChargingService
	pool        *ants.Pool
	logger      *slog.Logger
}

type WorkerPoolConfig struct {
	Size int
}

func NewWorkerPoolChargingService(
	baseService ChargingService,
	config WorkerPoolConfig,
	logger *slog.Logger,
) (*WorkerPoolChargingService, error) {
	pool, err := ants.NewPool(config.Size)
	if err != nil {
		return nil, err
	}

	return &WorkerPoolChargingService{
		baseService: baseService,
		pool:        pool,
		logger:      logger,
	}, nil
}

type chargeOutcome struct {
	result *billing.ChargeResult
	err    error
}

// ChargeUsage runs the charge on a pooled worker and waits for it. The caller keeps
// per-partition ordering because it blocks until the charge is done.
func (s *WorkerPoolChargingService) ChargeUsage(ctx context.Context, event *shared.UsageEvent) (*billing.ChargeResult, error) {
	done := make(chan chargeOutcome, 1)
	eventCopy := *event

	err := s.pool.Submit(func() {
		result, err := s.baseService.ChargeUsage(ctx, &eventCopy)
		done <- chargeOutcome{result: result, err: err}
	})
	if err != nil {
		s.logger.Error("Failed to submit usage event to worker pool",
			"event_id", event.EventID.String(),
			"account_id", event.AccountID.String(),
			"error", err,
		)
		return nil, err
	}

	out := <-done
	return out.result, out.err
}

// Shutdown waits for running charges and releases the workers
func (s *WorkerPoolChargingService) Shutdown() {
	s.logger.Info("Shutting down worker pool", "running_workers", s.pool.Running())
	s.pool.Release()
}

// Running returns the number of running workers in the pool.
func (s *WorkerPoolChargingService) Running() int {
	return s.pool.Running()
}

// Capacity returns the capacity of the worker pool.
func (s *WorkerPoolChargingService) Capacity() int {
	return s.pool.Cap()
}
