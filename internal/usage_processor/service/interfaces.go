package service

import (
	"context"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/domain/shared"
)

// ChargingService bills one usage event taken off the usage topic
type ChargingService interface {
	ChargeUsage(ctx context.Context, event *shared.UsageEvent) (*billing.ChargeResult, error)
}
