package billing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/campaign-billing-ledger/internal/data/memory"
	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/report"
	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/campaign-billing-ledger/internal/domain/transaction"
	"github.com/campaign-billing-ledger/internal/platform/gateway"
	"github.com/campaign-billing-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var admin = shared.Identity{AccountID: uuid.New(), Role: shared.RoleAdmin}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// defaultRates bill 0.02/min against a 0.01/min provider cost
func defaultRates() pricing.Rates {
	return pricing.Rates{
		BilledPerMinute:     dec("0.02"),
		RealPerMinute:       dec("0.01"),
		InflationFactor:     dec("2"),
		MinimumRecharge:     dec("10"),
		FallbackMinimumCost: dec("0.05"),
	}
}

// minutes converts whole minutes into usage seconds
func minutes(n int64) pricing.Usage {
	return pricing.Usage{DurationSeconds: n * 60, Destination: "US"}
}

type fixture struct {
	store    *memory.Store
	pricing  PricingService
	balances BalanceService
}

func newFixture(t *testing.T, rates *pricing.Rates) *fixture {
	t.Helper()
	ledger := memory.NewStore()
	logger := newTestLogger()

	pricingService := NewPricingService(logger, ledger, ledger.Repositories().Pricing, nil, nil)
	if rates != nil {
		_, err := pricingService.UpdateConfig(context.Background(), *rates, admin)
		require.NoError(t, err)
	}

	balances := NewBalanceService(logger, ledger, ledger.Repositories(), pricingService, BalanceOptions{
		WriteTimeout:     5 * time.Second,
		MaxRetryAttempts: 3,
	}, nil)

	return &fixture{store: ledger, pricing: pricingService, balances: balances}
}

func (f *fixture) credit(t *testing.T, accountID uuid.UUID, amount string) {
	t.Helper()
	_, err := f.balances.Credit(context.Background(), CreditRequest{AccountID: accountID, Amount: dec(amount)})
	require.NoError(t, err)
}

// completedSum adds the signed billed amounts of every completed transaction of the account
func (f *fixture) completedSum(t *testing.T, accountID uuid.UUID) decimal.Decimal {
	t.Helper()
	txs, err := f.store.Repositories().Transactions.ListByAccount(context.Background(), accountID, 10_000, 0)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, tx := range txs {
		if tx.IsCompleted() {
			sum = sum.Add(tx.BilledAmount)
		}
	}
	return sum
}

func (f *fixture) transactions(t *testing.T, accountID uuid.UUID) []*transaction.Transaction {
	t.Helper()
	txs, err := f.store.Repositories().Transactions.ListByAccount(context.Background(), accountID, 10_000, 0)
	require.NoError(t, err)
	return txs
}

// failingUnit refuses every unit of work
type failingUnit struct {
	err error
}

func (u failingUnit) Within(context.Context, func(context.Context, store.Repositories) error) error {
	return u.err
}

type MockRateRepository struct {
	mock.Mock
}

func (m *MockRateRepository) RealPerMinute(ctx context.Context, destination string) (decimal.Decimal, bool, error) {
	args := m.Called(ctx, destination)
	return args.Get(0).(decimal.Decimal), args.Bool(1), args.Error(2)
}

type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) CreateIntent(ctx context.Context, p gateway.IntentParams) (*gateway.Intent, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Intent), args.Error(1)
}

func (m *MockPaymentGateway) GetIntent(ctx context.Context, intentID string) (*gateway.Intent, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Intent), args.Error(1)
}

func (m *MockPaymentGateway) ParseEvent(payload []byte, signature string) (*gateway.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Event), args.Error(1)
}

type MockReportSource struct {
	mock.Mock
}

func (m *MockReportSource) Totals(ctx context.Context, f report.Filter) (report.Totals, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(report.Totals), args.Error(1)
}

func (m *MockReportSource) Rollup(ctx context.Context, f report.Filter) ([]report.Bucket, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]report.Bucket), args.Error(1)
}

func (m *MockReportSource) Top(ctx context.Context, f report.Filter) ([]report.Ranking, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]report.Ranking), args.Error(1)
}
