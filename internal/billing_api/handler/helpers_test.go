package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/billing_api/middleware"
	"github.com/campaign-billing-ledger/internal/data/memory"
	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/domain/report"
	"github.com/campaign-billing-ledger/internal/domain/shared"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CorrelationID())
	return r
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func userIdentity() shared.Identity {
	return shared.Identity{AccountID: uuid.New(), Role: shared.RoleUser}
}

func adminIdentity() shared.Identity {
	return shared.Identity{AccountID: uuid.New(), Role: shared.RoleAdmin}
}

// serve sends body as JSON with the identity headers the auth layer would set
func serve(router *gin.Engine, method, path string, body any, identity *shared.Identity) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewBuffer(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if identity != nil {
		req.Header.Set(middleware.AccountIDHeader, identity.AccountID.String())
		req.Header.Set(middleware.RoleHeader, string(identity.Role))
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func newRawRequest(method, path, body string) *http.Request {
	return httptest.NewRequest(method, path, bytes.NewBufferString(body))
}

func record(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Data          json.RawMessage `json:"data"`
	Error         *ErrorInfo      `json:"error"`
	CorrelationID string          `json:"correlation_id"`
	Meta          *MetaInfo       `json:"meta"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return env
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, into any) {
	t.Helper()
	env := decode(t, rr)
	require.Nil(t, env.Error, rr.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, into))
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	env := decode(t, rr)
	require.NotNil(t, env.Error, rr.Body.String())
	return env.Error.Code
}

// services runs the real billing core on the in-memory store with 0.02/min billed against
// 0.01/min real
type services struct {
	store    *memory.Store
	pricing  billing.PricingService
	balances billing.BalanceService
}

func newServices(t *testing.T) *services {
	t.Helper()
	ledger := memory.NewStore()
	logger := newTestLogger()

	pricingService := billing.NewPricingService(logger, ledger, ledger.Repositories().Pricing, nil, nil)
	_, err := pricingService.UpdateConfig(context.Background(), pricing.Rates{
		BilledPerMinute:     dec("0.02"),
		RealPerMinute:       dec("0.01"),
		InflationFactor:     dec("2"),
		MinimumRecharge:     dec("10"),
		FallbackMinimumCost: dec("0.05"),
	}, adminIdentity())
	require.NoError(t, err)

	balances := billing.NewBalanceService(logger, ledger, ledger.Repositories(), pricingService, billing.BalanceOptions{
		WriteTimeout:     5 * time.Second,
		MaxRetryAttempts: 3,
	}, nil)

	return &services{store: ledger, pricing: pricingService, balances: balances}
}

func (s *services) credit(t *testing.T, accountID uuid.UUID, amount string) {
	t.Helper()
	_, err := s.balances.Credit(context.Background(), billing.CreditRequest{AccountID: accountID, Amount: dec(amount)})
	require.NoError(t, err)
}

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) CreatePaymentIntent(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*billing.PaymentIntent, error) {
	args := m.Called(ctx, accountID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PaymentIntent), args.Error(1)
}

func (m *MockPaymentService) HandleWebhookEvent(ctx context.Context, payload []byte, signature string) (*billing.WebhookOutcome, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.WebhookOutcome), args.Error(1)
}

func (m *MockPaymentService) ConfirmPayment(ctx context.Context, intentID string, caller shared.Identity) (*billing.Confirmation, error) {
	args := m.Called(ctx, intentID, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Confirmation), args.Error(1)
}

type MockReportService struct {
	mock.Mock
}

func (m *MockReportService) Summary(ctx context.Context, f report.Filter, role shared.Role) (any, error) {
	args := m.Called(ctx, f, role)
	return args.Get(0), args.Error(1)
}

func (m *MockReportService) Rollup(ctx context.Context, f report.Filter, role shared.Role) (any, error) {
	args := m.Called(ctx, f, role)
	return args.Get(0), args.Error(1)
}

func (m *MockReportService) Top(ctx context.Context, f report.Filter) ([]report.PrivilegedRanking, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]report.PrivilegedRanking), args.Error(1)
}

type MockUsagePublisher struct {
	mock.Mock
}

func (m *MockUsagePublisher) PublishUsage(ctx context.Context, event shared.UsageEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockUsagePublisher) Close() error {
	return m.Called().Error(0)
}
