package billing_api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/billing_api/handler"
	"github.com/campaign-billing-ledger/internal/config"
	"github.com/campaign-billing-ledger/internal/platform/messaging/producers"
	"github.com/campaign-billing-ledger/internal/platform/metrics"
)

// Services are the billing core the HTTP surface exposes
type Services struct {
	Pricing  billing.PricingService
	Balances billing.BalanceService
	Payments billing.PaymentService
	Reports  billing.ReportService
	Usage    producers.UsagePublisher // nil disables POST /usage/events
}

// Server handles HTTP requests and manages the application's lifecycle
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	httpRouter *gin.Engine
}

// NewServer creates and configures a new HTTP server with the given services
func NewServer(log *slog.Logger, cfg *config.Config, services Services, m *metrics.Metrics) *Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpRouter := gin.New()

	setupRouter(log, httpRouter, handlers{
		balance: handler.NewBalanceHandler(log, services.Balances),
		usage:   handler.NewUsageHandler(log, services.Balances, services.Usage),
		payment: handler.NewPaymentHandler(log, services.Payments),
		pricing: handler.NewPricingHandler(log, services.Pricing),
		admin:   handler.NewAdminHandler(log, services.Balances),
		report:  handler.NewReportHandler(log, services.Reports),
		metrics: m.Handler(),
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		logger:     log,
		httpServer: httpServer,
		httpRouter: httpRouter,
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	return nil
}
