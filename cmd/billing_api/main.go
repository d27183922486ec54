package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/billing_api"
	"github.com/campaign-billing-ledger/internal/config"
	"github.com/campaign-billing-ledger/internal/data/mongo"
	"github.com/campaign-billing-ledger/internal/data/postgres"
	"github.com/campaign-billing-ledger/internal/domain/pricing"
	"github.com/campaign-billing-ledger/internal/logger"
	"github.com/campaign-billing-ledger/internal/platform/cache"
	"github.com/campaign-billing-ledger/internal/platform/gateway"
	"github.com/campaign-billing-ledger/internal/platform/messaging/producers"
	"github.com/campaign-billing-ledger/internal/platform/metrics"
	"github.com/campaign-billing-ledger/internal/platform/persistence"
)

const reportCachePrefix = "billing:reports:"

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("billing_api")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Billing API",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	// Initialize databases with app context; migrations run before the pool opens
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	redisClient, err := persistence.NewRedisClient(appCtx, log, &cfg.Redis)
	if err != nil {
		log.Error("Failed to initialize Redis", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	// Ledger store
	uow := postgres.NewUnitOfWork(log, postgresDB.Pool())

	// Billing core
	pricingService := billing.NewPricingService(log, uow, uow.Pricing(), uow.Pricing(), m)
	if _, created, err := pricingService.EnsureDefaults(appCtx, pricingDefaults(&cfg.Pricing)); err != nil {
		log.Error("Failed to bootstrap pricing configuration", "error", err)
		os.Exit(1)
	} else if created {
		log.Info("Installed default pricing configuration")
	}

	balanceService := billing.NewBalanceService(log, uow, uow.Repositories(), pricingService, billing.BalanceOptions{
		WriteTimeout:     cfg.Ledger.WriteTimeout,
		MaxRetryAttempts: cfg.Ledger.MaxRetryAttempts,
	}, m)

	stripeClient := gateway.NewStripeClient(log, gateway.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Timeout:       cfg.Stripe.Timeout,
	})
	paymentService := billing.NewPaymentService(log, balanceService, pricingService, stripeClient, billing.PaymentOptions{
		Currency:          cfg.Stripe.Currency,
		CommissionPercent: cfg.Stripe.CommissionPercent,
		CommissionFixed:   cfg.Stripe.CommissionFixed,
		Timeout:           cfg.Stripe.Timeout,
	}, m)

	// Report cache: shared in Redis when configured, otherwise per process
	var cacheStore cache.Store
	if redisClient != nil {
		cacheStore = cache.NewRedisStore(redisClient, reportCachePrefix)
	} else {
		memoryStore := cache.NewMemoryStore()
		go memoryStore.RunSweeper(appCtx, log, cfg.Reporting.SweepInterval)
		cacheStore = memoryStore
	}
	reportCache := cache.New(log, cacheStore, cfg.Reporting.CacheTTL, m)
	reportService := billing.NewReportService(log, mongo.NewReportSource(log, mongoDB.Database()), reportCache, pricingService)

	services := billing_api.Services{
		Pricing:  pricingService,
		Balances: balanceService,
		Payments: paymentService,
		Reports:  reportService,
	}

	// Usage events are accepted asynchronously only when a broker is configured
	var usageProducer *producers.UsageEventProducer
	if cfg.Kafka.Brokers != "" {
		usageProducer, err = producers.NewUsageEventProducer(appCtx, log, &cfg.Kafka)
		if err != nil {
			log.Error("Failed to initialize usage event producer", "error", err)
			os.Exit(1)
		}
		services.Usage = usageProducer
	}

	// Initialize REST server
	server := billing_api.NewServer(log, cfg, services, m)
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	// Drain in-flight requests before closing what they use
	var shutdownErr error
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
		shutdownErr = err
	}

	if usageProducer != nil {
		if err := usageProducer.Close(); err != nil {
			log.Error("Error closing usage event producer", "error", err)
			shutdownErr = err
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing Redis client", "error", err)
			shutdownErr = err
		}
	}

	postgresDB.Close()

	if err := mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
		shutdownErr = err
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	logShutdown(log, shutdownErr)
}

func pricingDefaults(cfg *config.PricingConfig) pricing.Rates {
	return pricing.Rates{
		BilledPerCall:       cfg.BilledPerCall,
		BilledPerMinute:     cfg.BilledPerMinute,
		RealPerCall:         cfg.RealPerCall,
		RealPerMinute:       cfg.RealPerMinute,
		InflationFactor:     cfg.InflationFactor,
		MinimumRecharge:     cfg.MinimumRecharge,
		FallbackMinimumCost: cfg.FallbackMinimumCost,
	}
}

func logShutdown(log *slog.Logger, err error) {
	if err != nil {
		log.Error("Server shutdown completed with errors")
		return
	}
	log.Info("Server shutdown completed successfully")
}
