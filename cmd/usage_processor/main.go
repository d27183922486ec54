package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/campaign-billing-ledger/internal/billing"
	"github.com/campaign-billing-ledger/internal/config"
	"github.com/campaign-billing-ledger/internal/data/mongo"
	"github.com/campaign-billing-ledger/internal/data/postgres"
	"github.com/campaign-billing-ledger/internal/logger"
	"github.com/campaign-billing-ledger/internal/platform/gateway"
	"github.com/campaign-billing-ledger/internal/platform/messaging/consumers"
	"github.com/campaign-billing-ledger/internal/platform/messaging/producers"
	"github.com/campaign-billing-ledger/internal/platform/metrics"
	"github.com/campaign-billing-ledger/internal/platform/persistence"
	"github.com/campaign-billing-ledger/internal/usage_processor/components"
	"github.com/campaign-billing-ledger/internal/usage_processor/consumer"
	"github.com/campaign-billing-ledger/internal/usage_processor/outbox_poller"
	"github.com/campaign-billing-ledger/internal/usage_processor/reconciler"
	"github.com/campaign-billing-ledger/internal/usage_processor/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("usage_processor")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Usage Processor",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	// Initialize databases with app context
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

	// Initialize repositories
	uow := postgres.NewUnitOfWork(log, postgresDB.Pool())
	ledgerRepo := mongo.NewLedgerRepository(log, mongoDB.Database())
	if err := ledgerRepo.EnsureIndexes(appCtx); err != nil {
		log.Error("Failed to create ledger indexes", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	// Billing core shared with the API
	pricingService := billing.NewPricingService(log, uow, uow.Pricing(), uow.Pricing(), m)
	balanceService := billing.NewBalanceService(log, uow, uow.Repositories(), pricingService, billing.BalanceOptions{
		WriteTimeout:     cfg.Ledger.WriteTimeout,
		MaxRetryAttempts: cfg.Ledger.MaxRetryAttempts,
	}, m)
	paymentService := billing.NewPaymentService(log, balanceService, pricingService,
		gateway.NewStripeClient(log, gateway.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Timeout:       cfg.Stripe.Timeout,
		}),
		billing.PaymentOptions{
			Currency:          cfg.Stripe.Currency,
			CommissionPercent: cfg.Stripe.CommissionPercent,
			CommissionFixed:   cfg.Stripe.CommissionFixed,
			Timeout:           cfg.Stripe.Timeout,
		}, m)

	// Initialize Kafka DLQ producer
	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	// dlqProducer is nil when DLQTopic is not configured; PublishToDLQ then reports ErrDLQDisabled

	chargingService := components.CreateChargingService(balanceService, log, cfg)
	usageEventHandler := consumer.NewUsageEventHandler(log, chargingService, dlqProducer)

	// One reader per partition so partitions are consumed in parallel while each stays ordered
	readers := max(cfg.Kafka.NumPartitions, 1)
	kafkaConsumers := make([]consumers.Consumer, 0, readers)
	for i := 0; i < readers; i++ {
		kafkaConsumers = append(kafkaConsumers, consumers.NewKafkaConsumer(log.With("reader", i), &cfg.Kafka))
	}

	// Initialize outbox poller
	outboxRepo := uow.Outbox()
	poller := outbox_poller.NewPoller(
		&cfg.Outbox,
		outboxRepo,
		outbox_poller.NewLedgerProjector(outboxRepo, ledgerRepo, log),
		log,
	)

	paymentReconciler := reconciler.NewReconciler(&cfg.Reconciler, balanceService, paymentService, log.With("component", "reconciler"))

	metricsServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     m.Handler(),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	// Create error channel for service errors
	errChan := make(chan error, len(kafkaConsumers)+1)

	go func() {
		log.Info("Serving metrics", "port", cfg.Server.Port)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	log.Info("Starting Kafka consumers",
		"topic", cfg.Kafka.UsageTopic,
		"group", cfg.Kafka.ConsumerGroup,
		"readers", readers,
	)
	for _, c := range kafkaConsumers {
		if err := c.Subscribe(appCtx, usageEventHandler.HandleMessage); err != nil {
			log.Error("Failed to subscribe Kafka consumer", "error", err)
			os.Exit(1)
		}

		wg.Add(1)
		go func(c consumers.Consumer) {
			defer wg.Done()
			select {
			case <-appCtx.Done():
			case err := <-c.Err():
				errChan <- fmt.Errorf("kafka consumer error: %w", err)
			}
		}(c)
	}

	// Start outbox poller in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Start(appCtx)
	}()

	// Start payment reconciler in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		paymentReconciler.Start(appCtx)
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	// Stop fetching first so no new charge reaches the pool
	var shutdownErr error
	for _, c := range kafkaConsumers {
		if err := c.Close(); err != nil {
			log.Error("Error closing Kafka consumer", "error", err)
			shutdownErr = err
		}
	}

	if wpService, ok := chargingService.(*service.WorkerPoolChargingService); ok {
		log.Info("Shutting down worker pool", "running_workers", wpService.Running())
		wpService.Shutdown()
	}

	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping metrics server", "error", err)
		shutdownErr = err
	}

	if err := dlqProducer.Close(); err != nil {
		log.Error("Error closing DLQ Kafka producer", "error", err)
		shutdownErr = err
	}

	postgresDB.Close()

	if err := mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
		shutdownErr = err
	}

	// Final status
	if serviceErr != nil {
		log.Error("Usage Processor shutdown with errors", "error", serviceErr)
	}
	if shutdownErr != nil {
		log.Error("Usage Processor shutdown completed with errors")
	} else {
		log.Info("Usage Processor shutdown completed successfully")
	}
}
