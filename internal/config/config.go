// Package config provides configuration structures and validation for the billing services.
// It handles environment-based configuration for the HTTP API, the usage processor, their
// storage backends, the card gateway and the pricing bootstrap defaults.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a major subsystem's configuration and is validated during startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Redis       RedisConfig
	Outbox      OutboxConfig
	WorkerPool  WorkerPoolConfig
	Ledger      LedgerConfig
	Stripe      StripeConfig
	Pricing     PricingConfig
	Reporting   ReportingConfig
	Reconciler  ReconcilerConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers           string
	UsageTopic        string // Completed-call usage events
	NumPartitions     int
	ReplicationFactor int
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	DLQTopic          string
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MigrationsPath  string
}

// MongoDBConfig contains MongoDB configuration for the reporting read model
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// RedisConfig contains Redis configuration for the shared report cache.
// An empty Addr disables Redis and the in-process cache is used instead.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OutboxConfig contains outbox pattern configuration
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int
}

// LedgerConfig bounds balance-mutating writes
type LedgerConfig struct {
	WriteTimeout     time.Duration // Upper bound for one atomic unit, independent of the caller's context
	MaxRetryAttempts int           // Retries on concurrent modification
}

// StripeConfig contains card gateway configuration
type StripeConfig struct {
	SecretKey         string
	WebhookSecret     string
	Currency          string
	Timeout           time.Duration // Must be shorter than the HTTP write timeout
	CommissionPercent decimal.Decimal
	CommissionFixed   decimal.Decimal
}

// PricingConfig holds the defaults installed when no pricing configuration exists yet
type PricingConfig struct {
	BilledPerCall       decimal.Decimal
	BilledPerMinute     decimal.Decimal
	RealPerCall         decimal.Decimal
	RealPerMinute       decimal.Decimal
	InflationFactor     decimal.Decimal
	MinimumRecharge     decimal.Decimal
	FallbackMinimumCost decimal.Decimal
}

// ReportingConfig controls the report cache
type ReportingConfig struct {
	CacheTTL      time.Duration
	SweepInterval time.Duration
}

// ReconcilerConfig controls polling of stale pending card deposits
type ReconcilerConfig struct {
	Interval  time.Duration
	StaleAge  time.Duration
	BatchSize int
}

// validate performs validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.UsageTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_USAGE_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}

	// Validate Outbox config
	if c.Outbox.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_POLLING_INTERVAL must be greater than 0")
	}
	if c.Outbox.BatchSize <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_BATCH_SIZE must be greater than 0")
	}
	if c.Outbox.MaxRetryAttempts <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_MAX_RETRY_ATTEMPTS must be greater than 0")
	}

	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	// Validate Ledger config
	if c.Ledger.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "LEDGER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Ledger.MaxRetryAttempts <= 0 {
		validationErrors = append(validationErrors, "LEDGER_MAX_RETRY_ATTEMPTS must be greater than 0")
	}

	// Validate Stripe config
	if c.Stripe.Currency == "" || len(c.Stripe.Currency) != 3 {
		validationErrors = append(validationErrors, "STRIPE_CURRENCY must be a 3-letter code")
	}
	if c.Stripe.Timeout <= 0 {
		validationErrors = append(validationErrors, "STRIPE_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout > 0 && c.Stripe.Timeout >= c.Server.WriteTimeout {
		validationErrors = append(validationErrors, "STRIPE_TIMEOUT must be shorter than SERVER_WRITE_TIMEOUT")
	}
	if c.Stripe.CommissionPercent.IsNegative() || c.Stripe.CommissionFixed.IsNegative() {
		validationErrors = append(validationErrors, "STRIPE_COMMISSION_* must not be negative")
	}

	// Validate Pricing defaults
	if c.Pricing.InflationFactor.LessThan(decimal.NewFromInt(1)) {
		validationErrors = append(validationErrors, "PRICING_INFLATION_FACTOR must be at least 1")
	}
	if c.Pricing.MinimumRecharge.IsNegative() {
		validationErrors = append(validationErrors, "PRICING_MINIMUM_RECHARGE must not be negative")
	}
	if c.Pricing.RealPerCall.IsNegative() || c.Pricing.RealPerMinute.IsNegative() {
		validationErrors = append(validationErrors, "PRICING_REAL_* rates must not be negative")
	}

	// Validate Reporting config
	if c.Reporting.CacheTTL <= 0 {
		validationErrors = append(validationErrors, "REPORT_CACHE_TTL must be greater than 0")
	}
	if c.Reporting.SweepInterval <= 0 {
		validationErrors = append(validationErrors, "REPORT_CACHE_SWEEP_INTERVAL must be greater than 0")
	}

	// Validate Reconciler config
	if c.Reconciler.Interval <= 0 {
		validationErrors = append(validationErrors, "RECONCILER_INTERVAL must be greater than 0")
	}
	if c.Reconciler.BatchSize <= 0 {
		validationErrors = append(validationErrors, "RECONCILER_BATCH_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
