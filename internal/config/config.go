// Package config defines the global configuration structure for the
// chesshelper delivery service. Configuration is loaded once at process
// startup and is immutable thereafter, following 12-Factor principles:
// values come from the OS environment, optionally seeded by a .env file
// for local development.
//
// Any missing required value or invalid format fails the process
// immediately on startup.
package config

import (
	"time"

	"chesshelper/internal/types"
)

// SecretString aliases types.SecretString, the redacted secret type used in
// configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// startup and never modified. Components receive only the config subsets
// they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"chesshelper-delivery"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	Email     EmailConfig
	Processor ProcessorConfig
	Health    HealthConfig
	Scheduler SchedulerConfig
	Cleanup   CleanupConfig
	Security  SecurityConfig

	// Build metadata injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	MigrateOnStart    bool          `envconfig:"DB_MIGRATE_ON_START" default:"true"`
}

// EmailConfig holds delivery provider credentials and sender identity.
// Provider "stub" routes all sends to an in-process stub for local
// development; "sendgrid" requires an API key.
type EmailConfig struct {
	Provider       string       `envconfig:"EMAIL_PROVIDER" default:"sendgrid" validate:"oneof=sendgrid stub"`
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"noreply@chesshelper.io" validate:"email"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"Chess Helper"`
	SendTimeout    time.Duration `envconfig:"EMAIL_SEND_TIMEOUT" default:"30s"`
}

// ProcessorConfig tunes the batch processor.
type ProcessorConfig struct {
	MaxBatchSize      int           `envconfig:"PROCESSOR_MAX_BATCH_SIZE" default:"50"`
	Concurrency       int           `envconfig:"PROCESSOR_CONCURRENCY" default:"8"`
	ProcessingTimeout time.Duration `envconfig:"PROCESSOR_STALE_AFTER" default:"10m"`
	DefaultPolicy     string        `envconfig:"PROCESSOR_DEFAULT_POLICY" default:"default"`
}

// HealthConfig holds the queue health thresholds. A metric past its warn
// bound degrades the overall status; past its critical bound the status is
// unhealthy.
type HealthConfig struct {
	PendingWarn       int           `envconfig:"HEALTH_PENDING_WARN" default:"500"`
	PendingCritical   int           `envconfig:"HEALTH_PENDING_CRITICAL" default:"2000"`
	OldestWarn        time.Duration `envconfig:"HEALTH_OLDEST_WARN" default:"15m"`
	OldestCritical    time.Duration `envconfig:"HEALTH_OLDEST_CRITICAL" default:"1h"`
	FailureRateWarn   float64       `envconfig:"HEALTH_FAILURE_RATE_WARN" default:"0.1"`
	FailureRateWindow time.Duration `envconfig:"HEALTH_FAILURE_RATE_WINDOW" default:"1h"`
	AvgDeliveryWarn   time.Duration `envconfig:"HEALTH_AVG_DELIVERY_WARN" default:"5m"`
}

// SchedulerConfig holds the intervals for the background loops.
type SchedulerConfig struct {
	ProcessInterval time.Duration `envconfig:"SCHEDULER_PROCESS_INTERVAL" default:"15s"`
	SweepInterval   time.Duration `envconfig:"SCHEDULER_SWEEP_INTERVAL" default:"1m"`
	HealthInterval  time.Duration `envconfig:"SCHEDULER_HEALTH_INTERVAL" default:"30s"`
	CleanupInterval time.Duration `envconfig:"SCHEDULER_CLEANUP_INTERVAL" default:"6h"`
}

// CleanupConfig holds terminal-item retention settings. Purged items are
// archived as gzip JSONL under ArchiveDir before deletion when archiving
// is enabled.
type CleanupConfig struct {
	Retention      time.Duration `envconfig:"CLEANUP_RETENTION" default:"720h"`
	ArchiveEnabled bool          `envconfig:"CLEANUP_ARCHIVE_ENABLED" default:"true"`
	ArchiveDir     string        `envconfig:"CLEANUP_ARCHIVE_DIR" default:"/var/lib/chesshelper/archive"`
	BatchSize      int           `envconfig:"CLEANUP_BATCH_SIZE" default:"1000"`
}

// SecurityConfig holds admin surface credentials.
type SecurityConfig struct {
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY" validate:"required"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure parsing environment variable values into
	// their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
