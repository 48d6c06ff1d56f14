// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs in scheduled_at math.
//  2. Load a .env file via godotenv (non-fatal if absent; never overrides
//     variables already set in the OS environment).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator, plus cross-field
//     checks envconfig tags cannot express.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads and validates the service configuration from the
// environment. It is called once from main; any error is fatal.
func LoadConfig() (*Config, error) {
	// Step 1: all timestamps in this service are UTC.
	time.Local = time.UTC

	// Step 2: .env seeds the environment for local development only.
	_ = godotenv.Load()

	// Step 3: the empty prefix makes envconfig use the exact tag values
	// (envconfig:"APP_ENV" reads APP_ENV directly).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 4: build metadata comes from ldflags, not env.
	cfg.Build = NewBuildInfo()

	// Step 5: validate.
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if err := cfg.validateCrossField(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateCrossField enforces constraints that span fields: the sendgrid
// provider needs a key, and the health thresholds must be ordered so the
// warn bound always trips before the critical one.
func (c *Config) validateCrossField() *ConfigError {
	if c.Email.Provider == "sendgrid" && c.Email.SendGridAPIKey.Unmask() == "" {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "SENDGRID_API_KEY is required when EMAIL_PROVIDER=sendgrid",
		}
	}
	if c.Health.PendingWarn > c.Health.PendingCritical {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "HEALTH_PENDING_WARN must not exceed HEALTH_PENDING_CRITICAL",
		}
	}
	if c.Health.OldestWarn > c.Health.OldestCritical {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "HEALTH_OLDEST_WARN must not exceed HEALTH_OLDEST_CRITICAL",
		}
	}
	if c.Processor.MaxBatchSize < 1 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "PROCESSOR_MAX_BATCH_SIZE must be at least 1",
		}
	}
	if c.Processor.Concurrency < 1 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "PROCESSOR_CONCURRENCY must be at least 1",
		}
	}
	return nil
}
