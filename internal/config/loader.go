// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Build metadata injected at link time via
// -ldflags "-X remindwell/internal/config.version=...".
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// ConfigError is a diagnostic error type returned by Load to aid debugging.
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

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load resolves the full configuration from the environment. A .env file in
// the working directory is merged first when present; OS environment values
// always win because godotenv never overwrites existing variables.
func Load() (*Config, error) {
	// All internal timestamps are UTC. Local timezones only appear when
	// evaluating user-facing constraint windows.
	time.Local = time.UTC

	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate applies struct validation rules plus cross-field checks that tags
// cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration failed validation",
			Err:     err,
		}
	}

	if cfg.Batching.MinBatchSize >= cfg.Batching.MaxBatchSize {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "BATCH_MIN_SIZE must be less than BATCH_MAX_SIZE",
		}
	}
	if cfg.Orchestrator.AdaptMultiplier <= 1.0 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "ORCH_ADAPT_MULTIPLIER must be greater than 1.0",
		}
	}

	return nil
}
