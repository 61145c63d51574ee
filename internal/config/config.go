// Package config defines the global configuration structure for the
// remindwell scheduler. Configuration is loaded once at process start and is
// immutable thereafter, following 12-Factor principles: values come from the
// OS environment, optionally seeded from a .env file in local development.
//
// Any missing required value or invalid format fails the process immediately
// on startup (fail fast).
package config

import (
	"time"
)

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"remindwell"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server       ServerConfig
	Database     DatabaseConfig
	AWS          AWSConfig
	Evaluator    EvaluatorConfig
	Batching     BatchingConfig
	Orchestrator OrchestratorConfig
	Upstream     UpstreamConfig

	// Build metadata (injected via ldflags, not env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL               string        `envconfig:"DATABASE_URL" validate:"required,url"`
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers for the dispatch queue and
// metrics publisher.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
	DispatchQueue   string `envconfig:"SQS_DISPATCH_QUEUE" validate:"required,url"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Remindwell"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EvaluatorConfig holds constraint evaluation tunables.
type EvaluatorConfig struct {
	// MinLeadTime floor-clamps adjusted instants to now + this duration so
	// corrections never land in the past.
	MinLeadTime time.Duration `envconfig:"EVAL_MIN_LEAD_TIME" default:"15m"`

	// SearchHorizonSteps bounds the forward search for the next available
	// slot; SearchStep is the stride between probes.
	SearchHorizonSteps int           `envconfig:"EVAL_SEARCH_STEPS" default:"24" validate:"min=1,max=288"`
	SearchStep         time.Duration `envconfig:"EVAL_SEARCH_STEP" default:"1h"`

	// Result cache bounds.
	CacheSize int           `envconfig:"EVAL_CACHE_SIZE" default:"2048" validate:"min=16"`
	CacheTTL  time.Duration `envconfig:"EVAL_CACHE_TTL" default:"2m"`
}

// BatchingConfig holds batching optimizer tunables.
type BatchingConfig struct {
	BaseCostPerItemMAh float64       `envconfig:"BATCH_BASE_COST_MAH" default:"0.8"`
	MinBatchSize       int           `envconfig:"BATCH_MIN_SIZE" default:"2" validate:"min=1"`
	MaxBatchSize       int           `envconfig:"BATCH_MAX_SIZE" default:"15" validate:"min=2"`
	TuneInterval       time.Duration `envconfig:"BATCH_TUNE_INTERVAL" default:"1h"`
}

// OrchestratorConfig holds periodic-job tunables.
type OrchestratorConfig struct {
	// MaxConcurrentJobs bounds how many distinct job types may run at once.
	// A single job never overlaps itself.
	MaxConcurrentJobs int `envconfig:"ORCH_MAX_CONCURRENT_JOBS" default:"3" validate:"min=1,max=16"`

	// CycleBudget is the hard deadline for one job cycle; a cycle exceeding
	// it is marked failed and retried on the next interval.
	CycleBudget time.Duration `envconfig:"ORCH_CYCLE_BUDGET" default:"2m"`

	// Adaptive interval tuning for battery-optimized jobs.
	AdaptInterval      time.Duration `envconfig:"ORCH_ADAPT_INTERVAL" default:"6h"`
	AdaptThresholdMAh  float64       `envconfig:"ORCH_ADAPT_THRESHOLD_MAH" default:"5.0"`
	AdaptMultiplier    float64       `envconfig:"ORCH_ADAPT_MULTIPLIER" default:"1.5"`
	AdaptIntervalCap   time.Duration `envconfig:"ORCH_ADAPT_INTERVAL_CAP" default:"6h"`
	DueWorkPullLimit   int           `envconfig:"ORCH_DUE_PULL_LIMIT" default:"200" validate:"min=1"`
	TerminalRetention  time.Duration `envconfig:"ORCH_TERMINAL_RETENTION" default:"720h"`
	DispatchRatePerSec float64       `envconfig:"ORCH_DISPATCH_RATE" default:"5"`

	// ArchiveDir receives compressed terminal-work archives before the
	// maintenance sweep deletes the rows.
	ArchiveDir string `envconfig:"ORCH_ARCHIVE_DIR" default:"./data/archive"`
}

// UpstreamConfig holds settings for external collaborator clients.
type UpstreamConfig struct {
	PrayerAPIBaseURL   string        `envconfig:"PRAYER_API_BASE_URL" validate:"required,url"`
	CalendarAPIBaseURL string        `envconfig:"CALENDAR_API_BASE_URL" validate:"required,url"`
	RequestTimeout     time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"10s"`
	UserAgent          string        `envconfig:"UPSTREAM_USER_AGENT" default:"Remindwell/1.0"`

	// BatteryPath is the sysfs capacity file; empty selects the static
	// fallback source.
	BatteryPath string `envconfig:"BATTERY_SYSFS_PATH" default:"/sys/class/power_supply/BAT0/capacity"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
