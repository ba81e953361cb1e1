package config

import (
	"strings"
	"time"

	"github.com/ingestkit/ingestkit/internal/session"
)

// Config represents the complete application configuration.
// Values are layered: built-in defaults, then the user config file
// (~/.config/ingestkit/config.yaml or --config), then INGESTKIT_* environment
// variables and runtime overrides.
type Config struct {
	Environment string           `mapstructure:"environment"`
	Session     SessionConfig    `mapstructure:"session"`
	Server      ServerConfig     `mapstructure:"server"`
	Store       StoreConfig      `mapstructure:"store"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
	Health      HealthConfig     `mapstructure:"health"`
	Debug       DebugConfig      `mapstructure:"debug"`
	Pagination  PaginationConfig `mapstructure:"pagination"`
	Workers     int              `mapstructure:"workers"`

	// ContextHeadersPrefix selects inbound headers that are copied into the
	// request log context.
	ContextHeadersPrefix string `mapstructure:"context_headers_prefix"`
}

// Deployment environments.
const (
	EnvironmentLocal = "local"
	EnvironmentDev   = "dev"
	EnvironmentProd  = "prod"
)

// SessionConfig contains outbound HTTP session settings.
type SessionConfig struct {
	Proxy              string        `mapstructure:"proxy"`
	UserAgent          string        `mapstructure:"user_agent"`
	ThrottlerRateLimit int           `mapstructure:"throttler_rate_limit"`
	ThrottlerPeriod    time.Duration `mapstructure:"throttler_period"`
	RetryTimes         int           `mapstructure:"retry_times"`
	BackoffSleep       time.Duration `mapstructure:"backoff_sleep"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// SessionOptions converts the section into session construction parameters.
func (c SessionConfig) SessionOptions() session.Config {
	return session.Config{
		Proxy:     strings.TrimSpace(c.Proxy),
		UserAgent: c.UserAgent,
		RateLimit: c.ThrottlerRateLimit,
		Period:    c.ThrottlerPeriod,
		Timeout:   c.Timeout,
		Retry: session.RetryPolicy{
			Times:        c.RetryTimes,
			BackoffSleep: c.BackoffSleep,
		},
	}
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: simple, structured
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// PaginationConfig bounds page/per_page query parameters on list endpoints.
type PaginationConfig struct {
	MinPage        int `mapstructure:"min_page"`
	MaxPage        int `mapstructure:"max_page"`
	DefaultPage    int `mapstructure:"default_page"`
	MinPerPage     int `mapstructure:"min_per_page"`
	MaxPerPage     int `mapstructure:"max_per_page"`
	DefaultPerPage int `mapstructure:"default_per_page"`
}
