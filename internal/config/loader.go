// Package config provides centralized configuration management for ingestkit.
// Defaults are registered on a viper instance, overlaid by the user config
// file and INGESTKIT_* environment variables, then decoded with mapstructure
// into a typed Config and validated.
package config

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/ingestkit/ingestkit/internal/session"
)

const (
	// AppName is the binary name and the XDG config/data directory name.
	AppName = "ingestkit"
	// EnvPrefix prefixes every environment override, e.g. INGESTKIT_SERVER_PORT.
	EnvPrefix = "INGESTKIT"
	// Description is shown in CLI help.
	Description = "Throttled, retrying HTTP ingestion service"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults registers every configuration default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvironmentProd)

	// Session defaults
	v.SetDefault("session.proxy", "")
	v.SetDefault("session.user_agent", session.DefaultUserAgent)
	v.SetDefault("session.throttler_rate_limit", session.DefaultRateLimit)
	v.SetDefault("session.throttler_period", session.DefaultPeriod.String())
	v.SetDefault("session.retry_times", session.DefaultRetryTimes)
	v.SetDefault("session.backoff_sleep", session.DefaultBackoffSleep.String())
	v.SetDefault("session.timeout", session.DefaultTimeout.String())

	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	// Pagination defaults
	v.SetDefault("pagination.min_page", 1)
	v.SetDefault("pagination.max_page", 1000)
	v.SetDefault("pagination.default_page", 1)
	v.SetDefault("pagination.min_per_page", 1)
	v.SetDefault("pagination.max_per_page", 30)
	v.SetDefault("pagination.default_per_page", 10)

	v.SetDefault("context_headers_prefix", "x-context-")
	v.SetDefault("workers", 4)
}

// BindEnv makes every registered key overridable through INGESTKIT_* variables,
// with dots replaced by underscores (session.proxy -> INGESTKIT_SESSION_PROXY).
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes the settings held by v, applies runtime overrides and
// validates the result. This function is safe to call multiple times
// (e.g., for config reload).
func Load(ctx context.Context, v *viper.Viper, runtimeOverrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v == nil {
		v = viper.New()
		SetDefaults(v)
		BindEnv(v)
	}

	merged := v.AllSettings()
	for _, overrides := range runtimeOverrides {
		mergeMaps(merged, overrides)
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)

	return cfg, nil
}

// secondsToDurationHookFunc reads unitless numbers for duration fields as
// seconds, so `throttler_period: 1.0` means one second rather than 1ns.
// Strings with a unit ("250ms") fall through to StringToTimeDurationHookFunc.
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}

		var seconds float64
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			seconds = float64(reflect.ValueOf(data).Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			seconds = float64(reflect.ValueOf(data).Uint())
		case reflect.Float32, reflect.Float64:
			seconds = reflect.ValueOf(data).Float()
		case reflect.String:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(data.(string)), 64)
			if err != nil {
				return data, nil
			}
			seconds = parsed
		default:
			return data, nil
		}

		if math.IsNaN(seconds) || math.IsInf(seconds, 0) || math.Abs(seconds) > math.MaxInt64/float64(time.Second) {
			return nil, fmt.Errorf("%w: duration %v out of range", session.ErrInvalidConfiguration, data)
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}
}

func (c *Config) normalize() {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	if c.Environment == "" {
		c.Environment = EnvironmentProd
	}
	// Local runs always get debug output.
	if c.Environment == EnvironmentLocal {
		c.Debug.Enabled = true
	}

	c.ContextHeadersPrefix = strings.ToLower(strings.TrimSpace(c.ContextHeadersPrefix))

	if strings.TrimSpace(c.Store.URL) == "" && strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = DefaultStorePath()
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
}

// Validate checks cross-field constraints. Every failure wraps
// session.ErrInvalidConfiguration.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvironmentLocal, EnvironmentDev, EnvironmentProd:
	default:
		return invalid("environment must be one of local, dev, prod; got %q", c.Environment)
	}

	if c.Session.ThrottlerRateLimit <= 0 {
		return invalid("session.throttler_rate_limit must be positive, got %d", c.Session.ThrottlerRateLimit)
	}
	if c.Session.ThrottlerPeriod <= 0 {
		return invalid("session.throttler_period must be positive, got %s", c.Session.ThrottlerPeriod)
	}
	if c.Session.RetryTimes < 0 {
		return invalid("session.retry_times must not be negative, got %d", c.Session.RetryTimes)
	}
	if c.Session.BackoffSleep < 0 {
		return invalid("session.backoff_sleep must not be negative, got %s", c.Session.BackoffSleep)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("server.port out of range: %d", c.Server.Port)
	}

	p := c.Pagination
	if p.MinPage < 1 || p.MaxPage < p.MinPage || p.DefaultPage < p.MinPage || p.DefaultPage > p.MaxPage {
		return invalid("pagination page bounds are inconsistent: min=%d default=%d max=%d", p.MinPage, p.DefaultPage, p.MaxPage)
	}
	if p.MinPerPage < 1 || p.MaxPerPage < p.MinPerPage || p.DefaultPerPage < p.MinPerPage || p.DefaultPerPage > p.MaxPerPage {
		return invalid("pagination per_page bounds are inconsistent: min=%d default=%d max=%d", p.MinPerPage, p.DefaultPerPage, p.MaxPerPage)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", session.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigDir returns the XDG-compliant config directory for the app.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := DefaultConfigDir()
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

// mergeMaps deep-merges src into dst. Nested maps are merged key by key;
// any other value in src replaces the one in dst.
func mergeMaps(dst, src map[string]any) {
	for key, value := range src {
		key = strings.ToLower(key)
		nested, ok := value.(map[string]any)
		if !ok {
			dst[key] = value
			continue
		}
		existing, ok := dst[key].(map[string]any)
		if !ok {
			existing = map[string]any{}
			dst[key] = existing
		}
		mergeMaps(existing, nested)
	}
}
