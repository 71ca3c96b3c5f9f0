// Package config loads the process configuration from environment variables
// with defaults and validation. It is built once at startup and handed to
// pkg/di; no other package reads the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-customer-cache/cache"
	"github.com/goliatone/go-customer-cache/connection"
)

// DefaultStoreURI is used when STORE_URI is unset.
const DefaultStoreURI = "postgres://localhost:5432/customers?sslmode=disable"

// StoreConfig describes the authoritative store connection.
type StoreConfig struct {
	URI     string                // STORE_URI
	Pool    connection.PoolConfig // STORE_*_POOL_SIZE, STORE_*_TIMEOUT
	Options connection.Options    // STORE_MAX_RETRIES, STORE_MONITOR_POOL
}

// Config holds all configuration values for the process.
type Config struct {
	Store StoreConfig
	Cache cache.Config

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // console output instead of JSON
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Key     string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := "config error in " + e.Key + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	pool := connection.DefaultPoolConfig()
	opts := connection.DefaultOptions()
	cc := cache.DefaultConfig()

	cfg := Config{
		Store: StoreConfig{
			URI: getenv("STORE_URI", DefaultStoreURI),
			Pool: connection.PoolConfig{
				MaxPoolSize:            getint("STORE_MAX_POOL_SIZE", pool.MaxPoolSize),
				MinPoolSize:            getint("STORE_MIN_POOL_SIZE", pool.MinPoolSize),
				ConnectTimeout:         getdur("STORE_CONNECT_TIMEOUT", pool.ConnectTimeout),
				SocketTimeout:          getdur("STORE_SOCKET_TIMEOUT", pool.SocketTimeout),
				ServerSelectionTimeout: getdur("STORE_SERVER_SELECTION_TIMEOUT", pool.ServerSelectionTimeout),
				WaitQueueTimeout:       getdur("STORE_WAIT_QUEUE_TIMEOUT", pool.WaitQueueTimeout),
			},
			Options: opts,
		},
		Cache: cc,

		LogLevel:  strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogPretty: getbool("LOG_PRETTY", false),
	}

	cfg.Store.Options.MaxRetries = getint("STORE_MAX_RETRIES", opts.MaxRetries)
	if getbool("STORE_MONITOR_POOL", false) {
		cfg.Store.Options.StatsInterval = connection.DefaultStatsInterval
	}

	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(getenv("CACHE_BACKEND", cc.Backend)))
	cfg.Cache.URL = getenv("CACHE_URL", cc.URL)
	cfg.Cache.TTL = getdur("CACHE_TTL", cc.TTL)
	cfg.Cache.KeyPrefix = getenv("CACHE_PREFIX", cc.KeyPrefix)
	cfg.Cache.SweepCollections = getbool("CACHE_SWEEP_COLLECTIONS", false)

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	return cfg, cfg.Validate()
}

// Validate checks every section and returns the first problem as a
// *ConfigError.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return &ConfigError{Key: "LOG_LEVEL", Message: "must be one of: debug, info, warn, error, fatal, panic"}
	}
	if strings.TrimSpace(c.Store.URI) == "" {
		return &ConfigError{Key: "STORE_URI", Message: "must not be empty"}
	}
	if err := c.Store.Pool.Validate(); err != nil {
		return &ConfigError{Key: "STORE_POOL", Message: "invalid pool settings", Err: err}
	}
	if err := c.Store.Options.Validate(); err != nil {
		return &ConfigError{Key: "STORE_MAX_RETRIES", Message: "invalid retry policy", Err: err}
	}
	if err := c.Cache.Validate(); err != nil {
		return &ConfigError{Key: "CACHE", Message: "invalid cache settings", Err: err}
	}
	return nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

// getdur accepts Go durations ("10s") and bare integers, which are read as
// milliseconds.
func getdur(k string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
