package cacheinfra

import (
	"time"

	"github.com/viccon/sturdyc"
)

// Backend selects the cache implementation.
type Backend string

const (
	// BackendRedis stores entries in a remote Redis server.
	BackendRedis Backend = "redis"
	// BackendMemory stores entries in an in-process sturdyc client.
	BackendMemory Backend = "memory"
)

// DefaultTTL is used when a caller does not supply a TTL.
const DefaultTTL = 3600 * time.Second

// Config holds the configuration shared by the cache backends.
type Config struct {
	// Backend picks the implementation. Default: redis.
	Backend Backend

	// URL is the Redis connection URL, e.g. redis://localhost:6379/0.
	// Required for the redis backend.
	URL string

	// KeyPrefix namespaces every key written by this process.
	KeyPrefix string

	// TTL is the default time-to-live for entries. It is applied in whole
	// seconds and must be at least one second.
	TTL time.Duration

	// OpTimeout bounds every single cache round trip.
	OpTimeout time.Duration

	// PingInterval controls how often the redis backend re-checks its
	// connection. Zero disables the background pinger.
	PingInterval time.Duration

	// Capacity defines the maximum number of entries the memory backend keeps.
	Capacity int

	// NumShards determines the number of memory backend shards.
	NumShards int

	// EvictionPercentage specifies what percentage of entries to evict
	// when the memory backend reaches capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often the memory backend drops expired entries.
	// Zero value uses the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Backend:            BackendRedis,
		URL:                "redis://localhost:6379/0",
		TTL:                DefaultTTL,
		OpTimeout:          2 * time.Second,
		PingInterval:       5 * time.Second,
		Capacity:           10000,
		NumShards:          256,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the memory backend settings to sturdyc options.
// Capacity, NumShards, TTL and EvictionPercentage go to sturdyc.New directly.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.TTL < time.Second {
		return &ConfigError{Field: "TTL", Message: "must be at least one second"}
	}

	if c.OpTimeout < 0 {
		return &ConfigError{Field: "OpTimeout", Message: "must be non-negative"}
	}

	switch c.Backend {
	case BackendRedis:
		if c.URL == "" {
			return &ConfigError{Field: "URL", Message: "is required for the redis backend"}
		}
		if c.PingInterval < 0 {
			return &ConfigError{Field: "PingInterval", Message: "must be non-negative"}
		}
	case BackendMemory:
		if c.Capacity <= 0 {
			return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
		}
		if c.NumShards <= 0 {
			return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
		}
		if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
			return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
		}
	default:
		return &ConfigError{Field: "Backend", Message: "must be one of redis, memory"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// wholeSeconds resolves the effective TTL of a write: ttl, or def when ttl is
// not positive, rounded up to whole seconds.
func wholeSeconds(ttl, def time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = def
	}
	secs := (ttl + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
