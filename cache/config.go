package cache

import (
	"context"
	"time"

	"github.com/goliatone/go-customer-cache/internal/cacheinfra"
	"github.com/goliatone/go-customer-cache/internal/metrics"
	"github.com/rs/zerolog"
)

// Backend names.
const (
	BackendRedis  = string(cacheinfra.BackendRedis)
	BackendMemory = string(cacheinfra.BackendMemory)
)

// DefaultTTL is applied when a write does not carry its own TTL.
const DefaultTTL = cacheinfra.DefaultTTL

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Backend            string
	URL                string
	KeyPrefix          string
	TTL                time.Duration
	OpTimeout          time.Duration
	PingInterval       time.Duration
	Capacity           int
	NumShards          int
	EvictionPercentage int
	EvictionInterval   time.Duration

	// SweepCollections makes the cached repository also delete every key
	// under CollectionPrefix on writes. Off by default: on Redis each sweep
	// scans the keyspace.
	SweepCollections bool
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewStore constructs the configured backend. The returned Store owns its
// transport; call Shutdown on every exit path.
func NewStore(ctx context.Context, cfg Config, log zerolog.Logger, m *metrics.Metrics) (Store, error) {
	internal := cfg.toInternal()
	if err := internal.Validate(); err != nil {
		return nil, err
	}

	if internal.Backend == cacheinfra.BackendMemory {
		return cacheinfra.NewMemoryStore(internal, log, m)
	}
	return cacheinfra.NewRedisStore(ctx, internal, log, m)
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Backend:            cacheinfra.Backend(c.Backend),
		URL:                c.URL,
		KeyPrefix:          c.KeyPrefix,
		TTL:                c.TTL,
		OpTimeout:          c.OpTimeout,
		PingInterval:       c.PingInterval,
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Backend:            string(cfg.Backend),
		URL:                cfg.URL,
		KeyPrefix:          cfg.KeyPrefix,
		TTL:                cfg.TTL,
		OpTimeout:          cfg.OpTimeout,
		PingInterval:       cfg.PingInterval,
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
