package connection

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is wrapped by every PoolConfig and Options validation error.
var ErrInvalidConfig = errors.New("connection: invalid config")

// PoolConfig bounds the pooled connections to the store.
type PoolConfig struct {
	// MaxPoolSize caps concurrently borrowed connections. Default: 10.
	MaxPoolSize int
	// MinPoolSize is the number of idle connections kept open. Default: 2.
	MinPoolSize int
	// ConnectTimeout bounds opening the store handle. Default: 10s.
	ConnectTimeout time.Duration
	// SocketTimeout bounds every single store operation. Default: 45s.
	SocketTimeout time.Duration
	// ServerSelectionTimeout bounds the liveness ping. Default: 30s.
	ServerSelectionTimeout time.Duration
	// WaitQueueTimeout bounds the wait for a free connection when the pool
	// is exhausted. Default: 10s.
	WaitQueueTimeout time.Duration
}

// DefaultPoolConfig returns the pool bounds used when none are configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxPoolSize:            10,
		MinPoolSize:            2,
		ConnectTimeout:         10 * time.Second,
		SocketTimeout:          45 * time.Second,
		ServerSelectionTimeout: 30 * time.Second,
		WaitQueueTimeout:       10 * time.Second,
	}
}

// Validate checks the pool bounds.
func (c PoolConfig) Validate() error {
	switch {
	case c.MaxPoolSize <= 0:
		return fmt.Errorf("%w: MaxPoolSize must be greater than 0", ErrInvalidConfig)
	case c.MinPoolSize < 0:
		return fmt.Errorf("%w: MinPoolSize must be non-negative", ErrInvalidConfig)
	case c.MinPoolSize > c.MaxPoolSize:
		return fmt.Errorf("%w: MinPoolSize must not exceed MaxPoolSize", ErrInvalidConfig)
	case c.ConnectTimeout < 0, c.SocketTimeout < 0, c.ServerSelectionTimeout < 0, c.WaitQueueTimeout < 0:
		return fmt.Errorf("%w: timeouts must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// Options tune the manager itself.
type Options struct {
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int
	// BaseDelay is the first backoff delay; it doubles on every retry.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff delay.
	MaxDelay time.Duration
	// MonitorInterval is the health ping period. Zero disables monitoring.
	MonitorInterval time.Duration
	// StatsInterval is the pool statistics sampling period. Zero disables
	// sampling.
	StatsInterval time.Duration
}

// DefaultStatsInterval is the sampling period used when pool monitoring is
// switched on without an explicit interval.
const DefaultStatsInterval = time.Minute

// DefaultOptions returns the retry policy used when none is configured.
func DefaultOptions() Options {
	return Options{
		MaxRetries:      5,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		MonitorInterval: 5 * time.Second,
	}
}

// Validate checks the retry policy.
func (o Options) Validate() error {
	switch {
	case o.MaxRetries < 0:
		return fmt.Errorf("%w: MaxRetries must be non-negative", ErrInvalidConfig)
	case o.BaseDelay < 0 || o.MaxDelay < 0:
		return fmt.Errorf("%w: delays must be non-negative", ErrInvalidConfig)
	case o.MonitorInterval < 0 || o.StatsInterval < 0:
		return fmt.Errorf("%w: intervals must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// backoff returns min(BaseDelay*2^attempt, MaxDelay) for a zero based attempt.
func (o Options) backoff(attempt int) time.Duration {
	delay := o.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if o.MaxDelay > 0 && delay >= o.MaxDelay {
			return o.MaxDelay
		}
	}
	if o.MaxDelay > 0 && delay > o.MaxDelay {
		return o.MaxDelay
	}
	return delay
}
