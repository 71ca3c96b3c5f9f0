// Package health builds point in time health reports for the store
// connection and the cache.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-customer-cache/connection"
	"github.com/rs/zerolog"
)

// Overall report states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// Component states.
const (
	Connected    = "connected"
	Disconnected = "disconnected"
	Failed       = "error"
)

// Database is the part of connection.Manager a health check needs.
type Database interface {
	Ping(ctx context.Context) (time.Duration, error)
	Status() connection.Status
}

// EventSource publishes connection lifecycle events.
type EventSource interface {
	Subscribe(buffer int) (<-chan connection.Event, func())
}

// Cache reports cache reachability. cache.Store implements it.
type Cache interface {
	Connected() bool
}

// Component is the health of one dependency.
type Component struct {
	Status         string                `json:"status"`
	ResponseTimeMs int64                 `json:"responseTimeMs,omitempty"`
	Error          string                `json:"error,omitempty"`
	RetryCount     int                   `json:"retryCount,omitempty"`
	Pool           *connection.PoolStats `json:"poolStats,omitempty"`
}

// Report is the outcome of one Check.
type Report struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"`
	Services  Services  `json:"services"`
}

// Services groups the component reports.
type Services struct {
	Database Component  `json:"database"`
	Cache    *Component `json:"cache,omitempty"`
}

// Checker assembles Reports. It is safe for concurrent use.
type Checker struct {
	db       Database
	cache    Cache
	log      zerolog.Logger
	started  time.Time
	now      func() time.Time
	degraded atomic.Bool
}

// NewChecker returns a Checker over db and, when non-nil, cache.
func NewChecker(db Database, cache Cache, log zerolog.Logger) *Checker {
	return &Checker{
		db:      db,
		cache:   cache,
		log:     log.With().Str("component", "health").Logger(),
		started: time.Now(),
		now:     time.Now,
	}
}

// Check pings the database and inspects the cache.
//
// The report is "error" when the database is unreachable, "degraded" when
// the cache is down or a lifecycle event has flagged the connection, and
// "ok" otherwise.
func (c *Checker) Check(ctx context.Context) Report {
	ts := c.now()
	r := Report{
		Status:    StatusOK,
		Timestamp: ts.UTC(),
		Uptime:    ts.Sub(c.started).Seconds(),
		Services:  Services{Database: c.checkDatabase(ctx)},
	}

	if c.cache != nil {
		cc := Component{Status: Connected}
		if !c.cache.Connected() {
			cc.Status = Disconnected
		}
		r.Services.Cache = &cc
	}

	switch {
	case r.Services.Database.Status != Connected:
		r.Status = StatusError
	case c.degraded.Load():
		r.Status = StatusDegraded
	case r.Services.Cache != nil && r.Services.Cache.Status != Connected:
		r.Status = StatusDegraded
	}
	return r
}

func (c *Checker) checkDatabase(ctx context.Context) Component {
	st := c.db.Status()
	pool := st.Pool
	comp := Component{RetryCount: st.RetryCount, Pool: &pool}

	if !st.IsConnected {
		comp.Status = Disconnected
		return comp
	}

	rtt, err := c.db.Ping(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("database health check failed")
		comp.Status = Failed
		comp.Error = err.Error()
		return comp
	}
	comp.Status = Connected
	comp.ResponseTimeMs = rtt.Milliseconds()
	return comp
}

// Degraded reports whether the last lifecycle event left the connection
// degraded.
func (c *Checker) Degraded() bool {
	return c.degraded.Load()
}

// Watch follows src until ctx is done. Disconnects and errors mark the
// checker degraded; connects and reconnects clear the flag.
func (c *Checker) Watch(ctx context.Context, src EventSource) {
	events, cancel := src.Subscribe(16)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.observe(e)
		}
	}
}

func (c *Checker) observe(e connection.Event) {
	switch e.Type {
	case connection.EventDisconnected, connection.EventError, connection.EventConnectionFailed:
		if !c.degraded.Swap(true) {
			c.log.Warn().Err(e.Err).Str("event", string(e.Type)).Msg("store connection degraded")
		}
	case connection.EventConnected, connection.EventReconnected:
		if c.degraded.Swap(false) {
			c.log.Info().Str("event", string(e.Type)).Msg("store connection recovered")
		}
	}
}
