package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"golang.org/x/sync/semaphore"
)

// State is the lifecycle state of the store connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MetricsRecorder receives lifecycle counters and pool gauges.
type MetricsRecorder interface {
	ConnectionEvent(eventType string)
	PoolStat(stat string, value float64)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log.With().Str("component", "connection").Logger()
	}
}

// WithMetrics records lifecycle events and pool statistics on r.
func WithMetrics(r MetricsRecorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithSleeper replaces the backoff timer.
func WithSleeper(s Sleeper) Option {
	return func(m *Manager) { m.sleep = s }
}

// Manager is the single owner of the store connection pool. It connects with
// exponential backoff, gates borrowers, monitors liveness and publishes
// lifecycle events.
type Manager struct {
	driver  Driver
	opts    Options
	log     zerolog.Logger
	metrics MetricsRecorder
	sleep   Sleeper
	bus     *eventBus
	ping    func(ctx context.Context, db *bun.DB) error

	// lifecycle serializes Connect and Disconnect.
	lifecycle sync.Mutex

	mu         sync.RWMutex
	state      State
	lost       bool
	retryCount int
	db         *bun.DB
	pool       PoolConfig
	gate       *semaphore.Weighted
	stop       chan struct{}

	borrowed atomic.Int64
	workers  sync.WaitGroup
}

// New creates a disconnected manager.
func New(driver Driver, opts Options, setters ...Option) *Manager {
	m := &Manager{
		driver: driver,
		opts:   opts,
		log:    zerolog.Nop(),
		sleep:  sleepContext,
		bus:    newEventBus(),
		ping: func(ctx context.Context, db *bun.DB) error {
			return db.PingContext(ctx)
		},
	}
	for _, set := range setters {
		set(m)
	}
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Subscribe returns a channel of lifecycle events and a cancel function
// that closes it. Events are dropped for a subscriber whose buffer is full.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.bus.subscribe(buffer)
}

func (m *Manager) emit(t EventType, err error) {
	if m.metrics != nil {
		m.metrics.ConnectionEvent(string(t))
	}
	if dropped := m.bus.publish(Event{Type: t, Err: err, At: time.Now().UTC()}); dropped > 0 {
		m.log.Warn().Str("event", string(t)).Int("dropped", dropped).Msg("slow subscribers missed event")
	}
}

// Connect opens the store and returns once it answers a ping. It is a no-op
// when already connected. Failed attempts are retried up to MaxRetries times
// with a delay of min(BaseDelay*2^attempt, MaxDelay); on exhaustion a
// connectionFailed event is emitted and a *ConnectionError is returned.
func (m *Manager) Connect(ctx context.Context, uri string, cfg PoolConfig) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := m.opts.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state == Connected {
		m.mu.Unlock()
		m.log.Debug().Msg("already connected")
		return nil
	}
	m.state = Connecting
	m.retryCount = 0
	m.mu.Unlock()

	// A connection lost after startup is replaced, not resumed in place.
	if err := m.teardown(); err != nil {
		m.log.Warn().Err(err).Msg("closing lost connection")
	}

	log := m.log.With().Str("uri", redact(uri)).Logger()
	log.Info().Msg("connecting to store")

	var lastErr error
	attempts := 0
	for attempt := 0; ; attempt++ {
		attempts++
		db, err := m.open(ctx, uri, cfg)
		if err == nil {
			m.install(db, cfg)
			log.Info().Int("attempts", attempt+1).Msg("connected to store")
			m.emit(EventConnected, nil)
			return nil
		}
		lastErr = err
		log.Error().Err(err).Int("retry", attempt).Msg("failed to connect to store")

		if attempt >= m.opts.MaxRetries || ctx.Err() != nil {
			break
		}

		delay := m.opts.backoff(attempt)
		m.mu.Lock()
		m.retryCount = attempt + 1
		m.mu.Unlock()

		log.Info().Dur("delay", delay).Msg("retrying connection")
		if err := m.sleep(ctx, delay); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	m.mu.Lock()
	m.state = Disconnected
	m.mu.Unlock()

	log.Error().Err(lastErr).Int("max_retries", m.opts.MaxRetries).Msg("max connection retries reached, giving up")
	m.emit(EventConnectionFailed, lastErr)
	return &ConnectionError{Attempts: attempts, Err: lastErr}
}

func (m *Manager) open(ctx context.Context, uri string, cfg PoolConfig) (*bun.DB, error) {
	openCtx, cancel := withTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	db, err := m.driver.Open(openCtx, uri, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancelPing := withTimeout(openCtx, cfg.ServerSelectionTimeout)
	defer cancelPing()
	if err := m.ping(pingCtx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (m *Manager) install(db *bun.DB, cfg PoolConfig) {
	stop := make(chan struct{})

	m.mu.Lock()
	m.db = db
	m.pool = cfg
	m.gate = semaphore.NewWeighted(int64(cfg.MaxPoolSize))
	m.state = Connected
	m.lost = false
	m.retryCount = 0
	m.stop = stop
	m.mu.Unlock()

	if m.opts.MonitorInterval > 0 {
		m.workers.Add(1)
		go m.monitor(stop, db, cfg)
	}
	if m.opts.StatsInterval > 0 {
		m.workers.Add(1)
		go m.sampleStats(stop)
	}
}

// teardown stops the background workers and closes the current handle.
func (m *Manager) teardown() error {
	m.mu.Lock()
	stop, db := m.stop, m.db
	m.stop, m.db, m.gate = nil, nil, nil
	m.lost = false
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	m.workers.Wait()

	if db == nil {
		return nil
	}
	return db.Close()
}

// Disconnect stops monitoring and closes the pool. It is idempotent, always
// leaves the manager Disconnected and returns the close error, if any.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	hasDB := m.db != nil
	m.mu.RUnlock()

	if !hasDB {
		m.log.Info().Msg("already disconnected")
		return nil
	}

	m.log.Info().Msg("disconnecting from store")
	err := m.teardown()

	m.mu.Lock()
	m.state = Disconnected
	m.retryCount = 0
	m.mu.Unlock()

	if err != nil {
		m.log.Error().Err(err).Msg("error during disconnect")
		m.emit(EventError, err)
	} else {
		m.log.Info().Msg("disconnected from store")
	}
	m.emit(EventDisconnected, nil)
	return err
}

// Acquire borrows a pooled connection. It waits at most WaitQueueTimeout for
// a free slot and fails with ErrPoolTimeout after that. release must be
// called exactly once; extra calls are ignored.
func (m *Manager) Acquire(ctx context.Context) (bun.IDB, func(), error) {
	m.mu.RLock()
	db, gate, cfg, state := m.db, m.gate, m.pool, m.state
	m.mu.RUnlock()

	if state != Connected || db == nil {
		return nil, nil, ErrNotConnected
	}

	waitCtx, cancel := withTimeout(ctx, cfg.WaitQueueTimeout)
	defer cancel()

	if err := gate.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, fmt.Errorf("%w after %s", ErrPoolTimeout, cfg.WaitQueueTimeout)
	}
	m.borrowed.Add(1)

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.borrowed.Add(-1)
			gate.Release(1)
		})
	}
	return db, release, nil
}

// Do runs fn with a borrowed connection, bounded by SocketTimeout.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, db bun.IDB) error) error {
	db, release, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	m.mu.RLock()
	timeout := m.pool.SocketTimeout
	m.mu.RUnlock()

	opCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	return fn(opCtx, db)
}

// Ping checks the store right now and returns the round trip time.
func (m *Manager) Ping(ctx context.Context) (time.Duration, error) {
	m.mu.RLock()
	db, cfg := m.db, m.pool
	m.mu.RUnlock()

	if db == nil {
		return 0, ErrNotConnected
	}

	pingCtx, cancel := withTimeout(ctx, cfg.ServerSelectionTimeout)
	defer cancel()

	start := time.Now()
	err := m.ping(pingCtx, db)
	return time.Since(start), err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
