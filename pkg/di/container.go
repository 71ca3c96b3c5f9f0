package di

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goliatone/go-customer-cache/cache"
	"github.com/goliatone/go-customer-cache/config"
	"github.com/goliatone/go-customer-cache/connection"
	"github.com/goliatone/go-customer-cache/health"
	"github.com/goliatone/go-customer-cache/internal/metrics"
	"github.com/goliatone/go-customer-cache/internal/store"
	"github.com/goliatone/go-customer-cache/repositorycache"
	"github.com/goliatone/go-customer-cache/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the root logger handed to every component.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Container) { c.log = log }
}

// WithRegisterer registers the Prometheus collectors on reg. Without it
// metrics are collected but never exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Container) { c.registerer = reg }
}

// WithDriver replaces the store driver. Tests use it to inject failures.
func WithDriver(d connection.Driver) Option {
	return func(c *Container) { c.driver = d }
}

// WithConnectionOptions passes extra options to the connection manager.
func WithConnectionOptions(opts ...connection.Option) Option {
	return func(c *Container) { c.connOpts = append(c.connOpts, opts...) }
}

// Container owns the process wide components and their lifecycle. It wires
// config into the connection manager, the cache store, the store repository,
// the cached repository and the use cases, in that order.
type Container struct {
	cfg        config.Config
	log        zerolog.Logger
	registerer prometheus.Registerer
	driver     connection.Driver
	connOpts   []connection.Option

	metrics    *metrics.Metrics
	manager    *connection.Manager
	cacheStore cache.Store
	storeRepo  *store.Repository
	repo       *repositorycache.CachedRepository
	customers  *service.Customers
	health     *health.Checker

	stopWatch context.CancelFunc
	watchDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewContainer validates cfg, connects to the store and builds every
// component. On failure whatever was already started is shut down before the
// error is returned.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		cfg:    cfg,
		log:    zerolog.Nop(),
		driver: connection.SQLDriver{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.metrics = metrics.New(c.registerer)

	managerOpts := append([]connection.Option{
		connection.WithLogger(c.log),
		connection.WithMetrics(c.metrics),
	}, c.connOpts...)
	c.manager = connection.New(c.driver, cfg.Store.Options, managerOpts...)

	cacheStore, err := cache.NewStore(ctx, cfg.Cache, c.log, c.metrics)
	if err != nil {
		return nil, c.abort(fmt.Errorf("cache store: %w", err))
	}
	c.cacheStore = cacheStore

	c.health = health.NewChecker(c.manager, cacheStore, c.log)
	watchCtx, cancel := context.WithCancel(context.Background())
	c.stopWatch = cancel
	c.watchDone = make(chan struct{})
	go func() {
		defer close(c.watchDone)
		c.health.Watch(watchCtx, c.manager)
	}()

	if err := c.manager.Connect(ctx, cfg.Store.URI, cfg.Store.Pool); err != nil {
		return nil, c.abort(err)
	}

	c.storeRepo = store.New(c.manager, c.log)
	c.repo = repositorycache.New(c.storeRepo, cacheStore,
		repositorycache.WithTTL(cfg.Cache.TTL),
		repositorycache.WithLogger(c.log),
		repositorycache.WithMetrics(c.metrics),
		repositorycache.WithPrefixSweep(cfg.Cache.SweepCollections),
	)
	c.customers = service.NewCustomers(c.repo, c.log)

	c.log.Info().
		Str("cache", cfg.Cache.Backend).
		Int("maxPoolSize", cfg.Store.Pool.MaxPoolSize).
		Msg("container ready")
	return c, nil
}

func (c *Container) abort(cause error) error {
	if err := c.Close(context.Background()); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Config returns the configuration the container was built with.
func (c *Container) Config() config.Config { return c.cfg }

// Manager returns the connection manager.
func (c *Container) Manager() *connection.Manager { return c.manager }

// CacheStore returns the cache store.
func (c *Container) CacheStore() cache.Store { return c.cacheStore }

// Repository returns the cached customer repository.
func (c *Container) Repository() *repositorycache.CachedRepository { return c.repo }

// StoreRepository returns the uncached repository. Reads through it never
// touch the cache.
func (c *Container) StoreRepository() *store.Repository { return c.storeRepo }

// Customers returns the customer use cases.
func (c *Container) Customers() *service.Customers { return c.customers }

// Health returns the health checker.
func (c *Container) Health() *health.Checker { return c.health }

// Migrate creates the customer schema if it does not exist.
func (c *Container) Migrate(ctx context.Context) error {
	return c.manager.Do(ctx, func(ctx context.Context, db bun.IDB) error {
		return store.Migrate(ctx, db)
	})
}

// Close shuts the container down in two phases. The event watcher and the
// cache go first so nothing writes to the cache while the store connection
// closes; then the connection manager disconnects. Close is idempotent and
// reports every failure.
func (c *Container) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		var errs []error

		if c.stopWatch != nil {
			c.stopWatch()
			<-c.watchDone
		}
		if c.cacheStore != nil {
			c.cacheStore.Shutdown(ctx)
		}

		if c.manager != nil {
			if err := c.manager.Disconnect(ctx); err != nil {
				errs = append(errs, fmt.Errorf("disconnect store: %w", err))
			}
		}

		c.closeErr = errors.Join(errs...)
		if c.closeErr != nil {
			c.log.Error().Err(c.closeErr).Msg("container shutdown finished with errors")
			return
		}
		c.log.Info().Msg("container closed")
	})
	return c.closeErr
}
