package cacheinfra

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-customer-cache/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const scanBatch = 200

// RedisStore is the remote cache backend. Every operation is best effort:
// while the client is not connected calls are no-ops, and transport errors are
// logged and swallowed. A transport error marks the store disconnected until
// the background pinger sees the server again.
type RedisStore struct {
	client    *redis.Client
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics.Metrics
	connected atomic.Bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewRedisStore parses cfg.URL, creates the client this store owns and checks
// the connection once. An unreachable server is not an error: the store starts
// disconnected and the pinger keeps trying.
func NewRedisStore(ctx context.Context, cfg Config, log zerolog.Logger, m *metrics.Metrics) (*RedisStore, error) {
	cfg.Backend = BackendRedis
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, &ConfigError{Field: "URL", Message: err.Error()}
	}

	return newRedisStore(ctx, redis.NewClient(opts), cfg, log, m), nil
}

// NewRedisStoreFromClient wraps an existing client. The store takes ownership
// and closes the client on Shutdown.
func NewRedisStoreFromClient(ctx context.Context, client *redis.Client, cfg Config, log zerolog.Logger, m *metrics.Metrics) (*RedisStore, error) {
	cfg.Backend = BackendRedis
	if cfg.URL == "" {
		cfg.URL = "redis://" + client.Options().Addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newRedisStore(ctx, client, cfg, log, m), nil
}

func newRedisStore(ctx context.Context, client *redis.Client, cfg Config, log zerolog.Logger, m *metrics.Metrics) *RedisStore {
	s := &RedisStore{
		client:  client,
		cfg:     cfg,
		log:     log.With().Str("component", "cache").Str("backend", string(BackendRedis)).Logger(),
		metrics: m,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	s.Ping(ctx)

	if cfg.PingInterval > 0 {
		go s.monitor()
	} else {
		close(s.done)
	}

	return s
}

// Connected reports the last known connection state.
func (s *RedisStore) Connected() bool {
	return s.connected.Load()
}

// Ping checks the server and updates the connection state.
func (s *RedisStore) Ping(ctx context.Context) bool {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	if err := s.client.Ping(qctx).Err(); err != nil {
		if s.connected.Swap(false) {
			s.log.Error().Err(err).Msg("redis client error")
		} else {
			s.log.Debug().Err(err).Msg("redis not reachable")
		}
		return false
	}

	if !s.connected.Swap(true) {
		s.log.Info().Msg("redis client connected")
	}
	return true
}

func (s *RedisStore) monitor() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Ping(context.Background())
		}
	}
}

func (s *RedisStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if s.cfg.OpTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.cfg.OpTimeout)
}

func (s *RedisStore) key(k string) string {
	return s.cfg.KeyPrefix + k
}

// fail logs a transport error and takes the store offline until the next
// successful ping. Caller cancellation is not treated as a transport fault.
func (s *RedisStore) fail(ctx context.Context, op, key string, err error) {
	s.metrics.CacheOp(op, metrics.ResultError)
	s.log.Error().Err(err).Str("op", op).Str("key", key).Msg("cache " + op + " error")
	if ctx != nil && ctx.Err() != nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	s.connected.Store(false)
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	if !s.connected.Load() {
		s.metrics.CacheOp("get", metrics.ResultSkip)
		return nil, false
	}

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	data, err := s.client.Get(qctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		s.metrics.CacheOp("get", metrics.ResultMiss)
		return nil, false
	}
	if err != nil {
		s.fail(ctx, "get", key, err)
		return nil, false
	}

	s.metrics.CacheOp("get", metrics.ResultHit)
	return data, true
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !s.connected.Load() {
		s.metrics.CacheOp("set", metrics.ResultSkip)
		return
	}

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	if err := s.client.Set(qctx, s.key(key), value, wholeSeconds(ttl, s.cfg.TTL)).Err(); err != nil {
		s.fail(ctx, "set", key, err)
		return
	}
	s.metrics.CacheOp("set", metrics.ResultOK)
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if !s.connected.Load() {
		s.metrics.CacheOp("del", metrics.ResultSkip)
		return
	}

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}

	if err := s.client.Del(qctx, prefixed...).Err(); err != nil {
		s.fail(ctx, "del", keys[0], err)
		return
	}
	s.metrics.CacheOp("del", metrics.ResultOK)
}

// DelPrefix removes every key under prefix using SCAN, so it never blocks the
// server the way KEYS would.
func (s *RedisStore) DelPrefix(ctx context.Context, prefix string) {
	if !s.connected.Load() {
		s.metrics.CacheOp("del_prefix", metrics.ResultSkip)
		return
	}

	if err := s.deleteMatching(ctx, s.key(prefix)+"*"); err != nil {
		s.fail(ctx, "del_prefix", prefix, err)
		return
	}
	s.metrics.CacheOp("del_prefix", metrics.ResultOK)
}

// Flush empties the cache. With a key prefix only the namespace is cleared,
// otherwise the whole logical database is flushed.
func (s *RedisStore) Flush(ctx context.Context) {
	if !s.connected.Load() {
		s.metrics.CacheOp("flush", metrics.ResultSkip)
		return
	}

	var err error
	if s.cfg.KeyPrefix != "" {
		err = s.deleteMatching(ctx, s.cfg.KeyPrefix+"*")
	} else {
		qctx, cancel := s.queryCtx(ctx)
		err = s.client.FlushDB(qctx).Err()
		cancel()
	}

	if err != nil {
		s.fail(ctx, "flush", s.cfg.KeyPrefix, err)
		return
	}
	s.metrics.CacheOp("flush", metrics.ResultOK)
	s.log.Info().Msg("cache flushed")
}

func (s *RedisStore) deleteMatching(ctx context.Context, pattern string) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	iter := s.client.Scan(qctx, 0, pattern, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(qctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := s.client.Del(qctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return s.client.Del(qctx, batch...).Err()
	}
	return nil
}

// Shutdown stops the pinger and closes the client. It is safe to call more
// than once; close errors are logged, not returned.
func (s *RedisStore) Shutdown(ctx context.Context) {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done

		s.connected.Store(false)
		if err := s.client.Close(); err != nil {
			s.log.Error().Err(err).Msg("error closing redis connection")
			return
		}
		s.log.Info().Msg("redis connection closed")
	})
}
