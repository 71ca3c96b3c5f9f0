package cacheinfra

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-customer-cache/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/viccon/sturdyc"
)

// envelope carries the payload together with its own deadline so a per call
// TTL shorter than the client wide TTL is honoured.
type envelope struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryStore is an in-process cache backed by a sturdyc client. It is used
// for local development and tests; it never fails.
//
// sturdyc applies a single TTL to the whole client, so a per call TTL longer
// than Config.TTL is capped at Config.TTL.
type MemoryStore struct {
	client  *sturdyc.Client[envelope]
	ttl     time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
	closed  atomic.Bool
	now     func() time.Time
}

// NewMemoryStore validates the configuration and initializes a sturdyc client
// with the provided settings.
func NewMemoryStore(cfg Config, log zerolog.Logger, m *metrics.Metrics) (*MemoryStore, error) {
	cfg.Backend = BackendMemory
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[envelope](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &MemoryStore{
		client:  client,
		ttl:     cfg.TTL,
		log:     log.With().Str("component", "cache").Str("backend", string(BackendMemory)).Logger(),
		metrics: m,
		now:     time.Now,
	}, nil
}

// Connected reports false only after Shutdown.
func (s *MemoryStore) Connected() bool {
	return !s.closed.Load()
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	if s.closed.Load() {
		s.metrics.CacheOp("get", metrics.ResultSkip)
		return nil, false
	}

	env, ok := s.client.Get(key)
	if !ok || !s.now().Before(env.expiresAt) {
		s.metrics.CacheOp("get", metrics.ResultMiss)
		return nil, false
	}

	s.metrics.CacheOp("get", metrics.ResultHit)
	return env.payload, true
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if s.closed.Load() {
		s.metrics.CacheOp("set", metrics.ResultSkip)
		return
	}

	ttl = wholeSeconds(ttl, s.ttl)
	if ttl > s.ttl {
		s.log.Debug().
			Str("key", key).
			Dur("requested", ttl).
			Dur("applied", s.ttl).
			Msg("ttl capped at the client ttl")
		ttl = s.ttl
	}

	payload := append([]byte(nil), value...)
	s.client.Set(key, envelope{payload: payload, expiresAt: s.now().Add(ttl)})
	s.metrics.CacheOp("set", metrics.ResultOK)
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) {
	if s.closed.Load() {
		s.metrics.CacheOp("del", metrics.ResultSkip)
		return
	}
	for _, key := range keys {
		s.client.Delete(key)
	}
	s.metrics.CacheOp("del", metrics.ResultOK)
}

// DelPrefix removes every entry whose key starts with prefix.
func (s *MemoryStore) DelPrefix(_ context.Context, prefix string) {
	if s.closed.Load() {
		s.metrics.CacheOp("del_prefix", metrics.ResultSkip)
		return
	}
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	s.metrics.CacheOp("del_prefix", metrics.ResultOK)
}

func (s *MemoryStore) Flush(ctx context.Context) {
	if s.closed.Load() {
		s.metrics.CacheOp("flush", metrics.ResultSkip)
		return
	}
	for _, key := range s.client.ScanKeys() {
		s.client.Delete(key)
	}
	s.metrics.CacheOp("flush", metrics.ResultOK)
	s.log.Info().Msg("cache flushed")
}

func (s *MemoryStore) Shutdown(ctx context.Context) {
	if s.closed.Swap(true) {
		return
	}
	for _, key := range s.client.ScanKeys() {
		s.client.Delete(key)
	}
	s.log.Info().Msg("memory cache closed")
}
