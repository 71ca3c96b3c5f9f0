package cache

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Store is the narrow key/value contract the repository layer caches through.
//
// Every method is best effort. Implementations log and swallow transport
// errors, and while the backend is unreachable every call is a no-op (Get
// reports a miss). A cache outage may cost latency but never correctness.
type Store interface {
	// Get returns the raw payload stored under key.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value under key. The TTL is applied in whole seconds; a
	// non-positive ttl uses the store's default. The memory backend caps ttl
	// at its configured TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Del removes the given keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string)
	// Flush removes every entry the store owns.
	Flush(ctx context.Context)
	// Shutdown releases the transport. Later calls are no-ops.
	Shutdown(ctx context.Context)
	// Connected reports whether the backend is currently usable.
	Connected() bool
}

// PrefixDeleter is implemented by stores that can remove every key sharing a
// prefix in one call.
type PrefixDeleter interface {
	DelPrefix(ctx context.Context, prefix string)
}

// Get is a type-safe wrapper around Store.Get that decodes the msgpack payload
// into T. A payload that no longer decodes into T is dropped and reported as
// a miss.
func Get[T any](ctx context.Context, s Store, key string) (T, bool) {
	var zero T

	data, ok := s.Get(ctx, key)
	if !ok {
		return zero, false
	}

	var value T
	if err := msgpack.Unmarshal(data, &value); err != nil {
		s.Del(ctx, key)
		return zero, false
	}
	return value, true
}

// Set encodes value with msgpack and writes it through Store.Set. It reports
// whether the value could be encoded; the write itself is best effort.
func Set[T any](ctx context.Context, s Store, key string, value T, ttl time.Duration) bool {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return false
	}
	s.Set(ctx, key, data, ttl)
	return true
}
