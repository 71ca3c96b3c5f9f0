// Package cache provides the key/value contract, key layout and backend
// selection used by repository caching.
//
// # Overview
//
// This package exports:
//
//   - Store: a best-effort byte store (Redis or in-process)
//   - Get and Set: typed msgpack helpers on top of any Store
//   - KeySerializer, EntityKey and CollectionKey: the cache key layout
//   - Config and NewStore: backend selection
//
// # Basic Usage
//
//	store, err := cache.NewStore(ctx, cache.DefaultConfig(), logger, nil)
//	if err != nil {
//		return err
//	}
//	defer store.Shutdown(ctx)
//
//	cache.Set(ctx, store, cache.EntityKey(id), snapshot, 0)
//	snap, ok := cache.Get[customer.Snapshot](ctx, store, cache.EntityKey(id))
//
// # Key Layout
//
// Keys are colon separated:
//
//   - entity:<id> holds one entity snapshot
//   - collection:sorted:<field>:<order> holds one sorted listing
//
// A configured KeyPrefix is prepended by the backend, so the layout above is
// the same for every deployment.
//
// # Failure Model
//
// The cache never fails a caller. Transport errors are logged and counted,
// the store is marked disconnected, and every operation becomes a no-op until
// a background ping succeeds again. Reads then fall through to the primary
// store.
//
// # See Also
//
// For the repository decorator built on top of this package, see the
// repositorycache package.
package cache
