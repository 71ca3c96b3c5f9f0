// Package repositorycache provides a caching decorator for customer.Repository.
//
// # Overview
//
// CachedRepository wraps the authoritative repository and a cache.Store. Reads
// follow the cache-aside pattern, updates write the fresh snapshot through to
// the cache, and every successful mutation drops the cached sorted listings.
//
// # Basic Usage
//
//	cacheStore, _ := cache.NewStore(ctx, cache.DefaultConfig(), log, nil)
//	base := store.New(manager, log) // internal/store
//
//	cached := repositorycache.New(base, cacheStore,
//		repositorycache.WithTTL(5*time.Minute),
//		repositorycache.WithLogger(log),
//	)
//
//	c, err := cached.FindByID(ctx, id)
//	list, err := cached.FindAll(ctx, customer.SortByAvailableCredit, customer.Desc)
//
// # Cached vs Pass-through Operations
//
//   - FindByID is cached under entity:<id>
//   - FindAll is cached under collection:sorted:<field>:<order>
//   - FindByEmail always reaches the inner repository
//
// Concurrent misses for the same key share a single load. The load runs
// detached from any one caller, so a caller that gives up only fails itself.
//
// # Writes
//
//   - Create invalidates listings, then caches the new entity
//   - Update caches the returned entity, then invalidates listings
//   - Delete drops the entity key and listings, only when a row was removed
//
// Listings are invalidated through a registry of every collection key the
// process may have written, pre-seeded with each sort field and order. With
// WithPrefixSweep, stores that implement cache.PrefixDeleter additionally drop
// everything under collection:sorted: so listings written by processes with
// other sort fields go too.
//
// A backfill that started before a write never lands after it: writes
// advance a generation per key group and a stale load skips its cache put.
//
// # Fresh Reads
//
// Cached entities can trail the store when another process writes. Wrap the
// context with WithFreshRead before a read-modify-write sequence to skip the
// lookup; the value read still refreshes the cache.
//
// # Error Handling
//
// Errors from the inner repository are returned unchanged. Cache failures are
// logged and never fail a call; when the store is disconnected writes and
// invalidations are skipped and every read reaches the inner repository.
package repositorycache
