package repositorycache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goliatone/go-customer-cache/cache"
	"github.com/goliatone/go-customer-cache/customer"
	"github.com/goliatone/go-customer-cache/internal/metrics"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Interface assertion to ensure CachedRepository implements customer.Repository
var _ customer.Repository = (*CachedRepository)(nil)

// Cache operation labels.
const (
	opFindByID   = "find_by_id"
	opFindAll    = "find_all"
	opWrite      = "write_through"
	opInvalidate = "invalidate"
)

// DefaultLoadTimeout bounds a shared miss load once it no longer belongs to
// any single caller.
const DefaultLoadTimeout = 10 * time.Second

const (
	entityStripes     = 256
	collectionStripes = 16
)

// Recorder receives one count per cache operation and result.
type Recorder interface {
	CacheOp(op, result string)
}

// Option configures a CachedRepository.
type Option func(*CachedRepository)

// WithTTL sets the TTL of every entry the repository writes. Zero keeps the
// store default.
func WithTTL(ttl time.Duration) Option {
	return func(r *CachedRepository) { r.ttl = ttl }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(r *CachedRepository) {
		r.log = log.With().Str("component", "repositorycache").Logger()
	}
}

// WithMetrics records hits, misses and writes on rec.
func WithMetrics(rec Recorder) Option {
	return func(r *CachedRepository) { r.metrics = rec }
}

// WithLoadTimeout bounds each shared load of a missing key.
func WithLoadTimeout(d time.Duration) Option {
	return func(r *CachedRepository) {
		if d > 0 {
			r.loadTimeout = d
		}
	}
}

// WithPrefixSweep makes every collection invalidation also drop everything
// under the collection prefix on stores that implement cache.PrefixDeleter.
// Only needed when other processes cache listings this one never registers;
// on Redis each sweep scans the keyspace.
func WithPrefixSweep(enabled bool) Option {
	return func(r *CachedRepository) { r.prefixSweep = enabled }
}

// WithKnownSortFields replaces the sort fields whose collection keys are
// registered up front. Every field is registered with every order.
func WithKnownSortFields(fields ...customer.SortField) Option {
	return func(r *CachedRepository) { r.sortFields = fields }
}

// CachedRepository decorates a customer.Repository with cache-aside reads,
// write-through updates and collection invalidation.
//
// The inner repository is authoritative: every write goes there first and
// its errors are returned unchanged. Cache trouble never fails a call.
type CachedRepository struct {
	inner       customer.Repository
	store       cache.Store
	ttl         time.Duration
	log         zerolog.Logger
	metrics     Recorder
	sortFields  []customer.SortField
	loadTimeout time.Duration
	prefixSweep bool

	// keyRegistry holds every collection key this process may have written.
	keyRegistry *xsync.MapOf[string, struct{}]
	loads       singleflight.Group

	// Every cache update of a key group advances its generation under the
	// group lock. A backfill only lands when the generation it saw before
	// reading the inner repository is still current.
	entities    [entityStripes]generation
	collections [collectionStripes]generation
}

// generation serializes cache writes for a group of keys.
type generation struct {
	mu  sync.Mutex
	seq uint64
}

func (g *generation) current() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// since runs fn only when nothing was written after seen, then starts a new
// generation so loads older than this one cannot land afterwards.
func (g *generation) since(seen uint64, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seq != seen {
		return false
	}
	fn()
	g.seq++
	return true
}

// bump runs fn and starts a new generation.
func (g *generation) bump(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn()
	g.seq++
}

// bumpAll runs fn holding every lock of gens and starts a new generation on
// each.
func bumpAll(gens []generation, fn func()) {
	for i := range gens {
		gens[i].mu.Lock()
	}
	defer func() {
		for i := range gens {
			gens[i].seq++
			gens[i].mu.Unlock()
		}
	}()
	fn()
}

// New creates a CachedRepository that wraps inner with store.
func New(inner customer.Repository, store cache.Store, opts ...Option) *CachedRepository {
	r := &CachedRepository{
		inner:       inner,
		store:       store,
		log:         zerolog.Nop(),
		sortFields:  customer.SortFields,
		loadTimeout: DefaultLoadTimeout,
		keyRegistry: xsync.NewMapOf[string, struct{}](),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, f := range r.sortFields {
		for _, o := range customer.Orders {
			r.trackKey(collectionKey(f, o))
		}
	}
	return r
}

// FindByID serves entity:<id> from the cache and falls back to the inner
// repository on a miss, populating the cache with what it finds.
func (r *CachedRepository) FindByID(ctx context.Context, id string) (*customer.Customer, error) {
	key := cache.EntityKey(id)

	if !isFreshRead(ctx) {
		if snap, ok := cache.Get[customer.Snapshot](ctx, r.store, key); ok {
			r.record(opFindByID, metrics.ResultHit)
			return customer.Restore(snap), nil
		}
	}
	r.record(opFindByID, metrics.ResultMiss)

	gen := r.entityGen(key)
	v, err := r.load(ctx, key, gen, func(ctx context.Context, seen uint64) (any, error) {
		c, err := r.inner.FindByID(ctx, id)
		if err != nil || c == nil {
			return nil, err
		}
		snap := c.Snapshot()
		r.backfill(ctx, gen, seen, key, snap)
		return snap, nil
	})
	if err != nil || v == nil {
		return nil, err
	}
	return customer.Restore(v.(customer.Snapshot)), nil
}

// FindAll caches the whole listing under collection:sorted:<field>:<order>.
// Unknown sort fields or orders skip the cache.
func (r *CachedRepository) FindAll(ctx context.Context, field customer.SortField, order customer.Order) ([]*customer.Customer, error) {
	if !isKnownSort(field, order) {
		return r.inner.FindAll(ctx, field, order)
	}

	key := collectionKey(field, order)
	r.trackKey(key)

	if !isFreshRead(ctx) {
		if snaps, ok := cache.Get[[]customer.Snapshot](ctx, r.store, key); ok {
			r.record(opFindAll, metrics.ResultHit)
			return restoreAll(snaps), nil
		}
	}
	r.record(opFindAll, metrics.ResultMiss)

	gen := &r.collections[xxhash.Sum64String(key)%collectionStripes]
	v, err := r.load(ctx, key, gen, func(ctx context.Context, seen uint64) (any, error) {
		list, err := r.inner.FindAll(ctx, field, order)
		if err != nil {
			return nil, err
		}
		snaps := make([]customer.Snapshot, 0, len(list))
		for _, c := range list {
			snaps = append(snaps, c.Snapshot())
		}
		r.backfill(ctx, gen, seen, key, snaps)
		return snaps, nil
	})
	if err != nil {
		return nil, err
	}
	return restoreAll(v.([]customer.Snapshot)), nil
}

// FindByEmail always goes to the inner repository.
func (r *CachedRepository) FindByEmail(ctx context.Context, email string) (*customer.Customer, error) {
	return r.inner.FindByEmail(ctx, email)
}

// Create stores c, drops every collection listing and caches the new entity.
func (r *CachedRepository) Create(ctx context.Context, c *customer.Customer) (*customer.Customer, error) {
	created, err := r.inner.Create(ctx, c)
	if err != nil {
		return nil, err
	}

	r.invalidateCollections(ctx)
	r.writeEntity(ctx, created.ID(), func(key string) { r.put(ctx, key, created.Snapshot()) })
	return created, nil
}

// Update stores c, overwrites its cached snapshot and drops every collection
// listing.
func (r *CachedRepository) Update(ctx context.Context, c *customer.Customer) (*customer.Customer, error) {
	updated, err := r.inner.Update(ctx, c)
	if err != nil {
		return nil, err
	}

	r.writeEntity(ctx, updated.ID(), func(key string) { r.put(ctx, key, updated.Snapshot()) })
	r.invalidateCollections(ctx)
	return updated, nil
}

// Delete removes the customer. Cache entries are only touched when a row was
// actually removed.
func (r *CachedRepository) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := r.inner.Delete(ctx, id)
	if err != nil || !deleted {
		return deleted, err
	}

	r.writeEntity(ctx, id, func(key string) { r.store.Del(ctx, key) })
	r.invalidateCollections(ctx)
	return true, nil
}

// load runs fn once for all concurrent misses of key within one generation
// of gen, so a caller never joins a load that started before a write it
// follows. The shared call runs on a context detached from the callers'
// cancellation and bounded by the load timeout; one caller giving up never
// fails the others. Fresh reads always load on their own.
func (r *CachedRepository) load(ctx context.Context, key string, gen *generation, fn func(context.Context, uint64) (any, error)) (any, error) {
	seen := gen.current()
	if isFreshRead(ctx) {
		return fn(ctx, seen)
	}

	flight := key + "#" + strconv.FormatUint(seen, 10)
	ch := r.loads.DoChan(flight, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()
		return fn(loadCtx, seen)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// backfill caches value unless a write to the same keys landed since seen.
func (r *CachedRepository) backfill(ctx context.Context, gen *generation, seen uint64, key string, value any) {
	if !gen.since(seen, func() { r.put(ctx, key, value) }) {
		r.log.Debug().Str("key", key).Msg("skipped backfill superseded by a write")
		r.record(opWrite, metrics.ResultSkip)
	}
}

// writeEntity applies a write to the entity key of id and supersedes any
// backfill already reading it.
func (r *CachedRepository) writeEntity(ctx context.Context, id string, fn func(key string)) {
	key := cache.EntityKey(id)
	r.entityGen(key).bump(func() { fn(key) })
}

func (r *CachedRepository) entityGen(key string) *generation {
	return &r.entities[xxhash.Sum64String(key)%entityStripes]
}

// put writes value under key. Encoding or transport failures are logged and
// otherwise ignored.
func (r *CachedRepository) put(ctx context.Context, key string, value any) {
	if !r.store.Connected() {
		r.record(opWrite, metrics.ResultSkip)
		return
	}
	if !cache.Set(ctx, r.store, key, value, r.ttl) {
		r.log.Warn().Str("key", key).Msg("failed to encode cache entry")
		r.record(opWrite, metrics.ResultError)
		return
	}
	r.record(opWrite, metrics.ResultOK)
}

// invalidateCollections deletes every collection key in the registry and,
// with the prefix sweep enabled, everything under the collection prefix.
func (r *CachedRepository) invalidateCollections(ctx context.Context) {
	bumpAll(r.collections[:], func() {
		if !r.store.Connected() {
			r.log.Warn().Msg("cache unavailable, collection listings may stay stale until they expire")
			r.record(opInvalidate, metrics.ResultSkip)
			return
		}

		keys := make([]string, 0, r.keyRegistry.Size())
		r.keyRegistry.Range(func(key string, _ struct{}) bool {
			keys = append(keys, key)
			return true
		})
		r.store.Del(ctx, keys...)

		if pd, ok := r.store.(cache.PrefixDeleter); ok && r.prefixSweep {
			pd.DelPrefix(ctx, cache.CollectionPrefix)
		}

		r.log.Debug().Int("keys", len(keys)).Msg("collection caches invalidated")
		r.record(opInvalidate, metrics.ResultOK)
	})
}

// trackKey registers a cache key in the key registry for later invalidation
func (r *CachedRepository) trackKey(key string) {
	r.keyRegistry.Store(key, struct{}{})
}

func (r *CachedRepository) record(op, result string) {
	if r.metrics != nil {
		r.metrics.CacheOp(op, result)
	}
}

func collectionKey(field customer.SortField, order customer.Order) string {
	return cache.CollectionKey(string(field), string(order))
}

func isKnownSort(field customer.SortField, order customer.Order) bool {
	known := false
	for _, f := range customer.SortFields {
		if f == field {
			known = true
			break
		}
	}
	return known && (order == customer.Asc || order == customer.Desc)
}

func restoreAll(snaps []customer.Snapshot) []*customer.Customer {
	out := make([]*customer.Customer, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, customer.Restore(s))
	}
	return out
}
