package repositorycache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-customer-cache/cache"
	"github.com/goliatone/go-customer-cache/customer"
	"github.com/vmihailenco/msgpack/v5"
)

// mockRepository is an in-memory customer.Repository that records calls.
type mockRepository struct {
	mu    sync.Mutex
	calls []string
	rows  map[string]customer.Snapshot

	// findHook runs inside FindByID after the row was read.
	findHook func(id string)

	findError   error
	createError error
	updateError error
	deleteError error
}

func newMockRepository() *mockRepository {
	return &mockRepository{rows: make(map[string]customer.Snapshot)}
}

func (m *mockRepository) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method)
}

func (m *mockRepository) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockRepository) clearCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *mockRepository) put(c *customer.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[c.ID()] = c.Snapshot()
}

func (m *mockRepository) FindAll(ctx context.Context, field customer.SortField, order customer.Order) ([]*customer.Customer, error) {
	m.recordCall("FindAll")
	if m.findError != nil {
		return nil, m.findError
	}

	m.mu.Lock()
	snaps := make([]customer.Snapshot, 0, len(m.rows))
	for _, s := range m.rows {
		snaps = append(snaps, s)
	}
	m.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool {
		less := snaps[i].AvailableCredit < snaps[j].AvailableCredit
		if field != customer.SortByAvailableCredit {
			less = snaps[i].Email < snaps[j].Email
		}
		if order == customer.Desc {
			return !less
		}
		return less
	})
	return restoreAll(snaps), nil
}

func (m *mockRepository) FindByID(ctx context.Context, id string) (*customer.Customer, error) {
	m.recordCall("FindByID")
	if m.findError != nil {
		return nil, m.findError
	}
	m.mu.Lock()
	s, ok := m.rows[id]
	m.mu.Unlock()
	if m.findHook != nil {
		m.findHook(id)
	}
	if !ok {
		return nil, nil
	}
	return customer.Restore(s), nil
}

func (m *mockRepository) FindByEmail(ctx context.Context, email string) (*customer.Customer, error) {
	m.recordCall("FindByEmail")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.Email == email {
			return customer.Restore(s), nil
		}
	}
	return nil, nil
}

func (m *mockRepository) Create(ctx context.Context, c *customer.Customer) (*customer.Customer, error) {
	m.recordCall("Create")
	if m.createError != nil {
		return nil, m.createError
	}
	m.put(c)
	return customer.Restore(c.Snapshot()), nil
}

func (m *mockRepository) Update(ctx context.Context, c *customer.Customer) (*customer.Customer, error) {
	m.recordCall("Update")
	if m.updateError != nil {
		return nil, m.updateError
	}
	m.mu.Lock()
	_, ok := m.rows[c.ID()]
	m.mu.Unlock()
	if !ok {
		return nil, &customer.NotFoundError{ID: c.ID()}
	}
	m.put(c)
	return customer.Restore(c.Snapshot()), nil
}

func (m *mockRepository) Delete(ctx context.Context, id string) (bool, error) {
	m.recordCall("Delete")
	if m.deleteError != nil {
		return false, m.deleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return false, nil
	}
	delete(m.rows, id)
	return true, nil
}

// mockStore is a cache.Store that records operations and can be switched off
// to simulate a cache outage.
type mockStore struct {
	mu        sync.Mutex
	calls     []string
	storage   map[string][]byte
	ttls      map[string]time.Duration
	connected bool
}

func newMockStore() *mockStore {
	return &mockStore{
		storage:   make(map[string][]byte),
		ttls:      make(map[string]time.Duration),
		connected: true,
	}
}

func (m *mockStore) recordCall(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockStore) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockStore) clearCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *mockStore) setConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

// SetCacheValue pre-populates the cache to simulate a hit.
func (m *mockStore) SetCacheValue(t *testing.T, key string, value any) {
	t.Helper()
	data, err := msgpack.Marshal(value)
	if err != nil {
		t.Fatalf("failed to encode cache value: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storage[key] = data
}

func (m *mockStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.storage[key]
	return ok
}

func (m *mockStore) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("Get:" + key)
	if !m.connected {
		return nil, false
	}
	v, ok := m.storage[key]
	return v, ok
}

func (m *mockStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("Set:" + key)
	if !m.connected {
		return
	}
	m.storage[key] = value
	m.ttls[key] = ttl
}

func (m *mockStore) Del(_ context.Context, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("Del:" + strings.Join(keys, ","))
	if !m.connected {
		return
	}
	for _, k := range keys {
		delete(m.storage, k)
	}
}

func (m *mockStore) DelPrefix(_ context.Context, prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("DelPrefix:" + prefix)
	if !m.connected {
		return
	}
	for k := range m.storage {
		if strings.HasPrefix(k, prefix) {
			delete(m.storage, k)
		}
	}
}

func (m *mockStore) Flush(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("Flush")
	m.storage = make(map[string][]byte)
}

func (m *mockStore) Shutdown(context.Context) {}

func (m *mockStore) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) CacheOp(op, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[op+"/"+result]++
}

func (r *countingRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func newCustomer(t *testing.T, email string, credit float64) *customer.Customer {
	t.Helper()
	c, err := customer.New(customer.Fields{
		FirstName:       "Ada",
		LastName:        "Lovelace",
		Email:           email,
		Phone:           "+44 20 7946 0001",
		Address:         "12 St James's Square, London",
		AvailableCredit: credit,
	})
	if err != nil {
		t.Fatalf("failed to build customer: %v", err)
	}
	return c
}

func assertSnapshot(t *testing.T, got *customer.Customer, want customer.Snapshot) {
	t.Helper()
	if got == nil {
		t.Fatal("expected a customer, got nil")
	}
	g := got.Snapshot()
	if !g.CreatedAt.Equal(want.CreatedAt) || !g.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("timestamps differ: got %v/%v want %v/%v", g.CreatedAt, g.UpdatedAt, want.CreatedAt, want.UpdatedAt)
	}
	g.CreatedAt, g.UpdatedAt = want.CreatedAt, want.UpdatedAt
	if g != want {
		t.Errorf("snapshot mismatch:\n got  %+v\n want %+v", g, want)
	}
}

func collectionKeys(store *mockStore) []string {
	store.mu.Lock()
	defer store.mu.Unlock()
	var keys []string
	for k := range store.storage {
		if strings.HasPrefix(k, cache.CollectionPrefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

func TestNew(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()

	cached := New(inner, store, WithTTL(time.Minute))

	if cached == nil {
		t.Fatal("New() returned nil")
	}
	if cached.inner != inner {
		t.Error("inner repository not stored correctly")
	}
	if cached.store != store {
		t.Error("cache store not stored correctly")
	}
	if cached.ttl != time.Minute {
		t.Errorf("expected ttl 1m, got %v", cached.ttl)
	}

	want := len(customer.SortFields) * len(customer.Orders)
	if got := cached.keyRegistry.Size(); got != want {
		t.Errorf("expected %d pre-registered collection keys, got %d", want, got)
	}
	if _, ok := cached.keyRegistry.Load("collection:sorted:availableCredit:asc"); !ok {
		t.Error("expected credit listing key to be registered")
	}
}

func TestNew_WithKnownSortFields(t *testing.T) {
	cached := New(newMockRepository(), newMockStore(), WithKnownSortFields(customer.SortByAvailableCredit))

	if got := cached.keyRegistry.Size(); got != 2 {
		t.Errorf("expected 2 pre-registered keys, got %d", got)
	}
}

func TestFindByID_CacheHit(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	rec := &countingRecorder{}

	c := newCustomer(t, "ada@example.com", 100)
	store.SetCacheValue(t, cache.EntityKey(c.ID()), c.Snapshot())

	cached := New(inner, store, WithMetrics(rec))

	got, err := cached.FindByID(context.Background(), c.ID())
	if err != nil {
		t.Fatalf("FindByID() failed: %v", err)
	}
	assertSnapshot(t, got, c.Snapshot())

	if calls := inner.getCalls(); len(calls) != 0 {
		t.Errorf("expected no inner calls on hit, got %v", calls)
	}
	if rec.get(opFindByID+"/hit") != 1 {
		t.Errorf("expected one recorded hit, got %v", rec.counts)
	}

	// Rehydrated values keep entity behaviour.
	if err := got.UseCredit(500); !errors.Is(err, customer.ErrInsufficientCredit) {
		t.Errorf("expected balance invariant on cached entity, got %v", err)
	}
}

func TestFindByID_CacheMissPopulates(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	rec := &countingRecorder{}

	c := newCustomer(t, "ada@example.com", 100)
	inner.put(c)

	cached := New(inner, store, WithTTL(90*time.Second), WithMetrics(rec))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := cached.FindByID(ctx, c.ID())
		if err != nil {
			t.Fatalf("FindByID() #%d failed: %v", i+1, err)
		}
		assertSnapshot(t, got, c.Snapshot())
	}

	if calls := inner.getCalls(); len(calls) != 1 || calls[0] != "FindByID" {
		t.Errorf("expected a single inner FindByID, got %v", calls)
	}
	if !store.has(cache.EntityKey(c.ID())) {
		t.Error("expected entity to be cached after a miss")
	}
	if ttl := store.ttls[cache.EntityKey(c.ID())]; ttl != 90*time.Second {
		t.Errorf("expected configured ttl, got %v", ttl)
	}
	if rec.get(opFindByID+"/miss") != 1 || rec.get(opFindByID+"/hit") != 2 {
		t.Errorf("unexpected hit/miss counts: %v", rec.counts)
	}
}

func TestFindByID_AbsentIsNotCached(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	cached := New(inner, store)

	got, err := cached.FindByID(context.Background(), "missing")
	if err != nil || got != nil {
		t.Fatalf("FindByID() = %v, %v; want nil, nil", got, err)
	}
	if store.has(cache.EntityKey("missing")) {
		t.Error("absent entities must not be cached")
	}
}

func TestFindByID_StoreErrorPropagatesUnchanged(t *testing.T) {
	storeErr := errors.New("connection reset by peer")
	inner := newMockRepository()
	inner.findError = storeErr

	cached := New(inner, newMockStore())

	_, err := cached.FindByID(context.Background(), "x")
	if err != storeErr {
		t.Errorf("expected the inner error unchanged, got %v", err)
	}
}

func TestFindByID_CorruptEntryFallsBack(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()

	c := newCustomer(t, "ada@example.com", 100)
	inner.put(c)
	store.mu.Lock()
	store.storage[cache.EntityKey(c.ID())] = []byte("not msgpack")
	store.mu.Unlock()

	cached := New(inner, store)
	got, err := cached.FindByID(context.Background(), c.ID())
	if err != nil {
		t.Fatalf("FindByID() failed: %v", err)
	}
	assertSnapshot(t, got, c.Snapshot())
	if calls := inner.getCalls(); len(calls) != 1 {
		t.Errorf("expected fallback to the inner repository, got %v", calls)
	}
}

func TestFindByID_FreshReadSkipsLookup(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()

	c := newCustomer(t, "ada@example.com", 100)
	inner.put(c)

	stale := customer.Restore(c.Snapshot())
	if err := stale.UseCredit(100); err != nil {
		t.Fatal(err)
	}
	store.SetCacheValue(t, cache.EntityKey(c.ID()), stale.Snapshot())

	cached := New(inner, store)
	got, err := cached.FindByID(WithFreshRead(context.Background()), c.ID())
	if err != nil {
		t.Fatalf("FindByID() failed: %v", err)
	}
	if got.AvailableCredit() != 100 {
		t.Errorf("expected store value 100, got %v", got.AvailableCredit())
	}

	// The fresh read also repaired the cache.
	inner.clearCalls()
	again, _ := cached.FindByID(context.Background(), c.ID())
	if again.AvailableCredit() != 100 || len(inner.getCalls()) != 0 {
		t.Errorf("expected repaired cache hit, got credit %v and calls %v", again.AvailableCredit(), inner.getCalls())
	}
}

func TestFindAll_CacheMissThenHit(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	inner.put(newCustomer(t, "a@example.com", 10))
	inner.put(newCustomer(t, "b@example.com", 20))

	cached := New(inner, store)
	ctx := context.Background()

	first, err := cached.FindAll(ctx, customer.SortByAvailableCredit, customer.Desc)
	if err != nil {
		t.Fatalf("FindAll() failed: %v", err)
	}
	second, err := cached.FindAll(ctx, customer.SortByAvailableCredit, customer.Desc)
	if err != nil {
		t.Fatalf("FindAll() failed: %v", err)
	}

	if calls := inner.getCalls(); len(calls) != 1 {
		t.Errorf("expected a single inner FindAll, got %v", calls)
	}
	if !store.has("collection:sorted:availableCredit:desc") {
		t.Error("expected listing cached under its collection key")
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 customers, got %d and %d", len(first), len(second))
	}
	for i := range first {
		assertSnapshot(t, second[i], first[i].Snapshot())
	}
	if second[0].AvailableCredit() != 20 {
		t.Errorf("expected cached order to be preserved, got %v first", second[0].AvailableCredit())
	}
}

func TestFindAll_EmptyListingIsCached(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	cached := New(inner, store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := cached.FindAll(ctx, customer.SortByEmail, customer.Asc)
		if err != nil {
			t.Fatalf("FindAll() failed: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected an empty non-nil listing, got %v", got)
		}
	}
	if calls := inner.getCalls(); len(calls) != 1 {
		t.Errorf("expected a single inner call, got %v", calls)
	}
}

func TestFindAll_UnknownSortBypassesCache(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	cached := New(inner, store)

	_, _ = cached.FindAll(context.Background(), customer.SortField("shoeSize"), customer.Asc)

	if calls := store.getCalls(); len(calls) != 0 {
		t.Errorf("expected no cache traffic for unknown sort fields, got %v", calls)
	}
	if _, ok := cached.keyRegistry.Load("collection:sorted:shoeSize:asc"); ok {
		t.Error("unknown sort fields must not be registered")
	}
}

func TestFindByEmail_BypassesCache(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	c := newCustomer(t, "ada@example.com", 0)
	inner.put(c)

	cached := New(inner, store)
	for i := 0; i < 2; i++ {
		got, err := cached.FindByEmail(context.Background(), "ada@example.com")
		if err != nil || got == nil || got.ID() != c.ID() {
			t.Fatalf("FindByEmail() = %v, %v", got, err)
		}
	}

	if calls := store.getCalls(); len(calls) != 0 {
		t.Errorf("expected no cache traffic, got %v", calls)
	}
	if calls := inner.getCalls(); len(calls) != 2 {
		t.Errorf("expected every lookup to reach the inner repository, got %v", calls)
	}
}

func TestCreate_InvalidatesThenPopulates(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	cached := New(inner, store, WithKnownSortFields(customer.SortByEmail))
	ctx := context.Background()

	store.SetCacheValue(t, "collection:sorted:email:asc", []customer.Snapshot{})

	c := newCustomer(t, "ada@example.com", 100)
	created, err := cached.Create(ctx, c)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	assertSnapshot(t, created, c.Snapshot())

	calls := store.getCalls()
	if len(calls) != 2 {
		t.Fatalf("expected Del, Set; got %v", calls)
	}
	if !strings.HasPrefix(calls[0], "Del:") ||
		!strings.Contains(calls[0], "collection:sorted:email:asc") ||
		!strings.Contains(calls[0], "collection:sorted:email:desc") {
		t.Errorf("expected registered collection keys to be deleted first, got %q", calls[0])
	}
	if calls[1] != "Set:"+cache.EntityKey(c.ID()) {
		t.Errorf("expected entity population last, got %q", calls[1])
	}

	if keys := collectionKeys(store); len(keys) != 0 {
		t.Errorf("expected no collection caches after create, got %v", keys)
	}
}

func TestCreate_PrefixSweep(t *testing.T) {
	tests := []struct {
		name      string
		sweep     bool
		wantSwept bool
	}{
		{"disabled by default", false, false},
		{"enabled", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := newMockRepository()
			store := newMockStore()
			cached := New(inner, store, WithPrefixSweep(tt.sweep))

			// Written by a process with different sort fields.
			foreign := cache.CollectionPrefix + "nickname:asc"
			store.SetCacheValue(t, foreign, []customer.Snapshot{})

			if _, err := cached.Create(context.Background(), newCustomer(t, "ada@example.com", 1)); err != nil {
				t.Fatal(err)
			}

			swept := false
			for _, call := range store.getCalls() {
				if call == "DelPrefix:"+cache.CollectionPrefix {
					swept = true
				}
			}
			if swept != tt.wantSwept {
				t.Errorf("expected prefix sweep %v, calls %v", tt.wantSwept, store.getCalls())
			}
			if store.has(foreign) == tt.wantSwept {
				t.Errorf("foreign listing present = %v, want %v", store.has(foreign), !tt.wantSwept)
			}
		})
	}
}

func TestCreate_ErrorLeavesCacheUntouched(t *testing.T) {
	conflict := &customer.ConflictError{Field: "email", Value: "ada@example.com"}
	inner := newMockRepository()
	inner.createError = conflict
	store := newMockStore()

	cached := New(inner, store)
	_, err := cached.Create(context.Background(), newCustomer(t, "ada@example.com", 0))

	if err != conflict {
		t.Errorf("expected conflict error unchanged, got %v", err)
	}
	if calls := store.getCalls(); len(calls) != 0 {
		t.Errorf("expected no cache traffic after a failed write, got %v", calls)
	}
}

func TestUpdate_WritesThroughThenInvalidates(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	ctx := context.Background()

	c := newCustomer(t, "ada@example.com", 100)
	inner.put(c)

	cached := New(inner, store)
	if _, err := cached.FindByID(ctx, c.ID()); err != nil {
		t.Fatal(err)
	}
	if _, err := cached.FindAll(ctx, customer.SortByAvailableCredit, customer.Desc); err != nil {
		t.Fatal(err)
	}
	store.clearCalls()

	if err := c.AddCredit(50); err != nil {
		t.Fatal(err)
	}
	if _, err := cached.Update(ctx, c); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	calls := store.getCalls()
	if len(calls) < 2 || calls[0] != "Set:"+cache.EntityKey(c.ID()) {
		t.Fatalf("expected entity write-through first, got %v", calls)
	}
	if !strings.HasPrefix(calls[1], "Del:") {
		t.Errorf("expected collection invalidation after write-through, got %v", calls)
	}

	inner.clearCalls()
	got, err := cached.FindByID(ctx, c.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.AvailableCredit() != 150 {
		t.Errorf("expected fresh snapshot with credit 150, got %v", got.AvailableCredit())
	}
	if calls := inner.getCalls(); len(calls) != 0 {
		t.Errorf("expected the read to be served from cache, got %v", calls)
	}

	list, err := cached.FindAll(ctx, customer.SortByAvailableCredit, customer.Desc)
	if err != nil {
		t.Fatal(err)
	}
	if list[0].AvailableCredit() != 150 {
		t.Errorf("expected listing to reflect the update, got %v", list[0].AvailableCredit())
	}
}

func TestUpdate_MissingSignalsNotFound(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	cached := New(inner, store)

	_, err := cached.Update(context.Background(), newCustomer(t, "ghost@example.com", 0))

	var nf *customer.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if calls := store.getCalls(); len(calls) != 0 {
		t.Errorf("expected no cache traffic, got %v", calls)
	}
}

func TestDelete_TrueThenFalse(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	ctx := context.Background()

	c := newCustomer(t, "ada@example.com", 100)
	inner.put(c)

	cached := New(inner, store)
	if _, err := cached.FindByID(ctx, c.ID()); err != nil {
		t.Fatal(err)
	}
	if _, err := cached.FindAll(ctx, customer.SortByCreatedAt, customer.Desc); err != nil {
		t.Fatal(err)
	}

	first, err := cached.Delete(ctx, c.ID())
	if err != nil || !first {
		t.Fatalf("first Delete() = %v, %v; want true, nil", first, err)
	}
	if store.has(cache.EntityKey(c.ID())) {
		t.Error("expected entity key to be removed")
	}
	if keys := collectionKeys(store); len(keys) != 0 {
		t.Errorf("expected collection caches to be invalidated, got %v", keys)
	}

	store.clearCalls()
	second, err := cached.Delete(ctx, c.ID())
	if err != nil || second {
		t.Fatalf("second Delete() = %v, %v; want false, nil", second, err)
	}
	if calls := store.getCalls(); len(calls) != 0 {
		t.Errorf("expected no cache traffic when nothing was deleted, got %v", calls)
	}

	list, _ := cached.FindAll(ctx, customer.SortByCreatedAt, customer.Desc)
	if len(list) != 0 {
		t.Errorf("expected deleted entity to be gone from listings, got %d", len(list))
	}
}

func TestInvalidationCompleteness(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	ctx := context.Background()
	cached := New(inner, store)

	existing := newCustomer(t, "a@example.com", 10)
	inner.put(existing)

	for _, f := range customer.SortFields {
		for _, o := range customer.Orders {
			if _, err := cached.FindAll(ctx, f, o); err != nil {
				t.Fatal(err)
			}
		}
	}
	if got := len(collectionKeys(store)); got != len(customer.SortFields)*len(customer.Orders) {
		t.Fatalf("expected every listing cached, got %d", got)
	}

	added := newCustomer(t, "b@example.com", 20)
	if _, err := cached.Create(ctx, added); err != nil {
		t.Fatal(err)
	}

	for _, f := range customer.SortFields {
		for _, o := range customer.Orders {
			list, err := cached.FindAll(ctx, f, o)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 2 {
				t.Errorf("%s/%s: expected the new customer in the listing, got %d entries", f, o, len(list))
			}
		}
	}
}

func TestCacheOutage(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	store.setConnected(false)
	rec := &countingRecorder{}
	ctx := context.Background()

	cached := New(inner, store, WithMetrics(rec))

	c := newCustomer(t, "ada@example.com", 100)
	tests := []struct {
		name string
		op   func() error
	}{
		{"create", func() error { _, err := cached.Create(ctx, c); return err }},
		{"find by id", func() error {
			got, err := cached.FindByID(ctx, c.ID())
			if err == nil && got == nil {
				return fmt.Errorf("expected store fallback to find the customer")
			}
			return err
		}},
		{"find all", func() error { _, err := cached.FindAll(ctx, customer.SortByCreatedAt, customer.Desc); return err }},
		{"update", func() error {
			if err := c.AddCredit(1); err != nil {
				return err
			}
			_, err := cached.Update(ctx, c)
			return err
		}},
		{"delete", func() error { _, err := cached.Delete(ctx, c.ID()); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); err != nil {
				t.Errorf("expected success during cache outage, got %v", err)
			}
		})
	}

	store.mu.Lock()
	stored := len(store.storage)
	store.mu.Unlock()
	if stored != 0 {
		t.Errorf("expected nothing to be cached during outage, got %d entries", stored)
	}
	if rec.get(opWrite+"/skipped") == 0 || rec.get(opInvalidate+"/skipped") == 0 {
		t.Errorf("expected skipped writes to be recorded, got %v", rec.counts)
	}
}

func TestAddCreditScenario(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	ctx := context.Background()
	cached := New(inner, store)

	created, err := cached.Create(ctx, newCustomer(t, "ada@example.com", 100))
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := cached.FindByID(ctx, created.ID())
	if err != nil {
		t.Fatal(err)
	}
	if err := loaded.AddCredit(50); err != nil {
		t.Fatal(err)
	}
	if _, err := cached.Update(ctx, loaded); err != nil {
		t.Fatal(err)
	}

	inner.clearCalls()
	got, err := cached.FindByID(ctx, created.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.AvailableCredit() != 150 {
		t.Errorf("expected balance 150, got %v", got.AvailableCredit())
	}
	if calls := inner.getCalls(); len(calls) != 0 {
		t.Errorf("expected the balance to be served from cache, got %v", calls)
	}
}

func TestWithFreshRead(t *testing.T) {
	ctx := context.Background()
	if isFreshRead(ctx) {
		t.Error("plain context must not be marked fresh")
	}
	fresh := WithFreshRead(ctx)
	if !isFreshRead(fresh) {
		t.Error("expected context to be marked fresh")
	}
	if WithFreshRead(fresh) != fresh {
		t.Error("expected marking twice to reuse the context")
	}
}

func TestFindByID_CallerCancellationDoesNotFailOthers(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	cached := New(inner, store)

	c := newCustomer(t, "ada@example.com", 100)
	inner.put(c)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	inner.findHook = func(string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := cached.FindByID(ctxA, c.ID())
		errA <- err
	}()
	<-entered

	type result struct {
		c   *customer.Customer
		err error
	}
	resB := make(chan result, 1)
	go func() {
		got, err := cached.FindByID(context.Background(), c.ID())
		resB <- result{got, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected the cancelled caller to see context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case res := <-resB:
		if res.err != nil {
			t.Fatalf("expected the healthy caller to succeed, got %v", res.err)
		}
		assertSnapshot(t, res.c, c.Snapshot())
	case <-time.After(time.Second):
		t.Fatal("healthy caller did not return")
	}
}

func TestFindByID_BackfillDoesNotOverwriteNewerWrite(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	cached := New(inner, store)
	ctx := context.Background()

	c := newCustomer(t, "ada@example.com", 100)
	inner.put(c)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	inner.findHook = func(string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	done := make(chan *customer.Customer, 1)
	go func() {
		got, err := cached.FindByID(ctx, c.ID())
		if err != nil {
			t.Errorf("FindByID() failed: %v", err)
		}
		done <- got
	}()
	<-entered

	// The reader holds the balance of 100 while the update commits.
	updated := customer.Restore(c.Snapshot())
	if err := updated.AddCredit(50); err != nil {
		t.Fatal(err)
	}
	if _, err := cached.Update(ctx, updated); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	close(release)
	<-done

	got, err := cached.FindByID(ctx, c.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.AvailableCredit() != 150 {
		t.Errorf("expected the written balance 150 to survive the backfill, got %v", got.AvailableCredit())
	}
}

func TestFindByID_FreshReadDoesNotJoinEarlierLoad(t *testing.T) {
	inner := newMockRepository()
	store := newMockStore()
	cached := New(inner, store)
	ctx := context.Background()

	c := newCustomer(t, "ada@example.com", 100)
	inner.put(c)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	inner.findHook = func(string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	defer close(release)

	go cached.FindByID(ctx, c.ID())
	<-entered

	// Another process changes the balance behind the cache.
	changed := customer.Restore(c.Snapshot())
	if err := changed.AddCredit(25); err != nil {
		t.Fatal(err)
	}
	inner.put(changed)

	got, err := cached.FindByID(WithFreshRead(ctx), c.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.AvailableCredit() != 125 {
		t.Errorf("expected the fresh read to see 125, got %v", got.AvailableCredit())
	}
}

func TestFindAll_BackfillDoesNotOutliveInvalidation(t *testing.T) {
	inner := &slowListRepository{mockRepository: newMockRepository(), entered: make(chan struct{}), release: make(chan struct{})}
	store := newMockStore()
	cached := New(inner, store)
	ctx := context.Background()

	inner.put(newCustomer(t, "a@example.com", 10))

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := cached.FindAll(ctx, customer.SortByAvailableCredit, customer.Desc); err != nil {
			t.Errorf("FindAll() failed: %v", err)
		}
	}()
	<-inner.entered

	if _, err := cached.Create(ctx, newCustomer(t, "b@example.com", 20)); err != nil {
		t.Fatal(err)
	}
	close(inner.release)
	<-done

	list, err := cached.FindAll(ctx, customer.SortByAvailableCredit, customer.Desc)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("expected the listing to include the new customer, got %d entries", len(list))
	}
}

// slowListRepository parks the first FindAll after it has read the rows.
type slowListRepository struct {
	*mockRepository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowListRepository) FindAll(ctx context.Context, field customer.SortField, order customer.Order) ([]*customer.Customer, error) {
	list, err := s.mockRepository.FindAll(ctx, field, order)
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return list, err
}
