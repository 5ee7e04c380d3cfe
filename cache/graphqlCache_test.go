package cache

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/intrafmc/cbd_backend/utils"
	"github.com/sirupsen/logrus"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestCache(t *testing.T, opts ...Option) (*GraphQLCache, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(store, opts...), store, clock
}

type category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func countingLoader(calls *int32, value []category) func(context.Context) ([]category, error) {
	return func(context.Context) ([]category, error) {
		atomic.AddInt32(calls, 1)
		return value, nil
	}
}

func TestKeyFormat(t *testing.T) {
	c, _, _ := newTestCache(t)
	if got := c.Key(ResourceProducts, "42"); got != "graphql_cache.products.42" {
		t.Fatalf("unexpected key %q", got)
	}
	c2, _, _ := newTestCache(t, WithPrefix("shop"))
	if got := c2.Key(ResourceCategories, IdentifierAll); got != "shop.categories.all" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestResourceTTLs(t *testing.T) {
	cases := []struct {
		resource ResourceType
		ttl      time.Duration
	}{
		{ResourceCategories, time.Hour},
		{ResourceProducts, 30 * time.Minute},
		{ResourceSuppliers, 2 * time.Hour},
		{ResourceUserProfile, 15 * time.Minute},
		{ResourceSchema, 24 * time.Hour},
		{ResourcePermissions, 30 * time.Minute},
	}
	for _, tc := range cases {
		if got := tc.resource.TTL(); got != tc.ttl {
			t.Fatalf("%s: expected ttl %s, got %s", tc.resource, tc.ttl, got)
		}
	}
	if _, err := ParseResourceType("orders"); err == nil {
		t.Fatalf("expected unknown resource type to be rejected")
	}
}

func TestGetCached_HitSkipsLoader(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	var calls int32
	want := []category{{ID: 1, Name: "Oils"}}

	for i := 0; i < 3; i++ {
		got, err := GetCached(ctx, c, ResourceCategories, IdentifierAll, countingLoader(&calls, want))
		if err != nil {
			t.Fatalf("GetCached: %v", err)
		}
		if len(got) != 1 || got[0].Name != "Oils" {
			t.Fatalf("unexpected value %+v", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected loader to run once, ran %d times", calls)
	}
}

func TestGetCached_InvalidateForcesReload(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	var calls int32
	load := countingLoader(&calls, []category{{ID: 1, Name: "Oils"}})

	if _, err := GetCached(ctx, c, ResourceCategories, "1", load); err != nil {
		t.Fatalf("GetCached: %v", err)
	}
	if err := c.Invalidate(ctx, ResourceCategories, "1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := GetCached(ctx, c, ResourceCategories, "1", load); err != nil {
		t.Fatalf("GetCached: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected reload after invalidation, loader ran %d times", calls)
	}
}

func TestGetCached_InvalidationDuringLoadIsNotStored(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	// The write commits and invalidates while the read is still loading.
	load := func(ctx context.Context) ([]category, error) {
		if err := c.InvalidateFor(ctx, ResourceProducts); err != nil {
			return nil, err
		}
		return []category{{ID: 1, Name: "before the write"}}, nil
	}
	got, err := GetCached(ctx, c, ResourceProducts, "1", load)
	if err != nil {
		t.Fatalf("GetCached: %v", err)
	}
	if len(got) != 1 || got[0].Name != "before the write" {
		t.Fatalf("unexpected value %+v", got)
	}
	if _, ok, _ := store.Get(ctx, c.Key(ResourceProducts, "1")); ok {
		t.Fatalf("value read before the invalidation was cached")
	}

	var calls int32
	if _, err := GetCached(ctx, c, ResourceProducts, "1", countingLoader(&calls, []category{{ID: 1}})); err != nil {
		t.Fatalf("GetCached: %v", err)
	}
	if _, ok, _ := store.Get(ctx, c.Key(ResourceProducts, "1")); !ok || calls != 1 {
		t.Fatalf("next load should be cached, ok=%v calls=%d", ok, calls)
	}
}

func TestGetCached_ClearAllDuringLoadIsNotStored(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()
	load := func(ctx context.Context) ([]category, error) {
		if _, err := c.ClearAll(ctx); err != nil {
			return nil, err
		}
		return []category{{ID: 2}}, nil
	}
	if _, err := GetCached(ctx, c, ResourceCategories, IdentifierAll, load); err != nil {
		t.Fatalf("GetCached: %v", err)
	}
	if n, _ := store.Count(ctx, c.Prefix()+"."); n != 0 {
		t.Fatalf("expected nothing cached after a concurrent clear, found %d keys", n)
	}
}

func TestGetCached_ExpiredEntryReloads(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()
	var calls int32
	load := countingLoader(&calls, []category{{ID: 3}})

	if _, err := GetCached(ctx, c, ResourceProducts, "3", load); err != nil {
		t.Fatalf("GetCached: %v", err)
	}
	clock.Advance(ResourceProducts.TTL() - time.Second)
	if _, err := GetCached(ctx, c, ResourceProducts, "3", load); err != nil {
		t.Fatalf("GetCached: %v", err)
	}
	if calls != 1 {
		t.Fatalf("entry expired early, loader ran %d times", calls)
	}
	clock.Advance(2 * time.Second)
	if _, err := GetCached(ctx, c, ResourceProducts, "3", load); err != nil {
		t.Fatalf("GetCached: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected reload after ttl, loader ran %d times", calls)
	}
}

func TestGetCached_LoaderErrorIsNotCached(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()
	boom := errors.New("db down")
	var calls int32
	failing := func(context.Context) ([]category, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	}

	_, err := GetCached(ctx, c, ResourceSuppliers, IdentifierAll, failing)
	if !errors.Is(err, boom) {
		t.Fatalf("expected loader error to propagate, got %v", err)
	}
	if !errors.Is(err, utils.ErrCacheLoad) {
		t.Fatalf("expected CacheLoadFailure, got %v", err)
	}
	if n, _ := store.Count(ctx, c.Prefix()+"."); n != 0 {
		t.Fatalf("expected nothing cached, found %d keys", n)
	}
	if _, err := GetCached(ctx, c, ResourceSuppliers, IdentifierAll, failing); err == nil {
		t.Fatalf("expected second call to fail again")
	}
	if calls != 2 {
		t.Fatalf("expected loader on every failed call, ran %d times", calls)
	}
}

func TestGetCached_LoaderNotFoundKeepsKind(t *testing.T) {
	c, _, _ := newTestCache(t)
	_, err := GetCached(context.Background(), c, ResourceProducts, "9", func(context.Context) (*category, error) {
		return nil, utils.NewNotFound("product", 9)
	})
	if utils.KindOf(err) != utils.ErrNotFound {
		t.Fatalf("expected NotFound kind, got %v", err)
	}
	if !strings.Contains(utils.ReasonOf(err), "product") {
		t.Fatalf("expected loader reason, got %q", utils.ReasonOf(err))
	}
}

func TestGetCached_NilValueIsCached(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	var calls int32
	load := func(context.Context) (*category, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}
	for i := 0; i < 2; i++ {
		got, err := GetCached(ctx, c, ResourceProducts, "404", load)
		if err != nil || got != nil {
			t.Fatalf("expected nil value, got %+v, %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected null result to be cached, loader ran %d times", calls)
	}
}

func TestGetCached_CorruptEntryIsAMiss(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()
	_ = store.Set(ctx, c.Key(ResourceCategories, IdentifierAll), []byte("{not json"), time.Hour)

	var calls int32
	got, err := GetCached(ctx, c, ResourceCategories, IdentifierAll, countingLoader(&calls, []category{{ID: 7}}))
	if err != nil {
		t.Fatalf("GetCached: %v", err)
	}
	if calls != 1 || len(got) != 1 || got[0].ID != 7 {
		t.Fatalf("expected corrupt entry to reload, calls=%d got=%+v", calls, got)
	}
}

func TestInvalidate_WildcardDropsWholeResource(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()
	var calls int32
	for _, id := range []string{"1", "2", IdentifierAll} {
		if _, err := GetCached(ctx, c, ResourceProducts, id, countingLoader(&calls, nil)); err != nil {
			t.Fatalf("GetCached: %v", err)
		}
	}
	if _, err := GetCached(ctx, c, ResourceSuppliers, IdentifierAll, countingLoader(&calls, nil)); err != nil {
		t.Fatalf("GetCached: %v", err)
	}

	if err := c.Invalidate(ctx, ResourceProducts, Wildcard); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if n, _ := store.Count(ctx, c.Key(ResourceProducts, "")); n != 0 {
		t.Fatalf("expected products namespace empty, %d left", n)
	}
	if n, _ := store.Count(ctx, c.Key(ResourceSuppliers, "")); n != 1 {
		t.Fatalf("expected suppliers untouched, found %d", n)
	}
}

func TestInvalidateFor_DropsDependentNamespaces(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()
	var calls int32
	_, _ = GetCached(ctx, c, ResourceProducts, "1", countingLoader(&calls, nil))
	_, _ = GetCached(ctx, c, ResourceCategories, IdentifierAll, countingLoader(&calls, nil))
	_, _ = GetCached(ctx, c, ResourceSuppliers, IdentifierAll, countingLoader(&calls, nil))

	if err := c.InvalidateFor(ctx, ResourceProducts); err != nil {
		t.Fatalf("InvalidateFor: %v", err)
	}
	if n, _ := store.Count(ctx, c.Prefix()+"."); n != 1 {
		t.Fatalf("expected only suppliers left, found %d keys", n)
	}
}

func TestClearAll_OnlyTouchesPrefix(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()
	_ = store.Set(ctx, "apq:abc", []byte("query"), time.Hour)
	var calls int32
	_, _ = GetCached(ctx, c, ResourceSchema, IdentifierCurrent, countingLoader(&calls, nil))
	_, _ = GetCached(ctx, c, ResourcePermissions, "5", countingLoader(&calls, nil))

	n, err := c.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 keys cleared, got %d", n)
	}
	if _, ok, _ := store.Get(ctx, "apq:abc"); !ok {
		t.Fatalf("expected keys outside the prefix to survive")
	}
}

func TestWarmUp_ContinuesAfterFailure(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()
	report, err := c.WarmUp(ctx,
		WarmUpTask{Resource: ResourceCategories, Identifier: IdentifierAll, Load: func(context.Context) (any, error) {
			return nil, errors.New("categories table locked")
		}},
		WarmUpTask{Resource: ResourceSuppliers, Identifier: IdentifierAll, Load: func(context.Context) (any, error) {
			return []category{{ID: 1, Name: "Green Farm"}}, nil
		}},
	)
	if err == nil {
		t.Fatalf("expected joined warm-up error")
	}
	if len(report.Warmed) != 1 || report.Warmed[0] != c.Key(ResourceSuppliers, IdentifierAll) {
		t.Fatalf("unexpected warmed list %v", report.Warmed)
	}
	if _, ok := report.Failed[c.Key(ResourceCategories, IdentifierAll)]; !ok {
		t.Fatalf("expected categories failure in report, got %v", report.Failed)
	}
	if _, ok, _ := store.Get(ctx, c.Key(ResourceSuppliers, IdentifierAll)); !ok {
		t.Fatalf("expected suppliers to be cached")
	}
}

func TestGetCached_CoalescesConcurrentMisses(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	var calls int32
	release := make(chan struct{})
	load := func(context.Context) ([]category, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []category{{ID: 1}}, nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := GetCached(ctx, c, ResourceCategories, IdentifierAll, load)
			if err == nil && (len(got) != 1 || got[0].ID != 1) {
				err = errors.New("unexpected value")
			}
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("GetCached: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one loader call for concurrent misses, got %d", calls)
	}
}

func TestStats(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	var calls int32
	_, _ = GetCached(ctx, c, ResourceCategories, IdentifierAll, countingLoader(&calls, nil))
	_, _ = GetCached(ctx, c, ResourceCategories, IdentifierAll, countingLoader(&calls, nil))

	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Store != "memory" || st.Keys != 1 || st.Hits != 1 || st.Misses != 1 || !st.Healthy {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestFilterIdentifier_Deterministic(t *testing.T) {
	a, err := FilterIdentifier(map[string]any{"category_id": 2, "in_stock": true})
	if err != nil {
		t.Fatalf("FilterIdentifier: %v", err)
	}
	b, _ := FilterIdentifier(map[string]any{"in_stock": true, "category_id": 2})
	c, _ := FilterIdentifier(map[string]any{"in_stock": false, "category_id": 2})
	if a != b {
		t.Fatalf("expected equal filters to hash equal: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("expected different filters to hash differently")
	}
	if !strings.HasPrefix(a, "f-") {
		t.Fatalf("unexpected identifier %q", a)
	}
}
