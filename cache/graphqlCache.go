package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"
	"github.com/intrafmc/cbd_backend/config"
	"github.com/intrafmc/cbd_backend/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	moduleName    = "cache"
	warmUpLockKey = "lock:cache-warmup"
	warmUpLockTTL = 2 * time.Minute
	defaultPrefix = "graphql_cache"
)

// GraphQLCache is a read-through cache for GraphQL read results. Keys are
// "{prefix}.{resource}.{identifier}" and each resource type has a fixed TTL.
// It is safe for concurrent use.
type GraphQLCache struct {
	store    Store
	prefix   string
	logger   *logrus.Logger
	locker   *redislock.Client
	coalesce bool
	group    singleflight.Group

	// Invalidations bump these so a load that raced a write never stores
	// what it read before the write.
	epoch       atomic.Uint64
	generations sync.Map // ResourceType -> *atomic.Uint64

	hits   atomic.Int64
	misses atomic.Int64
}

type Option func(*GraphQLCache)

func WithPrefix(prefix string) Option {
	return func(c *GraphQLCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

func WithLogger(logger *logrus.Logger) Option {
	return func(c *GraphQLCache) { c.logger = logger }
}

// WithLocker guards WarmUp with a redis lock so only one instance warms at a time.
func WithLocker(locker *redislock.Client) Option {
	return func(c *GraphQLCache) { c.locker = locker }
}

// WithCoalescing collapses concurrent misses on one key into a single loader call.
func WithCoalescing(enabled bool) Option {
	return func(c *GraphQLCache) { c.coalesce = enabled }
}

func New(store Store, opts ...Option) *GraphQLCache {
	c := &GraphQLCache{
		store:    store,
		prefix:   defaultPrefix,
		logger:   logrus.StandardLogger(),
		coalesce: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig wires the cache from env and the global logger / lock client.
func NewFromConfig(store Store) *GraphQLCache {
	opts := []Option{
		WithPrefix(config.CachePrefix()),
		WithCoalescing(config.CacheCoalesceMisses()),
	}
	if logger := config.GetLogger(); logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	if locker := config.GetRedisLock(); locker != nil {
		opts = append(opts, WithLocker(locker))
	}
	return New(store, opts...)
}

func (c *GraphQLCache) Prefix() string { return c.prefix }

func (c *GraphQLCache) Key(resource ResourceType, identifier string) string {
	return fmt.Sprintf("%s.%s.%s", c.prefix, resource, identifier)
}

func (c *GraphQLCache) namespace(resource ResourceType) string {
	return fmt.Sprintf("%s.%s.", c.prefix, resource)
}

func (c *GraphQLCache) generationOf(resource ResourceType) *atomic.Uint64 {
	v, _ := c.generations.LoadOrStore(resource, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

// generation changes whenever resource is invalidated or the cache cleared.
func (c *GraphQLCache) generation(resource ResourceType) uint64 {
	return c.epoch.Load() + c.generationOf(resource).Load()
}

// GetCached returns the live value stored for (resource, identifier) or, on a
// miss, calls loader once, stores its result with the resource TTL and returns
// it. A loader error is returned as a CacheLoadFailure wrapping the loader's
// error and nothing is stored. Store failures never fail the read.
func GetCached[T any](ctx context.Context, c *GraphQLCache, resource ResourceType, identifier string, loader func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !resource.Valid() {
		return zero, utils.WrapInternal("cache lookup", fmt.Errorf("unknown resource type %q", resource))
	}
	key := c.Key(resource, identifier)

	if raw, ok := c.lookup(ctx, key); ok {
		var v T
		err := json.Unmarshal(raw, &v)
		if err == nil {
			c.hits.Add(1)
			return v, nil
		}
		config.LogError(c.logger, moduleName, "GetCached", "decoding cached entry", key, err)
		_ = c.store.Delete(ctx, key)
	}
	c.misses.Add(1)

	var (
		loaded   T
		isLeader bool
	)
	gen := c.generation(resource)
	load := func() (any, error) {
		isLeader = true
		v, err := loader(ctx)
		if err != nil {
			return nil, utils.WrapCacheLoad(key, err)
		}
		loaded = v
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, utils.WrapInternal("encode "+key, err)
		}
		c.storeLoaded(ctx, resource, key, raw, gen)
		return raw, nil
	}

	if !c.coalesce {
		if _, err := load(); err != nil {
			return zero, err
		}
		return loaded, nil
	}

	// singleflight runs load in the first caller's goroutine; the others
	// receive the encoded value and decode their own copy.
	// Callers arriving after an invalidation must not join a load that
	// started before it.
	shared, err, _ := c.group.Do(key+"#"+strconv.FormatUint(gen, 10), load)
	if err != nil {
		return zero, err
	}
	if isLeader {
		return loaded, nil
	}
	var v T
	if err := json.Unmarshal(shared.([]byte), &v); err != nil {
		return zero, utils.WrapInternal("decode "+key, err)
	}
	return v, nil
}

// storeLoaded writes a freshly loaded entry unless resource was invalidated since
// the load began. The check is repeated after the write so an invalidation
// landing in between still wins.
func (c *GraphQLCache) storeLoaded(ctx context.Context, resource ResourceType, key string, raw []byte, gen uint64) {
	if c.generation(resource) != gen {
		return
	}
	if err := c.store.Set(ctx, key, raw, resource.TTL()); err != nil {
		config.LogError(c.logger, moduleName, "GetCached", "storing cache entry", key, err)
		return
	}
	if c.generation(resource) != gen {
		_ = c.store.Delete(ctx, key)
	}
}

func (c *GraphQLCache) lookup(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		config.LogError(c.logger, moduleName, "lookup", "reading cache entry", key, err)
		return nil, false
	}
	return raw, ok
}

// Invalidate removes one entry, or every entry of the resource type when
// identifier is Wildcard.
func (c *GraphQLCache) Invalidate(ctx context.Context, resource ResourceType, identifier string) error {
	if identifier == Wildcard {
		_, err := c.InvalidateAll(ctx, resource)
		return err
	}
	key := c.Key(resource, identifier)
	c.generationOf(resource).Add(1)
	if err := c.store.Delete(ctx, key); err != nil {
		config.LogError(c.logger, moduleName, "Invalidate", "deleting cache entry", key, err)
		return err
	}
	return nil
}

func (c *GraphQLCache) InvalidateAll(ctx context.Context, resource ResourceType) (int, error) {
	prefix := c.namespace(resource)
	c.generationOf(resource).Add(1)
	n, err := c.store.DeleteByPrefix(ctx, prefix)
	if err != nil {
		config.LogError(c.logger, moduleName, "InvalidateAll", "deleting cache namespace", prefix, err)
	}
	return n, err
}

// InvalidateFor drops everything a write to resource can make stale: the
// resource's own namespace and the namespaces embedding it.
func (c *GraphQLCache) InvalidateFor(ctx context.Context, resource ResourceType) error {
	var errs []error
	for _, r := range append([]ResourceType{resource}, dependentResources[resource]...) {
		if _, err := c.InvalidateAll(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClearAll flushes every key under the cache prefix. Best effort.
func (c *GraphQLCache) ClearAll(ctx context.Context) (int, error) {
	c.epoch.Add(1)
	n, err := c.store.DeleteByPrefix(ctx, c.prefix+".")
	if err != nil {
		config.LogError(c.logger, moduleName, "ClearAll", "flushing cache", c.prefix, err)
	}
	return n, err
}

type WarmUpTask struct {
	Resource   ResourceType
	Identifier string
	Load       func(ctx context.Context) (any, error)
}

type WarmUpReport struct {
	Warmed  []string          `json:"warmed"`
	Failed  map[string]string `json:"failed,omitempty"`
	Skipped bool              `json:"skipped"`
}

// WarmUp populates each task through GetCached. A failing task never stops
// the others; their errors are joined in the returned error. When another
// instance holds the warm-up lock the call is skipped.
func (c *GraphQLCache) WarmUp(ctx context.Context, tasks ...WarmUpTask) (WarmUpReport, error) {
	report := WarmUpReport{Failed: map[string]string{}}

	if c.locker != nil {
		lock, err := c.locker.Obtain(ctx, warmUpLockKey, warmUpLockTTL, nil)
		switch {
		case errors.Is(err, redislock.ErrNotObtained):
			c.logger.WithField("module", moduleName).Info("cache warm-up already running elsewhere; skipping")
			report.Skipped = true
			return report, nil
		case err != nil:
			config.LogError(c.logger, moduleName, "WarmUp", "obtaining warm-up lock; continuing without it", warmUpLockKey, err)
		default:
			defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
		}
	}

	var errs []error
	for _, task := range tasks {
		key := c.Key(task.Resource, task.Identifier)
		if _, err := GetCached(ctx, c, task.Resource, task.Identifier, task.Load); err != nil {
			config.LogError(c.logger, moduleName, "WarmUp", "warming "+string(task.Resource), key, err)
			report.Failed[key] = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		report.Warmed = append(report.Warmed, key)
	}
	return report, errors.Join(errs...)
}

type Stats struct {
	Store   string `json:"store"`
	Prefix  string `json:"prefix"`
	Keys    int    `json:"keys"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Healthy bool   `json:"healthy"`
}

func (c *GraphQLCache) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		Store:  c.store.Name(),
		Prefix: c.prefix,
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	if err := c.store.Ping(ctx); err != nil {
		return st, err
	}
	st.Healthy = true
	n, err := c.store.Count(ctx, c.prefix+".")
	if err != nil {
		return st, err
	}
	st.Keys = n
	return st, nil
}
