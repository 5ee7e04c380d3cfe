package cache

import (
	"context"
	"time"
)

// Store is the key/value backend behind GraphQLCache. Values are opaque bytes.
// Get reports a miss as (nil, false, nil); expired entries are misses.
type Store interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPrefix removes every key starting with prefix and returns how many went.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	Count(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
}
