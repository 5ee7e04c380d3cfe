package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func redisForTest(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDRESS")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStore_RoundTripAndPrefixDelete(t *testing.T) {
	client := redisForTest(t)
	s := NewRedisStore(client)
	ctx := context.Background()
	prefix := fmt.Sprintf("cbdtest%d.", time.Now().UnixNano())
	t.Cleanup(func() { _, _ = s.DeleteByPrefix(context.Background(), prefix) })

	if _, ok, err := s.Get(ctx, prefix+"missing"); err != nil || ok {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Set(ctx, fmt.Sprintf("%sproducts.%d", prefix, i), []byte("x"), time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	_ = s.Set(ctx, prefix+"suppliers.all", []byte("[]"), time.Minute)

	if v, ok, err := s.Get(ctx, prefix+"products.1"); err != nil || !ok || string(v) != "x" {
		t.Fatalf("Get: %q %v %v", v, ok, err)
	}
	n, err := s.DeleteByPrefix(ctx, prefix+"products.")
	if err != nil || n != 3 {
		t.Fatalf("DeleteByPrefix: n=%d err=%v", n, err)
	}
	if n, _ := s.Count(ctx, prefix); n != 1 {
		t.Fatalf("expected suppliers key to remain, count=%d", n)
	}
}

func TestRedisStore_TTL(t *testing.T) {
	client := redisForTest(t)
	s := NewRedisStore(client)
	ctx := context.Background()
	key := fmt.Sprintf("cbdtest%d.schema.current", time.Now().UnixNano())
	if err := s.Set(ctx, key, []byte("sdl"), 2*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ttl, err := client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 || ttl > 2*time.Second {
		t.Fatalf("unexpected ttl %s err=%v", ttl, err)
	}
	_ = s.Delete(ctx, key)
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob("a*b?[c]"); got != `a\*b\?\[c\]` {
		t.Fatalf("unexpected escape %q", got)
	}
}
