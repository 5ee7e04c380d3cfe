package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_ExpiryAndPrefixDelete(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	_ = s.Set(ctx, "a.products.1", []byte("1"), time.Minute)
	_ = s.Set(ctx, "a.products.2", []byte("2"), 0)
	_ = s.Set(ctx, "a.suppliers.all", []byte("[]"), time.Hour)

	clock.Advance(time.Minute)
	if _, ok, _ := s.Get(ctx, "a.products.1"); ok {
		t.Fatalf("expected entry to expire at its ttl")
	}
	if v, ok, _ := s.Get(ctx, "a.products.2"); !ok || string(v) != "2" {
		t.Fatalf("expected entry without ttl to live, got %q %v", v, ok)
	}

	n, err := s.DeleteByPrefix(ctx, "a.products.")
	if err != nil || n != 1 {
		t.Fatalf("DeleteByPrefix: n=%d err=%v", n, err)
	}
	if n, _ := s.Count(ctx, "a."); n != 1 {
		t.Fatalf("expected 1 key left, got %d", n)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, "k", []byte("abc"), 0)
	v, _, _ := s.Get(ctx, "k")
	v[0] = 'z'
	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("stored value was mutated through Get: %q", again)
	}
}
