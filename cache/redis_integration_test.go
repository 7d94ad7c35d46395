package cache

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func redisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis integration test")
	}
	s := NewRedisStore(addr, "", 0)
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Ping(t.Context()); err != nil {
		t.Fatalf("cannot reach Redis at %s: %v", addr, err)
	}
	return s
}

func TestRedisStore_GetSetKeys(t *testing.T) {
	s := redisStore(t)
	ctx := t.Context()
	prefix := "test:redis:" + t.Name() + ":"
	t.Cleanup(func() {
		keys, _ := s.Keys(context.Background(), prefix)
		_ = s.Delete(context.Background(), keys...)
	})

	if _, ok, err := s.Get(ctx, prefix+"a"); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, prefix+"a", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, prefix+"b", "2"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := s.Get(ctx, prefix+"a")
	if err != nil || !ok || v != "1" {
		t.Fatalf("Get: got %q, %v, %v", v, ok, err)
	}

	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
}

func TestTiered_RedisPromotion(t *testing.T) {
	s := redisStore(t)
	ctx := t.Context()
	prefix := "test:tiered:" + t.Name() + ":"

	first := New[string](s, WithKeyPrefix(prefix))
	t.Cleanup(func() { first.Clear(context.Background()) })

	var calls atomic.Int32
	fetch := func(context.Context) (string, error) {
		calls.Add(1)
		return "from-fetch", nil
	}

	if _, err := first.GetOrSet(ctx, "k", 30*time.Second, fetch); err != nil {
		t.Fatalf("GetOrSet 1: %v", err)
	}

	// A fresh primary tier must be served from Redis.
	second := New[string](s, WithKeyPrefix(prefix))
	v, err := second.GetOrSet(ctx, "k", 30*time.Second, fetch)
	if err != nil {
		t.Fatalf("GetOrSet 2: %v", err)
	}
	if v != "from-fetch" {
		t.Fatalf("got %q, want %q", v, "from-fetch")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("fetch called %d times, want 1", n)
	}
}

func TestTiered_UnreachableRedisFailsSoft(t *testing.T) {
	s := NewRedisStore("localhost:1", "", 0)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	c := New[string](s)
	c.SetDurable(ctx, "k", "v", time.Second)
	if _, ok := c.GetDurable(ctx, "k"); ok {
		t.Fatal("expected miss on unreachable Redis")
	}

	v, err := c.GetOrSet(ctx, "k", time.Second, func(context.Context) (string, error) {
		return "fallback", nil
	})
	if err != nil {
		t.Fatalf("durable errors must not surface: %v", err)
	}
	if v != "fallback" {
		t.Fatalf("got %q, want %q", v, "fallback")
	}
}
