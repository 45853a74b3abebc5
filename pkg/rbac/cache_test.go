package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupRedisCacheTest(t *testing.T) (*RedisDecisionCache, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return NewRedisDecisionCache(client), mr, cleanup
}

func TestRedisDecisionCacheRoundTrip(t *testing.T) {
	cache, _, cleanup := setupRedisCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	key := DecisionKey(1, 2, "docs.read", ActionAccess)
	if key != "rbac:decision:1:2:docs.read:access" {
		t.Fatalf("unexpected key shape: %s", key)
	}

	if _, ok, err := cache.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss on empty cache, ok=%v err=%v", ok, err)
	}

	if err := cache.Set(ctx, key, true, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	decision, ok, err := cache.Get(ctx, key)
	if err != nil || !ok || !decision {
		t.Fatalf("expected cached allow, got decision=%v ok=%v err=%v", decision, ok, err)
	}

	denyKey := DecisionKey(1, 2, "docs.write", ActionAccess)
	if err := cache.Set(ctx, denyKey, false, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	decision, ok, err = cache.Get(ctx, denyKey)
	if err != nil || !ok || decision {
		t.Fatalf("expected cached deny, got decision=%v ok=%v err=%v", decision, ok, err)
	}
}

func TestRedisDecisionCacheTTL(t *testing.T) {
	cache, mr, cleanup := setupRedisCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	key := DecisionKey(1, 1, "p", ActionAccess)
	if err := cache.Set(ctx, key, true, 60*time.Second); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	mr.FastForward(59 * time.Second)
	if _, ok, _ := cache.Get(ctx, key); !ok {
		t.Fatal("entry expired before its TTL")
	}

	mr.FastForward(2 * time.Second)
	if _, ok, _ := cache.Get(ctx, key); ok {
		t.Fatal("entry survived past its TTL")
	}
}

func TestRedisDecisionCacheInvalidateOnlyTouchesDecisions(t *testing.T) {
	cache, mr, cleanup := setupRedisCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	// More keys than one SCAN batch to exercise batched deletion.
	for i := int64(0); i < 250; i++ {
		if err := cache.Set(ctx, DecisionKey(i, 1, "p", ActionAccess), true, time.Minute); err != nil {
			t.Fatalf("set failed: %v", err)
		}
	}
	mr.Set("password_reset:token:abc", "42")
	mr.Set("unrelated", "keep")

	if err := cache.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	for i := int64(0); i < 250; i++ {
		if _, ok, _ := cache.Get(ctx, DecisionKey(i, 1, "p", ActionAccess)); ok {
			t.Fatalf("decision key %d survived invalidation", i)
		}
	}
	if !mr.Exists("password_reset:token:abc") || !mr.Exists("unrelated") {
		t.Fatal("invalidation deleted keys outside the decision namespace")
	}
}

func TestLRUDecisionCache(t *testing.T) {
	cache := NewLRUDecisionCache(16, 50*time.Millisecond)
	ctx := context.Background()
	key := DecisionKey(1, 1, "p", ActionAccess)

	if err := cache.Set(ctx, key, true, 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	decision, ok, err := cache.Get(ctx, key)
	if err != nil || !ok || !decision {
		t.Fatalf("expected cached allow, got decision=%v ok=%v err=%v", decision, ok, err)
	}

	if err := cache.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, key); ok {
		t.Fatal("entry survived invalidation")
	}

	if err := cache.Set(ctx, key, true, 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if _, ok, _ := cache.Get(ctx, key); ok {
		t.Fatal("entry survived past its TTL")
	}
}
