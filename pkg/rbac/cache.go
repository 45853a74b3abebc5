package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DecisionCache stores recent authorization decisions keyed by
// rbac:decision:{user}:{org}:{permission}:{action}.
type DecisionCache interface {
	// Get returns the cached decision and whether the key was present.
	Get(ctx context.Context, key string) (decision bool, ok bool, err error)
	// Set stores a decision with the given TTL.
	Set(ctx context.Context, key string, decision bool, ttl time.Duration) error
	// Invalidate removes every cached decision.
	Invalidate(ctx context.Context) error
}

const invalidateScanCount = 100

// RedisDecisionCache is the shared decision cache. Decisions are stored as
// "1"/"0" strings so they are inspectable with redis-cli.
type RedisDecisionCache struct {
	client *redis.Client
}

// NewRedisDecisionCache wraps a connected client.
func NewRedisDecisionCache(client *redis.Client) *RedisDecisionCache {
	return &RedisDecisionCache{client: client}
}

func (c *RedisDecisionCache) Get(ctx context.Context, key string) (bool, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("get decision %s: %w", key, err)
	}
	return val == "1", true, nil
}

func (c *RedisDecisionCache) Set(ctx context.Context, key string, decision bool, ttl time.Duration) error {
	val := "0"
	if decision {
		val = "1"
	}
	if err := c.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("set decision %s: %w", key, err)
	}
	return nil
}

// Invalidate walks rbac:decision:* with SCAN and deletes keys in bounded
// batches so large caches do not block Redis with a single huge DEL.
func (c *RedisDecisionCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, decisionKeyPrefix+"*", invalidateScanCount).Iterator()
	batch := make([]string, 0, invalidateScanCount)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == invalidateScanCount {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("delete decision batch: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan decision keys: %w", err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("delete decision batch: %w", err)
		}
	}
	return nil
}

// LRUDecisionCache is an in-process fallback for deployments without Redis.
// The TTL is fixed at construction; the per-call ttl argument is ignored.
// Entries are local to one process, so invalidation coherence only holds
// for single-instance deployments.
type LRUDecisionCache struct {
	lru *expirable.LRU[string, bool]
}

// NewLRUDecisionCache builds a cache holding at most size decisions, each
// expiring after ttl.
func NewLRUDecisionCache(size int, ttl time.Duration) *LRUDecisionCache {
	return &LRUDecisionCache{lru: expirable.NewLRU[string, bool](size, nil, ttl)}
}

func (c *LRUDecisionCache) Get(_ context.Context, key string) (bool, bool, error) {
	decision, ok := c.lru.Get(key)
	return decision, ok, nil
}

func (c *LRUDecisionCache) Set(_ context.Context, key string, decision bool, _ time.Duration) error {
	c.lru.Add(key, decision)
	return nil
}

func (c *LRUDecisionCache) Invalidate(_ context.Context) error {
	c.lru.Purge()
	return nil
}
