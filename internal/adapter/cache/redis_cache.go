// Package cache provides a JSON value cache on Redis for query results and
// daily statistics.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/observability"
	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// RedisCache implements domain.Cache over go-redis. Values are stored as
// JSON; Invalidate removes every key under a prefix via SCAN so a large
// keyspace never blocks the server the way KEYS would.
type RedisCache struct {
	rdb redis.UniversalClient
}

// New constructs a RedisCache over an existing client.
func New(rdb redis.UniversalClient) *RedisCache { return &RedisCache{rdb: rdb} }

// Get loads a cached value into out. The second return reports a hit.
func (c *RedisCache) Get(ctx domain.Context, key string, out any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			observability.CacheHitsTotal.WithLabelValues("miss").Inc()
			return false, nil
		}
		return false, fmt.Errorf("op=cache.get key=%s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("op=cache.get key=%s: %w", key, err)
	}
	observability.CacheHitsTotal.WithLabelValues("hit").Inc()
	return true, nil
}

// Set stores a value under key with the given TTL.
func (c *RedisCache) Set(ctx domain.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("op=cache.set key=%s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("op=cache.set key=%s: %w", key, err)
	}
	return nil
}

// Invalidate deletes every key matching prefix*.
func (c *RedisCache) Invalidate(ctx domain.Context, prefix string) error {
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("op=cache.invalidate prefix=%s: %w", prefix, err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("op=cache.invalidate prefix=%s: %w", prefix, err)
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("op=cache.invalidate prefix=%s: %w", prefix, err)
		}
	}
	return nil
}
