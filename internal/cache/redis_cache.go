package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yoockh/callguard/internal/metrics"
)

// RedisCache stores JSON values. The gateway keeps defense levels here and the
// worker keeps the active risk rules, so both processes must share one Redis.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return false, nil
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return false, err
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		// a value written by an older build; drop it and reload from the source
		metrics.CacheLookups.WithLabelValues("corrupt").Inc()
		_ = c.rdb.Del(ctx, key).Err()
		return false, nil
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return true, nil
}

// SetJSON with ttl 0 keeps the key until it is overwritten or deleted.
func (c *RedisCache) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
