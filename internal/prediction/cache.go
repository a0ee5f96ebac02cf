package prediction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultCacheTTL = 2 * time.Hour

// RedisCache keeps the latest prediction per race and kind.
type RedisCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisCache(rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func cacheKey(raceID int64, kind Kind) string {
	return fmt.Sprintf("prediction:%d:%s", raceID, kind)
}

func (c *RedisCache) Get(ctx context.Context, raceID int64, kind Kind) (*Record, error) {
	var rec Record
	err := c.rdb.Get(ctx, cacheKey(raceID, kind)).Scan(&rec)
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached prediction: %w", err)
	}
	return &rec, nil
}

func (c *RedisCache) Set(ctx context.Context, r *Record) error {
	if err := c.rdb.Set(ctx, cacheKey(r.RaceID, r.Kind), r, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache prediction: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, raceID int64) error {
	pattern := fmt.Sprintf("prediction:%d:*", raceID)

	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan prediction keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete prediction keys: %w", err)
	}
	return nil
}
