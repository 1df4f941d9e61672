package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRateLimiter counts requests per subject in fixed windows.
type RedisRateLimiter struct {
	client *redis.Client
	keys   keyspace
}

// NewRedisRateLimiter creates a RedisRateLimiter.
func NewRedisRateLimiter(client *redis.Client, keyPrefix string) *RedisRateLimiter {
	if client == nil {
		panic("redis client cannot be nil for RedisRateLimiter")
	}
	return &RedisRateLimiter{client: client, keys: newKeyspace(keyPrefix)}
}

// Allow increments the subject's counter and reports whether it is still within limit.
func (r *RedisRateLimiter) Allow(ctx context.Context, subject string, limit int, window time.Duration) (bool, error) {
	key := r.keys.rateLimit(subject)
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", key, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to get incr result for rate limit on key %s: %w", key, err)
	}
	return count <= int64(limit), nil
}
