package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts requests in fixed windows shared by every gateway
// instance. The counter key expires with the window, so a denied client is
// told exactly how long to wait.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(url string, limit int, window time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{client: redis.NewClient(opts), limit: limit, window: window}, nil
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	rkey := "ratelimit:" + key

	count, err := r.client.Incr(ctx, rkey).Result()
	if err != nil {
		return Result{}, fmt.Errorf("failed to increment counter: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, rkey, r.window).Err(); err != nil {
			return Result{}, fmt.Errorf("failed to set window expiry: %w", err)
		}
	}

	ttl, err := r.client.TTL(ctx, rkey).Result()
	if err != nil {
		return Result{}, fmt.Errorf("failed to read window ttl: %w", err)
	}
	if ttl < 0 {
		// The expiry was lost; restore it so the key cannot live forever.
		ttl = r.window
		_ = r.client.Expire(ctx, rkey, r.window).Err()
	}

	result := Result{
		Limit:     r.limit,
		Remaining: r.limit - int(count),
		Reset:     time.Now().Add(ttl),
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}

	if int(count) > r.limit {
		result.RetryAfter = ttl
		return result, nil
	}
	result.Allowed = true
	return result, nil
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
