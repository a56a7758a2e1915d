package flow

import (
	"context"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// Limiter answers the two gating questions of the engine: may this event
// create a run at all (rate limit), and may this run start now (throttle).
type Limiter interface {
	// AllowRate counts one occurrence for key inside a fixed window of
	// the given period and reports whether the count stays within limit.
	AllowRate(ctx context.Context, key string, limit int, period time.Duration) (bool, error)
	// AllowThrottle is AllowRate for run starts. When the answer is no it
	// also returns how long to wait before asking again.
	AllowThrottle(ctx context.Context, key string, limit int, period time.Duration) (bool, time.Duration, error)
}

// RedisLimiter implements Limiter with INCR counters that expire after
// the window period.
type RedisLimiter struct {
	client *redisv9.Client
}

func NewRedisLimiter(client *redisv9.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) AllowRate(ctx context.Context, key string, limit int, period time.Duration) (bool, error) {
	return l.allow(ctx, l.rateKey(key), limit, period)
}

func (l *RedisLimiter) AllowThrottle(ctx context.Context, key string, limit int, period time.Duration) (bool, time.Duration, error) {
	fullKey := l.throttleKey(key)
	allowed, err := l.allow(ctx, fullKey, limit, period)
	if err != nil {
		return false, 0, err
	}
	if allowed {
		return true, 0, nil
	}

	ttl, err := l.client.PTTL(ctx, fullKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis pttl failed: %w", err)
	}
	if ttl <= 0 {
		ttl = period
	}
	return false, ttl, nil
}

func (l *RedisLimiter) allow(ctx context.Context, fullKey string, limit int, period time.Duration) (bool, error) {
	count, err := l.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis incr failed: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, fullKey, period).Err(); err != nil {
			return false, fmt.Errorf("redis expire failed: %w", err)
		}
	}
	return count <= int64(limit), nil
}

func (l *RedisLimiter) rateKey(key string) string {
	return fmt.Sprintf("flow:ratelimit:%s", key)
}

func (l *RedisLimiter) throttleKey(key string) string {
	return fmt.Sprintf("flow:throttle:%s", key)
}
