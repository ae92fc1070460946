package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowTTL keeps a one-second window around long enough for clock skew
// between instances.
const windowTTL = 2 * time.Second

// RedisLimiter counts requests per one-second window in Redis so every server
// instance shares the same budget.
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client redis.Cmdable, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: strings.TrimSpace(prefix)}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" || l == nil || l.client == nil {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	reset := time.Unix(sec+1, 0).UTC()

	var incr *redis.IntCmd
	_, errPipe := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		windowKey := l.windowKey(key, sec)
		incr = pipe.Incr(ctx, windowKey)
		pipe.Expire(ctx, windowKey, windowTTL)
		return nil
	})
	if errPipe != nil {
		return Result{}, fmt.Errorf("rate limit redis: %w", errPipe)
	}

	count := int(incr.Val())
	if count > limit {
		return Result{Allowed: false, Reset: reset}, nil
	}
	return Result{Allowed: true, Remaining: limit - count, Reset: reset}, nil
}

func (l *RedisLimiter) windowKey(key string, sec int64) string {
	if l.prefix == "" {
		return fmt.Sprintf("%s:%d", key, sec)
	}
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, sec)
}
