package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HanTheDev/phone-checker/internal/models"
)

// RedisLimiter is a fixed-window counter shared by every process pointing at
// the same Redis. When the current window is full the call is reserved in
// the first later window with room. Redis failures fall back to an
// in-process sliding window so probes keep being throttled.
type RedisLimiter struct {
	client   *redis.Client
	opts     options
	budgets  map[models.Platform]Budget
	fallback *WindowLimiter
	prefix   string
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client *redis.Client, budgets map[models.Platform]Budget, opts ...Option) *RedisLimiter {
	return &RedisLimiter{
		client:   client,
		opts:     buildOptions(opts),
		budgets:  budgets,
		fallback: NewWindowLimiter(budgets, opts...),
		prefix:   "ratelimit:platform:",
	}
}

// NewRedisClient parses redisURL the way the rest of the service does.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}

func (rl *RedisLimiter) Admit(ctx context.Context, platform models.Platform) Decision {
	b, ok := rl.budgets[platform]
	if !ok || b.MaxCalls <= 0 || b.Period <= 0 {
		return denied()
	}

	now := rl.opts.now()
	horizon := rl.opts.horizon(b)
	current := now.Truncate(b.Period)

	for start := current; ; start = start.Add(b.Period) {
		at := start
		if start.Equal(current) {
			at = now
		}
		if at.Sub(now) > horizon {
			return denied()
		}

		key := rl.key(platform, start)
		count, err := rl.client.Incr(ctx, key).Result()
		if err != nil {
			rl.opts.logger.Warn("redis rate limiter unavailable, using local window", "platform", platform, "error", err)
			return rl.fallback.Admit(ctx, platform)
		}
		if count == 1 {
			rl.client.Expire(ctx, key, start.Add(2*b.Period).Sub(now))
		}

		if count <= int64(b.MaxCalls) {
			return decide(now, at, rl.release(key))
		}
		rl.client.Decr(ctx, key)
	}
}

func (rl *RedisLimiter) Snapshot(ctx context.Context, platform models.Platform) Snapshot {
	b := rl.budgets[platform]
	snap := Snapshot{Platform: platform, State: StateSaturated, MaxCalls: b.MaxCalls, Period: b.Period}
	if b.Period <= 0 {
		return snap
	}

	now := rl.opts.now()
	count, err := rl.client.Get(ctx, rl.key(platform, now.Truncate(b.Period))).Int()
	if err != nil && err != redis.Nil {
		return rl.fallback.Snapshot(ctx, platform)
	}
	snap.Reserved = count
	if count < b.MaxCalls {
		snap.State = StateOpen
	}
	return snap
}

func (rl *RedisLimiter) Close() error {
	return rl.client.Close()
}

func (rl *RedisLimiter) key(platform models.Platform, windowStart time.Time) string {
	return fmt.Sprintf("%s%s:%d", rl.prefix, platform, windowStart.Unix())
}

func (rl *RedisLimiter) release(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { rl.decr(key) })
	}
}

func (rl *RedisLimiter) decr(key string) {
	if err := rl.client.Decr(context.Background(), key).Err(); err != nil {
		rl.opts.logger.Warn("failed to release rate limit slot", "key", key, "error", err)
	}
}
