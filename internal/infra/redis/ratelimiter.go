package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/webhook-dispatcher/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 10
	rateWindow         = time.Second
	keyPrefix          = "ratelimit:target:"
)

// reserveScript counts a delivery against the target's current window. It
// returns 0 when the delivery may proceed, otherwise the milliseconds left
// until the window resets.
var reserveScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current <= tonumber(ARGV[1]) then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return ttl
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps outbound deliveries per target host across every
// dispatcher process sharing the Redis instance.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		sleep:       sleepWithContext,
	}, nil
}

// reserve counts one delivery for key and reports how long the caller must
// wait before the next window opens. Zero means the delivery is allowed now.
func (r *RedisRateLimiter) reserve(ctx context.Context, key string) (time.Duration, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return 0, fmt.Errorf("rate limit key is required")
	}

	waitMS, err := reserveScript.Run(ctx, r.client, []string{keyPrefix + normalized},
		r.limitPerSec, rateWindow.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit for %q: %w", normalized, err)
	}

	return time.Duration(waitMS) * time.Millisecond, nil
}

// Wait blocks until a delivery to key fits in the limit or ctx ends.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	for {
		wait, err := r.reserve(ctx, key)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
