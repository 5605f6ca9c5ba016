package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix      = "lock:webhook:"
	defaultLockTTL = 30 * time.Second
	backoffStep    = 10 * time.Millisecond
	backoffMax     = 50 * time.Millisecond
	releaseTimeout = 2 * time.Second
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ Locker = (*RedisLocker)(nil)

// RedisLocker is a lease lock shared by every dispatcher process.
// The lease is not renewed, so ttl must outlive the longest critical section.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisLocker{
		client: client,
		ttl:    ttl,
		logger: logger,
		sleep:  sleepWithContext,
	}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("lock key is required")
	}

	redisKey := keyPrefix + key
	token := uuid.NewString()

	backoff := backoffStep
	for {
		acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if acquired {
			break
		}

		if err := l.sleep(ctx, backoff); err != nil {
			return nil, err
		}

		backoff += backoffStep
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release even if the caller's context is already canceled.
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()

			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn("failed to release lock",
					zap.String("key", key),
					zap.Error(err),
				)
			}
		})
	}, nil
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
