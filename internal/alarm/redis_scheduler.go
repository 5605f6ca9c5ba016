package alarm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlarmsKey is the sorted set holding every pending alarm; scores are unix milliseconds.
const AlarmsKey = "dispatcher:alarms"

// claimDueScript leases due alarms by re-scoring them to ARGV[3].
var claimDueScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "WITHSCORES", "LIMIT", 0, tonumber(ARGV[2]))
for i = 1, #due, 2 do
  redis.call("ZADD", KEYS[1], ARGV[3], due[i])
end
return due
`)

var (
	_ Scheduler      = (*RedisScheduler)(nil)
	_ PendingCounter = (*RedisScheduler)(nil)
)

type RedisScheduler struct {
	client *redis.Client
	key    string
	lease  time.Duration
}

// NewRedisScheduler stores alarms in one sorted set. A non-positive lease
// falls back to DefaultClaimLease.
func NewRedisScheduler(client *redis.Client, lease time.Duration) (*RedisScheduler, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisScheduler{client: client, key: AlarmsKey, lease: normalizeLease(lease)}, nil
}

func (s *RedisScheduler) SetAlarm(ctx context.Context, webhookID string, at time.Time) error {
	if strings.TrimSpace(webhookID) == "" {
		return fmt.Errorf("webhook id is required")
	}

	err := s.client.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: webhookID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to set alarm: %w", err)
	}
	return nil
}

func (s *RedisScheduler) DeleteAlarm(ctx context.Context, webhookID string) error {
	if err := s.client.ZRem(ctx, s.key, webhookID).Err(); err != nil {
		return fmt.Errorf("failed to delete alarm: %w", err)
	}
	return nil
}

func (s *RedisScheduler) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Alarm, error) {
	if limit <= 0 {
		return nil, nil
	}

	leaseUntil := now.Add(s.lease).UnixMilli()
	raw, err := claimDueScript.Run(ctx, s.client, []string{s.key}, now.UnixMilli(), limit, leaseUntil).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim due alarms: %w", err)
	}

	alarms := make([]Alarm, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		score, err := strconv.ParseFloat(raw[i+1], 64)
		if err != nil {
			return alarms, fmt.Errorf("invalid alarm score %q: %w", raw[i+1], err)
		}
		alarms = append(alarms, Alarm{
			WebhookID: raw[i],
			FireAt:    time.UnixMilli(int64(score)).UTC(),
		})
	}
	return alarms, nil
}

// Pending reports how many alarms are armed.
func (s *RedisScheduler) Pending(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count alarms: %w", err)
	}
	return n, nil
}
