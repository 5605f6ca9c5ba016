package ratelimit

import (
	"context"
	"net/url"
	"strings"
)

// RateLimiter controls outbound delivery throughput per key.
type RateLimiter interface {
	// Wait blocks until a delivery to key fits in the limit or ctx ends.
	Wait(ctx context.Context, key string) error
}

// TargetKey buckets deliveries by destination host so one slow or busy
// receiver cannot be flooded by retries.
func TargetKey(target string) string {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return strings.ToLower(u.Host)
}
