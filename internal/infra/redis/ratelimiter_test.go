package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterWindow(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedis(t)
	limiter, err := NewRedisRateLimiter(rdb, 2)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		wait, err := limiter.reserve(ctx, "hooks.example.com")
		if err != nil {
			t.Fatalf("reserve() error = %v", err)
		}
		if wait != 0 {
			t.Fatalf("call %d should be allowed, got wait %v", i+1, wait)
		}
	}

	wait, err := limiter.reserve(ctx, "hooks.example.com")
	if err != nil {
		t.Fatalf("reserve() error = %v", err)
	}
	if wait <= 0 || wait > rateWindow {
		t.Fatalf("wait = %v, want within (0, %v]", wait, rateWindow)
	}

	mr.FastForward(rateWindow)

	wait, err = limiter.reserve(ctx, "hooks.example.com")
	if err != nil {
		t.Fatalf("reserve() error = %v", err)
	}
	if wait != 0 {
		t.Fatalf("a new window should allow the call, got wait %v", wait)
	}
}

func TestRedisRateLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedis(t)
	limiter, err := NewRedisRateLimiter(rdb, 1)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}
	ctx := context.Background()

	testCases := []struct {
		key  string
		want bool
	}{
		{key: "hooks.example.com", want: true},
		{key: "other.example.com", want: true},
		{key: "HOOKS.example.com ", want: false},
	}

	for _, tc := range testCases {
		wait, err := limiter.reserve(ctx, tc.key)
		if err != nil {
			t.Fatalf("reserve(%q) error = %v", tc.key, err)
		}
		if allowed := wait == 0; allowed != tc.want {
			t.Fatalf("reserve(%q) allowed = %v, want %v", tc.key, allowed, tc.want)
		}
	}
}

func TestRedisRateLimiterWaitSleepsUntilWindowResets(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedis(t)
	limiter, err := NewRedisRateLimiter(rdb, 1)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}

	var slept []time.Duration
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		mr.FastForward(d)
		return nil
	}

	ctx := context.Background()
	if err := limiter.Wait(ctx, "localhost:9090"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if len(slept) != 0 {
		t.Fatalf("first Wait() slept %v, want no sleep", slept)
	}

	if err := limiter.Wait(ctx, "localhost:9090"); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if len(slept) != 1 || slept[0] <= 0 || slept[0] > rateWindow {
		t.Fatalf("slept = %v, want one sleep within the window", slept)
	}
}

func TestRedisRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedis(t)
	limiter, err := NewRedisRateLimiter(rdb, 1)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}

	if _, err := limiter.reserve(context.Background(), "hooks.example.com"); err != nil {
		t.Fatalf("reserve() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx, "hooks.example.com")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestRedisRateLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisRateLimiter(nil, 1); err == nil {
		t.Fatal("expected error for nil client")
	}

	rdb, _ := newTestRedis(t)
	limiter, err := NewRedisRateLimiter(rdb, 0)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}
	if limiter.limitPerSec != defaultLimitPerSec {
		t.Fatalf("limit = %d, want default %d", limiter.limitPerSec, defaultLimitPerSec)
	}
	if err := limiter.Wait(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestNewRedis(t *testing.T) {
	t.Parallel()

	_, mr := newTestRedis(t)

	client, err := NewRedis("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	_ = client.Close()

	if _, err := NewRedis("not-a-url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func newTestRedis(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return rdb, mr
}
