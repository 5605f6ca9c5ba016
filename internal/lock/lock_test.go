package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestLockers(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		new  func(t *testing.T) Locker
	}{
		{name: "keyed mutex", new: func(t *testing.T) Locker { return NewKeyedMutex() }},
		{
			name: "redis",
			new: func(t *testing.T) Locker {
				_, rdb := newTestRedis(t)
				l, err := NewRedisLocker(rdb, time.Second, zap.NewNop())
				if err != nil {
					t.Fatalf("NewRedisLocker() error = %v", err)
				}
				return l
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name+"/serializes same key", func(t *testing.T) {
			t.Parallel()

			locker := tc.new(t)
			var inside, maxInside atomic.Int32
			var wg sync.WaitGroup

			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()

					unlock, err := locker.Lock(context.Background(), "a")
					if err != nil {
						t.Errorf("Lock() error = %v", err)
						return
					}
					n := inside.Add(1)
					for {
						cur := maxInside.Load()
						if n <= cur || maxInside.CompareAndSwap(cur, n) {
							break
						}
					}
					time.Sleep(2 * time.Millisecond)
					inside.Add(-1)
					unlock()
				}()
			}
			wg.Wait()

			if got := maxInside.Load(); got != 1 {
				t.Fatalf("max concurrent holders = %d, want 1", got)
			}
		})

		t.Run(tc.name+"/different keys do not block", func(t *testing.T) {
			t.Parallel()

			locker := tc.new(t)
			unlockA, err := locker.Lock(context.Background(), "a")
			if err != nil {
				t.Fatalf("Lock(a) error = %v", err)
			}
			defer unlockA()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			unlockB, err := locker.Lock(ctx, "b")
			if err != nil {
				t.Fatalf("Lock(b) error = %v", err)
			}
			unlockB()
		})

		t.Run(tc.name+"/context cancel while waiting", func(t *testing.T) {
			t.Parallel()

			locker := tc.new(t)
			unlock, err := locker.Lock(context.Background(), "a")
			if err != nil {
				t.Fatalf("Lock() error = %v", err)
			}
			defer unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()

			if _, err := locker.Lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("Lock() error = %v, want %v", err, context.DeadlineExceeded)
			}
		})
	}
}

func TestKeyedMutexRemovesIdleEntries(t *testing.T) {
	t.Parallel()

	m := NewKeyedMutex()
	unlock, err := m.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if m.size() != 1 {
		t.Fatalf("size = %d, want 1", m.size())
	}

	unlock()
	unlock()
	if m.size() != 0 {
		t.Fatalf("size = %d, want 0 after unlock", m.size())
	}
}

func TestRedisLockerReleaseKeepsForeignLease(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	locker, err := NewRedisLocker(rdb, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRedisLocker() error = %v", err)
	}

	unlock, err := locker.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	// Simulate lease expiry and takeover by another process.
	mr.FastForward(2 * time.Second)
	if err := mr.Set(keyPrefix+"a", "other-token"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	unlock()

	got, err := mr.Get(keyPrefix + "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "other-token" {
		t.Fatalf("lock value = %q, want foreign lease to survive", got)
	}
}

func TestNewRedisLockerRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisLocker(nil, time.Second, nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return mr, rdb
}
