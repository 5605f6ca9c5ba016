package alarm

import (
	"container/heap"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	_ Scheduler      = (*MemoryScheduler)(nil)
	_ PendingCounter = (*MemoryScheduler)(nil)
)

// MemoryScheduler is a min-heap of alarms. Overwritten alarms leave stale heap
// entries behind that are skipped when popped.
type MemoryScheduler struct {
	mu      sync.Mutex
	heap    alarmHeap
	current map[string]entry
	seq     uint64
	lease   time.Duration
}

type entry struct {
	at  time.Time
	seq uint64
}

func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{current: make(map[string]entry), lease: DefaultClaimLease}
}

func (s *MemoryScheduler) SetClaimLease(lease time.Duration) {
	s.mu.Lock()
	s.lease = normalizeLease(lease)
	s.mu.Unlock()
}

func (s *MemoryScheduler) SetAlarm(_ context.Context, webhookID string, at time.Time) error {
	if strings.TrimSpace(webhookID) == "" {
		return fmt.Errorf("webhook id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.setLocked(webhookID, at)
	return nil
}

func (s *MemoryScheduler) setLocked(webhookID string, at time.Time) {
	s.seq++
	e := entry{at: at, seq: s.seq}
	s.current[webhookID] = e
	heap.Push(&s.heap, heapItem{webhookID: webhookID, entry: e})
}

func (s *MemoryScheduler) DeleteAlarm(_ context.Context, webhookID string) error {
	s.mu.Lock()
	delete(s.current, webhookID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryScheduler) ClaimDue(_ context.Context, now time.Time, limit int) ([]Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var alarms []Alarm
	for len(alarms) < limit && s.heap.Len() > 0 {
		top := s.heap[0]
		live, ok := s.current[top.webhookID]
		if !ok || live.seq != top.seq {
			heap.Pop(&s.heap)
			continue
		}
		if top.at.After(now) {
			break
		}

		heap.Pop(&s.heap)
		s.setLocked(top.webhookID, now.Add(s.lease))
		alarms = append(alarms, Alarm{WebhookID: top.webhookID, FireAt: top.at})
	}
	return alarms, nil
}

// Get returns the armed time for an identity.
func (s *MemoryScheduler) Get(webhookID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.current[webhookID]
	return e.at, ok
}

func (s *MemoryScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.current)
}

func (s *MemoryScheduler) Pending(context.Context) (int64, error) {
	return int64(s.Len()), nil
}

type heapItem struct {
	webhookID string
	entry
}

type alarmHeap []heapItem

func (h alarmHeap) Len() int { return len(h) }

func (h alarmHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h alarmHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *alarmHeap) Push(x any) { *h = append(*h, x.(heapItem)) }

func (h *alarmHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
