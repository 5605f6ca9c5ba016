package repository

import (
	"context"
	"sync"

	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
)

var _ StateRepository = (*MemoryStateRepo)(nil)

// MemoryStateRepo is a process-local store used by tests and single-node runs.
type MemoryStateRepo struct {
	mu     sync.RWMutex
	states map[string][]byte
}

func NewMemoryStateRepo() *MemoryStateRepo {
	return &MemoryStateRepo{states: make(map[string][]byte)}
}

func (r *MemoryStateRepo) Get(_ context.Context, webhookID string) (*domain.DispatcherState, error) {
	r.mu.RLock()
	raw, ok := r.states[webhookID]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.ErrNotFound
	}
	return decodeState(raw)
}

func (r *MemoryStateRepo) Put(_ context.Context, state *domain.DispatcherState) error {
	raw, err := encodeState(state)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.states[state.ID] = raw
	r.mu.Unlock()
	return nil
}

func (r *MemoryStateRepo) DeleteAll(_ context.Context, webhookID string) error {
	r.mu.Lock()
	delete(r.states, webhookID)
	r.mu.Unlock()
	return nil
}

// Len reports how many identities currently hold state.
func (r *MemoryStateRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
