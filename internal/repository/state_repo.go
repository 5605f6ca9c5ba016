package repository

import (
	"context"

	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
)

// StateRepository is the durable store port, partitioned by webhook identity.
type StateRepository interface {
	// Get returns domain.ErrNotFound when the identity has no state.
	Get(ctx context.Context, webhookID string) (*domain.DispatcherState, error)
	Put(ctx context.Context, state *domain.DispatcherState) error
	// DeleteAll removes every key in the identity's partition. Deleting an absent partition is not an error.
	DeleteAll(ctx context.Context, webhookID string) error
}
