package repository

import (
	"encoding/json"
	"fmt"

	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
)

func encodeState(state *domain.DispatcherState) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("dispatcher state is nil")
	}
	if state.ID == "" {
		return nil, fmt.Errorf("dispatcher state id is required")
	}
	if !state.Status.IsValid() {
		return nil, fmt.Errorf("invalid dispatcher status %q", state.Status)
	}

	toStore := state
	if state.Attempts == nil {
		toStore = state.Clone()
	}

	raw, err := json.Marshal(toStore)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dispatcher state: %w", err)
	}
	return raw, nil
}

func decodeState(raw []byte) (*domain.DispatcherState, error) {
	var state domain.DispatcherState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dispatcher state: %w", err)
	}
	if !state.Status.IsValid() {
		return nil, fmt.Errorf("stored dispatcher state has invalid status %q", state.Status)
	}
	if state.Attempts == nil {
		state.Attempts = []domain.Attempt{}
	}
	return &state, nil
}
