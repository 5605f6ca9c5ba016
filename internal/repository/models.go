package repository

import (
	"time"
)

// StateKey is the well-known key holding the state blob inside an identity's partition.
const StateKey = "state"

// DispatcherStateModel is the persistence model for the dispatcher_states table.
// Each row is one key inside a webhook's partition.
type DispatcherStateModel struct {
	WebhookID string `gorm:"type:varchar(64);primaryKey"`
	Key       string `gorm:"type:varchar(64);primaryKey"`
	Value     []byte `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

func (DispatcherStateModel) TableName() string {
	return "dispatcher_states"
}
