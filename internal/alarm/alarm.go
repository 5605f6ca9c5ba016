package alarm

import (
	"context"
	"time"
)

// Alarm is one pending wake-up for a webhook identity.
type Alarm struct {
	WebhookID string
	FireAt    time.Time
}

// DefaultClaimLease is how long a claimed alarm stays hidden before it fires
// again if nobody has overwritten or deleted it.
const DefaultClaimLease = time.Minute

// Scheduler keeps at most one alarm per identity.
type Scheduler interface {
	// SetAlarm arms or overwrites the identity's alarm.
	SetAlarm(ctx context.Context, webhookID string, at time.Time) error
	DeleteAlarm(ctx context.Context, webhookID string) error
	// ClaimDue returns up to limit alarms whose time is <= now and pushes each
	// one to now plus the claim lease. The alarm stays armed until the firing
	// overwrites or deletes it, so a claim lost to a crash fires again.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Alarm, error)
}

// PendingCounter reports how many alarms are armed.
type PendingCounter interface {
	Pending(ctx context.Context) (int64, error)
}

func normalizeLease(lease time.Duration) time.Duration {
	if lease <= 0 {
		return DefaultClaimLease
	}
	return lease
}
