package queue

import (
	"fmt"
	"strings"
	"time"
)

// AlarmMessage is the broker payload for one fired alarm.
type AlarmMessage struct {
	WebhookID string    `json:"webhookId"`
	FireAt    time.Time `json:"fireAt"`
}

func (m AlarmMessage) Validate() error {
	if strings.TrimSpace(m.WebhookID) == "" {
		return fmt.Errorf("webhookId is required")
	}
	if m.FireAt.IsZero() {
		return fmt.Errorf("fireAt is required")
	}
	return nil
}
