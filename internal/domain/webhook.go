package domain

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a webhook dispatch.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further delivery attempts may happen.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// DispatcherState is the persisted aggregate for one webhook identity.
type DispatcherState struct {
	ID            string    `json:"id"`
	Target        string    `json:"target"`
	Payload       string    `json:"payload"`
	Status        Status    `json:"status"`
	ProvisionedAt time.Time `json:"provisionedAt"`
	Attempts      []Attempt `json:"attempts"`
}

// NewDispatcherState builds the initial PENDING state for a create request.
func NewDispatcherState(input CreateWebhookInput, now time.Time) *DispatcherState {
	return &DispatcherState{
		ID:            input.ID,
		Target:        strings.TrimSpace(input.Target),
		Payload:       input.Payload,
		Status:        StatusPending,
		ProvisionedAt: now.UTC(),
		Attempts:      []Attempt{},
	}
}

func (s *DispatcherState) IsTerminal() bool {
	return s != nil && s.Status.IsTerminal()
}

// DecodedPayload returns the raw bytes POSTed to the target.
func (s *DispatcherState) DecodedPayload() ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("dispatcher state is nil")
	}
	body, err := base64.StdEncoding.DecodeString(s.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return body, nil
}

// Clone returns a deep copy so callers never share the attempts slice.
func (s *DispatcherState) Clone() *DispatcherState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Attempts = make([]Attempt, len(s.Attempts))
	copy(clone.Attempts, s.Attempts)
	return &clone
}

// CreateWebhookInput carries the fields accepted by the create endpoint.
type CreateWebhookInput struct {
	ID      string
	Target  string
	Payload string
}

// Validate checks every field and reports all issues at once as "field: message" pairs.
func (in CreateWebhookInput) Validate() error {
	issues := make([]string, 0, 3)

	if msg := validateIdentity(in.ID); msg != "" {
		issues = append(issues, "id: "+msg)
	}
	if msg := validateTarget(in.Target); msg != "" {
		issues = append(issues, "target: "+msg)
	}
	if _, err := base64.StdEncoding.DecodeString(in.Payload); err != nil {
		issues = append(issues, "payload: must be base64 encoded")
	}

	if len(issues) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(issues, ", "))
	}
	return nil
}

// ValidateIdentity checks a webhook identity taken from a path parameter.
func ValidateIdentity(id string) error {
	if msg := validateIdentity(id); msg != "" {
		return fmt.Errorf("%w: id: %s", ErrValidation, msg)
	}
	return nil
}

// validateIdentity accepts only the canonical 36-character form. The id is the
// lock, store and alarm key verbatim, so padded or urn/braced variants that
// uuid.Parse tolerates are rejected rather than normalized.
func validateIdentity(id string) string {
	if strings.TrimSpace(id) == "" {
		return "is required"
	}
	if len(id) != 36 {
		return "invalid uuid"
	}
	if _, err := uuid.Parse(id); err != nil {
		return "invalid uuid"
	}
	return ""
}

func validateTarget(target string) string {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return "is required"
	}
	u, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return "invalid url"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "scheme must be http or https"
	}
	if u.Host == "" {
		return "invalid url"
	}
	return ""
}
