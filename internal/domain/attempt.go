package domain

import (
	"net/http"
	"time"
)

const (
	// AttemptMessageSuccess is recorded for every 2xx delivery.
	AttemptMessageSuccess = "success"
	// attemptErrorPrefix starts every failure message,
	// e.g. "Error: 500: Internal Server Error".
	attemptErrorPrefix = "Error: "
)

// Attempt records a single delivery attempt for a webhook.
// Status is the HTTP status code, or 0 when no response was received.
type Attempt struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Message   string    `json:"message"`
}

func (a Attempt) Succeeded() bool {
	return a.Status >= http.StatusOK && a.Status < http.StatusMultipleChoices
}

func SuccessfulAttempt(now time.Time, status int) Attempt {
	return Attempt{
		Timestamp: now.UTC(),
		Status:    status,
		Message:   AttemptMessageSuccess,
	}
}

func FailedAttempt(now time.Time, status int, cause error) Attempt {
	message := attemptErrorPrefix + "unknown error"
	if cause != nil {
		message = attemptErrorPrefix + cause.Error()
	}
	return Attempt{
		Timestamp: now.UTC(),
		Status:    status,
		Message:   message,
	}
}
