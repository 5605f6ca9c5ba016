package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DeliveryError describes a failed delivery attempt.
// StatusCode is 0 when the target never produced a response.
type DeliveryError struct {
	StatusCode int
	StatusText string
	Timeout    bool
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.StatusCode > 0 {
		text := strings.TrimSpace(e.StatusText)
		if text == "" {
			return fmt.Sprintf("%d", e.StatusCode)
		}
		return fmt.Sprintf("%d: %s", e.StatusCode, text)
	}

	parts := make([]string, 0, 2)
	if e.Timeout {
		parts = append(parts, "request timed out")
	} else {
		parts = append(parts, "request failed")
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// StatusCodeOf extracts the HTTP status recorded for err, or 0.
func StatusCodeOf(err error) int {
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.StatusCode
	}
	return 0
}

// FailureReason buckets err into a low-cardinality label for metrics.
func FailureReason(err error) string {
	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		return "error"
	}

	switch {
	case deliveryErr.Timeout || errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case deliveryErr.StatusCode >= 500:
		return "http_5xx"
	case deliveryErr.StatusCode >= 400:
		return "http_4xx"
	case deliveryErr.StatusCode > 0:
		return "http_other"
	default:
		return "transport"
	}
}
