package provider

import (
	"context"
)

// Executor is the outbound delivery port: one POST per call, no retries.
type Executor interface {
	Deliver(ctx context.Context, req DeliveryRequest) (*DeliveryResponse, error)
}

type DeliveryRequest struct {
	Target string
	Token  string
	Body   []byte
}

// DeliveryResponse is returned only for 2xx responses.
type DeliveryResponse struct {
	StatusCode int
	StatusText string
}
