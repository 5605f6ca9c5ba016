package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultAttemptTimeout = 10 * time.Second
	userAgent             = "webhook-dispatcher"
)

var _ Executor = (*HTTPExecutor)(nil)

// HTTPExecutor posts payloads to webhook targets.
type HTTPExecutor struct {
	client  *resty.Client
	timeout time.Duration
}

func NewHTTPExecutor(timeout time.Duration) (*HTTPExecutor, error) {
	return NewHTTPExecutorWithClient(resty.New(), timeout)
}

func NewHTTPExecutorWithClient(client *resty.Client, timeout time.Duration) (*HTTPExecutor, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}

	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	client.SetHeader("User-Agent", userAgent)

	return &HTTPExecutor{
		client:  client,
		timeout: timeout,
	}, nil
}

func (e *HTTPExecutor) Deliver(ctx context.Context, req DeliveryRequest) (*DeliveryResponse, error) {
	if e == nil || e.client == nil {
		return nil, fmt.Errorf("executor is not initialized")
	}

	target := strings.TrimSpace(req.Target)
	if _, err := url.ParseRequestURI(target); err != nil {
		return nil, &DeliveryError{Cause: fmt.Errorf("invalid target: %w", err)}
	}

	// resty rejects a nil body; an empty payload is still a POST with no bytes.
	body := req.Body
	if body == nil {
		body = []byte{}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	r := e.client.R().
		SetContext(attemptCtx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(body)
	if req.Token != "" {
		r.SetAuthToken(req.Token)
	}

	response, err := r.Post(target)
	if err != nil {
		return nil, &DeliveryError{
			Timeout: isTimeout(err),
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &DeliveryError{Cause: errors.New("empty response")}
	}

	statusCode := response.StatusCode()
	statusText := responseStatusText(response)

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &DeliveryResponse{
			StatusCode: statusCode,
			StatusText: statusText,
		}, nil
	}

	return nil, &DeliveryError{
		StatusCode: statusCode,
		StatusText: statusText,
	}
}

func responseStatusText(response *resty.Response) string {
	code := response.StatusCode()
	text := strings.TrimSpace(strings.TrimPrefix(response.Status(), strconv.Itoa(code)))
	if text == "" {
		text = http.StatusText(code)
	}
	return text
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
