// Package upstream classifies failures of calls to the hosted completion and embedding APIs.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
)

// TransportError is a network or connection failure: no usable HTTP response was received,
// or the response body broke off before it was complete.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError is a non-success HTTP response from an external API.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream error: status %d", e.StatusCode)
}

// Retryable reports whether the status is worth retrying (rate limit or server side).
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Classify maps an SDK error onto the taxonomy. Context cancellation and deadline errors
// are returned unchanged so callers can tell them apart from real failures.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var transportErr *TransportError
	var upstreamErr *UpstreamError
	if errors.As(err, &transportErr) || errors.As(err, &upstreamErr) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &UpstreamError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	return &TransportError{Err: err}
}

// IsRateLimited reports whether err is an HTTP 429 from upstream.
func IsRateLimited(err error) bool {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsRetryable reports whether a full request retry may succeed.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.Retryable()
	}
	return false
}
