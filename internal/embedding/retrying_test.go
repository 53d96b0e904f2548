package embedding

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/respondo-rag/internal/upstream"
)

type scriptedEmbedder struct {
	errs  []error
	calls int
}

func (s *scriptedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return []float32{1, 2}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsed:      time.Second,
	}
}

func TestRetrying_RetriesRateLimits(t *testing.T) {
	rateLimited := &upstream.UpstreamError{StatusCode: http.StatusTooManyRequests}
	next := &scriptedEmbedder{errs: []error{rateLimited, rateLimited}}

	vector, err := NewRetrying(next, fastRetry(), nil).Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vector)
	assert.Equal(t, 3, next.calls)
}

func TestRetrying_OtherErrorsArePermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"server error", &upstream.UpstreamError{StatusCode: http.StatusBadGateway}},
		{"bad request", &upstream.UpstreamError{StatusCode: http.StatusBadRequest}},
		{"transport", &upstream.TransportError{Err: assert.AnError}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &scriptedEmbedder{errs: []error{tt.err}}

			_, err := NewRetrying(next, fastRetry(), nil).Embed(context.Background(), "x")
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, next.calls)
		})
	}
}

func TestRetrying_DisabledWhenMaxElapsedZero(t *testing.T) {
	next := &scriptedEmbedder{errs: []error{&upstream.UpstreamError{StatusCode: http.StatusTooManyRequests}}}

	_, err := NewRetrying(next, RetryConfig{}, nil).Embed(context.Background(), "x")
	assert.True(t, upstream.IsRateLimited(err))
	assert.Equal(t, 1, next.calls)
}

func TestRetrying_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	next := &scriptedEmbedder{errs: []error{context.Canceled}}

	_, err := NewRetrying(next, fastRetry(), nil).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, next.calls)
}
