package embedding

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bull/respondo-rag/internal/upstream"
)

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RetryConfig shapes the exponential backoff used on rate limit errors.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration // 0 disables retry
}

// DefaultRetryConfig returns 500ms initial, 10s max interval, 30s total.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsed:      30 * time.Second,
	}
}

// QueryRetryConfig returns a short budget for embeddings on an interactive path:
// 200ms initial, 1s max interval, 2s total.
func QueryRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsed:      2 * time.Second,
	}
}

// Retrying wraps an Embedder and retries HTTP 429 responses with exponential backoff.
// Every other error is permanent and returned immediately.
type Retrying struct {
	next   Embedder
	cfg    RetryConfig
	logger *slog.Logger
}

// NewRetrying creates a retrying decorator around next.
func NewRetrying(next Embedder, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{next: next, cfg: cfg, logger: logger}
}

// Embed calls the wrapped Embedder, retrying on rate limits.
func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	if r.cfg.MaxElapsed <= 0 {
		return r.next.Embed(ctx, text)
	}

	var vector []float32
	operation := func() error {
		v, err := r.next.Embed(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if upstream.IsRateLimited(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		vector = v
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = r.cfg.MaxElapsed

	notify := func(err error, wait time.Duration) {
		r.logger.Warn("embedding rate limited, backing off", "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return vector, nil
}
