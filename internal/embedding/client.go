// Package embedding turns text into vectors through an OpenAI-compatible embeddings API.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	"github.com/bull/respondo-rag/internal/upstream"
)

// DefaultModel is the embedding model used when none is configured.
// Its vectors match storage.VectorDimension (1536).
const DefaultModel = "text-embedding-ada-002"

// ErrEmptyEmbedding is returned when the API answers 2xx without any vector.
var ErrEmptyEmbedding = errors.New("embedding response contained no data")

// Config holds connection settings for the embeddings endpoint.
type Config struct {
	APIKey            string
	BaseURL           string  // Empty uses the SDK default
	Model             string  // Empty uses DefaultModel
	RequestsPerSecond float64 // 0 disables rate limiting
	HTTPClient        *http.Client
}

// Client performs single-text embedding requests. It never retries on its own.
type Client struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewClient creates an embedding client. The API key is required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := openai.NewClient(opts...)

	c := &Client{client: &client, model: cfg.Model}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Model returns the configured embedding model.
func (c *Client) Model() string {
	return c.model
}

// OpenAI returns the underlying SDK client for other packages (e.g., summary generation).
func (c *Client) OpenAI() *openai.Client {
	return c.client
}

// Embed returns the embedding vector for text.
// Non-2xx responses are *upstream.UpstreamError, network failures *upstream.TransportError.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, upstream.Classify(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	return toFloat32(resp.Data[0].Embedding), nil
}

// toFloat32 converts []float64 to []float32.
// The API returns float64, but storage uses float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
