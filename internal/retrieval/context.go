package retrieval

import (
	"context"
	"log/slog"
	"strings"
)

// Defaults used by the chat flow.
const (
	DefaultThreshold = 0.7
	DefaultTopK      = 5
)

// Embedder vectorises the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Assembler builds the context block handed to the chat model.
type Assembler struct {
	embedder  Embedder
	searcher  *Searcher
	threshold float64
	topK      int
	logger    *slog.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithThreshold sets the minimum similarity.
func WithThreshold(threshold float64) AssemblerOption {
	return func(a *Assembler) { a.threshold = threshold }
}

// WithTopK sets the maximum number of chunks.
func WithTopK(topK int) AssemblerOption {
	return func(a *Assembler) { a.topK = topK }
}

// NewAssembler creates an assembler with DefaultThreshold and DefaultTopK unless overridden.
func NewAssembler(embedder Embedder, searcher *Searcher, logger *slog.Logger, opts ...AssemblerOption) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Assembler{
		embedder:  embedder,
		searcher:  searcher,
		threshold: DefaultThreshold,
		topK:      DefaultTopK,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BuildContext returns the matching chunk contents joined by blank lines, in
// descending similarity. ok is false when nothing matched; an embedding failure
// counts as nothing matched.
func (a *Assembler) BuildContext(ctx context.Context, query string) (text string, ok bool) {
	vector, err := a.embedder.Embed(ctx, query)
	if err != nil {
		a.logger.Warn("Query embedding failed, continuing without context", "error", err)
		return "", false
	}

	results := a.searcher.Search(ctx, vector, a.threshold, a.topK)
	if len(results) == 0 {
		return "", false
	}

	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.Content
	}
	return strings.Join(parts, "\n\n"), true
}
