// Package retrieval finds stored chunks similar to a query and assembles them into
// prompt context.
package retrieval

import (
	"context"
	"log/slog"
	"sort"

	"github.com/bull/respondo-rag/internal/storage"
)

// Result is one ranked chunk.
type Result struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	DocumentID string  `json:"document_id"`
}

// Matcher runs the nearest-neighbour query against a vector store.
type Matcher interface {
	MatchDocuments(ctx context.Context, query []float32, threshold float64, count int) ([]storage.Match, error)
}

// Searcher shapes similarity queries and maps their results.
type Searcher struct {
	matcher Matcher
	logger  *slog.Logger
}

// NewSearcher creates a searcher over matcher.
func NewSearcher(matcher Matcher, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{matcher: matcher, logger: logger}
}

// Search returns at most topK results with similarity >= threshold, most similar first.
// It never fails: a matcher error is logged and yields an empty slice.
func (s *Searcher) Search(ctx context.Context, vector []float32, threshold float64, topK int) []Result {
	results := []Result{}
	if topK <= 0 {
		return results
	}

	matches, err := s.matcher.MatchDocuments(ctx, vector, threshold, topK)
	if err != nil {
		s.logger.Warn("Similarity search failed, continuing without results", "error", err)
		return results
	}

	for _, m := range matches {
		if m.Similarity < threshold {
			continue
		}
		results = append(results, Result{
			Content:    m.Content,
			Similarity: m.Similarity,
			DocumentID: m.DocumentID,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}

	s.logger.Debug("Similarity search", "results", len(results), "threshold", threshold)
	return results
}
