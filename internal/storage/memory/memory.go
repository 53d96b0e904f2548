// Package memory is an in-process vector store using brute-force cosine similarity.
// It backs local development and tests in place of Qdrant.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/bull/respondo-rag/internal/storage"
)

// Store holds embeddings in memory.
type Store struct {
	mu         sync.RWMutex
	dimension  int
	embeddings []storage.Embedding
}

// NewStore creates an empty store. A dimension of 0 accepts vectors of any length,
// fixed by the first insert.
func NewStore(dimension int) *Store {
	return &Store{dimension: dimension}
}

// InsertEmbedding appends a vector.
func (s *Store) InsertEmbedding(_ context.Context, e *storage.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension == 0 {
		s.dimension = len(e.Vector)
	}
	if len(e.Vector) != s.dimension {
		return fmt.Errorf("%w: embedding has %d dimensions, expected %d",
			storage.ErrDimensionMismatch, len(e.Vector), s.dimension)
	}

	cp := *e
	cp.Vector = append([]float32(nil), e.Vector...)
	s.embeddings = append(s.embeddings, cp)
	return nil
}

// MatchDocuments scores every stored vector against the query.
func (s *Store) MatchDocuments(_ context.Context, query []float32, threshold float64, count int) ([]storage.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension != 0 && len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			storage.ErrDimensionMismatch, len(query), s.dimension)
	}

	var matches []storage.Match
	for _, e := range s.embeddings {
		score := cosine(query, e.Vector)
		if score < threshold {
			continue
		}
		matches = append(matches, storage.Match{
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			Content:    e.Content,
			Similarity: score,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if count > 0 && len(matches) > count {
		matches = matches[:count]
	}
	return matches, nil
}

// DeleteDocumentEmbeddings drops every vector of a document.
func (s *Store) DeleteDocumentEmbeddings(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.embeddings[:0]
	for _, e := range s.embeddings {
		if e.DocumentID != documentID {
			kept = append(kept, e)
		}
	}
	s.embeddings = kept
	return nil
}

// CountEmbeddings returns the number of vectors stored for a document.
func (s *Store) CountEmbeddings(_ context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.embeddings {
		if e.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

// TotalEmbeddings returns the number of stored vectors.
func (s *Store) TotalEmbeddings(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.embeddings), nil
}

// Health always succeeds.
func (s *Store) Health(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
