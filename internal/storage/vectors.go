package storage

import "context"

// VectorStore holds chunk embeddings and answers nearest-neighbour queries.
// QdrantStorage and memory.Store implement it.
type VectorStore interface {
	InsertEmbedding(ctx context.Context, e *Embedding) error
	MatchDocuments(ctx context.Context, query []float32, threshold float64, count int) ([]Match, error)
	DeleteDocumentEmbeddings(ctx context.Context, documentID string) error
	CountEmbeddings(ctx context.Context, documentID string) (int, error)
	TotalEmbeddings(ctx context.Context) (int, error)
	Health(ctx context.Context) error
	Close() error
}
