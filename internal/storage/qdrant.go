package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

const vectorName = "content"

// QdrantStorage keeps chunk embeddings in Qdrant and answers similarity queries.
type QdrantStorage struct {
	client    *qdrant.Client
	host      string
	port      int
	dimension int
}

// NewQdrantStorage creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
// A dimension of 0 selects VectorDimension.
func NewQdrantStorage(host string, port int, dimension int) (*QdrantStorage, error) {
	if dimension <= 0 {
		dimension = VectorDimension
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	storage := &QdrantStorage{
		client:    client,
		host:      host,
		port:      port,
		dimension: dimension,
	}

	ctx := context.Background()
	err = storage.healthCheckWithRetry(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return storage, nil
}

// newBackOff is the retry policy shared by startup health checks and writes.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(newBackOff(), ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}

	return nil
}

// EnsureCollection creates the embeddings collection (cosine distance) and its payload
// indexes if it does not exist yet. Idempotent.
func (s *QdrantStorage) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, EmbeddingsCollection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: EmbeddingsCollection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	for _, field := range []string{"document_id", "chunk_id"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: EmbeddingsCollection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}

	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *QdrantStorage) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: EmbeddingsCollection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(newBackOff(), ctx))
}

// InsertEmbedding stores one chunk vector. The point id is the embedding id.
func (s *QdrantStorage) InsertEmbedding(ctx context.Context, e *Embedding) error {
	if len(e.Vector) != s.dimension {
		return fmt.Errorf("%w: embedding has %d dimensions, expected %d",
			ErrDimensionMismatch, len(e.Vector), s.dimension)
	}

	point := &qdrant.PointStruct{
		Id: qdrant.NewIDUUID(e.ID),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
			vectorName: qdrant.NewVector(e.Vector...),
		}),
		Payload: qdrant.NewValueMap(map[string]any{
			"document_id": e.DocumentID,
			"chunk_id":    e.ChunkID,
			"content":     e.Content,
		}),
	}

	if err := s.upsertWithRetry(ctx, []*qdrant.PointStruct{point}); err != nil {
		return fmt.Errorf("failed to upsert embedding %s: %w", e.ID, err)
	}
	return nil
}

// MatchDocuments returns up to count chunks whose cosine similarity with the query is at
// least threshold, ordered by similarity descending.
func (s *QdrantStorage) MatchDocuments(ctx context.Context, query []float32, threshold float64, count int) ([]Match, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(query), s.dimension)
	}

	using := vectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: EmbeddingsCollection,
		Query:          qdrant.NewQuery(query...),
		Using:          &using,
		ScoreThreshold: qdrant.PtrOf(float32(threshold)),
		Limit:          qdrant.PtrOf(uint64(count)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to match documents: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, result := range results {
		payload := result.Payload
		matches = append(matches, Match{
			ChunkID:    payload["chunk_id"].GetStringValue(),
			DocumentID: payload["document_id"].GetStringValue(),
			Content:    payload["content"].GetStringValue(),
			Similarity: float64(result.Score),
		})
	}

	return matches, nil
}

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("document_id", documentID),
		},
	}
}

// DeleteDocumentEmbeddings removes every vector that belongs to a document.
func (s *QdrantStorage) DeleteDocumentEmbeddings(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: EmbeddingsCollection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(documentFilter(documentID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete embeddings of %s: %w", documentID, err)
	}
	return nil
}

// CountEmbeddings returns the number of vectors stored for a document.
func (s *QdrantStorage) CountEmbeddings(ctx context.Context, documentID string) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: EmbeddingsCollection,
		Filter:         documentFilter(documentID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count embeddings of %s: %w", documentID, err)
	}
	return int(n), nil
}

// TotalEmbeddings returns the number of vectors in the collection.
func (s *QdrantStorage) TotalEmbeddings(ctx context.Context) (int, error) {
	collection, err := s.client.GetCollectionInfo(ctx, EmbeddingsCollection)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection: %w", err)
	}
	return int(collection.GetPointsCount()), nil
}
