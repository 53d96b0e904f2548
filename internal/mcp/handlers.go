package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/respondo-rag/internal/documents"
	"github.com/bull/respondo-rag/internal/retrieval"
	"github.com/bull/respondo-rag/internal/storage"
)

const (
	defaultMaxResults = 5
	maxMaxResults     = 20
)

// DocumentService is the part of documents.Service the tools need.
type DocumentService interface {
	Get(ctx context.Context, id string) (*storage.Document, error)
	List(ctx context.Context, owner string) ([]storage.Document, error)
	Status(ctx context.Context, id string) (*documents.Status, error)
}

func toInfo(doc *storage.Document) DocumentInfo {
	return DocumentInfo{
		ID:           doc.ID,
		Name:         doc.Name,
		Type:         doc.Type,
		Status:       string(doc.Status),
		ErrorMessage: doc.ErrorMessage,
		Summary:      doc.Summary,
		UpdatedAt:    doc.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// makeSearchHandler creates the search_documents tool handler.
// Search flow:
// 1. Embed the query
// 2. Search chunks (limit * 3 so enough documents survive dedup)
// 3. Keep the best chunk per document
// 4. Attach document name and summary
func makeSearchHandler(docs DocumentService, embedder retrieval.Embedder, searcher *retrieval.Searcher) func(
	context.Context, *mcp.CallToolRequest, SearchDocumentsInput,
) (*mcp.CallToolResult, SearchDocumentsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchDocumentsInput) (
		*mcp.CallToolResult, SearchDocumentsOutput, error,
	) {
		maxResults := input.MaxResults
		if maxResults <= 0 {
			maxResults = defaultMaxResults
		}
		maxResults = min(maxResults, maxMaxResults)
		minScore := input.MinScore
		if minScore <= 0 {
			minScore = retrieval.DefaultThreshold
		}

		vector, err := embedder.Embed(ctx, input.Query)
		if err != nil {
			return nil, SearchDocumentsOutput{}, fmt.Errorf("failed to embed query: %w", err)
		}

		// Results arrive most similar first, so the first chunk seen per document is its best.
		seen := make(map[string]bool)
		results := make([]SearchResult, 0, maxResults)
		for _, r := range searcher.Search(ctx, vector, minScore, maxResults*3) {
			if seen[r.DocumentID] || len(results) == maxResults {
				continue
			}
			seen[r.DocumentID] = true

			doc, err := docs.Get(ctx, r.DocumentID)
			if err != nil {
				continue // Skip documents deleted since indexing
			}
			results = append(results, SearchResult{
				DocumentID: r.DocumentID,
				Name:       doc.Name,
				Score:      r.Similarity,
				Summary:    doc.Summary,
				Excerpt:    r.Content,
			})
		}

		if len(results) == 0 {
			return nil, SearchDocumentsOutput{
				Results: []SearchResult{},
				Message: "No matching documents found. Try broader search terms.",
			}, nil
		}

		return nil, SearchDocumentsOutput{Results: results}, nil
	}
}

// makeListHandler creates the list_documents tool handler.
func makeListHandler(docs DocumentService) func(
	context.Context, *mcp.CallToolRequest, ListDocumentsInput,
) (*mcp.CallToolResult, ListDocumentsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListDocumentsInput) (
		*mcp.CallToolResult, ListDocumentsOutput, error,
	) {
		list, err := docs.List(ctx, input.Owner)
		if err != nil {
			return nil, ListDocumentsOutput{}, fmt.Errorf("failed to list documents: %w", err)
		}

		infos := make([]DocumentInfo, len(list))
		for i := range list {
			infos[i] = toInfo(&list[i])
		}
		return nil, ListDocumentsOutput{Documents: infos, Count: len(infos)}, nil
	}
}

// makeGetHandler creates the get_document tool handler.
func makeGetHandler(docs DocumentService) func(
	context.Context, *mcp.CallToolRequest, GetDocumentInput,
) (*mcp.CallToolResult, GetDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetDocumentInput) (
		*mcp.CallToolResult, GetDocumentOutput, error,
	) {
		status, err := docs.Status(ctx, input.ID)
		if err != nil {
			if errors.Is(err, storage.ErrDocumentNotFound) {
				return nil, GetDocumentOutput{Found: false}, nil
			}
			return nil, GetDocumentOutput{}, fmt.Errorf("failed to get document: %w", err)
		}

		info := toInfo(status.Document)
		return nil, GetDocumentOutput{
			Document:   &info,
			Chunks:     status.Chunks,
			Embeddings: status.Embeddings,
			Running:    status.Running,
			Found:      true,
		}, nil
	}
}

// VectorIndex reports the state of the vector store.
type VectorIndex interface {
	HealthChecker
	TotalEmbeddings(ctx context.Context) (int, error)
}

// makeStatusHandler creates the get_index_status tool handler.
func makeStatusHandler(docs DocumentService, vectors VectorIndex) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		list, err := docs.List(ctx, "")
		if err != nil {
			return nil, StatusOutput{}, fmt.Errorf("failed to list documents: %w", err)
		}

		byStatus := map[string]int{}
		for _, d := range list {
			byStatus[string(d.Status)]++
		}

		out := StatusOutput{
			TotalDocs: len(list),
			ByStatus:  byStatus,
			Healthy:   true,
		}
		if vectors != nil {
			out.Healthy = vectors.Health(ctx) == nil
			if out.Healthy {
				// Count is informational; a failure leaves it at zero.
				out.TotalEmbeddings, _ = vectors.TotalEmbeddings(ctx)
			}
		}
		return nil, out, nil
	}
}
