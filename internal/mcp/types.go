// Package mcp exposes the knowledge base to MCP clients.
package mcp

// SearchDocumentsInput defines the input parameters for the search_documents tool.
type SearchDocumentsInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"The question or topic to search the uploaded documents for"`
	// MaxResults is the maximum number of documents to return.
	MaxResults int `json:"max_results,omitempty" jsonschema:"Maximum number of documents to return (1-20, default 5)"`
	// MinScore is the minimum relevance threshold (0-1).
	MinScore float64 `json:"min_score,omitempty" jsonschema:"Minimum similarity score between 0 and 1 (default 0.7)"`
}

// SearchDocumentsOutput contains the search results.
type SearchDocumentsOutput struct {
	Results []SearchResult `json:"results"`
	// Message provides informational context (e.g., "No matching documents found").
	Message string `json:"message,omitempty"`
}

// SearchResult represents the best matching chunk of one document.
type SearchResult struct {
	DocumentID string  `json:"document_id"`
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
	Summary    string  `json:"summary,omitempty"`
	Excerpt    string  `json:"excerpt"`
}

// ListDocumentsInput defines the input parameters for the list_documents tool.
type ListDocumentsInput struct {
	Owner string `json:"owner,omitempty" jsonschema:"Only list documents uploaded by this user id"`
}

// DocumentInfo is a document as shown to MCP clients.
type DocumentInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Summary      string `json:"summary,omitempty"`
	UpdatedAt    string `json:"updated_at"` // RFC 3339
}

// ListDocumentsOutput contains all documents visible to the caller.
type ListDocumentsOutput struct {
	Documents []DocumentInfo `json:"documents"`
	Count     int            `json:"count"`
}

// GetDocumentInput defines the input parameters for the get_document tool.
type GetDocumentInput struct {
	ID string `json:"id" jsonschema:"The document id"`
}

// GetDocumentOutput contains one document and its ingestion progress.
type GetDocumentOutput struct {
	Document   *DocumentInfo `json:"document,omitempty"`
	Chunks     int           `json:"chunks"`
	Embeddings int           `json:"embeddings"`
	Running    bool          `json:"running"`
	Found      bool          `json:"found"`
}

// StatusInput defines the input parameters for the get_index_status tool.
type StatusInput struct{}

// StatusOutput summarises the knowledge base.
type StatusOutput struct {
	TotalDocs       int            `json:"total_docs"`
	ByStatus        map[string]int `json:"by_status"`
	TotalEmbeddings int            `json:"total_embeddings"`
	Healthy         bool           `json:"healthy"`
}
