package storage

import "time"

// Status is the ingestion lifecycle state of a Document.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Document is an uploaded file tracked through ingestion.
type Document struct {
	ID           string    `json:"id"`                      // UUID
	Name         string    `json:"name"`                    // Original file name
	StoragePath  string    `json:"storage_path"`            // Blob path: "<user>/<uuid>.<ext>"
	Type         string    `json:"type"`                    // Declared type (extension or MIME type)
	Size         int64     `json:"size"`                    // Byte size of the blob
	Status       Status    `json:"status"`                  // Lifecycle state
	ErrorMessage string    `json:"error_message,omitempty"` // Set when Status == StatusError
	Summary      string    `json:"summary,omitempty"`       // Optional generated summary
	CreatedBy    string    `json:"created_by"`              // Opaque user id
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Chunk is one window of a document's extracted text.
type Chunk struct {
	ID         string // UUID
	DocumentID string // Links to Document.ID
	Index      int    // Position in document (0, 1, 2...)
	Content    string
}

// Embedding is the vector computed for exactly one Chunk.
type Embedding struct {
	ID         string    // UUID
	DocumentID string    // Links to Document.ID
	ChunkID    string    // Links to Chunk.ID
	Content    string    // Chunk text, kept alongside the vector for retrieval
	Vector     []float32 // VectorDimension floats
}

// Match is a ranked similarity result.
type Match struct {
	ChunkID    string
	DocumentID string
	Content    string
	Similarity float64
}

// ChatMessage is a committed conversation turn.
type ChatMessage struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// EmbeddingsCollection is the Qdrant collection holding chunk vectors.
const EmbeddingsCollection = "document_embeddings"

// VectorDimension is the embedding size for text-embedding-ada-002 and text-embedding-3-small.
const VectorDimension = 1536
