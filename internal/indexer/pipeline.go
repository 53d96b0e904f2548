// Package indexer turns uploaded documents into chunk and embedding rows.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bull/respondo-rag/internal/chunker"
	"github.com/bull/respondo-rag/internal/metadata"
	"github.com/bull/respondo-rag/internal/storage"
)

// CancelledMessage is recorded on a document whose ingestion was cancelled.
const CancelledMessage = "ingestion cancelled"

// DocumentStore is the relational side of ingestion.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*storage.Document, error)
	ClaimDocument(ctx context.Context, id string) (*storage.Document, error)
	CompleteDocument(ctx context.Context, id string) error
	FailDocument(ctx context.Context, id, message string) error
	InsertChunk(ctx context.Context, chunk *storage.Chunk) error
	SetSummary(ctx context.Context, id, summary string) error
}

// BlobReader fetches a document's stored bytes.
type BlobReader interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// TextExtractor turns raw bytes of a declared type into normalised text.
type TextExtractor interface {
	Extract(declaredType string, data []byte) (string, error)
}

// Embedder produces a vector for one chunk.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingWriter persists one embedding.
type EmbeddingWriter interface {
	InsertEmbedding(ctx context.Context, e *storage.Embedding) error
}

// Summarizer generates optional document metadata after ingestion.
type Summarizer interface {
	Summarize(ctx context.Context, name, content string) (*metadata.DocumentMetadata, error)
}

// Config controls chunking.
type Config struct {
	WindowSize int
	Overlap    int
}

// DefaultConfig returns a 1000-word window with 200 words of overlap.
func DefaultConfig() Config {
	return Config{WindowSize: chunker.DefaultWindowSize, Overlap: chunker.DefaultOverlap}
}

// Result describes one ingestion run.
type Result struct {
	DocumentID string
	Status     storage.Status
	Chunks     int
	Message    string // Error message recorded on the document, if any
	Duration   time.Duration
}

// Pipeline processes one document end to end.
type Pipeline struct {
	docs       DocumentStore
	blobs      BlobReader
	extractor  TextExtractor
	embedder   Embedder
	vectors    EmbeddingWriter
	summarizer Summarizer
	cfg        Config
	logger     *slog.Logger
}

// NewPipeline creates a new ingestion pipeline. summarizer may be nil.
func NewPipeline(
	docs DocumentStore,
	blobs BlobReader,
	extractor TextExtractor,
	embedder Embedder,
	vectors EmbeddingWriter,
	summarizer Summarizer,
	cfg Config,
	logger *slog.Logger,
) (*Pipeline, error) {
	if err := chunker.Validate(cfg.WindowSize, cfg.Overlap); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		docs:       docs,
		blobs:      blobs,
		extractor:  extractor,
		embedder:   embedder,
		vectors:    vectors,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Process ingests a pending document. Failures after the document is loaded are
// recorded on it (status error plus message) and also returned; storage.ErrNotClaimable
// means another run owns the document and nothing was changed.
func (p *Pipeline) Process(ctx context.Context, documentID string) (*Result, error) {
	start := time.Now()
	result := &Result{DocumentID: documentID}

	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if doc.Status != storage.StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", storage.ErrNotClaimable, documentID, doc.Status)
	}
	p.logger.Info("Starting ingestion", "document", documentID, "name", doc.Name, "type", doc.Type)

	// Preflight: nothing is written until the text is known to be usable.
	text, chunks, err := p.prepare(ctx, doc)
	if err != nil {
		return p.fail(ctx, result, start, err)
	}

	if _, err := p.docs.ClaimDocument(ctx, documentID); err != nil {
		if errors.Is(err, storage.ErrNotClaimable) {
			return nil, err
		}
		return p.fail(ctx, result, start, fmt.Errorf("claim: %w", err))
	}

	index := 0
	for content := range chunks {
		if ctx.Err() != nil {
			return p.fail(ctx, result, start, ctx.Err())
		}
		if err := p.processChunk(ctx, documentID, index, content); err != nil {
			return p.fail(ctx, result, start, err)
		}
		index++
		result.Chunks = index
	}

	if err := p.docs.CompleteDocument(context.WithoutCancel(ctx), documentID); err != nil {
		return p.fail(ctx, result, start, fmt.Errorf("complete: %w", err))
	}
	result.Status = storage.StatusCompleted
	result.Duration = time.Since(start)

	p.logger.Info("Ingestion complete",
		"document", documentID,
		"chunks", result.Chunks,
		"duration", result.Duration,
	)

	p.summarize(ctx, doc, text)
	return result, nil
}

// prepare downloads, extracts and chunks the document without touching its status.
func (p *Pipeline) prepare(ctx context.Context, doc *storage.Document) (string, iter.Seq[string], error) {
	data, err := p.blobs.Download(ctx, doc.StoragePath)
	if err != nil {
		return "", nil, fmt.Errorf("download: %w", err)
	}

	text, err := p.extractor.Extract(doc.Type, data)
	if err != nil {
		return "", nil, fmt.Errorf("extract: %w", err)
	}
	p.logger.Debug("Extracted text", "document", doc.ID, "chars", len(text))

	chunks, err := chunker.Split(text, p.cfg.WindowSize, p.cfg.Overlap)
	if err != nil {
		return "", nil, fmt.Errorf("chunk: %w", err)
	}
	return text, chunks, nil
}

// processChunk persists the chunk row before embedding it, so a failed embed call
// leaves the chunk row without its embedding.
func (p *Pipeline) processChunk(ctx context.Context, documentID string, index int, content string) error {
	chunk := &storage.Chunk{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Index:      index,
		Content:    content,
	}
	if err := p.docs.InsertChunk(ctx, chunk); err != nil {
		return fmt.Errorf("store chunk %d: %w", index, err)
	}

	vector, err := p.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed chunk %d: %w", index, err)
	}

	if err := p.vectors.InsertEmbedding(ctx, &storage.Embedding{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		ChunkID:    chunk.ID,
		Content:    content,
		Vector:     vector,
	}); err != nil {
		return fmt.Errorf("store embedding %d: %w", index, err)
	}

	p.logger.Debug("Embedded chunk", "document", documentID, "index", index)
	return nil
}

// fail records the error on the document. The status write ignores cancellation so a
// cancelled run still lands in a terminal state.
func (p *Pipeline) fail(ctx context.Context, result *Result, start time.Time, cause error) (*Result, error) {
	message := cause.Error()
	if ctx.Err() != nil && errors.Is(cause, ctx.Err()) {
		message = CancelledMessage
	}

	result.Status = storage.StatusError
	result.Message = message
	result.Duration = time.Since(start)

	if err := p.docs.FailDocument(context.WithoutCancel(ctx), result.DocumentID, message); err != nil {
		p.logger.Error("Failed to record ingestion failure", "document", result.DocumentID, "error", err)
	}
	p.logger.Warn("Ingestion failed",
		"document", result.DocumentID,
		"chunks", result.Chunks,
		"error", cause,
	)
	return result, cause
}

// summarize stores a generated summary. Failures are logged only.
func (p *Pipeline) summarize(ctx context.Context, doc *storage.Document, text string) {
	if p.summarizer == nil || ctx.Err() != nil {
		return
	}
	meta, err := p.summarizer.Summarize(ctx, doc.Name, text)
	if err != nil {
		p.logger.Warn("Summary generation failed", "document", doc.ID, "error", err)
		return
	}
	if err := p.docs.SetSummary(ctx, doc.ID, meta.Summary); err != nil {
		p.logger.Warn("Failed to store summary", "document", doc.ID, "error", err)
	}
}
