// Package documents implements the upload, listing and deletion flows around ingestion.
package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bull/respondo-rag/internal/blob"
	"github.com/bull/respondo-rag/internal/indexer"
	"github.com/bull/respondo-rag/internal/storage"
)

// DefaultMaxUploadBytes is the largest accepted upload (10 MiB).
const DefaultMaxUploadBytes = 10 << 20

// AllowedExtensions are the file types accepted for upload. pdf and doc are stored
// but fail extraction.
var AllowedExtensions = []string{"txt", "md", "html", "docx", "pdf", "doc"}

var (
	ErrMissingUser     = errors.New("user id is required")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file exceeds the upload size limit")
	ErrEmptyFile       = errors.New("file is empty")
)

// Store is the relational side of the document flows.
type Store interface {
	CreateDocument(ctx context.Context, doc *storage.Document) error
	GetDocument(ctx context.Context, id string) (*storage.Document, error)
	ListDocuments(ctx context.Context, owner string) ([]storage.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListChunks(ctx context.Context, documentID string) ([]storage.Chunk, error)
}

// Blobs stores uploaded bytes.
type Blobs interface {
	Upload(ctx context.Context, path string, r io.Reader) (int64, error)
	Delete(ctx context.Context, path string) error
	SignedURL(path string, ttl time.Duration) (string, error)
}

// Vectors removes and counts a document's embeddings.
type Vectors interface {
	DeleteDocumentEmbeddings(ctx context.Context, documentID string) error
	CountEmbeddings(ctx context.Context, documentID string) (int, error)
}

// Jobs starts and looks up ingestion jobs.
type Jobs interface {
	Start(documentID string) *indexer.Job
	Get(documentID string) (*indexer.Job, bool)
}

// Upload is one file submitted by a user.
type Upload struct {
	UserID   string
	FileName string
	Data     io.Reader
}

// Status is a document with its ingestion progress.
type Status struct {
	Document   *storage.Document `json:"document"`
	Chunks     int               `json:"chunks"`
	Embeddings int               `json:"embeddings"`
	Running    bool              `json:"running"`
}

// Service coordinates storage, blobs and ingestion jobs.
type Service struct {
	store    Store
	blobs    Blobs
	vectors  Vectors
	jobs     Jobs
	maxBytes int64
	logger   *slog.Logger
}

// NewService creates the document service. maxBytes <= 0 selects DefaultMaxUploadBytes.
func NewService(store Store, blobs Blobs, vectors Vectors, jobs Jobs, maxBytes int64, logger *slog.Logger) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		blobs:    blobs,
		vectors:  vectors,
		jobs:     jobs,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Extension returns the lowercase extension of name without the dot, if allowed.
func Extension(name string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return ext, true
		}
	}
	return ext, false
}

// Upload validates and stores the file, records a pending document and starts its
// ingestion in the background. Ingestion failures are recorded on the document,
// never returned here.
func (s *Service) Upload(ctx context.Context, up Upload) (*storage.Document, *indexer.Job, error) {
	if up.UserID == "" {
		return nil, nil, ErrMissingUser
	}
	ext, ok := Extension(up.FileName)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	data, err := io.ReadAll(io.LimitReader(up.Data, s.maxBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, nil, fmt.Errorf("%w: max %d bytes", ErrTooLarge, s.maxBytes)
	}
	if len(data) == 0 {
		return nil, nil, ErrEmptyFile
	}

	objectPath := blob.ObjectPath(up.UserID, up.FileName)
	size, err := s.blobs.Upload(ctx, objectPath, bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("storing file: %w", err)
	}

	doc := &storage.Document{
		Name:        filepath.Base(up.FileName),
		StoragePath: objectPath,
		Type:        ext,
		Size:        size,
		CreatedBy:   up.UserID,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), objectPath); delErr != nil {
			s.logger.Error("Failed to remove orphaned blob", "path", objectPath, "error", delErr)
		}
		return nil, nil, fmt.Errorf("recording document: %w", err)
	}

	s.logger.Info("Document uploaded", "document", doc.ID, "name", doc.Name, "size", size, "user", up.UserID)

	var job *indexer.Job
	if s.jobs != nil {
		job = s.jobs.Start(doc.ID)
	}
	return doc, job, nil
}

// Get returns a document.
func (s *Service) Get(ctx context.Context, id string) (*storage.Document, error) {
	return s.store.GetDocument(ctx, id)
}

// List returns a user's documents, newest first. An empty owner lists all.
func (s *Service) List(ctx context.Context, owner string) ([]storage.Document, error) {
	return s.store.ListDocuments(ctx, owner)
}

// Status reports a document with its chunk and embedding counts.
func (s *Service) Status(ctx context.Context, id string) (*Status, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	chunks, err := s.store.ListChunks(ctx, id)
	if err != nil {
		return nil, err
	}
	embeddings, err := s.vectors.CountEmbeddings(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("counting embeddings: %w", err)
	}

	status := &Status{Document: doc, Chunks: len(chunks), Embeddings: embeddings}
	if s.jobs != nil {
		_, status.Running = s.jobs.Get(id)
	}
	return status, nil
}

// Delete cancels any running ingestion and removes the document's blob, embeddings,
// chunks and row.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}

	if s.jobs != nil {
		if job, ok := s.jobs.Get(id); ok {
			job.Cancel()
			if _, err := job.Wait(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}

	if err := s.vectors.DeleteDocumentEmbeddings(ctx, id); err != nil {
		return fmt.Errorf("deleting embeddings: %w", err)
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if err := s.blobs.Delete(ctx, doc.StoragePath); err != nil {
		s.logger.Warn("Failed to delete blob", "path", doc.StoragePath, "error", err)
	}

	s.logger.Info("Document deleted", "document", id)
	return nil
}

// SignedURL returns a temporary read URL for the document's file.
func (s *Service) SignedURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return "", err
	}
	return s.blobs.SignedURL(doc.StoragePath, ttl)
}
