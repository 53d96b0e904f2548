package github

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/bull/respondo-rag/internal/documents"
	"github.com/bull/respondo-rag/internal/indexer"
	"github.com/bull/respondo-rag/internal/storage"
)

// Uploader accepts imported files as documents.
type Uploader interface {
	Upload(ctx context.Context, up documents.Upload) (*storage.Document, *indexer.Job, error)
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	TotalDocs  int
	Imported   []string // Document IDs
	FailedDocs []FailedDoc
	CommitSHA  string
	Duration   time.Duration
	Jobs       []*indexer.Job
}

// FailedDoc represents a file that failed to import.
type FailedDoc struct {
	Path   string
	Reason string
}

// Importer uploads every matching repository file as a document owned by userID.
type Importer struct {
	fetcher  *Fetcher
	uploader Uploader
	userID   string
	logger   *slog.Logger
}

// NewImporter creates an importer.
func NewImporter(fetcher *Fetcher, uploader Uploader, userID string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{fetcher: fetcher, uploader: uploader, userID: userID, logger: logger}
}

// Import lists and uploads all files. Individual failures are collected, not fatal.
func (im *Importer) Import(ctx context.Context) (*ImportResult, error) {
	start := time.Now()
	result := &ImportResult{}

	commitSHA, err := im.fetcher.GetLatestCommitSHA(ctx)
	if err != nil {
		return nil, fmt.Errorf("get commit SHA: %w", err)
	}
	result.CommitSHA = commitSHA
	im.logger.Info("Starting import", "commit", commitSHA)

	paths, err := im.fetcher.ListDocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	result.TotalDocs = len(paths)
	im.logger.Info("Found documents", "count", len(paths))

	for _, p := range paths {
		doc, job, err := im.importDoc(ctx, p)
		if err != nil {
			im.logger.Warn("Failed to import document", "path", p, "error", err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: p, Reason: err.Error()})
			continue
		}
		result.Imported = append(result.Imported, doc.ID)
		if job != nil {
			result.Jobs = append(result.Jobs, job)
		}
	}

	result.Duration = time.Since(start)
	im.logger.Info("Import complete",
		"imported", len(result.Imported),
		"failed", len(result.FailedDocs),
		"duration", result.Duration,
	)
	return result, nil
}

func (im *Importer) importDoc(ctx context.Context, relativePath string) (*storage.Document, *indexer.Job, error) {
	fetched, err := im.fetcher.FetchDoc(ctx, relativePath)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch: %w", err)
	}
	im.logger.Debug("Fetched document", "path", relativePath, "size", len(fetched.Content))

	return im.uploader.Upload(ctx, documents.Upload{
		UserID:   im.userID,
		FileName: path.Base(relativePath),
		Data:     bytes.NewReader(fetched.Content),
	})
}
