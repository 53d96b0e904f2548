// Package app assembles the service components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bull/respondo-rag/internal/blob"
	"github.com/bull/respondo-rag/internal/chat"
	"github.com/bull/respondo-rag/internal/config"
	"github.com/bull/respondo-rag/internal/documents"
	"github.com/bull/respondo-rag/internal/embedding"
	"github.com/bull/respondo-rag/internal/extract"
	"github.com/bull/respondo-rag/internal/indexer"
	mcpserver "github.com/bull/respondo-rag/internal/mcp"
	"github.com/bull/respondo-rag/internal/metadata"
	"github.com/bull/respondo-rag/internal/realtime"
	"github.com/bull/respondo-rag/internal/retrieval"
	"github.com/bull/respondo-rag/internal/server"
	"github.com/bull/respondo-rag/internal/storage"
	"github.com/bull/respondo-rag/internal/storage/memory"
	"github.com/bull/respondo-rag/internal/storage/sqlite"
)

// Version is reported to MCP clients. Set at build time with -ldflags.
var Version = "dev"

// App holds every long-lived component.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Hub           *realtime.Hub
	Store         *sqlite.Store
	Blobs         *blob.Store
	Vectors       storage.VectorStore
	Embedder      embedding.Embedder // ingestion, long rate-limit budget
	QueryEmbedder embedding.Embedder // retrieval and search, short budget
	Pipeline      *indexer.Pipeline
	Runner        *indexer.Runner
	Documents     *documents.Service
	Searcher      *retrieval.Searcher
	Assembler     *retrieval.Assembler
	Chat          *chat.Client
	Conversations *chat.Conversations
	MCP           *mcpserver.Server
}

// NewLogger returns a text logger writing to w at the named level.
func NewLogger(level string, w io.Writer) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// New builds the application. On error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.closeStores()
		}
	}()

	a.Hub = realtime.NewHub(realtime.DefaultBuffer, logger)

	a.Store, err = sqlite.NewStore(cfg.Storage.DataDir, sqlite.WithHub(a.Hub))
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	a.Blobs, err = blob.NewStore(cfg.BlobDir(), []byte(cfg.Storage.SigningKey), cfg.Server.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	a.Vectors, err = openVectors(ctx, cfg.VectorStore)
	if err != nil {
		return nil, err
	}

	embedClient, err := embedding.NewClient(embedding.Config{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		Model:             cfg.Embedding.Model,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	retryCfg := embedding.DefaultRetryConfig()
	retryCfg.MaxElapsed = cfg.Embedding.RetryMaxElapsed
	a.Embedder = embedding.NewRetrying(embedClient, retryCfg, logger)
	a.QueryEmbedder = embedding.NewRetrying(embedClient, embedding.QueryRetryConfig(), logger)

	// A nil *Generator must not reach the pipeline as a non-nil interface.
	var summarizer indexer.Summarizer
	if cfg.Chat.Summaries {
		summarizer = metadata.NewGenerator(embedClient.OpenAI(), cfg.Chat.Model, 0, logger)
	}

	a.Pipeline, err = indexer.NewPipeline(
		a.Store, a.Blobs, extract.New(), a.Embedder, a.Vectors, summarizer,
		indexer.Config{WindowSize: cfg.Chunker.WindowSize, Overlap: cfg.Chunker.Overlap},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}
	a.Runner = indexer.NewRunner(a.Pipeline, logger)
	a.Documents = documents.NewService(a.Store, a.Blobs, a.Vectors, a.Runner, cfg.Server.MaxUploadBytes, logger)

	a.Searcher = retrieval.NewSearcher(a.Vectors, logger)
	a.Assembler = retrieval.NewAssembler(a.QueryEmbedder, a.Searcher, logger,
		retrieval.WithThreshold(cfg.Retrieval.Threshold),
		retrieval.WithTopK(cfg.Retrieval.TopK),
	)

	maxRetries := cfg.Chat.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1 // Zero in config means no retries
	}
	a.Chat, err = chat.NewClient(chat.Config{
		APIKey:     cfg.OpenAI.APIKey,
		BaseURL:    cfg.OpenAI.BaseURL,
		Model:      cfg.Chat.Model,
		MaxRetries: maxRetries,
		BaseDelay:  cfg.Chat.BaseDelay,
	}, a.Assembler, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat client: %w", err)
	}
	a.Conversations = chat.NewConversations(a.Chat, a.Store, logger)

	a.MCP = mcpserver.NewServer(&mcpserver.Config{
		Documents: a.Documents,
		Embedder:  a.QueryEmbedder,
		Searcher:  a.Searcher,
		Vectors:   a.Vectors,
		Version:   Version,
	})

	logger.Info("Application ready",
		"data_dir", cfg.Storage.DataDir,
		"vector_backend", cfg.VectorStore.Backend,
		"embedding_model", cfg.Embedding.Model,
		"chat_model", cfg.Chat.Model,
	)
	return a, nil
}

func openVectors(ctx context.Context, cfg config.VectorStoreConfig) (storage.VectorStore, error) {
	switch cfg.Backend {
	case "memory":
		return memory.NewStore(storage.VectorDimension), nil
	case "qdrant":
		store, err := storage.NewQdrantStorage(cfg.Qdrant.Host, cfg.Qdrant.Port, storage.VectorDimension)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		if err := store.EnsureCollection(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to ensure collection: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}

// Handler returns the HTTP API with MCP mounted at /mcp and health at /health.
func (a *App) Handler() http.Handler {
	return server.New(server.Config{
		Documents: a.Documents,
		Files:     a.Blobs,
		Chats:     a.Conversations,
		Hub:       a.Hub,
		MCP:       a.MCP.HTTPHandler(false),
		Health: mcpserver.NewHealthHandler(map[string]mcpserver.HealthChecker{
			"metadata": a.Store,
			"vectors":  a.Vectors,
		}),
		MaxUploadBytes: a.Config.Server.MaxUploadBytes,
		Logger:         a.Logger,
	})
}

// Close stops running ingestion jobs and closes the stores.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Runner != nil {
		if err := a.Runner.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping ingestion: %w", err))
		}
	}
	errs = append(errs, a.closeStores())
	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	var errs []error
	if a.Vectors != nil {
		errs = append(errs, a.Vectors.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
