// Package server exposes documents, files, chat and change events over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bull/respondo-rag/internal/blob"
	"github.com/bull/respondo-rag/internal/chat"
	"github.com/bull/respondo-rag/internal/documents"
	"github.com/bull/respondo-rag/internal/indexer"
	"github.com/bull/respondo-rag/internal/realtime"
	"github.com/bull/respondo-rag/internal/storage"
)

// UserHeader carries the opaque id of the calling user.
const UserHeader = "X-User-ID"

// DocumentService is implemented by documents.Service.
type DocumentService interface {
	Upload(ctx context.Context, up documents.Upload) (*storage.Document, *indexer.Job, error)
	Get(ctx context.Context, id string) (*storage.Document, error)
	List(ctx context.Context, owner string) ([]storage.Document, error)
	Status(ctx context.Context, id string) (*documents.Status, error)
	Delete(ctx context.Context, id string) error
	SignedURL(ctx context.Context, id string, ttl time.Duration) (string, error)
}

// FileStore serves blobs behind signed URLs. Implemented by blob.Store.
type FileStore interface {
	Verify(objectPath, expires, signature string) error
	Open(objectPath string) (*os.File, error)
}

// ChatService is implemented by chat.Conversations.
type ChatService interface {
	Get(ctx context.Context, id string) (*chat.Conversation, error)
	Lookup(id string) (*chat.Conversation, bool)
}

// Config holds server dependencies. Chats, Hub, MCP and Health are optional.
type Config struct {
	Documents      DocumentService
	Files          FileStore
	Chats          ChatService
	Hub            *realtime.Hub
	MCP            http.Handler
	Health         http.Handler
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Server routes the HTTP API.
type Server struct {
	docs      DocumentService
	files     FileStore
	chats     ChatService
	hub       *realtime.Hub
	maxUpload int64
	logger    *slog.Logger
	mux       *http.ServeMux
}

// New creates the server and registers its routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = documents.DefaultMaxUploadBytes
	}

	s := &Server{
		docs:      cfg.Documents,
		files:     cfg.Files,
		chats:     cfg.Chats,
		hub:       cfg.Hub,
		maxUpload: maxUpload,
		logger:    logger,
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /{$}", handleLanding)

	s.mux.HandleFunc("POST /api/documents", s.handleUpload)
	s.mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	s.mux.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)
	s.mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)
	s.mux.HandleFunc("GET /api/documents/{id}/url", s.handleSignedURL)
	s.mux.HandleFunc("GET /files/{path...}", s.handleFile)

	if s.hub != nil {
		s.mux.HandleFunc("GET /api/documents/events", s.handleEvents)
	}
	if s.chats != nil {
		s.mux.HandleFunc("POST /api/chat/{conversation}", s.handleChat)
		s.mux.HandleFunc("POST /api/chat/{conversation}/cancel", s.handleCancelChat)
		s.mux.HandleFunc("GET /api/chat/{conversation}", s.handleChatHistory)
	}
	if cfg.MCP != nil {
		s.mux.Handle("/mcp", cfg.MCP)
	}
	if cfg.Health != nil {
		s.mux.Handle("GET /health", cfg.Health)
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrDocumentNotFound), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, documents.ErrMissingUser):
		return http.StatusUnauthorized
	case errors.Is(err, documents.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, documents.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, documents.ErrEmptyFile), errors.Is(err, blob.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, blob.ErrInvalidSignature), errors.Is(err, blob.ErrExpired):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrStreamAlreadyActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
