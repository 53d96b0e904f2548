// Package sqlite is the relational store for documents, their chunks and chat history.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bull/respondo-rag/internal/realtime"
	"github.com/bull/respondo-rag/internal/storage"
	"github.com/bull/respondo-rag/internal/storage/sqlite/migrations"
)

// Table names published on the realtime hub.
const (
	TableDocuments = "documents"
	TableMessages  = "messages"
)

// Store is a SQLite-backed relational store.
type Store struct {
	db   *sql.DB
	path string
	hub  *realtime.Hub
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithHub publishes every document and message write on hub.
func WithHub(hub *realtime.Hub) Option {
	return func(s *Store) { s.hub = hub }
}

// NewStore opens (or creates) metadata.db inside dataDir and applies migrations.
// If dataDir is empty, defaults to ~/.respondo/data.
func NewStore(dataDir string, opts ...Option) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".respondo", "data")
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "metadata.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs all pending *.up.sql files in version order.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, s.now().UnixMilli()); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Documents ====================

const documentColumns = `id, name, storage_path, type, size, status, error_message, summary,
	created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*storage.Document, error) {
	var doc storage.Document
	var status string
	var createdAt, updatedAt int64
	if err := row.Scan(&doc.ID, &doc.Name, &doc.StoragePath, &doc.Type, &doc.Size, &status,
		&doc.ErrorMessage, &doc.Summary, &doc.CreatedBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc.Status = storage.Status(status)
	doc.CreatedAt = time.UnixMilli(createdAt).UTC()
	doc.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &doc, nil
}

// CreateDocument inserts a new pending document. An empty ID is filled with a UUID.
func (s *Store) CreateDocument(ctx context.Context, doc *storage.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := s.now()
	doc.Status = storage.StatusPending
	doc.ErrorMessage = ""
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Name, doc.StoragePath, doc.Type, doc.Size, string(doc.Status),
		doc.ErrorMessage, doc.Summary, doc.CreatedBy, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}

	s.publish(TableDocuments, realtime.OpInsert, doc.ID, *doc)
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*storage.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns documents newest first. An empty owner lists everything.
func (s *Store) ListDocuments(ctx context.Context, owner string) ([]storage.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if owner != "" {
		query += ` WHERE created_by = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []storage.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// transition moves a document to status `to` only if its current status is one of `from`.
// It returns false when no row matched.
func (s *Store) transition(ctx context.Context, id string, to storage.Status, message string, from ...storage.Status) (bool, error) {
	placeholders := make([]string, len(from))
	args := []any{string(to), message, s.now().UnixMilli(), id}
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("updating document status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating document status: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if doc, err := s.GetDocument(ctx, id); err == nil {
		s.publish(TableDocuments, realtime.OpUpdate, id, *doc)
	}
	return true, nil
}

// conflict explains why a conditional transition matched no row.
func (s *Store) conflict(ctx context.Context, id string, sentinel error) error {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", sentinel, id, doc.Status)
}

// ClaimDocument moves a pending document to processing. Only one caller can win the
// claim; the others get storage.ErrNotClaimable.
func (s *Store) ClaimDocument(ctx context.Context, id string) (*storage.Document, error) {
	ok, err := s.transition(ctx, id, storage.StatusProcessing, "", storage.StatusPending)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflict(ctx, id, storage.ErrNotClaimable)
	}
	return s.GetDocument(ctx, id)
}

// CompleteDocument moves a processing document to completed.
func (s *Store) CompleteDocument(ctx context.Context, id string) error {
	ok, err := s.transition(ctx, id, storage.StatusCompleted, "", storage.StatusProcessing)
	if err != nil {
		return err
	}
	if !ok {
		return s.conflict(ctx, id, storage.ErrInvalidTransition)
	}
	return nil
}

// FailDocument moves a pending or processing document to error with a message.
func (s *Store) FailDocument(ctx context.Context, id, message string) error {
	ok, err := s.transition(ctx, id, storage.StatusError, message, storage.StatusPending, storage.StatusProcessing)
	if err != nil {
		return err
	}
	if !ok {
		return s.conflict(ctx, id, storage.ErrInvalidTransition)
	}
	return nil
}

// SetSummary stores a generated summary without touching the status.
func (s *Store) SetSummary(ctx context.Context, id, summary string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET summary = ?, updated_at = ? WHERE id = ?`,
		summary, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("updating summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrDocumentNotFound
	}
	if doc, err := s.GetDocument(ctx, id); err == nil {
		s.publish(TableDocuments, realtime.OpUpdate, id, *doc)
	}
	return nil
}

// DeleteDocument removes a document and, by cascade, its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrDocumentNotFound
	}
	s.publish(TableDocuments, realtime.OpDelete, id, nil)
	return nil
}

// ==================== Chunks ====================

// InsertChunk stores one chunk row. An empty ID is filled with a UUID.
func (s *Store) InsertChunk(ctx context.Context, chunk *storage.Chunk) error {
	if chunk.ID == "" {
		chunk.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_chunks (id, document_id, chunk_index, content) VALUES (?, ?, ?, ?)
	`, chunk.ID, chunk.DocumentID, chunk.Index, chunk.Content)
	if err != nil {
		return fmt.Errorf("inserting chunk %d: %w", chunk.Index, err)
	}
	return nil
}

// ListChunks returns a document's chunks in index order.
func (s *Store) ListChunks(ctx context.Context, documentID string) ([]storage.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content FROM document_chunks
		WHERE document_id = ? ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []storage.Chunk
	for rows.Next() {
		var c storage.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// ==================== Messages ====================

// AppendMessage stores a committed chat message.
func (s *Store) AppendMessage(ctx context.Context, msg *storage.ChatMessage) error {
	msg.CreatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)
	`, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		msg.ID = id
	}
	s.publish(TableMessages, realtime.OpInsert, msg.ConversationID, *msg)
	return nil
}

// ListMessages returns a conversation's messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]storage.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at FROM messages
		WHERE conversation_id = ? ORDER BY id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []storage.ChatMessage
	for rows.Next() {
		var m storage.ChatMessage
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// publish notifies subscribers keyed by table and row id. For messages the key is the
// conversation id.
func (s *Store) publish(table string, op realtime.Op, rowID string, record any) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(realtime.Change{Table: table, Op: op, RowID: rowID, Record: record})
}
