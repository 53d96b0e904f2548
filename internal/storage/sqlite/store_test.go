package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/respondo-rag/internal/realtime"
	"github.com/bull/respondo-rag/internal/storage"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createDoc(t *testing.T, s *Store, owner string) *storage.Document {
	t.Helper()
	doc := &storage.Document{
		Name:        "faq.txt",
		StoragePath: owner + "/faq.txt",
		Type:        "txt",
		Size:        42,
		CreatedBy:   owner,
	}
	require.NoError(t, s.CreateDocument(context.Background(), doc))
	return doc
}

func TestStore_MigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewStore(dir)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 1, version)
}

func TestStore_CreateAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := createDoc(t, s, "user-1")
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, storage.StatusPending, doc.Status)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Name, got.Name)
	assert.Equal(t, doc.StoragePath, got.StoragePath)
	assert.Equal(t, int64(42), got.Size)
	assert.Equal(t, storage.StatusPending, got.Status)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)

	_, err = s.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)
}

func TestStore_ListDocumentsByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createDoc(t, s, "alice")
	createDoc(t, s, "alice")
	createDoc(t, s, "bob")

	alice, err := s.ListDocuments(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	all, err := s.ListDocuments(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_StatusLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := createDoc(t, s, "u")

	claimed, err := s.ClaimDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusProcessing, claimed.Status)

	_, err = s.ClaimDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotClaimable)

	require.NoError(t, s.CompleteDocument(ctx, doc.ID))

	// Terminal states never revert.
	assert.ErrorIs(t, s.FailDocument(ctx, doc.ID, "late"), storage.ErrInvalidTransition)
	assert.ErrorIs(t, s.CompleteDocument(ctx, doc.ID), storage.ErrInvalidTransition)
	_, err = s.ClaimDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotClaimable)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, got.Status)
}

func TestStore_FailFromPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := createDoc(t, s, "u")

	require.NoError(t, s.FailDocument(ctx, doc.ID, "unsupported format"))

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusError, got.Status)
	assert.Equal(t, "unsupported format", got.ErrorMessage)

	assert.ErrorIs(t, s.FailDocument(ctx, "missing", "x"), storage.ErrDocumentNotFound)
}

func TestStore_ConcurrentClaimHasOneWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := createDoc(t, s, "u")

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimDocument(ctx, doc.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestStore_ChunksCascadeOnDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := createDoc(t, s, "u")

	for i, content := range []string{"first", "second", "third"} {
		require.NoError(t, s.InsertChunk(ctx, &storage.Chunk{DocumentID: doc.ID, Index: i, Content: content}))
	}
	// Indices are unique per document.
	assert.Error(t, s.InsertChunk(ctx, &storage.Chunk{DocumentID: doc.ID, Index: 1, Content: "dup"}))

	chunks, err := s.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}

	require.NoError(t, s.DeleteDocument(ctx, doc.ID))
	chunks, err = s.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	assert.ErrorIs(t, s.DeleteDocument(ctx, doc.ID), storage.ErrDocumentNotFound)
}

func TestStore_SetSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := createDoc(t, s, "u")

	require.NoError(t, s.SetSummary(ctx, doc.ID, "Store FAQ."))
	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Store FAQ.", got.Summary)
	assert.Equal(t, storage.StatusPending, got.Status)

	assert.ErrorIs(t, s.SetSummary(ctx, "missing", "x"), storage.ErrDocumentNotFound)
}

func TestStore_Messages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, &storage.ChatMessage{ConversationID: "c1", Role: "user", Content: "hi"}))
	require.NoError(t, s.AppendMessage(ctx, &storage.ChatMessage{ConversationID: "c2", Role: "user", Content: "other"}))
	require.NoError(t, s.AppendMessage(ctx, &storage.ChatMessage{ConversationID: "c1", Role: "assistant", Content: "hello"}))

	msgs, err := s.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)

	assert.Error(t, s.AppendMessage(ctx, &storage.ChatMessage{ConversationID: "c1", Role: "robot", Content: "x"}))
}

func TestStore_PublishesDocumentChanges(t *testing.T) {
	hub := realtime.NewHub(16, nil)
	s := newTestStore(t, WithHub(hub))
	ctx := context.Background()

	sub := hub.Subscribe(realtime.Filter{Table: TableDocuments})
	defer sub.Close()

	doc := createDoc(t, s, "u")
	_, err := s.ClaimDocument(ctx, doc.ID)
	require.NoError(t, err)

	next := func() realtime.Change {
		select {
		case c := <-sub.C:
			return c
		case <-time.After(time.Second):
			t.Fatal("no change published")
			return realtime.Change{}
		}
	}

	insert := next()
	assert.Equal(t, realtime.OpInsert, insert.Op)
	assert.Equal(t, doc.ID, insert.RowID)

	update := next()
	assert.Equal(t, realtime.OpUpdate, update.Op)
	record, ok := update.Record.(storage.Document)
	require.True(t, ok)
	assert.Equal(t, storage.StatusProcessing, record.Status)
}
