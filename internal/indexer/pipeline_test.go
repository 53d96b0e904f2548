package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/respondo-rag/internal/chunker"
	"github.com/bull/respondo-rag/internal/extract"
	"github.com/bull/respondo-rag/internal/metadata"
	"github.com/bull/respondo-rag/internal/realtime"
	"github.com/bull/respondo-rag/internal/storage"
	"github.com/bull/respondo-rag/internal/storage/memory"
	"github.com/bull/respondo-rag/internal/storage/sqlite"
	"github.com/bull/respondo-rag/internal/upstream"
)

const testDimension = 4

type fakeBlobs map[string][]byte

func (f fakeBlobs) Download(_ context.Context, path string) ([]byte, error) {
	data, ok := f[path]
	if !ok {
		return nil, fmt.Errorf("no blob at %s", path)
	}
	return data, nil
}

type fakeEmbedder struct {
	failAt int // -1 never fails
	err    error
	onCall func(call int)
	calls  int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	call := f.calls
	f.calls++
	if f.onCall != nil {
		f.onCall(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if call == f.failAt {
		return nil, f.err
	}
	return []float32{1, float32(call), 0, 1}, nil
}

type fakeSummarizer struct {
	err error
}

func (f *fakeSummarizer) Summarize(context.Context, string, string) (*metadata.DocumentMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &metadata.DocumentMetadata{Summary: "A short summary."}, nil
}

type fixture struct {
	docs     *sqlite.Store
	vectors  *memory.Store
	blobs    fakeBlobs
	embedder *fakeEmbedder
	hub      *realtime.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := realtime.NewHub(64, nil)
	docs, err := sqlite.NewStore(t.TempDir(), sqlite.WithHub(hub))
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	return &fixture{
		docs:     docs,
		vectors:  memory.NewStore(testDimension),
		blobs:    fakeBlobs{},
		embedder: &fakeEmbedder{failAt: -1},
		hub:      hub,
	}
}

func (f *fixture) pipeline(t *testing.T, summarizer Summarizer) *Pipeline {
	t.Helper()
	p, err := NewPipeline(f.docs, f.blobs, extract.New(), f.embedder, f.vectors, summarizer,
		Config{WindowSize: 10, Overlap: 2}, nil)
	require.NoError(t, err)
	return p
}

func (f *fixture) upload(t *testing.T, docType string, data []byte) string {
	t.Helper()
	path := "user/" + fmt.Sprint(len(f.blobs)) + "." + docType
	f.blobs[path] = data
	doc := &storage.Document{Name: "doc." + docType, StoragePath: path, Type: docType, Size: int64(len(data)), CreatedBy: "user"}
	require.NoError(t, f.docs.CreateDocument(context.Background(), doc))
	return doc.ID
}

func (f *fixture) counts(t *testing.T, id string) (chunks, embeddings int) {
	t.Helper()
	rows, err := f.docs.ListChunks(context.Background(), id)
	require.NoError(t, err)
	n, err := f.vectors.CountEmbeddings(context.Background(), id)
	require.NoError(t, err)
	return len(rows), n
}

func (f *fixture) status(t *testing.T, id string) *storage.Document {
	t.Helper()
	doc, err := f.docs.GetDocument(context.Background(), id)
	require.NoError(t, err)
	return doc
}

// words returns "w0 w1 ... w(n-1)".
func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestNewPipeline_InvalidConfiguration(t *testing.T) {
	_, err := NewPipeline(nil, nil, nil, nil, nil, nil, Config{WindowSize: 5, Overlap: 5}, nil)
	assert.ErrorIs(t, err, chunker.ErrInvalidConfiguration)
}

func TestPipeline_Success(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "txt", []byte(words(25)))

	result, err := f.pipeline(t, &fakeSummarizer{}).Process(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, storage.StatusCompleted, result.Status)
	assert.Equal(t, 3, result.Chunks)

	chunks, err := f.docs.ListChunks(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
	assert.True(t, strings.HasPrefix(chunks[1].Content, "w8 w9 "))

	_, embeddings := f.counts(t, id)
	assert.Equal(t, 3, embeddings)

	doc := f.status(t, id)
	assert.Equal(t, storage.StatusCompleted, doc.Status)
	assert.Empty(t, doc.ErrorMessage)
	assert.Equal(t, "A short summary.", doc.Summary)
}

func TestPipeline_UndecodableContentFailsFromPending(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "txt", []byte{0xff, 0xfe, 0x00, 0x41})

	sub := f.hub.Subscribe(realtime.Filter{Table: sqlite.TableDocuments, RowID: id})
	defer sub.Close()

	result, err := f.pipeline(t, nil).Process(context.Background(), id)

	var extractionErr *extract.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, storage.StatusError, result.Status)

	doc := f.status(t, id)
	assert.Equal(t, storage.StatusError, doc.Status)
	assert.NotEmpty(t, doc.ErrorMessage)

	chunks, embeddings := f.counts(t, id)
	assert.Zero(t, chunks)
	assert.Zero(t, embeddings)
	assert.Zero(t, f.embedder.calls)

	// The only published transition goes straight from pending to error.
	select {
	case change := <-sub.C:
		record, ok := change.Record.(storage.Document)
		require.True(t, ok)
		assert.Equal(t, storage.StatusError, record.Status)
	case <-time.After(time.Second):
		t.Fatal("no status change published")
	}
	select {
	case change := <-sub.C:
		t.Fatalf("unexpected extra change: %+v", change)
	default:
	}
}

func TestPipeline_UnsupportedFormat(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "pdf", []byte("%PDF-1.7"))

	_, err := f.pipeline(t, nil).Process(context.Background(), id)
	require.Error(t, err)

	doc := f.status(t, id)
	assert.Equal(t, storage.StatusError, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "pdf")
}

func TestPipeline_EmbedFailureAtChunkK(t *testing.T) {
	for k := range 3 {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			f := newFixture(t)
			f.embedder.failAt = k
			f.embedder.err = &upstream.UpstreamError{StatusCode: 500}
			id := f.upload(t, "txt", []byte(words(25)))

			result, err := f.pipeline(t, &fakeSummarizer{}).Process(context.Background(), id)

			var upstreamErr *upstream.UpstreamError
			require.ErrorAs(t, err, &upstreamErr)
			assert.Equal(t, k, result.Chunks)

			chunks, embeddings := f.counts(t, id)
			assert.Equal(t, k+1, chunks, "chunk row k is persisted before the embed call")
			assert.Equal(t, k, embeddings)

			doc := f.status(t, id)
			assert.Equal(t, storage.StatusError, doc.Status)
			assert.Contains(t, doc.ErrorMessage, fmt.Sprintf("embed chunk %d", k))
			assert.Empty(t, doc.Summary)
		})
	}
}

func TestPipeline_EmptyDocumentCompletes(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "txt", []byte("  \n\t "))

	result, err := f.pipeline(t, nil).Process(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, result.Chunks)
	assert.Equal(t, storage.StatusCompleted, f.status(t, id).Status)
}

func TestPipeline_NotPending(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "txt", []byte(words(5)))
	_, err := f.docs.ClaimDocument(context.Background(), id)
	require.NoError(t, err)

	_, err = f.pipeline(t, nil).Process(context.Background(), id)
	assert.ErrorIs(t, err, storage.ErrNotClaimable)
	assert.Equal(t, storage.StatusProcessing, f.status(t, id).Status)
}

func TestPipeline_MissingDocument(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline(t, nil).Process(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)
}

func TestPipeline_Cancelled(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "txt", []byte(words(25)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.embedder.onCall = func(call int) {
		if call == 1 {
			cancel()
		}
	}

	result, err := f.pipeline(t, &fakeSummarizer{}).Process(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CancelledMessage, result.Message)

	doc := f.status(t, id)
	assert.Equal(t, storage.StatusError, doc.Status)
	assert.Equal(t, CancelledMessage, doc.ErrorMessage)
}

func TestPipeline_SummaryFailureKeepsCompleted(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "md", []byte("# Hours\n\nOpen daily."))

	_, err := f.pipeline(t, &fakeSummarizer{err: errors.New("model unavailable")}).Process(context.Background(), id)
	require.NoError(t, err)

	doc := f.status(t, id)
	assert.Equal(t, storage.StatusCompleted, doc.Status)
	assert.Empty(t, doc.Summary)
}
