package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/respondo-rag/internal/blob"
	"github.com/bull/respondo-rag/internal/chat"
	"github.com/bull/respondo-rag/internal/documents"
	"github.com/bull/respondo-rag/internal/realtime"
	"github.com/bull/respondo-rag/internal/storage"
	"github.com/bull/respondo-rag/internal/storage/memory"
	"github.com/bull/respondo-rag/internal/storage/sqlite"
)

type fixture struct {
	server *Server
	store  *sqlite.Store
	hub    *realtime.Hub
}

// fakeOpenAI streams the given tokens for every chat completion request.
func fakeOpenAI(t *testing.T, tokens ...string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range tokens {
			b, _ := json.Marshal(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"created": 1,
				"model":   "test-model",
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": tok}}},
			})
			io.WriteString(w, "data: "+string(b)+"\n\n")
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/"
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := realtime.NewHub(0, nil)
	store, err := sqlite.NewStore(t.TempDir(), sqlite.WithHub(hub))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs, err := blob.NewStore(t.TempDir(), []byte("signing-key-0123456789"), "http://files.test")
	require.NoError(t, err)

	client, err := chat.NewClient(chat.Config{
		APIKey:  "test-key",
		BaseURL: fakeOpenAI(t, "Hel", "lo"),
		Model:   "test-model",
	}, nil, nil)
	require.NoError(t, err)

	srv := New(Config{
		Documents:      documents.NewService(store, blobs, memory.NewStore(2), nil, 64, nil),
		Files:          blobs,
		Chats:          chat.NewConversations(client, store, nil),
		Hub:            hub,
		Health:         http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }),
		MaxUploadBytes: 64,
	})
	return &fixture{server: srv, store: store, hub: hub}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, user, name, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	return req
}

func (f *fixture) upload(t *testing.T, user, name, content string) *storage.Document {
	t.Helper()
	rec := f.do(uploadRequest(t, user, name, content))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Document
}

func TestLanding(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = f.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpload(t *testing.T) {
	f := newFixture(t)

	doc := f.upload(t, "u1", "faq.md", "# FAQ")
	assert.Equal(t, "faq.md", doc.Name)
	assert.Equal(t, storage.StatusPending, doc.Status)
	assert.Equal(t, "u1", doc.CreatedBy)
	assert.True(t, strings.HasPrefix(doc.StoragePath, "u1/"))
}

func TestUpload_Rejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		user    string
		file    string
		content string
		code    int
	}{
		{"missing user", "", "a.txt", "x", http.StatusUnauthorized},
		{"unsupported type", "u1", "a.exe", "x", http.StatusUnsupportedMediaType},
		{"too large", "u1", "a.txt", strings.Repeat("x", 65), http.StatusRequestEntityTooLarge},
		{"empty", "u1", "a.txt", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(uploadRequest(t, tt.user, tt.file, tt.content))
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	t.Run("missing file field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader("plain"))
		req.Header.Set(UserHeader, "u1")
		assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
	})
}

func TestListAndGet(t *testing.T) {
	f := newFixture(t)
	mine := f.upload(t, "u1", "a.txt", "alpha")
	f.upload(t, "u2", "b.txt", "beta")

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set(UserHeader, "u1")
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, mine.ID, list.Documents[0].ID)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/documents/"+mine.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status documents.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, mine.ID, status.Document.ID)
	assert.Zero(t, status.Chunks)
	assert.False(t, status.Running)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/documents/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "u1", "a.txt", "alpha")

	rec := f.do(httptest.NewRequest(http.MethodDelete, "/api/documents/"+doc.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodDelete, "/api/documents/"+doc.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSignedURL_ServesFile(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "u1", "a.txt", "alpha")

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID+"/url?ttl=5m", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp urlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), resp.ExpiresAt, time.Minute)

	signed, err := url.Parse(resp.URL)
	require.NoError(t, err)

	rec = f.do(httptest.NewRequest(http.MethodGet, signed.RequestURI(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alpha", rec.Body.String())

	q := signed.Query()
	q.Set("signature", strings.Repeat("0", 64))
	rec = f.do(httptest.NewRequest(http.MethodGet, signed.Path+"?"+q.Encode(), nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID+"/url?ttl=soon", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents_StreamsDocumentChanges(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/documents/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	doc := &storage.Document{Name: "a.txt", StoragePath: "u1/a.txt", Type: "txt", CreatedBy: "u1"}
	require.NoError(t, f.store.CreateDocument(context.Background(), doc))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var change struct {
		Table  string            `json:"table"`
		Op     realtime.Op       `json:"op"`
		RowID  string            `json:"row_id"`
		Record *storage.Document `json:"record"`
	}
	require.NoError(t, conn.ReadJSON(&change))
	assert.Equal(t, sqlite.TableDocuments, change.Table)
	assert.Equal(t, realtime.OpInsert, change.Op)
	assert.Equal(t, doc.ID, change.RowID)
	assert.Equal(t, storage.StatusPending, change.Record.Status)
}

func TestEvents_UnknownTable(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/documents/events?table=users", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_StreamsAndCommits(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/c1", strings.NewReader(`{"message":"hi"}`))
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: token\ndata: {\"token\":\"Hel\"}")
	assert.Contains(t, body, "event: token\ndata: {\"token\":\"lo\"}")
	assert.Contains(t, body, `"outcome":"completed"`)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/chat/c1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var history historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "Hello"},
	}, history.Messages)
	assert.False(t, history.Streaming)

	stored, err := f.store.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestChat_RequiresMessage(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/chat/c1", strings.NewReader(`{"message":"  "}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_CancelWithoutStream(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/chat/c1/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled":false}`, rec.Body.String())
}

func TestHealthRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(chat.ErrStreamAlreadyActive))
	assert.Equal(t, http.StatusForbidden, statusFor(blob.ErrExpired))
	assert.Equal(t, http.StatusNotFound, statusFor(blob.ErrNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
