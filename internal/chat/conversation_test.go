package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/respondo-rag/internal/storage"
)

type fakeMessageStore struct {
	mu      sync.Mutex
	saved   []storage.ChatMessage
	listErr error
}

func (f *fakeMessageStore) AppendMessage(_ context.Context, msg *storage.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *msg)
	return nil
}

func (f *fakeMessageStore) ListMessages(_ context.Context, id string) ([]storage.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []storage.ChatMessage
	for _, m := range f.saved {
		if m.ConversationID == id {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestConversation_CommitsCompletedReply(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeStream(w, true, "We ship ", "worldwide.")
	}, nil)
	store := &fakeMessageStore{}
	conv := NewConversation("c1", c, store, nil, nil)

	var historyAtComplete []Message
	s, err := conv.Send(context.Background(), "Do you ship abroad?", Callbacks{
		OnComplete: func() { historyAtComplete = conv.History() },
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, s.Wait())

	want := []Message{
		{Role: RoleUser, Content: "Do you ship abroad?"},
		{Role: RoleAssistant, Content: "We ship worldwide."},
	}
	assert.Equal(t, want, conv.History())
	assert.Equal(t, want, historyAtComplete)

	require.Len(t, store.saved, 2)
	assert.Equal(t, "c1", store.saved[1].ConversationID)
	assert.Equal(t, "assistant", store.saved[1].Role)

	_, active := conv.Active()
	assert.False(t, active)
}

func TestConversation_RejectsConcurrentTurn(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
			writeStream(w, true, "done")
		case <-r.Context().Done():
		}
	}, nil)
	conv := NewConversation("c1", c, nil, nil, nil)

	s, err := conv.Send(context.Background(), "first", Callbacks{})
	require.NoError(t, err)

	_, err = conv.Send(context.Background(), "second", Callbacks{})
	assert.ErrorIs(t, err, ErrStreamAlreadyActive)

	close(release)
	require.Equal(t, OutcomeCompleted, s.Wait())

	s, err = conv.Send(context.Background(), "third", Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, s.Wait())
	assert.Len(t, conv.History(), 4)
}

func TestConversation_CancelCommitsPartialText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeStream(w, false, "Partial ", "answer")
		<-r.Context().Done()
	}, nil)
	conv := NewConversation("c1", c, nil, nil, nil)

	var tokens atomic.Int32
	got := make(chan struct{})
	s, err := conv.Send(context.Background(), "q", Callbacks{
		OnToken: func(string) {
			if tokens.Add(1) == 2 {
				close(got)
			}
		},
		OnError:    func(error) { t.Error("OnError must not fire on cancel") },
		OnComplete: func() { t.Error("OnComplete must not fire on cancel") },
	})
	require.NoError(t, err)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("tokens not received")
	}
	assert.True(t, conv.Cancel())
	require.Equal(t, OutcomeCancelled, s.Wait())

	history := conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, Message{Role: RoleAssistant, Content: "Partial answer"}, history[1])
}

func TestConversation_CancelWithoutTokensCommitsNothing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}, nil)
	conv := NewConversation("c1", c, nil, nil, nil)

	s, err := conv.Send(context.Background(), "q", Callbacks{})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	s.Cancel()
	require.Equal(t, OutcomeCancelled, s.Wait())

	assert.Equal(t, []Message{{Role: RoleUser, Content: "q"}}, conv.History())
}

func TestConversation_FailureCommitsGenericReply(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}, nil)
	conv := NewConversation("c1", c, nil, nil, nil)

	var gotErr error
	s, err := conv.Send(context.Background(), "q", Callbacks{OnError: func(err error) { gotErr = err }})
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, s.Wait())

	assert.Error(t, gotErr)
	history := conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, ErrorReply, history[1].Content)
}

func TestConversation_RetryDiscardsPartialAttempt(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeStream(w, false, "Hel")
			return
		}
		writeStream(w, true, "Hel", "lo")
	}, nil)
	conv := NewConversation("c1", c, nil, nil, nil)

	s, err := conv.Send(context.Background(), "q", Callbacks{})
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, s.Wait())

	assert.Equal(t, "Hello", conv.History()[1].Content)
}

func TestConversation_SendsPriorHistory(t *testing.T) {
	var body struct {
		Messages []map[string]any `json:"messages"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, decodeJSON(r, &body))
		writeStream(w, true, "ok")
	}, nil)
	seed := []Message{{Role: RoleUser, Content: "earlier"}, {Role: RoleAssistant, Content: "reply"}}
	conv := NewConversation("c1", c, nil, seed, nil)

	s, err := conv.Send(context.Background(), "now", Callbacks{})
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, s.Wait())

	require.Len(t, body.Messages, 3)
	assert.Equal(t, "earlier", body.Messages[0]["content"])
	assert.Equal(t, "now", body.Messages[2]["content"])
}

func TestConversations_LoadsHistoryOnce(t *testing.T) {
	store := &fakeMessageStore{saved: []storage.ChatMessage{
		{ConversationID: "c1", Role: "user", Content: "hi"},
		{ConversationID: "c1", Role: "assistant", Content: "hello"},
		{ConversationID: "c2", Role: "user", Content: "other"},
	}}
	c, err := NewClient(Config{APIKey: "k"}, nil, nil)
	require.NoError(t, err)
	reg := NewConversations(c, store, nil)

	conv, err := reg.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}}, conv.History())

	again, err := reg.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Same(t, conv, again)

	found, ok := reg.Lookup("c1")
	assert.True(t, ok)
	assert.Same(t, conv, found)

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestConversations_LoadError(t *testing.T) {
	c, err := NewClient(Config{APIKey: "k"}, nil, nil)
	require.NoError(t, err)
	reg := NewConversations(c, &fakeMessageStore{listErr: errors.New("db down")}, nil)

	_, err = reg.Get(context.Background(), "c1")
	assert.Error(t, err)
}
