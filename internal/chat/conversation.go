package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bull/respondo-rag/internal/storage"
)

// ErrorReply is committed as the assistant message when a turn fails.
const ErrorReply = "Sorry, there was an error processing your request."

// ErrStreamAlreadyActive is returned by Send while a turn is still streaming.
var ErrStreamAlreadyActive = errors.New("a stream is already active for this conversation")

// MessageStore persists committed messages.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *storage.ChatMessage) error
	ListMessages(ctx context.Context, conversationID string) ([]storage.ChatMessage, error)
}

// Conversation owns the committed history of one chat and allows one turn at a time.
type Conversation struct {
	id     string
	client *Client
	store  MessageStore
	logger *slog.Logger

	mu      sync.Mutex
	history []Message
	active  *Session
}

// NewConversation creates a conversation seeded with history. store may be nil.
func NewConversation(id string, client *Client, store MessageStore, history []Message, logger *slog.Logger) *Conversation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversation{
		id:      id,
		client:  client,
		store:   store,
		logger:  logger.With("conversation", id),
		history: append([]Message(nil), history...),
	}
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// History returns a copy of the committed messages.
func (c *Conversation) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.history...)
}

// Active returns the in-flight session, if any.
func (c *Conversation) Active() (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.active != nil
}

// Cancel aborts the in-flight turn. It reports whether there was one.
func (c *Conversation) Cancel() bool {
	s, ok := c.Active()
	if ok {
		s.Cancel()
	}
	return ok
}

// Send commits the user message and streams the assistant reply. When the turn ends
// the reply is committed: the full text on completion, the partial text on
// cancellation (if any), or ErrorReply on failure. The commit happens before
// cb.OnComplete / cb.OnError run and before the session's Done closes.
func (c *Conversation) Send(ctx context.Context, text string, cb Callbacks) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil, ErrStreamAlreadyActive
	}

	prior := append([]Message(nil), c.history...)
	user := Message{Role: RoleUser, Content: text}
	c.commitLocked(ctx, user)

	var reply strings.Builder
	wrapped := Callbacks{
		OnToken: func(token string) {
			reply.WriteString(token)
			if cb.OnToken != nil {
				cb.OnToken(token)
			}
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			reply.Reset()
			if cb.OnRetry != nil {
				cb.OnRetry(attempt, delay, err)
			}
		},
		OnComplete: cb.OnComplete,
		OnError:    cb.OnError,
	}

	finish := func(outcome Outcome) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.active = nil

		switch outcome {
		case OutcomeCompleted:
			c.commitLocked(ctx, Message{Role: RoleAssistant, Content: reply.String()})
		case OutcomeCancelled:
			if reply.Len() > 0 {
				c.commitLocked(ctx, Message{Role: RoleAssistant, Content: reply.String()})
			}
		case OutcomeFailed:
			c.commitLocked(ctx, Message{Role: RoleAssistant, Content: ErrorReply})
		}
	}

	c.active = c.client.start(ctx, prior, user, wrapped, finish)
	return c.active, nil
}

// commitLocked appends to history and persists. Persistence failures are logged only.
func (c *Conversation) commitLocked(ctx context.Context, m Message) {
	c.history = append(c.history, m)
	if c.store == nil {
		return
	}
	err := c.store.AppendMessage(context.WithoutCancel(ctx), &storage.ChatMessage{
		ConversationID: c.id,
		Role:           string(m.Role),
		Content:        m.Content,
	})
	if err != nil {
		c.logger.Warn("Failed to persist chat message", "role", m.Role, "error", err)
	}
}

// Conversations keeps one Conversation per id, loading history from the store on
// first use.
type Conversations struct {
	client *Client
	store  MessageStore
	logger *slog.Logger

	mu   sync.Mutex
	byID map[string]*Conversation
}

// NewConversations creates a registry. store may be nil.
func NewConversations(client *Client, store MessageStore, logger *slog.Logger) *Conversations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversations{
		client: client,
		store:  store,
		logger: logger,
		byID:   make(map[string]*Conversation),
	}
}

// Get returns the conversation for id, creating it if needed.
func (r *Conversations) Get(ctx context.Context, id string) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conv, ok := r.byID[id]; ok {
		return conv, nil
	}

	var history []Message
	if r.store != nil {
		stored, err := r.store.ListMessages(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load conversation %s: %w", id, err)
		}
		for _, m := range stored {
			history = append(history, Message{Role: Role(m.Role), Content: m.Content})
		}
	}

	conv := NewConversation(id, r.client, r.store, history, r.logger)
	r.byID[id] = conv
	return conv, nil
}

// Lookup returns an already loaded conversation.
func (r *Conversations) Lookup(id string) (*Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byID[id]
	return conv, ok
}
