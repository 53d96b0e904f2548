// Package chat streams assistant replies from an OpenAI-compatible completions API.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/bull/respondo-rag/internal/upstream"
)

// Defaults for the retry policy and model.
const (
	DefaultModel      = "gpt-4o-mini"
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// ContextPrompt wraps retrieved document context in a system message.
const ContextPrompt = "Here is some relevant context from the user's documents:\n\n%s\n\nPlease use this information to help answer the user's questions."

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one committed conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Callbacks receive the events of one streamed turn. They are called from the
// session's goroutine, never concurrently. Any of them may be nil.
type Callbacks struct {
	OnToken    func(token string)
	OnError    func(err error)
	OnComplete func()
	// OnRetry fires before a retry wait. Tokens already delivered will be streamed
	// again from the start.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// ContextProvider supplies retrieved context for a user query.
type ContextProvider interface {
	BuildContext(ctx context.Context, query string) (string, bool)
}

// Config holds connection and retry settings.
type Config struct {
	APIKey     string
	BaseURL    string // Empty uses the SDK default
	Model      string // Empty uses DefaultModel
	MaxRetries int    // Negative disables retry; 0 uses DefaultMaxRetries
	BaseDelay  time.Duration
	HTTPClient *http.Client
}

// Client starts streaming chat turns. It is safe for concurrent use; every turn gets
// its own Session.
type Client struct {
	client     *openai.Client
	model      string
	maxRetries int
	baseDelay  time.Duration
	contexts   ContextProvider
	logger     *slog.Logger
}

// NewClient creates a chat client. contexts may be nil to disable retrieval.
func NewClient(cfg Config, contexts ContextProvider, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("chat API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = DefaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := openai.NewClient(opts...)

	return &Client{
		client:     &client,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		contexts:   contexts,
		logger:     logger,
	}, nil
}

// Session is the handle for one streamed turn.
type Session struct {
	cancel  context.CancelFunc
	done    chan struct{}
	retries atomic.Int32

	mu      sync.Mutex
	ended   bool
	outcome Outcome
	err     error
}

// Cancel aborts the turn. Once Cancel returns the outcome is OutcomeCancelled and
// neither OnError nor OnComplete fires, unless the outcome was already decided, in
// which case Cancel does nothing.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.cancel()
	}
}

// Done is closed when the turn has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the turn ends and returns its outcome.
func (s *Session) Wait() Outcome {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Err returns the final error of a failed turn.
func (s *Session) Err() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Retries returns the number of retries performed so far.
func (s *Session) Retries() int { return int(s.retries.Load()) }

// Stream sends history plus user to the model and streams the reply through cb.
// It returns immediately; the turn runs until completion, failure or cancellation.
func (c *Client) Stream(ctx context.Context, history []Message, user Message, cb Callbacks) *Session {
	return c.start(ctx, history, user, cb, nil)
}

// start is Stream with a hook that runs after the turn ends and before Done closes.
func (c *Client) start(ctx context.Context, history []Message, user Message, cb Callbacks, finish func(Outcome)) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{cancel: cancel, done: make(chan struct{})}

	messages := append(append([]Message(nil), history...), user)
	go c.run(ctx, s, messages, cb, finish)
	return s
}

func (c *Client) run(ctx context.Context, s *Session, messages []Message, cb Callbacks, finish func(Outcome)) {
	defer close(s.done)
	defer s.cancel()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: c.buildMessages(ctx, messages),
	}

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := c.streamOnce(ctx, params, cb)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if upstream.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, delay time.Duration) {
		attempt := int(s.retries.Add(1))
		c.logger.Warn("Chat stream failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		if cb.OnRetry != nil {
			cb.OnRetry(attempt, delay, err)
		}
	}

	b := newLinearBackOff(c.baseDelay, c.maxRetries)
	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)

	s.mu.Lock()
	var outcome Outcome
	switch {
	case ctx.Err() != nil:
		outcome = OutcomeCancelled
	case err != nil:
		outcome = OutcomeFailed
		s.err = err
	default:
		outcome = OutcomeCompleted
	}
	s.outcome = outcome
	s.ended = true
	s.mu.Unlock()

	switch outcome {
	case OutcomeCancelled:
		c.logger.Info("Chat stream cancelled", "retries", s.Retries())
	case OutcomeFailed:
		c.logger.Error("Chat stream failed", "retries", s.Retries(), "error", err)
	}

	if finish != nil {
		finish(outcome)
	}

	switch outcome {
	case OutcomeCompleted:
		if cb.OnComplete != nil {
			cb.OnComplete()
		}
	case OutcomeFailed:
		if cb.OnError != nil {
			cb.OnError(err)
		}
	}
}

// buildMessages converts the conversation and prepends retrieved context, if any.
func (c *Client) buildMessages(ctx context.Context, messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)

	if c.contexts != nil && len(messages) > 0 {
		query := messages[len(messages)-1].Content
		if text, ok := c.contexts.BuildContext(ctx, query); ok {
			out = append(out, openai.SystemMessage(fmt.Sprintf(ContextPrompt, text)))
		}
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

var doneMarker = []byte("[DONE]")

// streamOnce performs one request and delivers tokens until [DONE]. A body that ends
// before [DONE] is a transport error.
func (c *Client) streamOnce(ctx context.Context, params openai.ChatCompletionNewParams, cb Callbacks) error {
	var raw *http.Response
	err := c.client.Post(ctx, "chat/completions", params, &raw,
		option.WithJSONSet("stream", true),
		option.WithHeader("Accept", "text/event-stream"),
	)
	if err != nil {
		return upstream.Classify(err)
	}

	dec := ssestream.NewDecoder(raw)
	if dec == nil {
		return &upstream.TransportError{Err: io.ErrUnexpectedEOF}
	}
	defer dec.Close()

	for dec.Next() {
		data := bytes.TrimSpace(dec.Event().Data)
		if len(data) == 0 {
			continue
		}
		if bytes.Equal(data, doneMarker) {
			return nil
		}

		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			c.logger.Debug("Skipping unparseable stream event", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		token := chunk.Choices[0].Delta.Content
		if token == "" || ctx.Err() != nil {
			continue
		}
		if cb.OnToken != nil {
			cb.OnToken(token)
		}
	}

	if err := dec.Err(); err != nil {
		return upstream.Classify(err)
	}
	return &upstream.TransportError{Err: io.ErrUnexpectedEOF}
}
