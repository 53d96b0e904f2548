package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bull/respondo-rag/internal/chat"
)

type chatRequest struct {
	Message string `json:"message"`
}

type tokenEvent struct {
	Token string `json:"token"`
}

type retryEvent struct {
	Attempt int    `json:"attempt"`
	DelayMS int64  `json:"delay_ms"`
	Error   string `json:"error"`
}

type doneEvent struct {
	Outcome chat.Outcome `json:"outcome"`
	Retries int          `json:"retries"`
}

type historyResponse struct {
	Conversation string         `json:"conversation"`
	Messages     []chat.Message `json:"messages"`
	Streaming    bool           `json:"streaming"`
}

// sseWriter writes server-sent events. It is used from one goroutine at a time.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (e *sseWriter) send(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(e.w, "event: %s\n", event)
	fmt.Fprintf(e.w, "data: %s\n\n", payload)
	e.flusher.Flush()
}

// handleChat streams one assistant turn as server-sent events: token, retry and
// error events while it runs, then a final done event. A client disconnect cancels
// the turn.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming not supported"})
		return
	}

	conv, err := s.chats.Get(r.Context(), r.PathValue("conversation"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, busy := conv.Active(); busy {
		s.writeError(w, r, chat.ErrStreamAlreadyActive)
		return
	}

	// Headers go out before the turn starts so callbacks are the only writers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := &sseWriter{w: w, flusher: flusher}
	session, err := conv.Send(r.Context(), req.Message, chat.Callbacks{
		OnToken: func(token string) {
			events.send("token", tokenEvent{Token: token})
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			events.send("retry", retryEvent{Attempt: attempt, DelayMS: delay.Milliseconds(), Error: err.Error()})
		},
		OnError: func(err error) {
			events.send("error", errorResponse{Error: chat.ErrorReply})
		},
	})
	if err != nil {
		events.send("error", errorResponse{Error: err.Error()})
		return
	}

	outcome := session.Wait()
	if r.Context().Err() != nil {
		return
	}
	events.send("done", doneEvent{Outcome: outcome, Retries: session.Retries()})
}

func (s *Server) handleCancelChat(w http.ResponseWriter, r *http.Request) {
	cancelled := false
	if conv, ok := s.chats.Lookup(r.PathValue("conversation")); ok {
		cancelled = conv.Cancel()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("conversation")
	conv, err := s.chats.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	messages := conv.History()
	if messages == nil {
		messages = []chat.Message{}
	}
	_, streaming := conv.Active()
	writeJSON(w, http.StatusOK, historyResponse{Conversation: id, Messages: messages, Streaming: streaming})
}
