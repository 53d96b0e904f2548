// Package realtime fans row change notifications out to subscribers.
package realtime

import (
	"log/slog"
	"sync"
	"time"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Change describes one committed write.
type Change struct {
	Table  string    `json:"table"`
	Op     Op        `json:"op"`
	RowID  string    `json:"row_id"`
	Record any       `json:"record,omitempty"`
	At     time.Time `json:"at"`
}

// Filter selects changes by table and, optionally, by row id.
type Filter struct {
	Table string
	RowID string
}

func (f Filter) matches(c Change) bool {
	if f.Table != "" && f.Table != c.Table {
		return false
	}
	return f.RowID == "" || f.RowID == c.RowID
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Hub delivers changes to every matching subscription. Publishing never blocks: a
// subscriber whose queue is full misses the change.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
}

// NewHub creates a hub. A buffer of 0 selects DefaultBuffer.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscription receives changes on C until Close is called.
type Subscription struct {
	C <-chan Change

	ch     chan Change
	filter Filter
	hub    *Hub
	once   sync.Once
}

// Subscribe registers a new subscription for the filter.
func (h *Hub) Subscribe(filter Filter) *Subscription {
	ch := make(chan Change, h.buffer)
	sub := &Subscription{C: ch, ch: ch, filter: filter, hub: h}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Close unregisters the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

// Publish delivers c to every matching subscriber.
func (h *Hub) Publish(c Change) {
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if !sub.filter.matches(c) {
			continue
		}
		select {
		case sub.ch <- c:
		default:
			h.logger.Warn("Dropping change for slow subscriber", "table", c.Table, "row", c.RowID)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
