package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bull/respondo-rag/internal/realtime"
	"github.com/bull/respondo-rag/internal/storage/sqlite"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboard may be served from another origin
	},
}

// handleEvents streams row changes over a websocket. Query parameters narrow the
// feed: table (documents or messages, default documents) and id (one row).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	switch table {
	case "":
		table = sqlite.TableDocuments
	case sqlite.TableDocuments, sqlite.TableMessages:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown table " + table})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade websocket connection", "error", err)
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(realtime.Filter{Table: table, RowID: r.URL.Query().Get("id")})
	defer sub.Close()

	s.logger.Debug("Change feed client connected", "table", table, "subscribers", s.hub.Subscribers())

	// The reader only detects disconnects; clients send nothing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("Change feed read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case change, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(change); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
