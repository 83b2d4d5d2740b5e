package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ayusman/poetrycam/internal/status"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// EventsHandler pushes every status change to websocket clients.
type EventsHandler struct {
	hub *status.Hub
}

// NewEventsHandler creates an EventsHandler on hub.
func NewEventsHandler(hub *status.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// ServeHTTP upgrades the connection and streams status as JSON messages.
// The current status is sent first.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("server: websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.hub.Subscribe()
	defer cancel()

	// Reading detects the client closing the connection.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(st); err != nil {
				slog.Debug("server: websocket client dropped", "error", err)
				return
			}
		}
	}
}
