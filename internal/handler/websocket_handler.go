package handler

import (
	"context"
	"log/slog"
	"net/http"

	ws "geodrop/internal/websocket"

	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades connections for the drop protocol. There is no
// pre-upgrade authentication: the connection starts anonymous and the first
// frame must bind it to a user and a geolocation cell.
type WebSocketHandler struct {
	hub       *ws.Hub
	store     ws.MessageStore
	verifier  ws.TokenVerifier
	publisher ws.PostPublisher
	upgrader  websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler. An empty
// allowedOrigins list accepts any origin.
func NewWebSocketHandler(hub *ws.Hub, store ws.MessageStore, verifier ws.TokenVerifier,
	publisher ws.PostPublisher, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:       hub,
		store:     store,
		verifier:  verifier,
		publisher: publisher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// HandleConnection handles WebSocket upgrade and connection
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("remote", r.RemoteAddr))
		return
	}

	// The request context dies when this handler returns; the client
	// lives until the connection or the hub closes.
	client := ws.NewClient(context.Background(), h.hub, conn, h.store, h.verifier, h.publisher)

	go client.WritePump()
	go client.Run()
	go client.ReadPump()
}
