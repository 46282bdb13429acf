package websocket

import (
	"context"
	"log/slog"

	"geodrop/internal/observability"
)

// Notification announces a freshly posted message to a geolocation block.
type Notification struct {
	BlockKey  string
	MessageID int64
	// Remote marks notifications relayed from another instance.
	Remote bool
}

type subscription struct {
	blockKey string
	client   *Client
}

// Hub maintains the mapping from geolocation blocks to connected clients
// and fans notifications out to every member of a block.
type Hub struct {
	// Clients by block key
	groups map[string]map[*Client]bool

	// Current block of each client
	membership map[*Client]string

	join       chan *subscription
	unregister chan *Client
	publish    chan *Notification

	// Shutdown signal
	done chan struct{}
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		groups:     make(map[string]map[*Client]bool),
		membership: make(map[*Client]string),
		join:       make(chan *subscription),
		unregister: make(chan *Client),
		publish:    make(chan *Notification, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			slog.Info("hub shutting down gracefully")
			return ctx.Err()

		case sub := <-h.join:
			h.joinBlock(sub.client, sub.blockKey)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case n := <-h.publish:
			h.deliver(n)
		}
	}
}

// joinBlock moves a client into a block, leaving its previous one.
func (h *Hub) joinBlock(client *Client, blockKey string) {
	if prev, ok := h.membership[client]; ok {
		if prev == blockKey {
			return
		}
		h.leaveBlock(client, prev)
	}

	if h.groups[blockKey] == nil {
		h.groups[blockKey] = make(map[*Client]bool)
	}
	h.groups[blockKey][client] = true
	h.membership[client] = blockKey
	observability.BlocksActive.Set(float64(len(h.groups)))

	slog.Info("client joined block",
		slog.String("user", client.username),
		slog.String("block", blockKey))
}

func (h *Hub) leaveBlock(client *Client, blockKey string) {
	clients, ok := h.groups[blockKey]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.groups, blockKey)
	}
	observability.BlocksActive.Set(float64(len(h.groups)))
}

// unregisterClient removes a client from its block and closes its send channel.
func (h *Hub) unregisterClient(client *Client) {
	blockKey, ok := h.membership[client]
	if !ok {
		return
	}
	delete(h.membership, client)
	h.leaveBlock(client, blockKey)
	h.closeClientSend(client)

	slog.Info("client unregistered",
		slog.String("user", client.username),
		slog.String("block", blockKey))
}

// deliver hands a notification to every client in the block. Delivery is
// non-blocking; clients that cannot keep up miss the notification.
func (h *Hub) deliver(n *Notification) {
	clients, ok := h.groups[n.BlockKey]
	if !ok {
		return
	}

	origin := "local"
	if n.Remote {
		origin = "remote"
	}

	for client := range clients {
		select {
		case client.notify <- n:
			observability.NotificationsDelivered.WithLabelValues(origin).Inc()
		default:
			slog.Warn("client notify buffer full, dropping notification",
				slog.String("user", client.username),
				slog.String("block", n.BlockKey))
		}
	}
}

// closeClientSend safely closes a client's send channel
func (h *Hub) closeClientSend(client *Client) {
	select {
	case <-client.send:
		// Channel already closed
	default:
		close(client.send)
	}
}

// shutdown performs graceful cleanup of all connections
func (h *Hub) shutdown() {
	close(h.done)

	for blockKey, clients := range h.groups {
		for client := range clients {
			h.closeClientSend(client)
			slog.Info("closed client connection",
				slog.String("user", client.username),
				slog.String("block", blockKey))
		}
	}

	slog.Info("hub shutdown complete")
}

// Join subscribes a client to the block identified by blockKey, leaving
// its previous block if it had one.
func (h *Hub) Join(client *Client, blockKey string) {
	h.join <- &subscription{blockKey: blockKey, client: client}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Publish fans a notification out to every client in its block.
func (h *Hub) Publish(n *Notification) {
	h.publish <- n
}
