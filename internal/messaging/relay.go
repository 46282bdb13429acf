package messaging

import (
	"context"
	"encoding/json"
	"log/slog"

	"geodrop/internal/websocket"
)

// Relay consumes post notifications published by other instances and feeds
// them into the local hub.
type Relay struct {
	bridge *Bridge
	hub    *websocket.Hub
}

func NewRelay(bridge *Bridge, hub *websocket.Hub) *Relay {
	return &Relay{bridge: bridge, hub: hub}
}

// Start binds an instance-private queue to the notifications exchange and
// relays deliveries until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	queue, err := r.bridge.channel.QueueDeclare(
		"",    // auto-generated name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return err
	}

	if err := r.bridge.channel.QueueBind(
		queue.Name,
		"",
		notificationsExchange,
		false,
		nil,
	); err != nil {
		return err
	}

	msgs, err := r.bridge.channel.Consume(
		queue.Name,
		"",
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	slog.Info("started consuming post notifications",
		slog.String("queue", queue.Name),
		slog.String("exchange", notificationsExchange))

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping notification relay")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("notification relay channel closed")
					return
				}

				var n PostNotification
				if err := json.Unmarshal(msg.Body, &n); err != nil {
					slog.Error("error unmarshaling notification",
						slog.String("error", err.Error()),
						slog.String("body", string(msg.Body)))
					continue
				}

				// Locally published posts were already fanned out by the hub.
				if n.Origin == r.bridge.instanceID {
					continue
				}

				r.hub.Publish(&websocket.Notification{
					BlockKey:  n.BlockKey,
					MessageID: n.MessageID,
					Remote:    true,
				})
			}
		}
	}()

	return nil
}
