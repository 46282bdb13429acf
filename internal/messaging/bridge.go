// Package messaging connects server instances over RabbitMQ so that post
// notifications reach clients whose websocket lives on another instance.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const notificationsExchange = "drop.notifications"

// PostNotification is the cross-instance wire form of a new-post event.
type PostNotification struct {
	Origin    string `json:"origin"`
	BlockKey  string `json:"block_key"`
	MessageID int64  `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
}

// Bridge publishes post notifications to a fanout exchange shared by all
// server instances. Every bridge tags outgoing notifications with its own
// instance id so consumers can drop their own echoes.
type Bridge struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	instanceID string
}

func NewBridge(url string) (*Bridge, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	b := &Bridge{
		conn:       conn,
		channel:    ch,
		instanceID: uuid.NewString(),
	}

	if err := b.setup(); err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}

// NewBridgeWithRetry dials RabbitMQ until it succeeds or ctx expires. The
// broker usually comes up after the server in compose environments.
func NewBridgeWithRetry(ctx context.Context, url string) (*Bridge, error) {
	backoff := time.Second
	for {
		b, err := NewBridge(url)
		if err == nil {
			return b, nil
		}

		slog.Warn("rabbitmq not ready, retrying",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("giving up on rabbitmq: %w", err)
		case <-time.After(backoff):
		}

		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
}

func (b *Bridge) setup() error {
	if err := b.channel.ExchangeDeclare(
		notificationsExchange,
		"fanout",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("failed to declare notifications exchange: %w", err)
	}

	slog.Info("rabbitmq setup completed successfully",
		slog.String("instance_id", b.instanceID))
	return nil
}

// PublishPost announces a freshly stored message to every other instance.
func (b *Bridge) PublishPost(ctx context.Context, blockKey string, messageID int64) error {
	n := &PostNotification{
		Origin:    b.instanceID,
		BlockKey:  blockKey,
		MessageID: messageID,
		Timestamp: time.Now().Unix(),
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	// Notifications are ephemeral; no reason to survive a broker restart.
	err = b.channel.PublishWithContext(
		ctx,
		notificationsExchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Transient,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	slog.Debug("published post notification",
		slog.String("block", blockKey),
		slog.Int64("message_id", messageID))
	return nil
}

// InstanceID identifies this bridge in notification origins.
func (b *Bridge) InstanceID() string {
	return b.instanceID
}

func (b *Bridge) IsClosed() bool {
	return b.conn == nil || b.conn.IsClosed()
}

func (b *Bridge) Close() error {
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
