package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"geodrop/internal/domain"
	"geodrop/internal/observability"

	"github.com/lib/pq"
)

// MessageRepository implements domain.MessageRepository for PostgreSQL.
// Messages are bucketed by their quantized (lat_block, long_block) pair;
// every listing filters on that bucket or a bounding box of buckets.
type MessageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new PostgreSQL message repository
func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, lat, long, lat_block, long_block, message, votes, seen, author_id, created_at`

// Create inserts a new message. Votes and seen start at their defaults.
func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	defer observeQuery("create", "messages", time.Now())

	query := `
		INSERT INTO messages (lat, long, lat_block, long_block, message, votes, seen, author_id)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		message.Lat,
		message.Long,
		message.LatBlock,
		message.LongBlock,
		message.Text,
		domain.DefaultVotes,
		message.AuthorID,
	).Scan(&message.ID, &message.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	message.Votes = domain.DefaultVotes
	message.Seen = 0
	return nil
}

// GetByID retrieves a message by id
func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	defer observeQuery("get_by_id", "messages", time.Now())

	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	msg := &domain.Message{}
	err := scanMessage(r.db.QueryRowContext(ctx, query, id), msg)
	if err == sql.ErrNoRows {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// ExistsInBlock reports whether a message with case-insensitively identical
// text already exists in the given block.
func (r *MessageRepository) ExistsInBlock(ctx context.Context, latBlock, longBlock float64, text string) (bool, error) {
	defer observeQuery("exists_in_block", "messages", time.Now())

	query := `
		SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE lat_block = $1 AND long_block = $2 AND lower(message) = lower($3)
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, latBlock, longBlock, text).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check for duplicate message: %w", err)
	}
	return exists, nil
}

// ListByBlock retrieves every message in a block in the requested order.
// OrderRandom shuffles freshly on every call.
func (r *MessageRepository) ListByBlock(ctx context.Context, latBlock, longBlock float64, order domain.MessageOrder) ([]*domain.Message, error) {
	defer observeQuery("list_by_block", "messages", time.Now())

	var orderBy string
	switch order {
	case domain.OrderByVotes:
		orderBy = "votes DESC, created_at DESC"
	case domain.OrderByDate:
		orderBy = "created_at DESC"
	case domain.OrderRandom:
		orderBy = "random()"
	default:
		return nil, fmt.Errorf("unknown message order %d", order)
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE lat_block = $1 AND long_block = $2 ORDER BY ` + orderBy

	rows, err := r.db.QueryContext(ctx, query, latBlock, longBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to query block messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// ListByBlockRange retrieves messages whose block falls inside the
// inclusive bounding box.
func (r *MessageRepository) ListByBlockRange(ctx context.Context, minLat, maxLat, minLong, maxLong float64) ([]*domain.Message, error) {
	defer observeQuery("list_by_range", "messages", time.Now())

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE lat_block BETWEEN $1 AND $2 AND long_block BETWEEN $3 AND $4
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, minLat, maxLat, minLong, maxLong)
	if err != nil {
		return nil, fmt.Errorf("failed to query range messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// ListByAuthor retrieves every message by a user, newest first, any block.
func (r *MessageRepository) ListByAuthor(ctx context.Context, authorID string) ([]*domain.Message, error) {
	defer observeQuery("list_by_author", "messages", time.Now())

	query := `SELECT ` + messageColumns + ` FROM messages WHERE author_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, authorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query author messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// Upvote atomically increments the vote count and returns the new value.
func (r *MessageRepository) Upvote(ctx context.Context, id int64) (int, error) {
	defer observeQuery("upvote", "messages", time.Now())

	var votes int
	err := r.db.QueryRowContext(ctx,
		`UPDATE messages SET votes = votes + 1 WHERE id = $1 RETURNING votes`, id,
	).Scan(&votes)
	if err == sql.ErrNoRows {
		return 0, domain.ErrMessageNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to upvote message: %w", err)
	}
	return votes, nil
}

// Downvote atomically decrements the vote count. When the new count falls
// to or below deleteThreshold the row is deleted in the same transaction;
// the final (pre-deletion) count is still returned.
func (r *MessageRepository) Downvote(ctx context.Context, id int64, deleteThreshold int) (int, error) {
	defer observeQuery("downvote", "messages", time.Now())

	var votes int
	err := NewTxManager(r.db).WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`UPDATE messages SET votes = votes - 1 WHERE id = $1 RETURNING votes`, id,
		).Scan(&votes)
		if err == sql.ErrNoRows {
			return domain.ErrMessageNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to downvote message: %w", err)
		}

		if votes <= deleteThreshold {
			if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
				return fmt.Errorf("failed to delete message at vote threshold: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return votes, nil
}

// DeleteByAuthor deletes a message only if authorID matches its author.
// Returns ErrMessageNotFound for a missing id and ErrNotAuthor when the
// message exists but belongs to someone else.
func (r *MessageRepository) DeleteByAuthor(ctx context.Context, id int64, authorID string) error {
	defer observeQuery("delete_by_author", "messages", time.Now())

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id = $1 AND author_id = $2`, id, authorID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Nothing deleted: distinguish missing from foreign
	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check message existence: %w", err)
	}
	if exists {
		return domain.ErrNotAuthor
	}
	return domain.ErrMessageNotFound
}

// IncrementSeen bumps the seen counter for the given message ids.
func (r *MessageRepository) IncrementSeen(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	defer observeQuery("increment_seen", "messages", time.Now())

	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET seen = seen + 1 WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to increment seen counters: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, msg *domain.Message) error {
	return row.Scan(
		&msg.ID,
		&msg.Lat,
		&msg.Long,
		&msg.LatBlock,
		&msg.LongBlock,
		&msg.Text,
		&msg.Votes,
		&msg.Seen,
		&msg.AuthorID,
		&msg.CreatedAt,
	)
}

func collectMessages(rows *sql.Rows) ([]*domain.Message, error) {
	messages := make([]*domain.Message, 0)
	for rows.Next() {
		msg := &domain.Message{}
		if err := scanMessage(rows, msg); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func observeQuery(operation, table string, start time.Time) {
	observability.DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
}
