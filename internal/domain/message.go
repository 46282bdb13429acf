package domain

import (
	"context"
	"errors"
	"time"
)

const (
	// MaxMessageLength is the cap on posted text; longer input is truncated.
	MaxMessageLength = 256

	// DeleteThreshold is the vote count at or below which a downvote
	// deletes the message.
	DeleteThreshold = -5

	// DefaultVotes is the vote count a freshly posted message starts with.
	DefaultVotes = 1
)

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrDuplicateMessage = errors.New("duplicate message in block")
	ErrNotAuthor        = errors.New("user is not the author of this message")
	ErrInvalidInput     = errors.New("invalid input")
)

// Message is a geolocated post. Lat/Long are the exact coordinates the
// author posted from; LatBlock/LongBlock are the quantized cell used for
// bucketing and broadcast.
type Message struct {
	ID        int64     `json:"id"`
	Lat       float64   `json:"lat"`
	Long      float64   `json:"long"`
	LatBlock  float64   `json:"lat_block"`
	LongBlock float64   `json:"long_block"`
	Text      string    `json:"message"`
	Votes     int       `json:"votes"`
	Seen      int       `json:"seen"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageOrder selects the ordering of a block listing.
type MessageOrder int

const (
	OrderByVotes MessageOrder = iota
	OrderByDate
	OrderRandom
)

// MessageRepository defines the interface for message data access.
// Vote mutations are atomic per row: a downvote that reaches the deletion
// threshold removes the row in the same transaction that decrements it.
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	ExistsInBlock(ctx context.Context, latBlock, longBlock float64, text string) (bool, error)
	ListByBlock(ctx context.Context, latBlock, longBlock float64, order MessageOrder) ([]*Message, error)
	ListByBlockRange(ctx context.Context, minLat, maxLat, minLong, maxLong float64) ([]*Message, error)
	ListByAuthor(ctx context.Context, authorID string) ([]*Message, error)
	Upvote(ctx context.Context, id int64) (int, error)
	Downvote(ctx context.Context, id int64, deleteThreshold int) (int, error)
	DeleteByAuthor(ctx context.Context, id int64, authorID string) error
	IncrementSeen(ctx context.Context, ids []int64) error
}
