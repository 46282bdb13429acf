package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"geodrop/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

func nextID() int64 {
	return idCounter.Add(1)
}

// UserOptions allows customizing user fixture creation
type UserOptions struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// NewTestUser creates a test user with sensible defaults
func NewTestUser(opts ...func(*UserOptions)) *domain.User {
	n := nextID()
	o := &UserOptions{
		ID:           fmt.Sprintf("user-%d", n),
		Username:     fmt.Sprintf("testuser%d", n),
		PasswordHash: "$2a$10$test.hash.for.testing.purposes.only",
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.Email == "" {
		o.Email = o.Username + "@example.com"
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	return &domain.User{
		ID:           o.ID,
		Username:     o.Username,
		Email:        o.Email,
		PasswordHash: o.PasswordHash,
		CreatedAt:    o.CreatedAt,
	}
}

// WithUserID overrides the fixture user's id
func WithUserID(id string) func(*UserOptions) {
	return func(o *UserOptions) { o.ID = id }
}

// WithUsername overrides the fixture user's username
func WithUsername(username string) func(*UserOptions) {
	return func(o *UserOptions) { o.Username = username }
}

// MessageOptions allows customizing message fixture creation
type MessageOptions struct {
	ID        int64
	Lat       float64
	Long      float64
	Text      string
	Votes     int
	AuthorID  string
	CreatedAt time.Time
}

// NewTestMessage creates a test message with sensible defaults. The block
// coordinates are derived from Lat/Long at the fixture's precision, which
// matches the production resolution for round inputs.
func NewTestMessage(opts ...func(*MessageOptions)) *domain.Message {
	n := nextID()
	o := &MessageOptions{
		ID:    n,
		Lat:   1.2346,
		Long:  2.3457,
		Text:  fmt.Sprintf("test message %d", n),
		Votes: domain.DefaultVotes,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.AuthorID == "" {
		o.AuthorID = fmt.Sprintf("user-%d", n)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	return &domain.Message{
		ID:        o.ID,
		Lat:       o.Lat,
		Long:      o.Long,
		LatBlock:  o.Lat,
		LongBlock: o.Long,
		Text:      o.Text,
		Votes:     o.Votes,
		AuthorID:  o.AuthorID,
		CreatedAt: o.CreatedAt,
	}
}

// WithMessageText overrides the fixture message's text
func WithMessageText(text string) func(*MessageOptions) {
	return func(o *MessageOptions) { o.Text = text }
}

// WithMessageCoords overrides the fixture message's coordinates (and block)
func WithMessageCoords(lat, long float64) func(*MessageOptions) {
	return func(o *MessageOptions) { o.Lat, o.Long = lat, long }
}

// WithMessageVotes overrides the fixture message's vote count
func WithMessageVotes(votes int) func(*MessageOptions) {
	return func(o *MessageOptions) { o.Votes = votes }
}

// WithMessageAuthor overrides the fixture message's author
func WithMessageAuthor(authorID string) func(*MessageOptions) {
	return func(o *MessageOptions) { o.AuthorID = authorID }
}

// NewTestSession creates a non-expired session for a user
func NewTestSession(userID string) *domain.Session {
	n := nextID()
	return &domain.Session{
		ID:        fmt.Sprintf("sess-%d", n),
		UserID:    userID,
		Token:     fmt.Sprintf("token-%d", n),
		ExpiresAt: time.Now().Add(24 * time.Hour),
		CreatedAt: time.Now(),
	}
}
