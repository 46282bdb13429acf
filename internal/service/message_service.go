package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"geodrop/internal/domain"
	"geodrop/internal/geo"
	"geodrop/internal/observability"
	"geodrop/internal/pagination"
)

// MessageService is the store facade for geolocated messages. Its
// operations are total from the caller's perspective: unexpected storage
// faults are logged here and collapsed to the documented sentinel errors,
// so a caller only ever sees ErrInvalidInput, ErrDuplicateMessage,
// ErrMessageNotFound or ErrNotAuthor.
type MessageService struct {
	messages domain.MessageRepository
}

func NewMessageService(messages domain.MessageRepository) *MessageService {
	return &MessageService{messages: messages}
}

// ParseText normalizes posted text: truncates to the maximum length.
// The limit counts characters, matching the varchar(256) column, so
// truncation never splits a multi-byte rune. Empty text stays empty and
// is rejected by CreateMessage.
func ParseText(text string) string {
	if utf8.RuneCountInString(text) <= domain.MaxMessageLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:domain.MaxMessageLength])
}

// CreateMessage persists a new message at loc. It rejects an invalid
// location or empty text with ErrInvalidInput, and a message whose text
// case-insensitively matches an existing message in the same block with
// ErrDuplicateMessage.
func (s *MessageService) CreateMessage(ctx context.Context, loc geo.Geoloc, text, authorID string) (*domain.Message, error) {
	text = ParseText(strings.TrimSpace(text))
	if !loc.IsValid() || text == "" || authorID == "" {
		return nil, domain.ErrInvalidInput
	}

	block := loc.Block()
	exists, err := s.messages.ExistsInBlock(ctx, block.Lat, block.Long, text)
	if err != nil {
		return nil, s.collapse("duplicate check", err, domain.ErrInvalidInput)
	}
	if exists {
		return nil, domain.ErrDuplicateMessage
	}

	msg := &domain.Message{
		Lat:       loc.Lat,
		Long:      loc.Long,
		LatBlock:  block.Lat,
		LongBlock: block.Long,
		Text:      text,
		AuthorID:  authorID,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, s.collapse("create", err, domain.ErrInvalidInput)
	}

	observability.MessagesPosted.Inc()
	return msg, nil
}

// GetByID fetches a single message.
func (s *MessageService) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, s.collapse("get", err, domain.ErrMessageNotFound)
	}
	return msg, nil
}

// RetrieveRanked returns the block's messages ordered by votes descending.
func (s *MessageService) RetrieveRanked(ctx context.Context, loc geo.Geoloc) (*pagination.Paginator, error) {
	return s.retrieveBlock(ctx, loc, domain.OrderByVotes)
}

// RetrieveNew returns the block's messages newest first.
func (s *MessageService) RetrieveNew(ctx context.Context, loc geo.Geoloc) (*pagination.Paginator, error) {
	return s.retrieveBlock(ctx, loc, domain.OrderByDate)
}

// RetrieveRandom returns the block's messages freshly shuffled; ordering
// is not stable across calls.
func (s *MessageService) RetrieveRandom(ctx context.Context, loc geo.Geoloc) (*pagination.Paginator, error) {
	return s.retrieveBlock(ctx, loc, domain.OrderRandom)
}

func (s *MessageService) retrieveBlock(ctx context.Context, loc geo.Geoloc, order domain.MessageOrder) (*pagination.Paginator, error) {
	if !loc.IsValid() {
		return nil, domain.ErrInvalidInput
	}

	block := loc.Block()
	msgs, err := s.messages.ListByBlock(ctx, block.Lat, block.Long, order)
	if err != nil {
		return nil, s.collapse("block retrieval", err, domain.ErrMessageNotFound)
	}
	return pagination.New(msgs), nil
}

// RetrieveRange returns messages whose block lies in a bounding box of
// ±width longitude and ±width/2 latitude around loc's block. Width is
// clamped to [0, geo.MaxRange].
func (s *MessageService) RetrieveRange(ctx context.Context, loc geo.Geoloc, width float64) (*pagination.Paginator, error) {
	if !loc.IsValid() {
		return nil, domain.ErrInvalidInput
	}
	if width < 0 {
		width = 0
	}
	if width > geo.MaxRange {
		width = geo.MaxRange
	}

	block := loc.Block()
	msgs, err := s.messages.ListByBlockRange(ctx,
		block.Lat-width/2, block.Lat+width/2,
		block.Long-width, block.Long+width,
	)
	if err != nil {
		return nil, s.collapse("range retrieval", err, domain.ErrMessageNotFound)
	}
	return pagination.New(msgs), nil
}

// RetrieveByAuthor returns every message posted by a user, any block.
func (s *MessageService) RetrieveByAuthor(ctx context.Context, authorID string) (*pagination.Paginator, error) {
	if authorID == "" {
		return nil, domain.ErrInvalidInput
	}

	msgs, err := s.messages.ListByAuthor(ctx, authorID)
	if err != nil {
		return nil, s.collapse("author retrieval", err, domain.ErrMessageNotFound)
	}
	return pagination.New(msgs), nil
}

// Upvote increments and returns the new vote count.
func (s *MessageService) Upvote(ctx context.Context, id int64) (int, error) {
	votes, err := s.messages.Upvote(ctx, id)
	if err != nil {
		return 0, s.collapse("upvote", err, domain.ErrMessageNotFound)
	}
	observability.VotesApplied.WithLabelValues("up").Inc()
	return votes, nil
}

// Downvote decrements and returns the final vote count. A count at or
// below the deletion threshold removes the message; the count is still
// returned so the caller can report it.
func (s *MessageService) Downvote(ctx context.Context, id int64) (int, error) {
	votes, err := s.messages.Downvote(ctx, id, domain.DeleteThreshold)
	if err != nil {
		return 0, s.collapse("downvote", err, domain.ErrMessageNotFound)
	}
	observability.VotesApplied.WithLabelValues("down").Inc()
	return votes, nil
}

// DeleteMessage removes a message if requesterID is its author.
func (s *MessageService) DeleteMessage(ctx context.Context, id int64, requesterID string) error {
	if err := s.messages.DeleteByAuthor(ctx, id, requesterID); err != nil {
		return s.collapse("delete", err, domain.ErrMessageNotFound)
	}
	return nil
}

// MarkSeen bumps the seen counter for a served page of messages.
// Best effort: failures are logged, never reported.
func (s *MessageService) MarkSeen(ctx context.Context, msgs []*domain.Message) {
	if len(msgs) == 0 {
		return
	}

	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := s.messages.IncrementSeen(ctx, ids); err != nil {
		slog.Warn("failed to mark messages seen", slog.String("error", err.Error()))
	}
}

// collapse maps a repository error onto the facade's closed taxonomy.
// Known sentinels pass through; anything else is logged and reported as
// fallback.
func (s *MessageService) collapse(op string, err error, fallback error) error {
	switch {
	case errors.Is(err, domain.ErrMessageNotFound),
		errors.Is(err, domain.ErrNotAuthor),
		errors.Is(err, domain.ErrDuplicateMessage),
		errors.Is(err, domain.ErrInvalidInput):
		return err
	default:
		slog.Error("message store failure",
			slog.String("op", op),
			slog.String("error", err.Error()))
		return fallback
	}
}
