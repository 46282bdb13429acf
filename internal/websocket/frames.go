package websocket

import (
	"encoding/json"
	"strconv"
	"strings"

	"geodrop/internal/domain"
)

// Category identifies a client request frame.
type Category int

const (
	CategoryPost Category = iota
	CategoryChangeCell
	CategoryRetrieveRanked
	CategoryRetrieveNew
	CategoryRetrieveRandom
	CategoryRetrieveRange
	CategoryRetrieveMine
	CategoryUpvote
	CategoryDownvote
	CategoryClose
)

func (c Category) String() string {
	switch c {
	case CategoryPost:
		return "post"
	case CategoryChangeCell:
		return "change_cell"
	case CategoryRetrieveRanked:
		return "retrieve_ranked"
	case CategoryRetrieveNew:
		return "retrieve_new"
	case CategoryRetrieveRandom:
		return "retrieve_random"
	case CategoryRetrieveRange:
		return "retrieve_range"
	case CategoryRetrieveMine:
		return "retrieve_mine"
	case CategoryUpvote:
		return "upvote"
	case CategoryDownvote:
		return "downvote"
	case CategoryClose:
		return "close"
	default:
		return "unknown"
	}
}

// Server frame categories.
const (
	FrameSocket   = "socket"
	FrameError    = "error"
	FramePost     = "post"
	FrameVote     = "vote"
	FrameRetrieve = "retrieve"
	FrameNotify   = "notify"
	FrameToken    = "token"
)

// BindFrame is the first frame a client must send on a new connection.
// Coordinates may arrive as JSON numbers or strings.
type BindFrame struct {
	Lat   json.RawMessage `json:"lat"`
	Long  json.RawMessage `json:"long"`
	Token string          `json:"token"`
}

// RequestFrame is every frame after a successful bind.
type RequestFrame struct {
	Category Category        `json:"category"`
	Data     json.RawMessage `json:"data"`
	Page     int             `json:"page,omitempty"`
	Range    json.RawMessage `json:"range,omitempty"`
}

// ChangeCellData carries the new coordinates for a cell change.
type ChangeCellData struct {
	Lat  json.RawMessage `json:"lat"`
	Long json.RawMessage `json:"long"`
}

// ServerFrame is the outbound envelope for every server-to-client frame.
type ServerFrame struct {
	Category string `json:"category"`
	Data     any    `json:"data"`
}

// SerializedMessage is the wire representation of a stored message.
type SerializedMessage struct {
	ID      int64   `json:"id"`
	Lat     float64 `json:"lat"`
	Long    float64 `json:"long"`
	Date    string  `json:"date"`
	Message string  `json:"message"`
	Votes   int     `json:"votes"`
	Seen    int     `json:"seen"`
}

// RetrievePayload is the data of a retrieve frame.
type RetrievePayload struct {
	Page       int                 `json:"page"`
	TotalPages int                 `json:"total_pages"`
	Messages   []SerializedMessage `json:"messages"`
}

// VotePayload is the data of a vote frame.
type VotePayload struct {
	ID      int64 `json:"id"`
	Votes   int   `json:"votes"`
	Success bool  `json:"success"`
}

// BoundPayload is the data of the token frame sent after a successful bind.
type BoundPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Block    string `json:"block"`
}

func serializeMessage(m *domain.Message) SerializedMessage {
	return SerializedMessage{
		ID:      m.ID,
		Lat:     m.Lat,
		Long:    m.Long,
		Date:    m.CreatedAt.Format("02/01/2006"),
		Message: m.Text,
		Votes:   m.Votes,
		Seen:    m.Seen,
	}
}

func serializeMessages(msgs []*domain.Message) []SerializedMessage {
	out := make([]SerializedMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, serializeMessage(m))
	}
	return out
}

// rawString returns the text form of a JSON scalar, unquoting strings.
func rawString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	return s
}

// rawInt64 parses a JSON scalar as a message id.
func rawInt64(raw json.RawMessage) (int64, error) {
	return strconv.ParseInt(rawString(raw), 10, 64)
}
