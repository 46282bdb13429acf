package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"geodrop/internal/domain"
	"geodrop/internal/geo"
	"geodrop/internal/observability"
	"geodrop/internal/pagination"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	maxMessageSize = 2048

	// Upper bound on remembered self-published message ids awaiting
	// their own block notification.
	maxPendingSelfPosts = 16
)

type sessionState int

const (
	stateAnonymous sessionState = iota
	stateBound
)

// MessageStore is the slice of the message service a client session uses.
type MessageStore interface {
	CreateMessage(ctx context.Context, loc geo.Geoloc, text, authorID string) (*domain.Message, error)
	GetByID(ctx context.Context, id int64) (*domain.Message, error)
	RetrieveRanked(ctx context.Context, loc geo.Geoloc) (*pagination.Paginator, error)
	RetrieveNew(ctx context.Context, loc geo.Geoloc) (*pagination.Paginator, error)
	RetrieveRandom(ctx context.Context, loc geo.Geoloc) (*pagination.Paginator, error)
	RetrieveRange(ctx context.Context, loc geo.Geoloc, width float64) (*pagination.Paginator, error)
	RetrieveByAuthor(ctx context.Context, authorID string) (*pagination.Paginator, error)
	Upvote(ctx context.Context, id int64) (int, error)
	Downvote(ctx context.Context, id int64) (int, error)
	MarkSeen(ctx context.Context, msgs []*domain.Message)
}

// TokenVerifier resolves a session token to its user during bind.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*domain.User, error)
}

// PostPublisher forwards post notifications to other instances. Optional.
type PostPublisher interface {
	PublishPost(ctx context.Context, blockKey string, messageID int64) error
}

// queryContext identifies the retrieval a pagination cache was built for.
type queryContext struct {
	kind       Category
	rangeWidth float64
}

// Client is one websocket connection and its session state. All state is
// owned by the Run goroutine; ReadPump and WritePump only move bytes.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	notify    chan *Notification
	frames    chan []byte
	store     MessageStore
	verifier  TokenVerifier
	publisher PostPublisher

	state    sessionState
	userID   string
	username string
	cell     geo.Geoloc

	// Pagination cache of the last retrieval
	cache     *pagination.Paginator
	lastQuery *queryContext

	// Self-published ids whose block notification should be suppressed
	pendingSelf []int64

	writeMu   sync.Mutex
	closed    atomic.Bool
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewClient wraps an upgraded connection. The session starts anonymous;
// the first frame must bind it to a user and a geolocation cell.
func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn,
	store MessageStore, verifier TokenVerifier, publisher PostPublisher) *Client {
	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		notify:    make(chan *Notification, 64),
		frames:    make(chan []byte, 16),
		store:     store,
		verifier:  verifier,
		publisher: publisher,
		state:     stateAnonymous,
		ctx:       clientCtx,
		ctxCancel: cancel,
	}
}

// ReadPump reads frames off the wire and hands them to Run.
func (c *Client) ReadPump() {
	defer func() {
		close(c.frames)
		c.ctxCancel()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("failed to set read deadline",
			slog.String("error", err.Error()),
			slog.String("remote", c.conn.RemoteAddr().String()))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket error",
					slog.String("error", err.Error()),
					slog.String("user", c.username))
			}
			return
		}

		select {
		case c.frames <- message:
		case <-c.ctx.Done():
			return
		}
	}
}

// Run owns the session state machine. It consumes inbound frames and block
// notifications until the connection ends.
func (c *Client) Run() {
	observability.WebSocketConnectionsActive.Inc()
	defer func() {
		observability.WebSocketConnectionsActive.Dec()
		c.ctxCancel()
		c.hub.Unregister(c)
		c.closeConnection()
	}()

	for {
		select {
		case raw, ok := <-c.frames:
			if !ok {
				return
			}
			if !c.handleFrame(raw) {
				return
			}

		case n := <-c.notify:
			c.handleNotification(n)

		case <-c.ctx.Done():
			return
		}
	}
}

// handleFrame dispatches one inbound frame. It returns false when the
// session should end.
func (c *Client) handleFrame(raw []byte) bool {
	if c.state == stateAnonymous {
		return c.handleBind(raw)
	}

	var req RequestFrame
	if err := json.Unmarshal(raw, &req); err != nil {
		c.sendFrame(FrameError, "malformed frame")
		return true
	}
	observability.FramesHandled.WithLabelValues(req.Category.String()).Inc()

	switch req.Category {
	case CategoryPost:
		c.handlePost(req)
	case CategoryChangeCell:
		c.handleChangeCell(req)
	case CategoryRetrieveRanked, CategoryRetrieveNew, CategoryRetrieveRandom,
		CategoryRetrieveRange, CategoryRetrieveMine:
		c.handleRetrieve(req)
	case CategoryUpvote, CategoryDownvote:
		c.handleVote(req)
	case CategoryClose:
		return c.handleClose()
	default:
		c.sendFrame(FrameError, "unknown category")
	}
	return true
}

// handleBind processes the mandatory first frame. Bind failures are fatal
// to the connection.
func (c *Client) handleBind(raw []byte) bool {
	var bind BindFrame
	if err := json.Unmarshal(raw, &bind); err != nil {
		c.sendFrameSync(FrameError, "malformed bind frame")
		return false
	}

	loc, err := geo.ParseGeoloc(rawString(bind.Lat), rawString(bind.Long))
	if err != nil {
		c.sendFrameSync(FrameError, "invalid geolocation")
		return false
	}

	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	user, err := c.verifier.VerifyToken(ctx, bind.Token)
	cancel()
	if err != nil {
		c.sendFrameSync(FrameError, "invalid credentials")
		return false
	}

	c.userID = user.ID
	c.username = user.Username
	c.cell = loc
	c.state = stateBound
	c.hub.Join(c, loc.BlockKey())

	c.sendFrame(FrameToken, BoundPayload{
		UserID:   user.ID,
		Username: user.Username,
		Block:    loc.BlockKey(),
	})
	return true
}

func (c *Client) handlePost(req RequestFrame) {
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()

	msg, err := c.store.CreateMessage(ctx, c.cell, rawString(req.Data), c.userID)
	if err != nil {
		switch err {
		case domain.ErrDuplicateMessage:
			c.sendFrame(FrameError, "duplicate message in this block")
		case domain.ErrInvalidInput:
			c.sendFrame(FrameError, "invalid message")
		default:
			c.sendFrame(FrameError, "could not save message")
		}
		return
	}

	c.rememberSelfPost(msg.ID)
	c.sendFrame(FramePost, serializeMessage(msg))
	c.hub.Publish(&Notification{BlockKey: c.cell.BlockKey(), MessageID: msg.ID})

	if c.publisher != nil {
		if err := c.publisher.PublishPost(ctx, c.cell.BlockKey(), msg.ID); err != nil {
			slog.Error("failed to publish post notification",
				slog.String("error", err.Error()),
				slog.Int64("message_id", msg.ID))
		}
	}
}

func (c *Client) handleChangeCell(req RequestFrame) {
	var data ChangeCellData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		c.sendFrame(FrameError, "malformed coordinates")
		return
	}

	loc, err := geo.ParseGeoloc(rawString(data.Lat), rawString(data.Long))
	if err != nil {
		c.sendFrame(FrameError, "invalid geolocation")
		return
	}

	c.cell = loc
	c.invalidateCache()
	c.hub.Join(c, loc.BlockKey())
	c.sendFrame(FrameSocket, "moved to "+loc.BlockKey())
}

func (c *Client) handleRetrieve(req RequestFrame) {
	qc := queryContext{kind: req.Category}
	if req.Category == CategoryRetrieveRange {
		widthRaw := req.Data
		if len(widthRaw) == 0 {
			widthRaw = req.Range
		}
		qc.rangeWidth = geo.ParseCoordRange(rawString(widthRaw))
	}

	if c.cache == nil || c.lastQuery == nil || *c.lastQuery != qc {
		ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
		defer cancel()

		var (
			p   *pagination.Paginator
			err error
		)
		switch req.Category {
		case CategoryRetrieveRanked:
			p, err = c.store.RetrieveRanked(ctx, c.cell)
		case CategoryRetrieveNew:
			p, err = c.store.RetrieveNew(ctx, c.cell)
		case CategoryRetrieveRandom:
			p, err = c.store.RetrieveRandom(ctx, c.cell)
		case CategoryRetrieveRange:
			p, err = c.store.RetrieveRange(ctx, c.cell, qc.rangeWidth)
		case CategoryRetrieveMine:
			p, err = c.store.RetrieveByAuthor(ctx, c.userID)
		}
		if err != nil {
			c.invalidateCache()
			c.sendFrame(FrameError, "could not retrieve messages")
			return
		}
		c.cache = p
		c.lastQuery = &qc
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	msgs := c.cache.Page(page)

	c.sendFrame(FrameRetrieve, RetrievePayload{
		Page:       page,
		TotalPages: c.cache.TotalPages(),
		Messages:   serializeMessages(msgs),
	})

	if len(msgs) > 0 {
		ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
		c.store.MarkSeen(ctx, msgs)
		cancel()
	}
}

func (c *Client) handleVote(req RequestFrame) {
	id, err := rawInt64(req.Data)
	if err != nil {
		c.sendFrame(FrameError, "invalid message id")
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()

	var votes int
	if req.Category == CategoryUpvote {
		votes, err = c.store.Upvote(ctx, id)
	} else {
		votes, err = c.store.Downvote(ctx, id)
	}
	if err != nil {
		c.sendFrame(FrameVote, VotePayload{ID: id, Success: false})
		return
	}
	c.sendFrame(FrameVote, VotePayload{ID: id, Votes: votes, Success: true})
}

func (c *Client) handleClose() bool {
	// Deliver the farewell before the connection is torn down.
	payload, err := json.Marshal(ServerFrame{Category: FrameSocket, Data: "goodbye"})
	if err == nil {
		_ = c.writeMessage(websocket.TextMessage, payload)
	}
	return false
}

// handleNotification forwards a block notification unless the message was
// published by this session.
func (c *Client) handleNotification(n *Notification) {
	if c.state != stateBound {
		return
	}
	if c.dropPendingSelf(n.MessageID) {
		observability.NotificationsSuppressed.Inc()
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	msg, err := c.store.GetByID(ctx, n.MessageID)
	cancel()
	if err != nil {
		// Deleted between publish and delivery; nothing to notify.
		slog.Debug("notification target gone",
			slog.Int64("message_id", n.MessageID))
		return
	}
	c.sendFrame(FrameNotify, serializeMessage(msg))
}

func (c *Client) rememberSelfPost(id int64) {
	c.pendingSelf = append(c.pendingSelf, id)
	if len(c.pendingSelf) > maxPendingSelfPosts {
		c.pendingSelf = c.pendingSelf[1:]
	}
}

// dropPendingSelf reports whether id was published by this session, and
// forgets it if so.
func (c *Client) dropPendingSelf(id int64) bool {
	for i, pending := range c.pendingSelf {
		if pending == id {
			c.pendingSelf = append(c.pendingSelf[:i], c.pendingSelf[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Client) invalidateCache() {
	c.cache = nil
	c.lastQuery = nil
}

// sendFrame queues an outbound frame for WritePump. Frames are dropped when
// the send buffer is full.
func (c *Client) sendFrame(category string, data any) {
	payload, err := json.Marshal(ServerFrame{Category: category, Data: data})
	if err != nil {
		slog.Error("failed to marshal server frame",
			slog.String("error", err.Error()),
			slog.String("category", category))
		return
	}

	select {
	case c.send <- payload:
	default:
		slog.Warn("send buffer full, dropping frame",
			slog.String("user", c.username),
			slog.String("category", category))
	}
}

// sendFrameSync writes a frame directly to the connection. Used for fatal
// bind errors that must reach the client before teardown.
func (c *Client) sendFrameSync(category string, data any) {
	payload, err := json.Marshal(ServerFrame{Category: category, Data: data})
	if err != nil {
		slog.Error("failed to marshal server frame",
			slog.String("error", err.Error()),
			slog.String("category", category))
		return
	}
	_ = c.writeMessage(websocket.TextMessage, payload)
}

// WritePump pumps queued frames from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				_ = c.writeMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage writes a message to the WebSocket connection in a thread-safe manner
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return websocket.ErrCloseSent
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Warn("failed to set write deadline",
			slog.String("error", err.Error()),
			slog.String("user", c.username))
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// closeConnection safely closes the WebSocket connection
func (c *Client) closeConnection() {
	if c.closed.CompareAndSwap(false, true) {
		c.writeMu.Lock()
		c.conn.Close()
		c.writeMu.Unlock()
	}
}
