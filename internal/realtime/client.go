package realtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studysphere/internal/commands"
	"studysphere/internal/events"
	"studysphere/internal/redis"
	studysphere_errors "studysphere/pkg/errors"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	commandTimeout = 10 * time.Second
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client frame types.
const (
	FrameSend = "send"
	FrameRead = "read"
	FramePing = "ping"
)

// Per-minute budgets for client frames.
type RateLimits struct {
	MaxSends        int
	MaxReadReceipts int
	MaxPings        int
}

var DefaultRateLimits = RateLimits{
	MaxSends:        120,
	MaxReadReceipts: 120,
	MaxPings:        60,
}

// ClientRateLimiter is a per-connection token bucket refilled every minute.
type ClientRateLimiter struct {
	limits     RateLimits
	sendTokens int
	readTokens int
	pingTokens int
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewClientRateLimiter(limits RateLimits) *ClientRateLimiter {
	rl := &ClientRateLimiter{limits: limits, now: time.Now}
	rl.refillTokens()
	rl.lastRefill = rl.now()
	return rl
}

func (rl *ClientRateLimiter) Allow(frameType string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastRefill) >= time.Minute {
		rl.refillTokens()
		rl.lastRefill = now
	}

	var tokens *int
	switch frameType {
	case FrameSend:
		tokens = &rl.sendTokens
	case FrameRead:
		tokens = &rl.readTokens
	case FramePing:
		tokens = &rl.pingTokens
	default:
		return false
	}
	if *tokens <= 0 {
		return false
	}
	*tokens--
	return true
}

func (rl *ClientRateLimiter) refillTokens() {
	rl.sendTokens = rl.limits.MaxSends
	rl.readTokens = rl.limits.MaxReadReceipts
	rl.pingTokens = rl.limits.MaxPings
}

// MessageLimiter is the cross-instance send budget shared with the HTTP API.
type MessageLimiter interface {
	AllowMessage(ctx context.Context, userID string) (*redis.RateLimitResult, error)
}

// ClientFrame is what a client writes on the socket.
type ClientFrame struct {
	Type            string    `json:"type"`
	ConversationID  uuid.UUID `json:"conversation_id,omitempty"`
	RecipientID     uuid.UUID `json:"recipient_id,omitempty"`
	Content         string    `json:"content,omitempty"`
	ClientMessageID string    `json:"client_message_id,omitempty"`
}

// ErrorPayload is the data of an error frame.
type ErrorPayload struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

// Client is one websocket connection. It implements Session.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	commands    *commands.Bus
	limiter     MessageLimiter
	send        chan []byte
	userID      uuid.UUID
	sessionID   string
	rateLimiter *ClientRateLimiter
	logger      *SessionLogger

	mu           sync.Mutex
	closed       bool
	lastActivity time.Time
}

type ClientOptions struct {
	BufferSize int
	Limiter    MessageLimiter
}

func NewClient(hub *Hub, conn *websocket.Conn, bus *commands.Bus, userID uuid.UUID, l *SessionLogger, opts ClientOptions) *Client {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if l == nil {
		l = NewSessionLogger(nil)
	}
	return &Client{
		hub:          hub,
		conn:         conn,
		commands:     bus,
		limiter:      opts.Limiter,
		send:         make(chan []byte, opts.BufferSize),
		userID:       userID,
		sessionID:    uuid.New().String(),
		rateLimiter:  NewClientRateLimiter(DefaultRateLimits),
		logger:       l,
		lastActivity: time.Now(),
	}
}

func (c *Client) ID() string        { return c.sessionID }
func (c *Client) UserID() uuid.UUID { return c.userID }

// Push enqueues a frame without blocking. It reports false when the buffer
// is full or the client has been closed.
func (c *Client) Push(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which then closes the connection. Safe to
// call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Serve registers the client and runs both pumps. It returns when the
// connection is gone.
func (c *Client) Serve() {
	c.hub.Register(c)
	go c.writePump()
	c.readPump()
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket unexpected close", c.userID, c.sessionID, err)
			}
			return
		}
		c.touch()

		raw = bytes.TrimSpace(bytes.Replace(raw, newline, space, -1))
		if err := c.handleFrame(raw); err != nil {
			c.logger.Warn("websocket frame rejected", c.userID, c.sessionID, zap.Error(err))
		}
	}
}

func (c *Client) handleFrame(raw []byte) error {
	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		err = fmt.Errorf("%w: malformed frame", studysphere_errors.ErrInvalidInput)
		c.pushError(err, "")
		return err
	}

	if !c.rateLimiter.Allow(frame.Type) {
		err := fmt.Errorf("%w: %s", studysphere_errors.ErrRateLimited, frame.Type)
		if frame.Type != FrameSend && frame.Type != FrameRead && frame.Type != FramePing {
			err = fmt.Errorf("%w: unknown frame type %q", studysphere_errors.ErrInvalidInput, frame.Type)
		}
		c.pushError(err, frame.ClientMessageID)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch frame.Type {
	case FramePing:
		c.pushFrame(events.EventTypePong, nil)
		return nil
	case FrameSend:
		err = c.handleSend(ctx, frame)
	case FrameRead:
		_, err = c.commands.Execute(ctx, commands.MarkReadCommand{
			ConversationID: frame.ConversationID,
			UserID:         c.userID,
		})
	}
	if err != nil {
		c.pushError(err, frame.ClientMessageID)
	}
	return err
}

// handleSend does not acknowledge directly: the sender's sessions receive
// the committed message as message.new carrying the client_message_id.
func (c *Client) handleSend(ctx context.Context, frame ClientFrame) error {
	if c.limiter != nil {
		res, err := c.limiter.AllowMessage(ctx, c.userID.String())
		if err == nil && !res.Allowed {
			return fmt.Errorf("%w: message limit reached", studysphere_errors.ErrRateLimited)
		}
		if err != nil {
			c.logger.Warn("rate limiter unavailable", c.userID, c.sessionID, zap.Error(err))
		}
	}
	_, err := c.commands.Execute(ctx, commands.SendMessageCommand{
		SenderID:        c.userID,
		ConversationID:  frame.ConversationID,
		RecipientID:     frame.RecipientID,
		Content:         frame.Content,
		ClientMessageID: frame.ClientMessageID,
	})
	return err
}

func (c *Client) pushError(err error, clientMessageID string) {
	code := studysphere_errors.Code(err)
	msg := err.Error()
	if code == "INTERNAL_ERROR" || errors.Is(err, studysphere_errors.ErrStoreUnavailable) {
		msg = "internal server error"
	}
	c.pushFrame(events.EventTypeError, ErrorPayload{Code: code, Message: msg, ClientMessageID: clientMessageID})
}

func (c *Client) pushFrame(frameType string, data interface{}) {
	frame, err := events.EncodeFrame(frameType, data)
	if err != nil {
		return
	}
	if !c.Push(frame) {
		c.logger.Warn("frame dropped", c.userID, c.sessionID, zap.String("type", frameType))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write(newline)
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if c.idleFor() > pongWait*2 {
				c.logger.Info("client idle timeout", c.userID, c.sessionID)
				return
			}
		}
	}
}
