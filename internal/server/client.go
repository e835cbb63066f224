// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Tyrowin/roomrelay/internal/session"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is the WebSocket side of one session. It satisfies
// session.Transport: the session reads frames through Receive and the
// registry queues outbound frames through Send, which the write pump drains.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	addr           string
	logger         *zap.Logger
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig

	mu        sync.Mutex
	closed    bool
	closeConn sync.Once
}

var _ session.Transport = (*Client)(nil)

// NewClient wraps conn using the buffer, size and rate limits from cfg.
func NewClient(conn *websocket.Conn, cfg Config, addr string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	bufferSize := cfg.SendBufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultSendBufferSize
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, bufferSize),
		addr:           addr,
		logger:         logger.With(zap.String("remote_addr", addr)),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
	}
}

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Send queues msg for the write pump without blocking. A full queue closes
// the client.
func (c *Client) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.closed = true
		close(c.send)
		c.logger.Warn("send buffer full; closing client", zap.Int("buffer_size", cap(c.send)))
		return ErrSendBufferFull
	}
}

// Receive blocks for the next inbound frame. A normal or expected close is
// reported as io.EOF and a throttled frame as session.ErrRateLimited.
func (c *Client) Receive() ([]byte, error) {
	_, rawMessage, err := c.conn.ReadMessage()
	if err != nil {
		return nil, c.classifyReadError(err)
	}

	if !c.checkRateLimit() {
		return nil, session.ErrRateLimited
	}
	return rawMessage, nil
}

// Close stops accepting frames. The write pump flushes what is queued,
// sends a close frame and then closes the connection. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("set initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("set read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// classifyReadError logs the read failure at a level matching its cause and
// maps expected closures to io.EOF.
func (c *Client) classifyReadError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("message exceeded maximum size", zap.Int64("max_message_size", c.maxMessageSize))
		return fmt.Errorf("read: %w", err)
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		c.logger.Debug("client disconnected", zap.Error(err))
		return io.EOF
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err) {
		c.logger.Debug("client connection closed", zap.Error(err))
		return io.EOF
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.logger.Warn("unexpected websocket close", zap.Error(err))
		return fmt.Errorf("read: %w", err)
	}

	if websocket.IsCloseError(err, websocket.CloseAbnormalClosure) {
		c.logger.Debug("client dropped connection", zap.Error(err))
		return io.EOF
	}

	c.logger.Warn("websocket read error", zap.Error(err))
	return fmt.Errorf("read: %w", err)
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Debug("rate limit exceeded; discarding message",
			zap.Int("burst", c.rateLimit.Burst),
			zap.Duration("refill_interval", c.rateLimit.RefillInterval),
		)
		return false
	}
	return true
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection closes the WebSocket connection once.
func (c *Client) closeConnection() {
	if c.conn == nil {
		return
	}
	c.closeConn.Do(func() {
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("close connection", zap.Error(err))
		}
	})
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("set write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("write message", zap.Error(err))
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close frame to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("write close message", zap.Error(err))
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("set write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("write ping", zap.Error(err))
		}
		return false
	}
	return true
}
