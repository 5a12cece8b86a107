package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionroom/go/internal/auction"
)

// Connection is one live websocket session to the auction server.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Manager *ConnectionManager

	send   chan []byte
	closed chan struct{}

	ConnectedAt time.Time

	mu       sync.Mutex
	lastPong time.Time
}

func newConnection(cm *ConnectionManager, ws *websocket.Conn) *Connection {
	size := cm.config.SendBufferSize
	if size <= 0 {
		size = 64
	}
	now := cm.clock.Now()
	return &Connection{
		ID:          uuid.NewString(),
		Conn:        ws,
		Manager:     cm,
		send:        make(chan []byte, size),
		closed:      make(chan struct{}),
		ConnectedAt: now,
		lastPong:    now,
	}
}

// LastPong returns when the server last answered a ping.
func (c *Connection) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// serve runs both pumps until the socket fails or ctx is cancelled, and returns the cause.
func (c *Connection) serve(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	writeErr := make(chan error, 1)
	readErr := make(chan error, 1)
	go func() { writeErr <- c.writePump(ctx) }()
	go func() { readErr <- c.readPump(ctx) }()

	var cause error
	writerDone := false
	select {
	case cause = <-writeErr:
		writerDone = true
	case cause = <-readErr:
		close(c.closed)
		<-writeErr
		c.Conn.Close()
		return cause
	case <-ctx.Done():
		cause = ctx.Err()
	}

	close(c.closed)
	cancel()
	if !writerDone {
		<-writeErr
	}
	// Only one writer at a time: the close frame goes out after writePump has returned.
	c.Conn.SetWriteDeadline(c.Manager.writeDeadline())
	c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.Conn.Close()
	<-readErr
	return cause
}

// writePump handles sending queued frames and keepalive pings
func (c *Connection) writePump(ctx context.Context) error {
	interval := c.Manager.config.PingInterval
	if interval <= 0 {
		interval = DefaultConnectionConfig().PingInterval
	}
	ticker := c.Manager.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil

		case message := <-c.send:
			c.Conn.SetWriteDeadline(c.Manager.writeDeadline())
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return err
			}

		case <-ticker.Chan():
			c.Conn.SetWriteDeadline(c.Manager.writeDeadline())
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return err
			}
		}
	}
}

// readPump decodes server frames and forwards them in arrival order.
func (c *Connection) readPump(ctx context.Context) error {
	if c.Manager.config.MaxMessageSize > 0 {
		c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	}
	c.Conn.SetReadDeadline(c.Manager.readDeadline())
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(c.Manager.readDeadline())
		c.mu.Lock()
		c.lastPong = c.Manager.clock.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return err
		}
		c.Conn.SetReadDeadline(c.Manager.readDeadline())

		var event auction.Event
		if err := json.Unmarshal(message, &event); err != nil || event.Type == "" {
			log.Warn().
				Str("connection_id", c.ID).
				Int("bytes", len(message)).
				Msg("ignoring malformed frame")
			continue
		}

		if err := c.Manager.publishEvent(ctx, event); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			log.Warn().Err(err).Str("event", string(event.Type)).Msg("event delivery abandoned")
		}
	}
}
