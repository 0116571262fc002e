package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chatsync/chatsync/internal/event"
	"github.com/chatsync/chatsync/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	// sendBuffer bounds the outbound queue per connection. When it fills,
	// Deliver reports failure instead of blocking the broadcaster, and the
	// broadcaster drops the connection so its client reconnects for a
	// consistent snapshot rather than continuing with a gap.
	sendBuffer = 256
)

// Conn is one live websocket session. It implements registry.Sink: the
// broadcaster hands it events through Deliver, the write pump serializes
// them onto the wire.
type Conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	send   chan event.Event

	closeOnce sync.Once
	done      chan struct{}

	logger zerolog.Logger
}

func newConn(id, userID string, ws *websocket.Conn) *Conn {
	return &Conn{
		id:     id,
		userID: userID,
		ws:     ws,
		send:   make(chan event.Event, sendBuffer),
		done:   make(chan struct{}),
		logger: logging.With().Str("component", "ws").Str("connID", id).Logger(),
	}
}

// ID returns the connection identifier assigned at handshake.
func (c *Conn) ID() string { return c.id }

// UserID returns the authenticated user this connection belongs to.
func (c *Conn) UserID() string { return c.userID }

// Deliver queues an event for the write pump. Never blocks; returns false
// when the connection is closed or its buffer is full.
func (c *Conn) Deliver(ev event.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Close tears the connection down. Safe to call from any goroutine, any
// number of times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump drains the send queue onto the websocket and keeps the
// connection alive with pings. Runs in its own goroutine; exactly one per
// connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump reads frames until the connection drops and hands each raw
// payload to onFrame. Runs in the handshake goroutine; returning means the
// connection is gone.
func (c *Conn) readPump(onFrame func(data []byte)) {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		onFrame(data)
	}
}
