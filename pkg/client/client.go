package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chatsync/chatsync/internal/event"
	"github.com/chatsync/chatsync/internal/logging"
)

// Client maintains the websocket link to the server, feeds inbound events
// to the reconciliation listener, and reconnects with exponential backoff
// when the link drops.
type Client struct {
	url   string
	token string

	store    *Store
	listener *Listener

	mu     sync.RWMutex
	conn   *websocket.Conn
	connID string

	logger zerolog.Logger
}

// New creates a client. url is the websocket endpoint, e.g.
// ws://localhost:8080/ws.
func New(url, token string, store *Store) *Client {
	return &Client{
		url:      url,
		token:    token,
		store:    store,
		listener: NewListener(store),
		logger:   logging.With().Str("component", "client").Logger(),
	}
}

// Listener returns the reconciliation listener, for reading typing and
// streaming state.
func (c *Client) Listener() *Listener {
	return c.listener
}

// ConnectionID returns the server-assigned connection ID of the current
// session. Callers send it as X-Connection-ID on HTTP mutations so the
// broadcaster can exclude this connection.
func (c *Client) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connID
}

// Run connects and serves events until ctx is cancelled, reconnecting with
// exponential backoff. Each successful handshake resets the backoff.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until cancelled

	for {
		err := c.connectAndServe(ctx, bo)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := bo.NextBackOff()
		c.logger.Warn().Err(err).Dur("retryIn", wait).Msg("connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

type wireMessage struct {
	Type event.EventType `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) connectAndServe(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url+"?token="+c.token, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	// Drop the link when ctx cancels so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if msg.Type == event.ServerConnected {
			var d event.ServerConnectedData
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				return fmt.Errorf("server.connected: %w", err)
			}
			c.mu.Lock()
			c.connID = d.ConnectionID
			c.mu.Unlock()
			bo.Reset()
			c.logger.Info().Str("connID", d.ConnectionID).Msg("connected")
			continue
		}

		if err := c.listener.HandleRaw(msg.Type, msg.Data); err != nil {
			c.logger.Warn().Err(err).Str("eventType", string(msg.Type)).Msg("event dropped")
		}
	}
}

func (c *Client) writeFrame(frame any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.WriteJSON(frame)
}

// JoinConversation subscribes this connection to a conversation's room.
func (c *Client) JoinConversation(conversationID string) error {
	return c.writeFrame(map[string]string{
		"type": "conversation.join", "conversationID": conversationID,
	})
}

// LeaveConversation unsubscribes from a conversation's room.
func (c *Client) LeaveConversation(conversationID string) error {
	return c.writeFrame(map[string]string{
		"type": "conversation.leave", "conversationID": conversationID,
	})
}

// ViewConversation marks this connection as displaying a conversation,
// clearing its unread flag server-side.
func (c *Client) ViewConversation(conversationID string) error {
	return c.writeFrame(map[string]string{
		"type": "conversation.view", "conversationID": conversationID,
	})
}

// BlurConversation marks this connection as displaying no conversation.
func (c *Client) BlurConversation() error {
	return c.writeFrame(map[string]string{"type": "conversation.blur"})
}

// SendMessage submits a user message, starting a streaming session on the
// server. clientID correlates the optimistic placeholder with the
// canonical message from message.completed.
func (c *Client) SendMessage(conversationID, content, clientID string) error {
	return c.writeFrame(map[string]string{
		"type":           "message.send",
		"conversationID": conversationID,
		"content":        content,
		"clientID":       clientID,
	})
}
