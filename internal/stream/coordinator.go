// Package stream drives one user-message/AI-reply cycle: persist the
// inbound message, stream the completion incrementally, persist the reply,
// and fan the whole sequence out to the right connections.
package stream

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/chatsync/chatsync/internal/broadcast"
	"github.com/chatsync/chatsync/internal/chat"
	"github.com/chatsync/chatsync/internal/event"
	"github.com/chatsync/chatsync/internal/logging"
	"github.com/chatsync/chatsync/internal/provider"
	"github.com/chatsync/chatsync/internal/registry"
	"github.com/chatsync/chatsync/pkg/types"
)

// State is the lifecycle position of one streaming session.
type State int

const (
	StateIdle State = iota
	StatePersisting
	StateStreaming
	StateCompleting
	StateDone
	StateFailed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePersisting:
		return "persisting"
	case StateStreaming:
		return "streaming"
	case StateCompleting:
		return "completing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Session is the per-request state. It lives for exactly one
// request/response cycle. Accumulated only ever grows; chunk events carry
// it whole so late-joining clients overwrite instead of replaying deltas.
type Session struct {
	ID             string
	ConversationID string
	OriginConnID   string
	ClientID       string
	Accumulated    string
	State          State
}

// Request describes one inbound user message.
type Request struct {
	ConversationID string
	UserID         string
	OriginConnID   string
	Content        string
	Attachments    []types.Attachment

	// ClientID is the caller-supplied correlation identifier for the
	// optimistic message the client rendered before sending.
	ClientID string
}

// Coordinator runs streaming sessions. Sessions are independent: two
// concurrent submissions into the same conversation run as two sessions
// with distinct IDs, and the chunk payload's message ID keeps their
// buffers apart on the client.
type Coordinator struct {
	chat     *chat.Service
	streamer provider.Streamer
	cast     *broadcast.Broadcaster
	reg      *registry.Registry

	mu     sync.Mutex
	active map[string]*Session

	logger zerolog.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(chatSvc *chat.Service, streamer provider.Streamer, cast *broadcast.Broadcaster, reg *registry.Registry) *Coordinator {
	return &Coordinator{
		chat:     chatSvc,
		streamer: streamer,
		cast:     cast,
		reg:      reg,
		active:   make(map[string]*Session),
		logger:   logging.With().Str("component", "stream").Logger(),
	}
}

// ActiveSessions returns the number of in-flight sessions.
func (c *Coordinator) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Run executes one full cycle. The caller's context governs the provider
// call; a disconnect of the origin connection does not cancel it, so the
// assistant reply still persists and remaining room members keep receiving
// chunks.
func (c *Coordinator) Run(ctx context.Context, req Request) error {
	sess := &Session{
		ID:             ulid.Make().String(),
		ConversationID: req.ConversationID,
		OriginConnID:   req.OriginConnID,
		ClientID:       req.ClientID,
		State:          StateIdle,
	}

	c.mu.Lock()
	c.active[sess.ID] = sess
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.active, sess.ID)
		c.mu.Unlock()
	}()

	err := c.run(ctx, sess, req)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("sessionID", sess.ID).
			Str("conversationID", req.ConversationID).
			Str("state", sess.State.String()).
			Msg("streaming session failed")
	}
	return err
}

func (c *Coordinator) run(ctx context.Context, sess *Session, req Request) error {
	// Persisting: validate and write the user message. A failure here
	// aborts before any broadcast, so no partial events leak.
	sess.State = StatePersisting
	userMsg, err := c.chat.PersistUserMessage(ctx, req.ConversationID, req.UserID, req.Content, req.Attachments)
	if err != nil {
		sess.State = StateFailed
		c.cast.ToConnection(req.OriginConnID, errorEvent(req.ConversationID, "", err))
		return fmt.Errorf("persist user message: %w", err)
	}

	// Other tabs render the user message now, without waiting for the
	// reply. The origin already has it from its own request's response.
	c.emitToConversationExcept(req.ConversationID, req.OriginConnID, event.Event{
		Type: event.MessageCreated,
		Data: event.MessageCreatedData{ConversationID: req.ConversationID, Message: userMsg},
	})
	c.flagUnread(req.UserID, req.ConversationID)

	c.emitToConversation(req.ConversationID, event.Event{
		Type: event.TypingStarted,
		Data: event.TypingData{ConversationID: req.ConversationID},
	})

	// The typing indicator must never stick, whichever branch exits.
	defer c.emitToConversation(req.ConversationID, event.Event{
		Type: event.TypingStopped,
		Data: event.TypingData{ConversationID: req.ConversationID},
	})

	// Streaming: pull fragments, grow the cumulative buffer, fan out.
	sess.State = StateStreaming
	history, err := c.chat.Messages(ctx, req.ConversationID)
	if err != nil {
		sess.State = StateFailed
		c.emitToConversation(req.ConversationID, errorEvent(req.ConversationID, sess.ID, err))
		return fmt.Errorf("load history: %w", err)
	}

	completion, err := c.streamer.StreamCompletion(ctx, &provider.CompletionRequest{
		Messages: provider.BuildMessages(history),
	})
	if err != nil {
		sess.State = StateFailed
		c.emitToConversation(req.ConversationID, errorEvent(req.ConversationID, sess.ID, err))
		return fmt.Errorf("start completion: %w", err)
	}
	defer completion.Close()

	for {
		msg, err := completion.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Partial content is discarded, never persisted truncated.
			sess.State = StateFailed
			c.emitToConversation(req.ConversationID, errorEvent(req.ConversationID, sess.ID, err))
			return fmt.Errorf("completion stream: %w", err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}

		sess.Accumulated += msg.Content
		c.emitToConversation(req.ConversationID, event.Event{
			Type: event.MessageChunk,
			Data: event.MessageChunkData{
				ConversationID: req.ConversationID,
				MessageID:      sess.ID,
				ClientID:       sess.ClientID,
				Chunk:          msg.Content,
				Content:        sess.Accumulated,
			},
		})
	}

	// Completing: persist the accumulated reply.
	sess.State = StateCompleting
	assistantMsg, err := c.chat.PersistAssistantMessage(ctx, req.ConversationID, sess.Accumulated)
	if err != nil {
		sess.State = StateFailed
		c.emitToConversation(req.ConversationID, errorEvent(req.ConversationID, sess.ID, err))
		return fmt.Errorf("persist assistant message: %w", err)
	}

	conv, err := c.chat.GetConversation(ctx, req.UserID, req.ConversationID)
	if err != nil {
		sess.State = StateFailed
		c.emitToConversation(req.ConversationID, errorEvent(req.ConversationID, sess.ID, err))
		return fmt.Errorf("load conversation: %w", err)
	}

	// Every connection, the origin included, needs the canonical message
	// IDs to replace temporary client-side ones; the echoed client ID is
	// what the originator keys that replacement on. Room members get it
	// via the room; the user's other connections get it via the set
	// difference, so no connection sees it twice.
	completed := event.Event{
		Type: event.MessageCompleted,
		Data: event.MessageCompletedData{
			UserMessage:      userMsg,
			AssistantMessage: assistantMsg,
			Conversation:     conv,
			ClientID:         sess.ClientID,
		},
	}
	c.emitToConversation(req.ConversationID, completed)
	c.cast.ToUserExceptRoom(req.UserID, req.ConversationID, completed)
	c.flagUnread(req.UserID, req.ConversationID)

	sess.State = StateDone
	return nil
}

// flagUnread marks the conversation unread on every connection of the
// owner that is not viewing it, and tells each flagged connection.
func (c *Coordinator) flagUnread(userID, conversationID string) {
	for _, snap := range c.reg.ConnectionsOf(userID) {
		if c.reg.MarkUnread(snap.ID, conversationID) {
			c.cast.ToConnection(snap.ID, event.Event{
				Type: event.ConversationUnread,
				Data: event.ConversationUnreadData{ConversationID: conversationID, HasUnread: true},
			})
		}
	}
}

// emitToConversation fans out to the room and mirrors to the process bus.
func (c *Coordinator) emitToConversation(conversationID string, ev event.Event) {
	c.cast.ToConversation(conversationID, ev)
	event.Publish(ev)
}

func (c *Coordinator) emitToConversationExcept(conversationID, origin string, ev event.Event) {
	c.cast.ToConversationExcept(conversationID, origin, ev)
	event.Publish(ev)
}

func errorEvent(conversationID, messageID string, err error) event.Event {
	return event.Event{
		Type: event.MessageError,
		Data: event.MessageErrorData{
			ConversationID: conversationID,
			MessageID:      messageID,
			Error:          err.Error(),
		},
	}
}
