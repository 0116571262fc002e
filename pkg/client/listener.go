package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chatsync/chatsync/internal/event"
	"github.com/chatsync/chatsync/internal/logging"
)

// Listener reconciles server events into the optimistic store. Mutation
// events replace records wholesale; streaming events feed the per-message
// cumulative buffers the UI renders from.
type Listener struct {
	store *Store

	mu        sync.RWMutex
	typing    map[string]bool   // conversationID -> typing indicator
	streaming map[string]string // messageID -> cumulative content
	sessions  map[string]string // messageID -> conversationID

	logger zerolog.Logger
}

// NewListener creates a listener over a store.
func NewListener(store *Store) *Listener {
	return &Listener{
		store:     store,
		typing:    make(map[string]bool),
		streaming: make(map[string]string),
		sessions:  make(map[string]string),
		logger:    logging.With().Str("component", "client").Logger(),
	}
}

// HandleRaw decodes one wire event and applies it. Unknown event types are
// ignored so old clients survive new server versions.
func (l *Listener) HandleRaw(eventType event.EventType, data json.RawMessage) error {
	switch eventType {
	case event.ConversationCreated:
		var d event.ConversationCreatedData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		l.store.ApplyConversation(d.Conversation)

	case event.ConversationUpdated:
		var d event.ConversationUpdatedData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		l.store.ApplyConversation(d.Conversation)

	case event.ConversationDeleted:
		var d event.ConversationDeletedData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		l.store.RemoveConversation(d.ConversationID)

	case event.ConversationMoved:
		var d event.ConversationMovedData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		if conv, ok := l.store.Conversation(d.ConversationID); ok {
			conv.ProjectID = d.ProjectID
			l.store.ApplyConversation(conv)
		}

	case event.ConversationUnread:
		var d event.ConversationUnreadData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		l.store.SetUnread(d.ConversationID, d.HasUnread)

	case event.ProjectCreated:
		var d event.ProjectCreatedData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		l.store.ApplyProject(d.Project)

	case event.ProjectUpdated:
		var d event.ProjectUpdatedData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		l.store.ApplyProject(d.Project)

	case event.ProjectDeleted:
		var d event.ProjectDeletedData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		l.store.RemoveProject(d.ProjectID)

	case event.MessageChunk:
		var d event.MessageChunkData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		// Cumulative content: overwrite, never append. A buffer joined
		// mid-stream is correct from its first event.
		l.mu.Lock()
		l.streaming[d.MessageID] = d.Content
		l.sessions[d.MessageID] = d.ConversationID
		l.mu.Unlock()

	case event.MessageCompleted:
		var d event.MessageCompletedData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		if d.Conversation != nil {
			l.store.ApplyConversation(d.Conversation)
			l.clearStreaming(d.Conversation.ID)
		}

	case event.MessageError:
		var d event.MessageErrorData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		l.mu.Lock()
		delete(l.streaming, d.MessageID)
		delete(l.sessions, d.MessageID)
		l.mu.Unlock()
		l.logger.Warn().
			Str("conversationID", d.ConversationID).
			Str("error", d.Error).
			Msg("server reported message error")

	case event.TypingStarted:
		var d event.TypingData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		l.mu.Lock()
		l.typing[d.ConversationID] = true
		l.mu.Unlock()

	case event.TypingStopped:
		var d event.TypingData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		l.mu.Lock()
		delete(l.typing, d.ConversationID)
		l.mu.Unlock()
	}
	return nil
}

func (l *Listener) clearStreaming(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for msgID, convID := range l.sessions {
		if convID == conversationID {
			delete(l.streaming, msgID)
			delete(l.sessions, msgID)
		}
	}
}

// Typing reports whether the assistant is typing in a conversation.
func (l *Listener) Typing(conversationID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.typing[conversationID]
}

// StreamingContent returns the cumulative text of an in-flight reply.
func (l *Listener) StreamingContent(messageID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	content, ok := l.streaming[messageID]
	return content, ok
}
