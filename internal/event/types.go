package event

import "github.com/chatsync/chatsync/pkg/types"

// MessageCreatedData is the data for message.created events. Emitted as
// soon as the user message is persisted, before the completion provider is
// invoked, so other tabs render the message without waiting for the reply.
type MessageCreatedData struct {
	ConversationID string         `json:"conversationID"`
	Message        *types.Message `json:"message"`
}

// MessageChunkData is the data for message.chunk events. Content is
// cumulative: it always holds the full text generated so far, so a client
// joining or re-rendering mid-stream overwrites its buffer instead of
// replaying deltas.
type MessageChunkData struct {
	ConversationID string `json:"conversationID"`
	MessageID      string `json:"messageID"`
	ClientID       string `json:"clientID,omitempty"`
	Chunk          string `json:"chunk"`
	Content        string `json:"content"`
}

// MessageCompletedData is the data for message.completed events. Carries
// both persisted messages so every connection, the originator included, can
// replace a temporary client-side identifier with the canonical one.
// ClientID echoes the correlation identifier the sender supplied with the
// frame, so the originator knows which optimistic placeholder to replace.
type MessageCompletedData struct {
	UserMessage      *types.Message      `json:"userMessage"`
	AssistantMessage *types.Message      `json:"assistantMessage"`
	Conversation     *types.Conversation `json:"conversation"`
	ClientID         string              `json:"clientID,omitempty"`
}

// MessageErrorData is the data for message.error events.
type MessageErrorData struct {
	ConversationID string `json:"conversationID"`
	MessageID      string `json:"messageID,omitempty"`
	Error          string `json:"error"`
}

// TypingData is the data for ai.typing.started and ai.typing.stopped events.
type TypingData struct {
	ConversationID string `json:"conversationID"`
}

// ConversationCreatedData is the data for conversation.created events.
type ConversationCreatedData struct {
	Conversation *types.Conversation `json:"conversation"`
}

// ConversationUpdatedData is the data for conversation.updated events.
type ConversationUpdatedData struct {
	Conversation *types.Conversation `json:"conversation"`
}

// ConversationDeletedData is the data for conversation.deleted events.
type ConversationDeletedData struct {
	ConversationID string `json:"conversationID"`
}

// ConversationMovedData is the data for conversation.moved events.
// ProjectID is nil when the conversation was moved out of a project.
type ConversationMovedData struct {
	ConversationID string  `json:"conversationID"`
	ProjectID      *string `json:"projectID"`
}

// ConversationUnreadData is the data for conversation.unread events.
// Targeted at a single connection, never fanned out.
type ConversationUnreadData struct {
	ConversationID string `json:"conversationID"`
	HasUnread      bool   `json:"hasUnread"`
}

// ProjectCreatedData is the data for project.created events.
type ProjectCreatedData struct {
	Project *types.Project `json:"project"`
}

// ProjectUpdatedData is the data for project.updated events.
type ProjectUpdatedData struct {
	Project *types.Project `json:"project"`
}

// ProjectDeletedData is the data for project.deleted events.
type ProjectDeletedData struct {
	ProjectID string `json:"projectID"`
}

// ServerConnectedData is the data for server.connected events, sent once on
// every new SSE or websocket attachment.
type ServerConnectedData struct {
	ConnectionID string `json:"connectionID,omitempty"`
}
