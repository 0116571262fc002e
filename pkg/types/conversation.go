// Package types provides the core data types for the chatsync server.
package types

// Conversation is one chat thread owned by a single user. A conversation
// may optionally belong to a project; ProjectID is nil for unfiled
// conversations.
type Conversation struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userID"`
	ProjectID *string          `json:"projectID,omitempty"`
	Title     string           `json:"title"`
	Time      ConversationTime `json:"time"`
}

// ConversationTime contains timestamps for a conversation.
type ConversationTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}
