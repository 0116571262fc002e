package types

// Message represents either a user or assistant message in a conversation.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationID"`
	Role           string       `json:"role"` // "user" | "assistant"
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Time           MessageTime  `json:"time"`
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// Attachment references an uploaded file included with a user message.
// Upload and storage of the file itself happen outside this system; only
// the reference travels with the message.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mime string `json:"mime"`
	URL  string `json:"url"`
}
