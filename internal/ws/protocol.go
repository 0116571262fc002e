package ws

import (
	"encoding/json"
	"fmt"

	"github.com/chatsync/chatsync/pkg/types"
)

// FrameType identifies an inbound client-to-server control message.
type FrameType string

const (
	FrameConversationJoin  FrameType = "conversation.join"
	FrameConversationLeave FrameType = "conversation.leave"
	FrameConversationView  FrameType = "conversation.view"
	FrameConversationBlur  FrameType = "conversation.blur"
	FrameMessageSend       FrameType = "message.send"
)

// Frame is one inbound control message. All frames carry a conversation ID
// except blur, which clears the viewing state.
type Frame struct {
	Type           FrameType          `json:"type"`
	ConversationID string             `json:"conversationID,omitempty"`
	Content        string             `json:"content,omitempty"`
	Attachments    []types.Attachment `json:"attachments,omitempty"`

	// ClientID correlates a message.send with the client's optimistic
	// placeholder message.
	ClientID string `json:"clientID,omitempty"`
}

// decodeFrame parses and validates an inbound frame. Malformed frames are
// rejected before any state mutation.
func decodeFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch frame.Type {
	case FrameConversationJoin, FrameConversationLeave, FrameConversationView:
		if frame.ConversationID == "" {
			return nil, fmt.Errorf("%s: conversationID required", frame.Type)
		}
	case FrameConversationBlur:
		// No fields required.
	case FrameMessageSend:
		if frame.ConversationID == "" {
			return nil, fmt.Errorf("message.send: conversationID required")
		}
		if frame.Content == "" && len(frame.Attachments) == 0 {
			return nil, fmt.Errorf("message.send: content or attachments required")
		}
	default:
		return nil, fmt.Errorf("unknown frame type: %q", frame.Type)
	}
	return &frame, nil
}
