// Package provider abstracts the AI completion collaborator behind a
// streaming interface built on the Eino framework.
package provider

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/chatsync/chatsync/pkg/types"
)

// Streamer produces an incremental completion for a conversation history.
// The stream is finite: Recv returns io.EOF after the last fragment, or an
// error when the provider fails mid-flight.
type Streamer interface {
	// ID returns the provider identifier.
	ID() string

	// StreamCompletion starts an incremental completion.
	StreamCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error)
}

// CompletionRequest carries the conversation context for one completion.
type CompletionRequest struct {
	Messages    []*schema.Message `json:"messages"`
	MaxTokens   int               `json:"maxTokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
}

// CompletionStream wraps an Eino stream reader. Each received message
// carries one text fragment in Content; fragments are deltas, not
// cumulative text.
type CompletionStream struct {
	reader *schema.StreamReader[*schema.Message]
}

// NewCompletionStream creates a completion stream over an Eino reader.
func NewCompletionStream(reader *schema.StreamReader[*schema.Message]) *CompletionStream {
	return &CompletionStream{reader: reader}
}

// Recv receives the next fragment. Returns io.EOF at end of stream.
func (s *CompletionStream) Recv() (*schema.Message, error) {
	return s.reader.Recv()
}

// Close releases the stream.
func (s *CompletionStream) Close() {
	s.reader.Close()
}

// BuildMessages converts persisted chat history into the provider's message
// format, oldest first.
func BuildMessages(history []*types.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case "assistant":
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		default:
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}
