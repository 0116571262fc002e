package provider

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// ScriptStreamer replays a fixed sequence of fragments. Used in tests and
// by the serve command when no real provider is configured, so the whole
// pipeline runs without network access.
type ScriptStreamer struct {
	// Fragments are emitted in order, one per Recv.
	Fragments []string

	// Err, when set, is returned after FailAfter fragments instead of the
	// remaining script.
	Err       error
	FailAfter int
}

// ID returns the provider identifier.
func (s *ScriptStreamer) ID() string { return "script" }

// StreamCompletion replays the script as a completion stream.
func (s *ScriptStreamer) StreamCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	reader, writer := schema.Pipe[*schema.Message](len(s.Fragments) + 1)

	go func() {
		defer writer.Close()
		for i, fragment := range s.Fragments {
			if s.Err != nil && i == s.FailAfter {
				writer.Send(nil, s.Err)
				return
			}
			if closed := writer.Send(schema.AssistantMessage(fragment, nil), nil); closed {
				return
			}
		}
		if s.Err != nil && s.FailAfter >= len(s.Fragments) {
			writer.Send(nil, s.Err)
		}
	}()

	return NewCompletionStream(reader), nil
}
