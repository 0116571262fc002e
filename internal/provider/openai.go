package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// OpenAIStreamer implements Streamer over the OpenAI chat completion API.
type OpenAIStreamer struct {
	chatModel model.ToolCallingChatModel
	config    *OpenAIConfig
}

// OpenAIConfig holds configuration for the OpenAI streamer.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewOpenAIStreamer creates an OpenAI-backed streamer. APIKey and Model
// fall back to OPENAI_API_KEY and OPENAI_MODEL_ID.
func NewOpenAIStreamer(ctx context.Context, config *OpenAIConfig) (*OpenAIStreamer, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	modelID := config.Model
	if modelID == "" {
		modelID = os.Getenv("OPENAI_MODEL_ID")
	}
	if modelID == "" {
		modelID = "gpt-4o"
	}

	cfg := &openai.ChatModelConfig{
		APIKey:              apiKey,
		Model:               modelID,
		MaxCompletionTokens: &maxTokens,
	}
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}

	return &OpenAIStreamer{chatModel: chatModel, config: config}, nil
}

// ID returns the provider identifier.
func (p *OpenAIStreamer) ID() string { return "openai" }

// StreamCompletion starts an incremental completion.
func (p *OpenAIStreamer) StreamCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	var opts []model.Option
	if req.MaxTokens > 0 {
		opts = append(opts, openai.WithMaxCompletionTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}

	stream, err := p.chatModel.Stream(ctx, req.Messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}
	return NewCompletionStream(stream), nil
}
