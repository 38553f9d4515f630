package llm

import (
	"context"
	"fmt"
	"time"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicClient implements Client against the Anthropic Messages API.
// The provider has no embeddings endpoint, so an embedding-capable Client
// must be supplied for deployments that use vector search.
type AnthropicClient struct {
	client   *anthropic.Client
	model    string
	embedder Client
	logger   *zap.Logger
}

// NewAnthropicClient creates a client for the Anthropic Messages API.
// embedder may be nil when no component needs embeddings.
func NewAnthropicClient(cfg *Config, embedder Client, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	var opts []anthropic.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.Endpoint))
	}

	return &AnthropicClient{
		client:   anthropic.NewClient(cfg.APIKey, opts...),
		model:    cfg.Model,
		embedder: embedder,
		logger:   logger.Named("llm"),
	}, nil
}

// Run implements Client.
func (c *AnthropicClient) Run(ctx context.Context, prompt, systemMessage, threadID string) (string, error) {
	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.String("thread_id", threadID),
		zap.Int("prompt_len", len(prompt)))

	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		System:    systemMessage,
		MaxTokens: 4096,
		Messages: []anthropic.Message{
			anthropic.NewUserTextMessage(prompt),
		},
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", ClassifyError(err)
	}

	text := resp.GetFirstContentText()
	if text == "" {
		return "", NewError(ErrorTypeInvalidResponse, "no text content in response", false, nil)
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.InputTokens),
		zap.Int("completion_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return text, nil
}

// CreateEmbedding implements Client by delegating to the configured embedder.
func (c *AnthropicClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	if c.embedder == nil {
		return nil, NewError(ErrorTypeInvalidResponse, "no embedding endpoint configured for this provider", false, nil)
	}
	return c.embedder.CreateEmbedding(ctx, input)
}

// Model implements Client.
func (c *AnthropicClient) Model() string {
	return c.model
}
