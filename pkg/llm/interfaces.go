// Package llm provides the opaque language-model capability used by the
// pipeline. The core never mentions model family, provider, or protocol.
package llm

import "context"

// Client is the capability interface the pipeline depends on. Implementations
// wrap a provider SDK; tests use MockClient with canned JSON.
type Client interface {
	// Run sends a prompt and returns the raw model text. The threadID is
	// forwarded for provider-side conversation correlation where supported.
	Run(ctx context.Context, prompt, systemMessage, threadID string) (string, error)

	// CreateEmbedding generates an embedding vector for the input text.
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)

	// Model returns the configured deployment/model name.
	Model() string
}

// Ensure implementations satisfy Client at compile time.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*MockClient)(nil)
)
