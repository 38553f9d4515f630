package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// Providers selectable via configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewClient builds the configured provider's client. Anthropic deployments
// pair the chat model with an OpenAI-compatible embedding client built from
// the same endpoint config, since the Messages API has no embeddings.
func NewClient(provider string, cfg *Config, logger *zap.Logger) (Client, error) {
	switch provider {
	case ProviderOpenAI, "":
		return NewOpenAIClient(cfg, logger)
	case ProviderAnthropic:
		var embedder Client
		if cfg.EmbeddingModel != "" && cfg.Endpoint != "" {
			embeddingCfg := &Config{
				Endpoint:       cfg.Endpoint,
				Model:          cfg.EmbeddingModel,
				APIKey:         cfg.APIKey,
				EmbeddingModel: cfg.EmbeddingModel,
			}
			var err error
			embedder, err = NewOpenAIClient(embeddingCfg, logger)
			if err != nil {
				return nil, fmt.Errorf("embedding client: %w", err)
			}
		}
		return NewAnthropicClient(cfg, embedder, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
