package embedding

import (
	"context"
	"fmt"

	"github.com/medcortex/medcortex/config"
)

// Provider turns text into a vector for similarity search.
type Provider interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// NewProvider builds the provider selected by cfg.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return newOpenAIProvider(cfg), nil
	case "static":
		return &Static{Dimensions: cfg.Dimensions}, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
