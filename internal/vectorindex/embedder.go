package vectorindex

import (
	"context"
	"fmt"
)

// Embedder turns text into a fixed-dimension vector. Both backends embed
// queries the same way; the embedded backend also embeds documents at
// insert time, while the HTTP backend may delegate that to the server
// depending on collection configuration.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
}

// EmbedderConfig selects and configures one Embedder implementation.
type EmbedderConfig struct {
	Provider  string // openai, ollama
	APIKey    string
	BaseURL   string
	Model     string
	OllamaURL string
}

// NewEmbedder dispatches on Provider the way the teacher's embeddings
// package does for its three providers, trimmed to the two the example
// corpus actually implements end to end without a cloud SDK.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "openai":
		return newOpenAIEmbedder(cfg)
	case "ollama":
		return newOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("vectorindex: unknown embedder provider %q", cfg.Provider)
	}
}
