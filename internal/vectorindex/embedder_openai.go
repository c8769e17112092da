package vectorindex

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// openaiEmbedder implements Embedder via OpenAI's embedding endpoint,
// grounded on internal/memory/embeddings/openai/openai.go.
type openaiEmbedder struct {
	client *openai.Client
	model  string
}

func newOpenAIEmbedder(cfg EmbedderConfig) (*openaiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vectorindex: openai embedder requires an api key")
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = cfg.BaseURL
	}
	return &openaiEmbedder{client: openai.NewClientWithConfig(oaCfg), model: model}, nil
}

func (p *openaiEmbedder) Name() string { return "openai" }

func (p *openaiEmbedder) Dimension() int {
	switch p.model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

func (p *openaiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("vectorindex: openai returned no embedding")
	}
	return out[0], nil
}

func (p *openaiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: openai embed: %w", err)
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
