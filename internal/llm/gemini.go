package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// GeminiConfig configures the Gemini provider, grounded on
// internal/agent/providers/google.go's GoogleConfig.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
}

// GeminiProvider implements Provider against the Gemini API's
// non-streaming GenerateContent call.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: gemini: API key is required")
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: gemini: create client: %w", err)
	}

	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Run(ctx context.Context, history []models.Message) (Result, error) {
	contents, config := convertGeminiHistory(history)

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return Result{}, wrapError("gemini", err, 0)
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.PromptTokenCount + resp.UsageMetadata.CandidatesTokenCount)
	}

	return Result{Content: resp.Text(), TokensUsed: tokens}, nil
}

func convertGeminiHistory(history []models.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	var contents []*genai.Content
	for _, m := range history {
		if m.Role == models.RoleSystem {
			config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
			continue
		}
		role := genai.RoleUser
		if m.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return contents, config
}
