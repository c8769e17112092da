package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// OpenRouterConfig configures the OpenRouter provider, grounded on
// internal/agent/providers/openrouter.go's OpenRouterConfig.
type OpenRouterConfig struct {
	APIKey       string
	DefaultModel string
	AppName      string
	SiteURL      string
}

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterProvider implements Provider over OpenRouter's OpenAI-compatible
// chat completion API, non-streaming.
type OpenRouterProvider struct {
	client *openai.Client
	model  string
}

func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenRouterProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: openrouter: API key is required")
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "openai/gpt-4o"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = openRouterBaseURL

	return &OpenRouterProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

func (p *OpenRouterProvider) Run(ctx context.Context, history []models.Message) (Result, error) {
	messages := convertOpenAIHistory(history)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	})
	if err != nil {
		return Result{}, wrapError("openrouter", err, 0)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("llm: openrouter: empty response")
	}

	return Result{
		Content:    resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

func convertOpenAIHistory(history []models.Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return messages
}
