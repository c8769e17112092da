package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// ClaudeConfig configures the Claude provider, grounded on
// internal/agent/providers/anthropic.go's AnthropicConfig.
type ClaudeConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// ClaudeProvider implements Provider against the Anthropic Messages API,
// non-streaming, per spec.md §4.F's run(history) contract.
type ClaudeProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

func NewClaudeProvider(cfg ClaudeConfig) (*ClaudeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: claude: API key is required")
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &ClaudeProvider{
		client:    anthropic.NewClient(options...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (p *ClaudeProvider) Run(ctx context.Context, history []models.Message) (Result, error) {
	messages, system := convertHistory(history)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Result{}, wrapError("claude", err, 0)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if text := block.AsAny(); text != nil {
			if tb, ok := text.(anthropic.TextBlock); ok {
				content.WriteString(tb.Text)
			}
		}
	}

	return Result{
		Content:    content.String(),
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}

// convertHistory splits a system-role message (if present, always first
// in spec.md's ordered history) from the user/assistant turns, mirroring
// anthropic.go's convertMessages but for the non-streaming, text-only
// contract spec.md §4.F names.
func convertHistory(history []models.Message) ([]anthropic.MessageParam, string) {
	var system string
	var messages []anthropic.MessageParam
	for _, m := range history {
		switch m.Role {
		case models.RoleSystem:
			system = m.Content
		case models.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return messages, system
}
