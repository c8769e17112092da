package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// OllamaConfig configures the Ollama provider, grounded on
// internal/agent/providers/ollama.go's OllamaConfig, for running against a
// local embedded LLM per spec.md §6.
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`

	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// OllamaProvider implements Provider against a local Ollama daemon's
// /api/chat endpoint via raw net/http, decoding the newline-delimited JSON
// stream it always emits and accumulating content until the final
// done:true record, rather than taking on a client SDK for a wire format
// this simple.
type OllamaProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

func NewOllamaProvider(cfg OllamaConfig) (*OllamaProvider, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "llama3.1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &OllamaProvider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		model:      model,
	}, nil
}

func (p *OllamaProvider) Run(ctx context.Context, history []models.Message) (Result, error) {
	reqBody := ollamaChatRequest{
		Model:    p.model,
		Messages: convertOllamaHistory(history),
		Stream:   true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("llm: ollama: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("llm: ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, wrapError("ollama", err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, wrapError("ollama", fmt.Errorf("ollama: unexpected status %d", resp.StatusCode), resp.StatusCode)
	}

	var content strings.Builder
	var promptTokens, evalTokens int

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return Result{}, fmt.Errorf("llm: ollama: decode chunk: %w", err)
		}
		content.WriteString(chunk.Message.Content)
		if chunk.Done {
			promptTokens = chunk.PromptEvalCount
			evalTokens = chunk.EvalCount
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, wrapError("ollama", err, 0)
	}

	return Result{
		Content:    content.String(),
		TokensUsed: promptTokens + evalTokens,
	}, nil
}

func convertOllamaHistory(history []models.Message) []ollamaMessage {
	messages := make([]ollamaMessage, 0, len(history))
	for _, m := range history {
		role := "user"
		switch m.Role {
		case models.RoleAssistant:
			role = "assistant"
		case models.RoleSystem:
			role = "system"
		}
		messages = append(messages, ollamaMessage{Role: role, Content: m.Content})
	}
	return messages
}
