package llm

import (
	"log/slog"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// estimatedCharsPerToken mirrors spec.md §4.F's "~4 chars per token"
// estimator, avoiding a real tokenizer dependency for a budget check.
const estimatedCharsPerToken = 4

// TruncationPolicy bounds how much history a provider call sends, per
// spec.md §4.F: enforce a max message count and a max estimated token
// count, dropping oldest messages first and keeping a contiguous suffix.
type TruncationPolicy struct {
	MaxMessages  int
	MaxEstTokens int
}

// Apply returns the possibly-truncated suffix of history that fits the
// policy, logging a warning with counts dropped/kept when it truncates.
func (p TruncationPolicy) Apply(logger *slog.Logger, history []models.Message) []models.Message {
	truncated := history

	if p.MaxMessages > 0 && len(truncated) > p.MaxMessages {
		truncated = truncated[len(truncated)-p.MaxMessages:]
	}

	if p.MaxEstTokens > 0 {
		for len(truncated) > 1 && estimatedTokens(truncated) > p.MaxEstTokens {
			truncated = truncated[1:]
		}
	}

	if len(truncated) != len(history) && logger != nil {
		logger.Warn("llm: truncated conversation history",
			"dropped", len(history)-len(truncated),
			"kept", len(truncated))
	}
	return truncated
}

func estimatedTokens(history []models.Message) int {
	chars := 0
	for _, m := range history {
		chars += len(m.Content)
	}
	return chars / estimatedCharsPerToken
}
