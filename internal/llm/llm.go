// Package llm is the LLMClient component (SPEC_FULL.md §4.F): a shared
// provider contract over Claude, Gemini, OpenRouter, and Ollama, with
// truncation, retry/backoff, error classification, and a two-provider
// fallback chain.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// Result is a provider's non-streaming response: assistant text, token
// accounting, and an optional provider-side session id the SessionManager
// propagates back into the Store on the first round of a session.
type Result struct {
	Content           string
	TokensUsed        int
	ProviderSessionID *string
}

// Provider is the contract every backend (Claude, Gemini, OpenRouter,
// Ollama) implements: a single non-streaming round-trip over the full
// ordered conversation history.
type Provider interface {
	Run(ctx context.Context, history []models.Message) (Result, error)
}

// ErrorReason classifies a provider error for retry and failover
// decisions, grounded on the teacher's providers.FailoverReason table
// (internal/agent/providers/errors.go), collapsed to the set spec.md §4.F
// names.
type ErrorReason string

const (
	ReasonTimeout          ErrorReason = "timeout"
	ReasonRateLimit        ErrorReason = "rate_limit"
	ReasonAuth             ErrorReason = "auth"
	ReasonBilling          ErrorReason = "billing"
	ReasonModelUnavailable ErrorReason = "model_unavailable"
	ReasonServerError      ErrorReason = "server_error"
	ReasonInvalidRequest   ErrorReason = "invalid_request"
	ReasonUnknown          ErrorReason = "unknown"
)

// Recoverable reports whether a request tagged with this reason is worth
// retrying or handing off to a fallback provider.
func (r ErrorReason) Recoverable() bool {
	switch r {
	case ReasonTimeout, ReasonRateLimit, ReasonServerError:
		return true
	default:
		return false
	}
}

// ClassifyError inspects an error's message for the teacher's known
// substring patterns and returns the matching ErrorReason.
func ClassifyError(err error) ErrorReason {
	if err == nil {
		return ReasonUnknown
	}
	s := strings.ToLower(err.Error())

	switch {
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"), strings.Contains(s, "etimedout"):
		return ReasonTimeout
	case strings.Contains(s, "rate limit"), strings.Contains(s, "rate_limit"), strings.Contains(s, "too many requests"), strings.Contains(s, "429"):
		return ReasonRateLimit
	case strings.Contains(s, "unauthorized"), strings.Contains(s, "invalid api key"), strings.Contains(s, "authentication"), strings.Contains(s, "401"), strings.Contains(s, "403"):
		return ReasonAuth
	case strings.Contains(s, "billing"), strings.Contains(s, "payment"), strings.Contains(s, "quota"), strings.Contains(s, "insufficient"), strings.Contains(s, "402"):
		return ReasonBilling
	case strings.Contains(s, "model not found"), strings.Contains(s, "does not exist"), strings.Contains(s, "unavailable"):
		return ReasonModelUnavailable
	case strings.Contains(s, "internal server"), strings.Contains(s, "server error"), strings.Contains(s, "500"), strings.Contains(s, "502"), strings.Contains(s, "503"), strings.Contains(s, "504"):
		return ReasonServerError
	case strings.Contains(s, "400"), strings.Contains(s, "invalid_request"):
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

// classifyStatus maps an HTTP status code directly, bypassing string
// sniffing when a provider SDK exposes one.
func classifyStatus(status int) ErrorReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// RecoverableError wraps a provider error whose ErrorReason is
// recoverable, signaling SessionManager it may retry against a fallback
// provider (spec.md §4.E step 5).
type RecoverableError struct {
	Provider string
	Reason   ErrorReason
	Err      error
}

func (e *RecoverableError) Error() string {
	return fmt.Sprintf("llm: %s: %s: %v", e.Provider, e.Reason, e.Err)
}
func (e *RecoverableError) Unwrap() error { return e.Err }

// wrapError classifies err and, if recoverable, wraps it as a
// RecoverableError so SessionManager can distinguish it from a terminal
// failure.
func wrapError(provider string, err error, status int) error {
	if err == nil {
		return nil
	}
	reason := ClassifyError(err)
	if status != 0 {
		if byStatus := classifyStatus(status); byStatus != ReasonUnknown {
			reason = byStatus
		}
	}
	if !reason.Recoverable() {
		return fmt.Errorf("llm: %s: %s: %w", provider, reason, err)
	}
	return &RecoverableError{Provider: provider, Reason: reason, Err: err}
}

// IsRecoverable reports whether err (or something in its chain) is a
// RecoverableError.
func IsRecoverable(err error) bool {
	var r *RecoverableError
	return errors.As(err, &r)
}
