// Package models defines the persisted entities shared across the worker:
// sessions, prompts, the pending-message queue, observations, summaries,
// agents, project aliases, and audit log entries.
package models

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Session represents one coding-assistant conversation bound to a host
// content session id and, once the LLM agent has round-tripped at least
// once, a memory session id of its own.
type Session struct {
	ID                int64
	ContentSessionID  string
	MemorySessionID   *string
	Project           string
	UserPrompt        string
	StartedAtEpoch    int64
	CompletedAtEpoch  *int64
	Status            SessionStatus
	PromptCounter     int
}

// UserPrompt is one user message within a Session.
type UserPrompt struct {
	ID               int64
	ContentSessionID string
	PromptNumber     int
	PromptText       string
	AgentID          *string
	SenderID         *string
	CreatedAtEpoch   int64
}
