package models

// Role is a conversation turn's speaker, mirroring common LLM chat wire
// formats ("user", "assistant", "system").
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of conversation history. SessionManager accumulates
// these as conversationHistory for the duration of an active supervisor
// task; the Store optionally persists them so a restart can resume.
type Message struct {
	Role           Role
	Content        string
	CreatedAtEpoch int64
}
