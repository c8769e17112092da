package models

// PendingMessageType selects the prompt-construction path the SessionManager
// takes when it dequeues the message.
type PendingMessageType string

const (
	MessageObservation PendingMessageType = "observation"
	MessageSummarize   PendingMessageType = "summarize"
)

// PendingMessageStatus is the claim state machine for the durable queue.
// pending -> processing -> processed, or pending|processing -> failed.
type PendingMessageStatus string

const (
	StatusPending    PendingMessageStatus = "pending"
	StatusProcessing PendingMessageStatus = "processing"
	StatusProcessed  PendingMessageStatus = "processed"
	StatusFailed     PendingMessageStatus = "failed"
)

// PendingMessage is a durable unit of supervisor work derived from one
// tool-use event (or a summarize request) posted by the host assistant.
type PendingMessage struct {
	ID                       int64
	SessionDbID              int64
	ContentSessionID         string
	MessageType              PendingMessageType
	ToolName                 *string
	ToolInput                *string // opaque serialized payload; nulled on markProcessed
	ToolResponse             *string // opaque serialized payload; nulled on markProcessed
	Cwd                      *string
	LastUserMessage          *string
	LastAssistantMessage     *string
	PromptNumber             *int
	BeadID                   *string
	Status                   PendingMessageStatus
	RetryCount               int
	CreatedAtEpoch           int64
	StartedProcessingAtEpoch *int64
	CompletedAtEpoch         *int64
	FailedAtEpoch            *int64
	FailureReason            *string
}
