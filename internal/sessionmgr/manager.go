package sessionmgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sebastienvg/claude-mem/internal/llm"
	"github.com/sebastienvg/claude-mem/internal/store"
	"github.com/sebastienvg/claude-mem/pkg/models"
)

// ProviderResult and Provider alias the LLMClient component's (4.F)
// canonical types: SessionManager is a consumer of that contract, not its
// owner.
type ProviderResult = llm.Result
type Provider = llm.Provider

// Processor is the narrow ResponseProcessor slice SessionManager depends
// on: parse assistant text and commit the resulting observations/summary,
// marking the originating pending message processed as part of the same
// transaction (spec.md §4.G).
type Processor interface {
	Process(ctx context.Context, req ProcessRequest) error
}

// ProcessRequest carries everything ResponseProcessor needs to parse one
// assistant turn and commit it.
type ProcessRequest struct {
	SessionDbID      int64
	MemorySessionID  string
	Project          string
	AssistantText    string
	RespondedAtEpoch int64
	PendingMessageID *int64 // nil for the session's opening round
	TokensUsed       int    // this round's reported usage, for discoveryTokens
	PromptNumber     *int
	BeadID           *string
}

// PromptBuilder constructs the text sent to the Provider for each step of
// the start-session algorithm. Templates are a ResponseProcessor/LLMClient
// concern; SessionManager only needs something that turns a Session or
// PendingMessage into a user-role prompt string.
type PromptBuilder interface {
	InitialPrompt(session *models.Session) string
	ContinuationPrompt(session *models.Session, lastPromptNumber int) string
	MessagePrompt(msg *models.PendingMessage, history []models.Message) string
}

// Config tunes the manager's polling and locking behavior.
type Config struct {
	LockIdleTimeout time.Duration
}

// Manager is the supervisor: at most one active task per Session, run as a
// cooperative loop per spec.md §4.E.
type Manager struct {
	store     store.Store
	provider  Provider
	fallback  Provider // optional; nil disables step 5's fallback hop
	processor Processor
	prompts   PromptBuilder
	locks     *TaskLockManager
	now       func() int64
}

func New(st store.Store, provider, fallback Provider, processor Processor, prompts PromptBuilder, cfg Config) *Manager {
	return &Manager{
		store:     st,
		provider:  provider,
		fallback:  fallback,
		processor: processor,
		prompts:   prompts,
		locks:     NewTaskLockManager(cfg.LockIdleTimeout),
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

var ErrAlreadyRunning = errors.New("sessionmgr: a task is already active for this session")

// RunSession executes the start-session algorithm (spec.md §4.E, steps
// 1-5) for sessionDbID. It blocks for the lifetime of the task: until the
// message iterator is exhausted, an unrecoverable error occurs, or ctx is
// cancelled. Callers typically invoke this in its own goroutine per
// session.
func (m *Manager) RunSession(ctx context.Context, sessionDbID int64, holder string) error {
	release, ok := m.locks.TryAcquire(sessionDbID, holder)
	if !ok {
		// A task for this session is already running; it will observe the
		// newly enqueued message via its own iterator's Notify wake-up.
		return ErrAlreadyRunning
	}
	defer release()

	session, err := m.store.GetSessionByID(ctx, sessionDbID)
	if err != nil {
		return fmt.Errorf("sessionmgr: load session: %w", err)
	}

	t := &task{
		sessionDbID:      sessionDbID,
		lastPromptNumber: session.PromptCounter,
	}

	iter := newMessageIterator(m.store, sessionDbID)

	firstRound := true
	for {
		msg, err := iter.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.failInFlight(context.Background(), t, "cancelled", true)
				return ctx.Err()
			}
			return fmt.Errorf("sessionmgr: message iterator: %w", err)
		}
		if msg == nil {
			return nil // session completed or failed; iterator exhausted
		}

		t.currentMessageID = &msg.ID

		var prompt string
		if firstRound {
			if t.lastPromptNumber > 0 {
				prompt = m.prompts.ContinuationPrompt(session, t.lastPromptNumber)
			} else {
				prompt = m.prompts.InitialPrompt(session)
			}
		} else {
			prompt = m.prompts.MessagePrompt(msg, t.history)
		}

		t.history = append(t.history, models.Message{Role: models.RoleUser, Content: prompt, CreatedAtEpoch: m.now()})

		result, err := m.runWithFallback(ctx, t.history)
		if err != nil {
			m.failInFlight(ctx, t, err.Error(), true)
			return fmt.Errorf("sessionmgr: llm run: %w", err)
		}

		t.history = append(t.history, models.Message{Role: models.RoleAssistant, Content: result.Content, CreatedAtEpoch: m.now()})
		t.cumulativeOutputTokens += result.TokensUsed

		if firstRound && result.ProviderSessionID != nil && session.MemorySessionID == nil {
			if err := m.store.SetMemorySessionID(ctx, sessionDbID, *result.ProviderSessionID); err != nil {
				return fmt.Errorf("sessionmgr: propagate memory session id: %w", err)
			}
			session.MemorySessionID = result.ProviderSessionID
		}

		memSessionID := ""
		if session.MemorySessionID != nil {
			memSessionID = *session.MemorySessionID
		}

		var pendingID *int64
		if msg.ID != 0 {
			id := msg.ID
			pendingID = &id
		}
		if err := m.processor.Process(ctx, ProcessRequest{
			SessionDbID:      sessionDbID,
			MemorySessionID:  memSessionID,
			Project:          session.Project,
			AssistantText:    result.Content,
			RespondedAtEpoch: m.now(),
			PendingMessageID: pendingID,
			TokensUsed:       result.TokensUsed,
			PromptNumber:     msg.PromptNumber,
			BeadID:           msg.BeadID,
		}); err != nil {
			m.failInFlight(ctx, t, err.Error(), true)
			return fmt.Errorf("sessionmgr: process response: %w", err)
		}

		t.currentMessageID = nil
		firstRound = false
	}
}

// runWithFallback runs the primary provider and, on a RecoverableError, one
// retry against the fallback provider (spec.md §4.E step 5, §4.F).
func (m *Manager) runWithFallback(ctx context.Context, history []models.Message) (ProviderResult, error) {
	result, err := m.provider.Run(ctx, history)
	if err == nil {
		return result, nil
	}

	if !llm.IsRecoverable(err) || m.fallback == nil {
		return ProviderResult{}, err
	}
	return m.fallback.Run(ctx, history)
}

// failInFlight returns any claimed-but-uncommitted message to pending
// (retry=true) on cancellation or an unrecoverable error, per spec.md
// §4.E's cancellation clause.
func (m *Manager) failInFlight(ctx context.Context, t *task, reason string, retry bool) {
	if t.currentMessageID == nil {
		return
	}
	_ = m.store.MarkFailed(ctx, *t.currentMessageID, reason, m.now(), retry)
}

// task is the in-memory state SessionManager owns for one active session,
// per spec.md §4.E's ownership note: no duplicate persisted state beyond
// the live chat history.
type task struct {
	sessionDbID            int64
	history                []models.Message
	cumulativeInputTokens  int
	cumulativeOutputTokens int
	lastPromptNumber       int
	currentMessageID       *int64
}
