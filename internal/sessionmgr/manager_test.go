package sessionmgr

import (
	"context"
	"errors"
	"testing"

	"github.com/sebastienvg/claude-mem/internal/llm"
	"github.com/sebastienvg/claude-mem/pkg/models"
)

type fakePromptBuilder struct{}

func (fakePromptBuilder) InitialPrompt(session *models.Session) string {
	return "init:" + session.UserPrompt
}
func (fakePromptBuilder) ContinuationPrompt(session *models.Session, lastPromptNumber int) string {
	return "continue"
}
func (fakePromptBuilder) MessagePrompt(msg *models.PendingMessage, history []models.Message) string {
	return "message"
}

type scriptedProvider struct {
	results []ProviderResult
	errs    []error
	calls   int
}

func (p *scriptedProvider) Run(ctx context.Context, history []models.Message) (ProviderResult, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return ProviderResult{}, p.errs[i]
	}
	if i < len(p.results) {
		return p.results[i], nil
	}
	return ProviderResult{Content: "ok"}, nil
}

// completingProcessor marks the pending message processed and ends the
// session, so the test's message iterator terminates deterministically.
type completingProcessor struct {
	store interface {
		MarkProcessed(ctx context.Context, id int64, completedAtEpoch int64) error
		UpdateSessionStatus(ctx context.Context, sessionID int64, status models.SessionStatus, completedAtEpoch *int64) error
	}
	seen []ProcessRequest
}

func (p *completingProcessor) Process(ctx context.Context, req ProcessRequest) error {
	p.seen = append(p.seen, req)
	if req.PendingMessageID != nil {
		if err := p.store.MarkProcessed(ctx, *req.PendingMessageID, req.RespondedAtEpoch); err != nil {
			return err
		}
	}
	return p.store.UpdateSessionStatus(ctx, req.SessionDbID, models.SessionCompleted, &req.RespondedAtEpoch)
}

func TestRunSessionHappyPath(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	sess, err := st.GetOrCreateSession(ctx, "content-run-1", "proj", "do the thing", 1000)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := st.Enqueue(ctx, &models.PendingMessage{
		SessionDbID:      sess.ID,
		ContentSessionID: sess.ContentSessionID,
		MessageType:      models.MessageObservation,
		CreatedAtEpoch:   1001,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	memSessionID := "mem-123"
	provider := &scriptedProvider{results: []ProviderResult{{Content: "assistant reply", TokensUsed: 42, ProviderSessionID: &memSessionID}}}
	processor := &completingProcessor{store: st}

	mgr := New(st, provider, nil, processor, fakePromptBuilder{}, Config{})

	if err := mgr.RunSession(ctx, sess.ID, "worker-1"); err != nil {
		t.Fatalf("run session: %v", err)
	}

	updated, err := st.GetSessionByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if updated.MemorySessionID == nil || *updated.MemorySessionID != memSessionID {
		t.Fatalf("expected memory session id propagated, got %+v", updated.MemorySessionID)
	}
	if updated.Status != models.SessionCompleted {
		t.Fatalf("expected session completed, got %s", updated.Status)
	}
	if len(processor.seen) != 1 {
		t.Fatalf("expected exactly one processed round, got %d", len(processor.seen))
	}
	if processor.seen[0].MemorySessionID != memSessionID {
		t.Fatalf("processor should see the newly propagated memory session id")
	}
}

func TestRunSessionRejectsConcurrentTask(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	sess, err := st.GetOrCreateSession(ctx, "content-run-2", "proj", "hi", 1000)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	mgr := New(st, &scriptedProvider{}, nil, &completingProcessor{store: st}, fakePromptBuilder{}, Config{})

	release, ok := mgr.locks.TryAcquire(sess.ID, "existing-holder")
	if !ok {
		t.Fatalf("expected to acquire lock directly")
	}
	defer release()

	if err := mgr.RunSession(ctx, sess.ID, "new-holder"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRunSessionReturnsFailedMessageToPendingOnUnrecoverableError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	sess, err := st.GetOrCreateSession(ctx, "content-run-3", "proj", "hi", 1000)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	id, err := st.Enqueue(ctx, &models.PendingMessage{
		SessionDbID:      sess.ID,
		ContentSessionID: sess.ContentSessionID,
		MessageType:      models.MessageObservation,
		CreatedAtEpoch:   1001,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	boom := errors.New("provider exploded")
	provider := &scriptedProvider{errs: []error{boom}}
	processor := &completingProcessor{store: st}
	mgr := New(st, provider, nil, processor, fakePromptBuilder{}, Config{})

	if err := mgr.RunSession(ctx, sess.ID, "worker-1"); err == nil {
		t.Fatalf("expected run to surface the provider error")
	}

	msg, err := st.ClaimNextForSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("expected the failed message to be reclaimable, got %v", err)
	}
	if msg.ID != id {
		t.Fatalf("unexpected claimed message id: %d", msg.ID)
	}
	if msg.RetryCount != 1 {
		t.Fatalf("expected retry count bumped to 1, got %d", msg.RetryCount)
	}
}

func TestRunSessionFallsBackOnRecoverableError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	sess, err := st.GetOrCreateSession(ctx, "content-run-4", "proj", "hi", 1000)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := st.Enqueue(ctx, &models.PendingMessage{
		SessionDbID:      sess.ID,
		ContentSessionID: sess.ContentSessionID,
		MessageType:      models.MessageObservation,
		CreatedAtEpoch:   1001,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	primary := &scriptedProvider{errs: []error{&llm.RecoverableError{Provider: "primary", Reason: llm.ReasonRateLimit, Err: errors.New("rate limited")}}}
	fallback := &scriptedProvider{results: []ProviderResult{{Content: "fallback reply"}}}
	processor := &completingProcessor{store: st}
	mgr := New(st, primary, fallback, processor, fakePromptBuilder{}, Config{})

	if err := mgr.RunSession(ctx, sess.ID, "worker-1"); err != nil {
		t.Fatalf("run session: %v", err)
	}
	if fallback.calls != 1 {
		t.Fatalf("expected fallback to be invoked once, got %d", fallback.calls)
	}
	if len(processor.seen) != 1 || processor.seen[0].AssistantText != "fallback reply" {
		t.Fatalf("expected processor to see the fallback's reply, got %+v", processor.seen)
	}
}
