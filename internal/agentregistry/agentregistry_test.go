package agentregistry

import (
	"context"
	"errors"
	"testing"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// fakeStore is a minimal in-memory Store double, enough to exercise
// Registry's control flow without a real SQLite round-trip.
type fakeStore struct {
	agents map[string]*models.Agent
	audit  []models.AuditLogEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{agents: map[string]*models.Agent{}}
}

func (f *fakeStore) RegisterAgent(ctx context.Context, a *models.Agent) error {
	if _, ok := f.agents[a.ID]; ok {
		return errors.New("already exists")
	}
	cp := *a
	f.agents[a.ID] = &cp
	return nil
}

func (f *fakeStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	a, ok := f.agents[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return a, nil
}

func (f *fakeStore) GetAgentByKeyPrefix(ctx context.Context, prefix string) (*models.Agent, error) {
	for _, a := range f.agents {
		if a.APIKeyPrefix == prefix {
			return a, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeStore) RecordVerifySuccess(ctx context.Context, id string, nowEpoch int64) error {
	a := f.agents[id]
	a.FailedAttempts = 0
	a.LockedUntilEpoch = nil
	a.LastSeenAtEpoch = &nowEpoch
	return nil
}

func (f *fakeStore) RecordVerifyFailure(ctx context.Context, id string, nowEpoch int64, maxAttempts int, lockoutSeconds int64) error {
	a := f.agents[id]
	a.FailedAttempts++
	if a.FailedAttempts >= maxAttempts {
		unlock := nowEpoch + lockoutSeconds*1000
		a.LockedUntilEpoch = &unlock
	}
	return nil
}

func (f *fakeStore) RotateAgentKey(ctx context.Context, id, newPrefix, newHash string, newExpiresAtEpoch *int64) error {
	a := f.agents[id]
	a.APIKeyPrefix = newPrefix
	a.APIKeyHash = newHash
	a.ExpiresAtEpoch = newExpiresAtEpoch
	a.FailedAttempts = 0
	a.LockedUntilEpoch = nil
	return nil
}

func (f *fakeStore) RevokeAgent(ctx context.Context, id string) error {
	delete(f.agents, id)
	return nil
}

func (f *fakeStore) AppendAudit(ctx context.Context, e *models.AuditLogEntry) error {
	f.audit = append(f.audit, *e)
	return nil
}

func TestValidID(t *testing.T) {
	if !ValidID("assistant@host1") {
		t.Fatalf("expected valid id to pass")
	}
	if ValidID("no-at-sign") {
		t.Fatalf("expected id without @ to fail")
	}
	if ValidID("bad char@host") {
		t.Fatalf("expected id with space to fail")
	}
}

func TestRegisterRejectsBadFormat(t *testing.T) {
	reg := New(newFakeStore(), Config{})
	_, _, err := reg.Register(context.Background(), "not-valid", "default", "read", nil, nil, nil)
	if !errors.Is(err, ErrInvalidIDFormat) {
		t.Fatalf("expected ErrInvalidIDFormat, got %v", err)
	}
}

func TestRegisterAndVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	reg := New(store, Config{})

	agent, issued, err := reg.Register(ctx, "assistant@host1", "default", "read,write", nil, nil, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if agent.APIKeyPrefix != issued.Prefix || len(issued.Prefix) != keyPrefixLength {
		t.Fatalf("unexpected prefix: %+v", issued)
	}

	verified, err := reg.Verify(ctx, issued.PlaintextKey)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.ID != agent.ID {
		t.Fatalf("verified wrong agent: %+v", verified)
	}
}

func TestVerifyWrongKeyIncrementsFailures(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	reg := New(store, Config{MaxAttempts: 2, LockoutSeconds: 60})

	agent, _, err := reg.Register(ctx, "assistant@host1", "default", "read", nil, nil, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := reg.Verify(ctx, agent.APIKeyPrefix+"wrong-rest-of-key"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := reg.Verify(ctx, agent.APIKeyPrefix+"wrong-rest-of-key"); err == nil {
		t.Fatalf("expected second failure to also fail")
	}

	if _, err := reg.Verify(ctx, agent.APIKeyPrefix+"irrelevant"); err == nil {
		t.Fatalf("expected locked agent to reject verification")
	} else {
		var locked *AgentLocked
		if !errors.As(err, &locked) {
			t.Fatalf("expected AgentLocked, got %v (%T)", err, err)
		}
	}
}

func TestRotateInvalidatesOldKey(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	reg := New(store, Config{})

	_, oldKey, err := reg.Register(ctx, "assistant@host1", "default", "read", nil, nil, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	newKey, err := reg.Rotate(ctx, "assistant@host1")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if newKey.PlaintextKey == oldKey.PlaintextKey {
		t.Fatalf("expected a fresh key on rotation")
	}
	if _, err := reg.Verify(ctx, oldKey.PlaintextKey); err == nil {
		t.Fatalf("expected old key to be invalid after rotation")
	}
	if _, err := reg.Verify(ctx, newKey.PlaintextKey); err != nil {
		t.Fatalf("expected new key to verify: %v", err)
	}
}
