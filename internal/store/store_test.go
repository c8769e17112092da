package store

import (
	"context"
	"testing"
	"time"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestEnqueueToPersist reproduces spec.md §8 scenario 1.
func TestEnqueueToPersist(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	sess, err := s.GetOrCreateSession(ctx, "S1", "example.com/o/r", "do the thing", now)
	if err != nil {
		t.Fatalf("get or create session: %v", err)
	}
	if sess.Project != "example.com/o/r" {
		t.Fatalf("project = %q", sess.Project)
	}

	toolName := "Read"
	toolInput := `{"file_path":"/a.ts"}`
	toolResponse := "ok"
	promptNumber := 1
	pmID, err := s.Enqueue(ctx, &models.PendingMessage{
		SessionDbID:      sess.ID,
		ContentSessionID: sess.ContentSessionID,
		MessageType:      models.MessageObservation,
		ToolName:         &toolName,
		ToolInput:        &toolInput,
		ToolResponse:     &toolResponse,
		PromptNumber:     &promptNumber,
		CreatedAtEpoch:   now,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := s.ClaimNextForSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != pmID || claimed.Status != models.StatusProcessing {
		t.Fatalf("unexpected claim: %+v", claimed)
	}

	obs := &models.Observation{
		MemorySessionID: "mem-1",
		Project:         sess.Project,
		Type:            models.ObservationDiscovery,
		Title:           "T",
		Narrative:       "N",
		Facts:           []string{"f1"},
		CreatedAtEpoch:  now,
		Agent:           models.DefaultAgent,
		Department:      models.DefaultDepartment,
		Visibility:      models.DefaultVisibility,
	}
	ids, summaryID, err := s.CommitObservations(ctx, claimed.ID, []*models.Observation{obs}, nil, now)
	if err != nil {
		t.Fatalf("commit observations: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected one observation id, got %v", ids)
	}
	if summaryID != nil {
		t.Fatalf("expected no summary id")
	}

	got, err := s.GetObservationsByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("get observations: %v", err)
	}
	if len(got) != 1 || got[0].Title != "T" || got[0].Narrative != "N" || len(got[0].Facts) != 1 || got[0].Facts[0] != "f1" {
		t.Fatalf("unexpected observation: %+v", got)
	}
	if got[0].Visibility != models.VisibilityProject || got[0].Agent != models.DefaultAgent {
		t.Fatalf("unexpected defaults: %+v", got[0])
	}

	refetched, err := s.GetSessionByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	_ = refetched
}

// TestClaimRace reproduces the spec.md §8 race invariant: two concurrent
// claimers of the same session see at most one successful claim per
// message.
func TestClaimRace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	sess, err := s.GetOrCreateSession(ctx, "S1", "p", "hi", now)
	if err != nil {
		t.Fatalf("get or create session: %v", err)
	}
	if _, err := s.Enqueue(ctx, &models.PendingMessage{
		SessionDbID: sess.ID, ContentSessionID: sess.ContentSessionID,
		MessageType: models.MessageObservation, CreatedAtEpoch: now,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	type result struct {
		msg *models.PendingMessage
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			msg, err := s.ClaimNextForSession(ctx, sess.ID)
			results <- result{msg, err}
		}()
	}

	successes := 0
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			successes++
		} else if r.err != ErrNoClaim {
			t.Fatalf("unexpected claim error: %v", r.err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", successes)
	}
}

// TestClaimEmptyQueue reproduces the spec.md §8 boundary behavior:
// claimNextForSession on an empty queue returns nothing.
func TestClaimEmptyQueue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess, err := s.GetOrCreateSession(ctx, "S1", "p", "hi", time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("get or create session: %v", err)
	}
	if _, err := s.ClaimNextForSession(ctx, sess.ID); err != ErrNoClaim {
		t.Fatalf("expected ErrNoClaim, got %v", err)
	}
}

// TestAliasResolution reproduces spec.md §8 scenario 2.
func TestAliasResolution(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	if err := s.RegisterAlias(ctx, "mem-claude", "github.com/u/mem-claude", now); err != nil {
		t.Fatalf("register alias: %v", err)
	}

	mkObs := func(project string) *models.Observation {
		return &models.Observation{
			MemorySessionID: "m", Project: project, Type: models.ObservationDecision,
			Title: "t", Narrative: "n", CreatedAtEpoch: now,
			Agent: models.DefaultAgent, Department: models.DefaultDepartment, Visibility: models.VisibilityProject,
		}
	}
	sess, _ := s.GetOrCreateSession(ctx, "S1", "mem-claude", "", now)
	pm1, _ := s.Enqueue(ctx, &models.PendingMessage{SessionDbID: sess.ID, ContentSessionID: sess.ContentSessionID, MessageType: models.MessageObservation, CreatedAtEpoch: now})
	claimed1, _ := s.ClaimNextForSession(ctx, sess.ID)
	if _, _, err := s.CommitObservations(ctx, claimed1.ID, []*models.Observation{mkObs("mem-claude")}, nil, now); err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	_ = pm1

	sess2, _ := s.GetOrCreateSession(ctx, "S2", "github.com/u/mem-claude", "", now)
	pm2, _ := s.Enqueue(ctx, &models.PendingMessage{SessionDbID: sess2.ID, ContentSessionID: sess2.ContentSessionID, MessageType: models.MessageObservation, CreatedAtEpoch: now})
	claimed2, _ := s.ClaimNextForSession(ctx, sess2.ID)
	if _, _, err := s.CommitObservations(ctx, claimed2.ID, []*models.Observation{mkObs("github.com/u/mem-claude")}, nil, now); err != nil {
		t.Fatalf("commit 2: %v", err)
	}
	_ = pm2

	projects, err := s.ProjectsWithAliases(ctx, "github.com/u/mem-claude", 10)
	if err != nil {
		t.Fatalf("projects with aliases: %v", err)
	}
	results, err := s.QueryObservations(ctx, ObservationFilter{Projects: projects, Limit: 10})
	if err != nil {
		t.Fatalf("query observations: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 observations across aliased projects, got %d", len(results))
	}
}

func TestIncrementPromptCounter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	sess, err := s.GetOrCreateSession(ctx, "S1", "proj", "", now)
	if err != nil {
		t.Fatalf("get or create session: %v", err)
	}

	first, err := s.IncrementPromptCounter(ctx, sess.ID)
	if err != nil {
		t.Fatalf("increment prompt counter: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first counter value 1, got %d", first)
	}

	second, err := s.IncrementPromptCounter(ctx, sess.ID)
	if err != nil {
		t.Fatalf("increment prompt counter: %v", err)
	}
	if second != 2 {
		t.Fatalf("expected second counter value 2, got %d", second)
	}

	reloaded, err := s.GetSessionByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session by id: %v", err)
	}
	if reloaded.PromptCounter != 2 {
		t.Fatalf("expected persisted prompt counter 2, got %d", reloaded.PromptCounter)
	}
}

// TestQueryObservationsVisibilityConditionsOnAgentAndDepartment reproduces
// spec.md §8 invariant 3: a department row is reachable only by its own
// department, a private row only by its own agent, regardless of what
// other visibilities are requested alongside it.
func TestQueryObservationsVisibilityConditionsOnAgentAndDepartment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	seed := func(contentID string, vis models.Visibility, agent, department string) {
		sess, err := s.GetOrCreateSession(ctx, contentID, "proj", "", now)
		if err != nil {
			t.Fatalf("session: %v", err)
		}
		pm, err := s.Enqueue(ctx, &models.PendingMessage{SessionDbID: sess.ID, ContentSessionID: sess.ContentSessionID, MessageType: models.MessageObservation, CreatedAtEpoch: now})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		claimed, err := s.ClaimNextForSession(ctx, sess.ID)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		obs := &models.Observation{
			MemorySessionID: "m", Project: "proj", Type: models.ObservationDecision,
			Title: contentID, Narrative: "n", CreatedAtEpoch: now,
			Agent: agent, Department: department, Visibility: vis,
		}
		if _, _, err := s.CommitObservations(ctx, pm, []*models.Observation{obs}, nil, now); err != nil {
			t.Fatalf("commit %s: %v", contentID, err)
		}
		_ = claimed
	}

	seed("eng-dept", models.VisibilityDepartment, models.DefaultAgent, "eng")
	seed("sales-dept", models.VisibilityDepartment, models.DefaultAgent, "sales")
	seed("alice-priv", models.VisibilityPrivate, "alice", models.DefaultDepartment)
	seed("bob-priv", models.VisibilityPrivate, "bob", models.DefaultDepartment)

	results, err := s.QueryObservations(ctx, ObservationFilter{
		Projects:     []string{"proj"},
		Visibilities: []models.Visibility{models.VisibilityDepartment, models.VisibilityPrivate},
		Agent:        "alice",
		Department:   "eng",
		Limit:        10,
	})
	if err != nil {
		t.Fatalf("query observations: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected exactly the eng-department and alice-private rows, got %d: %+v", len(results), results)
	}
	for _, r := range results {
		if r.Title != "eng-dept" && r.Title != "alice-priv" {
			t.Fatalf("unexpected row leaked through visibility filter: %+v", r)
		}
	}
}

// TestLockout reproduces spec.md §8 scenario 4.
func TestLockout(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	if err := s.RegisterAgent(ctx, &models.Agent{
		ID: "x@y", Department: models.DefaultDepartment, Permissions: "read,write",
		APIKeyPrefix: "cm_abcdefgh12", APIKeyHash: "hash", CreatedAtEpoch: now,
	}); err != nil {
		t.Fatalf("register agent: %v", err)
	}

	const maxAttempts = 3
	const lockoutSeconds = 300
	for i := 0; i < maxAttempts; i++ {
		if err := s.RecordVerifyFailure(ctx, "x@y", now, maxAttempts, lockoutSeconds); err != nil {
			t.Fatalf("record verify failure: %v", err)
		}
	}

	agent, err := s.GetAgent(ctx, "x@y")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent.FailedAttempts != maxAttempts {
		t.Fatalf("failedAttempts = %d, want %d", agent.FailedAttempts, maxAttempts)
	}
	if !agent.Locked(now) {
		t.Fatalf("expected agent to be locked")
	}
	wantUnlock := now + lockoutSeconds*1000
	if *agent.LockedUntilEpoch != wantUnlock {
		t.Fatalf("lockedUntilEpoch = %d, want %d", *agent.LockedUntilEpoch, wantUnlock)
	}
}

// TestLockoutOneLessDoesNotLock reproduces the spec.md §8 boundary
// behavior: one less than the threshold does not lock.
func TestLockoutOneLessDoesNotLock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UnixMilli()
	if err := s.RegisterAgent(ctx, &models.Agent{
		ID: "x@y", Department: models.DefaultDepartment, Permissions: "read",
		APIKeyPrefix: "cm_abcdefgh12", APIKeyHash: "hash", CreatedAtEpoch: now,
	}); err != nil {
		t.Fatalf("register agent: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.RecordVerifyFailure(ctx, "x@y", now, 3, 300); err != nil {
			t.Fatalf("record verify failure: %v", err)
		}
	}
	agent, err := s.GetAgent(ctx, "x@y")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent.Locked(now) {
		t.Fatalf("agent should not be locked yet")
	}
}

// TestVerifySuccessClearsLockoutState reproduces spec.md §8 invariant 6.
func TestVerifySuccessClearsLockoutState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UnixMilli()
	if err := s.RegisterAgent(ctx, &models.Agent{
		ID: "x@y", Department: models.DefaultDepartment, Permissions: "read",
		APIKeyPrefix: "cm_abcdefgh12", APIKeyHash: "hash", CreatedAtEpoch: now,
	}); err != nil {
		t.Fatalf("register agent: %v", err)
	}
	if err := s.RecordVerifyFailure(ctx, "x@y", now, 3, 300); err != nil {
		t.Fatalf("record verify failure: %v", err)
	}
	if err := s.RecordVerifySuccess(ctx, "x@y", now); err != nil {
		t.Fatalf("record verify success: %v", err)
	}
	agent, err := s.GetAgent(ctx, "x@y")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent.FailedAttempts != 0 || agent.LockedUntilEpoch != nil {
		t.Fatalf("expected cleared lockout state, got %+v", agent)
	}
}

// TestMigrationsApplied exercises the migration runner end to end,
// including the idempotent-reapplication tolerance spec.md §9 documents.
func TestMigrationsApplied(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	clean, err := s.MigrationsClean(ctx)
	if err != nil {
		t.Fatalf("migrations clean: %v", err)
	}
	if !clean {
		t.Fatalf("expected migrations to be fully applied")
	}
	// Re-running Migrate must be a no-op, not an error.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
}

func TestHasAnyAgents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	has, err := s.HasAnyAgents(ctx)
	if err != nil {
		t.Fatalf("has any agents: %v", err)
	}
	if has {
		t.Fatalf("expected no agents on a fresh store")
	}

	if err := s.RegisterAgent(ctx, &models.Agent{
		ID: "alice@host", Department: "eng", Permissions: "read,write",
		APIKeyPrefix: "abcdefghijkl", APIKeyHash: "hash1", CreatedAtEpoch: 1000,
	}); err != nil {
		t.Fatalf("register agent: %v", err)
	}

	has, err = s.HasAnyAgents(ctx)
	if err != nil {
		t.Fatalf("has any agents: %v", err)
	}
	if !has {
		t.Fatalf("expected HasAnyAgents to report true once an agent is registered")
	}
}

func TestStatsAggregatesAgentsAliasesAndObservations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	expiresAt := int64(10_000_000)
	if err := s.RegisterAgent(ctx, &models.Agent{
		ID: "locked@host", Department: "eng", Permissions: "read,write",
		APIKeyPrefix: "lockedprefix", APIKeyHash: "hash-locked", CreatedAtEpoch: 1000,
		ExpiresAtEpoch: &expiresAt,
	}); err != nil {
		t.Fatalf("register agent: %v", err)
	}
	if err := s.RecordVerifyFailure(ctx, "locked@host", 1000, 1, 4); err != nil {
		t.Fatalf("record verify failure: %v", err)
	}
	// RecordVerifyFailure only updates agent state; AgentRegistry is the
	// layer that appends the corresponding audit_log row, so simulate it
	// here directly.
	if err := s.AppendAudit(ctx, &models.AuditLogEntry{AgentID: "locked@host", Action: "verify_failure", CreatedAtEpoch: 1000}); err != nil {
		t.Fatalf("append audit: %v", err)
	}

	if err := s.RegisterAgent(ctx, &models.Agent{
		ID: "active@host", Department: "eng", Permissions: "read,write",
		APIKeyPrefix: "activeprefix", APIKeyHash: "hash-active", CreatedAtEpoch: 1000,
	}); err != nil {
		t.Fatalf("register agent: %v", err)
	}
	if err := s.RecordVerifySuccess(ctx, "active@host", 2000); err != nil {
		t.Fatalf("record verify success: %v", err)
	}

	if err := s.RegisterAlias(ctx, "old/repo", "new/repo", 1000); err != nil {
		t.Fatalf("register alias: %v", err)
	}

	sess, err := s.GetOrCreateSession(ctx, "c1", "new/repo", "prompt", 1000)
	if err != nil {
		t.Fatalf("get or create session: %v", err)
	}
	pendingID, err := s.Enqueue(ctx, &models.PendingMessage{
		SessionDbID: sess.ID, ContentSessionID: sess.ContentSessionID,
		MessageType: models.MessageObservation, CreatedAtEpoch: 1000,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.ClaimNextForSession(ctx, sess.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	obs := &models.Observation{
		MemorySessionID: "mem-1", Project: "new/repo", Type: models.ObservationDiscovery,
		Title: "T", Narrative: "N", Visibility: models.VisibilityPublic,
		Agent: models.DefaultAgent, Department: models.DefaultDepartment, CreatedAtEpoch: 1000,
	}
	if _, _, err := s.CommitObservations(ctx, pendingID, []*models.Observation{obs}, nil, 1000); err != nil {
		t.Fatalf("commit observations: %v", err)
	}

	stats, err := s.Stats(ctx, 2000)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.AgentsTotal != 2 {
		t.Errorf("expected 2 agents total, got %d", stats.AgentsTotal)
	}
	if stats.AgentsVerified != 1 {
		t.Errorf("expected 1 verified agent, got %d", stats.AgentsVerified)
	}
	if stats.AgentsLocked != 1 {
		t.Errorf("expected 1 locked agent, got %d", stats.AgentsLocked)
	}
	if stats.AuthFailed1h != 1 {
		t.Errorf("expected 1 auth failure in the last hour, got %d", stats.AuthFailed1h)
	}
	if stats.AliasesTotal != 1 {
		t.Errorf("expected 1 alias, got %d", stats.AliasesTotal)
	}
	if stats.AliasesMaxPerProject != 1 {
		t.Errorf("expected max 1 alias per project, got %d", stats.AliasesMaxPerProject)
	}
	if stats.ObservationsTotal != 1 {
		t.Errorf("expected 1 observation, got %d", stats.ObservationsTotal)
	}
	if stats.ObservationsByVisibility[string(models.VisibilityPublic)] != 1 {
		t.Errorf("expected 1 public observation, got %+v", stats.ObservationsByVisibility)
	}
}
