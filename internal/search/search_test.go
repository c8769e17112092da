package search

import (
	"context"
	"testing"

	"github.com/sebastienvg/claude-mem/internal/store"
	"github.com/sebastienvg/claude-mem/pkg/models"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// seedObservation commits one fully-specified observation, going through
// a real pending-message claim so CommitObservations' FK/state check
// passes (store.SQLiteStore.CommitObservations requires the pending
// message to be in the "processing" state).
func seedObservation(t *testing.T, st *store.SQLiteStore, ctx context.Context, contentSessionID, project string, obs *models.Observation) *models.Observation {
	t.Helper()
	sess, err := st.GetOrCreateSession(ctx, contentSessionID, project, "prompt", obs.CreatedAtEpoch)
	if err != nil {
		t.Fatalf("get or create session: %v", err)
	}
	pendingID, err := st.Enqueue(ctx, &models.PendingMessage{
		SessionDbID:      sess.ID,
		ContentSessionID: sess.ContentSessionID,
		MessageType:      models.MessageObservation,
		CreatedAtEpoch:   obs.CreatedAtEpoch,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := st.ClaimNextForSession(ctx, sess.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	obs.MemorySessionID = "mem-" + contentSessionID
	obs.Project = project
	if obs.Type == "" {
		obs.Type = models.ObservationDiscovery
	}
	if obs.Visibility == "" {
		obs.Visibility = models.DefaultVisibility
	}
	if obs.Agent == "" {
		obs.Agent = models.DefaultAgent
	}
	if obs.Department == "" {
		obs.Department = models.DefaultDepartment
	}

	ids, _, err := st.CommitObservations(ctx, pendingID, []*models.Observation{obs}, nil, obs.CreatedAtEpoch)
	if err != nil {
		t.Fatalf("commit observations: %v", err)
	}
	obs.ID = ids[0]
	return obs
}

func TestSearchAppliesProjectAliasExpansion(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	if err := st.RegisterAlias(ctx, "old/repo", "new/repo", 1000); err != nil {
		t.Fatalf("register alias: %v", err)
	}
	seedObservation(t, st, ctx, "c1", "old/repo", &models.Observation{Title: "T", Narrative: "N", CreatedAtEpoch: 1001})

	e := New(st, nil, nil)
	results, err := e.Search(ctx, Query{Project: "new/repo"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected alias-expanded search to find the old-project row, got %d", len(results))
	}
}

func TestSearchDefaultVisibilityExcludesDepartmentAndPrivateForUnknownAgent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	seedObservation(t, st, ctx, "c1", "proj", &models.Observation{Title: "pub", Narrative: "N", Visibility: models.VisibilityPublic, CreatedAtEpoch: 1001})
	seedObservation(t, st, ctx, "c2", "proj", &models.Observation{Title: "dept", Narrative: "N", Visibility: models.VisibilityDepartment, Department: "eng", CreatedAtEpoch: 1002})
	seedObservation(t, st, ctx, "c3", "proj", &models.Observation{Title: "priv", Narrative: "N", Visibility: models.VisibilityPrivate, Agent: "alice", CreatedAtEpoch: 1003})

	e := New(st, nil, nil)
	results, err := e.Search(ctx, Query{Project: "proj"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "pub" {
		t.Fatalf("expected only the public row for an unauthenticated search, got %+v", results)
	}
}

func TestSearchDepartmentVisibilityMatchesOnlySameDepartment(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	seedObservation(t, st, ctx, "c1", "proj", &models.Observation{Title: "eng-only", Narrative: "N", Visibility: models.VisibilityDepartment, Department: "eng", CreatedAtEpoch: 1001})
	seedObservation(t, st, ctx, "c2", "proj", &models.Observation{Title: "sales-only", Narrative: "N", Visibility: models.VisibilityDepartment, Department: "sales", CreatedAtEpoch: 1002})

	e := New(st, nil, nil)
	results, err := e.Search(ctx, Query{Project: "proj", Agent: &AgentIdentity{ID: "bob", Department: "eng"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "eng-only" {
		t.Fatalf("expected only the eng-department row, got %+v", results)
	}
}

func TestSearchPrivateVisibilityMatchesOnlyOwningAgent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	seedObservation(t, st, ctx, "c1", "proj", &models.Observation{Title: "alice-private", Narrative: "N", Visibility: models.VisibilityPrivate, Agent: "alice", CreatedAtEpoch: 1001})
	seedObservation(t, st, ctx, "c2", "proj", &models.Observation{Title: "bob-private", Narrative: "N", Visibility: models.VisibilityPrivate, Agent: "bob", CreatedAtEpoch: 1002})

	e := New(st, nil, nil)
	results, err := e.Search(ctx, Query{Project: "proj", Agent: &AgentIdentity{ID: "alice", Department: "eng"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "alice-private" {
		t.Fatalf("expected only alice's private row, got %+v", results)
	}
}

func TestSearchFiltersByType(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	seedObservation(t, st, ctx, "c1", "proj", &models.Observation{Title: "bug", Narrative: "N", Type: models.ObservationBugfix, CreatedAtEpoch: 1001})
	seedObservation(t, st, ctx, "c2", "proj", &models.Observation{Title: "feat", Narrative: "N", Type: models.ObservationFeature, CreatedAtEpoch: 1002})

	e := New(st, nil, nil)
	results, err := e.Search(ctx, Query{Project: "proj", Type: models.ObservationBugfix})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "bug" {
		t.Fatalf("expected only the bugfix row, got %+v", results)
	}
}

func TestSearchRecencyFilterExcludesOlderRows(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	seedObservation(t, st, ctx, "c1", "proj", &models.Observation{Title: "old", Narrative: "N", CreatedAtEpoch: 1000})
	seedObservation(t, st, ctx, "c2", "proj", &models.Observation{Title: "new", Narrative: "N", CreatedAtEpoch: 9_000_000})

	e := New(st, nil, func() int64 { return 9_000_000 })
	results, err := e.Search(ctx, Query{Project: "proj", RecencyDays: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "new" {
		t.Fatalf("expected recency filter to exclude the old row, got %+v", results)
	}
}

func TestSearchWithQueryTextAndNoVectorIndexReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedObservation(t, st, ctx, "c1", "proj", &models.Observation{Title: "T", Narrative: "N", CreatedAtEpoch: 1001})

	e := New(st, nil, nil)
	results, err := e.Search(ctx, Query{Project: "proj", QueryText: "anything"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results without a vector index configured, got %+v", results)
	}
}
