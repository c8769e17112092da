package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sebastienvg/claude-mem/internal/agentregistry"
	"github.com/sebastienvg/claude-mem/internal/ratelimit"
	"github.com/sebastienvg/claude-mem/internal/search"
	"github.com/sebastienvg/claude-mem/internal/sessionmgr"
	"github.com/sebastienvg/claude-mem/internal/store"
)

type fakeSessionRunner struct{ calls int }

func (f *fakeSessionRunner) RunSession(ctx context.Context, sessionDbID int64, holder string) error {
	f.calls++
	return sessionmgr.ErrAlreadyRunning
}

func newTestRouter(t *testing.T) (*Router, *store.SQLiteStore) {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	agents := agentregistry.New(st, agentregistry.Config{})
	engine := search.New(st, nil, func() int64 { return 1000 })

	r := New(Config{
		Store:         st,
		Sessions:      &fakeSessionRunner{},
		Agents:        agents,
		Search:        engine,
		RegisterLimit: ratelimit.Config{Enabled: true, RequestsPerSecond: 2, BurstSize: 2},
		VerifyLimit:   ratelimit.Config{Enabled: true, RequestsPerSecond: 2, BurstSize: 2},
		Now:           func() int64 { return 1000 },
	})
	return r, st
}

func TestHealthIsAlwaysOpen(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	r.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestBootstrapAllowsLoopbackIngestBeforeAnyAgent(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)

	body, _ := json.Marshal(map[string]string{
		"contentSessionId": "sess-1",
		"project":          "demo",
		"toolName":         "Read",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/observation", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	r.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
}

func TestIngestObservationSkipsConfiguredTools(t *testing.T) {
	t.Parallel()
	st, err := store.Open(context.Background(), store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	agents := agentregistry.New(st, agentregistry.Config{})
	engine := search.New(st, nil, func() int64 { return 1000 })
	r := New(Config{
		Store:         st,
		Sessions:      &fakeSessionRunner{},
		Agents:        agents,
		Search:        engine,
		RegisterLimit: ratelimit.Config{Enabled: true, RequestsPerSecond: 2, BurstSize: 2},
		VerifyLimit:   ratelimit.Config{Enabled: true, RequestsPerSecond: 2, BurstSize: 2},
		SkipTools:     []string{"Read"},
		Now:           func() int64 { return 1000 },
	})

	body, _ := json.Marshal(map[string]string{
		"contentSessionId": "sess-1",
		"project":          "demo",
		"toolName":         "Read",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/observation", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	r.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if skipped, _ := resp["skipped"].(bool); !skipped {
		t.Fatalf("response = %v, want skipped=true", resp)
	}

	sessions, err := st.ListSessions(context.Background(), store.ListOptions{Project: "demo"})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no session to be created for a skipped tool, got %d", len(sessions))
	}
}

func TestBootstrapDeniesNonLoopback(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/search?project=demo", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	rec := httptest.NewRecorder()
	r.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestBootstrapClosesOnceAnAgentExists(t *testing.T) {
	t.Parallel()
	r, st := newTestRouter(t)

	if _, _, err := r.agents.Register(context.Background(), "svc@host", "eng", "read,write", nil, nil, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	_ = st

	req := httptest.NewRequest(http.MethodGet, "/api/search?project=demo", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	r.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 once an agent is registered", rec.Code)
	}
}

func TestRegisterThenVerify(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)

	registerBody, _ := json.Marshal(map[string]string{
		"id":          "svc@host",
		"department":  "eng",
		"permissions": "read,write",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/agents/register", bytes.NewReader(registerBody))
	req.RemoteAddr = "198.51.100.1:1"
	rec := httptest.NewRecorder()
	r.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}

	var registerResp struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &registerResp); err != nil {
		t.Fatalf("unmarshal register response: %v", err)
	}
	if registerResp.APIKey == "" {
		t.Fatalf("expected a non-empty issued api key")
	}

	verifyBody, _ := json.Marshal(map[string]string{"apiKey": registerResp.APIKey})
	req2 := httptest.NewRequest(http.MethodPost, "/api/agents/verify", bytes.NewReader(verifyBody))
	req2.RemoteAddr = "198.51.100.1:1"
	rec2 := httptest.NewRecorder()
	r.Mux().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("verify status = %d, want 200, body=%s", rec2.Code, rec2.Body.String())
	}
}

func TestMeRequiresBearerEvenDuringBootstrap(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/agents/me", nil)
	req.RemoteAddr = "127.0.0.1:1"
	rec := httptest.NewRecorder()
	r.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401: /api/agents/me never exempts loopback bootstrap", rec.Code)
	}
}

func TestRegisterIsRateLimited(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)

	body, _ := json.Marshal(map[string]string{
		"id":          "spammy@host",
		"department":  "eng",
		"permissions": "read",
	})

	var lastCode int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/agents/register", bytes.NewReader(body))
		req.RemoteAddr = "198.51.100.9:1"
		rec := httptest.NewRecorder()
		r.Mux().ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("final status = %d, want 429 after exceeding the burst", lastCode)
	}
}

func TestMetricsReflectsStoreStats(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	req.RemoteAddr = "127.0.0.1:1"
	rec := httptest.NewRecorder()
	r.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var stats store.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.AgentsTotal != 0 {
		t.Fatalf("AgentsTotal = %d, want 0 on a fresh store", stats.AgentsTotal)
	}
}

func TestSessionPromptIncrementsCounter(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(t)

	body, _ := json.Marshal(map[string]string{
		"contentSessionId": "sess-prompt",
		"promptText":       "fix the bug",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/session/prompt", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:1"
	rec := httptest.NewRecorder()
	r.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		PromptNumber int `json:"promptNumber"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.PromptNumber != 1 {
		t.Fatalf("promptNumber = %d, want 1", resp.PromptNumber)
	}
}
