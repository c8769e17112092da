// Package httpapi is the HTTPRouter component (SPEC_FULL.md §4.H): the
// REST surface for ingest, session prompts, search, timeline, context,
// agent management, and operational endpoints. Routing follows
// internal/gateway/http_server.go's stdlib-first approach (no chi/gin/echo)
// using Go 1.22's method-pattern ServeMux, and rate limiting on the agent
// register/verify endpoints reuses internal/ratelimit.Limiter unmodified,
// keyed by remote IP instead of the teacher's per-channel keying.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sebastienvg/claude-mem/internal/agentregistry"
	"github.com/sebastienvg/claude-mem/internal/ratelimit"
	"github.com/sebastienvg/claude-mem/internal/respproc"
	"github.com/sebastienvg/claude-mem/internal/search"
	"github.com/sebastienvg/claude-mem/internal/sessionmgr"
	"github.com/sebastienvg/claude-mem/internal/store"
)

// SessionRunner is the narrow sessionmgr.Manager slice Router depends on:
// spawn the start-session algorithm for a Session, tolerating a task
// already running for it.
type SessionRunner interface {
	RunSession(ctx context.Context, sessionDbID int64, holder string) error
}

// Config wires a Router's dependencies. RemoteOrder configures
// projectidentity.Resolve's git-remote preference order for /api/context.
type Config struct {
	Store         store.Store
	Sessions      SessionRunner
	Agents        *agentregistry.Registry
	Search        *search.Engine
	RegisterLimit ratelimit.Config
	VerifyLimit   ratelimit.Config
	RemoteOrder   []string
	// SkipTools lists tool_use names that should never produce an
	// observation (spec.md §6's "skip-tools list"); ingest acks these
	// without enqueueing anything.
	SkipTools []string
	Logger    *slog.Logger
	Now       func() int64
	// ProviderReachable, if set, backs /api/readiness's LLM-reachability
	// check. llm.Provider exposes no health/ping method of its own — a
	// real call would be too costly to run on every readiness poll — so
	// the caller (cmd/claude-mem) supplies a cheap proxy (e.g. reading
	// the primary provider's circuit breaker state) instead.
	ProviderReachable func(ctx context.Context) bool
}

// Router implements HTTPRouter. Sessions is set after construction in
// practice (SetSessions), since respproc.Processor's contextFor hook is a
// Router method bound before the Processor-dependent Manager exists — see
// SetSessions's doc comment.
type Router struct {
	store    store.Store
	sessions SessionRunner
	agents   *agentregistry.Registry
	search   *search.Engine

	registerLimiter *ratelimit.Limiter
	verifyLimiter   *ratelimit.Limiter

	remoteOrder []string
	skipTools   map[string]bool
	logger      *slog.Logger
	now         func() int64

	providerReachable func(ctx context.Context) bool

	// agentContexts maps a live Session's db id to the AgentContext its
	// ingest requests authenticated with, read by respproc.Processor's
	// contextFor hook via ContextFor. Entries are set at ingest time and
	// never need eviction at worker scale: one session, one small struct.
	agentContexts sync.Map // int64 -> respproc.AgentContext

	startedAtEpoch int64
}

// New builds a Router. Call SetSessions once the sessionmgr.Manager that
// depends on this Router's ContextFor method has been constructed.
func New(cfg Config) *Router {
	now := cfg.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	skipTools := make(map[string]bool, len(cfg.SkipTools))
	for _, name := range cfg.SkipTools {
		skipTools[name] = true
	}
	return &Router{
		store:             cfg.Store,
		sessions:          cfg.Sessions,
		agents:            cfg.Agents,
		search:            cfg.Search,
		registerLimiter:   ratelimit.NewLimiter(cfg.RegisterLimit),
		verifyLimiter:     ratelimit.NewLimiter(cfg.VerifyLimit),
		remoteOrder:       cfg.RemoteOrder,
		skipTools:         skipTools,
		logger:            logger,
		now:               now,
		providerReachable: cfg.ProviderReachable,
		startedAtEpoch:    now(),
	}
}

// SetSessions wires the SessionManager after construction. respproc.New
// requires Router.ContextFor as its contextFor hook, and sessionmgr.New
// requires the resulting Processor — so the Manager necessarily comes
// into existence after the Router it will be attached to.
func (r *Router) SetSessions(sessions SessionRunner) {
	r.sessions = sessions
}

// ContextFor implements the contextFor hook respproc.New expects: the
// agent/department/visibility an ingest request authenticated with, keyed
// by the Session's db id. Sessions with no recorded context (bootstrap-mode
// ingest, or a session the router never saw authenticate) get the zero
// value, which respproc.Processor treats as spec.md §3's legacy/default/
// project defaults.
func (r *Router) ContextFor(sessionDbID int64) respproc.AgentContext {
	v, ok := r.agentContexts.Load(sessionDbID)
	if !ok {
		return respproc.AgentContext{}
	}
	return v.(respproc.AgentContext)
}

func (r *Router) rememberAgentContext(sessionDbID int64, ctx respproc.AgentContext) {
	r.agentContexts.Store(sessionDbID, ctx)
}

// Mux builds the ServeMux. Every route but /api/health, /api/agents/register
// and /api/agents/verify runs behind authenticate (spec.md §4.H).
func (r *Router) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", r.handleHealth)
	mux.HandleFunc("GET /api/readiness", r.authenticate(r.handleReadiness))
	mux.HandleFunc("GET /api/metrics", r.authenticate(r.handleMetrics))

	mux.HandleFunc("POST /api/ingest/observation", r.authenticate(r.handleIngestObservation))
	mux.HandleFunc("POST /api/ingest/summarize", r.authenticate(r.handleIngestSummarize))
	mux.HandleFunc("POST /api/session/prompt", r.authenticate(r.handleSessionPrompt))

	mux.HandleFunc("GET /api/search", r.authenticate(r.handleSearch))
	mux.HandleFunc("GET /api/get_observations", r.authenticate(r.handleGetObservations))
	mux.HandleFunc("GET /api/timeline", r.authenticate(r.handleTimeline))
	mux.HandleFunc("GET /api/context", r.authenticate(r.handleContext))

	mux.HandleFunc("POST /api/agents/register", r.rateLimited(r.registerLimiter, r.handleRegister))
	mux.HandleFunc("POST /api/agents/verify", r.rateLimited(r.verifyLimiter, r.handleVerify))
	mux.HandleFunc("GET /api/agents/me", r.authenticateRequired(r.handleMe))
	mux.HandleFunc("POST /api/agents/rotate-key", r.authenticateRequired(r.handleRotateKey))
	mux.HandleFunc("POST /api/agents/revoke", r.authenticateRequired(r.handleRevoke))

	return mux
}
