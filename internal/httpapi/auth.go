package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/sebastienvg/claude-mem/internal/agentregistry"
	"github.com/sebastienvg/claude-mem/internal/ratelimit"
	"github.com/sebastienvg/claude-mem/internal/search"
	"github.com/sebastienvg/claude-mem/pkg/models"
)

type agentCtxKey struct{}

// withAgent attaches the authenticated agent to a request context;
// grounded on internal/web/middleware.go's auth.WithUser context-injection
// pattern.
func withAgent(ctx context.Context, a *models.Agent) context.Context {
	return context.WithValue(ctx, agentCtxKey{}, a)
}

// agentFromContext returns the authenticated agent, or nil for an
// unauthenticated (bootstrap-mode) request.
func agentFromContext(ctx context.Context) *models.Agent {
	a, _ := ctx.Value(agentCtxKey{}).(*models.Agent)
	return a
}

// authenticate verifies a Bearer token when present; when absent, it
// admits the request unauthenticated only in bootstrap mode (no agents
// registered yet) from a loopback address, per spec.md §4.H. A present
// but invalid/expired/locked token always fails closed.
func (r *Router) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		authHeader := req.Header.Get("Authorization")
		if authHeader != "" {
			agent, err := r.verifyBearer(req)
			if err != nil {
				writeAuthError(w, err)
				return
			}
			next(w, req.WithContext(withAgent(req.Context(), agent)))
			return
		}

		if r.bootstrapAllowed(req) {
			next(w, req)
			return
		}
		writeError(w, http.StatusUnauthorized, "authorization required")
	}
}

// authenticateRequired is authenticate without the bootstrap exemption:
// GET /api/agents/me, rotate-key, and revoke always need a caller
// identity (spec.md §4.H).
func (r *Router) authenticateRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		agent, err := r.verifyBearer(req)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next(w, req.WithContext(withAgent(req.Context(), agent)))
	}
}

func (r *Router) verifyBearer(req *http.Request) (*models.Agent, error) {
	header := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, agentregistry.ErrInvalidKey
	}
	key := strings.TrimSpace(header[len(prefix):])
	return r.agents.Verify(req.Context(), key)
}

// bootstrapAllowed implements the "unauthenticated access is permitted to
// loopback for local ingest when no agents are registered" clause: an
// operator running the worker for the first time, before provisioning any
// agent, can still drive it from the same host.
func (r *Router) bootstrapAllowed(req *http.Request) bool {
	if !isLoopback(req.RemoteAddr) {
		return false
	}
	hasAgents, err := r.store.HasAnyAgents(req.Context())
	if err != nil {
		r.logger.Error("httpapi: bootstrap check failed", "error", err)
		return false
	}
	return !hasAgents
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeAuthError(w http.ResponseWriter, err error) {
	var locked *agentregistry.AgentLocked
	switch {
	case errors.As(err, &locked):
		writeError(w, http.StatusTooManyRequests, "agent is locked out")
	case errors.Is(err, agentregistry.ErrExpired):
		writeError(w, http.StatusUnauthorized, "api key expired")
	default:
		writeError(w, http.StatusUnauthorized, "invalid api key")
	}
}

// rateLimited applies a per-remote-IP token bucket ahead of next,
// grounded on internal/ratelimit.Limiter's existing key-based Allow.
func (r *Router) rateLimited(limiter *ratelimit.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		key := remoteIP(req)
		if !limiter.Allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

func remoteIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// agentIdentity translates the authenticated agent (if any) into
// search.AgentIdentity for SearchEngine queries.
func agentIdentity(ctx context.Context) *search.AgentIdentity {
	a := agentFromContext(ctx)
	if a == nil {
		return nil
	}
	return &search.AgentIdentity{ID: a.ID, Department: a.Department}
}
