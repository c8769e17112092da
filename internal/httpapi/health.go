package httpapi

import (
	"net/http"
)

// handleHealth implements GET /api/health: a liveness probe with no
// dependency checks, always 200 once the process is serving.
func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"started": r.startedAtEpoch,
		"now":     r.now(),
	})
}

// handleReadiness implements GET /api/readiness: migrations must be
// applied cleanly, and if a ProviderReachable probe was configured, the
// primary LLM provider must currently answer it (spec.md §4.H).
func (r *Router) handleReadiness(w http.ResponseWriter, req *http.Request) {
	clean, err := r.store.MigrationsClean(req.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "migrations check failed")
		return
	}
	if !clean {
		writeError(w, http.StatusServiceUnavailable, "migrations not applied")
		return
	}
	if r.providerReachable != nil && !r.providerReachable(req.Context()) {
		writeError(w, http.StatusServiceUnavailable, "llm provider unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleMetrics implements GET /api/metrics: the aggregate operational
// snapshot from Store.Stats.
func (r *Router) handleMetrics(w http.ResponseWriter, req *http.Request) {
	stats, err := r.store.Stats(req.Context(), r.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
