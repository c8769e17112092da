package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sebastienvg/claude-mem/internal/projectidentity"
	"github.com/sebastienvg/claude-mem/internal/search"
	"github.com/sebastienvg/claude-mem/pkg/models"
)

// handleSearch implements GET /api/search, translating query parameters
// into search.Query and scoping the result to the caller's AgentIdentity.
func (r *Router) handleSearch(w http.ResponseWriter, req *http.Request) {
	qs := req.URL.Query()
	q := search.Query{
		Project:     qs.Get("project"),
		QueryText:   qs.Get("q"),
		Type:        models.ObservationType(qs.Get("type")),
		FileSubstr:  qs.Get("file"),
		Concepts:    splitCSV(qs.Get("concepts")),
		Limit:       parseIntDefault(qs.Get("limit"), 0),
		RecencyDays: parseIntDefault(qs.Get("recencyDays"), 0),
		FromEpoch:   parseInt64Default(qs.Get("from"), 0),
		ToEpoch:     parseInt64Default(qs.Get("to"), 0),
		Agent:       agentIdentity(req.Context()),
	}

	rows, err := r.search.Search(req.Context(), q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": rows})
}

// handleGetObservations implements GET /api/get_observations?ids=1,2,3.
func (r *Router) handleGetObservations(w http.ResponseWriter, req *http.Request) {
	ids := parseInt64CSV(req.URL.Query().Get("ids"))
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}
	rows, err := r.store.GetObservationsByIDs(req.Context(), ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": rows})
}

// handleTimeline implements GET /api/timeline. around identifies the
// anchor: it is tried first as an observation id (the common case, a
// search result's id), and only parsed as a raw epoch millis value if no
// observation with that id exists, since both are plain integers on the
// wire and spec.md does not distinguish them syntactically.
func (r *Router) handleTimeline(w http.ResponseWriter, req *http.Request) {
	qs := req.URL.Query()
	around, err := strconv.ParseInt(qs.Get("around"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "around is required and must be an integer")
		return
	}

	tq := search.TimelineQuery{
		Project: qs.Get("project"),
		Before:  parseIntDefault(qs.Get("before"), 10),
		After:   parseIntDefault(qs.Get("after"), 10),
		Agent:   agentIdentity(req.Context()),
	}

	if rows, err := r.store.GetObservationsByIDs(req.Context(), []int64{around}); err == nil && len(rows) > 0 {
		tq.AnchorObservationID = &around
	} else {
		tq.AnchorEpoch = &around
	}

	entries, err := r.search.Timeline(req.Context(), tq)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleContext implements GET /api/context: resolves project from cwd
// when project isn't given directly, then renders the session-start
// context block.
func (r *Router) handleContext(w http.ResponseWriter, req *http.Request) {
	qs := req.URL.Query()
	project := qs.Get("project")
	if project == "" {
		if cwd := qs.Get("cwd"); cwd != "" {
			project = projectidentity.Resolve(req.Context(), cwd, r.remoteOrder)
		}
	}
	if project == "" {
		writeError(w, http.StatusBadRequest, "project or cwd is required")
		return
	}

	var types []models.ObservationType
	for _, t := range splitCSV(qs.Get("types")) {
		types = append(types, models.ObservationType(t))
	}

	block, err := r.search.ContextBlock(req.Context(), search.ContextBlockQuery{
		Project:         project,
		Types:           types,
		Concepts:        splitCSV(qs.Get("concepts")),
		RecentObsLimit:  parseIntDefault(qs.Get("limit"), 0),
		RecentSummaries: parseIntDefault(qs.Get("summaries"), 0),
		Agent:           agentIdentity(req.Context()),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"context": block})
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64CSV(s string) []int64 {
	var out []int64
	for _, p := range splitCSV(s) {
		id, err := strconv.ParseInt(p, 10, 64)
		if err == nil {
			out = append(out, id)
		}
	}
	return out
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func parseInt64Default(s string, def int64) int64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}
