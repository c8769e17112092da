// Package search is the SearchEngine component (SPEC_FULL.md §4.I): a
// hybrid semantic + structured query over Store and VectorIndex, with
// visibility enforcement. No single teacher file grounds this directly;
// the embed-query-then-map-back-to-store-rows shape follows
// internal/rag/index/manager.go's Manager.Search, adapted from
// chunk-documents to the granular observation/summary/user-prompt
// documents VectorIndex indexes.
package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sebastienvg/claude-mem/internal/store"
	"github.com/sebastienvg/claude-mem/internal/vectorindex"
	"github.com/sebastienvg/claude-mem/pkg/models"
)

const (
	defaultLimit       = 50
	defaultAliasHops   = 50
	vectorOversampling = 4
	dayMillis          = int64(24 * 60 * 60 * 1000)
)

// AgentIdentity is the authenticated caller a query is scoped against
// (spec.md §4.I step 2). A nil *AgentIdentity models an
// unauthenticated/unknown caller: only public/project rows are visible.
type AgentIdentity struct {
	ID         string
	Department string
}

// Query is one search request.
type Query struct {
	Project     string
	QueryText   string
	Type        models.ObservationType
	Concepts    []string
	FileSubstr  string
	FromEpoch   int64
	ToEpoch     int64
	Limit       int
	RecencyDays int // 0 = unlimited, overridden by an explicit FromEpoch if later
	Agent       *AgentIdentity
}

// Engine combines Store's structured queries with VectorIndex's ranked
// queries (spec.md §4.I).
type Engine struct {
	store store.Store
	index *vectorindex.Index
	now   func() int64
}

// New builds an Engine. nowFn supplies the current epoch millis for
// recency-window computation; tests can substitute a fixed clock.
func New(st store.Store, idx *vectorindex.Index, nowFn func() int64) *Engine {
	if nowFn == nil {
		nowFn = func() int64 { return 0 }
	}
	return &Engine{store: st, index: idx, now: nowFn}
}

// Search implements spec.md §4.I's six-step search semantics.
func (e *Engine) Search(ctx context.Context, q Query) ([]*models.Observation, error) {
	projects, err := e.expandProjects(ctx, q.Project)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	fromEpoch := q.FromEpoch
	if q.RecencyDays > 0 {
		if cutoff := e.now() - int64(q.RecencyDays)*dayMillis; cutoff > fromEpoch {
			fromEpoch = cutoff
		}
	}

	var vectorOrder []int64
	if strings.TrimSpace(q.QueryText) != "" {
		vectorOrder, err = e.vectorStage(ctx, projects, q.QueryText, limit)
		if err != nil {
			return nil, fmt.Errorf("search: vector stage: %w", err)
		}
		if len(vectorOrder) == 0 {
			return nil, nil
		}
	}

	agentID, department := identityFields(q.Agent)
	filter := store.ObservationFilter{
		Projects:     projects,
		Type:         q.Type,
		Concepts:     q.Concepts,
		FileSubstr:   q.FileSubstr,
		FromEpoch:    fromEpoch,
		ToEpoch:      q.ToEpoch,
		Visibilities: allowedVisibilities(),
		Agent:        agentID,
		Department:   department,
		IDs:          vectorOrder,
		Limit:        oversample(limit),
	}

	rows, err := e.store.QueryObservations(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("search: query observations: %w", err)
	}

	if vectorOrder != nil {
		rows = reorderByID(rows, vectorOrder)
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// expandProjects applies step 1: project=P becomes project ∈
// projectsWithAliases(P). An empty project means "no project filter".
func (e *Engine) expandProjects(ctx context.Context, project string) ([]string, error) {
	if project == "" {
		return nil, nil
	}
	projects, err := e.store.ProjectsWithAliases(ctx, project, defaultAliasHops)
	if err != nil {
		return nil, fmt.Errorf("search: expand project aliases: %w", err)
	}
	if len(projects) == 0 {
		return []string{project}, nil
	}
	return projects, nil
}

// allowedVisibilities passes every literal through to the Store: the
// Store's own visibility clause conditions department/private rows on
// ObservationFilter.Department/Agent (store.SQLiteStore.QueryObservations),
// so there is nothing further for SearchEngine to narrow here.
func allowedVisibilities() []models.Visibility {
	return []models.Visibility{
		models.VisibilityPublic,
		models.VisibilityProject,
		models.VisibilityDepartment,
		models.VisibilityPrivate,
	}
}

func identityFields(a *AgentIdentity) (agent, department string) {
	if a == nil {
		return "", ""
	}
	return a.ID, a.Department
}

// vectorStage implements step 3: query every alias-expanded project's
// collection, keep the best (lowest) distance per owning sqlite_id across
// duplicate fact/narrative documents, and return ids ranked by distance.
func (e *Engine) vectorStage(ctx context.Context, projects []string, queryText string, limit int) ([]int64, error) {
	if e.index == nil {
		return nil, nil
	}
	searchProjects := projects
	if len(searchProjects) == 0 {
		return nil, fmt.Errorf("search: query text requires a project")
	}

	best := make(map[int64]float64)
	order := make([]int64, 0, limit)
	where := map[string]string{"doc_type": string(vectorindex.DocObservation)}

	for _, project := range searchProjects {
		matches, err := e.index.Query(ctx, project, queryText, oversample(limit), where)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			idStr, ok := m.Metadata["sqlite_id"]
			if !ok {
				continue
			}
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				continue
			}
			prev, seen := best[id]
			if !seen {
				order = append(order, id)
				best[id] = m.Distance
			} else if m.Distance < prev {
				best[id] = m.Distance
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return best[order[i]] < best[order[j]] })
	if len(order) > oversample(limit) {
		order = order[:oversample(limit)]
	}
	return order, nil
}

// reorderByID re-sequences rows (an unordered Store result) into
// vectorOrder, dropping ids the structured stage excluded (step 4:
// intersect by id, preserving vector order).
func reorderByID(rows []*models.Observation, vectorOrder []int64) []*models.Observation {
	byID := make(map[int64]*models.Observation, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	ordered := make([]*models.Observation, 0, len(rows))
	for _, id := range vectorOrder {
		if r, ok := byID[id]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered
}

func oversample(limit int) int {
	return limit * vectorOversampling
}
