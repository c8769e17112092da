package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/sebastienvg/claude-mem/internal/store"
	"github.com/sebastienvg/claude-mem/pkg/models"
)

// maxTimelineScan bounds how many observations Timeline pulls per project
// set to locate the anchor's neighbors; generous for a single worker's
// scale without requiring a dedicated Store query shaped around neighbor
// counting.
const maxTimelineScan = 5000

// TimelineKind distinguishes the three entry types Timeline merges.
type TimelineKind string

const (
	TimelineObservation TimelineKind = "observation"
	TimelineSummary     TimelineKind = "summary"
	TimelineUserPrompt  TimelineKind = "user_prompt"
)

// TimelineEntry is one chronologically-ordered row in a Timeline result.
type TimelineEntry struct {
	Kind           TimelineKind
	CreatedAtEpoch int64
	Observation    *models.Observation
	Summary        *models.SessionSummary
	UserPrompt     *models.UserPrompt
}

// TimelineQuery anchors on either an observation id or a raw epoch, and
// asks for the `before`th-older and `after`th-newer observation's
// timestamps to bound the window (spec.md §4.I, Timeline paragraph).
type TimelineQuery struct {
	Project             string
	AnchorObservationID *int64
	AnchorEpoch         *int64
	Before              int
	After               int
	Agent               *AgentIdentity
}

// Timeline fetches observations, summaries, and user prompts whose
// createdAtEpoch falls in the anchor-relative window, alias-expanded and
// merged chronologically.
func (e *Engine) Timeline(ctx context.Context, q TimelineQuery) ([]TimelineEntry, error) {
	projects, err := e.expandProjects(ctx, q.Project)
	if err != nil {
		return nil, err
	}

	anchorEpoch, err := e.resolveAnchor(ctx, q)
	if err != nil {
		return nil, err
	}

	agentID, department := identityFields(q.Agent)
	all, err := e.store.QueryObservations(ctx, store.ObservationFilter{
		Projects:     projects,
		Visibilities: allowedVisibilities(),
		Agent:        agentID,
		Department:   department,
		Limit:        maxTimelineScan,
	})
	if err != nil {
		return nil, fmt.Errorf("search: timeline observations: %w", err)
	}
	// QueryObservations orders newest-first.

	fromEpoch, toEpoch := windowBounds(all, anchorEpoch, q.Before, q.After)

	var entries []TimelineEntry
	for _, o := range all {
		if o.CreatedAtEpoch >= fromEpoch && o.CreatedAtEpoch <= toEpoch {
			entries = append(entries, TimelineEntry{Kind: TimelineObservation, CreatedAtEpoch: o.CreatedAtEpoch, Observation: o})
		}
	}

	summaries, err := e.summariesInWindow(ctx, projects, fromEpoch, toEpoch)
	if err != nil {
		return nil, err
	}
	entries = append(entries, summaries...)

	prompts, err := e.userPromptsInWindow(ctx, projects, fromEpoch, toEpoch)
	if err != nil {
		return nil, err
	}
	entries = append(entries, prompts...)

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAtEpoch < entries[j].CreatedAtEpoch })
	return entries, nil
}

func (e *Engine) resolveAnchor(ctx context.Context, q TimelineQuery) (int64, error) {
	if q.AnchorObservationID != nil {
		rows, err := e.store.GetObservationsByIDs(ctx, []int64{*q.AnchorObservationID})
		if err != nil {
			return 0, fmt.Errorf("search: resolve timeline anchor: %w", err)
		}
		if len(rows) == 0 {
			return 0, fmt.Errorf("search: timeline anchor observation %d not found", *q.AnchorObservationID)
		}
		return rows[0].CreatedAtEpoch, nil
	}
	if q.AnchorEpoch != nil {
		return *q.AnchorEpoch, nil
	}
	return 0, fmt.Errorf("search: timeline query requires an anchor")
}

// windowBounds locates anchorEpoch within all (newest-first) and walks
// `before` entries older and `after` entries newer to find the window's
// bounding timestamps.
func windowBounds(all []*models.Observation, anchorEpoch int64, before, after int) (fromEpoch, toEpoch int64) {
	if len(all) == 0 {
		return anchorEpoch, anchorEpoch
	}

	idx := len(all)
	for i, o := range all {
		if o.CreatedAtEpoch <= anchorEpoch {
			idx = i
			break
		}
	}

	newerIdx := idx - after
	if newerIdx < 0 {
		newerIdx = 0
	}
	olderIdx := idx + before
	if olderIdx >= len(all) {
		olderIdx = len(all) - 1
	}
	if olderIdx < 0 {
		olderIdx = 0
	}

	toEpoch = anchorEpoch
	if newerIdx < len(all) {
		toEpoch = all[newerIdx].CreatedAtEpoch
	}
	fromEpoch = anchorEpoch
	if olderIdx >= 0 && olderIdx < len(all) {
		fromEpoch = all[olderIdx].CreatedAtEpoch
	}
	return fromEpoch, toEpoch
}

// summariesInWindow and userPromptsInWindow fall back to a Go-side epoch
// filter: Store's recency-scoped list operations take only a limit, not a
// date window (they serve RecentSummaries/session-start use cases), so
// Timeline over-fetches and filters here.
// summariesInWindow and userPromptsInWindow require a project: unlike
// QueryObservations, Store's summary/prompt listings take a single
// literal project (no multi-project IN-list), so an unscoped Timeline
// (no Project given) merges in observations only.
func (e *Engine) summariesInWindow(ctx context.Context, projects []string, fromEpoch, toEpoch int64) ([]TimelineEntry, error) {
	var entries []TimelineEntry
	for _, project := range projects {
		summaries, err := e.store.RecentSummaries(ctx, project, maxTimelineScan)
		if err != nil {
			return nil, fmt.Errorf("search: timeline summaries: %w", err)
		}
		for _, s := range summaries {
			if s.CreatedAtEpoch >= fromEpoch && s.CreatedAtEpoch <= toEpoch {
				entries = append(entries, TimelineEntry{Kind: TimelineSummary, CreatedAtEpoch: s.CreatedAtEpoch, Summary: s})
			}
		}
	}
	return entries, nil
}

func (e *Engine) userPromptsInWindow(ctx context.Context, projects []string, fromEpoch, toEpoch int64) ([]TimelineEntry, error) {
	var entries []TimelineEntry
	for _, project := range projects {
		prompts, err := e.store.ListUserPromptsForProject(ctx, project, maxTimelineScan)
		if err != nil {
			return nil, fmt.Errorf("search: timeline user prompts: %w", err)
		}
		for _, p := range prompts {
			if p.CreatedAtEpoch >= fromEpoch && p.CreatedAtEpoch <= toEpoch {
				entries = append(entries, TimelineEntry{Kind: TimelineUserPrompt, CreatedAtEpoch: p.CreatedAtEpoch, UserPrompt: p})
			}
		}
	}
	return entries, nil
}
