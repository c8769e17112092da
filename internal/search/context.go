package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/sebastienvg/claude-mem/internal/store"
	"github.com/sebastienvg/claude-mem/pkg/models"
)

// ContextBlockQuery parameterizes session-start context injection
// (spec.md §4.I, Context block generation paragraph).
type ContextBlockQuery struct {
	Project         string
	Types           []models.ObservationType // empty means every configured type
	Concepts        []string                 // empty means no concept restriction
	RecentObsLimit  int                      // N
	RecentSummaries int                      // K
	Agent           *AgentIdentity
}

// ContextBlock renders (a) the N most recent observations matching the
// configured type/concept vocabulary, (b) up to K recent summaries, and
// (c) the last user prompt into a compact textual form for prompt
// injection. Rendering is deterministic given the inputs.
func (e *Engine) ContextBlock(ctx context.Context, q ContextBlockQuery) (string, error) {
	projects, err := e.expandProjects(ctx, q.Project)
	if err != nil {
		return "", err
	}

	obsLimit := q.RecentObsLimit
	if obsLimit <= 0 {
		obsLimit = 10
	}
	summaryLimit := q.RecentSummaries
	if summaryLimit <= 0 {
		summaryLimit = 3
	}

	agentID, department := identityFields(q.Agent)
	observations, err := e.recentObservationsForContext(ctx, projects, q.Types, q.Concepts, agentID, department, obsLimit)
	if err != nil {
		return "", err
	}

	var summaries []*models.SessionSummary
	for _, project := range projects {
		s, err := e.store.RecentSummaries(ctx, project, summaryLimit)
		if err != nil {
			return "", fmt.Errorf("search: context summaries: %w", err)
		}
		summaries = append(summaries, s...)
	}
	if len(summaries) > summaryLimit {
		summaries = summaries[:summaryLimit]
	}

	var lastPrompt *models.UserPrompt
	for _, project := range projects {
		prompts, err := e.store.ListUserPromptsForProject(ctx, project, maxTimelineScan)
		if err != nil {
			return "", fmt.Errorf("search: context user prompts: %w", err)
		}
		for _, p := range prompts {
			if lastPrompt == nil || p.CreatedAtEpoch > lastPrompt.CreatedAtEpoch {
				lastPrompt = p
			}
		}
	}

	return renderContextBlock(observations, summaries, lastPrompt), nil
}

func (e *Engine) recentObservationsForContext(ctx context.Context, projects []string, types []models.ObservationType, concepts []string, agentID, department string, limit int) ([]*models.Observation, error) {
	if len(types) == 0 {
		return e.store.QueryObservations(ctx, store.ObservationFilter{
			Projects:     projects,
			Concepts:     concepts,
			Visibilities: allowedVisibilities(),
			Agent:        agentID,
			Department:   department,
			Limit:        limit,
		})
	}

	var out []*models.Observation
	for _, t := range types {
		rows, err := e.store.QueryObservations(ctx, store.ObservationFilter{
			Projects:     projects,
			Type:         t,
			Concepts:     concepts,
			Visibilities: allowedVisibilities(),
			Agent:        agentID,
			Department:   department,
			Limit:        limit,
		})
		if err != nil {
			return nil, fmt.Errorf("search: context observations: %w", err)
		}
		out = append(out, rows...)
	}
	sortObservationsNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortObservationsNewestFirst(obs []*models.Observation) {
	for i := 1; i < len(obs); i++ {
		for j := i; j > 0 && obs[j].CreatedAtEpoch > obs[j-1].CreatedAtEpoch; j-- {
			obs[j], obs[j-1] = obs[j-1], obs[j]
		}
	}
}

func renderContextBlock(observations []*models.Observation, summaries []*models.SessionSummary, lastPrompt *models.UserPrompt) string {
	var b strings.Builder

	b.WriteString("# Memory context\n\n")

	if len(summaries) > 0 {
		b.WriteString("## Recent summaries\n")
		for _, s := range summaries {
			writeSummaryLine(&b, s)
		}
		b.WriteString("\n")
	}

	if len(observations) > 0 {
		b.WriteString("## Recent observations\n")
		for _, o := range observations {
			writeObservationLine(&b, o)
		}
		b.WriteString("\n")
	}

	if lastPrompt != nil {
		b.WriteString("## Last user prompt\n")
		b.WriteString(lastPrompt.PromptText)
		b.WriteString("\n")
	}

	return b.String()
}

func writeObservationLine(b *strings.Builder, o *models.Observation) {
	fmt.Fprintf(b, "- [%s] %s: %s", o.Type, o.Title, o.Narrative)
	if len(o.Concepts) > 0 {
		fmt.Fprintf(b, " (concepts: %s)", strings.Join(o.Concepts, ", "))
	}
	b.WriteString("\n")
}

func writeSummaryLine(b *strings.Builder, s *models.SessionSummary) {
	b.WriteString("- ")
	wrote := false
	for _, field := range []*string{s.Request, s.Completed, s.NextSteps} {
		if field != nil && *field != "" {
			if wrote {
				b.WriteString(" | ")
			}
			b.WriteString(*field)
			wrote = true
		}
	}
	if !wrote {
		b.WriteString("(no summary fields set)")
	}
	b.WriteString("\n")
}
