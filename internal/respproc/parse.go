package respproc

import (
	"fmt"
	"strings"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// ParseContext supplies the ambient metadata the tag schema itself never
// carries (spec.md §3: agent/department/visibility default from session
// and agent context, not from LLM output).
type ParseContext struct {
	MemorySessionID string
	Project         string
	Agent           string
	Department      string
	Visibility      models.Visibility
	PromptNumber    *int
	BeadID          *string
	NowEpoch        int64
}

func (c ParseContext) withDefaults() ParseContext {
	if c.Agent == "" {
		c.Agent = models.DefaultAgent
	}
	if c.Department == "" {
		c.Department = models.DefaultDepartment
	}
	if c.Visibility == "" {
		c.Visibility = models.DefaultVisibility
	}
	return c
}

// ParseResult is one assistant turn's parsed batch: zero or more
// observations, at most one summary, and any non-fatal warnings about
// content that was skipped.
type ParseResult struct {
	Observations []*models.Observation
	Summary      *models.SessionSummary
	Warnings     []string
}

// Parse extracts observations and an optional summary from assistant
// text, per spec.md §4.G's tag schema. Malformed observations are
// skipped with a warning rather than aborting the batch; the same
// applies to a malformed summary.
func Parse(text string, ctx ParseContext) ParseResult {
	ctx = ctx.withDefaults()
	text = stripPrivate(text)

	var result ParseResult

	for _, mem := range findTags(text, "memory") {
		for _, obsMatch := range findTags(mem.content, "observation") {
			obs, warning := parseObservation(obsMatch, ctx)
			if obs != nil {
				result.Observations = append(result.Observations, obs)
			}
			if warning != "" {
				result.Warnings = append(result.Warnings, warning)
			}
		}
	}

	if summaryContent, ok := firstTag(text, "summary"); ok {
		result.Summary = parseSummary(summaryContent, ctx)
	}

	return result
}

func parseObservation(m tagMatch, ctx ParseContext) (*models.Observation, string) {
	obsType, _ := attrValue(m.attrs, "type")
	obsType = strings.TrimSpace(obsType)
	if obsType == "" {
		return nil, "skipped observation: missing type attribute"
	}

	title, ok := firstTag(m.content, "title")
	if !ok || title == "" {
		return nil, fmt.Sprintf("skipped %s observation: missing title", obsType)
	}

	narrative, ok := firstTag(m.content, "narrative")
	if !ok || narrative == "" {
		return nil, fmt.Sprintf("skipped %s observation %q: missing narrative", obsType, title)
	}

	obs := &models.Observation{
		MemorySessionID: ctx.MemorySessionID,
		Project:         ctx.Project,
		Type:            models.ObservationType(obsType),
		Title:           title,
		Narrative:       narrative,
		Facts:           allTags(m.content, "fact"),
		Concepts:        allTags(m.content, "concept"),
		FilesRead:       allTags(m.content, "file_read"),
		FilesModified:   allTags(m.content, "file_modified"),
		PromptNumber:    ctx.PromptNumber,
		CreatedAtEpoch:  ctx.NowEpoch,
		BeadID:          ctx.BeadID,
		Agent:           ctx.Agent,
		Department:      ctx.Department,
		Visibility:      ctx.Visibility,
	}
	if subtitle, ok := firstTag(m.content, "subtitle"); ok && subtitle != "" {
		obs.Subtitle = &subtitle
	}
	return obs, ""
}

func parseSummary(content string, ctx ParseContext) *models.SessionSummary {
	summary := &models.SessionSummary{
		MemorySessionID: ctx.MemorySessionID,
		Project:         ctx.Project,
		CreatedAtEpoch:  ctx.NowEpoch,
		Agent:           ctx.Agent,
		Department:      ctx.Department,
		Visibility:      ctx.Visibility,
	}

	assignField := func(tag string, dst **string) {
		if v, ok := firstTag(content, tag); ok && v != "" {
			*dst = &v
		}
	}
	assignField("request", &summary.Request)
	assignField("investigated", &summary.Investigated)
	assignField("learned", &summary.Learned)
	assignField("completed", &summary.Completed)
	assignField("next_steps", &summary.NextSteps)
	assignField("notes", &summary.Notes)

	return summary
}
