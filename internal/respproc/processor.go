package respproc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sebastienvg/claude-mem/internal/sessionmgr"
	"github.com/sebastienvg/claude-mem/internal/store"
	"github.com/sebastienvg/claude-mem/internal/vectorindex"
	"github.com/sebastienvg/claude-mem/pkg/models"
)

// AgentContext is the ambient visibility/ownership metadata a caller
// (HTTPRouter's ingest handlers) attaches to a pending message at enqueue
// time. ResponseProcessor has no other source for it: the tag schema
// itself carries only type/title/facts/etc, never agent or visibility
// (spec.md §3).
type AgentContext struct {
	Agent      string
	Department string
	Visibility models.Visibility
}

// Processor implements sessionmgr.Processor: parse one assistant turn and
// commit the resulting observations/summary in the same transaction that
// marks the originating PendingMessage processed (spec.md §4.G steps 1-3).
type Processor struct {
	store  store.Store
	index  *vectorindex.Index
	logger *slog.Logger

	contextFor func(sessionDbID int64) AgentContext
}

// New builds a Processor. contextFor, if non-nil, supplies the
// agent/department/visibility to stamp on each observation for a given
// session; a nil contextFor (or one returning a zero AgentContext) falls
// back to spec.md §3's defaults (legacy/default/project).
func New(st store.Store, index *vectorindex.Index, logger *slog.Logger, contextFor func(sessionDbID int64) AgentContext) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: st, index: index, logger: logger, contextFor: contextFor}
}

var _ sessionmgr.Processor = (*Processor)(nil)

func (p *Processor) Process(ctx context.Context, req sessionmgr.ProcessRequest) error {
	if req.PendingMessageID == nil {
		return fmt.Errorf("respproc: process request missing pending message id")
	}

	agentCtx := p.agentContext(req.SessionDbID)
	parsed := Parse(req.AssistantText, ParseContext{
		MemorySessionID: req.MemorySessionID,
		Project:         req.Project,
		Agent:           agentCtx.Agent,
		Department:      agentCtx.Department,
		Visibility:      agentCtx.Visibility,
		PromptNumber:    req.PromptNumber,
		BeadID:          req.BeadID,
		NowEpoch:        req.RespondedAtEpoch,
	})

	for _, warning := range parsed.Warnings {
		p.logger.Warn("respproc: skipped malformed content", "session_db_id", req.SessionDbID, "reason", warning)
	}

	distributeDiscoveryTokens(parsed.Observations, req.TokensUsed)

	ids, _, err := p.store.CommitObservations(ctx, *req.PendingMessageID, parsed.Observations, parsed.Summary, req.RespondedAtEpoch)
	if err != nil {
		return fmt.Errorf("respproc: commit observations: %w", err)
	}

	p.syncToIndex(ctx, req.Project, parsed.Observations, parsed.Summary)

	p.logger.Info("respproc: committed batch",
		"session_db_id", req.SessionDbID,
		"observations", len(ids),
		"has_summary", parsed.Summary != nil)

	return nil
}

func (p *Processor) agentContext(sessionDbID int64) AgentContext {
	if p.contextFor == nil {
		return AgentContext{}
	}
	return p.contextFor(sessionDbID)
}

// syncToIndex mirrors freshly committed rows into VectorIndex. A sync
// failure is logged, not returned: the Store state is already correct
// and complete, and EnsureBackfilled repairs the gap at next session
// start for the project (spec.md §4.G step 2).
func (p *Processor) syncToIndex(ctx context.Context, project string, observations []*models.Observation, summary *models.SessionSummary) {
	if p.index == nil {
		return
	}
	for _, obs := range observations {
		if err := p.index.SyncObservation(ctx, obs); err != nil {
			p.logger.Error("respproc: vector sync failed for observation", "project", project, "title", obs.Title, "error", err)
		}
	}
	if summary != nil {
		if err := p.index.SyncSummary(ctx, summary); err != nil {
			p.logger.Error("respproc: vector sync failed for summary", "project", project, "error", err)
		}
	}
}

// distributeDiscoveryTokens splits the round's reported token usage
// evenly across the observations it produced (spec.md §4.G step 3): each
// observation is an equally-weighted compressed fact from the same LLM
// call, so there is no finer-grained per-observation usage to attribute.
func distributeDiscoveryTokens(observations []*models.Observation, totalTokens int) {
	if len(observations) == 0 || totalTokens <= 0 {
		return
	}
	share := totalTokens / len(observations)
	remainder := totalTokens % len(observations)
	for i, obs := range observations {
		obs.DiscoveryTokens = share
		if i < remainder {
			obs.DiscoveryTokens++
		}
	}
}
