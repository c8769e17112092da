package vectorindex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sebastienvg/claude-mem/internal/store"
	"github.com/sebastienvg/claude-mem/pkg/models"
)

// Mode selects which Backend (if any) an Index wraps, mirroring
// internal/memory/manager.go's Config.Backend string-switch pattern
// ("sqlite-vec" / "pgvector" / "lancedb" there; embedded/http/disabled
// here).
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeHTTP     Mode = "http"
	ModeEmbedded Mode = "embedded"
	ModeDisabled Mode = "disabled"
)

const backfillBatchSize = 100

// Index is the VectorIndex component: a Backend selected at startup plus
// the diff-aware backfill logic that reconciles it against the Store.
// When mode is disabled all operations are no-ops returning empty, per
// spec.md §4.B.
type Index struct {
	backend Backend
	mode    Mode
	store   store.Store
	logger  *slog.Logger
}

// Config selects and constructs the backend per mode. For ModeAuto, http
// is preferred when an HTTPConfig.DSN is set, falling back to embedded —
// never silently disabled, since spec.md §9 resolves that open question
// as "fail loud unless mode=auto at startup."
type Config struct {
	Mode     Mode
	HTTP     HTTPConfig
	Embedded EmbeddedConfig
}

func New(ctx context.Context, cfg Config, st store.Store, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx := &Index{mode: cfg.Mode, store: st, logger: logger}

	switch cfg.Mode {
	case ModeDisabled:
		return idx, nil
	case ModeHTTP:
		b, err := NewHTTP(ctx, cfg.HTTP)
		if err != nil {
			return nil, fmt.Errorf("vectorindex: http backend: %w", err)
		}
		idx.backend = b
		return idx, nil
	case ModeEmbedded:
		b, err := NewEmbedded(ctx, cfg.Embedded)
		if err != nil {
			return nil, fmt.Errorf("vectorindex: embedded backend: %w", err)
		}
		idx.backend = b
		return idx, nil
	case ModeAuto, "":
		if cfg.HTTP.DSN != "" {
			b, err := NewHTTP(ctx, cfg.HTTP)
			if err != nil {
				return nil, fmt.Errorf("vectorindex: auto-mode http backend: %w", err)
			}
			idx.backend = b
			idx.mode = ModeHTTP
			return idx, nil
		}
		b, err := NewEmbedded(ctx, cfg.Embedded)
		if err != nil {
			return nil, fmt.Errorf("vectorindex: auto-mode embedded backend: %w", err)
		}
		idx.backend = b
		idx.mode = ModeEmbedded
		return idx, nil
	default:
		return nil, fmt.Errorf("vectorindex: unknown mode %q", cfg.Mode)
	}
}

func (x *Index) disabled() bool { return x.mode == ModeDisabled || x.backend == nil }

func (x *Index) EnsureCollection(ctx context.Context, project string) error {
	if x.disabled() {
		return nil
	}
	return x.backend.EnsureCollection(ctx, project)
}

func (x *Index) AddDocuments(ctx context.Context, docs []Document) error {
	if x.disabled() {
		return nil
	}
	return x.backend.AddDocuments(ctx, docs)
}

func (x *Index) Query(ctx context.Context, project, queryText string, limit int, where map[string]string) ([]Match, error) {
	if x.disabled() {
		return nil, nil
	}
	return x.backend.Query(ctx, project, queryText, limit, where)
}

func (x *Index) ListDocumentIDs(ctx context.Context, project string, pageSize int) ([]string, error) {
	if x.disabled() {
		return nil, nil
	}
	return x.backend.ListDocumentIDs(ctx, project, pageSize)
}

func (x *Index) Close() error {
	if x.disabled() {
		return nil
	}
	return x.backend.Close()
}

// SyncObservation forms and adds the granular documents for one freshly
// committed observation. Called synchronously by ResponseProcessor
// (spec.md §4.G step 2); on error the caller logs and leaves repair to
// the next EnsureBackfilled at session start.
func (x *Index) SyncObservation(ctx context.Context, o *models.Observation) error {
	if x.disabled() {
		return nil
	}
	if err := x.EnsureCollection(ctx, o.Project); err != nil {
		return err
	}
	return x.AddDocuments(ctx, DocumentsForObservation(o))
}

func (x *Index) SyncSummary(ctx context.Context, s *models.SessionSummary) error {
	if x.disabled() {
		return nil
	}
	if err := x.EnsureCollection(ctx, s.Project); err != nil {
		return err
	}
	return x.AddDocuments(ctx, DocumentsForSummary(s))
}

func (x *Index) SyncUserPrompt(ctx context.Context, p *models.UserPrompt, project string) error {
	if x.disabled() {
		return nil
	}
	if err := x.EnsureCollection(ctx, project); err != nil {
		return err
	}
	return x.AddDocuments(ctx, []Document{DocumentForUserPrompt(p, project)})
}

// EnsureBackfilled reconciles project's vector documents against the
// Store (spec.md §4.B Backfill): it enumerates existing sqlite_ids from
// the collection, partitions them by doc_type, selects Store rows whose
// ids are absent from the matching set, and emits documents for those in
// batches of 100. A failure mid-backfill is fatal and aborts the whole
// operation — no partial silent acceptance.
func (x *Index) EnsureBackfilled(ctx context.Context, project string) error {
	if x.disabled() {
		return nil
	}
	if err := x.EnsureCollection(ctx, project); err != nil {
		return fmt.Errorf("vectorindex: ensure collection for backfill: %w", err)
	}

	existingIDs, err := x.ListDocumentIDs(ctx, project, 0)
	if err != nil {
		return fmt.Errorf("vectorindex: list existing documents: %w", err)
	}
	seenObservation := map[int64]bool{}
	seenSummary := map[int64]bool{}
	seenPrompt := map[int64]bool{}
	for _, id := range existingIDs {
		owning, err := ParseDocID(id)
		if err != nil {
			x.logger.Warn("vectorindex: skipping unrecognized document id during backfill", "id", id, "error", err)
			continue
		}
		switch owning.DocType {
		case DocObservation:
			seenObservation[owning.SqliteID] = true
		case DocSessionSummary:
			seenSummary[owning.SqliteID] = true
		case DocUserPrompt:
			seenPrompt[owning.SqliteID] = true
		}
	}

	var pending []Document

	observations, err := x.store.QueryObservations(ctx, store.ObservationFilter{Projects: []string{project}, Limit: 100000})
	if err != nil {
		return fmt.Errorf("vectorindex: list observations for backfill: %w", err)
	}
	for _, o := range observations {
		if seenObservation[o.ID] {
			continue
		}
		pending = append(pending, DocumentsForObservation(o)...)
	}

	summaries, err := x.store.RecentSummaries(ctx, project, 100000)
	if err != nil {
		return fmt.Errorf("vectorindex: list summaries for backfill: %w", err)
	}
	for _, s := range summaries {
		if seenSummary[s.ID] {
			continue
		}
		pending = append(pending, DocumentsForSummary(s)...)
	}

	prompts, err := x.store.ListUserPromptsForProject(ctx, project, 100000)
	if err != nil {
		return fmt.Errorf("vectorindex: list prompts for backfill: %w", err)
	}
	for _, p := range prompts {
		if seenPrompt[p.ID] {
			continue
		}
		pending = append(pending, DocumentForUserPrompt(p, project))
	}

	for start := 0; start < len(pending); start += backfillBatchSize {
		end := start + backfillBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := x.AddDocuments(ctx, pending[start:end]); err != nil {
			return fmt.Errorf("vectorindex: backfill batch [%d:%d): %w", start, end, err)
		}
	}
	x.logger.Info("vectorindex: backfill complete", "project", project, "documents", len(pending))
	return nil
}
