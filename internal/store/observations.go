package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// CommitObservations is the atomic commit path used by ResponseProcessor
// (SPEC_FULL.md §4.G): in one transaction it inserts N observations, 0..1
// summary, and transitions the originating PendingMessage from
// processing to processed. Readers never see a session's new summary
// without its accompanying observations for the same promptNumber
// because all three writes share a transaction.
func (s *SQLiteStore) CommitObservations(ctx context.Context, pendingMessageID int64, observations []*models.Observation, summary *models.SessionSummary, completedAtEpoch int64) ([]int64, *int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("store: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var obsIDs []int64
	for _, o := range observations {
		if !models.ValidVisibility(o.Visibility) {
			return nil, nil, ErrInvalidVisibility
		}
		if !validObservationType(o.Type) {
			return nil, nil, ErrInvalidObservation
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO observations (
				memory_session_id, project, type, title, subtitle, narrative, facts, concepts,
				files_read, files_modified, prompt_number, discovery_tokens, created_at_epoch,
				bead_id, agent, department, visibility
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, o.MemorySessionID, o.Project, string(o.Type), o.Title, nullString(o.Subtitle), o.Narrative,
			encodeStrings(o.Facts), encodeStrings(o.Concepts), encodeStrings(o.FilesRead), encodeStrings(o.FilesModified),
			nullInt(o.PromptNumber), o.DiscoveryTokens, o.CreatedAtEpoch, nullString(o.BeadID),
			o.Agent, o.Department, string(o.Visibility))
		if err != nil {
			return nil, nil, fmt.Errorf("store: insert observation: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, nil, fmt.Errorf("store: insert observation: %w", err)
		}
		o.ID = id
		obsIDs = append(obsIDs, id)
	}

	var summaryID *int64
	if summary != nil {
		if !models.ValidVisibility(summary.Visibility) {
			return nil, nil, ErrInvalidVisibility
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO session_summaries (
				memory_session_id, project, request, investigated, learned, completed, next_steps, notes,
				created_at_epoch, agent, department, visibility
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, summary.MemorySessionID, summary.Project, nullString(summary.Request), nullString(summary.Investigated),
			nullString(summary.Learned), nullString(summary.Completed), nullString(summary.NextSteps), nullString(summary.Notes),
			summary.CreatedAtEpoch, summary.Agent, summary.Department, string(summary.Visibility))
		if err != nil {
			return nil, nil, fmt.Errorf("store: insert summary: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, nil, fmt.Errorf("store: insert summary: %w", err)
		}
		summary.ID = id
		summaryID = &id
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE pending_messages
		SET status = 'processed', completed_at_epoch = ?, tool_input = NULL, tool_response = NULL
		WHERE id = ? AND status = 'processing'
	`, completedAtEpoch, pendingMessageID)
	if err != nil {
		return nil, nil, fmt.Errorf("store: mark processed: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, nil, fmt.Errorf("store: mark processed: %w", err)
	} else if affected == 0 {
		return nil, nil, fmt.Errorf("store: pending message %d was not in processing state", pendingMessageID)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("store: commit observations: %w", err)
	}
	return obsIDs, summaryID, nil
}

func validObservationType(t models.ObservationType) bool {
	switch t {
	case models.ObservationDecision, models.ObservationBugfix, models.ObservationFeature,
		models.ObservationRefactor, models.ObservationDiscovery, models.ObservationChange:
		return true
	default:
		return false
	}
}

const observationSelectColumns = `
	id, memory_session_id, project, type, title, subtitle, narrative, facts, concepts,
	files_read, files_modified, prompt_number, discovery_tokens, created_at_epoch,
	bead_id, agent, department, visibility
`

func scanObservationRows(rows *sql.Rows) ([]*models.Observation, error) {
	var out []*models.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (*models.Observation, error) {
	var o models.Observation
	var subtitle, beadID sql.NullString
	var promptNumber sql.NullInt64
	var facts, concepts, filesRead, filesModified, typ, visibility string

	err := row.Scan(&o.ID, &o.MemorySessionID, &o.Project, &typ, &o.Title, &subtitle, &o.Narrative,
		&facts, &concepts, &filesRead, &filesModified, &promptNumber, &o.DiscoveryTokens, &o.CreatedAtEpoch,
		&beadID, &o.Agent, &o.Department, &visibility)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan observation: %w", err)
	}
	o.Type = models.ObservationType(typ)
	o.Visibility = models.Visibility(visibility)
	o.Subtitle = nullStringPtr(subtitle)
	o.BeadID = nullStringPtr(beadID)
	o.PromptNumber = nullIntPtr(promptNumber)
	o.Facts = decodeStrings(facts)
	o.Concepts = decodeStrings(concepts)
	o.FilesRead = decodeStrings(filesRead)
	o.FilesModified = decodeStrings(filesModified)
	return &o, nil
}

func (s *SQLiteStore) GetObservationsByIDs(ctx context.Context, ids []int64) ([]*models.Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT %s FROM observations WHERE id IN (%s)`, observationSelectColumns, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get observations by ids: %w", err)
	}
	defer rows.Close()
	return scanObservationRows(rows)
}

func (s *SQLiteStore) RecentObservations(ctx context.Context, project string, limit int) ([]*models.Observation, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM observations WHERE project = ? ORDER BY created_at_epoch DESC LIMIT ?`, observationSelectColumns)
	rows, err := s.db.QueryContext(ctx, query, project, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent observations: %w", err)
	}
	defer rows.Close()
	return scanObservationRows(rows)
}

// QueryObservations applies SearchEngine's structured-stage filters
// (SPEC_FULL.md §4.I): project expansion (already resolved by the
// caller into f.Projects), type, concept-set membership, file substring,
// date window, visibility, and an optional id restriction used to
// intersect with the vector stage.
func (s *SQLiteStore) QueryObservations(ctx context.Context, f ObservationFilter) ([]*models.Observation, error) {
	var where []string
	var args []any

	if len(f.Projects) > 0 {
		placeholders := make([]string, len(f.Projects))
		for i, p := range f.Projects {
			placeholders[i] = "?"
			args = append(args, p)
		}
		where = append(where, fmt.Sprintf("project IN (%s)", strings.Join(placeholders, ",")))
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.FileSubstr != "" {
		where = append(where, "(files_read LIKE ? OR files_modified LIKE ?)")
		pattern := "%" + f.FileSubstr + "%"
		args = append(args, pattern, pattern)
	}
	if f.FromEpoch > 0 {
		where = append(where, "created_at_epoch >= ?")
		args = append(args, f.FromEpoch)
	}
	if f.ToEpoch > 0 {
		where = append(where, "created_at_epoch <= ?")
		args = append(args, f.ToEpoch)
	}
	if len(f.Visibilities) > 0 {
		// department/private rows are only reachable by their owning
		// department/agent (spec.md §4.I step 2): a flat IN-list can't
		// express that, so each visibility gets its own matching clause.
		var clauses []string
		for _, v := range f.Visibilities {
			switch v {
			case models.VisibilityDepartment:
				if f.Department != "" {
					clauses = append(clauses, "(visibility = ? AND department = ?)")
					args = append(args, string(v), f.Department)
				}
			case models.VisibilityPrivate:
				if f.Agent != "" {
					clauses = append(clauses, "(visibility = ? AND agent = ?)")
					args = append(args, string(v), f.Agent)
				}
			default:
				clauses = append(clauses, "visibility = ?")
				args = append(args, string(v))
			}
		}
		if len(clauses) == 0 {
			where = append(where, "1 = 0")
		} else {
			where = append(where, "("+strings.Join(clauses, " OR ")+")")
		}
	}
	if len(f.IDs) > 0 {
		placeholders := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		where = append(where, fmt.Sprintf("id IN (%s)", strings.Join(placeholders, ",")))
	}

	query := fmt.Sprintf(`SELECT %s FROM observations`, observationSelectColumns)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at_epoch DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query observations: %w", err)
	}
	defer rows.Close()

	results, err := scanObservationRows(rows)
	if err != nil {
		return nil, err
	}
	if len(f.Concepts) > 0 {
		results = filterByConcepts(results, f.Concepts)
	}
	return results, nil
}

// filterByConcepts keeps observations whose concept set intersects the
// requested concepts. Concept-set membership is applied in Go rather
// than SQL because concepts are stored as a JSON array, not a joinable
// column.
func filterByConcepts(obs []*models.Observation, wanted []string) []*models.Observation {
	want := make(map[string]bool, len(wanted))
	for _, c := range wanted {
		want[c] = true
	}
	var out []*models.Observation
	for _, o := range obs {
		for _, c := range o.Concepts {
			if want[c] {
				out = append(out, o)
				break
			}
		}
	}
	return out
}

func (s *SQLiteStore) RecentSummaries(ctx context.Context, project string, limit int) ([]*models.SessionSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_session_id, project, request, investigated, learned, completed, next_steps, notes,
		       created_at_epoch, agent, department, visibility
		FROM session_summaries WHERE project = ? ORDER BY created_at_epoch DESC LIMIT ?
	`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent summaries: %w", err)
	}
	defer rows.Close()

	var out []*models.SessionSummary
	for rows.Next() {
		var sum models.SessionSummary
		var request, investigated, learned, completed, nextSteps, notes, visibility sql.NullString
		if err := rows.Scan(&sum.ID, &sum.MemorySessionID, &sum.Project, &request, &investigated, &learned,
			&completed, &nextSteps, &notes, &sum.CreatedAtEpoch, &sum.Agent, &sum.Department, &visibility); err != nil {
			return nil, fmt.Errorf("store: scan summary: %w", err)
		}
		sum.Request = nullStringPtr(request)
		sum.Investigated = nullStringPtr(investigated)
		sum.Learned = nullStringPtr(learned)
		sum.Completed = nullStringPtr(completed)
		sum.NextSteps = nullStringPtr(nextSteps)
		sum.Notes = nullStringPtr(notes)
		sum.Visibility = models.Visibility(visibility.String)
		out = append(out, &sum)
	}
	return out, rows.Err()
}
