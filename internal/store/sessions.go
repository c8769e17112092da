package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// GetOrCreateSession creates a Session row for contentSessionID if one
// does not already exist, otherwise returns the existing row unchanged.
func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, contentSessionID, project, userPrompt string, nowEpoch int64) (*models.Session, error) {
	existing, err := s.GetSessionByContentID(ctx, contentSessionID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (content_session_id, project, user_prompt, started_at_epoch, status, prompt_counter)
		VALUES (?, ?, ?, ?, 'active', 0)
	`, contentSessionID, project, userPrompt, nowEpoch)
	if err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	return s.GetSessionByID(ctx, id)
}

func (s *SQLiteStore) GetSessionByContentID(ctx context.Context, contentSessionID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content_session_id, memory_session_id, project, user_prompt,
		       started_at_epoch, completed_at_epoch, status, prompt_counter
		FROM sessions WHERE content_session_id = ?
	`, contentSessionID)
	return scanSession(row)
}

func (s *SQLiteStore) GetSessionByID(ctx context.Context, id int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content_session_id, memory_session_id, project, user_prompt,
		       started_at_epoch, completed_at_epoch, status, prompt_counter
		FROM sessions WHERE id = ?
	`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*models.Session, error) {
	var sess models.Session
	var memorySessionID, status sql.NullString
	var completedAt sql.NullInt64

	err := row.Scan(&sess.ID, &sess.ContentSessionID, &memorySessionID, &sess.Project, &sess.UserPrompt,
		&sess.StartedAtEpoch, &completedAt, &status, &sess.PromptCounter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan session: %w", err)
	}
	sess.MemorySessionID = nullStringPtr(memorySessionID)
	sess.CompletedAtEpoch = nullInt64Ptr(completedAt)
	sess.Status = models.SessionStatus(status.String)
	return &sess, nil
}

// SetMemorySessionID assigns the LLM agent's own conversation id, lazily
// on first successful round-trip. A session's memorySessionId must stay
// unique, so a collision surfaces as ErrAlreadyExists.
func (s *SQLiteStore) SetMemorySessionID(ctx context.Context, sessionID int64, memorySessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET memory_session_id = ? WHERE id = ?`, memorySessionID, sessionID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store: set memory session id: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, sessionID int64, status models.SessionStatus, completedAtEpoch *int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, completed_at_epoch = COALESCE(?, completed_at_epoch) WHERE id = ?
	`, string(status), nullInt64(completedAtEpoch), sessionID)
	if err != nil {
		return fmt.Errorf("store: update session status: %w", err)
	}
	return nil
}

// IncrementPromptCounter bumps a Session's promptCounter by one and
// returns the new value, the next promptNumber for an incoming
// UserPrompt (HTTPRouter's /api/session/prompt handler, spec.md §4.H).
func (s *SQLiteStore) IncrementPromptCounter(ctx context.Context, sessionDbID int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin increment prompt counter: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var counter int
	if err := tx.QueryRowContext(ctx, `SELECT prompt_counter FROM sessions WHERE id = ?`, sessionDbID).Scan(&counter); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("store: increment prompt counter: %w", err)
	}
	counter++
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET prompt_counter = ? WHERE id = ?`, counter, sessionDbID); err != nil {
		return 0, fmt.Errorf("store: increment prompt counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: increment prompt counter: %w", err)
	}
	return counter, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, content_session_id, memory_session_id, project, user_prompt,
		       started_at_epoch, completed_at_epoch, status, prompt_counter
		FROM sessions
	`
	args := []any{}
	if opts.Project != "" {
		query += " WHERE project = ?"
		args = append(args, opts.Project)
	}
	query += " ORDER BY started_at_epoch DESC LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var sess models.Session
		var memorySessionID, status sql.NullString
		var completedAt sql.NullInt64
		if err := rows.Scan(&sess.ID, &sess.ContentSessionID, &memorySessionID, &sess.Project, &sess.UserPrompt,
			&sess.StartedAtEpoch, &completedAt, &status, &sess.PromptCounter); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sess.MemorySessionID = nullStringPtr(memorySessionID)
		sess.CompletedAtEpoch = nullInt64Ptr(completedAt)
		sess.Status = models.SessionStatus(status.String)
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// isUniqueViolation recognizes modernc.org/sqlite's UNIQUE constraint
// error text; the driver does not expose a typed error for this.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
