package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// AppendUserPrompt inserts a UserPrompt, assigning its promptNumber by the
// caller (HTTPRouter's session/prompt handler is responsible for bumping
// the Session's promptCounter and passing the next value here under the
// same logical operation).
func (s *SQLiteStore) AppendUserPrompt(ctx context.Context, p *models.UserPrompt) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_prompts (content_session_id, prompt_number, prompt_text, agent_id, sender_id, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ContentSessionID, p.PromptNumber, p.PromptText, nullString(p.AgentID), nullString(p.SenderID), p.CreatedAtEpoch)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrAlreadyExists
		}
		return 0, fmt.Errorf("store: append user prompt: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) CountUserPrompts(ctx context.Context, contentSessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_prompts WHERE content_session_id = ?`, contentSessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count user prompts: %w", err)
	}
	return count, nil
}

// SearchUserPrompts runs a full-text query over promptText via the
// user_prompts_fts external-content FTS5 index.
func (s *SQLiteStore) SearchUserPrompts(ctx context.Context, query string, limit int) ([]*models.UserPrompt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT up.id, up.content_session_id, up.prompt_number, up.prompt_text, up.agent_id, up.sender_id, up.created_at_epoch
		FROM user_prompts_fts f
		JOIN user_prompts up ON up.id = f.rowid
		WHERE user_prompts_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search user prompts: %w", err)
	}
	defer rows.Close()

	var out []*models.UserPrompt
	for rows.Next() {
		var p models.UserPrompt
		var agentID, senderID sql.NullString
		if err := rows.Scan(&p.ID, &p.ContentSessionID, &p.PromptNumber, &p.PromptText, &agentID, &senderID, &p.CreatedAtEpoch); err != nil {
			return nil, fmt.Errorf("store: scan user prompt: %w", err)
		}
		p.AgentID = nullStringPtr(agentID)
		p.SenderID = nullStringPtr(senderID)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ListUserPromptsForProject joins through sessions to find prompts
// belonging to project, used by VectorIndex's ensureBackfilled (spec.md
// §4.B) to enumerate the project's prompt rows for diffing against the
// vector collection's sqlite_ids.
func (s *SQLiteStore) ListUserPromptsForProject(ctx context.Context, project string, limit int) ([]*models.UserPrompt, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT up.id, up.content_session_id, up.prompt_number, up.prompt_text, up.agent_id, up.sender_id, up.created_at_epoch
		FROM user_prompts up
		JOIN sessions s ON s.content_session_id = up.content_session_id
		WHERE s.project = ?
		ORDER BY up.id ASC
		LIMIT ?
	`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list user prompts for project: %w", err)
	}
	defer rows.Close()

	var out []*models.UserPrompt
	for rows.Next() {
		var p models.UserPrompt
		var agentID, senderID sql.NullString
		if err := rows.Scan(&p.ID, &p.ContentSessionID, &p.PromptNumber, &p.PromptText, &agentID, &senderID, &p.CreatedAtEpoch); err != nil {
			return nil, fmt.Errorf("store: scan user prompt: %w", err)
		}
		p.AgentID = nullStringPtr(agentID)
		p.SenderID = nullStringPtr(senderID)
		out = append(out, &p)
	}
	return out, rows.Err()
}
