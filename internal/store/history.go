package store

import (
	"context"
	"fmt"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// SaveHistory replaces the saved conversation history for a session so a
// restarted supervisor task can resume. It is called at natural
// checkpoints (after each LLM round-trip), not on every message.
func (s *SQLiteStore) SaveHistory(ctx context.Context, sessionDbID int64, messages []models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin save history: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_history WHERE session_db_id = ?`, sessionDbID); err != nil {
		return fmt.Errorf("store: clear history: %w", err)
	}
	for i, m := range messages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_history (session_db_id, seq, role, content, created_at_epoch)
			VALUES (?, ?, ?, ?, ?)
		`, sessionDbID, i, string(m.Role), m.Content, m.CreatedAtEpoch); err != nil {
			return fmt.Errorf("store: save history: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadHistory(ctx context.Context, sessionDbID int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at_epoch FROM conversation_history
		WHERE session_db_id = ? ORDER BY seq ASC
	`, sessionDbID)
	if err != nil {
		return nil, fmt.Errorf("store: load history: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.CreatedAtEpoch); err != nil {
			return nil, fmt.Errorf("store: scan history: %w", err)
		}
		m.Role = models.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}
