package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// Enqueue inserts a new pending message and wakes any goroutine waiting
// on Notify for its session.
func (s *SQLiteStore) Enqueue(ctx context.Context, msg *models.PendingMessage) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_messages (
			session_db_id, content_session_id, message_type, tool_name, tool_input, tool_response,
			cwd, last_user_message, last_assistant_message, prompt_number, bead_id,
			status, retry_count, created_at_epoch
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?)
	`, msg.SessionDbID, msg.ContentSessionID, string(msg.MessageType), nullString(msg.ToolName),
		nullString(msg.ToolInput), nullString(msg.ToolResponse), nullString(msg.Cwd),
		nullString(msg.LastUserMessage), nullString(msg.LastAssistantMessage),
		nullInt(msg.PromptNumber), nullString(msg.BeadID), msg.CreatedAtEpoch)
	if err != nil {
		return 0, fmt.Errorf("store: enqueue pending message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: enqueue pending message: %w", err)
	}
	s.broadcast(msg.SessionDbID)
	return id, nil
}

// ClaimNextForSession atomically transitions the oldest pending row for
// sessionDbID to processing and returns it. Two concurrent callers for
// the same session MUST see at most one successful claim per message:
// the UPDATE's WHERE clause re-checks status='pending' inside the same
// transaction that selected the candidate row, so a losing racer's
// update affects zero rows and is detected below.
func (s *SQLiteStore) ClaimNextForSession(ctx context.Context, sessionDbID int64) (*models.PendingMessage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id FROM pending_messages
		WHERE session_db_id = ? AND status = 'pending'
		ORDER BY created_at_epoch ASC
		LIMIT 1
	`, sessionDbID)

	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoClaim
		}
		return nil, fmt.Errorf("store: select claim candidate: %w", err)
	}

	startedAt := time.Now().UnixMilli()
	res, err := tx.ExecContext(ctx, `
		UPDATE pending_messages SET status = 'processing', started_processing_at_epoch = ?
		WHERE id = ? AND status = 'pending'
	`, startedAt, id)
	if err != nil {
		return nil, fmt.Errorf("store: claim update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: claim update: %w", err)
	}
	if affected == 0 {
		// Lost the race to a concurrent claimer between select and update.
		return nil, ErrNoClaim
	}

	msg, err := scanPendingMessage(tx.QueryRowContext(ctx, pendingMessageSelectByID, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit claim: %w", err)
	}
	return msg, nil
}

const pendingMessageSelectByID = `
	SELECT id, session_db_id, content_session_id, message_type, tool_name, tool_input, tool_response,
	       cwd, last_user_message, last_assistant_message, prompt_number, bead_id,
	       status, retry_count, created_at_epoch, started_processing_at_epoch,
	       completed_at_epoch, failed_at_epoch, failure_reason
	FROM pending_messages WHERE id = ?
`

func scanPendingMessage(row *sql.Row) (*models.PendingMessage, error) {
	var m models.PendingMessage
	var toolName, toolInput, toolResponse, cwd, lastUser, lastAssistant, beadID, status, failureReason sql.NullString
	var promptNumber, startedAt, completedAt, failedAt sql.NullInt64

	err := row.Scan(&m.ID, &m.SessionDbID, &m.ContentSessionID, &m.MessageType, &toolName, &toolInput, &toolResponse,
		&cwd, &lastUser, &lastAssistant, &promptNumber, &beadID,
		&status, &m.RetryCount, &m.CreatedAtEpoch, &startedAt, &completedAt, &failedAt, &failureReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan pending message: %w", err)
	}
	m.ToolName = nullStringPtr(toolName)
	m.ToolInput = nullStringPtr(toolInput)
	m.ToolResponse = nullStringPtr(toolResponse)
	m.Cwd = nullStringPtr(cwd)
	m.LastUserMessage = nullStringPtr(lastUser)
	m.LastAssistantMessage = nullStringPtr(lastAssistant)
	m.BeadID = nullStringPtr(beadID)
	m.PromptNumber = nullIntPtr(promptNumber)
	m.Status = models.PendingMessageStatus(status.String)
	m.StartedProcessingAtEpoch = nullInt64Ptr(startedAt)
	m.CompletedAtEpoch = nullInt64Ptr(completedAt)
	m.FailedAtEpoch = nullInt64Ptr(failedAt)
	m.FailureReason = nullStringPtr(failureReason)
	return &m, nil
}

// MarkProcessed transitions a message to processed and nulls its tool
// input/response to reclaim space, per SPEC_FULL.md §4.A. Callers that
// need the atomic observations+queue-transition commit should use
// CommitObservations instead; this standalone form exists for messages
// that resulted in no observations (e.g. a no-op tool call).
func (s *SQLiteStore) MarkProcessed(ctx context.Context, id int64, completedAtEpoch int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_messages
		SET status = 'processed', completed_at_epoch = ?, tool_input = NULL, tool_response = NULL
		WHERE id = ?
	`, completedAtEpoch, id)
	if err != nil {
		return fmt.Errorf("store: mark processed: %w", err)
	}
	return nil
}

// MarkFailed transitions a message to failed, or back to pending with a
// bumped retryCount when retry is true.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64, reason string, failedAtEpoch int64, retry bool) error {
	var err error
	if retry {
		_, err = s.db.ExecContext(ctx, `
			UPDATE pending_messages
			SET status = 'pending', retry_count = retry_count + 1, failure_reason = ?, failed_at_epoch = ?,
			    started_processing_at_epoch = NULL
			WHERE id = ?
		`, reason, failedAtEpoch, id)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE pending_messages
			SET status = 'failed', failure_reason = ?, failed_at_epoch = ?
			WHERE id = ?
		`, reason, failedAtEpoch, id)
	}
	if err != nil {
		return fmt.Errorf("store: mark failed: %w", err)
	}
	return nil
}

// MarkSessionMessagesFailed fails every pending/processing message for a
// session whose supervisor task has died, without retry eligibility.
func (s *SQLiteStore) MarkSessionMessagesFailed(ctx context.Context, sessionDbID int64, reason string, nowEpoch int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_messages
		SET status = 'failed', failure_reason = ?, failed_at_epoch = ?
		WHERE session_db_id = ? AND status IN ('pending', 'processing')
	`, reason, nowEpoch, sessionDbID)
	if err != nil {
		return fmt.Errorf("store: mark session messages failed: %w", err)
	}
	return nil
}

// ResetStaleProcessing resets any processing-state message whose
// startedProcessingAtEpoch exceeds a stale threshold back to pending.
// Called on startup and periodically by the maintenance ticker
// (SPEC_FULL.md's SUPPLEMENTED FEATURES section).
func (s *SQLiteStore) ResetStaleProcessing(ctx context.Context, staleBeforeEpoch int64, nowEpoch int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_messages
		SET status = 'pending', started_processing_at_epoch = NULL, retry_count = retry_count + 1
		WHERE status = 'processing' AND started_processing_at_epoch < ?
	`, staleBeforeEpoch)
	if err != nil {
		return 0, fmt.Errorf("store: reset stale processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: reset stale processing: %w", err)
	}
	_ = nowEpoch
	return int(affected), nil
}
