package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

const agentSelectColumns = `
	id, department, permissions, api_key_prefix, api_key_hash, created_at_epoch,
	last_seen_at_epoch, expires_at_epoch, verified, failed_attempts, locked_until_epoch,
	spawned_by, bead_id, role
`

func (s *SQLiteStore) RegisterAgent(ctx context.Context, a *models.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (
			id, department, permissions, api_key_prefix, api_key_hash, created_at_epoch,
			expires_at_epoch, verified, failed_attempts, spawned_by, bead_id, role
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, a.ID, a.Department, a.Permissions, a.APIKeyPrefix, a.APIKeyHash, a.CreatedAtEpoch,
		nullInt64(a.ExpiresAtEpoch), a.Verified, nullString(a.SpawnedBy), nullString(a.BeadID), nullString(a.Role))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store: register agent: %w", err)
	}
	return nil
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	var lastSeen, expiresAt, lockedUntil sql.NullInt64
	var spawnedBy, beadID, role sql.NullString
	var verifiedInt int

	err := row.Scan(&a.ID, &a.Department, &a.Permissions, &a.APIKeyPrefix, &a.APIKeyHash, &a.CreatedAtEpoch,
		&lastSeen, &expiresAt, &verifiedInt, &a.FailedAttempts, &lockedUntil, &spawnedBy, &beadID, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan agent: %w", err)
	}
	a.LastSeenAtEpoch = nullInt64Ptr(lastSeen)
	a.ExpiresAtEpoch = nullInt64Ptr(expiresAt)
	a.LockedUntilEpoch = nullInt64Ptr(lockedUntil)
	a.Verified = verifiedInt != 0
	a.SpawnedBy = nullStringPtr(spawnedBy)
	a.BeadID = nullStringPtr(beadID)
	a.Role = nullStringPtr(role)
	return &a, nil
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM agents WHERE id = ?`, agentSelectColumns), id)
	return scanAgent(row)
}

func (s *SQLiteStore) GetAgentByKeyPrefix(ctx context.Context, prefix string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM agents WHERE api_key_prefix = ?`, agentSelectColumns), prefix)
	return scanAgent(row)
}

// RecordVerifySuccess resets failedAttempts and lockedUntilEpoch and
// stamps lastSeenAt, per SPEC_FULL.md §4.D / invariant 6 in spec.md §8.
func (s *SQLiteStore) RecordVerifySuccess(ctx context.Context, id string, nowEpoch int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agents SET failed_attempts = 0, locked_until_epoch = NULL, last_seen_at_epoch = ?, verified = 1
		WHERE id = ?
	`, nowEpoch, id)
	if err != nil {
		return fmt.Errorf("store: record verify success: %w", err)
	}
	return nil
}

// RecordVerifyFailure increments failedAttempts and, on reaching
// maxAttempts exactly, sets lockedUntilEpoch = now + lockoutSeconds.
func (s *SQLiteStore) RecordVerifyFailure(ctx context.Context, id string, nowEpoch int64, maxAttempts int, lockoutSeconds int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin verify failure: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var failedAttempts int
	if err := tx.QueryRowContext(ctx, `SELECT failed_attempts FROM agents WHERE id = ?`, id).Scan(&failedAttempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("store: record verify failure: %w", err)
	}
	failedAttempts++

	if failedAttempts >= maxAttempts {
		lockedUntil := nowEpoch + lockoutSeconds*1000
		if _, err := tx.ExecContext(ctx, `
			UPDATE agents SET failed_attempts = ?, locked_until_epoch = ? WHERE id = ?
		`, failedAttempts, lockedUntil, id); err != nil {
			return fmt.Errorf("store: lock agent: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE agents SET failed_attempts = ? WHERE id = ?`, failedAttempts, id); err != nil {
			return fmt.Errorf("store: record verify failure: %w", err)
		}
	}
	return tx.Commit()
}

// RotateAgentKey invalidates the old key and issues a new key+expiry
// atomically.
func (s *SQLiteStore) RotateAgentKey(ctx context.Context, id, newPrefix, newHash string, newExpiresAtEpoch *int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET api_key_prefix = ?, api_key_hash = ?, expires_at_epoch = ?,
		       failed_attempts = 0, locked_until_epoch = NULL
		WHERE id = ?
	`, newPrefix, newHash, nullInt64(newExpiresAtEpoch), id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store: rotate agent key: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RevokeAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: revoke agent: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// HasAnyAgents reports whether at least one agent has ever been
// registered. HTTPRouter uses this to decide whether unauthenticated
// loopback access is still in its bootstrap window (spec.md §4.H).
func (s *SQLiteStore) HasAnyAgents(ctx context.Context) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM agents)`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: has any agents: %w", err)
	}
	return exists != 0, nil
}
