package store

import (
	"context"
	"fmt"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// AppendAudit appends an entry to the audit log. The log is append-only:
// no Update or Delete operation is exposed.
func (s *SQLiteStore) AppendAudit(ctx context.Context, e *models.AuditLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (agent_id, action, resource_type, resource_id, details, ip_address, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.AgentID, e.Action, nullString(e.ResourceType), nullString(e.ResourceID), nullString(e.Details),
		nullString(e.IPAddress), e.CreatedAtEpoch)
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	return nil
}
