package store

import (
	"context"
	"fmt"
)

// RegisterAlias records (oldProject, newProject) idempotently.
func (s *SQLiteStore) RegisterAlias(ctx context.Context, oldProject, newProject string, nowEpoch int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_aliases (old_project, new_project, created_at_epoch) VALUES (?, ?, ?)
		ON CONFLICT (old_project, new_project) DO NOTHING
	`, oldProject, newProject, nowEpoch)
	if err != nil {
		return fmt.Errorf("store: register alias: %w", err)
	}
	return nil
}

// ProjectsWithAliases returns [project, ...old names mapping to it],
// capped at max, beginning with project and containing no duplicates
// (spec.md §8 invariant 4).
func (s *SQLiteStore) ProjectsWithAliases(ctx context.Context, project string, max int) ([]string, error) {
	if max <= 0 {
		max = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT old_project FROM project_aliases WHERE new_project = ? LIMIT ?
	`, project, max)
	if err != nil {
		return nil, fmt.Errorf("store: projects with aliases: %w", err)
	}
	defer rows.Close()

	seen := map[string]bool{project: true}
	out := []string{project}
	for rows.Next() {
		var old string
		if err := rows.Scan(&old); err != nil {
			return nil, fmt.Errorf("store: scan alias: %w", err)
		}
		if seen[old] {
			continue
		}
		seen[old] = true
		out = append(out, old)
		if len(out) >= max {
			break
		}
	}
	return out, rows.Err()
}

// CleanupAliases deletes aliases registered before olderThanEpoch.
func (s *SQLiteStore) CleanupAliases(ctx context.Context, olderThanEpoch int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM project_aliases WHERE created_at_epoch < ?`, olderThanEpoch)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup aliases: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: cleanup aliases: %w", err)
	}
	return int(affected), nil
}
