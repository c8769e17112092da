package store

import (
	"context"
	"fmt"
)

const dayMillis = 24 * 3600 * 1000
const hourMillis = 3600 * 1000

// Stats computes the aggregate snapshot GET /api/metrics reports
// (SPEC_FULL.md §4.H). It runs a handful of single-purpose queries
// rather than one large join: the tables involved (agents, aliases,
// observations, audit_log) have no natural join key between them.
func (s *SQLiteStore) Stats(ctx context.Context, nowEpoch int64) (Stats, error) {
	var stats Stats

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(verified), 0),
			COALESCE(SUM(CASE WHEN locked_until_epoch IS NOT NULL AND locked_until_epoch > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN last_seen_at_epoch IS NOT NULL AND last_seen_at_epoch > ? THEN 1 ELSE 0 END), 0)
		FROM agents
	`, nowEpoch, nowEpoch-dayMillis).Scan(&stats.AgentsTotal, &stats.AgentsVerified, &stats.AgentsLocked, &stats.AgentsActive24h)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats agents: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_log WHERE action = 'verify_failure' AND created_at_epoch > ?
	`, nowEpoch-hourMillis).Scan(&stats.AuthFailed1h)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats auth failures: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_log WHERE action = 'verify_failure_locked' AND created_at_epoch > ?
	`, nowEpoch-dayMillis).Scan(&stats.Lockouts24h)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats lockouts: %w", err)
	}

	stats.AliasesTotal, stats.AliasesAvgPerProject, stats.AliasesMaxPerProject, err = s.aliasStats(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats.ObservationsTotal, stats.ObservationsByVisibility, err = s.observationStats(ctx)
	if err != nil {
		return Stats{}, err
	}

	return stats, nil
}

func (s *SQLiteStore) aliasStats(ctx context.Context) (total int, avgPerProject float64, maxPerProject int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_aliases`).Scan(&total); err != nil {
		return 0, 0, 0, fmt.Errorf("store: stats aliases total: %w", err)
	}
	if total == 0 {
		return 0, 0, 0, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT COUNT(*) FROM project_aliases GROUP BY new_project
	`)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("store: stats aliases per project: %w", err)
	}
	defer rows.Close()

	var projectCount int
	for rows.Next() {
		var perProject int
		if err := rows.Scan(&perProject); err != nil {
			return 0, 0, 0, fmt.Errorf("store: stats aliases scan: %w", err)
		}
		projectCount++
		if perProject > maxPerProject {
			maxPerProject = perProject
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, 0, fmt.Errorf("store: stats aliases rows: %w", err)
	}
	if projectCount > 0 {
		avgPerProject = float64(total) / float64(projectCount)
	}
	return total, avgPerProject, maxPerProject, nil
}

func (s *SQLiteStore) observationStats(ctx context.Context) (total int, byVisibility map[string]int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("store: stats observations total: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT visibility, COUNT(*) FROM observations GROUP BY visibility`)
	if err != nil {
		return 0, nil, fmt.Errorf("store: stats observations by visibility: %w", err)
	}
	defer rows.Close()

	byVisibility = make(map[string]int)
	for rows.Next() {
		var visibility string
		var count int
		if err := rows.Scan(&visibility, &count); err != nil {
			return 0, nil, fmt.Errorf("store: stats observations scan: %w", err)
		}
		byVisibility[visibility] = count
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("store: stats observations rows: %w", err)
	}
	return total, byVisibility, nil
}
