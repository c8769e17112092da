package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migration is one embedded schema change, identified by a sortable id
// (e.g. "0001_init").
type migration struct {
	ID      string
	UpSQL   string
	DownSQL string
}

// appliedMigration is a row recorded in schema_migrations.
type appliedMigration struct {
	ID        string
	AppliedAt time.Time
}

// migrator applies the embedded migrations to a SQLite database, one
// transaction per migration, recording each applied id in
// schema_migrations. Migrations are expected to be idempotent: a
// duplicate-column or duplicate-index error while applying a migration
// that has already partially run is tolerated rather than treated as
// failure, because some builds in the field double-applied column
// changes under different recorded versions before this tracking table
// existed.
type migrator struct {
	db         *sql.DB
	migrations []migration
}

func newMigrator(db *sql.DB) (*migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	return &migrator{db: db, migrations: migrations}, nil
}

// ensureSchema creates the schema_migrations tracking table.
func (m *migrator) ensureSchema(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}
	return nil
}

// up applies all pending migrations in id order, each in its own
// transaction. The process MUST refuse to serve writes if any required
// migration fails to apply; callers treat a non-nil error here as fatal.
func (m *migrator) up(ctx context.Context) ([]string, error) {
	if err := m.ensureSchema(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedIDs(ctx)
	if err != nil {
		return nil, err
	}

	var appliedNow []string
	for _, mig := range m.migrations {
		if applied[mig.ID] {
			continue
		}
		if strings.TrimSpace(mig.UpSQL) == "" {
			return appliedNow, fmt.Errorf("store: missing up migration for %s", mig.ID)
		}
		if err := m.applyOne(ctx, mig); err != nil {
			return appliedNow, err
		}
		appliedNow = append(appliedNow, mig.ID)
	}
	return appliedNow, nil
}

func (m *migrator) applyOne(ctx context.Context, mig migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin migration %s: %w", mig.ID, err)
	}

	for _, stmt := range splitStatements(mig.UpSQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if isTolerableReapplication(err) {
				continue
			}
			_ = tx.Rollback()
			return fmt.Errorf("store: apply migration %s: %w", mig.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (id) VALUES (?)`, mig.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("store: record migration %s: %w", mig.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit migration %s: %w", mig.ID, err)
	}
	return nil
}

// isTolerableReapplication recognizes the handful of SQLite errors that
// indicate a migration statement already took effect in a prior,
// partially-applied run (duplicate column, duplicate index/table).
func isTolerableReapplication(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate column name") ||
		strings.Contains(msg, "already exists")
}

// status returns the applied and pending migration sets.
func (m *migrator) status(ctx context.Context) ([]appliedMigration, []migration, error) {
	if err := m.ensureSchema(ctx); err != nil {
		return nil, nil, err
	}
	rows, err := m.db.QueryContext(ctx, `SELECT id, applied_at FROM schema_migrations ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("store: query schema_migrations: %w", err)
	}
	defer rows.Close()

	var applied []appliedMigration
	appliedIDs := map[string]bool{}
	for rows.Next() {
		var entry appliedMigration
		if err := rows.Scan(&entry.ID, &entry.AppliedAt); err != nil {
			return nil, nil, fmt.Errorf("store: scan schema_migrations: %w", err)
		}
		applied = append(applied, entry)
		appliedIDs[entry.ID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("store: schema_migrations: %w", err)
	}

	var pending []migration
	for _, mig := range m.migrations {
		if !appliedIDs[mig.ID] {
			pending = append(pending, mig)
		}
	}
	return applied, pending, nil
}

func (m *migrator) appliedIDs(ctx context.Context) (map[string]bool, error) {
	applied, _, err := m.status(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(applied))
	for _, entry := range applied {
		ids[entry.ID] = true
	}
	return ids, nil
}

func loadMigrations() ([]migration, error) {
	paths, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("store: list migrations: %w", err)
	}

	entries := map[string]*migration{}
	for _, path := range paths {
		base := strings.TrimPrefix(path, "migrations/")
		var suffix string
		switch {
		case strings.HasSuffix(base, ".up.sql"):
			suffix = ".up.sql"
		case strings.HasSuffix(base, ".down.sql"):
			suffix = ".down.sql"
		default:
			continue
		}
		id := strings.TrimSuffix(base, suffix)
		entry := entries[id]
		if entry == nil {
			entry = &migration{ID: id}
			entries[id] = entry
		}
		data, err := migrationsFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("store: read migration %s: %w", path, err)
		}
		if suffix == ".up.sql" {
			entry.UpSQL = string(data)
		} else {
			entry.DownSQL = string(data)
		}
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	migrations := make([]migration, 0, len(ids))
	for _, id := range ids {
		migrations = append(migrations, *entries[id])
	}
	return migrations, nil
}

// splitStatements splits a migration file into individual statements on
// top-level semicolon boundaries. SQLite's Exec only runs the first
// statement in a multi-statement string reliably across drivers, so each
// DDL statement is executed independently within the same transaction.
// Semicolons inside a trigger's BEGIN...END body do not count as
// boundaries.
func splitStatements(sqlText string) []string {
	var out []string
	var current strings.Builder
	depth := 0

	words := tokenizeWords(sqlText)
	for _, w := range words {
		current.WriteString(w.text)
		switch strings.ToUpper(w.word) {
		case "BEGIN":
			depth++
		case "END":
			if depth > 0 {
				depth--
			}
		}
		if w.word == ";" && depth == 0 {
			trimmed := strings.TrimSpace(current.String())
			trimmed = strings.TrimSuffix(trimmed, ";")
			if strings.TrimSpace(trimmed) != "" {
				out = append(out, strings.TrimSpace(trimmed))
			}
			current.Reset()
		}
	}
	if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
		out = append(out, trimmed)
	}
	return out
}

type word struct {
	text string // raw text including any leading whitespace/punctuation run
	word string // the significant token itself (bare word or ";")
}

// tokenizeWords walks sqlText and yields one entry per whitespace-run+word
// (or lone ";" token), preserving the original text so concatenation
// reconstructs the input exactly.
func tokenizeWords(sqlText string) []word {
	var out []word
	i := 0
	n := len(sqlText)
	for i < n {
		start := i
		for i < n && (sqlText[i] == ' ' || sqlText[i] == '\t' || sqlText[i] == '\n' || sqlText[i] == '\r') {
			i++
		}
		if i >= n {
			out = append(out, word{text: sqlText[start:i], word: ""})
			break
		}
		if sqlText[i] == ';' {
			i++
			out = append(out, word{text: sqlText[start:i], word: ";"})
			continue
		}
		wordStart := i
		for i < n && sqlText[i] != ';' && sqlText[i] != ' ' && sqlText[i] != '\t' && sqlText[i] != '\n' && sqlText[i] != '\r' {
			i++
		}
		out = append(out, word{text: sqlText[start:i], word: sqlText[wordStart:i]})
	}
	return out
}
