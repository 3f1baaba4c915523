package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schema contains the DDL for all tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id            TEXT PRIMARY KEY,
		suite         TEXT NOT NULL,
		outcome       TEXT NOT NULL DEFAULT 'running',
		halt_on_error INTEGER NOT NULL DEFAULT 0,
		ticks         INTEGER NOT NULL DEFAULT 0,
		summary       TEXT NOT NULL DEFAULT '{}',
		created_at    TEXT NOT NULL,
		completed_at  TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS case_results (
		id          TEXT PRIMARY KEY,
		run_id      TEXT NOT NULL REFERENCES runs(id),
		name        TEXT NOT NULL,
		batch       TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		required    INTEGER NOT NULL DEFAULT 0,
		attempt     INTEGER NOT NULL DEFAULT 1,
		error       TEXT NOT NULL DEFAULT '',
		ticks       INTEGER NOT NULL DEFAULT 0,
		recorded_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome)`,
	`CREATE INDEX IF NOT EXISTS idx_case_results_run_id ON case_results(run_id)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "case_results",
		column:   "rerun_of",
		alterSQL: "ALTER TABLE case_results ADD COLUMN rerun_of TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_case_results_rerun_of ON case_results(rerun_of) WHERE rerun_of != ''",
	},
}

// migrate applies the schema, then the column additions and their indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return fmt.Errorf("add column %s.%s: %w", alter.table, alter.column, err)
		}
		if alter.indexSQL == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
			return fmt.Errorf("index on %s.%s: %w", alter.table, alter.column, err)
		}
	}
	return nil
}

// addColumnIfNotExists runs alterSQL unless table already has column.
// SQLite has no ADD COLUMN IF NOT EXISTS.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	ok, err := hasColumn(ctx, db, table, column)
	if err != nil || ok {
		return err
	}
	_, err = db.ExecContext(ctx, alterSQL)
	return err
}

// hasColumn reads PRAGMA table_info. The rows are closed before returning,
// which matters when the pool holds a single connection.
func hasColumn(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return false, err
	}
	vals := make([]any, len(cols))
	for i := range vals {
		vals[i] = new(sql.RawBytes)
	}
	nameIdx := -1
	for i, c := range cols {
		if c == "name" {
			nameIdx = i
		}
	}
	if nameIdx < 0 {
		return false, fmt.Errorf("table_info(%s) has no name column", table)
	}

	for rows.Next() {
		if err := rows.Scan(vals...); err != nil {
			return false, err
		}
		if strings.EqualFold(string(*vals[nameIdx].(*sql.RawBytes)), column) {
			return true, nil
		}
	}
	return false, rows.Err()
}
