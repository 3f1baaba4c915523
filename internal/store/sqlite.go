package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/tickbatch/internal/logging"
	"github.com/me/tickbatch/pkg/model"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so that text order in created_at and recorded_at
// matches chronological order. RFC3339Nano trims trailing zeros and does not.
// Values are parsed with time.RFC3339Nano, which accepts both.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logging.Component(logger, "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	outcome := run.Outcome
	if outcome == "" {
		outcome = model.RunOutcomeRunning
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, suite, outcome, halt_on_error, ticks, summary, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Suite, string(outcome), boolToInt(run.HaltOnError), run.Ticks, string(summaryJSON),
		formatTime(run.CreatedAt), formatTimePtr(run.CompletedAt),
	)
	return err
}

// FinishRun stores the final outcome, tick count, summary and completion time.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID, "outcome", run.Outcome)

	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET outcome = ?, ticks = ?, summary = ?, completed_at = ? WHERE id = ?`,
		string(run.Outcome), run.Ticks, string(summaryJSON), formatTimePtr(run.CompletedAt), run.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// GetRun returns the run with the given id, or nil if there is none.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, suite, outcome, halt_on_error, ticks, summary, created_at, completed_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	whereSQL := ""
	var countArgs []any
	if opts.Outcome != "" {
		whereSQL = " WHERE outcome = ?"
		countArgs = append(countArgs, opts.Outcome)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT id, suite, outcome, halt_on_error, ticks, summary, created_at, completed_at
		FROM runs` + whereSQL + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	listArgs := append(countArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// --- Case results ---

func (s *SQLiteStore) RecordCase(ctx context.Context, r *model.CaseResult) error {
	s.logger.Debug("sql", "op", "insert", "table", "case_results", "id", r.ID, "run_id", r.RunID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO case_results (id, run_id, name, batch, status, required, attempt, rerun_of, error, ticks, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.Name, r.Batch, string(r.Status), boolToInt(r.Required), r.Attempt,
		r.RerunOf, r.Error, r.Ticks, formatTime(r.RecordedAt),
	)
	return err
}

// ListCaseResults returns a run's results in the order they were recorded.
func (s *SQLiteStore) ListCaseResults(ctx context.Context, runID string) ([]*model.CaseResult, error) {
	s.logger.Debug("sql", "op", "list", "table", "case_results", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, batch, status, required, attempt, rerun_of, error, ticks, recorded_at
		 FROM case_results WHERE run_id = ? ORDER BY rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.CaseResult
	for rows.Next() {
		var r model.CaseResult
		var status, recordedAt string
		var required int
		if err := rows.Scan(&r.ID, &r.RunID, &r.Name, &r.Batch, &status, &required, &r.Attempt,
			&r.RerunOf, &r.Error, &r.Ticks, &recordedAt); err != nil {
			return nil, err
		}
		r.Status = model.CaseStatus(status)
		r.Required = required != 0
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		results = append(results, &r)
	}
	return results, rows.Err()
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.Run, error) {
	var run model.Run
	var outcome, summaryJSON, createdAt string
	var halt int
	var completedAt *string

	if err := sc.Scan(&run.ID, &run.Suite, &outcome, &halt, &run.Ticks, &summaryJSON, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	run.Outcome = model.RunOutcome(outcome)
	run.HaltOnError = halt != 0
	if err := json.Unmarshal([]byte(summaryJSON), &run.Summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *completedAt)
		run.CompletedAt = &t
	}
	return &run, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
