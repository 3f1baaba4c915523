package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/me/tickbatch/internal/config"
	"github.com/me/tickbatch/internal/server"
	"github.com/me/tickbatch/internal/store"
	"github.com/me/tickbatch/pkg/model"
)

const passingSuite = `
name: doors
fixtures:
  - name: door
    size: {x: 3, y: 3, z: 1}
batches:
  doors:
    before: |
      log("preparing " + batch);
cases:
  - name: door_opens
    batch: doors
    fixture: door
    script: |
      return tick >= 2;
  - name: door_flaky
    batch: doors
    fixture: door
    max_attempts: 3
    script: |
      if (attempt < 2) fail("hinge stuck");
      return true;
  - name: door_pinned
    batch: doors
    fixture: door
    location: {x: 100, y: 0, z: 100}
`

const failingSuite = `
name: broken
fixtures:
  - name: door
    size: {x: 1, y: 1, z: 1}
cases:
  - name: always_fails
    fixture: door
    script: |
      if (tick >= 1) fail("nope");
  - name: never_runs_after_halt
    batch: later
    fixture: door
`

const endlessSuite = `
name: endless
fixtures:
  - name: door
    size: {x: 1, y: 1, z: 1}
cases:
  - name: spins
    fixture: door
    script: |
      return false;
`

var runIDPattern = regexp.MustCompile(`run_[0-9a-f-]{36}`)

type env struct {
	dir string
	db  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	return &env{dir: dir, db: filepath.Join(dir, "results.db")}
}

func (e *env) write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// exec runs the CLI with the test database and no config file.
func (e *env) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	base := []string{"--db", e.db, "--config", filepath.Join(e.dir, "absent.yaml"), "--log-level", "error"}
	root.SetArgs(append(base, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func openTestStore(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRun_Passes(t *testing.T) {
	e := newEnv(t)
	suitePath := e.write(t, "doors.yaml", passingSuite)

	out, err := e.exec(t, "run", suitePath, "--fast")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Outcome:  passed") {
		t.Errorf("output missing passed outcome:\n%s", out)
	}
	runID := runIDPattern.FindString(out)
	if runID == "" {
		t.Fatalf("no run id in output:\n%s", out)
	}

	st := openTestStore(t, e.db)
	run, err := st.GetRun(context.Background(), runID)
	if err != nil || run == nil {
		t.Fatalf("GetRun(%s) = %v, %v", runID, run, err)
	}
	if run.Outcome != model.RunOutcomePassed {
		t.Errorf("Outcome = %q, want passed", run.Outcome)
	}
	if run.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	s := run.Summary
	if s.Total != 3 || s.Passed != 3 || s.Reruns != 1 {
		t.Errorf("summary = %+v, want total=3 passed=3 reruns=1", s)
	}
	if s.Batches != 2 {
		t.Errorf("batches = %d, want 2 (main pass + rerun pass)", s.Batches)
	}

	results, err := st.ListCaseResults(context.Background(), runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Errorf("case results = %d, want 4 (three cases plus one retry)", len(results))
	}
}

func TestRun_LogsProgress(t *testing.T) {
	e := newEnv(t)
	suitePath := e.write(t, "doors.yaml", passingSuite)

	root := NewRootCmd()
	var stderr bytes.Buffer
	root.SetOut(io.Discard)
	root.SetErr(&stderr)
	root.SetArgs([]string{"--db", e.db, "--config", filepath.Join(e.dir, "absent.yaml"),
		"--log-level", "debug", "run", suitePath, "--fast"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	logs := stderr.String()
	if !strings.Contains(logs, "msg=progress") || !strings.Contains(logs, "doors:0") {
		t.Errorf("no progress lines for batch doors:0 in logs:\n%s", logs)
	}
}

func TestRun_RequiredFailureExitsNonZero(t *testing.T) {
	e := newEnv(t)
	suitePath := e.write(t, "broken.yaml", failingSuite)

	out, err := e.exec(t, "run", suitePath, "--fast")
	var rf *RunFailedError
	if !errors.As(err, &rf) {
		t.Fatalf("err = %v, want RunFailedError", err)
	}
	if rf.Outcome != model.RunOutcomeFailed {
		t.Errorf("Outcome = %q, want failed", rf.Outcome)
	}
	if !strings.Contains(out, "1 passed, 1 failed (1 required, 0 optional)") {
		t.Errorf("unexpected summary:\n%s", out)
	}
}

func TestRun_HaltOnError(t *testing.T) {
	e := newEnv(t)
	suitePath := e.write(t, "broken.yaml", failingSuite)

	_, err := e.exec(t, "run", suitePath, "--fast", "--halt-on-error")
	var rf *RunFailedError
	if !errors.As(err, &rf) {
		t.Fatalf("err = %v, want RunFailedError", err)
	}
	if rf.Outcome != model.RunOutcomeHalted {
		t.Errorf("Outcome = %q, want halted", rf.Outcome)
	}

	st := openTestStore(t, e.db)
	results, err := st.ListCaseResults(context.Background(), rf.RunID)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Name == "never_runs_after_halt" {
			t.Errorf("case from the batch after the halt was recorded: %+v", r)
		}
	}
}

func TestRun_MaxRunTicksStopsRun(t *testing.T) {
	e := newEnv(t)
	suitePath := e.write(t, "endless.yaml", endlessSuite)

	_, err := e.exec(t, "run", suitePath, "--fast", "--max-run-ticks", "5")
	var rf *RunFailedError
	if !errors.As(err, &rf) {
		t.Fatalf("err = %v, want RunFailedError", err)
	}
	if rf.Outcome != model.RunOutcomeStopped {
		t.Errorf("Outcome = %q, want stopped", rf.Outcome)
	}

	st := openTestStore(t, e.db)
	results, err := st.ListCaseResults(context.Background(), rf.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !strings.Contains(results[0].Error, model.ErrAborted.Error()) {
		t.Errorf("results = %+v, want one aborted case", results)
	}
}

func TestRun_Errors(t *testing.T) {
	e := newEnv(t)
	bad := e.write(t, "bad.yaml", "name: x\ncases: []\n")

	tests := []struct {
		name string
		args []string
	}{
		{"missing suite", []string{"run", filepath.Join(e.dir, "nope.yaml"), "--fast"}},
		{"invalid suite", []string{"run", bad, "--fast"}},
		{"no args", []string{"run"}},
		{"bad batch size", []string{"run", bad, "--max-tests-per-batch", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.exec(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	e := newEnv(t)
	suitePath := e.write(t, "broken.yaml", failingSuite)
	cfgPath := e.write(t, "tickbatch.yaml", "runner:\n  halt_on_error: true\n")

	root := NewRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--db", e.db, "--config", cfgPath, "run", suitePath, "--fast"})
	err := root.ExecuteContext(context.Background())

	var rf *RunFailedError
	if !errors.As(err, &rf) || rf.Outcome != model.RunOutcomeHalted {
		t.Errorf("err = %v, want halted run from config file", err)
	}
}

func TestRunsAndCases_Local(t *testing.T) {
	e := newEnv(t)
	suitePath := e.write(t, "doors.yaml", passingSuite)
	out, err := e.exec(t, "run", suitePath, "--fast")
	if err != nil {
		t.Fatal(err)
	}
	runID := runIDPattern.FindString(out)

	out, err = e.exec(t, "runs")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, runID) || !strings.Contains(out, "passed") {
		t.Errorf("runs output missing %s:\n%s", runID, out)
	}

	out, err = e.exec(t, "runs", "--outcome", "failed")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No runs found.") {
		t.Errorf("filtered runs output = %q", out)
	}

	out, err = e.exec(t, "cases", runID)
	if err != nil {
		t.Fatalf("cases: %v", err)
	}
	for _, name := range []string{"door_opens", "door_flaky", "door_pinned", "hinge stuck"} {
		if !strings.Contains(out, name) {
			t.Errorf("cases output missing %q:\n%s", name, out)
		}
	}

	if _, err := e.exec(t, "cases", "run_missing"); err == nil {
		t.Error("cases for unknown run: expected error")
	}
}

func TestRunsAndCases_Remote(t *testing.T) {
	e := newEnv(t)
	suitePath := e.write(t, "doors.yaml", passingSuite)
	out, err := e.exec(t, "run", suitePath, "--fast")
	if err != nil {
		t.Fatal(err)
	}
	runID := runIDPattern.FindString(out)

	st := openTestStore(t, e.db)
	srv := server.New(config.DefaultServerConfig(), st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	other := newEnv(t)
	out, err = other.exec(t, "runs", "--server", ts.URL)
	if err != nil {
		t.Fatalf("runs --server: %v", err)
	}
	if !strings.Contains(out, runID) {
		t.Errorf("remote runs output missing %s:\n%s", runID, out)
	}

	out, err = other.exec(t, "cases", runID, "--server", ts.URL)
	if err != nil {
		t.Fatalf("cases --server: %v", err)
	}
	if !strings.Contains(out, "door_pinned") {
		t.Errorf("remote cases output:\n%s", out)
	}

	_, err = other.exec(t, "cases", "run_missing", "--server", ts.URL)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrNotFound {
		t.Errorf("err = %v, want NOT_FOUND APIError", err)
	}
}
