// Package report records case outcomes and applies the retry policy.
package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/me/tickbatch/internal/batch"
	"github.com/me/tickbatch/internal/logging"
	"github.com/me/tickbatch/internal/store"
	"github.com/me/tickbatch/internal/testcase"
	"github.com/me/tickbatch/pkg/model"
)

// Reporter listens to every case of a run and to its batches. It logs each
// outcome, persists it when a store is set and requests a rerun while the
// case's retry policy allows one.
type Reporter struct {
	ctx    context.Context
	store  store.Store
	runID  string
	logger *slog.Logger

	batches   int
	caseBatch map[string]string
	recorded  map[string]bool
	results   []*model.CaseResult
}

// NewReporter creates a reporter for runID. st may be nil.
func NewReporter(ctx context.Context, st store.Store, runID string, logger *slog.Logger) *Reporter {
	return &Reporter{
		ctx:       ctx,
		store:     st,
		runID:     runID,
		logger:    logging.Component(logger, "report"),
		caseBatch: make(map[string]string),
		recorded:  make(map[string]bool),
	}
}

func (r *Reporter) BatchStarting(b *batch.Batch) {
	r.batches++
	for _, c := range b.Cases {
		r.caseBatch[c.ID()] = b.Name
	}
}

func (r *Reporter) BatchFinished(b *batch.Batch) {
	r.logger.Debug("batch finished", "batch", b.Name)
}

func (r *Reporter) StructureLoaded(c *testcase.Case) {
	if region, ok := c.Region(); ok {
		r.logger.Debug("fixture ready", "name", c.Name(), "region", region.String())
	}
}

func (r *Reporter) Passed(c *testcase.Case, rr testcase.Rerunner) {
	r.logger.Info("test passed", "name", c.Name(), "attempt", c.Attempt(), "ticks", c.Elapsed())
	r.record(c)
	r.retry(c, rr)
}

func (r *Reporter) Failed(c *testcase.Case, rr testcase.Rerunner) {
	level := slog.LevelWarn
	if c.Required() && !c.HasTriesLeft() {
		level = slog.LevelError
	}
	r.logger.Log(r.ctx, level, "test failed",
		"name", c.Name(),
		"attempt", c.Attempt(),
		"required", c.Required(),
		"error", c.Err(),
	)
	r.record(c)
	r.retry(c, rr)
}

// AddedForRerun follows the rerun so its outcome is reported too.
func (r *Reporter) AddedForRerun(original, rerun *testcase.Case, _ testcase.Rerunner) {
	rerun.AddListener(r)
}

func (r *Reporter) retry(c *testcase.Case, rr testcase.Rerunner) {
	if rr == nil || !c.HasTriesLeft() {
		return
	}
	r.logger.Info("rerunning test", "name", c.Name(), "next_attempt", c.Attempt()+1,
		"successes", c.Successes(), "required_successes", c.Definition().Successes())
	rr.AddRerun(c)
}

// Flush records concluded cases that never reached a listener: cases a
// provisioner declined and cases aborted by a halt or stop.
func (r *Reporter) Flush(cases []*testcase.Case) {
	for _, c := range cases {
		if !c.Done() || r.recorded[c.ID()] {
			continue
		}
		r.logger.Warn("test did not run to completion", "name", c.Name(), "error", c.Err())
		r.record(c)
	}
}

// Results returns the recorded results in recording order.
func (r *Reporter) Results() []*model.CaseResult {
	out := make([]*model.CaseResult, len(r.results))
	copy(out, r.results)
	return out
}

// Summary totals the recorded results.
func (r *Reporter) Summary() model.RunSummary {
	s := model.ComputeRunSummary(r.results)
	s.Batches = r.batches
	return s
}

// Outcome derives the final run outcome.
func Outcome(s model.RunSummary, halted, stopped bool) model.RunOutcome {
	switch {
	case halted:
		return model.RunOutcomeHalted
	case stopped:
		return model.RunOutcomeStopped
	case s.FailedRequired > 0:
		return model.RunOutcomeFailed
	default:
		return model.RunOutcomePassed
	}
}

func (r *Reporter) record(c *testcase.Case) {
	if r.recorded[c.ID()] {
		return
	}
	r.recorded[c.ID()] = true

	res := &model.CaseResult{
		ID:         c.ID(),
		RunID:      r.runID,
		Name:       c.Name(),
		Batch:      r.caseBatch[c.ID()],
		Status:     c.Status(),
		Required:   c.Required(),
		Attempt:    c.Attempt(),
		Ticks:      c.Elapsed(),
		RecordedAt: time.Now().UTC(),
	}
	if o := c.Origin(); o != nil {
		res.RerunOf = o.ID()
	}
	if err := c.Err(); err != nil {
		res.Error = err.Error()
	}
	r.results = append(r.results, res)

	if r.store == nil {
		return
	}
	if err := r.store.RecordCase(r.ctx, res); err != nil {
		r.logger.Error("record case", "case_id", c.ID(), "error", err)
	}
}
