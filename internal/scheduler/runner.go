package scheduler

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/me/tickbatch/internal/batch"
	"github.com/me/tickbatch/internal/cohort"
	"github.com/me/tickbatch/internal/provision"
	"github.com/me/tickbatch/internal/testcase"
	"github.com/me/tickbatch/internal/ticker"
	"github.com/me/tickbatch/internal/world"
	"github.com/me/tickbatch/pkg/model"
)

// Runner executes a schedule of batches. It is driven entirely by the ticker
// and case callbacks, all on one goroutine; it never blocks.
type Runner struct {
	env         world.Environment
	ticker      *ticker.Ticker
	haltOnError bool
	batcher     batch.Batcher
	existing    provision.Provisioner
	fresh       provision.Provisioner
	listeners   []BatchListener
	logger      *slog.Logger

	state   model.RunState
	batches []*batch.Batch
	current *batchRun
	epoch   uint64
	tests   []*testcase.Case
	reruns  []*testcase.Case
	started int
	halted  bool

	// trampoline
	advancing bool
	next      int
	hasNext   bool
}

// batchRun is the handle for one batch in flight. Callbacks from a closed or
// superseded run are ignored.
type batchRun struct {
	runner  *Runner
	batch   *batch.Batch
	index   int
	epoch   uint64
	tracker *cohort.Tracker
	claims  []world.Region
	closed  bool
}

func (b *batchRun) live() bool {
	return !b.closed && b.runner.current == b && b.runner.epoch == b.epoch
}

// CaseFailed applies the halt policy. Without halt-on-error a failure counts
// toward completion like a pass.
func (b *batchRun) CaseFailed(c *testcase.Case) bool {
	if !b.live() || !b.runner.haltOnError {
		return false
	}
	b.runner.halt(b, c)
	return true
}

func (b *batchRun) CohortDone() {
	if !b.live() {
		return
	}
	b.runner.finish(b)
}

// Start runs the schedule from its first batch. Calling Start on a runner
// that is not idle panics with a *model.MisuseError.
func (r *Runner) Start() {
	if r.state != model.RunStateIdle {
		panic(&model.MisuseError{Op: "Start", Detail: fmt.Sprintf("runner is %s", r.state)})
	}
	r.logger.Info("run starting", "batches", len(r.batches), "halt_on_error", r.haltOnError)
	r.halted = false
	r.state = model.RunStateRunning
	r.advance(0)
}

// Stop ends the batch in progress: its after hook runs, its claims are
// released, the ticker is cleared and unfinished cases are aborted. Batch
// listeners are not told. Stopping an idle runner does nothing.
func (r *Runner) Stop() {
	if r.state == model.RunStateIdle {
		return
	}
	r.logger.Info("run stopped", "state", r.state)
	if run := r.current; run != nil {
		r.teardown(run, false)
	}
	r.ticker.Clear()
	r.idle()
}

// AddRerun queues a fresh instance of c for the final pass and tells c's
// listeners about it. An idle runner starts the rerun pass at once.
func (r *Runner) AddRerun(c *testcase.Case) {
	n := c.CopyReset()
	n.SetRerunner(r)
	for _, l := range c.Listeners() {
		l.AddedForRerun(c, n, r)
	}
	r.tests = append(r.tests, n)
	r.reruns = append(r.reruns, n)
	r.logger.Debug("rerun queued", "name", n.Name(), "attempt", n.Attempt(), "rerun_of", c.ID())

	if r.state == model.RunStateIdle {
		r.state = model.RunStateRunning
		r.batches = nil
		r.advance(0)
	}
}

// AddListener registers a batch listener.
func (r *Runner) AddListener(l BatchListener) {
	r.listeners = append(r.listeners, l)
}

// Tests returns every case the runner has seen, reruns included, in the
// order they were added.
func (r *Runner) Tests() []*testcase.Case {
	out := make([]*testcase.Case, len(r.tests))
	copy(out, r.tests)
	return out
}

// State returns the current run state.
func (r *Runner) State() model.RunState {
	return r.state
}

// Pending returns the number of queued reruns.
func (r *Runner) Pending() int {
	return len(r.reruns)
}

// Halted reports whether the last run ended on a failure under halt-on-error.
func (r *Runner) Halted() bool {
	return r.halted
}

// BatchesStarted counts batches started over the runner's lifetime.
func (r *Runner) BatchesStarted() int {
	return r.started
}

// Current returns the batch in progress, or nil.
func (r *Runner) Current() *batch.Batch {
	if r.current == nil {
		return nil
	}
	return r.current.batch
}

// Progress renders the current cohort, one rune per case.
func (r *Runner) Progress() string {
	if r.current == nil {
		return ""
	}
	return r.current.tracker.Progress()
}

func (r *Runner) adopt(c *testcase.Case) {
	c.SetRerunner(r)
	r.tests = append(r.tests, c)
}

// advance runs batches starting at index. Completions that fire while a batch
// is being started only record the next index; the outermost call keeps
// looping so the stack does not grow with the number of batches.
func (r *Runner) advance(index int) {
	r.next, r.hasNext = index, true
	if r.advancing {
		return
	}
	r.advancing = true
	defer func() { r.advancing = false }()

	for r.hasNext {
		i := r.next
		r.hasNext = false
		r.runBatch(i)
	}
}

func (r *Runner) runBatch(index int) {
	// A listener may have stopped the run while the previous batch closed.
	if r.state != model.RunStateRunning {
		return
	}
	if index < 0 || index > len(r.batches) {
		panic(&model.MisuseError{
			Op:     "runBatch",
			Detail: fmt.Sprintf("index %d outside [0, %d]", index, len(r.batches)),
		})
	}
	if index == len(r.batches) {
		r.drain()
		return
	}

	b := r.batches[index]
	r.epoch++
	run := &batchRun{runner: r, batch: b, index: index, epoch: r.epoch, tracker: cohort.New()}
	r.current = run
	r.started++
	logger := r.logger.With("batch", b.Name, "index", index)
	logger.Info("batch starting", "cases", len(b.Cases))

	r.existing.OnBatchStart(r.env)
	if r.fresh != r.existing {
		r.fresh.OnBatchStart(r.env)
	}

	var ready []*testcase.Case
	for _, c := range b.Cases {
		c.SetRerunner(r)
		if err := c.BeginProvisioning(); err != nil {
			logger.Warn("case not pending, skipping", "case_id", c.ID(), "name", c.Name(), "error", err)
			continue
		}
		p := provision.For(c, r.existing, r.fresh)
		if err := p.Provision(c); err != nil {
			logger.Warn("provisioning failed, dropping case", "case_id", c.ID(), "name", c.Name(), "error", err)
			if derr := c.Decline(err); derr != nil {
				logger.Error("decline case", "case_id", c.ID(), "error", derr)
			}
			continue
		}
		if region, ok := c.Region(); ok {
			run.claims = append(run.claims, region)
		}
		ready = append(ready, c)
	}

	if err := b.RunBefore(r.env); err != nil {
		logger.Error("before hook failed", "error", err)
	}
	for _, l := range r.listeners {
		l.BatchStarting(b)
	}
	if !run.live() {
		return
	}

	for _, c := range ready {
		run.tracker.Track(c)
	}
	run.tracker.Observe(run)
	if run.tracker.Len() == 0 {
		logger.Info("no cases could be provisioned")
		run.CohortDone()
		return
	}

	for _, c := range ready {
		if !run.live() {
			return
		}
		r.ticker.Add(c)
	}
}

// finish closes a batch whose cohort concluded and moves on.
func (r *Runner) finish(run *batchRun) {
	r.logger.Info("batch finished",
		"batch", run.batch.Name,
		"progress", run.tracker.Progress(),
		"failed_required", run.tracker.FailedRequired(),
		"failed_optional", run.tracker.FailedOptional(),
	)
	r.teardown(run, true)
	if r.state != model.RunStateRunning {
		return
	}
	r.current = nil
	r.advance(run.index + 1)
}

// halt ends the run after a failure under halt-on-error. Queued reruns stay
// queued for a later Start.
func (r *Runner) halt(run *batchRun, failed *testcase.Case) {
	var unfinished []string
	for _, c := range run.tracker.Cases() {
		if !c.Done() {
			unfinished = append(unfinished, c.Name())
		}
	}
	r.logger.Warn("halting run on failure",
		"batch", run.batch.Name,
		"case_id", failed.ID(),
		"name", failed.Name(),
		"error", failed.Err(),
		"aborting", strings.Join(unfinished, ", "),
	)
	r.state = model.RunStateHalted
	r.halted = true
	r.teardown(run, true)
	r.ticker.Clear()
	r.idle()
}

// teardown runs the after hook, optionally notifies listeners, releases the
// batch's claims and aborts any case that has not concluded. It runs at most
// once per batch run, even when a listener calls Stop from BatchFinished.
func (r *Runner) teardown(run *batchRun, notify bool) {
	if run.closed {
		return
	}
	run.closed = true
	if err := run.batch.RunAfter(r.env); err != nil {
		r.logger.Error("after hook failed", "batch", run.batch.Name, "error", err)
	}
	if notify {
		for _, l := range r.listeners {
			l.BatchFinished(run.batch)
		}
	}
	for _, region := range run.claims {
		r.env.ReleaseClaim(region)
	}
	run.claims = nil
	for _, c := range run.batch.Cases {
		if !c.Done() {
			c.Abort()
			r.logger.Debug("case aborted", "case_id", c.ID(), "name", c.Name())
		}
	}
}

func (r *Runner) idle() {
	r.current = nil
	r.batches = nil
	r.hasNext = false
	r.state = model.RunStateIdle
}

// drain turns queued reruns into a fresh schedule, or goes idle.
func (r *Runner) drain() {
	r.state = model.RunStateDraining
	r.current = nil
	if len(r.reruns) == 0 {
		r.logger.Info("run complete", "tests", len(r.tests))
		r.idle()
		return
	}

	queue := r.reruns
	r.reruns = nil
	names := make([]string, len(queue))
	for i, c := range queue {
		names[i] = c.Name()
	}
	r.logger.Info("starting rerun pass", "count", len(queue), "cases", strings.Join(names, ", "))

	r.batches = r.batcher.Batch(queue)
	r.state = model.RunStateRunning
	r.advance(0)
}
