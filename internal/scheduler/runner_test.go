package scheduler

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/me/tickbatch/internal/batch"
	"github.com/me/tickbatch/internal/testcase"
	"github.com/me/tickbatch/internal/ticker"
	"github.com/me/tickbatch/internal/world"
	"github.com/me/tickbatch/pkg/model"
)

type eventLog struct {
	events []string
}

func (e *eventLog) add(s string) { e.events = append(e.events, s) }

func (e *eventLog) String() string { return strings.Join(e.events, " ") }

func (e *eventLog) count(s string) int {
	n := 0
	for _, ev := range e.events {
		if ev == s {
			n++
		}
	}
	return n
}

// fakeProvisioner places every case in its own unit cell and claims it.
type fakeProvisioner struct {
	log    *eventLog
	env    world.Environment
	fail   map[string]bool
	starts int
	n      int
}

func (p *fakeProvisioner) Name() string { return "fake" }

func (p *fakeProvisioner) OnBatchStart(world.Environment) { p.starts++ }

func (p *fakeProvisioner) Provision(c *testcase.Case) error {
	p.log.add("provision:" + c.Name())
	if p.fail[c.Name()] {
		return &model.ProvisionError{CaseID: c.ID(), Provisioner: p.Name(), Err: model.ErrCellOccupied}
	}
	r := world.RegionAt(world.Position{X: p.n * 4}, world.Size{X: 1, Y: 1, Z: 1})
	p.n++
	p.env.ReserveClaim(r)
	c.MarkPlaced(r)
	return nil
}

type harness struct {
	t      *testing.T
	log    *eventLog
	env    *world.Memory
	ticker *ticker.Ticker
	prov   *fakeProvisioner
	logger *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := &eventLog{}
	env := world.NewMemory()
	return &harness{
		t:      t,
		log:    log,
		env:    env,
		ticker: ticker.New(logger),
		prov:   &fakeProvisioner{log: log, env: env, fail: map[string]bool{}},
		logger: logger,
	}
}

func (h *harness) builder(haltOnError bool) *Builder {
	return NewBuilder(h.env, h.ticker).
		HaltOnError(haltOnError).
		FreshProvisioner(h.prov).
		Logger(h.logger).
		Batcher(batch.Single("reruns", nil)).
		Listener(BatchListenerFuncs{
			Starting: func(b *batch.Batch) { h.log.add("starting:" + b.Name) },
			Finished: func(b *batch.Batch) { h.log.add("finished:" + b.Name) },
		})
}

func (h *harness) batch(name string, defs ...*testcase.Definition) *batch.Batch {
	cases := make([]*testcase.Case, len(defs))
	for i, d := range defs {
		cases[i] = testcase.New(d)
	}
	return batch.New(name, cases,
		func(world.Environment) error { h.log.add("before:" + name); return nil },
		func(world.Environment) error { h.log.add("after:" + name); return nil },
	)
}

func (h *harness) runToIdle(r *Runner) {
	h.t.Helper()
	if _, err := h.ticker.RunUntil(func() bool {
		return r.State() == model.RunStateIdle && h.ticker.Len() == 0
	}, 1000); err != nil {
		h.t.Fatalf("RunUntil: %v", err)
	}
}

func passing(name string, ticks int) *testcase.Definition {
	return &testcase.Definition{Name: name, Behavior: testcase.PassAfter(ticks)}
}

func failing(name string, ticks int) *testcase.Definition {
	return &testcase.Definition{Name: name, Required: true, Behavior: testcase.FailAfter(ticks)}
}

func TestRunner_TwoBatchesAllPass(t *testing.T) {
	h := newHarness(t)
	a := h.batch("A", passing("a1", 1), passing("a2", 3), passing("a3", 2))
	b := h.batch("B", passing("b1", 2), passing("b2", 1))
	r := h.builder(false).FromBatches([]*batch.Batch{a, b})

	r.Start()
	h.runToIdle(r)

	want := "provision:a1 provision:a2 provision:a3 before:A starting:A after:A finished:A " +
		"provision:b1 provision:b2 before:B starting:B after:B finished:B"
	if got := h.log.String(); got != want {
		t.Errorf("events =\n  %s\nwant\n  %s", got, want)
	}
	if r.State() != model.RunStateIdle {
		t.Errorf("State = %s, want idle", r.State())
	}
	if r.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", r.Pending())
	}
	for _, c := range r.Tests() {
		if c.Status() != model.CaseStatusPassed {
			t.Errorf("%s status = %s, want passed", c.Name(), c.Status())
		}
	}
	if n := len(h.env.Claims()); n != 0 {
		t.Errorf("claims left = %d, want 0", n)
	}
	if h.prov.starts != 2 {
		t.Errorf("OnBatchStart calls = %d, want 2", h.prov.starts)
	}
}

func TestRunner_AfterHookSeesTerminalCohort(t *testing.T) {
	h := newHarness(t)
	var seen []model.CaseStatus
	var b *batch.Batch
	b = h.batch("A", passing("a1", 1), failing("a2", 2), passing("a3", 4))
	b.After = func(world.Environment) error {
		for _, c := range b.Cases {
			seen = append(seen, c.Status())
		}
		return nil
	}
	r := h.builder(false).FromBatches([]*batch.Batch{b})

	r.Start()
	h.runToIdle(r)

	if len(seen) != 3 {
		t.Fatalf("after hook ran %d times over %d cases, want once over 3", len(seen)/3, len(seen))
	}
	for i, s := range seen {
		if !s.IsTerminal() {
			t.Errorf("case %d status in after hook = %s, want terminal", i, s)
		}
	}
	if seen[1] != model.CaseStatusFailed {
		t.Errorf("a2 status = %s, want failed", seen[1])
	}
}

func TestRunner_HaltOnErrorStopsRun(t *testing.T) {
	h := newHarness(t)
	a := h.batch("A", failing("a1", 1), passing("a2", 10))
	b := h.batch("B", passing("b1", 1))
	r := h.builder(true).FromBatches([]*batch.Batch{a, b})

	r.Start()
	h.ticker.Tick()

	if r.State() != model.RunStateIdle {
		t.Fatalf("State = %s, want idle after halt", r.State())
	}
	if !r.Halted() {
		t.Error("Halted() = false, want true")
	}
	if h.ticker.Len() != 0 {
		t.Errorf("ticker still holds %d cases", h.ticker.Len())
	}
	if n := h.log.count("finished:A"); n != 1 {
		t.Errorf("finished:A fired %d times, want 1", n)
	}
	if n := h.log.count("after:A"); n != 1 {
		t.Errorf("after:A ran %d times, want 1", n)
	}
	if strings.Contains(h.log.String(), "provision:b1") || strings.Contains(h.log.String(), ":B") {
		t.Errorf("batch B touched after halt: %s", h.log)
	}
	if n := len(h.env.Claims()); n != 0 {
		t.Errorf("claims left = %d, want 0", n)
	}

	a2 := a.Cases[1]
	if !a2.Aborted() || !errors.Is(a2.Err(), model.ErrAborted) {
		t.Errorf("a2 aborted=%v err=%v, want aborted", a2.Aborted(), a2.Err())
	}

	// Further ticks do nothing.
	h.ticker.Tick()
	if n := h.log.count("finished:A"); n != 1 {
		t.Errorf("finished:A fired %d times after extra tick, want 1", n)
	}
}

func TestRunner_HaltSkipsRerunDrain(t *testing.T) {
	h := newHarness(t)
	a := h.batch("A", failing("a1", 1))
	r := h.builder(true).FromBatches([]*batch.Batch{a})
	a.Cases[0].AddListener(&rerunOnFail{})

	r.Start()
	h.ticker.Tick()

	if r.State() != model.RunStateIdle {
		t.Fatalf("State = %s, want idle", r.State())
	}
	if r.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1 queued rerun", r.Pending())
	}
	if strings.Contains(h.log.String(), "starting:reruns") {
		t.Errorf("rerun pass started after halt: %s", h.log)
	}

	// A later Start drains the queue.
	r.Start()
	h.runToIdle(r)
	if n := h.log.count("starting:reruns"); n != 1 {
		t.Errorf("starting:reruns = %d, want 1", n)
	}
}

type rerunOnFail struct {
	testcase.NopListener
}

func (rerunOnFail) Failed(c *testcase.Case, r testcase.Rerunner) {
	if c.Attempt() == 1 {
		r.AddRerun(c)
	}
}

func TestRunner_ContinueOnErrorCountsFailureAsDone(t *testing.T) {
	h := newHarness(t)
	a := h.batch("A", failing("a1", 1), passing("a2", 3))
	b := h.batch("B", passing("b1", 1))
	r := h.builder(false).FromBatches([]*batch.Batch{a, b})

	r.Start()
	h.runToIdle(r)

	if n := h.log.count("finished:B"); n != 1 {
		t.Errorf("finished:B = %d, want 1", n)
	}
	if a.Cases[0].Status() != model.CaseStatusFailed {
		t.Errorf("a1 status = %s, want failed", a.Cases[0].Status())
	}
}

func TestRunner_RerunPass(t *testing.T) {
	h := newHarness(t)
	a := h.batch("A", failing("a1", 1), passing("a2", 1))
	rec := &rerunRecorder{}
	for _, c := range a.Cases {
		c.AddListener(&rerunOnFail{})
		c.AddListener(rec)
	}
	r := h.builder(false).FromBatches([]*batch.Batch{a})

	r.Start()
	h.runToIdle(r)

	tests := r.Tests()
	if len(tests) != 3 {
		t.Fatalf("Tests() = %d, want 3", len(tests))
	}
	rerun := tests[2]
	if rerun.Origin() != a.Cases[0] || rerun.Attempt() != 2 {
		t.Errorf("rerun origin/attempt = %v/%d", rerun.Origin() == a.Cases[0], rerun.Attempt())
	}
	if a.Cases[0].Status() != model.CaseStatusFailed {
		t.Errorf("original status = %s, want failed", a.Cases[0].Status())
	}
	if rerun.Status() != model.CaseStatusFailed {
		t.Errorf("rerun status = %s, want failed", rerun.Status())
	}
	if len(rec.pairs) != 1 || rec.pairs[0] != "a1" {
		t.Errorf("AddedForRerun = %v, want [a1]", rec.pairs)
	}

	want := "after:A finished:A provision:a1 starting:reruns finished:reruns"
	if got := h.log.String(); !strings.HasSuffix(got, want) {
		t.Errorf("events = %s, want suffix %q", got, want)
	}
}

type rerunRecorder struct {
	testcase.NopListener
	pairs []string
}

func (r *rerunRecorder) AddedForRerun(o, _ *testcase.Case, _ testcase.Rerunner) {
	r.pairs = append(r.pairs, o.Name())
}

func TestRunner_AddRerunWhileIdle(t *testing.T) {
	h := newHarness(t)
	a := h.batch("A", passing("a1", 1))
	r := h.builder(false).FromBatches([]*batch.Batch{a})
	r.Start()
	h.runToIdle(r)
	h.log.events = nil

	r.AddRerun(a.Cases[0])
	if r.State() != model.RunStateRunning {
		t.Fatalf("State = %s, want running", r.State())
	}
	h.runToIdle(r)

	want := "provision:a1 starting:reruns finished:reruns"
	if got := h.log.String(); got != want {
		t.Errorf("events = %q, want %q", got, want)
	}
	if strings.Contains(h.log.String(), "after:A") {
		t.Error("prior batch after hook ran again")
	}
}

func TestRunner_ZeroBatches(t *testing.T) {
	h := newHarness(t)
	r := h.builder(false).FromBatches(nil)
	r.Start()
	if r.State() != model.RunStateIdle {
		t.Errorf("State = %s, want idle", r.State())
	}
	if len(h.log.events) != 0 {
		t.Errorf("events = %v, want none", h.log.events)
	}
}

func TestRunner_ZeroBatchesDrainsQueuedReruns(t *testing.T) {
	h := newHarness(t)
	a := h.batch("A", failing("a1", 1))
	a.Cases[0].AddListener(&rerunOnFail{})
	r := h.builder(true).FromBatches([]*batch.Batch{a})
	r.Start()
	h.ticker.Tick()
	if r.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", r.Pending())
	}

	h.log.events = nil
	r.Start()
	if strings.Contains(h.log.String(), ":A") {
		t.Errorf("primary batch touched: %s", h.log)
	}
	h.runToIdle(r)
	if r.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", r.Pending())
	}
}

func TestRunner_ProvisioningFailureDropsCase(t *testing.T) {
	h := newHarness(t)
	h.prov.fail["broken"] = true
	a := h.batch("A", passing("ok", 1), passing("broken", 1))
	r := h.builder(false).FromBatches([]*batch.Batch{a})

	r.Start()
	h.runToIdle(r)

	broken := a.Cases[1]
	if broken.Status() != model.CaseStatusFailed {
		t.Errorf("broken status = %s, want failed", broken.Status())
	}
	var pe *model.ProvisionError
	if !errors.As(broken.Err(), &pe) {
		t.Errorf("broken err = %v, want ProvisionError", broken.Err())
	}
	if n := h.log.count("finished:A"); n != 1 {
		t.Errorf("finished:A = %d, want 1", n)
	}
}

func TestRunner_EmptyCohortCompletesImmediately(t *testing.T) {
	h := newHarness(t)
	h.prov.fail["x"] = true
	a := h.batch("A", passing("x", 1))
	b := h.batch("B", passing("b1", 0))
	r := h.builder(false).FromBatches([]*batch.Batch{a, b})

	r.Start()

	if r.State() != model.RunStateIdle {
		t.Errorf("State = %s, want idle without ticking", r.State())
	}
	if n := h.log.count("finished:B"); n != 1 {
		t.Errorf("finished:B = %d, want 1", n)
	}
}

func TestRunner_ImmediateCompletionUsesLoop(t *testing.T) {
	h := newHarness(t)
	var batches []*batch.Batch
	for i := 0; i < 500; i++ {
		batches = append(batches, batch.New("b", []*testcase.Case{testcase.New(passing("p", 0))}, nil, nil))
	}
	r := h.builder(false).FromBatches(batches)

	r.Start()

	if r.State() != model.RunStateIdle {
		t.Fatalf("State = %s, want idle", r.State())
	}
	if r.BatchesStarted() != 500 {
		t.Errorf("BatchesStarted = %d, want 500", r.BatchesStarted())
	}
}

func TestRunner_Stop(t *testing.T) {
	h := newHarness(t)
	a := h.batch("A", passing("a1", 5), passing("a2", 5))
	b := h.batch("B", passing("b1", 1))
	r := h.builder(false).FromBatches([]*batch.Batch{a, b})

	r.Start()
	h.ticker.Tick()
	r.Stop()

	if r.State() != model.RunStateIdle {
		t.Fatalf("State = %s, want idle", r.State())
	}
	if h.log.count("after:A") != 1 {
		t.Errorf("after:A = %d, want 1", h.log.count("after:A"))
	}
	if h.log.count("finished:A") != 0 {
		t.Errorf("finished:A fired on stop")
	}
	if h.ticker.Len() != 0 || len(h.env.Claims()) != 0 {
		t.Errorf("ticker=%d claims=%d, want 0/0", h.ticker.Len(), len(h.env.Claims()))
	}

	for i := 0; i < 10; i++ {
		h.ticker.Tick()
	}
	if strings.Contains(h.log.String(), ":B") {
		t.Errorf("batch B ran after stop: %s", h.log)
	}

	// Stopping an idle runner is a no-op.
	r.Stop()
	if h.log.count("after:A") != 1 {
		t.Error("second Stop ran the after hook again")
	}
}

func TestRunner_StartAfterStopRunsOnlyReruns(t *testing.T) {
	h := newHarness(t)
	a := h.batch("A", failing("a1", 1), passing("a2", 5))
	a.Cases[0].AddListener(&rerunOnFail{})
	b := h.batch("B", passing("b1", 1))
	r := h.builder(false).FromBatches([]*batch.Batch{a, b})

	r.Start()
	h.ticker.Tick()
	if r.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", r.Pending())
	}
	r.Stop()

	h.log.events = nil
	r.Start()
	h.runToIdle(r)

	got := h.log.String()
	if strings.Contains(got, ":A") || strings.Contains(got, ":B") {
		t.Errorf("stopped schedule ran again: %s", got)
	}
	if want := "provision:a1 starting:reruns finished:reruns"; got != want {
		t.Errorf("events = %q, want %q", got, want)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", r.Pending())
	}
}

func TestRunner_StopFromBatchFinished(t *testing.T) {
	tests := []struct {
		name       string
		halt       bool
		a          []*testcase.Definition
		wantHalted bool
	}{
		{"after normal completion", false, []*testcase.Definition{passing("a1", 1)}, false},
		{"during halt", true, []*testcase.Definition{failing("a1", 1), passing("a2", 10)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			a := h.batch("A", tt.a...)
			b := h.batch("B", passing("b1", 1))
			r := h.builder(tt.halt).FromBatches([]*batch.Batch{a, b})
			r.AddListener(BatchListenerFuncs{Finished: func(*batch.Batch) { r.Stop() }})

			r.Start()
			h.ticker.Tick()

			if r.State() != model.RunStateIdle {
				t.Fatalf("State = %s, want idle", r.State())
			}
			if n := h.log.count("after:A"); n != 1 {
				t.Errorf("after:A ran %d times, want 1 (events: %s)", n, h.log)
			}
			if n := h.log.count("finished:A"); n != 1 {
				t.Errorf("finished:A fired %d times, want 1", n)
			}
			if strings.Contains(h.log.String(), ":B") {
				t.Errorf("batch B ran after stop: %s", h.log)
			}
			if r.Halted() != tt.wantHalted {
				t.Errorf("Halted() = %v, want %v", r.Halted(), tt.wantHalted)
			}
			if h.ticker.Len() != 0 || len(h.env.Claims()) != 0 {
				t.Errorf("ticker=%d claims=%d, want 0/0", h.ticker.Len(), len(h.env.Claims()))
			}
		})
	}
}

func TestRunner_Misuse(t *testing.T) {
	tests := []struct {
		name string
		fn   func(r *Runner)
	}{
		{"double start", func(r *Runner) { r.Start(); r.Start() }},
		{"index out of range", func(r *Runner) { r.state = model.RunStateRunning; r.runBatch(5) }},
		{"negative index", func(r *Runner) { r.state = model.RunStateRunning; r.runBatch(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			r := h.builder(false).FromBatches([]*batch.Batch{h.batch("A", passing("a1", 5))})

			defer func() {
				rec := recover()
				var me *model.MisuseError
				err, ok := rec.(error)
				if !ok || !errors.As(err, &me) {
					t.Fatalf("recovered %v, want *model.MisuseError", rec)
				}
			}()
			tt.fn(r)
		})
	}
}

func TestBuilder_Defaults(t *testing.T) {
	env := world.NewMemory()
	pos := world.Position{X: 10}
	cat := world.NewCatalog(world.Fixture{Name: "box", Size: world.Size{X: 2, Y: 2, Z: 2}})
	defs := []*testcase.Definition{
		{Name: "pinned", Fixture: "box", Location: &pos, Batch: "g"},
		{Name: "floating", Fixture: "box", Batch: "g"},
	}
	r := NewBuilder(env, nil).Catalog(cat).FromDefinitions(defs)
	if len(r.Tests()) != 2 {
		t.Fatalf("Tests() = %d, want 2", len(r.Tests()))
	}

	r.Start()

	pinned, floating := r.Tests()[0], r.Tests()[1]
	if pinned.Status() != model.CaseStatusPassed {
		t.Errorf("pinned status = %s, want passed (in-place default)", pinned.Status())
	}
	if !errors.Is(floating.Err(), model.ErrNotConfigured) {
		t.Errorf("floating err = %v, want ErrNotConfigured (unset default)", floating.Err())
	}
	if r.State() != model.RunStateIdle {
		t.Errorf("State = %s, want idle", r.State())
	}
}
