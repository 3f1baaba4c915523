package testcase

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/me/tickbatch/internal/world"
	"github.com/me/tickbatch/pkg/model"
)

// Rerunner queues a fresh instance of a case. The batch scheduler implements it.
type Rerunner interface {
	AddRerun(c *Case)
}

// Listener observes a case's lifecycle. Callbacks run synchronously on the
// goroutine that drives the tick.
type Listener interface {
	StructureLoaded(c *Case)
	Passed(c *Case, r Rerunner)
	Failed(c *Case, r Rerunner)
	AddedForRerun(original, rerun *Case, r Rerunner)
}

// NopListener implements Listener with no-ops; embed it to override a subset.
type NopListener struct{}

func (NopListener) StructureLoaded(*Case)                {}
func (NopListener) Passed(*Case, Rerunner)               {}
func (NopListener) Failed(*Case, Rerunner)               {}
func (NopListener) AddedForRerun(*Case, *Case, Rerunner) {}

// Case is one execution instance of a Definition.
type Case struct {
	id        string
	def       *Definition
	status    model.CaseStatus
	attempt   int
	successes int
	origin    *Case

	region world.Region
	placed bool

	elapsed int
	err     error
	aborted bool

	rerunner  Rerunner
	listeners []Listener
	concluded []func(*Case)
}

// New creates a pending first-attempt case for def.
func New(def *Definition) *Case {
	return &Case{
		id:      "case_" + uuid.New().String(),
		def:     def,
		status:  model.CaseStatusPending,
		attempt: 1,
	}
}

func (c *Case) ID() string                   { return c.id }
func (c *Case) Name() string                 { return c.def.Name }
func (c *Case) Definition() *Definition      { return c.def }
func (c *Case) Status() model.CaseStatus     { return c.status }
func (c *Case) Attempt() int                 { return c.attempt }
func (c *Case) Origin() *Case                { return c.origin }
func (c *Case) Elapsed() int                 { return c.elapsed }
func (c *Case) Err() error                   { return c.err }
func (c *Case) Aborted() bool                { return c.aborted }
func (c *Case) Required() bool               { return c.def.Required }
func (c *Case) Done() bool                   { return c.status.IsTerminal() }
func (c *Case) Region() (world.Region, bool) { return c.region, c.placed }

// Successes counts passed attempts along the rerun chain, this one included.
func (c *Case) Successes() int { return c.successes }

// HasTriesLeft reports whether the retry policy allows another attempt after
// this one concluded.
func (c *Case) HasTriesLeft() bool {
	return c.attempt < c.def.Attempts() && c.successes < c.def.Successes()
}

// SetRerunner binds the scheduler handed to listener callbacks.
func (c *Case) SetRerunner(r Rerunner) {
	c.rerunner = r
}

// AddListener registers a lifecycle listener.
func (c *Case) AddListener(l Listener) {
	c.listeners = append(c.listeners, l)
}

// Listeners returns a copy of the registered listeners.
func (c *Case) Listeners() []Listener {
	out := make([]Listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

// OnConcluded registers fn to run once the case passes or fails, after every
// Listener has been told.
func (c *Case) OnConcluded(fn func(*Case)) {
	c.concluded = append(c.concluded, fn)
}

// BeginProvisioning moves a pending case to awaiting-environment.
func (c *Case) BeginProvisioning() error {
	return c.transition(model.CaseStatusAwaitingEnvironment)
}

// MarkPlaced records where the case's fixture was placed and notifies listeners.
func (c *Case) MarkPlaced(r world.Region) {
	c.region = r
	c.placed = true
	for _, l := range c.Listeners() {
		l.StructureLoaded(c)
	}
}

// Decline fails a case whose environment could not be prepared. Listeners are
// not notified: the case never ran, so it is not a test failure.
func (c *Case) Decline(err error) error {
	if err := c.transition(model.CaseStatusFailed); err != nil {
		return err
	}
	c.err = err
	return nil
}

// Start begins execution. With no setup ticks the first step is evaluated
// immediately, so the case may conclude before Start returns.
func (c *Case) Start() error {
	if err := c.transition(model.CaseStatusRunning); err != nil {
		return err
	}
	c.elapsed = 0
	if c.def.SetupTicks == 0 {
		c.step()
	}
	return nil
}

// Tick advances a running case by one tick. It is a no-op otherwise.
func (c *Case) Tick() {
	if c.status != model.CaseStatusRunning {
		return
	}
	c.elapsed++
	if c.elapsed >= c.def.SetupTicks {
		c.step()
	}
	if c.status == model.CaseStatusRunning && c.def.MaxTicks > 0 && c.elapsed >= c.def.MaxTicks {
		c.fail(fmt.Errorf("%w after %d ticks", model.ErrTimedOut, c.elapsed))
	}
}

// Abort force-fails a case that has not concluded, without notifying anyone.
// Used when the run around it halts or stops.
func (c *Case) Abort() {
	if c.status != model.CaseStatusRunning && c.status != model.CaseStatusAwaitingEnvironment {
		return
	}
	c.status = model.CaseStatusFailed
	c.err = model.ErrAborted
	c.aborted = true
}

// CopyReset returns a fresh pending instance of the same definition linked to
// c as its origin. Listeners are not copied.
func (c *Case) CopyReset() *Case {
	n := New(c.def)
	n.attempt = c.attempt + 1
	n.successes = c.successes
	n.origin = c
	n.rerunner = c.rerunner
	return n
}

func (c *Case) step() {
	if c.def.Behavior == nil {
		c.pass()
		return
	}
	verdict, err := c.def.Behavior.Step(StepContext{CaseID: c.id, Name: c.def.Name, Tick: c.elapsed, Attempt: c.attempt})
	switch {
	case err != nil:
		c.fail(err)
	case verdict == Pass:
		c.pass()
	case verdict == Fail:
		c.fail(fmt.Errorf("%s failed at tick %d", c.def.Name, c.elapsed))
	}
}

func (c *Case) pass() {
	c.status = model.CaseStatusPassed
	c.successes++
	for _, l := range c.Listeners() {
		l.Passed(c, c.rerunner)
	}
	c.conclude()
}

func (c *Case) fail(err error) {
	c.status = model.CaseStatusFailed
	c.err = err
	for _, l := range c.Listeners() {
		l.Failed(c, c.rerunner)
	}
	c.conclude()
}

func (c *Case) conclude() {
	fns := c.concluded
	c.concluded = nil
	for _, fn := range fns {
		fn(c)
	}
}

func (c *Case) transition(next model.CaseStatus) error {
	if !c.status.CanTransitionTo(next) {
		return &model.InvalidTransitionError{
			Entity: "Case",
			ID:     c.id,
			From:   c.status.String(),
			To:     next.String(),
		}
	}
	c.status = next
	return nil
}
