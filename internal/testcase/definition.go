// Package testcase holds the execution state of a single test case: its
// identity, its status machine, its listeners and its per-tick behaviour.
package testcase

import "github.com/me/tickbatch/internal/world"

// Verdict is what a behaviour decides on a given tick.
type Verdict int

const (
	// Continue keeps the case running.
	Continue Verdict = iota
	// Pass concludes the case successfully.
	Pass
	// Fail concludes the case negatively.
	Fail
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	default:
		return "continue"
	}
}

// StepContext is handed to a Behavior on every evaluated tick.
type StepContext struct {
	CaseID  string // unique per case instance, reruns included
	Name    string
	Tick    int // ticks since the case started
	Attempt int
}

// Behavior decides, tick by tick, whether a case has passed or failed.
// A non-nil error always fails the case.
type Behavior interface {
	Step(ctx StepContext) (Verdict, error)
}

// BehaviorFunc adapts a plain function to Behavior.
type BehaviorFunc func(ctx StepContext) (Verdict, error)

func (f BehaviorFunc) Step(ctx StepContext) (Verdict, error) {
	return f(ctx)
}

// PassAfter returns a behaviour that passes once n ticks have elapsed.
func PassAfter(n int) Behavior {
	return BehaviorFunc(func(ctx StepContext) (Verdict, error) {
		if ctx.Tick >= n {
			return Pass, nil
		}
		return Continue, nil
	})
}

// FailAfter returns a behaviour that fails once n ticks have elapsed.
func FailAfter(n int) Behavior {
	return BehaviorFunc(func(ctx StepContext) (Verdict, error) {
		if ctx.Tick >= n {
			return Fail, nil
		}
		return Continue, nil
	})
}

// Definition is the immutable description a case instance is created from.
// Reruns share the definition of the case they were copied from.
type Definition struct {
	Name    string
	Batch   string
	Fixture string

	// Location pins the case to a fixed spot. Nil means the case needs a
	// freshly allocated spot.
	Location *world.Position

	// SetupTicks delays the first behaviour step.
	SetupTicks int
	// MaxTicks fails the case with ErrTimedOut once reached. Zero disables it.
	MaxTicks int

	// Required failures fail the run; optional ones are only reported.
	Required bool

	// MaxAttempts and RequiredSuccesses drive reruns. Both default to 1.
	MaxAttempts       int
	RequiredSuccesses int

	Behavior Behavior
}

// Attempts returns MaxAttempts with its default applied.
func (d *Definition) Attempts() int {
	if d.MaxAttempts <= 0 {
		return 1
	}
	return d.MaxAttempts
}

// Successes returns RequiredSuccesses with its default applied.
func (d *Definition) Successes() int {
	if d.RequiredSuccesses <= 0 {
		return 1
	}
	return d.RequiredSuccesses
}
