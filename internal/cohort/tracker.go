// Package cohort tracks the set of cases in flight for one batch and reports,
// exactly once, when every one of them has concluded.
package cohort

import (
	"strings"

	"github.com/me/tickbatch/internal/testcase"
	"github.com/me/tickbatch/pkg/model"
)

// Observer receives cohort events. CaseFailed runs before done detection for
// that case; returning true halts the cohort, after which nothing else is
// reported.
type Observer interface {
	CaseFailed(c *testcase.Case) (halt bool)
	CohortDone()
}

// Tracker watches a fixed set of cases. Register the observer before any
// tracked case can conclude, or completions are missed.
type Tracker struct {
	cases    []*testcase.Case
	observer Observer
	done     bool
	halted   bool
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{}
}

// Track adds c to the cohort and subscribes to its conclusion.
func (t *Tracker) Track(c *testcase.Case) {
	t.cases = append(t.cases, c)
	c.OnConcluded(t.concluded)
}

// Observe sets the observer notified of failures and completion.
func (t *Tracker) Observe(o Observer) {
	t.observer = o
}

// Cases returns the tracked cases in tracking order.
func (t *Tracker) Cases() []*testcase.Case {
	out := make([]*testcase.Case, len(t.cases))
	copy(out, t.cases)
	return out
}

// Len returns the number of tracked cases.
func (t *Tracker) Len() int {
	return len(t.cases)
}

// IsDone reports whether every tracked case has concluded. An empty cohort
// is done.
func (t *Tracker) IsDone() bool {
	for _, c := range t.cases {
		if !c.Done() {
			return false
		}
	}
	return true
}

// Halted reports whether the observer halted the cohort.
func (t *Tracker) Halted() bool {
	return t.halted
}

// FailedRequired counts concluded required cases that failed.
func (t *Tracker) FailedRequired() int {
	n := 0
	for _, c := range t.cases {
		if c.Status() == model.CaseStatusFailed && c.Required() {
			n++
		}
	}
	return n
}

// FailedOptional counts concluded optional cases that failed.
func (t *Tracker) FailedOptional() int {
	n := 0
	for _, c := range t.cases {
		if c.Status() == model.CaseStatusFailed && !c.Required() {
			n++
		}
	}
	return n
}

// Progress renders one rune per case: '.' passed, 'X' failed required,
// 'x' failed optional, '_' not started, ' ' running.
func (t *Tracker) Progress() string {
	var b strings.Builder
	for _, c := range t.cases {
		switch c.Status() {
		case model.CaseStatusPassed:
			b.WriteByte('.')
		case model.CaseStatusFailed:
			if c.Required() {
				b.WriteByte('X')
			} else {
				b.WriteByte('x')
			}
		case model.CaseStatusRunning:
			b.WriteByte(' ')
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (t *Tracker) concluded(c *testcase.Case) {
	if t.done || t.halted {
		return
	}
	if c.Status() == model.CaseStatusFailed && t.observer != nil {
		if t.observer.CaseFailed(c) {
			t.halted = true
			return
		}
	}
	if t.done || !t.IsDone() {
		return
	}
	t.done = true
	if t.observer != nil {
		t.observer.CohortDone()
	}
}
