// Package ticker is the run queue that advances every running test case once
// per tick.
package ticker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/tickbatch/internal/logging"
	"github.com/me/tickbatch/internal/testcase"
)

// Ticker holds the running cases. It is not safe for concurrent use; a single
// goroutine drives Add, Tick and Clear.
type Ticker struct {
	cases  []*testcase.Case
	now    int
	logger *slog.Logger
}

// New creates an empty ticker.
func New(logger *slog.Logger) *Ticker {
	return &Ticker{logger: logging.Component(logger, "ticker")}
}

// Add starts c and registers it for ticking. A case that concludes while
// starting is not registered.
func (t *Ticker) Add(c *testcase.Case) {
	if err := c.Start(); err != nil {
		t.logger.Error("start case", "case_id", c.ID(), "name", c.Name(), "error", err)
		return
	}
	if c.Done() {
		return
	}
	t.cases = append(t.cases, c)
}

// Tick advances every registered case once, then drops concluded ones.
// Cases added or cleared during the tick take effect on the next one.
func (t *Ticker) Tick() {
	t.now++
	snapshot := make([]*testcase.Case, len(t.cases))
	copy(snapshot, t.cases)
	for _, c := range snapshot {
		c.Tick()
	}

	kept := t.cases[:0]
	for _, c := range t.cases {
		if !c.Done() {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(t.cases); i++ {
		t.cases[i] = nil
	}
	t.cases = kept
}

// Clear drops every registered case without advancing it.
func (t *Ticker) Clear() {
	if len(t.cases) > 0 {
		t.logger.Debug("run queue cleared", "cases", len(t.cases))
	}
	t.cases = nil
}

// Len returns the number of registered cases.
func (t *Ticker) Len() int {
	return len(t.cases)
}

// Now returns the number of ticks pumped so far.
func (t *Ticker) Now() int {
	return t.now
}

// RunUntil ticks synchronously until done reports true. maxTicks <= 0 means
// no limit. It returns the number of ticks pumped.
func (t *Ticker) RunUntil(done func() bool, maxTicks int) (int, error) {
	n := 0
	for !done() {
		if maxTicks > 0 && n >= maxTicks {
			return n, fmt.Errorf("gave up after %d ticks with %d cases running", n, t.Len())
		}
		t.Tick()
		n++
	}
	return n, nil
}

// Pump ticks every interval until done reports true or ctx is cancelled.
func (t *Ticker) Pump(ctx context.Context, interval time.Duration, done func() bool) error {
	if done() {
		return nil
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("pump stopping (context cancelled)", "tick", t.now)
			return ctx.Err()
		case <-tk.C:
			t.Tick()
			if done() {
				return nil
			}
		}
	}
}
