// Package batch groups test cases into the ordered batches the scheduler
// runs, together with the hooks that run around each batch.
package batch

import (
	"fmt"

	"github.com/me/tickbatch/internal/testcase"
	"github.com/me/tickbatch/internal/world"
)

// Hook is a side effect against the shared environment, run before or after
// a batch.
type Hook func(env world.Environment) error

// Batch is an ordered group of cases sharing before and after hooks.
type Batch struct {
	Name   string
	Cases  []*testcase.Case
	Before Hook
	After  Hook
}

// New creates a batch. Nil hooks are allowed.
func New(name string, cases []*testcase.Case, before, after Hook) *Batch {
	return &Batch{Name: name, Cases: cases, Before: before, After: after}
}

// RunBefore runs the before hook, if any.
func (b *Batch) RunBefore(env world.Environment) error {
	if b.Before == nil {
		return nil
	}
	if err := b.Before(env); err != nil {
		return fmt.Errorf("before hook for batch %s: %w", b.Name, err)
	}
	return nil
}

// RunAfter runs the after hook, if any.
func (b *Batch) RunAfter(env world.Environment) error {
	if b.After == nil {
		return nil
	}
	if err := b.After(env); err != nil {
		return fmt.Errorf("after hook for batch %s: %w", b.Name, err)
	}
	return nil
}

// Names returns the case names in batch order.
func (b *Batch) Names() []string {
	names := make([]string, len(b.Cases))
	for i, c := range b.Cases {
		names[i] = c.Name()
	}
	return names
}
