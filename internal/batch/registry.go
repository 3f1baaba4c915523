package batch

import (
	"sort"
	"sync"

	"github.com/me/tickbatch/internal/world"
)

// HookKind says when a registered hook runs.
type HookKind string

const (
	HookBefore HookKind = "before"
	HookAfter  HookKind = "after"
)

// HookHandle identifies one registration. Keep it to unregister later.
type HookHandle uint64

type hookEntry struct {
	group string
	kind  HookKind
	fn    Hook
}

// Registry maps batch group names to their hooks. Several hooks may be
// registered for the same group and kind; they run in registration order.
type Registry struct {
	mu      sync.Mutex
	next    HookHandle
	entries map[HookHandle]hookEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[HookHandle]hookEntry)}
}

// Register adds fn for the group and returns its handle.
func (r *Registry) Register(group string, kind HookKind, fn Hook) HookHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries[r.next] = hookEntry{group: group, kind: kind, fn: fn}
	return r.next
}

// Unregister removes a registration. It reports whether the handle was known.
func (r *Registry) Unregister(h HookHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[h]; !ok {
		return false
	}
	delete(r.entries, h)
	return true
}

// Before returns the combined before hook for group, or nil.
func (r *Registry) Before(group string) Hook {
	return r.compose(group, HookBefore)
}

// After returns the combined after hook for group, or nil.
func (r *Registry) After(group string) Hook {
	return r.compose(group, HookAfter)
}

// compose snapshots the matching hooks so later registrations do not change
// batches that were already built.
func (r *Registry) compose(group string, kind HookKind) Hook {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	var handles []HookHandle
	for h, e := range r.entries {
		if e.group == group && e.kind == kind {
			handles = append(handles, h)
		}
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	fns := make([]Hook, len(handles))
	for i, h := range handles {
		fns[i] = r.entries[h].fn
	}
	r.mu.Unlock()

	if len(fns) == 0 {
		return nil
	}
	return func(env world.Environment) error {
		for _, fn := range fns {
			if err := fn(env); err != nil {
				return err
			}
		}
		return nil
	}
}
