package batch

import (
	"fmt"

	"github.com/me/tickbatch/internal/testcase"
)

// DefaultMaxPerBatch caps how many cases ByName puts in one batch.
const DefaultMaxPerBatch = 50

// DefaultGroup names the batch of cases whose definition has no batch name.
const DefaultGroup = "default"

// Batcher turns a flat list of cases into ordered batches.
type Batcher interface {
	Batch(cases []*testcase.Case) []*Batch
}

// BatcherFunc adapts a function to Batcher.
type BatcherFunc func(cases []*testcase.Case) []*Batch

func (f BatcherFunc) Batch(cases []*testcase.Case) []*Batch {
	return f(cases)
}

// ByName groups cases by their definition's batch name, in order of first
// appearance, and splits each group into chunks of at most maxPerBatch named
// "<group>:<n>". Hooks come from reg, keyed by group name.
func ByName(reg *Registry, maxPerBatch int) Batcher {
	if maxPerBatch <= 0 {
		maxPerBatch = DefaultMaxPerBatch
	}
	return BatcherFunc(func(cases []*testcase.Case) []*Batch {
		var order []string
		groups := make(map[string][]*testcase.Case)
		for _, c := range cases {
			g := c.Definition().Batch
			if g == "" {
				g = DefaultGroup
			}
			if _, seen := groups[g]; !seen {
				order = append(order, g)
			}
			groups[g] = append(groups[g], c)
		}

		var out []*Batch
		for _, g := range order {
			members := groups[g]
			for n := 0; len(members) > 0; n++ {
				size := min(maxPerBatch, len(members))
				chunk := members[:size:size]
				members = members[size:]
				out = append(out, New(fmt.Sprintf("%s:%d", g, n), chunk, reg.Before(g), reg.After(g)))
			}
		}
		return out
	})
}

// Single puts every case into one batch called name, with the hooks
// registered for that name. An empty input yields no batches.
func Single(name string, reg *Registry) Batcher {
	return BatcherFunc(func(cases []*testcase.Case) []*Batch {
		if len(cases) == 0 {
			return nil
		}
		members := make([]*testcase.Case, len(cases))
		copy(members, cases)
		return []*Batch{New(name, members, reg.Before(name), reg.After(name))}
	})
}
