package scheduler

import (
	"log/slog"

	"github.com/me/tickbatch/internal/batch"
	"github.com/me/tickbatch/internal/logging"
	"github.com/me/tickbatch/internal/provision"
	"github.com/me/tickbatch/internal/testcase"
	"github.com/me/tickbatch/internal/ticker"
	"github.com/me/tickbatch/internal/world"
	"github.com/me/tickbatch/pkg/model"
)

// Builder configures a Runner. The zero defaults are: continue on failure,
// batch.ByName with no hooks, in-place provisioning for pinned cases, and
// provision.Unset for the rest.
type Builder struct {
	env           world.Environment
	ticker        *ticker.Ticker
	catalog       *world.Catalog
	haltOnError   bool
	batcher       batch.Batcher
	existing      provision.Provisioner
	fresh         provision.Provisioner
	logger        *slog.Logger
	listeners     []BatchListener
	caseListeners []testcase.Listener
}

// NewBuilder starts a builder for runs against env, driven by tk.
func NewBuilder(env world.Environment, tk *ticker.Ticker) *Builder {
	return &Builder{env: env, ticker: tk}
}

// HaltOnError stops the whole run at the first failed case.
func (b *Builder) HaltOnError(v bool) *Builder {
	b.haltOnError = v
	return b
}

// Batcher sets the strategy used to batch FromCases input and reruns.
func (b *Builder) Batcher(bt batch.Batcher) *Builder {
	b.batcher = bt
	return b
}

// Catalog sets the fixture catalog used by the default in-place provisioner.
func (b *Builder) Catalog(c *world.Catalog) *Builder {
	b.catalog = c
	return b
}

// ExistingProvisioner handles cases pinned to a location.
func (b *Builder) ExistingProvisioner(p provision.Provisioner) *Builder {
	b.existing = p
	return b
}

// FreshProvisioner handles cases that need a location allocated.
func (b *Builder) FreshProvisioner(p provision.Provisioner) *Builder {
	b.fresh = p
	return b
}

func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Listener adds a batch listener.
func (b *Builder) Listener(l BatchListener) *Builder {
	b.listeners = append(b.listeners, l)
	return b
}

// CaseListener adds a listener to every case of the initial schedule.
// Listeners reach reruns through AddedForRerun.
func (b *Builder) CaseListener(l testcase.Listener) *Builder {
	b.caseListeners = append(b.caseListeners, l)
	return b
}

// FromBatches builds a runner over an explicit batch list.
func (b *Builder) FromBatches(batches []*batch.Batch) *Runner {
	r := b.runner()
	r.batches = batches
	for _, bt := range batches {
		for _, c := range bt.Cases {
			r.adopt(c)
			for _, l := range b.caseListeners {
				c.AddListener(l)
			}
		}
	}
	return r
}

// FromCases batches cases with the configured batcher and builds a runner.
func (b *Builder) FromCases(cases []*testcase.Case) *Runner {
	return b.FromBatches(b.batchStrategy().Batch(cases))
}

// FromDefinitions creates one first-attempt case per definition.
func (b *Builder) FromDefinitions(defs []*testcase.Definition) *Runner {
	cases := make([]*testcase.Case, len(defs))
	for i, d := range defs {
		cases[i] = testcase.New(d)
	}
	return b.FromCases(cases)
}

func (b *Builder) batchStrategy() batch.Batcher {
	if b.batcher == nil {
		return batch.ByName(nil, batch.DefaultMaxPerBatch)
	}
	return b.batcher
}

func (b *Builder) runner() *Runner {
	logger := logging.Component(b.logger, "scheduler")
	existing := b.existing
	if existing == nil {
		existing = provision.NewInPlace(b.env, b.catalog, b.logger)
	}
	fresh := b.fresh
	if fresh == nil {
		fresh = provision.Unset{}
	}
	tk := b.ticker
	if tk == nil {
		tk = ticker.New(b.logger)
	}
	listeners := make([]BatchListener, len(b.listeners))
	copy(listeners, b.listeners)

	return &Runner{
		env:         b.env,
		ticker:      tk,
		haltOnError: b.haltOnError,
		batcher:     b.batchStrategy(),
		existing:    existing,
		fresh:       fresh,
		listeners:   listeners,
		logger:      logger,
		state:       model.RunStateIdle,
	}
}
