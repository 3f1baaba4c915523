// Package provision prepares the environment a test case runs in before the
// scheduler hands it to the ticker.
package provision

import (
	"github.com/me/tickbatch/internal/testcase"
	"github.com/me/tickbatch/internal/world"
	"github.com/me/tickbatch/pkg/model"
)

// Provisioner places a case's fixture and claims the region it occupies.
//
// OnBatchStart runs once per batch before any Provision call. Calling it more
// than once before provisioning must not reserve anything twice.
type Provisioner interface {
	Name() string
	OnBatchStart(env world.Environment)
	Provision(c *testcase.Case) error
}

// For picks the provisioner responsible for c: cases pinned to a location go
// to existing, the rest to fresh.
func For(c *testcase.Case, existing, fresh Provisioner) Provisioner {
	if c.Definition().Location != nil {
		return existing
	}
	return fresh
}

// Unset declines every case. Use it when only pre-provisioned cases are
// expected.
type Unset struct{}

func (Unset) Name() string                   { return "unset" }
func (Unset) OnBatchStart(world.Environment) {}

func (Unset) Provision(c *testcase.Case) error {
	return &model.ProvisionError{CaseID: c.ID(), Provisioner: "unset", Err: model.ErrNotConfigured}
}

func provisionError(c *testcase.Case, name string, err error) error {
	return &model.ProvisionError{CaseID: c.ID(), Provisioner: name, Err: err}
}
