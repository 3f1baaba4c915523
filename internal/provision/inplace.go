package provision

import (
	"log/slog"

	"github.com/me/tickbatch/internal/logging"
	"github.com/me/tickbatch/internal/testcase"
	"github.com/me/tickbatch/internal/world"
	"github.com/me/tickbatch/pkg/model"
)

// InPlace provisions cases that name a fixed location: the fixture is
// re-placed there from scratch and the region claimed.
type InPlace struct {
	env     world.Environment
	catalog *world.Catalog
	logger  *slog.Logger
}

// NewInPlace creates an in-place provisioner.
func NewInPlace(env world.Environment, catalog *world.Catalog, logger *slog.Logger) *InPlace {
	return &InPlace{env: env, catalog: catalog, logger: logging.Component(logger, "provision")}
}

func (p *InPlace) Name() string { return "in-place" }

// OnBatchStart is a no-op: in-place cases own their locations.
func (p *InPlace) OnBatchStart(world.Environment) {}

func (p *InPlace) Provision(c *testcase.Case) error {
	def := c.Definition()
	if def.Location == nil {
		return provisionError(c, p.Name(), model.ErrNoLocation)
	}
	f, err := p.catalog.Lookup(def.Fixture)
	if err != nil {
		return provisionError(c, p.Name(), err)
	}

	target := world.RegionAt(*def.Location, f.Size)
	p.env.ClearRegion(target)
	r, err := p.env.PlaceFixture(f, *def.Location)
	if err != nil {
		return provisionError(c, p.Name(), err)
	}
	p.env.ReserveClaim(r)
	p.logger.Debug("fixture placed", "case_id", c.ID(), "fixture", f.Name, "region", r.String())
	c.MarkPlaced(r)
	return nil
}
