package provision

import (
	"errors"
	"log/slog"

	"github.com/me/tickbatch/internal/logging"
	"github.com/me/tickbatch/internal/testcase"
	"github.com/me/tickbatch/internal/world"
	"github.com/me/tickbatch/pkg/model"
)

const (
	// DefaultTestsPerRow is how many cells a grid row holds.
	DefaultTestsPerRow = 8
	// DefaultSpacing is the gap between neighbouring cells.
	DefaultSpacing = 2
)

// GridOptions lays out the grid.
type GridOptions struct {
	Origin      world.Position
	TestsPerRow int
	Spacing     int
}

// Grid allocates a fresh cell per case, filling rows left to right along X
// and starting a new row along Z every TestsPerRow cases. Each batch starts
// from Origin again after clearing what the previous batch placed.
type Grid struct {
	env     world.Environment
	catalog *world.Catalog
	opts    GridOptions
	logger  *slog.Logger

	x, z     int
	rowDepth int
	inRow    int
	placed   []world.Region
}

// NewGrid creates a grid provisioner. A non-positive TestsPerRow or a negative
// Spacing falls back to the defaults.
func NewGrid(env world.Environment, catalog *world.Catalog, opts GridOptions, logger *slog.Logger) *Grid {
	if opts.TestsPerRow <= 0 {
		opts.TestsPerRow = DefaultTestsPerRow
	}
	if opts.Spacing < 0 {
		opts.Spacing = DefaultSpacing
	}
	return &Grid{env: env, catalog: catalog, opts: opts, logger: logging.Component(logger, "provision")}
}

func (g *Grid) Name() string { return "grid" }

// OnBatchStart clears the previous batch's cells and rewinds the cursor.
// It reserves nothing, so repeated calls are harmless.
func (g *Grid) OnBatchStart(world.Environment) {
	for _, r := range g.placed {
		g.env.ClearRegion(r)
	}
	g.placed = nil
	g.x, g.z, g.rowDepth, g.inRow = 0, 0, 0, 0
}

func (g *Grid) Provision(c *testcase.Case) error {
	f, err := g.catalog.Lookup(c.Definition().Fixture)
	if err != nil {
		return provisionError(c, g.Name(), err)
	}

	// Skip cells blocked by in-place fixtures, bounded so a full world fails
	// instead of looping.
	maxCells := g.opts.TestsPerRow * 4
	for i := 0; i < maxCells; i++ {
		origin := g.opts.Origin.Add(world.Position{X: g.x, Z: g.z})
		r, err := g.env.PlaceFixture(f, origin)
		g.advance(f.Size)
		if errors.Is(err, model.ErrCellOccupied) {
			continue
		}
		if err != nil {
			return provisionError(c, g.Name(), err)
		}
		g.placed = append(g.placed, r)
		g.env.ReserveClaim(r)
		g.logger.Debug("cell allocated", "case_id", c.ID(), "fixture", f.Name, "region", r.String())
		c.MarkPlaced(r)
		return nil
	}
	return provisionError(c, g.Name(), model.ErrCellOccupied)
}

func (g *Grid) advance(size world.Size) {
	if size.Z > g.rowDepth {
		g.rowDepth = size.Z
	}
	g.x += size.X + g.opts.Spacing
	g.inRow++
	if g.inRow >= g.opts.TestsPerRow {
		g.z += g.rowDepth + g.opts.Spacing
		g.x, g.rowDepth, g.inRow = 0, 0, 0
	}
}
