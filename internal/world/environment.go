// Package world models the shared simulated environment test cases run in:
// a claim table of reserved regions plus the fixtures placed in them.
package world

import (
	"fmt"
	"sort"

	"github.com/me/tickbatch/pkg/model"
)

// Environment is what the scheduler and the provisioners need from the
// simulation. Claims keep a region resident while a batch uses it.
type Environment interface {
	// ReserveClaim keeps the region resident. Reserving an already claimed
	// region is a no-op.
	ReserveClaim(r Region)
	// ReleaseClaim drops the claim on r. Releasing an unclaimed region is a no-op.
	ReleaseClaim(r Region)
	// Claims lists the currently claimed regions.
	Claims() []Region

	// PlaceFixture instantiates fixture content at origin and returns the
	// region it occupies. It fails with ErrCellOccupied if anything is
	// already placed there.
	PlaceFixture(f Fixture, origin Position) (Region, error)
	// ClearRegion removes any fixture overlapping r.
	ClearRegion(r Region)
}

// Placement is a fixture instantiated in the environment.
type Placement struct {
	Fixture string
	Region  Region
}

// Memory is an in-process Environment. Like the scheduler that drives it, it
// is confined to one goroutine and does no locking.
type Memory struct {
	claims     map[Region]struct{}
	placements []Placement
}

// NewMemory returns an empty environment.
func NewMemory() *Memory {
	return &Memory{claims: make(map[Region]struct{})}
}

func (m *Memory) ReserveClaim(r Region) {
	m.claims[r] = struct{}{}
}

func (m *Memory) ReleaseClaim(r Region) {
	delete(m.claims, r)
}

func (m *Memory) Claims() []Region {
	out := make([]Region, 0, len(m.claims))
	for r := range m.claims {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Min, out[j].Min
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return out
}

func (m *Memory) PlaceFixture(f Fixture, origin Position) (Region, error) {
	if !f.Size.Valid() {
		return Region{}, fmt.Errorf("place %s: invalid size %+v", f.Name, f.Size)
	}
	r := RegionAt(origin, f.Size)

	for _, p := range m.placements {
		if p.Region.Overlaps(r) {
			return Region{}, fmt.Errorf("place %s at %s: %w (%s)", f.Name, r, model.ErrCellOccupied, p.Fixture)
		}
	}
	m.placements = append(m.placements, Placement{Fixture: f.Name, Region: r})
	return r, nil
}

func (m *Memory) ClearRegion(r Region) {
	kept := m.placements[:0]
	for _, p := range m.placements {
		if !p.Region.Overlaps(r) {
			kept = append(kept, p)
		}
	}
	m.placements = kept
}

// Placements returns a copy of the fixtures currently placed.
func (m *Memory) Placements() []Placement {
	out := make([]Placement, len(m.placements))
	copy(out, m.placements)
	return out
}
