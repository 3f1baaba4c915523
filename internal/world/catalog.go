package world

import (
	"fmt"
	"sort"

	"github.com/me/tickbatch/pkg/model"
)

// Fixture is named content a test case needs placed before it can run.
type Fixture struct {
	Name string `yaml:"name"`
	Size Size   `yaml:"size"`
}

// Catalog resolves fixture names. Loading fixture content is left to the
// caller; the catalog only knows names and extents.
type Catalog struct {
	fixtures map[string]Fixture
}

// NewCatalog builds a catalog from the given fixtures. Later duplicates win.
func NewCatalog(fixtures ...Fixture) *Catalog {
	c := &Catalog{fixtures: make(map[string]Fixture, len(fixtures))}
	for _, f := range fixtures {
		c.fixtures[f.Name] = f
	}
	return c
}

// Lookup returns the named fixture or ErrUnknownFixture.
func (c *Catalog) Lookup(name string) (Fixture, error) {
	if c == nil {
		return Fixture{}, fmt.Errorf("%w: %q", model.ErrUnknownFixture, name)
	}
	f, ok := c.fixtures[name]
	if !ok {
		return Fixture{}, fmt.Errorf("%w: %q", model.ErrUnknownFixture, name)
	}
	return f, nil
}

// Names returns the fixture names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.fixtures))
	for n := range c.fixtures {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
