// Package suite loads test suites from YAML: fixtures, batch hooks and cases.
package suite

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/me/tickbatch/internal/batch"
	"github.com/me/tickbatch/internal/script"
	"github.com/me/tickbatch/internal/testcase"
	"github.com/me/tickbatch/internal/world"
	"github.com/me/tickbatch/pkg/model"
)

// Suite is the on-disk form of a test suite.
type Suite struct {
	Name     string              `yaml:"name"`
	Lib      []string            `yaml:"lib"`
	Fixtures []world.Fixture     `yaml:"fixtures"`
	Batches  map[string]HookSpec `yaml:"batches"`
	Cases    []CaseSpec          `yaml:"cases"`
}

// HookSpec holds the scripts run around every batch of a group.
type HookSpec struct {
	Before string `yaml:"before"`
	After  string `yaml:"after"`
}

// CaseSpec is one test case definition.
type CaseSpec struct {
	Name     string          `yaml:"name"`
	Batch    string          `yaml:"batch"`
	Fixture  string          `yaml:"fixture"`
	Location *world.Position `yaml:"location"`

	SetupTicks int `yaml:"setup_ticks"`
	MaxTicks   int `yaml:"max_ticks"`

	// Required defaults to true.
	Required *bool `yaml:"required"`

	MaxAttempts       int `yaml:"max_attempts"`
	RequiredSuccesses int `yaml:"required_successes"`

	// Script is evaluated once per tick. Without one the case passes on its
	// first evaluated tick.
	Script string `yaml:"script"`
}

// Loaded is a validated suite ready to run.
type Loaded struct {
	Name        string
	Definitions []*testcase.Definition
	Catalog     *world.Catalog
	Hooks       *batch.Registry
}

// Load reads and builds the suite at path.
func Load(path string, logger *slog.Logger) (*Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("suite %s: %w", path, err)
	}
	return s.Build(logger)
}

// Parse decodes and validates a suite.
func Parse(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing suite: %w", err)
	}
	if apiErr := s.Validate(); apiErr != nil {
		return nil, apiErr
	}
	return &s, nil
}

// Validate checks the suite for structural errors.
// Returns nil if valid, or an *model.APIError with FieldError details.
func (s *Suite) Validate() *model.APIError {
	var errs []model.FieldError
	errs = append(errs, s.validateFixtures()...)
	errs = append(errs, s.validateCases()...)
	if len(errs) == 0 {
		return nil
	}
	return model.NewValidationError("suite validation failed", errs...)
}

func (s *Suite) validateFixtures() []model.FieldError {
	var errs []model.FieldError
	seen := make(map[string]bool)
	for i, f := range s.Fixtures {
		path := fmt.Sprintf("fixtures[%d]", i)
		if f.Name == "" {
			errs = append(errs, model.FieldError{Path: path + ".name", Message: "is required"})
			continue
		}
		if seen[f.Name] {
			errs = append(errs, model.FieldError{Path: path + ".name", Message: fmt.Sprintf("duplicate fixture %q", f.Name)})
		}
		seen[f.Name] = true
		if !f.Size.Valid() {
			errs = append(errs, model.FieldError{Path: path + ".size", Message: "every dimension must be positive"})
		}
	}
	return errs
}

func (s *Suite) validateCases() []model.FieldError {
	var errs []model.FieldError
	if s.Name == "" {
		errs = append(errs, model.FieldError{Field: "name", Message: "is required"})
	}
	if len(s.Cases) == 0 {
		errs = append(errs, model.FieldError{Field: "cases", Message: "suite has no cases"})
	}

	fixtures := make(map[string]bool, len(s.Fixtures))
	for _, f := range s.Fixtures {
		fixtures[f.Name] = true
	}
	names := make(map[string]bool)
	for i, c := range s.Cases {
		path := fmt.Sprintf("cases[%d]", i)
		add := func(field, msg string) {
			errs = append(errs, model.FieldError{Path: path + "." + field, Message: msg})
		}

		switch {
		case c.Name == "":
			add("name", "is required")
		case names[c.Name]:
			add("name", fmt.Sprintf("duplicate case %q", c.Name))
		}
		names[c.Name] = true

		switch {
		case c.Fixture == "":
			add("fixture", "is required")
		case !fixtures[c.Fixture]:
			add("fixture", fmt.Sprintf("unknown fixture %q", c.Fixture))
		}
		if c.SetupTicks < 0 {
			add("setup_ticks", "must be non-negative")
		}
		if c.MaxTicks < 0 {
			add("max_ticks", "must be non-negative")
		}
		if c.MaxTicks > 0 && c.SetupTicks >= c.MaxTicks {
			add("max_ticks", "must exceed setup_ticks")
		}
		if c.MaxAttempts < 0 {
			add("max_attempts", "must be non-negative")
		}
		if c.RequiredSuccesses < 0 {
			add("required_successes", "must be non-negative")
		}
		if c.RequiredSuccesses > max(c.MaxAttempts, 1) {
			add("required_successes", "cannot exceed max_attempts")
		}
	}
	return errs
}

// Build compiles scripts and hooks into runnable definitions.
func (s *Suite) Build(logger *slog.Logger) (*Loaded, error) {
	engine := script.NewEngine(s.Lib, logger)

	hooks := batch.NewRegistry()
	groups := make([]string, 0, len(s.Batches))
	for g := range s.Batches {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		spec := s.Batches[g]
		if spec.Before != "" {
			h, err := engine.Hook(g, g+".before", spec.Before)
			if err != nil {
				return nil, err
			}
			hooks.Register(g, batch.HookBefore, h)
		}
		if spec.After != "" {
			h, err := engine.Hook(g, g+".after", spec.After)
			if err != nil {
				return nil, err
			}
			hooks.Register(g, batch.HookAfter, h)
		}
	}

	defs := make([]*testcase.Definition, 0, len(s.Cases))
	for _, c := range s.Cases {
		def := &testcase.Definition{
			Name:              c.Name,
			Batch:             c.Batch,
			Fixture:           c.Fixture,
			Location:          c.Location,
			SetupTicks:        c.SetupTicks,
			MaxTicks:          c.MaxTicks,
			Required:          c.Required == nil || *c.Required,
			MaxAttempts:       c.MaxAttempts,
			RequiredSuccesses: c.RequiredSuccesses,
		}
		if c.Script != "" {
			b, err := engine.Behavior(c.Name, c.Script)
			if err != nil {
				return nil, err
			}
			def.Behavior = b
		}
		defs = append(defs, def)
	}

	return &Loaded{
		Name:        s.Name,
		Definitions: defs,
		Catalog:     world.NewCatalog(s.Fixtures...),
		Hooks:       hooks,
	}, nil
}
