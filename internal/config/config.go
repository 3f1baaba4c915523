// Package config holds runner and server configuration.
//
// Configuration is assembled from three sources in priority order:
//  1. CLI flags (highest priority)
//  2. Config file (tickbatch.yaml)
//  3. Defaults (lowest priority)
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/tickbatch/internal/batch"
	"github.com/me/tickbatch/internal/provision"
	"github.com/me/tickbatch/internal/world"
)

const (
	DefaultDBPath       = "tickbatch.db"
	DefaultTickInterval = 50 * time.Millisecond
	DefaultMaxRunTicks  = 100000
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultAddr         = ":8080"
	DefaultFile         = "tickbatch.yaml"
)

// RunnerConfig configures a suite run.
type RunnerConfig struct {
	// HaltOnError stops the run at the first failed case.
	HaltOnError bool `yaml:"halt_on_error"`

	// MaxTestsPerBatch caps batch size when grouping cases by batch name.
	MaxTestsPerBatch int `yaml:"max_tests_per_batch"`

	// Grid layout for cases without a fixed location.
	TestsPerRow int            `yaml:"tests_per_row"`
	GridSpacing int            `yaml:"grid_spacing"`
	GridOrigin  world.Position `yaml:"grid_origin"`

	// TickInterval paces the ticker. Zero after defaults is not allowed;
	// use --fast on the CLI to tick without pause.
	TickInterval time.Duration `yaml:"tick_interval"`

	// MaxRunTicks aborts a run that has not finished after this many ticks.
	MaxRunTicks int `yaml:"max_run_ticks"`

	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultRunnerConfig returns a config with every default applied.
func DefaultRunnerConfig() RunnerConfig {
	var c RunnerConfig
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func (c *RunnerConfig) ApplyDefaults() {
	if c.MaxTestsPerBatch == 0 {
		c.MaxTestsPerBatch = batch.DefaultMaxPerBatch
	}
	if c.TestsPerRow == 0 {
		c.TestsPerRow = provision.DefaultTestsPerRow
	}
	if c.GridSpacing == 0 {
		c.GridSpacing = provision.DefaultSpacing
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MaxRunTicks == 0 {
		c.MaxRunTicks = DefaultMaxRunTicks
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

// Validate checks that configuration values are valid.
// Call after ApplyDefaults.
func (c *RunnerConfig) Validate() error {
	if c.MaxTestsPerBatch <= 0 {
		return fmt.Errorf("max-tests-per-batch must be positive, got %d", c.MaxTestsPerBatch)
	}
	if c.TestsPerRow <= 0 {
		return fmt.Errorf("tests-per-row must be positive, got %d", c.TestsPerRow)
	}
	if c.GridSpacing < 0 {
		return fmt.Errorf("grid-spacing must be non-negative, got %d", c.GridSpacing)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick-interval must be positive, got %v", c.TickInterval)
	}
	if c.MaxRunTicks <= 0 {
		return fmt.Errorf("max-run-ticks must be positive, got %d", c.MaxRunTicks)
	}
	if err := validateLogging(c.LogLevel, c.LogFormat); err != nil {
		return err
	}
	return nil
}

// ServerConfig configures the results API server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultServerConfig returns a config with every default applied.
func DefaultServerConfig() ServerConfig {
	var c ServerConfig
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func (c *ServerConfig) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

// Validate checks that configuration values are valid.
func (c *ServerConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	return validateLogging(c.LogLevel, c.LogFormat)
}

func validateLogging(level, format string) error {
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", level)
	}
	switch format {
	case "text", "json":
	default:
		return fmt.Errorf("log-format must be text or json, got %q", format)
	}
	return nil
}

// File is the on-disk config: a runner section and a server section.
type File struct {
	Runner RunnerConfig `yaml:"runner"`
	Server ServerConfig `yaml:"server"`
}

// LoadConfigFile reads a YAML config file and merges it into runner and
// server. Only zero-valued fields are overwritten, so CLI flags take
// precedence. Either target may be nil. Returns nil if the file does not exist.
func LoadConfigFile(path string, runner *RunnerConfig, server *ServerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if runner != nil {
		mergeRunner(&file.Runner, runner)
	}
	if server != nil {
		mergeServer(&file.Server, server)
	}
	return nil
}

// mergeRunner copies non-zero fields from src into dst where dst has the
// zero value.
func mergeRunner(src, dst *RunnerConfig) {
	// Bools can only be merged one way: a file can turn halting on.
	if src.HaltOnError && !dst.HaltOnError {
		dst.HaltOnError = true
	}
	if dst.MaxTestsPerBatch == 0 {
		dst.MaxTestsPerBatch = src.MaxTestsPerBatch
	}
	if dst.TestsPerRow == 0 {
		dst.TestsPerRow = src.TestsPerRow
	}
	if dst.GridSpacing == 0 {
		dst.GridSpacing = src.GridSpacing
	}
	if dst.GridOrigin == (world.Position{}) {
		dst.GridOrigin = src.GridOrigin
	}
	if dst.TickInterval == 0 {
		dst.TickInterval = src.TickInterval
	}
	if dst.MaxRunTicks == 0 {
		dst.MaxRunTicks = src.MaxRunTicks
	}
	if dst.DBPath == "" {
		dst.DBPath = src.DBPath
	}
	if dst.LogLevel == "" {
		dst.LogLevel = src.LogLevel
	}
	if dst.LogFormat == "" {
		dst.LogFormat = src.LogFormat
	}
}

func mergeServer(src, dst *ServerConfig) {
	if dst.Addr == "" {
		dst.Addr = src.Addr
	}
	if dst.DBPath == "" {
		dst.DBPath = src.DBPath
	}
	if dst.LogLevel == "" {
		dst.LogLevel = src.LogLevel
	}
	if dst.LogFormat == "" {
		dst.LogFormat = src.LogFormat
	}
}
