// Package config loads bdf-merge settings from a YAML file and the
// environment. Command-line flags are applied on top by internal/cli.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/eunmann/bdf-merge/pkg/membudget"
	"github.com/eunmann/bdf-merge/pkg/merge"
)

// Environment variables read by ApplyEnv.
const (
	EnvConfig       = "BDFMERGE_CONFIG"
	EnvChunkSize    = "BDFMERGE_CHUNK_SIZE"
	EnvConcurrent   = "BDFMERGE_CONCURRENT"
	EnvQueueDepth   = "BDFMERGE_QUEUE_DEPTH"
	EnvMemoryBudget = "BDFMERGE_MEMORY_BUDGET"
	EnvAtomic       = "BDFMERGE_ATOMIC"
)

// Config is the merged view of file, environment and flag settings.
type Config struct {
	ChunkSize    string    `yaml:"chunk_size"`
	Concurrent   bool      `yaml:"concurrent"`
	QueueDepth   int       `yaml:"queue_depth"`
	MemoryBudget string    `yaml:"memory_budget"`
	Atomic       bool      `yaml:"atomic"`
	Log          LogConfig `yaml:"log"`

	budgetSource membudget.BudgetSource
}

// LogConfig controls logger setup.
type LogConfig struct {
	Debug bool `yaml:"debug"`
	Human bool `yaml:"human"`
}

// Default returns the built-in settings.
func Default() Config {
	d := merge.DefaultOptions()
	return Config{
		ChunkSize:  d.Chunk.String(),
		Concurrent: d.Concurrent,
		QueueDepth: d.QueueDepth,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if c.MemoryBudget != "" {
		c.budgetSource = membudget.BudgetSourceConfig
	}
	return nil
}

// ApplyEnv overrides settings from the environment via getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvChunkSize); v != "" {
		c.ChunkSize = v
	}
	if v := getenv(EnvConcurrent); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvConcurrent, err)
		}
		c.Concurrent = b
	}
	if v := getenv(EnvQueueDepth); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvQueueDepth, err)
		}
		c.QueueDepth = n
	}
	if v := getenv(EnvMemoryBudget); v != "" {
		c.SetMemoryBudget(v, membudget.BudgetSourceEnv)
	}
	if v := getenv(EnvAtomic); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAtomic, err)
		}
		c.Atomic = b
	}
	return nil
}

// SetMemoryBudget records a budget string and where it came from.
func (c *Config) SetMemoryBudget(s string, src membudget.BudgetSource) {
	c.MemoryBudget = s
	c.budgetSource = src
}

// Budget builds the memory budget. Without an explicit size a quarter of
// system RAM is used.
func (c *Config) Budget() (*membudget.Budget, error) {
	if c.MemoryBudget == "" {
		return membudget.NewFromSystemRAM(), nil
	}
	n, err := membudget.Parse(c.MemoryBudget)
	if err != nil {
		return nil, fmt.Errorf("memory budget (from %s): %w", c.budgetSource, err)
	}
	return membudget.New(n, c.budgetSource), nil
}

// MergeOptions converts the settings into merge options.
func (c *Config) MergeOptions() (merge.Options, error) {
	chunk, err := merge.ParseChunkPolicy(c.ChunkSize)
	if err != nil {
		return merge.Options{}, err
	}
	budget, err := c.Budget()
	if err != nil {
		return merge.Options{}, err
	}
	opts := merge.DefaultOptions().
		WithChunk(chunk).
		WithConcurrent(c.Concurrent).
		WithQueueDepth(c.QueueDepth).
		WithBudget(budget).
		WithAtomic(c.Atomic)
	if err := opts.Validate(); err != nil {
		return merge.Options{}, err
	}
	return opts, nil
}
