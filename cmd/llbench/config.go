package main

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/llxisdsh/layoutsync"
	"gopkg.in/yaml.v3"
)

// Workload kinds.
const (
	kindAppend        = "append"
	kindRead          = "read"
	kindWrite         = "write"
	kindWriteRead     = "write-read"
	kindHashPut       = "hash-put"
	kindHashDeleteGet = "hash-delete-get"
	kindHistogram     = "histogram"
)

var kinds = []string{
	kindAppend, kindRead, kindWrite, kindWriteRead,
	kindHashPut, kindHashDeleteGet, kindHistogram,
}

// Config is the benchmark file.
type Config struct {
	// LogFile receives log output; empty means stderr.
	LogFile string `yaml:"log_file"`
	// Format of the report: text or yaml.
	Format    string     `yaml:"format"`
	Workloads []Workload `yaml:"workloads"`
}

// Workload is one benchmark, run once per policy.
type Workload struct {
	Name       string              `yaml:"name"`
	Kind       string              `yaml:"kind"`
	Policies   []layoutsync.Policy `yaml:"policies"`
	Goroutines int                 `yaml:"goroutines"`
	// Ops is the number of operations per goroutine.
	Ops int `yaml:"ops"`
	// Size is the number of elements or keys prepared before the run.
	Size int `yaml:"size"`
	// WritePercent is the share of writes in a write-read mix.
	WritePercent int `yaml:"write_percent"`
}

func defaultConfig() *Config {
	c := &Config{Format: "text"}
	for _, k := range kinds {
		c.Workloads = append(c.Workloads, Workload{Name: k, Kind: k})
	}
	c.setDefaults()
	return c
}

// loadConfig decodes a benchmark file and fills in defaults.
func loadConfig(r io.Reader) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = "text"
	}
	for i := range c.Workloads {
		w := &c.Workloads[i]
		if w.Name == "" {
			w.Name = w.Kind
		}
		if len(w.Policies) == 0 {
			w.Policies = layoutsync.Policies()
		}
		if w.Goroutines <= 0 {
			w.Goroutines = 4
		}
		if w.Ops <= 0 {
			w.Ops = 100_000
		}
		if w.Size <= 0 {
			w.Size = 1 << 16
		}
		if w.Kind == kindWriteRead && w.WritePercent == 0 {
			w.WritePercent = 10
		}
	}
}

func (c *Config) validate() error {
	if c.Format != "text" && c.Format != "yaml" {
		return fmt.Errorf("unknown format %q", c.Format)
	}
	if len(c.Workloads) == 0 {
		return errors.New("no workloads")
	}
	for _, w := range c.Workloads {
		if !slices.Contains(kinds, w.Kind) {
			return fmt.Errorf("workload %q: unknown kind %q", w.Name, w.Kind)
		}
		if w.WritePercent < 0 || w.WritePercent > 100 {
			return fmt.Errorf("workload %q: write_percent %d out of range", w.Name, w.WritePercent)
		}
	}
	return nil
}
