// Package config handles chainql.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/chainql/bridge"
	"github.com/chazu/chainql/internal/asyncrt"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "chainql.toml"

// Config represents a chainql.toml file.
type Config struct {
	Bridge  Bridge         `toml:"bridge"`
	Runtime Runtime        `toml:"runtime"`
	Server  Server         `toml:"server"`
	Journal Journal        `toml:"journal"`
	Eval    Eval           `toml:"eval"`
	Args    map[string]any `toml:"args"`

	// Dir is the directory containing the chainql.toml file (set at load time).
	Dir string `toml:"-"`
}

// Bridge configures the execution bridge.
type Bridge struct {
	PollIntervalMS int  `toml:"poll-interval-ms"`
	Logs           bool `toml:"logs"`
	GagStdio       bool `toml:"gag-stdio"`
}

// Runtime configures the async fetch runtime.
type Runtime struct {
	MaxConcurrentFetches int64  `toml:"max-concurrent-fetches"`
	FetchTimeoutMS       int    `toml:"fetch-timeout-ms"`
	UserAgent            string `toml:"user-agent"`
}

// Server configures the host binding server.
type Server struct {
	Addr                 string `toml:"addr"`
	HandleTTLMinutes     int    `toml:"handle-ttl-minutes"`
	SweepIntervalMinutes int    `toml:"sweep-interval-minutes"`
}

// Journal configures the call journal. An empty path disables it.
type Journal struct {
	Path string `toml:"path"`
}

// Eval names the default entry file, relative to Dir.
type Eval struct {
	Entry string `toml:"entry"`
}

// Default returns the configuration used when no chainql.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load parses a chainql.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a chainql.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (c *Config) applyDefaults() {
	if c.Bridge.PollIntervalMS == 0 {
		c.Bridge.PollIntervalMS = int(bridge.DefaultPollInterval / time.Millisecond)
	}
	rt := asyncrt.DefaultConfig()
	if c.Runtime.MaxConcurrentFetches == 0 {
		c.Runtime.MaxConcurrentFetches = rt.MaxConcurrentFetches
	}
	if c.Runtime.FetchTimeoutMS == 0 {
		c.Runtime.FetchTimeoutMS = int(rt.FetchTimeout / time.Millisecond)
	}
	if c.Runtime.UserAgent == "" {
		c.Runtime.UserAgent = rt.UserAgent
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":4567"
	}
	if c.Server.HandleTTLMinutes == 0 {
		c.Server.HandleTTLMinutes = 30
	}
	if c.Server.SweepIntervalMinutes == 0 {
		c.Server.SweepIntervalMinutes = 5
	}
}

func (c *Config) validate() error {
	switch {
	case c.Bridge.PollIntervalMS < 0:
		return fmt.Errorf("bridge.poll-interval-ms must be positive")
	case c.Runtime.MaxConcurrentFetches < 0:
		return fmt.Errorf("runtime.max-concurrent-fetches must be positive")
	case c.Runtime.FetchTimeoutMS < 0:
		return fmt.Errorf("runtime.fetch-timeout-ms must not be negative")
	case c.Server.HandleTTLMinutes < 0 || c.Server.SweepIntervalMinutes < 0:
		return fmt.Errorf("server durations must not be negative")
	}
	return nil
}

// PollInterval returns the dispatcher's poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Bridge.PollIntervalMS) * time.Millisecond
}

// RuntimeConfig returns the async runtime configuration.
func (c *Config) RuntimeConfig() asyncrt.Config {
	return asyncrt.Config{
		MaxConcurrentFetches: c.Runtime.MaxConcurrentFetches,
		FetchTimeout:         time.Duration(c.Runtime.FetchTimeoutMS) * time.Millisecond,
		UserAgent:            c.Runtime.UserAgent,
	}
}

// DispatcherOptions returns the bridge options this configuration implies.
func (c *Config) DispatcherOptions() []bridge.Option {
	return []bridge.Option{
		bridge.WithPollInterval(c.PollInterval()),
		bridge.WithGagStdio(c.Bridge.GagStdio),
		bridge.WithRuntimeConfig(c.RuntimeConfig()),
	}
}

// HandleTTL returns how long an unused server handle is kept.
func (c *Config) HandleTTL() time.Duration {
	return time.Duration(c.Server.HandleTTLMinutes) * time.Minute
}

// SweepInterval returns how often expired handles are swept.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Server.SweepIntervalMinutes) * time.Minute
}

// JournalPath returns the journal database path, or "" if disabled.
func (c *Config) JournalPath() string {
	return c.resolve(c.Journal.Path)
}

// EntryPath returns the default entry file, or "" if none is set.
func (c *Config) EntryPath() string {
	return c.resolve(c.Eval.Entry)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
