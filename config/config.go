// Package config handles linkage.toml engine configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
	"github.com/xyproto/env/v2"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "linkage.toml"

// Archive backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config represents a linkage.toml configuration.
type Config struct {
	Log     Log     `toml:"log"`
	Archive Archive `toml:"archive"`
	Prewarm Prewarm `toml:"prewarm"`

	// Dir is the directory containing the linkage.toml file (set at load
	// time, empty for defaults).
	Dir string `toml:"-"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Archive selects the unit archive.
type Archive struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// Prewarm lists bound-handle shapes to generate at startup.
type Prewarm struct {
	Shapes  []string `toml:"shapes"`
	Workers int      `toml:"workers"`
}

// Default returns the built-in configuration. It does not read the
// environment; see ApplyEnv.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load parses a linkage.toml file from the given directory. LINKAGE_*
// environment variables override the file's values.
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
	c.ApplyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a linkage.toml file, then
// loads it. Without a file it returns the defaults with environment
// overrides applied.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			c := Default()
			c.ApplyEnv()
			return c, nil
		}
		dir = parent
	}
}

func (c *Config) applyDefaults() {
	if c.Archive.Backend == "" {
		c.Archive.Backend = BackendMemory
	}
	if c.Archive.Backend == BackendSQLite && c.Archive.Path == "" {
		c.Archive.Path = filepath.Join(".linkage", "units.db")
	}
	if c.Prewarm.Workers <= 0 {
		c.Prewarm.Workers = 4
	}
}

// ApplyEnv overrides settings from LINKAGE_* environment variables.
func (c *Config) ApplyEnv() {
	c.Archive.Backend = strings.ToLower(env.Str("LINKAGE_ARCHIVE", c.Archive.Backend))
	c.Archive.Path = env.Str("LINKAGE_ARCHIVE_PATH", c.Archive.Path)
	c.Log.Verbosity = env.Int("LINKAGE_VERBOSITY", c.Log.Verbosity)
	c.Log.Path = env.Str("LINKAGE_LOG", c.Log.Path)
	c.Prewarm.Workers = env.Int("LINKAGE_PREWARM_WORKERS", c.Prewarm.Workers)
	c.applyDefaults()
}

// Validate checks the archive backend and prewarm shapes.
func (c *Config) Validate() error {
	switch c.Archive.Backend {
	case BackendNone, BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("unknown archive backend %q", c.Archive.Backend)
	}
	for _, s := range c.Prewarm.Shapes {
		if strings.Trim(s, "LIJFD") != "" {
			return fmt.Errorf("bad prewarm shape %q", s)
		}
	}
	return nil
}

// ArchivePath returns the archive path resolved against Dir.
func (c *Config) ArchivePath() string {
	if c.Archive.Path == "" || filepath.IsAbs(c.Archive.Path) || c.Dir == "" {
		return c.Archive.Path
	}
	return filepath.Join(c.Dir, c.Archive.Path)
}

// Apply configures commonlog. Verbosity 0 keeps the backend quiet.
func (l Log) Apply() {
	if l.Path == "" {
		commonlog.Configure(l.Verbosity, nil)
		return
	}
	path := l.Path
	commonlog.Configure(l.Verbosity, &path)
}
