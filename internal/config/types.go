// Package config loads lexstore configuration.
//
// Values are layered, lowest to highest: built-in defaults, the project
// file (lexstore.yaml), DATABASE_URL, LEXSTORE_* environment variables,
// command-line flags, and explicit overrides supplied by the caller.
package config

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/lexstore/pkg/core"
)

// Output formats.
const (
	OutputAuto  = "auto"
	OutputTable = "table"
	OutputJSON  = "json"
)

// Config holds the backend selection plus CLI settings.
type Config struct {
	core.BackendConfig `koanf:",squash"`

	// Source tags operation log entries written through this process.
	Source  string `koanf:"source"`
	Verbose bool   `koanf:"verbose"`
	Output  string `koanf:"output"`

	// ProjectRoot is the directory relative paths were resolved against.
	ProjectRoot string `koanf:"-"`
	// FileUsed is the config file that was loaded, if any.
	FileUsed string `koanf:"-"`
}

// Validate checks settings that do not depend on the backend registry.
func (c *Config) Validate() error {
	switch c.Engine {
	case core.EngineRelational:
		if c.DatabaseURL == "" && c.DBPath == "" {
			return fmt.Errorf("relational backend needs db_path or database_url")
		}
	case core.EngineFile:
		if c.DataDir == "" {
			return fmt.Errorf("file backend needs data_dir")
		}
	}
	if !slices.Contains([]string{OutputAuto, OutputTable, OutputJSON}, c.Output) {
		return fmt.Errorf("unknown output format %q (expected auto, table or json)", c.Output)
	}
	for category, prefix := range c.Prefixes {
		if prefix == "" {
			return fmt.Errorf("empty guid prefix for category %q", category)
		}
	}
	return nil
}
