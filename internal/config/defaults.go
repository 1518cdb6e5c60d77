package config

import "github.com/leapstack-labs/lexstore/pkg/core"

// Default configuration values.
const (
	DefaultEngine  = core.EngineRelational
	DefaultDBPath  = "lexicon.db"
	DefaultDataDir = "data"
	DefaultSource  = "cli"
	DefaultOutput  = OutputAuto
)

func defaults() map[string]any {
	return map[string]any{
		"backend":  DefaultEngine,
		"db_path":  DefaultDBPath,
		"data_dir": DefaultDataDir,
		"source":   DefaultSource,
		"verbose":  false,
		"output":   DefaultOutput,
	}
}
