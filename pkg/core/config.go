package core

import "strings"

// Storage engines.
const (
	EngineRelational = "relational"
	EngineFile       = "file"
)

// BackendConfig selects and locates the storage backend.
type BackendConfig struct {
	// Engine is the storage engine selector: "relational" or "file".
	Engine string `koanf:"backend"`

	// DBPath is the SQLite database file used when no DatabaseURL is set.
	DBPath string `koanf:"db_path"`

	// DataDir holds one line-delimited file per entity for the file engine.
	DataDir string `koanf:"data_dir"`

	// DatabaseURL overrides DBPath with a full connection string
	// (postgres://, duckdb://, sqlite://).
	DatabaseURL string `koanf:"database_url"`

	// Prefixes overrides or extends the category to GUID prefix table.
	Prefixes map[string]string `koanf:"prefixes"`

	// Params holds engine-specific settings decoded by the backend.
	Params map[string]any `koanf:"params"`
}

// NormalizeEngine maps accepted aliases to a canonical engine name.
// Unknown names are returned lowercased so the registry can reject them.
func NormalizeEngine(name string) string {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", "sql", "sqlite", "relational", "postgres", "duckdb":
		return EngineRelational
	case "file", "files", "jsonl", "flatfile":
		return EngineFile
	default:
		return n
	}
}
