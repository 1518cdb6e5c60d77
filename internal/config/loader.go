package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/spf13/pflag"
)

// Config file names, in lookup order.
const (
	ConfigFileName    = "lexstore.yaml"
	ConfigFileNameAlt = "lexstore.yml"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "LEXSTORE_"

// envAliases maps unprefixed environment variables onto config keys.
// LEXSTORE_ variables override them.
var envAliases = map[string]string{
	"DATABASE_URL":    "database_url",
	"STORAGE_BACKEND": "backend",
	"SQLITE_DB_PATH":  "db_path",
	"JSONL_DATA_DIR":  "data_dir",
}

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// Options controls a Load.
type Options struct {
	// File is an explicit config file. When empty, lexstore.yaml is
	// searched for upward from Dir.
	File string
	// Dir is the starting directory; the working directory when empty.
	Dir string
	// Flags are applied when explicitly set on the command line.
	Flags *pflag.FlagSet
	// Overrides win over every other source.
	Overrides map[string]any
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	dir := opts.Dir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		dir = cwd
	}

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Project file
	cfgFile := opts.File
	projectRoot := dir
	if cfgFile == "" {
		if root := FindProjectRoot(dir); root != "" {
			projectRoot = root
			cfgFile = findConfigFile(root)
		}
	} else if abs, err := filepath.Abs(cfgFile); err == nil {
		cfgFile = abs
		projectRoot = filepath.Dir(abs)
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// 3. Unprefixed variables: DATABASE_URL and the storage variables
	// older deployments set
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envAliases[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment aliases: %w", err)
	}

	// 4. LEXSTORE_ environment
	// Transform: LEXSTORE_DB_PATH -> db_path, LEXSTORE_PARAMS__WATCH -> params.watch
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 5. Flags that were explicitly set
	flagPaths := make(map[string]bool)
	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed || f.Name == "config" {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if key == "engine" {
				key = "backend"
			}
			if key == "db_path" || key == "data_dir" {
				flagPaths[key] = true
			}
			return key, posflag.FlagVal(opts.Flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 6. Explicit overrides
	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.Engine = core.NormalizeEngine(cfg.Engine)
	cfg.Output = strings.ToLower(strings.TrimSpace(cfg.Output))
	cfg.ProjectRoot = projectRoot
	cfg.FileUsed = cfgFile

	// Flag paths are relative to the working directory; everything else
	// is relative to the project root.
	cfg.DBPath = resolvePath(cfg.DBPath, projectRoot, flagPaths["db_path"])
	cfg.DataDir = resolvePath(cfg.DataDir, projectRoot, flagPaths["data_dir"])

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func resolvePath(path, baseDir string, fromFlag bool) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if fromFlag {
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	return filepath.Join(baseDir, path)
}

// findConfigFile returns the config file in dir, or "".
func findConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// FindProjectRoot walks up from startDir to the first directory holding
// a config file. Returns empty string if not found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for range maxUpwardSearchLevels {
		if findConfigFile(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return ""
		}
		dir = parent
	}
	return ""
}
