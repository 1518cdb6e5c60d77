package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/lexstore/internal/config"
	"github.com/leapstack-labs/lexstore/pkg/backends/filestore"
	"github.com/leapstack-labs/lexstore/pkg/backends/relational"
	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var writeConfig, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Prepare the configured storage backend",
		Long: `Open the configured storage backend, creating whatever it needs.

The relational backend creates missing tables and indexes and adds declared
columns that existing tables lack. The file backend creates its data
directory. Running init again is harmless.

Use --write-config to also write a lexstore.yaml holding the effective
backend settings.`,
		Example: `  # Prepare the default SQLite database
  lexstore init

  # Prepare a file store and record it in lexstore.yaml
  lexstore init --engine file --data-dir ./lexicon --write-config`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup := NewCommandContext(cmd)
			defer cleanup()

			if writeConfig {
				if err := writeConfigFile(cc.Cfg, force); err != nil {
					return err
				}
			}
			return runInit(cmd, cc)
		},
	}

	cmd.Flags().BoolVar(&writeConfig, "write-config", false, "Write lexstore.yaml with the effective backend settings")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing lexstore.yaml")

	return cmd
}

func runInit(cmd *cobra.Command, cc *CommandContext) error {
	b, err := cc.Factory.Backend(cmd.Context())
	if err != nil {
		return err
	}

	r := cc.Renderer
	switch be := b.(type) {
	case *relational.Backend:
		report := be.LastMigration()
		rows := [][]any{
			{"engine", be.Name()},
			{"dialect", be.Dialect()},
			{"created tables", strings.Join(report.CreatedTables, ", ")},
			{"added columns", strings.Join(report.AddedColumns, ", ")},
		}
		if len(report.FailedColumns) > 0 {
			rows = append(rows, []any{"failed columns", strings.Join(report.FailedColumns, ", ")})
		}
		return r.Table([]string{"setting", "value"}, rows)
	case *filestore.Backend:
		return r.Table([]string{"setting", "value"}, [][]any{
			{"engine", be.Name()},
			{"data dir", be.Dir()},
		})
	default:
		return r.Table([]string{"setting", "value"}, [][]any{{"engine", b.Name()}})
	}
}

// fileConfig is the on-disk shape written by --write-config.
type fileConfig struct {
	Backend     string            `yaml:"backend"`
	DBPath      string            `yaml:"db_path,omitempty"`
	DataDir     string            `yaml:"data_dir,omitempty"`
	DatabaseURL string            `yaml:"database_url,omitempty"`
	Prefixes    map[string]string `yaml:"prefixes,omitempty"`
	Params      map[string]any    `yaml:"params,omitempty"`
}

func writeConfigFile(cfg *config.Config, force bool) error {
	path := filepath.Join(cfg.ProjectRoot, config.ConfigFileName)
	if cfg.ProjectRoot == "" {
		path = config.ConfigFileName
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", path)
	}

	data, err := yaml.Marshal(fileConfig{
		Backend:     cfg.Engine,
		DBPath:      relativeTo(cfg.DBPath, cfg.ProjectRoot),
		DataDir:     relativeTo(cfg.DataDir, cfg.ProjectRoot),
		DatabaseURL: cfg.DatabaseURL,
		Prefixes:    cfg.Prefixes,
		Params:      cfg.Params,
	})
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func relativeTo(path, base string) string {
	if path == "" || base == "" {
		return path
	}
	if rel, err := filepath.Rel(base, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}
