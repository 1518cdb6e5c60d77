// Package cli provides the command-line interface for lexstore.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/leapstack-labs/lexstore/internal/cli/commands"
	"github.com/leapstack-labs/lexstore/internal/config"
	"github.com/spf13/cobra"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "lexstore",
		Short: "lexstore - multilingual lexicon storage",
		Long: `lexstore manages a multilingual lexical database: lemmas with stable
GUIDs, their translations and derivative forms, retired GUIDs and the
append-only operation log.

Data lives either in a relational database (SQLite, PostgreSQL, DuckDB)
or in a directory of line-delimited JSON files.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load(config.Options{
				File:  cfgFile,
				Flags: cmd.Root().PersistentFlags(),
			})
			if err != nil {
				return err
			}

			logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
			if cfg.FileUsed != "" {
				logger.Debug("using config file", slog.String("path", cfg.FileUsed))
			}
			logger.Debug("storage backend selected",
				slog.String("engine", cfg.Engine),
				slog.String("db_path", cfg.DBPath),
				slog.String("data_dir", cfg.DataDir))

			cmd.SetContext(commands.WithConfig(cmd.Context(), cfg, logger))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: lexstore.yaml, searched upward)")
	rootCmd.PersistentFlags().String("engine", "", "Storage engine (relational|file)")
	rootCmd.PersistentFlags().String("db-path", "", "SQLite database path")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory of the file engine")
	rootCmd.PersistentFlags().String("database-url", "", "Connection string (postgres://, duckdb://, sqlite://)")
	rootCmd.PersistentFlags().String("source", "", "Source recorded in the operation log")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (auto|table|json)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "table", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("engine", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"relational", "file"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(commands.NewGUIDCommand())
	rootCmd.AddCommand(commands.NewLemmaCommand())
	rootCmd.AddCommand(commands.NewTombstoneCommand())
	rootCmd.AddCommand(commands.NewLogCommand())

	return rootCmd
}

// newLogger writes text logs to w, at debug level when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
