package commands

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/lexstore/internal/cli/output"
	"github.com/leapstack-labs/lexstore/internal/config"
	"github.com/leapstack-labs/lexstore/internal/lexicon"
	"github.com/leapstack-labs/lexstore/pkg/backend"
	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/leapstack-labs/lexstore/pkg/identity"
	"github.com/spf13/cobra"

	// Register the storage engines.
	_ "github.com/leapstack-labs/lexstore/pkg/backends/filestore"
	_ "github.com/leapstack-labs/lexstore/pkg/backends/relational"
)

type configKey struct{}

type loggerKey struct{}

// WithConfig stores the loaded configuration and logger in ctx.
func WithConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) context.Context {
	ctx = context.WithValue(ctx, configKey{}, cfg)
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetConfig retrieves the configuration from ctx, or defaults.
func GetConfig(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	return &config.Config{
		BackendConfig: core.BackendConfig{
			Engine:  config.DefaultEngine,
			DBPath:  config.DefaultDBPath,
			DataDir: config.DefaultDataDir,
		},
		Source: config.DefaultSource,
		Output: config.DefaultOutput,
	}
}

// GetLogger retrieves the logger from ctx.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Factory  *backend.Factory
	IDs      *identity.Manager
	Service  *lexicon.Service
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with a storage factory.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func()) {
	cfg := GetConfig(cmd.Context())
	logger := GetLogger(cmd.Context())

	factory := backend.NewFactory(cfg.BackendConfig, logger)
	ids := identity.NewManager(cfg.Prefixes, logger)
	svc := lexicon.NewService(factory, ids,
		lexicon.WithLogger(logger),
		lexicon.WithSource(cfg.Source),
	)

	cleanup := func() {
		if err := factory.Close(); err != nil {
			logger.Warn("failed to close storage backend", slog.String("error", err.Error()))
		}
	}

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Factory:  factory,
		IDs:      ids,
		Service:  svc,
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output)),
	}, cleanup
}

// withSession runs fn in a read-mostly unit of work.
func (c *CommandContext) withSession(ctx context.Context, fn func(core.Session) error) error {
	return backend.WithSession(ctx, c.Factory, fn)
}

// renderResult prints an operation result and turns failure into an error
// so the process exits non-zero.
func (c *CommandContext) renderResult(res lexicon.Result) error {
	if c.Renderer.EffectiveMode() == output.ModeJSON {
		if err := c.Renderer.JSON(res); err != nil {
			return err
		}
	} else if res.Success {
		c.Renderer.Println(res.Message)
	}
	if !res.Success {
		return &ResultError{Result: res}
	}
	return nil
}

// ResultError reports a failed operation.
type ResultError struct {
	Result lexicon.Result
}

func (e *ResultError) Error() string { return e.Result.Message }
