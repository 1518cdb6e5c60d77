// Package relational provides the SQL storage backend for lexstore.
//
// It stores each entity in a table of a SQLite, PostgreSQL or DuckDB
// database and keeps the schema current with an additive migration run
// on every Open.
package relational

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/lexstore/pkg/backend"
	"github.com/leapstack-labs/lexstore/pkg/core"
)

// Name is the engine name the backend registers under.
const Name = core.EngineRelational

// Backend implements backend.Backend over database/sql.
type Backend struct {
	logger *slog.Logger

	mu      sync.Mutex
	db      *sql.DB
	dialect dialect
	cfg     core.BackendConfig
	report  *MigrationReport

	// gate is set for in-memory databases, which have a single connection
	// that only one open transaction can hold.
	gate chan struct{}
}

// New creates an unopened relational backend.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{logger: logger}
}

// Name returns the engine name.
func (b *Backend) Name() string {
	return Name
}

// Open connects to the configured database and migrates its schema.
func (b *Backend) Open(ctx context.Context, cfg core.BackendConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return nil
	}

	params, err := DecodeParams(cfg.Params)
	if err != nil {
		return err
	}
	t, err := resolveTarget(cfg, params)
	if err != nil {
		return err
	}

	b.logger.Debug("connecting to database",
		slog.String("driver", t.driver),
		slog.String("dialect", t.dialect.Name()),
		slog.Bool("memory", t.memory))

	db, err := sql.Open(t.driver, t.dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s database: %w", t.dialect.Name(), err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping %s database: %w", t.dialect.Name(), err)
	}

	switch {
	case t.memory:
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
		b.gate = make(chan struct{}, 1)
	case params.MaxOpenConns > 0:
		db.SetMaxOpenConns(params.MaxOpenConns)
	}

	report, err := migrate(ctx, db, t.dialect, b.logger)
	if err != nil {
		_ = db.Close()
		return err
	}

	b.db = db
	b.dialect = t.dialect
	b.cfg = cfg
	b.report = report
	return nil
}

// Migrate runs the additive schema migration again on the open database.
func (b *Backend) Migrate(ctx context.Context) (*MigrationReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	report, err := migrate(ctx, b.db, b.dialect, b.logger)
	if err == nil {
		b.report = report
	}
	return report, err
}

// LastMigration returns the report of the most recent migration run.
func (b *Backend) LastMigration() *MigrationReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.report
}

// DB returns the underlying connection pool.
func (b *Backend) DB() *sql.DB {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db
}

// Dialect returns the name of the SQL dialect in use.
func (b *Backend) Dialect() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dialect == nil {
		return ""
	}
	return b.dialect.Name()
}

// NewSession starts a unit of work. The transaction begins lazily on the
// first statement.
//
// An in-memory database has one connection, so only one session at a time
// may hold a transaction on it. A second session fails with ErrMemoryBusy
// on its first statement until the holder commits, rolls back or closes.
func (b *Backend) NewSession(_ context.Context) (core.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	s := &Session{
		id:      backend.NewSessionID(),
		db:      b.db,
		dialect: b.dialect,
		gate:    b.gate,
	}
	s.logger = b.logger.With(slog.String("session", s.id))
	return s, nil
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

var _ backend.Backend = (*Backend)(nil)
