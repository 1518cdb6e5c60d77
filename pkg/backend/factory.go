package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/lexstore/pkg/core"
)

// ErrBackendBound is returned when the factory is asked to change its
// configuration while a backend is already open.
var ErrBackendBound = errors.New("storage backend already bound; call Reset first")

// SessionSource mints sessions. *Factory is the production implementation.
type SessionSource interface {
	Session(ctx context.Context) (core.Session, error)
}

// Factory lazily constructs the configured backend on first use, caches it
// and mints sessions from it. One engine is bound per factory lifetime;
// Reset releases it for tests.
type Factory struct {
	logger *slog.Logger

	mu      sync.Mutex
	cfg     core.BackendConfig
	backend Backend
}

// NewFactory creates a factory for cfg.
// If logger is nil, a discard logger is used.
func NewFactory(cfg core.BackendConfig, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Factory{cfg: cfg, logger: logger}
}

// Config returns the factory's configuration.
func (f *Factory) Config() core.BackendConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

// Engine returns the canonical engine name the factory resolves to.
func (f *Factory) Engine() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return core.NormalizeEngine(f.cfg.Engine)
}

// Reconfigure replaces the configuration. It fails with ErrBackendBound
// once a backend has been opened.
func (f *Factory) Reconfigure(cfg core.BackendConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backend != nil {
		return ErrBackendBound
	}
	f.cfg = cfg
	return nil
}

// Backend returns the cached backend, opening it on first call.
func (f *Factory) Backend(ctx context.Context) (Backend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.backend != nil {
		return f.backend, nil
	}

	engine := core.NormalizeEngine(f.cfg.Engine)
	b, err := NewBackend(engine, f.logger)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("opening storage backend", slog.String("engine", engine))
	if err := b.Open(ctx, f.cfg); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("open %s backend: %w", engine, err)
	}

	f.backend = b
	return b, nil
}

// Session opens the backend if needed and starts a new unit of work.
func (f *Factory) Session(ctx context.Context) (core.Session, error) {
	b, err := f.Backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.NewSession(ctx)
}

// Reset closes the cached backend so the next call opens a fresh one.
func (f *Factory) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backend == nil {
		return nil
	}
	err := f.backend.Close()
	f.backend = nil
	return err
}

// Close releases the cached backend.
func (f *Factory) Close() error {
	return f.Reset()
}

// WithSession runs fn inside a session from src. The session is committed
// when fn returns nil, rolled back otherwise, and always closed.
func WithSession(ctx context.Context, src SessionSource, fn func(core.Session) error) (err error) {
	s, err := src.Session(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = s.Rollback(ctx)
			_ = s.Close()
			panic(r)
		}
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := fn(s); err != nil {
		if rerr := s.Rollback(ctx); rerr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
		return err
	}
	return s.Commit(ctx)
}
