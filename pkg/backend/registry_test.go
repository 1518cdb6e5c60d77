package backend

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend records its lifecycle for factory tests.
type stubBackend struct {
	name    string
	openErr error
	opened  int
	closed  int
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) Open(context.Context, core.BackendConfig) error {
	b.opened++
	return b.openErr
}

func (b *stubBackend) NewSession(context.Context) (core.Session, error) {
	return nil, errors.New("stub backend has no sessions")
}

func (b *stubBackend) Close() error {
	b.closed++
	return nil
}

func TestUnknownBackendError_Error(t *testing.T) {
	err := &UnknownBackendError{
		Engine:    "mongo",
		Available: []string{"file", "relational"},
	}

	msg := err.Error()
	assert.Contains(t, msg, "mongo", "error should mention the unknown engine")
	assert.Contains(t, msg, "relational", "error should list available engines")
	assert.Contains(t, msg, "lexstore.yaml", "error should mention config file")
}

func TestRegister(t *testing.T) {
	Register("test_backend_internal", func(_ *slog.Logger) Backend { return &stubBackend{name: "test_backend_internal"} })

	assert.True(t, IsRegistered("test_backend_internal"))
	assert.Contains(t, ListBackends(), "test_backend_internal")

	factory, ok := Get("test_backend_internal")
	require.True(t, ok)
	assert.Equal(t, "test_backend_internal", factory(nil).Name())
}

func TestNewBackend(t *testing.T) {
	_, err := NewBackend("", nil)
	require.Error(t, err)
	assert.Equal(t, "backend engine not specified", err.Error())

	_, err = NewBackend("nonexistent", nil)
	var unknown *UnknownBackendError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nonexistent", unknown.Engine)
}

func TestFactory_Lifecycle(t *testing.T) {
	stub := &stubBackend{name: "test_factory_stub"}
	Register(stub.name, func(_ *slog.Logger) Backend { return stub })

	ctx := context.Background()
	f := NewFactory(core.BackendConfig{Engine: stub.name}, nil)
	assert.Equal(t, stub.name, f.Engine())

	b1, err := f.Backend(ctx)
	require.NoError(t, err)
	b2, err := f.Backend(ctx)
	require.NoError(t, err)
	assert.Same(t, b1, b2, "backend is cached")
	assert.Equal(t, 1, stub.opened)

	err = f.Reconfigure(core.BackendConfig{Engine: core.EngineFile})
	require.ErrorIs(t, err, ErrBackendBound)

	require.NoError(t, f.Reset())
	assert.Equal(t, 1, stub.closed)

	require.NoError(t, f.Reconfigure(core.BackendConfig{Engine: "nonexistent"}))
	_, err = f.Backend(ctx)
	var unknown *UnknownBackendError
	require.ErrorAs(t, err, &unknown)
}

func TestFactory_OpenFailureIsNotCached(t *testing.T) {
	stub := &stubBackend{name: "test_failing_stub", openErr: core.ErrInitialization}
	Register(stub.name, func(_ *slog.Logger) Backend { return stub })

	f := NewFactory(core.BackendConfig{Engine: stub.name}, nil)
	_, err := f.Backend(context.Background())
	require.ErrorIs(t, err, core.ErrInitialization)
	assert.Equal(t, 1, stub.closed)

	// Nothing is bound, so the configuration may still change.
	require.NoError(t, f.Reconfigure(core.BackendConfig{Engine: core.EngineFile}))
}

func TestNormalizeEngine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", core.EngineRelational},
		{"SQLite", core.EngineRelational},
		{"postgres", core.EngineRelational},
		{" jsonl ", core.EngineFile},
		{"file", core.EngineFile},
		{"Mongo", "mongo"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, core.NormalizeEngine(tt.in), tt.in)
	}
}
