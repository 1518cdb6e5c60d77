// Package storetest runs tests against every storage engine and loads
// shared YAML fixtures into them.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/lexstore/internal/testutil"
	"github.com/leapstack-labs/lexstore/pkg/backend"
	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/stretchr/testify/require"

	// Register both engines for tests that run against each of them.
	_ "github.com/leapstack-labs/lexstore/pkg/backends/filestore"
	_ "github.com/leapstack-labs/lexstore/pkg/backends/relational"
)

// Engines lists the engines EachBackend runs against.
var Engines = []string{core.EngineRelational, core.EngineFile}

// NewFactory returns a factory for engine over fresh temporary storage.
// The factory is closed when the test ends.
func NewFactory(t testing.TB, engine string) *backend.Factory {
	t.Helper()
	dir := t.TempDir()
	f := backend.NewFactory(core.BackendConfig{
		Engine:  engine,
		DBPath:  filepath.Join(dir, "lexicon.db"),
		DataDir: filepath.Join(dir, "data"),
	}, testutil.NewTestLogger(t))
	t.Cleanup(func() { _ = f.Close() })
	return f
}

// NewSession opens a session from f that is closed when the test ends.
func NewSession(t testing.TB, f *backend.Factory) core.Session {
	t.Helper()
	s, err := f.Session(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// EachBackend runs fn as a subtest once per engine, each with its own
// empty storage.
func EachBackend(t *testing.T, fn func(t *testing.T, f *backend.Factory)) {
	t.Helper()
	for _, engine := range Engines {
		t.Run(engine, func(t *testing.T) {
			fn(t, NewFactory(t, engine))
		})
	}
}
