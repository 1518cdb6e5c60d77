// Package backend provides the storage backend contract and the factory
// that selects, opens and caches the configured backend for lexstore.
//
// Concrete backends live in pkg/backends/ subdirectories and register
// themselves from init(). Import them with a blank identifier:
//
//	import _ "github.com/leapstack-labs/lexstore/pkg/backends/relational"
package backend

import (
	"context"

	"github.com/leapstack-labs/lexstore/pkg/core"
)

// Backend is a storage engine able to mint sessions.
type Backend interface {
	// Name returns the engine identifier the backend registered under.
	Name() string

	// Open prepares storage described by cfg. Open must be idempotent
	// against already-initialized storage.
	Open(ctx context.Context, cfg core.BackendConfig) error

	// NewSession starts a new unit of work.
	NewSession(ctx context.Context) (core.Session, error)

	// Close releases the backend's resources.
	Close() error
}
