package backend

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func(*slog.Logger) Backend)
)

// Register adds a backend constructor to the registry.
// Called by backend implementations in their init() functions.
func Register(name string, factory func(*slog.Logger) Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get retrieves a backend constructor by name.
func Get(name string) (func(*slog.Logger) Backend, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// NewBackend creates an unopened backend instance for engine.
// The logger parameter is passed to the backend constructor (nil uses discard logger).
func NewBackend(engine string, logger *slog.Logger) (Backend, error) {
	if engine == "" {
		return nil, fmt.Errorf("backend engine not specified")
	}

	factory, ok := Get(engine)
	if !ok {
		return nil, &UnknownBackendError{
			Engine:    engine,
			Available: ListBackends(),
		}
	}
	return factory(logger), nil
}

// ListBackends returns all registered backend names (sorted).
func ListBackends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend engine is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// UnknownBackendError is returned when an unknown engine is requested.
type UnknownBackendError struct {
	Engine    string
	Available []string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown storage backend %q\nAvailable backends: %v\nHint: Check LEXSTORE_BACKEND or backend in lexstore.yaml", e.Engine, e.Available)
}
