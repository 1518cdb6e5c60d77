// Package core defines the shared language of the lexstore system.
//
// This package contains:
//   - Domain entities (Lemma, DerivativeForm, Tombstone, OperationLog)
//   - Declared table schemas used by every storage backend
//   - The Session/Query contract and its predicate vocabulary
//   - Configuration types (BackendConfig)
//   - Sentinel errors shared across backends
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
