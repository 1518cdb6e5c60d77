package core

import "errors"

// Sentinel errors shared by every backend. Callers test them with errors.Is.
var (
	// ErrNoResultFound is returned by Query.One when no row matched.
	ErrNoResultFound = errors.New("no result found")

	// ErrMultipleResultsFound is returned by Query.One and Query.OneOrNone
	// when more than one row matched.
	ErrMultipleResultsFound = errors.New("multiple results found")

	// ErrUnknownCategory is returned when a category has no GUID prefix.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrUnsupportedQuery is returned when a backend cannot evaluate a query,
	// e.g. multi-hop joins on the file backend.
	ErrUnsupportedQuery = errors.New("unsupported query")

	// ErrInitialization is returned when a backend cannot set up its storage.
	ErrInitialization = errors.New("backend initialization failed")

	// ErrImmutable is returned on attempts to modify or delete audit records.
	ErrImmutable = errors.New("record is immutable")

	// ErrUnknownEntity is returned for an entity without a declared table.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrUnknownField is returned when a query references an undeclared column.
	ErrUnknownField = errors.New("unknown field")

	// ErrSessionClosed is returned by any operation on a closed session.
	ErrSessionClosed = errors.New("session is closed")
)
