package backend

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/leapstack-labs/lexstore/pkg/core"
)

// NewSessionID returns a fresh identifier used to correlate session logs.
func NewSessionID() string {
	return uuid.NewString()
}

// GuardAdd returns the record's table, or core.ErrImmutable when rec is an
// already-stored row of an append-only table.
func GuardAdd(rec core.Record) (*core.Table, error) {
	tbl, err := core.TableFor(rec.Entity())
	if err != nil {
		return nil, err
	}
	if tbl.Immutable && rec.Key() != 0 {
		return nil, fmt.Errorf("%s %d: %w", tbl.Entity, rec.Key(), core.ErrImmutable)
	}
	return tbl, nil
}

// GuardDelete returns the record's table, or core.ErrImmutable when rec
// belongs to an append-only table.
func GuardDelete(rec core.Record) (*core.Table, error) {
	tbl, err := core.TableFor(rec.Entity())
	if err != nil {
		return nil, err
	}
	if tbl.Immutable {
		return nil, fmt.Errorf("%s: %w", tbl.Entity, core.ErrImmutable)
	}
	return tbl, nil
}
