package core

import (
	"context"
	"fmt"
)

// Session is a single unit of work against a storage backend.
// Sessions are not safe for concurrent use; each unit of work opens and
// closes its own.
type Session interface {
	// ID identifies the session in logs.
	ID() string

	// Query starts a query over entity.
	Query(entity Entity) Query

	// Get returns the record with primary key id, or nil when absent.
	Get(ctx context.Context, entity Entity, id int64) (Record, error)

	// Add inserts rec when its key is zero, otherwise persists its current
	// values over the stored row. Keys are assigned at flush.
	Add(ctx context.Context, rec Record) error

	// Delete removes rec.
	Delete(ctx context.Context, rec Record) error

	// Flush pushes pending writes so later queries in this session see them,
	// without finalizing the unit of work.
	Flush(ctx context.Context) error

	// Commit flushes and makes the unit of work durable.
	Commit(ctx context.Context) error

	// Rollback discards every change since the last commit.
	Rollback(ctx context.Context) error

	// Refresh reloads rec from storage.
	Refresh(ctx context.Context, rec Record) error

	// Expunge detaches rec so pending, unflushed changes to it are dropped.
	Expunge(rec Record)

	// Bind exposes the underlying engine handle for backend-specific use.
	Bind() any

	// Close rolls back uncommitted work and releases resources.
	// Close is safe to call more than once.
	Close() error
}

// Query is a chainable, immutable query builder. Construction errors are
// deferred to the terminal call.
type Query interface {
	Filter(preds ...Predicate) Query
	FilterBy(fields Fields) Query
	OrderBy(orders ...Order) Query
	Limit(n int) Query
	Offset(n int) Query
	Join(field string, target Entity) Query
	Distinct(fields ...string) Query

	All(ctx context.Context) ([]Record, error)
	First(ctx context.Context) (Record, error)
	One(ctx context.Context) (Record, error)
	OneOrNone(ctx context.Context) (Record, error)
	Count(ctx context.Context) (int64, error)
	Exists(ctx context.Context) (bool, error)

	// Delete and Update act on the full matched set and return the number
	// of affected rows.
	Delete(ctx context.Context) (int64, error)
	Update(ctx context.Context, values Fields) (int64, error)
}

// All runs q and returns its records as T.
func All[T Record](ctx context.Context, q Query) ([]T, error) {
	recs, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		t, ok := r.(T)
		if !ok {
			return nil, fmt.Errorf("unexpected record type %T", r)
		}
		out = append(out, t)
	}
	return out, nil
}

// First runs q and returns its first record as T, or the zero T when empty.
func First[T Record](ctx context.Context, q Query) (T, error) {
	var zero T
	rec, err := q.First(ctx)
	if err != nil || rec == nil {
		return zero, err
	}
	t, ok := rec.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected record type %T", rec)
	}
	return t, nil
}

// Get loads the record with primary key id as T, or the zero T when absent.
func Get[T Record](ctx context.Context, s Session, entity Entity, id int64) (T, error) {
	var zero T
	rec, err := s.Get(ctx, entity, id)
	if err != nil || rec == nil {
		return zero, err
	}
	t, ok := rec.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected record type %T", rec)
	}
	return t, nil
}
