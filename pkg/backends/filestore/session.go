package filestore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/lexstore/pkg/backend"
	"github.com/leapstack-labs/lexstore/pkg/core"
)

type opKind int

const (
	opAdd opKind = iota
	opDelete
)

type pendingOp struct {
	kind opKind
	rec  core.Record
}

// Session is a file-backend unit of work. Reads and writes go to private
// copies of the committed collections, taken on first use; Add and Delete
// queue operations that Flush applies in order. Queries and Get flush first
// so they always see the session's own writes.
type Session struct {
	id     string
	b      *Backend
	logger *slog.Logger

	work    map[core.Entity]*collection
	dirty   map[core.Entity]bool
	pending []pendingOp
	closed  bool
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) collection(e core.Entity) (*collection, error) {
	if c, ok := s.work[e]; ok {
		return c, nil
	}
	c, err := s.b.snapshot(e)
	if err != nil {
		return nil, err
	}
	s.work[e] = c
	return c, nil
}

func (s *Session) markDirty(e core.Entity) {
	if s.dirty == nil {
		s.dirty = make(map[core.Entity]bool)
	}
	s.dirty[e] = true
}

// Query starts a query over entity.
func (s *Session) Query(entity core.Entity) core.Query {
	return backend.NewQuery(s, entity)
}

// Get returns the record with primary key id, or nil.
func (s *Session) Get(ctx context.Context, entity core.Entity, id int64) (core.Record, error) {
	row, err := s.getRow(ctx, entity, id)
	if err != nil || row == nil {
		return nil, err
	}
	return core.RecordFromRow(entity, row.Clone())
}

func (s *Session) getRow(ctx context.Context, entity core.Entity, id int64) (core.Row, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	c, err := s.collection(entity)
	if err != nil {
		return nil, err
	}
	return c.rows[id], nil
}

// Add queues rec for insertion, or for an update when it already has a key.
// Values are validated now; keys are assigned at flush.
func (s *Session) Add(_ context.Context, rec core.Record) error {
	if s.closed {
		return core.ErrSessionClosed
	}
	tbl, err := backend.GuardAdd(rec)
	if err != nil {
		return err
	}
	if _, err := tbl.Normalize(rec.Values()); err != nil {
		return err
	}
	for _, op := range s.pending {
		if op.kind == opAdd && op.rec == rec {
			return nil
		}
	}
	s.pending = append(s.pending, pendingOp{kind: opAdd, rec: rec})
	return nil
}

// Delete queues rec for removal. A record whose insertion is still pending
// is simply dropped from the queue.
func (s *Session) Delete(_ context.Context, rec core.Record) error {
	if s.closed {
		return core.ErrSessionClosed
	}
	if _, err := backend.GuardDelete(rec); err != nil {
		return err
	}
	if rec.Key() == 0 {
		s.Expunge(rec)
		return nil
	}
	s.pending = append(s.pending, pendingOp{kind: opDelete, rec: rec})
	return nil
}

// Flush applies pending operations to the working collections.
// On failure the remaining operations are discarded.
func (s *Session) Flush(_ context.Context) error {
	if s.closed {
		return core.ErrSessionClosed
	}
	ops := s.pending
	s.pending = nil
	for _, op := range ops {
		var err error
		switch op.kind {
		case opAdd:
			err = s.applyAdd(op.rec)
		case opDelete:
			err = s.applyDelete(op.rec)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) applyAdd(rec core.Record) error {
	tbl, err := backend.GuardAdd(rec)
	if err != nil {
		return err
	}
	row, err := tbl.Normalize(rec.Values())
	if err != nil {
		return err
	}
	c, err := s.collection(tbl.Entity)
	if err != nil {
		return err
	}

	id := rec.Key()
	if id == 0 {
		id = c.nextID
		row[core.PrimaryKeyColumn] = id
		if err := c.checkUnique(tbl, row); err != nil {
			return err
		}
		c.nextID++
		c.rows[id] = row
		rec.SetKey(id)
	} else {
		if _, ok := c.rows[id]; !ok {
			return fmt.Errorf("%s %d: %w", tbl.Entity, id, core.ErrNoResultFound)
		}
		row[core.PrimaryKeyColumn] = id
		if err := c.checkUnique(tbl, row); err != nil {
			return err
		}
		c.rows[id] = row
	}
	s.markDirty(tbl.Entity)
	return nil
}

func (s *Session) applyDelete(rec core.Record) error {
	c, err := s.collection(rec.Entity())
	if err != nil {
		return err
	}
	if _, ok := c.rows[rec.Key()]; ok {
		delete(c.rows, rec.Key())
		s.markDirty(rec.Entity())
	}
	return nil
}

// Commit flushes and writes every changed entity file.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if len(s.dirty) > 0 {
		changed := make(map[core.Entity]*collection, len(s.dirty))
		for e := range s.dirty {
			changed[e] = s.work[e]
		}
		if err := s.b.commit(changed); err != nil {
			return fmt.Errorf("failed to commit: %w", err)
		}
		s.logger.Debug("session committed", slog.Int("entities", len(changed)))
	}
	s.reset()
	return nil
}

// Rollback discards pending operations and working copies.
func (s *Session) Rollback(_ context.Context) error {
	if s.closed {
		return core.ErrSessionClosed
	}
	s.reset()
	return nil
}

func (s *Session) reset() {
	s.pending = nil
	s.dirty = nil
	s.work = make(map[core.Entity]*collection)
}

// Refresh reloads rec from the session's view of storage.
func (s *Session) Refresh(ctx context.Context, rec core.Record) error {
	row, err := s.getRow(ctx, rec.Entity(), rec.Key())
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("%s %d: %w", rec.Entity(), rec.Key(), core.ErrNoResultFound)
	}
	return rec.Load(row.Clone())
}

// Expunge drops pending operations on rec.
func (s *Session) Expunge(rec core.Record) {
	kept := s.pending[:0]
	for _, op := range s.pending {
		if op.rec != rec {
			kept = append(kept, op)
		}
	}
	s.pending = kept
}

// Bind returns the *Backend.
func (s *Session) Bind() any {
	return s.b
}

// Close discards uncommitted work.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.reset()
	s.closed = true
	return nil
}

// --- backend.Executor ---

// Select runs spec and returns its records.
func (s *Session) Select(ctx context.Context, spec core.QuerySpec) ([]core.Record, error) {
	rows, err := s.evaluate(ctx, spec)
	if err != nil {
		return nil, err
	}
	recs := make([]core.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := core.RecordFromRow(spec.Entity, row.Clone())
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Count returns the number of rows spec selects.
func (s *Session) Count(ctx context.Context, spec core.QuerySpec) (int64, error) {
	rows, err := s.evaluate(ctx, spec)
	return int64(len(rows)), err
}

// DeleteWhere removes the rows spec selects.
func (s *Session) DeleteWhere(ctx context.Context, spec core.QuerySpec) (int64, error) {
	rows, err := s.evaluate(ctx, spec)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	c, err := s.collection(spec.Entity)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		delete(c.rows, row.Key())
	}
	s.markDirty(spec.Entity)
	return int64(len(rows)), nil
}

// UpdateWhere sets values on the rows spec selects.
func (s *Session) UpdateWhere(ctx context.Context, spec core.QuerySpec, values core.Row) (int64, error) {
	rows, err := s.evaluate(ctx, spec)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	tbl, err := core.TableFor(spec.Entity)
	if err != nil {
		return 0, err
	}
	c, err := s.collection(spec.Entity)
	if err != nil {
		return 0, err
	}

	updated := make([]core.Row, len(rows))
	for i, row := range rows {
		next := row.Clone()
		for k, v := range values {
			next[k] = v
		}
		if err := c.checkUnique(tbl, next); err != nil {
			return 0, err
		}
		updated[i] = next
	}
	among := newCollection(updated)
	for _, row := range updated {
		if err := among.checkUnique(tbl, row); err != nil {
			return 0, err
		}
	}
	for _, row := range updated {
		c.rows[row.Key()] = row
	}
	s.markDirty(spec.Entity)
	return int64(len(rows)), nil
}

var (
	_ core.Session     = (*Session)(nil)
	_ backend.Executor = (*Session)(nil)
)
