package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/lexstore/pkg/backend"
	"github.com/leapstack-labs/lexstore/pkg/core"
)

// Session is a relational unit of work backed by one database transaction.
// Writes execute immediately inside the transaction, so Flush has nothing
// to push and keys are known as soon as Add returns.
type Session struct {
	id      string
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger

	tx     *sql.Tx
	gate   chan struct{}
	closed bool
}

// ErrMemoryBusy is returned when a session on an in-memory database starts
// a transaction while another session still holds the only connection.
var ErrMemoryBusy = errors.New("in-memory database is held by another session")

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) conn(ctx context.Context) (querier, error) {
	if s.closed {
		return nil, core.ErrSessionClosed
	}
	if s.tx == nil {
		if s.gate != nil {
			select {
			case s.gate <- struct{}{}:
			default:
				return nil, ErrMemoryBusy
			}
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.release()
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		s.tx = tx
	}
	return s.tx, nil
}

func (s *Session) release() {
	if s.gate != nil {
		<-s.gate
	}
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
	return core.RecordFromRow(entity, row)
}

func (s *Session) getRow(ctx context.Context, entity core.Entity, id int64) (core.Row, error) {
	spec := core.QuerySpec{
		Entity:  entity,
		Filters: []core.Predicate{core.Eq(core.PrimaryKeyColumn, id)},
		Limit:   1,
	}
	rows, err := s.selectRows(ctx, spec)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Add inserts rec when its key is zero and assigns the new key; otherwise
// it overwrites the stored row. Updating a row that no longer exists fails
// with core.ErrNoResultFound.
func (s *Session) Add(ctx context.Context, rec core.Record) error {
	tbl, err := backend.GuardAdd(rec)
	if err != nil {
		return err
	}
	row, err := tbl.Normalize(rec.Values())
	if err != nil {
		return err
	}
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}

	b := newBuilder(s.dialect)
	if rec.Key() == 0 {
		var id int64
		if err := q.QueryRowContext(ctx, b.insertSQL(tbl, row), b.args...).Scan(&id); err != nil {
			return fmt.Errorf("failed to insert %s: %w", tbl.Entity, err)
		}
		rec.SetKey(id)
		return nil
	}

	res, err := q.ExecContext(ctx, b.updateByKeySQL(tbl, row, rec.Key()), b.args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %d: %w", tbl.Entity, rec.Key(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %d: %w", tbl.Entity, rec.Key(), core.ErrNoResultFound)
	}
	return nil
}

// Delete removes rec. Records that were never stored are ignored.
func (s *Session) Delete(ctx context.Context, rec core.Record) error {
	tbl, err := backend.GuardDelete(rec)
	if err != nil {
		return err
	}
	if rec.Key() == 0 {
		return nil
	}
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	b := newBuilder(s.dialect)
	stmt := "DELETE FROM " + quoteIdent(tbl.Name()) + " WHERE " + quoteIdent(core.PrimaryKeyColumn) + " = " + b.arg(rec.Key())
	if _, err := q.ExecContext(ctx, stmt, b.args...); err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", tbl.Entity, rec.Key(), err)
	}
	return nil
}

// Flush is a no-op: statements already ran inside the transaction.
func (s *Session) Flush(_ context.Context) error {
	if s.closed {
		return core.ErrSessionClosed
	}
	return nil
}

// Commit commits the open transaction, if any.
func (s *Session) Commit(_ context.Context) error {
	if s.closed {
		return core.ErrSessionClosed
	}
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	defer s.release()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.logger.Debug("session committed")
	return nil
}

// Rollback aborts the open transaction, if any.
func (s *Session) Rollback(_ context.Context) error {
	if s.closed {
		return core.ErrSessionClosed
	}
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	defer s.release()
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back: %w", err)
	}
	s.logger.Debug("session rolled back")
	return nil
}

// Refresh reloads rec from the database.
func (s *Session) Refresh(ctx context.Context, rec core.Record) error {
	row, err := s.getRow(ctx, rec.Entity(), rec.Key())
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("%s %d: %w", rec.Entity(), rec.Key(), core.ErrNoResultFound)
	}
	return rec.Load(row)
}

// Expunge is a no-op: there are no pending changes to discard.
func (s *Session) Expunge(core.Record) {}

// Bind returns the open *sql.Tx, or the *sql.DB when no transaction has
// started yet.
func (s *Session) Bind() any {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Close rolls back any uncommitted work.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	err := s.Rollback(context.Background())
	s.closed = true
	return err
}

// --- backend.Executor ---

func (s *Session) selectRows(ctx context.Context, spec core.QuerySpec) ([]core.Row, error) {
	tbl, err := core.TableFor(spec.Entity)
	if err != nil {
		return nil, err
	}
	b := newBuilder(s.dialect)
	stmt, err := b.selectSQL(spec)
	if err != nil {
		return nil, err
	}
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, stmt, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", spec.Entity, err)
	}
	return scanRows(rows, tbl)
}

// Select runs spec and returns its records.
func (s *Session) Select(ctx context.Context, spec core.QuerySpec) ([]core.Record, error) {
	rows, err := s.selectRows(ctx, spec)
	if err != nil {
		return nil, err
	}
	recs := make([]core.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := core.RecordFromRow(spec.Entity, row)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Count returns the number of rows spec selects.
func (s *Session) Count(ctx context.Context, spec core.QuerySpec) (int64, error) {
	b := newBuilder(s.dialect)
	stmt, err := b.countSQL(spec)
	if err != nil {
		return 0, err
	}
	q, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRowContext(ctx, stmt, b.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", spec.Entity, err)
	}
	return n, nil
}

// DeleteWhere deletes the rows spec selects.
func (s *Session) DeleteWhere(ctx context.Context, spec core.QuerySpec) (int64, error) {
	b := newBuilder(s.dialect)
	stmt, err := b.deleteSQL(spec)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, stmt, b.args)
}

// UpdateWhere sets values on the rows spec selects.
func (s *Session) UpdateWhere(ctx context.Context, spec core.QuerySpec, values core.Row) (int64, error) {
	tbl, err := core.TableFor(spec.Entity)
	if err != nil {
		return 0, err
	}
	b := newBuilder(s.dialect)
	stmt, err := b.updateSQL(spec, values, tbl)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, stmt, b.args)
}

func (s *Session) exec(ctx context.Context, stmt string, args []any) (int64, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute statement: %w", err)
	}
	return res.RowsAffected()
}

var (
	_ core.Session     = (*Session)(nil)
	_ backend.Executor = (*Session)(nil)
)
