package backend

import (
	"context"
	"fmt"
	"slices"

	"github.com/leapstack-labs/lexstore/pkg/core"
)

// Executor runs validated query specs. Each backend's session implements it;
// Query supplies the chainable builder and the cardinality helpers on top.
type Executor interface {
	Select(ctx context.Context, spec core.QuerySpec) ([]core.Record, error)
	Count(ctx context.Context, spec core.QuerySpec) (int64, error)
	DeleteWhere(ctx context.Context, spec core.QuerySpec) (int64, error)
	UpdateWhere(ctx context.Context, spec core.QuerySpec, values core.Row) (int64, error)
}

// Query is the shared core.Query implementation. Every builder method
// returns a copy, so partially built queries can be reused.
type Query struct {
	exec Executor
	spec core.QuerySpec
	err  error
}

// NewQuery starts a query over entity executed by exec.
func NewQuery(exec Executor, entity core.Entity) *Query {
	q := &Query{exec: exec, spec: core.QuerySpec{Entity: entity, Limit: -1}}
	if _, err := core.TableFor(entity); err != nil {
		q.err = err
	}
	return q
}

// Spec returns the validated spec built so far.
func (q *Query) Spec() core.QuerySpec {
	return q.spec.Clone()
}

// Err returns the first construction error, if any.
func (q *Query) Err() error {
	return q.err
}

func (q *Query) clone() *Query {
	c := *q
	c.spec = q.spec.Clone()
	return &c
}

func (q *Query) fail(err error) *Query {
	c := q.clone()
	if c.err == nil {
		c.err = err
	}
	return c
}

// column resolves a field against the base entity and every joined entity.
func (q *Query) column(field string) (core.Column, error) {
	ent, name := q.spec.Resolve(field)
	if !slices.Contains(q.spec.Entities(), ent) {
		return core.Column{}, fmt.Errorf("%w: %s (entity %s is not part of the query)", core.ErrUnknownField, field, ent)
	}
	tbl, err := core.TableFor(ent)
	if err != nil {
		return core.Column{}, err
	}
	col, ok := tbl.Column(name)
	if !ok {
		return core.Column{}, fmt.Errorf("%w: %s.%s", core.ErrUnknownField, ent, name)
	}
	return col, nil
}

func (q *Query) normalize(p core.Predicate) (core.Predicate, error) {
	if p.Op == core.OpAnd || p.Op == core.OpOr {
		children := make([]core.Predicate, len(p.Children))
		for i, c := range p.Children {
			nc, err := q.normalize(c)
			if err != nil {
				return p, err
			}
			children[i] = nc
		}
		p.Children = children
		return p, nil
	}

	col, err := q.column(p.Field)
	if err != nil {
		return p, err
	}

	switch p.Op {
	case core.OpIsNull, core.OpNotNull:
		return p, nil
	case core.OpIn, core.OpNotIn:
		values := make([]any, 0, len(p.Values))
		for _, v := range p.Values {
			cv, err := core.Coerce(col, v)
			if err != nil {
				return p, fmt.Errorf("%s: %w", p.Field, err)
			}
			values = append(values, cv)
		}
		p.Values = values
		return p, nil
	case core.OpPrefix:
		if col.Type != core.TypeText {
			return p, fmt.Errorf("%w: prefix match on non-text field %s", core.ErrUnsupportedQuery, p.Field)
		}
		if _, ok := p.Value.(string); !ok {
			return p, fmt.Errorf("%s: prefix must be a string, got %T", p.Field, p.Value)
		}
		return p, nil
	case core.OpEq, core.OpNe, core.OpLt, core.OpLe, core.OpGt, core.OpGe:
		v, err := core.Coerce(col, p.Value)
		if err != nil {
			return p, fmt.Errorf("%s: %w", p.Field, err)
		}
		p.Value = v
		return p, nil
	default:
		return p, fmt.Errorf("%w: operator %d", core.ErrUnsupportedQuery, p.Op)
	}
}

// Filter adds predicates combined with AND.
func (q *Query) Filter(preds ...core.Predicate) core.Query {
	if q.err != nil {
		return q
	}
	c := q.clone()
	for _, p := range preds {
		np, err := c.normalize(p)
		if err != nil {
			return q.fail(err)
		}
		c.spec.Filters = append(c.spec.Filters, np)
	}
	return c
}

// FilterBy adds one equality predicate per field.
func (q *Query) FilterBy(fields core.Fields) core.Query {
	return q.Filter(fields.Predicates()...)
}

// OrderBy appends ORDER BY terms.
func (q *Query) OrderBy(orders ...core.Order) core.Query {
	if q.err != nil {
		return q
	}
	for _, o := range orders {
		if _, err := q.column(o.Field); err != nil {
			return q.fail(err)
		}
	}
	c := q.clone()
	c.spec.Orders = append(c.spec.Orders, orders...)
	return c
}

// Limit caps the number of rows. A negative n removes the cap.
func (q *Query) Limit(n int) core.Query {
	c := q.clone()
	if n < 0 {
		n = -1
	}
	c.spec.Limit = n
	return c
}

// Offset skips the first n matching rows.
func (q *Query) Offset(n int) core.Query {
	c := q.clone()
	c.spec.Offset = max(n, 0)
	return c
}

// Join follows the reference column field to target. field may be
// qualified to continue from an entity joined earlier.
func (q *Query) Join(field string, target core.Entity) core.Query {
	if q.err != nil {
		return q
	}
	col, err := q.column(field)
	if err != nil {
		return q.fail(err)
	}
	if col.References != target {
		return q.fail(fmt.Errorf("%w: %s does not reference %s", core.ErrUnsupportedQuery, field, target))
	}
	if slices.Contains(q.spec.Entities(), target) {
		return q.fail(fmt.Errorf("%w: %s is already part of the query", core.ErrUnsupportedQuery, target))
	}
	c := q.clone()
	c.spec.Joins = append(c.spec.Joins, core.JoinSpec{Field: field, Target: target})
	return c
}

// Distinct removes duplicate rows. Without fields it removes duplicate
// base rows; with fields it keeps one row per distinct tuple of their
// values, the one with the lowest primary key. Fields may name joined
// columns. A later call replaces the fields of an earlier one.
func (q *Query) Distinct(fields ...string) core.Query {
	if q.err != nil {
		return q
	}
	for _, f := range fields {
		if _, err := q.column(f); err != nil {
			return q.fail(err)
		}
	}
	c := q.clone()
	c.spec.Distinct = true
	c.spec.DistinctOn = append([]string(nil), fields...)
	return c
}

// All returns every matching record.
func (q *Query) All(ctx context.Context) ([]core.Record, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.exec.Select(ctx, q.spec.Clone())
}

func (q *Query) capped(n int) core.QuerySpec {
	spec := q.spec.Clone()
	if spec.Limit < 0 || spec.Limit > n {
		spec.Limit = n
	}
	return spec
}

// First returns the first matching record or nil.
func (q *Query) First(ctx context.Context) (core.Record, error) {
	if q.err != nil {
		return nil, q.err
	}
	recs, err := q.exec.Select(ctx, q.capped(1))
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// One returns the single matching record. It fails with
// core.ErrNoResultFound or core.ErrMultipleResultsFound otherwise.
func (q *Query) One(ctx context.Context) (core.Record, error) {
	rec, err := q.OneOrNone(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s: %w", q.spec.Entity, core.ErrNoResultFound)
	}
	return rec, nil
}

// OneOrNone returns the single matching record, nil when there is none,
// and core.ErrMultipleResultsFound when there are several.
func (q *Query) OneOrNone(ctx context.Context) (core.Record, error) {
	if q.err != nil {
		return nil, q.err
	}
	recs, err := q.exec.Select(ctx, q.capped(2))
	if err != nil {
		return nil, err
	}
	switch len(recs) {
	case 0:
		return nil, nil
	case 1:
		return recs[0], nil
	default:
		return nil, fmt.Errorf("%s: %w", q.spec.Entity, core.ErrMultipleResultsFound)
	}
}

// Count returns the number of rows the query would return.
func (q *Query) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	return q.exec.Count(ctx, q.spec.Clone())
}

// Exists reports whether at least one row matches.
func (q *Query) Exists(ctx context.Context) (bool, error) {
	rec, err := q.First(ctx)
	return rec != nil, err
}

func (q *Query) mutable() error {
	if q.err != nil {
		return q.err
	}
	tbl, err := core.TableFor(q.spec.Entity)
	if err != nil {
		return err
	}
	if tbl.Immutable {
		return fmt.Errorf("%s: %w", q.spec.Entity, core.ErrImmutable)
	}
	return nil
}

// Delete removes every matching row.
func (q *Query) Delete(ctx context.Context) (int64, error) {
	if err := q.mutable(); err != nil {
		return 0, err
	}
	return q.exec.DeleteWhere(ctx, q.spec.Clone())
}

// Update sets values on every matching row.
func (q *Query) Update(ctx context.Context, values core.Fields) (int64, error) {
	if err := q.mutable(); err != nil {
		return 0, err
	}
	tbl, _ := core.TableFor(q.spec.Entity)
	row := make(core.Row, len(values))
	for name, v := range values {
		col, ok := tbl.Column(name)
		if !ok {
			return 0, fmt.Errorf("%w: %s.%s", core.ErrUnknownField, tbl.Entity, name)
		}
		if col.PrimaryKey {
			return 0, fmt.Errorf("%s.%s: primary key cannot be updated", tbl.Entity, name)
		}
		cv, err := core.Coerce(col, v)
		if err != nil {
			return 0, fmt.Errorf("%s.%s: %w", tbl.Entity, name, err)
		}
		if cv == nil && !col.Nullable {
			return 0, fmt.Errorf("%s.%s: value is required", tbl.Entity, name)
		}
		row[name] = cv
	}
	if len(row) == 0 {
		return 0, nil
	}
	return q.exec.UpdateWhere(ctx, q.spec.Clone(), row)
}

var _ core.Query = (*Query)(nil)
