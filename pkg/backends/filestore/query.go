package filestore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/lexstore/pkg/core"
)

// view is a base row paired with the row reached through the query's join.
type view struct {
	spec   *core.QuerySpec
	base   core.Row
	joined core.Row
}

func (v view) value(field string) any {
	e, col := v.spec.Resolve(field)
	if e == v.spec.Entity {
		return v.base[col]
	}
	return v.joined[col]
}

// evaluate runs spec over the working collections: join, filter,
// distinct, order, then offset and limit.
func (s *Session) evaluate(ctx context.Context, spec core.QuerySpec) ([]core.Row, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	if err := checkSupported(spec); err != nil {
		return nil, err
	}

	base, err := s.collection(spec.Entity)
	if err != nil {
		return nil, err
	}

	var (
		target   *collection
		joinCol  string
		hasJoin  = len(spec.Joins) == 1
		matching []view
	)
	if hasJoin {
		if target, err = s.collection(spec.Joins[0].Target); err != nil {
			return nil, err
		}
		_, joinCol = spec.Resolve(spec.Joins[0].Field)
	}

	for _, row := range base.rows {
		v := view{spec: &spec, base: row}
		if hasJoin {
			ref, ok := row[joinCol].(int64)
			if !ok {
				continue
			}
			if v.joined, ok = target.rows[ref]; !ok {
				continue
			}
		}
		keep := true
		for _, p := range spec.Filters {
			if !match(v, p) {
				keep = false
				break
			}
		}
		if keep {
			matching = append(matching, v)
		}
	}

	if len(spec.DistinctOn) > 0 {
		matching = distinctOn(matching, spec.DistinctOn)
	}

	slices.SortStableFunc(matching, func(a, b view) int {
		for _, o := range spec.Orders {
			if c := compareNullsLast(a.value(o.Field), b.value(o.Field), o.Descending); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.base.Key(), b.base.Key())
	})

	start := min(spec.Offset, len(matching))
	matching = matching[start:]
	if spec.Limit >= 0 && spec.Limit < len(matching) {
		matching = matching[:spec.Limit]
	}

	out := make([]core.Row, len(matching))
	for i, v := range matching {
		out[i] = v.base
	}
	return out, nil
}

// distinctOn keeps the view with the lowest primary key for each distinct
// tuple of fields.
func distinctOn(views []view, fields []string) []view {
	slices.SortFunc(views, func(a, b view) int {
		return cmp.Compare(a.base.Key(), b.base.Key())
	})
	seen := make(map[string]bool, len(views))
	out := views[:0]
	for _, v := range views {
		var key strings.Builder
		for _, f := range fields {
			fmt.Fprintf(&key, "%T=%v\x00", v.value(f), v.value(f))
		}
		if seen[key.String()] {
			continue
		}
		seen[key.String()] = true
		out = append(out, v)
	}
	return out
}

// checkSupported rejects the query shapes this backend cannot evaluate:
// more than one join, a join starting from a joined entity, and Or
// predicates spanning both entities.
func checkSupported(spec core.QuerySpec) error {
	if len(spec.Joins) > 1 {
		return fmt.Errorf("%w: file backend supports a single join", core.ErrUnsupportedQuery)
	}
	if len(spec.Joins) == 1 {
		if e, _ := spec.Resolve(spec.Joins[0].Field); e != spec.Entity {
			return fmt.Errorf("%w: join must start from %s", core.ErrUnsupportedQuery, spec.Entity)
		}
	}
	for _, p := range spec.Filters {
		if err := checkOr(spec, p); err != nil {
			return err
		}
	}
	return nil
}

func checkOr(spec core.QuerySpec, p core.Predicate) error {
	switch p.Op {
	case core.OpOr:
		var first core.Entity
		for _, f := range p.Fields() {
			e, _ := spec.Resolve(f)
			if first == "" {
				first = e
			} else if e != first {
				return fmt.Errorf("%w: or across %s and %s", core.ErrUnsupportedQuery, first, e)
			}
		}
	case core.OpAnd:
		for _, c := range p.Children {
			if err := checkOr(spec, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// match evaluates p with SQL semantics: a comparison involving NULL never
// matches.
func match(v view, p core.Predicate) bool {
	switch p.Op {
	case core.OpAnd:
		for _, c := range p.Children {
			if !match(v, c) {
				return false
			}
		}
		return true
	case core.OpOr:
		for _, c := range p.Children {
			if match(v, c) {
				return true
			}
		}
		return false
	}

	val := v.value(p.Field)
	switch p.Op {
	case core.OpIsNull:
		return val == nil
	case core.OpNotNull:
		return val != nil
	case core.OpEq:
		if p.Value == nil {
			return val == nil
		}
		return equal(val, p.Value)
	case core.OpNe:
		if p.Value == nil {
			return val != nil
		}
		return val != nil && !equal(val, p.Value)
	case core.OpLt, core.OpLe, core.OpGt, core.OpGe:
		if val == nil || p.Value == nil {
			return false
		}
		c, err := core.Compare(val, p.Value)
		if err != nil {
			return false
		}
		switch p.Op {
		case core.OpLt:
			return c < 0
		case core.OpLe:
			return c <= 0
		case core.OpGt:
			return c > 0
		default:
			return c >= 0
		}
	case core.OpIn:
		if val == nil {
			return false
		}
		return slices.ContainsFunc(p.Values, func(x any) bool { return equal(val, x) })
	case core.OpNotIn:
		if val == nil {
			return false
		}
		return !slices.ContainsFunc(p.Values, func(x any) bool { return x == nil || equal(val, x) })
	case core.OpPrefix:
		str, ok := val.(string)
		prefix, _ := p.Value.(string)
		return ok && strings.HasPrefix(str, prefix)
	}
	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	c, err := core.Compare(a, b)
	return err == nil && c == 0
}

func compareNullsLast(a, b any, desc bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	c, _ := core.Compare(a, b)
	if desc {
		return -c
	}
	return c
}
