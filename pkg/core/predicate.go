package core

import "sort"

// Op is a predicate operator.
type Op int

// Predicate operators. Comparisons against NULL follow SQL semantics:
// they never match, except Eq/Ne with a nil value which mean IS NULL and
// IS NOT NULL.
const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIn
	OpNotIn
	OpIsNull
	OpNotNull
	OpPrefix
	OpAnd
	OpOr
)

// Predicate is a backend-neutral filter expression.
type Predicate struct {
	Op       Op
	Field    string
	Value    any
	Values   []any
	Children []Predicate
}

// Eq matches rows where field equals v. A nil v matches NULL.
func Eq(field string, v any) Predicate { return Predicate{Op: OpEq, Field: field, Value: v} }

// Ne matches rows where field differs from v. A nil v matches non-NULL.
func Ne(field string, v any) Predicate { return Predicate{Op: OpNe, Field: field, Value: v} }

// Lt matches rows where field < v.
func Lt(field string, v any) Predicate { return Predicate{Op: OpLt, Field: field, Value: v} }

// Le matches rows where field <= v.
func Le(field string, v any) Predicate { return Predicate{Op: OpLe, Field: field, Value: v} }

// Gt matches rows where field > v.
func Gt(field string, v any) Predicate { return Predicate{Op: OpGt, Field: field, Value: v} }

// Ge matches rows where field >= v.
func Ge(field string, v any) Predicate { return Predicate{Op: OpGe, Field: field, Value: v} }

// In matches rows where field is one of vs. An empty set matches nothing.
func In(field string, vs ...any) Predicate { return Predicate{Op: OpIn, Field: field, Values: vs} }

// NotIn matches rows where field is none of vs.
func NotIn(field string, vs ...any) Predicate {
	return Predicate{Op: OpNotIn, Field: field, Values: vs}
}

// IsNull matches rows where field is NULL.
func IsNull(field string) Predicate { return Predicate{Op: OpIsNull, Field: field} }

// NotNull matches rows where field is not NULL.
func NotNull(field string) Predicate { return Predicate{Op: OpNotNull, Field: field} }

// HasPrefix matches text fields starting with prefix (case-sensitive).
func HasPrefix(field, prefix string) Predicate {
	return Predicate{Op: OpPrefix, Field: field, Value: prefix}
}

// And matches when every child matches.
func And(ps ...Predicate) Predicate { return Predicate{Op: OpAnd, Children: ps} }

// Or matches when any child matches.
func Or(ps ...Predicate) Predicate { return Predicate{Op: OpOr, Children: ps} }

// Fields returns every field referenced by p, recursively.
func (p Predicate) Fields() []string {
	if p.Op == OpAnd || p.Op == OpOr {
		var out []string
		for _, c := range p.Children {
			out = append(out, c.Fields()...)
		}
		return out
	}
	return []string{p.Field}
}

// Fields is a column-name to value mapping used by FilterBy and Update.
type Fields map[string]any

// Predicates converts f into equality predicates in key order.
func (f Fields) Predicates() []Predicate {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Predicate, len(keys))
	for i, k := range keys {
		out[i] = Eq(k, f[k])
	}
	return out
}

// Order is one ORDER BY term. NULLs sort last in either direction.
type Order struct {
	Field      string
	Descending bool
}

// Asc orders by field ascending.
func Asc(field string) Order { return Order{Field: field} }

// Desc orders by field descending.
func Desc(field string) Order { return Order{Field: field, Descending: true} }

// JoinSpec follows the reference column Field to its Target entity.
// Field may be qualified to continue from a previously joined entity.
type JoinSpec struct {
	Field  string
	Target Entity
}

// QuerySpec is the validated, backend-neutral description of a query.
// Limit is negative when unset.
//
// With DistinctOn set, only the matching row with the lowest primary key
// is kept for each distinct tuple of those fields. Deduplication happens
// after filtering and before ordering and pagination.
type QuerySpec struct {
	Entity     Entity
	Filters    []Predicate
	Orders     []Order
	Limit      int
	Offset     int
	Joins      []JoinSpec
	Distinct   bool
	DistinctOn []string
}

// Clone returns a deep copy of the slices held by s.
func (s QuerySpec) Clone() QuerySpec {
	s.Filters = append([]Predicate(nil), s.Filters...)
	s.Orders = append([]Order(nil), s.Orders...)
	s.Joins = append([]JoinSpec(nil), s.Joins...)
	s.DistinctOn = append([]string(nil), s.DistinctOn...)
	return s
}

// Entities returns the base entity followed by every joined entity.
func (s QuerySpec) Entities() []Entity {
	out := []Entity{s.Entity}
	for _, j := range s.Joins {
		out = append(out, j.Target)
	}
	return out
}

// Resolve maps a possibly unqualified field to its entity and column name.
func (s QuerySpec) Resolve(field string) (Entity, string) {
	e, col := SplitField(field)
	if e == "" {
		e = s.Entity
	}
	return e, col
}
