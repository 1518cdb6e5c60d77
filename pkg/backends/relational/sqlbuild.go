package relational

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/leapstack-labs/lexstore/pkg/core"
)

// builder renders query specs to SQL with positional arguments.
type builder struct {
	d    dialect
	args []any
}

func newBuilder(d dialect) *builder {
	return &builder{d: d}
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

func qualified(e core.Entity, col string) string {
	return quoteIdent(string(e)) + "." + quoteIdent(col)
}

func (b *builder) field(spec core.QuerySpec, field string) string {
	e, col := spec.Resolve(field)
	return qualified(e, col)
}

func (b *builder) predicate(spec core.QuerySpec, p core.Predicate) (string, error) {
	switch p.Op {
	case core.OpAnd, core.OpOr:
		if len(p.Children) == 0 {
			if p.Op == core.OpAnd {
				return "1 = 1", nil
			}
			return "1 = 0", nil
		}
		sep := " AND "
		if p.Op == core.OpOr {
			sep = " OR "
		}
		parts := make([]string, len(p.Children))
		for i, c := range p.Children {
			s, err := b.predicate(spec, c)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	}

	col := b.field(spec, p.Field)
	switch p.Op {
	case core.OpIsNull:
		return col + " IS NULL", nil
	case core.OpNotNull:
		return col + " IS NOT NULL", nil
	case core.OpEq:
		if p.Value == nil {
			return col + " IS NULL", nil
		}
		return col + " = " + b.arg(p.Value), nil
	case core.OpNe:
		if p.Value == nil {
			return col + " IS NOT NULL", nil
		}
		return col + " <> " + b.arg(p.Value), nil
	case core.OpLt, core.OpLe, core.OpGt, core.OpGe:
		if p.Value == nil {
			return "1 = 0", nil
		}
		return col + " " + comparison(p.Op) + " " + b.arg(p.Value), nil
	case core.OpIn, core.OpNotIn:
		if len(p.Values) == 0 {
			if p.Op == core.OpIn {
				return "1 = 0", nil
			}
			return col + " IS NOT NULL", nil
		}
		ph := make([]string, len(p.Values))
		for i, v := range p.Values {
			ph[i] = b.arg(v)
		}
		op := " IN ("
		if p.Op == core.OpNotIn {
			op = " NOT IN ("
		}
		return col + op + strings.Join(ph, ", ") + ")", nil
	case core.OpPrefix:
		// substr keeps the match case-sensitive on every engine, unlike LIKE.
		prefix, _ := p.Value.(string)
		n := utf8.RuneCountInString(prefix)
		if n == 0 {
			return col + " IS NOT NULL", nil
		}
		return fmt.Sprintf("substr(%s, 1, %d) = %s", col, n, b.arg(prefix)), nil
	}
	return "", fmt.Errorf("%w: operator %d", core.ErrUnsupportedQuery, p.Op)
}

func comparison(op core.Op) string {
	switch op {
	case core.OpLt:
		return "<"
	case core.OpLe:
		return "<="
	case core.OpGt:
		return ">"
	default:
		return ">="
	}
}

// from renders FROM with every join. Joins are inner: rows whose reference
// is NULL or dangling drop out, as they do on the file backend.
func (b *builder) from(spec core.QuerySpec) string {
	var sb strings.Builder
	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdent(string(spec.Entity)))
	for _, j := range spec.Joins {
		sb.WriteString(" JOIN ")
		sb.WriteString(quoteIdent(string(j.Target)))
		sb.WriteString(" ON ")
		sb.WriteString(qualified(j.Target, core.PrimaryKeyColumn))
		sb.WriteString(" = ")
		sb.WriteString(b.field(spec, j.Field))
	}
	return sb.String()
}

func (b *builder) where(spec core.QuerySpec) (string, error) {
	if len(spec.Filters) == 0 {
		return "", nil
	}
	parts := make([]string, len(spec.Filters))
	for i, p := range spec.Filters {
		s, err := b.predicate(spec, p)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

// orderBy sorts NULLs last in both directions and breaks ties on the
// primary key so results are deterministic across engines.
func (b *builder) orderBy(spec core.QuerySpec) string {
	terms := make([]string, 0, 2*len(spec.Orders)+1)
	for _, o := range spec.Orders {
		col := b.field(spec, o.Field)
		dir := " ASC"
		if o.Descending {
			dir = " DESC"
		}
		terms = append(terms, "CASE WHEN "+col+" IS NULL THEN 1 ELSE 0 END", col+dir)
	}
	terms = append(terms, qualified(spec.Entity, core.PrimaryKeyColumn)+" ASC")
	return " ORDER BY " + strings.Join(terms, ", ")
}

func selectList(tbl *core.Table) string {
	cols := make([]string, len(tbl.Columns))
	for i, c := range tbl.Columns {
		cols[i] = qualified(tbl.Entity, c.Name)
	}
	return strings.Join(cols, ", ")
}

// selectSQL renders the full row query for spec.
func (b *builder) selectSQL(spec core.QuerySpec) (string, error) {
	tbl, err := core.TableFor(spec.Entity)
	if err != nil {
		return "", err
	}

	if len(spec.DistinctOn) > 0 || (spec.Distinct && len(spec.Joins) > 0) {
		inner, err := b.idSubquery(spec, false)
		if err != nil {
			return "", err
		}
		return "SELECT " + selectList(tbl) + b.from(spec) +
			" WHERE " + qualified(spec.Entity, core.PrimaryKeyColumn) + " IN (" + inner + ")" +
			b.orderBy(spec) + b.d.LimitOffset(spec.Limit, spec.Offset), nil
	}

	where, err := b.where(spec)
	if err != nil {
		return "", err
	}
	return "SELECT " + selectList(tbl) + b.from(spec) + where + b.orderBy(spec) +
		b.d.LimitOffset(spec.Limit, spec.Offset), nil
}

// idSubquery selects the matching primary keys. With paginate set, order
// and LIMIT/OFFSET apply so DELETE and UPDATE act on exactly the rows a
// SELECT would return.
func (b *builder) idSubquery(spec core.QuerySpec, paginate bool) (string, error) {
	pk := qualified(spec.Entity, core.PrimaryKeyColumn)
	var sql string
	if len(spec.DistinctOn) > 0 {
		firsts, err := b.distinctKeys(spec)
		if err != nil {
			return "", err
		}
		sql = "SELECT " + pk + b.from(spec) + " WHERE " + pk + " IN (" + firsts + ")"
	} else {
		where, err := b.where(spec)
		if err != nil {
			return "", err
		}
		sql = "SELECT " + pk + b.from(spec) + where
	}
	if paginate && (spec.Limit >= 0 || spec.Offset > 0) {
		sql += b.orderBy(spec) + b.d.LimitOffset(spec.Limit, spec.Offset)
	}
	return sql, nil
}

// distinctKeys selects the lowest matching primary key of every distinct
// tuple of spec.DistinctOn.
func (b *builder) distinctKeys(spec core.QuerySpec) (string, error) {
	where, err := b.where(spec)
	if err != nil {
		return "", err
	}
	groups := make([]string, len(spec.DistinctOn))
	for i, f := range spec.DistinctOn {
		groups[i] = b.field(spec, f)
	}
	return "SELECT MIN(" + qualified(spec.Entity, core.PrimaryKeyColumn) + ")" + b.from(spec) + where +
		" GROUP BY " + strings.Join(groups, ", "), nil
}

func (b *builder) countSQL(spec core.QuerySpec) (string, error) {
	inner, err := b.selectSQL(spec)
	if err != nil {
		return "", err
	}
	return "SELECT COUNT(*) FROM (" + inner + ") AS q", nil
}

func (b *builder) deleteSQL(spec core.QuerySpec) (string, error) {
	inner, err := b.idSubquery(spec, true)
	if err != nil {
		return "", err
	}
	return "DELETE FROM " + quoteIdent(string(spec.Entity)) +
		" WHERE " + quoteIdent(core.PrimaryKeyColumn) + " IN (" + inner + ")", nil
}

func (b *builder) updateSQL(spec core.QuerySpec, values core.Row, tbl *core.Table) (string, error) {
	sets := make([]string, 0, len(values))
	for _, name := range tbl.ColumnNames() {
		v, ok := values[name]
		if !ok {
			continue
		}
		sets = append(sets, quoteIdent(name)+" = "+b.arg(v))
	}
	inner, err := b.idSubquery(spec, true)
	if err != nil {
		return "", err
	}
	return "UPDATE " + quoteIdent(string(spec.Entity)) + " SET " + strings.Join(sets, ", ") +
		" WHERE " + quoteIdent(core.PrimaryKeyColumn) + " IN (" + inner + ")", nil
}

// insertSQL renders an INSERT returning the assigned key.
func (b *builder) insertSQL(tbl *core.Table, row core.Row) string {
	cols := make([]string, 0, len(tbl.Columns))
	ph := make([]string, 0, len(tbl.Columns))
	for _, c := range tbl.Columns {
		if c.PrimaryKey {
			continue
		}
		cols = append(cols, quoteIdent(c.Name))
		ph = append(ph, b.arg(row[c.Name]))
	}
	return "INSERT INTO " + quoteIdent(tbl.Name()) + " (" + strings.Join(cols, ", ") + ") VALUES (" +
		strings.Join(ph, ", ") + ") RETURNING " + quoteIdent(core.PrimaryKeyColumn)
}

// updateByKeySQL renders an UPDATE of every column for one row.
func (b *builder) updateByKeySQL(tbl *core.Table, row core.Row, id int64) string {
	sets := make([]string, 0, len(tbl.Columns))
	for _, c := range tbl.Columns {
		if c.PrimaryKey {
			continue
		}
		sets = append(sets, quoteIdent(c.Name)+" = "+b.arg(row[c.Name]))
	}
	return "UPDATE " + quoteIdent(tbl.Name()) + " SET " + strings.Join(sets, ", ") +
		" WHERE " + quoteIdent(core.PrimaryKeyColumn) + " = " + b.arg(id)
}
