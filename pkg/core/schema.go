package core

import (
	"fmt"
	"strings"
)

// Entity names a stored entity type. The value doubles as the table name
// in the relational backend and the file stem in the file backend.
type Entity string

// Declared entities.
const (
	EntityLemma          Entity = "lemmas"
	EntityDerivativeForm Entity = "derivative_forms"
	EntityTombstone      Entity = "guid_tombstones"
	EntityOperationLog   Entity = "operation_log"
)

// PrimaryKeyColumn is the autoincrement identity column present on every table.
const PrimaryKeyColumn = "id"

// ColumnType is the semantic type of a declared column.
type ColumnType int

// Column types understood by all backends.
const (
	TypeInteger ColumnType = iota
	TypeText
	TypeBool
	TypeTime
)

func (t ColumnType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeText:
		return "text"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Column describes a declared column.
type Column struct {
	Name       string
	Type       ColumnType
	Nullable   bool
	Default    any
	PrimaryKey bool

	// References names the entity whose primary key this column holds.
	// References are soft: no backend enforces referential integrity.
	References Entity
}

// Index describes a declared secondary index.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Table is the declared schema of an entity.
type Table struct {
	Entity    Entity
	Columns   []Column
	Indexes   []Index
	Immutable bool
	New       func() Record
}

// Name returns the table name.
func (t *Table) Name() string {
	return string(t.Entity)
}

// Column looks up a declared column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the declared column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Normalize coerces every value of row to its column's canonical Go type
// and checks nullability. Columns missing from row are treated as NULL.
// The primary key may be absent (not yet assigned).
func (t *Table) Normalize(row Row) (Row, error) {
	out := make(Row, len(t.Columns))
	for _, col := range t.Columns {
		v, err := Coerce(col, row[col.Name])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Entity, col.Name, err)
		}
		if v == nil && col.Default != nil {
			if v, err = Coerce(col, col.Default); err != nil {
				return nil, fmt.Errorf("%s.%s default: %w", t.Entity, col.Name, err)
			}
		}
		if v == nil {
			if col.PrimaryKey {
				continue
			}
			if !col.Nullable {
				return nil, fmt.Errorf("%s.%s: value is required", t.Entity, col.Name)
			}
		}
		out[col.Name] = v
	}
	for name := range row {
		if _, ok := t.Column(name); !ok {
			return nil, fmt.Errorf("%s.%s: %w", t.Entity, name, ErrUnknownField)
		}
	}
	return out, nil
}

// SplitField splits an optionally qualified field ("lemmas.category") into
// its entity and column parts. Unqualified fields return an empty entity.
func SplitField(field string) (Entity, string) {
	if i := strings.IndexByte(field, '.'); i >= 0 {
		return Entity(field[:i]), field[i+1:]
	}
	return "", field
}

var tables = []*Table{
	lemmaTable,
	derivativeFormTable,
	tombstoneTable,
	operationLogTable,
}

// Tables returns every declared table in creation order.
func Tables() []*Table {
	out := make([]*Table, len(tables))
	copy(out, tables)
	return out
}

// TableFor returns the declared table of an entity.
func TableFor(e Entity) (*Table, error) {
	for _, t := range tables {
		if t.Entity == e {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, e)
}

// Row is a column-name to value mapping holding canonical Go values:
// int64, string, bool, time.Time or nil.
type Row map[string]any

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Key returns the primary key held by r, or 0.
func (r Row) Key() int64 {
	id, _ := r[PrimaryKeyColumn].(int64)
	return id
}
