package relational

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/leapstack-labs/lexstore/pkg/core"
)

// nullTime scans timestamps that drivers return either as time.Time or as
// text (SQLite stores them as strings).
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (t *nullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
	case string:
		parsed, err := core.ParseTime(v)
		if err != nil {
			return err
		}
		t.Time, t.Valid = parsed, true
	case []byte:
		parsed, err := core.ParseTime(string(v))
		if err != nil {
			return err
		}
		t.Time, t.Valid = parsed, true
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
	return nil
}

func scanDest(t core.ColumnType) any {
	switch t {
	case core.TypeInteger:
		return new(sql.NullInt64)
	case core.TypeBool:
		return new(sql.NullBool)
	case core.TypeTime:
		return new(nullTime)
	default:
		return new(sql.NullString)
	}
}

func destValue(dest any) any {
	switch v := dest.(type) {
	case *sql.NullInt64:
		if v.Valid {
			return v.Int64
		}
	case *sql.NullBool:
		if v.Valid {
			return v.Bool
		}
	case *sql.NullString:
		if v.Valid {
			return v.String
		}
	case *nullTime:
		if v.Valid {
			return v.Time
		}
	}
	return nil
}

// scanRows reads every row selected with selectList(tbl).
func scanRows(rows *sql.Rows, tbl *core.Table) ([]core.Row, error) {
	defer func() { _ = rows.Close() }()

	var out []core.Row
	for rows.Next() {
		dests := make([]any, len(tbl.Columns))
		for i, col := range tbl.Columns {
			dests[i] = scanDest(col.Type)
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", tbl.Name(), err)
		}
		row := make(core.Row, len(tbl.Columns))
		for i, col := range tbl.Columns {
			row[col.Name] = destValue(dests[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
