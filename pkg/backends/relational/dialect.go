package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/lexstore/pkg/core"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialect captures the SQL differences between the supported engines.
type dialect interface {
	Name() string
	Placeholder(n int) string
	ColumnType(t core.ColumnType) string
	BoolLiteral(b bool) string

	// PrimaryKey returns statements to run before CREATE TABLE and the
	// identity column definition.
	PrimaryKey(table string) (pre []string, column string)

	LimitOffset(limit, offset int) string
	ListTables(ctx context.Context, q querier) (map[string]bool, error)
	ListColumns(ctx context.Context, q querier, table string) (map[string]bool, error)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// standardLimitOffset renders LIMIT/OFFSET for engines that accept OFFSET
// without LIMIT.
func standardLimitOffset(limit, offset int) string {
	var sb strings.Builder
	if limit >= 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(limit))
	}
	if offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(offset))
	}
	return sb.String()
}

func collectNames(rows *sql.Rows) (map[string]bool, error) {
	defer func() { _ = rows.Close() }()
	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return names, rows.Err()
}

// --- SQLite ---

type sqliteDialect struct{}

func (sqliteDialect) Name() string           { return "sqlite" }
func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) ColumnType(t core.ColumnType) string {
	switch t {
	case core.TypeInteger:
		return "INTEGER"
	case core.TypeBool:
		return "BOOLEAN"
	case core.TypeTime:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) BoolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (sqliteDialect) PrimaryKey(string) ([]string, string) {
	return nil, quoteIdent(core.PrimaryKeyColumn) + " INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (sqliteDialect) LimitOffset(limit, offset int) string {
	// SQLite requires LIMIT before OFFSET; -1 means unbounded.
	if limit < 0 && offset > 0 {
		return " LIMIT -1 OFFSET " + strconv.Itoa(offset)
	}
	return standardLimitOffset(limit, offset)
}

func (sqliteDialect) ListTables(ctx context.Context, q querier) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return collectNames(rows)
}

func (sqliteDialect) ListColumns(ctx context.Context, q querier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// --- PostgreSQL ---

type postgresDialect struct{}

func (postgresDialect) Name() string             { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) ColumnType(t core.ColumnType) string {
	switch t {
	case core.TypeInteger:
		return "BIGINT"
	case core.TypeBool:
		return "BOOLEAN"
	case core.TypeTime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (postgresDialect) BoolLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func (postgresDialect) PrimaryKey(string) ([]string, string) {
	return nil, quoteIdent(core.PrimaryKeyColumn) + " BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
}

func (postgresDialect) LimitOffset(limit, offset int) string {
	return standardLimitOffset(limit, offset)
}

func (postgresDialect) ListTables(ctx context.Context, q querier) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return collectNames(rows)
}

func (postgresDialect) ListColumns(ctx context.Context, q querier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`,
		table)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	return collectNames(rows)
}

// --- DuckDB ---

type duckdbDialect struct{}

func (duckdbDialect) Name() string           { return "duckdb" }
func (duckdbDialect) Placeholder(int) string { return "?" }

func (duckdbDialect) ColumnType(t core.ColumnType) string {
	switch t {
	case core.TypeInteger:
		return "BIGINT"
	case core.TypeBool:
		return "BOOLEAN"
	case core.TypeTime:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

func (duckdbDialect) BoolLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// DuckDB has no autoincrement keyword; identity comes from a sequence.
func (duckdbDialect) PrimaryKey(table string) ([]string, string) {
	seq := table + "_id_seq"
	pre := []string{"CREATE SEQUENCE IF NOT EXISTS " + quoteIdent(seq)}
	return pre, quoteIdent(core.PrimaryKeyColumn) + " BIGINT PRIMARY KEY DEFAULT nextval(" + quoteString(seq) + ")"
}

func (duckdbDialect) LimitOffset(limit, offset int) string {
	return standardLimitOffset(limit, offset)
}

func (duckdbDialect) ListTables(ctx context.Context, q querier) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return collectNames(rows)
}

func (duckdbDialect) ListColumns(ctx context.Context, q querier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?`,
		table)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	return collectNames(rows)
}
