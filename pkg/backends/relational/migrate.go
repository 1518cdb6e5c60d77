package relational

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/lexstore/pkg/core"
)

// MigrationReport describes what a Migrate run changed.
type MigrationReport struct {
	CreatedTables []string
	AddedColumns  []string // "table.column"
	FailedColumns []string // "table.column"

	// Statements lists every ALTER TABLE attempted, in execution order.
	Statements []string
}

// Changed reports whether the run altered the database.
func (r *MigrationReport) Changed() bool {
	return len(r.CreatedTables) > 0 || len(r.AddedColumns) > 0
}

// migrate creates missing tables and indexes and adds declared columns that
// existing tables lack. It never drops or rewrites anything, so it is safe
// to run against a database already in use. A column that cannot be added
// is logged and reported; it does not fail the run.
func migrate(ctx context.Context, q querier, d dialect, logger *slog.Logger) (*MigrationReport, error) {
	report := &MigrationReport{}

	existing, err := d.ListTables(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInitialization, err)
	}

	for _, tbl := range core.Tables() {
		created := !existing[tbl.Name()]
		if created {
			if err := createTable(ctx, q, d, tbl); err != nil {
				return report, fmt.Errorf("%w: create table %s: %w", core.ErrInitialization, tbl.Name(), err)
			}
			report.CreatedTables = append(report.CreatedTables, tbl.Name())
			logger.Debug("created table", slog.String("table", tbl.Name()))
		} else {
			cols, err := d.ListColumns(ctx, q, tbl.Name())
			if err != nil {
				return report, fmt.Errorf("%w: %w", core.ErrInitialization, err)
			}
			addMissingColumns(ctx, q, d, tbl, cols, report, logger)
		}

		for _, idx := range tbl.Indexes {
			if _, err := q.ExecContext(ctx, createIndexSQL(tbl, idx)); err != nil {
				if created {
					return report, fmt.Errorf("%w: create index %s: %w", core.ErrInitialization, idx.Name, err)
				}
				// Existing data may violate a newly declared unique index.
				logger.Warn("failed to create index",
					slog.String("table", tbl.Name()),
					slog.String("index", idx.Name),
					slog.String("error", err.Error()))
			}
		}
	}

	if report.Changed() {
		logger.Info("schema migrated",
			slog.Int("tables_created", len(report.CreatedTables)),
			slog.Int("columns_added", len(report.AddedColumns)),
			slog.Int("columns_failed", len(report.FailedColumns)))
	}
	return report, nil
}

func createTable(ctx context.Context, q querier, d dialect, tbl *core.Table) error {
	pre, pk := d.PrimaryKey(tbl.Name())
	for _, stmt := range pre {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	_, err := q.ExecContext(ctx, createTableSQL(d, tbl, pk))
	return err
}

func createTableSQL(d dialect, tbl *core.Table, pk string) string {
	defs := make([]string, 0, len(tbl.Columns))
	for _, col := range tbl.Columns {
		if col.PrimaryKey {
			defs = append(defs, pk)
			continue
		}
		defs = append(defs, columnDDL(d, col, false))
	}
	return "CREATE TABLE IF NOT EXISTS " + quoteIdent(tbl.Name()) + " (\n\t" + strings.Join(defs, ",\n\t") + "\n)"
}

func createIndexSQL(tbl *core.Table, idx core.Index) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = quoteIdent(c)
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
		kind, quoteIdent(idx.Name), quoteIdent(tbl.Name()), strings.Join(cols, ", "))
}

// addMissingColumns issues one ALTER TABLE per declared column absent from
// existing. Each statement stands alone so one failure does not block the
// rest.
func addMissingColumns(ctx context.Context, q querier, d dialect, tbl *core.Table,
	existing map[string]bool, report *MigrationReport, logger *slog.Logger) {
	for _, col := range tbl.Columns {
		if existing[col.Name] || col.PrimaryKey {
			continue
		}
		stmt := "ALTER TABLE " + quoteIdent(tbl.Name()) + " ADD COLUMN " + columnDDL(d, col, true)
		report.Statements = append(report.Statements, stmt)

		field := tbl.Name() + "." + col.Name
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			report.FailedColumns = append(report.FailedColumns, field)
			logger.Warn("failed to add column",
				slog.String("column", field),
				slog.String("error", err.Error()))
			continue
		}
		report.AddedColumns = append(report.AddedColumns, field)
		logger.Debug("added column", slog.String("column", field))
	}
}

// columnDDL renders a column definition. Added columns must be fillable for
// existing rows: required columns get their declared default or the type's
// zero value, except timestamps which are added as nullable.
func columnDDL(d dialect, col core.Column, adding bool) string {
	var sb strings.Builder
	sb.WriteString(quoteIdent(col.Name))
	sb.WriteByte(' ')
	sb.WriteString(d.ColumnType(col.Type))

	notNull := !col.Nullable
	def := col.Default
	if adding && notNull {
		if col.Type == core.TypeTime && def == nil {
			notNull = false
		} else if def == nil {
			def = zeroValue(col.Type)
		}
	}
	if notNull {
		sb.WriteString(" NOT NULL")
	}
	if def != nil {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(literal(d, def))
	}
	return sb.String()
}

func zeroValue(t core.ColumnType) any {
	switch t {
	case core.TypeInteger:
		return int64(0)
	case core.TypeBool:
		return false
	default:
		return ""
	}
}

func literal(d dialect, v any) string {
	switch x := v.(type) {
	case bool:
		return d.BoolLiteral(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		return quoteString(x.UTC().Format(time.RFC3339Nano))
	default:
		return quoteString(fmt.Sprint(x))
	}
}
