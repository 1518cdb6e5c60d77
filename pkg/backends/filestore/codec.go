package filestore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-json"
	"github.com/leapstack-labs/lexstore/pkg/core"
)

// maxLineSize bounds a single encoded record.
const maxLineSize = 16 << 20

// fileName returns the file holding entity e.
func fileName(e core.Entity) string {
	return string(e) + ".jsonl"
}

// decodeRows reads one JSON object per line. Blank lines are skipped.
// Values are coerced to their declared column types; fields the table no
// longer declares are dropped and missing columns take their default.
func decodeRows(r io.Reader, tbl *core.Table, name string) ([]core.Row, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var rows []core.Row
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		var obj map[string]any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, line, err)
		}

		row := make(core.Row, len(tbl.Columns))
		for _, col := range tbl.Columns {
			v, err := core.Coerce(col, obj[col.Name])
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %s: %w", name, line, col.Name, err)
			}
			if v == nil && col.Default != nil {
				v, _ = core.Coerce(col, col.Default)
			}
			row[col.Name] = v
		}
		if row.Key() == 0 {
			return nil, fmt.Errorf("%s:%d: record has no %s", name, line, core.PrimaryKeyColumn)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return rows, nil
}

// encodeRows writes rows in primary key order, one object per line.
func encodeRows(w io.Writer, rows map[int64]core.Row) error {
	ids := make([]int64, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, id := range ids {
		if err := enc.Encode(rows[id]); err != nil {
			return fmt.Errorf("encode record %d: %w", id, err)
		}
	}
	return bw.Flush()
}

// loadFile reads the entity file under dir. A missing file is an empty
// collection.
func loadFile(dir string, tbl *core.Table) ([]core.Row, error) {
	path := filepath.Join(dir, fileName(tbl.Entity))
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return decodeRows(f, tbl, path)
}

// writeTemp writes rows to a temporary file beside the entity file and
// returns its path. The caller renames it into place.
func writeTemp(dir string, e core.Entity, rows map[int64]core.Row) (string, error) {
	f, err := os.CreateTemp(dir, "."+fileName(e)+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()

	if err := encodeRows(f, rows); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}
