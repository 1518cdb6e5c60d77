package storetest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// FixtureFile returns the path of a file in this package's testdata
// directory, usable from any package's tests.
func FixtureFile(name string) string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata", name)
}

// LoadLexicon loads the shared lexicon fixture into s.
func LoadLexicon(t testing.TB, s core.Session) map[core.Entity][]core.Record {
	t.Helper()
	return LoadFixtures(t, s, FixtureFile("lexicon.yaml"))
}

// FixtureTime is stamped on fixture rows that carry no timestamps.
var FixtureTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fixtureOrder is the order entities are loaded in, so references point at
// rows that already exist.
var fixtureOrder = []core.Entity{
	core.EntityLemma,
	core.EntityDerivativeForm,
	core.EntityTombstone,
	core.EntityOperationLog,
}

// LoadFixtures reads a YAML document keyed by entity name, each holding a
// list of rows, adds every row to s and commits. Rows may omit id; missing
// required timestamps are set to FixtureTime.
func LoadFixtures(t testing.TB, s core.Session, path string) map[core.Entity][]core.Record {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string][]map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))

	ctx := context.Background()
	loaded := make(map[core.Entity][]core.Record)
	for _, entity := range fixtureOrder {
		tbl, err := core.TableFor(entity)
		require.NoError(t, err)

		for i, raw := range doc[string(entity)] {
			row := core.Row(raw)
			for _, col := range tbl.Columns {
				if col.Type == core.TypeTime && !col.Nullable && row[col.Name] == nil {
					row[col.Name] = FixtureTime
				}
			}
			norm, err := tbl.Normalize(row)
			require.NoError(t, err, "%s fixture %d", entity, i)

			rec, err := core.RecordFromRow(entity, norm)
			require.NoError(t, err)
			require.NoError(t, s.Add(ctx, rec), "%s fixture %d", entity, i)
			loaded[entity] = append(loaded[entity], rec)
		}
	}
	require.NoError(t, s.Commit(ctx))
	return loaded
}
