package backend_test

import (
	"context"
	"testing"

	"github.com/leapstack-labs/lexstore/internal/testutil/storetest"
	"github.com/leapstack-labs/lexstore/pkg/backend"
	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parityQueries are run against both engines loaded with the same
// fixtures; each must return the same GUIDs in the same order.
var parityQueries = []struct {
	name  string
	build func(s core.Session) core.Query
}{
	{
		name: "nouns by rank limit 10",
		build: func(s core.Session) core.Query {
			return s.Query(core.EntityLemma).
				FilterBy(core.Fields{"category": "noun"}).
				OrderBy(core.Asc("frequency_rank")).
				Limit(10)
		},
	},
	{
		name: "nouns by rank descending",
		build: func(s core.Session) core.Query {
			return s.Query(core.EntityLemma).
				FilterBy(core.Fields{"category": "noun"}).
				OrderBy(core.Desc("frequency_rank"))
		},
	},
	{
		name: "second page",
		build: func(s core.Session) core.Query {
			return s.Query(core.EntityLemma).OrderBy(core.Asc("text")).Offset(5).Limit(5)
		},
	},
	{
		name: "subcategory set",
		build: func(s core.Session) core.Query {
			return s.Query(core.EntityLemma).Filter(core.NotNull("subcategory")).OrderBy(core.Asc("guid"))
		},
	},
	{
		name: "prefix and range",
		build: func(s core.Session) core.Query {
			return s.Query(core.EntityLemma).Filter(
				core.HasPrefix("guid", "N00"),
				core.Ge("frequency_rank", 10),
				core.Le("frequency_rank", 30),
			)
		},
	},
	{
		name: "or with in",
		build: func(s core.Session) core.Query {
			return s.Query(core.EntityLemma).Filter(core.Or(
				core.In("category", "verb", "adjective"),
				core.Eq("text", "Water"),
			)).OrderBy(core.Desc("text"))
		},
	},
	{
		name: "distinct on classification",
		build: func(s core.Session) core.Query {
			return s.Query(core.EntityLemma).
				Distinct("category", "subcategory").
				OrderBy(core.Desc("frequency_rank")).
				Offset(1).Limit(3)
		},
	},
	{
		name: "translation present",
		build: func(s core.Session) core.Query {
			return s.Query(core.EntityLemma).Filter(core.Ne("translation_de", "Haus")).OrderBy(core.Asc("translation_de"))
		},
	},
}

func guidsOf(recs []core.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i], _ = r.Values()["guid"].(string)
	}
	return out
}

func TestBackendParity(t *testing.T) {
	ctx := context.Background()

	sessions := make(map[string]core.Session)
	for _, engine := range storetest.Engines {
		s := storetest.NewSession(t, storetest.NewFactory(t, engine))
		storetest.LoadLexicon(t, s)
		sessions[engine] = s
	}

	for _, q := range parityQueries {
		t.Run(q.name, func(t *testing.T) {
			results := make(map[string][]string)
			counts := make(map[string]int64)
			for engine, s := range sessions {
				recs, err := q.build(s).All(ctx)
				require.NoError(t, err, engine)
				results[engine] = guidsOf(recs)

				n, err := q.build(s).Count(ctx)
				require.NoError(t, err, engine)
				counts[engine] = n
			}
			want := results[core.EngineRelational]
			assert.NotEmpty(t, want)
			assert.Equal(t, want, results[core.EngineFile])
			assert.Equal(t, counts[core.EngineRelational], counts[core.EngineFile])
			assert.Equal(t, int64(len(want)), counts[core.EngineFile])
		})
	}
}

func TestBackendParity_Join(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)
		storetest.LoadLexicon(t, s)

		forms, err := core.All[*core.DerivativeForm](ctx, s.Query(core.EntityDerivativeForm).
			Join("lemma_id", core.EntityLemma).
			Filter(core.Eq("lemmas.subcategory", "animal")).
			OrderBy(core.Asc("text")))
		require.NoError(t, err)

		texts := make([]string, len(forms))
		for i, f := range forms {
			texts[i] = f.Text
		}
		assert.Equal(t, []string{"Hund", "Katze", "Katzen"}, texts)
	})
}

func TestBackendParity_DistinctOn(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)
		storetest.LoadLexicon(t, s)

		firsts, err := s.Query(core.EntityLemma).Distinct("category").OrderBy(core.Asc("category")).All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"A00_001", "N00_001", "V00_001"}, guidsOf(firsts), "lowest key per category")

		q := s.Query(core.EntityLemma).Distinct("category", "subcategory").OrderBy(core.Asc("guid"))
		all, err := q.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"A00_001", "N00_001", "N00_002", "N02_001", "V00_001"}, guidsOf(all),
			"a missing subcategory is one group")
		n, err := q.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)

		page, err := q.Offset(1).Limit(2).All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"N00_001", "N00_002"}, guidsOf(page), "pagination follows deduplication")

		forms, err := core.All[*core.DerivativeForm](ctx, s.Query(core.EntityDerivativeForm).
			Join("lemma_id", core.EntityLemma).
			Distinct("lemmas.subcategory").
			OrderBy(core.Asc("lemmas.text")))
		require.NoError(t, err)
		texts := make([]string, len(forms))
		for i, f := range forms {
			texts[i] = f.Text
		}
		assert.Equal(t, []string{"Katze", "laufen"}, texts)

		_, err = s.Query(core.EntityLemma).Distinct("colour").All(ctx)
		require.ErrorIs(t, err, core.ErrUnknownField)
	})
}

func TestWithSession(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		err := backend.WithSession(ctx, f, func(s core.Session) error {
			return s.Add(ctx, &core.Lemma{GUID: "N00_001", Text: "house", Category: "noun", CreatedAt: storetest.FixtureTime})
		})
		require.NoError(t, err)

		err = backend.WithSession(ctx, f, func(s core.Session) error {
			if err := s.Add(ctx, &core.Lemma{GUID: "N00_002", Text: "tree", Category: "noun", CreatedAt: storetest.FixtureTime}); err != nil {
				return err
			}
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		s := storetest.NewSession(t, f)
		n, err := s.Query(core.EntityLemma).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "failed unit of work is rolled back")
	})
}
