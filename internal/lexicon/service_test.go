package lexicon

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/lexstore/internal/testutil"
	"github.com/leapstack-labs/lexstore/internal/testutil/storetest"
	"github.com/leapstack-labs/lexstore/pkg/backend"
	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/leapstack-labs/lexstore/pkg/identity"
	"github.com/leapstack-labs/lexstore/pkg/oplog"
)

func newService(t *testing.T, src backend.SessionSource) *Service {
	t.Helper()
	return NewService(src, identity.NewManager(nil, nil),
		WithLogger(testutil.NewTestLogger(t)),
		WithSource("test"),
		WithBackoff(func() retry.Backoff {
			return retry.WithMaxRetries(DefaultMaxRetries, retry.NewConstant(time.Millisecond))
		}),
	)
}

func history(t *testing.T, f *backend.Factory, lemmaID int64) []*core.OperationLog {
	t.Helper()
	s := storetest.NewSession(t, f)
	entries, err := oplog.History(context.Background(), s, oplog.Filter{LemmaID: &lemmaID})
	require.NoError(t, err)
	return entries
}

func TestCreateLemma(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		svc := newService(t, f)

		res := svc.CreateLemma(ctx, LemmaInput{
			Text:         "  cafe\u0301 ",
			Category:     "Noun",
			Translations: map[string]string{"de": "Kaffee"},
		})
		require.True(t, res.Success, res.Message)
		assert.Equal(t, "N00_001", res.GUID)
		assert.NotZero(t, res.ID)

		s := storetest.NewSession(t, f)
		l, err := core.Get[*core.Lemma](ctx, s, core.EntityLemma, res.ID)
		require.NoError(t, err)
		require.NotNil(t, l)
		assert.Equal(t, "caf\u00e9", l.Text, "text is trimmed and NFC normalized")
		assert.Equal(t, "noun", l.Category)
		assert.Equal(t, "Kaffee", l.Translations["de"])

		entries := history(t, f, res.ID)
		require.Len(t, entries, 1)
		assert.Equal(t, OpCreateLemma, entries[0].OperationType)
		assert.Equal(t, "test", entries[0].Source)
		assert.NotContains(t, entries[0].Fact, "null")

		res = svc.CreateLemma(ctx, LemmaInput{Text: "cat", Category: "noun", Subcategory: "animal"})
		require.True(t, res.Success, res.Message)
		assert.Equal(t, "N02_001", res.GUID)
	})
}

func TestCreateLemma_Failures(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		svc := newService(t, f)

		tests := []struct {
			name string
			in   LemmaInput
		}{
			{"missing text", LemmaInput{Category: "noun"}},
			{"missing category", LemmaInput{Text: "cat"}},
			{"unknown category", LemmaInput{Text: "cat", Category: "gibberish"}},
			{"unknown language", LemmaInput{Text: "cat", Category: "noun", Translations: map[string]string{"xx": "?"}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				res := svc.CreateLemma(ctx, tt.in)
				assert.False(t, res.Success)
				assert.NotEmpty(t, res.Message)
			})
		}

		s := storetest.NewSession(t, f)
		n, err := s.Query(core.EntityLemma).Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "failed operations leave nothing behind")
	})
}

func TestReclassify(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		svc := newService(t, f)

		created := svc.CreateLemma(ctx, LemmaInput{Text: "cat", Category: "noun"})
		require.True(t, created.Success, created.Message)
		require.Equal(t, "N00_001", created.GUID)

		res := svc.Reclassify(ctx, created.GUID, "noun", "animal", "it meows")
		require.True(t, res.Success, res.Message)
		assert.Equal(t, "N02_001", res.GUID)
		assert.Equal(t, created.ID, res.ID, "the lemma keeps its key")

		s := storetest.NewSession(t, f)
		ts, err := identity.Lookup(ctx, s, "N00_001")
		require.NoError(t, err)
		require.NotNil(t, ts)
		assert.Equal(t, core.ReasonSubtypeChange, ts.Reason)
		assert.Equal(t, "N02_001", *ts.ReplacementGUID)
		assert.Equal(t, "cat", ts.OriginalText)
		assert.Equal(t, "noun", ts.OriginalCategory)
		assert.Nil(t, ts.OriginalSubcategory)
		require.NotNil(t, ts.ChangedBy)
		assert.Equal(t, "test", *ts.ChangedBy)

		resolved := svc.Resolve(ctx, "N00_001")
		require.True(t, resolved.Success, resolved.Message)
		assert.Equal(t, "N02_001", resolved.GUID)

		// A new noun must not reuse the retired number.
		next := svc.CreateLemma(ctx, LemmaInput{Text: "house", Category: "noun"})
		require.True(t, next.Success, next.Message)
		assert.Equal(t, "N00_002", next.GUID)

		verb := svc.Reclassify(ctx, "N02_001", "verb", "", "")
		require.True(t, verb.Success, verb.Message)
		assert.Equal(t, "V00_001", verb.GUID)
		ts, err = identity.Lookup(ctx, s, "N02_001")
		require.NoError(t, err)
		require.NotNil(t, ts)
		assert.Equal(t, core.ReasonTypeChange, ts.Reason)
		require.NotNil(t, ts.OriginalSubcategory)
		assert.Equal(t, "animal", *ts.OriginalSubcategory)

		chain, err := identity.ReplacementChain(ctx, s, "N00_001")
		require.NoError(t, err)
		assert.Len(t, chain, 2)

		retired, err := identity.TombstonesForLemma(ctx, s, created.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"N02_001", "N00_001"}, []string{retired[0].GUID, retired[1].GUID}, "newest first")
	})
}

func TestReclassify_SamePrefixKeepsGUID(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		svc := newService(t, f)
		created := svc.CreateLemma(ctx, LemmaInput{Text: "stone", Category: "noun"})
		require.True(t, created.Success, created.Message)

		res := svc.Reclassify(ctx, created.GUID, "noun", "spaceship", "")
		require.True(t, res.Success, res.Message)
		assert.Equal(t, created.GUID, res.GUID, "unknown subcategory falls back to the category prefix")

		s := storetest.NewSession(t, f)
		n, err := s.Query(core.EntityTombstone).Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		missing := svc.Reclassify(ctx, "N00_999", "verb", "", "")
		assert.False(t, missing.Success)
		assert.Contains(t, missing.Message, "lemma not found")
	})
}

func TestSetTranslation(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		svc := newService(t, f)
		created := svc.CreateLemma(ctx, LemmaInput{Text: "cat", Category: "noun"})
		require.True(t, created.Success, created.Message)

		res := svc.SetTranslation(ctx, created.GUID, "DE", "Katze")
		require.True(t, res.Success, res.Message)

		res = svc.SetTranslation(ctx, created.GUID, "de", "Katze")
		require.True(t, res.Success, res.Message)
		assert.Equal(t, "translation unchanged", res.Message)

		res = svc.SetTranslation(ctx, created.GUID, "de", "")
		require.True(t, res.Success, res.Message)

		res = svc.SetTranslation(ctx, created.GUID, "klingon", "x")
		assert.False(t, res.Success)

		s := storetest.NewSession(t, f)
		l, err := core.Get[*core.Lemma](ctx, s, core.EntityLemma, created.ID)
		require.NoError(t, err)
		assert.NotContains(t, l.Translations, "de")
		assert.NotNil(t, l.UpdatedAt)

		entries := history(t, f, created.ID)
		require.Len(t, entries, 3, "create, set, clear")
		set, err := oplog.DecodeFact(entries[1].Fact)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"field": "translation_de", "new_value": "Katze"}, set)
		cleared, err := oplog.DecodeFact(entries[2].Fact)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"field": "translation_de", "old_value": "Katze"}, cleared)
	})
}

func TestAddDerivativeForm(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		svc := newService(t, f)
		created := svc.CreateLemma(ctx, LemmaInput{Text: "cat", Category: "noun"})
		require.True(t, created.Success, created.Message)

		res := svc.AddDerivativeForm(ctx, created.GUID, FormInput{Language: "de", GrammaticalForm: "Plural", Text: "Katzen"})
		require.True(t, res.Success, res.Message)
		assert.NotZero(t, res.ID)

		dup := svc.AddDerivativeForm(ctx, created.GUID, FormInput{Language: "de", GrammaticalForm: "plural", Text: "Katzes"})
		assert.False(t, dup.Success)
		assert.Contains(t, dup.Message, "already has")

		other := svc.AddDerivativeForm(ctx, created.GUID, FormInput{Language: "fr", GrammaticalForm: "plural", Text: "chats"})
		require.True(t, other.Success, other.Message)

		s := storetest.NewSession(t, f)
		forms, err := core.All[*core.DerivativeForm](ctx, s.Query(core.EntityDerivativeForm).OrderBy(core.Asc("id")))
		require.NoError(t, err)
		require.Len(t, forms, 2)
		assert.Equal(t, created.ID, forms[0].LemmaID)
		assert.Equal(t, "plural", forms[0].GrammaticalForm)

		entries, err := oplog.History(ctx, s, oplog.Filter{OperationType: OpAddDerivativeForm})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, res.ID, *entries[0].DerivativeFormID)
	})
}

func TestResolve_Unknown(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, storetest.NewFactory(t, core.EngineFile))

	res := svc.Resolve(ctx, "N00_404")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "N00_404", res.GUID)
}

// flakySource fails its first calls with a serialization conflict.
type flakySource struct {
	inner    backend.SessionSource
	failures int
	calls    int
}

func (f *flakySource) Session(ctx context.Context) (core.Session, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	}
	return f.inner.Session(ctx)
}

func TestRun_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	src := &flakySource{inner: storetest.NewFactory(t, core.EngineFile), failures: 2}
	svc := newService(t, src)

	res := svc.CreateLemma(ctx, LemmaInput{Text: "cat", Category: "noun"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 3, src.calls)

	src = &flakySource{inner: storetest.NewFactory(t, core.EngineFile), failures: 10}
	svc = newService(t, src)
	res = svc.CreateLemma(ctx, LemmaInput{Text: "cat", Category: "noun"})
	assert.False(t, res.Success)
	assert.Equal(t, DefaultMaxRetries+1, src.calls)
}
