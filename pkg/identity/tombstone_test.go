package identity

import (
	"context"
	"testing"

	"github.com/leapstack-labs/lexstore/internal/testutil/storetest"
	"github.com/leapstack-labs/lexstore/pkg/backend"
	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retire(t *testing.T, s core.Session, guid, replacement string) {
	t.Helper()
	_, err := CreateTombstone(context.Background(), s, TombstoneRequest{
		GUID:            guid,
		ReplacementGUID: replacement,
		Reason:          core.ReasonTypeChange,
	})
	require.NoError(t, err)
}

func chainGUIDs(chain []*core.Tombstone) []string {
	out := make([]string, len(chain))
	for i, ts := range chain {
		out[i] = ts.GUID
	}
	return out
}

func TestCreateTombstone(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)
		l := addLemma(t, s, "N00_001", "cat", "noun")
		require.NoError(t, s.Flush(ctx))

		ts, err := CreateTombstone(ctx, s, TombstoneRequest{
			GUID:            "N00_001",
			ReplacementGUID: "N02_001",
			LemmaID:         core.Ptr(l.ID),
			Reason:          core.ReasonSubtypeChange,
			Notes:           "reclassified",
		})
		require.NoError(t, err)
		assert.NotZero(t, ts.ID, "tombstone is flushed on creation")
		assert.False(t, ts.CreatedAt.IsZero())

		retired, err := IsTombstoned(ctx, s, "N00_001")
		require.NoError(t, err)
		assert.True(t, retired, "visible in the same unit of work")

		got, err := Lookup(ctx, s, "N00_001")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "N02_001", *got.ReplacementGUID)
		assert.Equal(t, l.ID, *got.LemmaID)
		assert.Equal(t, "reclassified", *got.Notes)

		missing, err := Lookup(ctx, s, "N00_999")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestCreateTombstone_Rejects(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)
		retire(t, s, "N00_001", "N02_001")

		tests := []struct {
			name    string
			req     TombstoneRequest
			wantErr error
		}{
			{"invalid reason", TombstoneRequest{GUID: "N00_002", Reason: "bored"}, ErrInvalidReason},
			{"duplicate", TombstoneRequest{GUID: "N00_001", Reason: core.ReasonManualCorrection}, ErrAlreadyTombstoned},
			{"self replacement", TombstoneRequest{GUID: "N00_003", ReplacementGUID: "N00_003", Reason: core.ReasonManualCorrection}, nil},
			{"missing guid", TombstoneRequest{GUID: "  ", Reason: core.ReasonManualCorrection}, nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := CreateTombstone(ctx, s, tt.req)
				require.Error(t, err)
				if tt.wantErr != nil {
					require.ErrorIs(t, err, tt.wantErr)
				}
			})
		}

		n, err := s.Query(core.EntityTombstone).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "rejected requests write nothing")
	})
}

func TestTombstones_AreImmutable(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)
		retire(t, s, "N00_001", "N02_001")
		require.NoError(t, s.Commit(ctx))

		ts, err := Lookup(ctx, s, "N00_001")
		require.NoError(t, err)
		require.NotNil(t, ts)

		ts.Notes = core.Ptr("edited")
		require.ErrorIs(t, s.Add(ctx, ts), core.ErrImmutable)
		require.ErrorIs(t, s.Delete(ctx, ts), core.ErrImmutable)
	})
}

func TestReplacementChain(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)
		retire(t, s, "N00_001", "N02_001")
		retire(t, s, "N02_001", "N02_005")
		retire(t, s, "V00_001", "")

		chain, err := ReplacementChain(ctx, s, "N00_001")
		require.NoError(t, err)
		assert.Equal(t, []string{"N00_001", "N02_001"}, chainGUIDs(chain))

		chain, err = ReplacementChain(ctx, s, "N02_005")
		require.NoError(t, err)
		assert.Empty(t, chain, "live guid has no chain")

		guid, err := Resolve(ctx, s, "N00_001")
		require.NoError(t, err)
		assert.Equal(t, "N02_005", guid)

		guid, err = Resolve(ctx, s, "N02_005")
		require.NoError(t, err)
		assert.Equal(t, "N02_005", guid)

		_, err = Resolve(ctx, s, "V00_001")
		require.ErrorIs(t, err, ErrNoReplacement)
	})
}

func TestReplacementChain_CycleTerminates(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)
		retire(t, s, "A00_001", "A00_002")
		retire(t, s, "A00_002", "A00_003")
		retire(t, s, "A00_003", "A00_001")

		chain, err := ReplacementChain(ctx, s, "A00_002")
		require.NoError(t, err)
		assert.Equal(t, []string{"A00_002", "A00_003", "A00_001"}, chainGUIDs(chain))
	})
}

func TestResolve_CycleIsUnresolved(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)
		retire(t, s, "N02_001", "N02_002")
		retire(t, s, "N02_002", "N02_001")

		for _, guid := range []string{"N02_001", "N02_002"} {
			got, err := Resolve(ctx, s, guid)
			require.ErrorIs(t, err, ErrUnresolvedChain, guid)
			assert.Empty(t, got)
		}
	})
}

func TestReplacementChain_HopCeiling(t *testing.T) {
	ctx := context.Background()
	// One engine is enough to exercise the ceiling.
	s := storetest.NewSession(t, storetest.NewFactory(t, core.EngineFile))
	for i := 1; i <= MaxChainHops+5; i++ {
		retire(t, s, CanonicalGUID("N00", i), CanonicalGUID("N00", i+1))
	}

	chain, err := ReplacementChain(ctx, s, "N00_001")
	require.NoError(t, err)
	assert.Len(t, chain, MaxChainHops)

	_, err = Resolve(ctx, s, "N00_001")
	require.ErrorIs(t, err, ErrUnresolvedChain, "the walk stops before the live guid")

	guid, err := Resolve(ctx, s, CanonicalGUID("N00", 10))
	require.NoError(t, err)
	assert.Equal(t, CanonicalGUID("N00", MaxChainHops+6), guid, "a shorter suffix of the chain still resolves")
}

func TestCreateTombstone_SnapshotsLemma(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)
		l := &core.Lemma{GUID: "N02_001", Text: "cat", Category: "noun", Subcategory: core.Ptr("animal"), CreatedAt: storetest.FixtureTime}
		require.NoError(t, s.Add(ctx, l))
		require.NoError(t, s.Flush(ctx))

		_, err := CreateTombstone(ctx, s, TombstoneRequest{
			GUID:            "N02_001",
			ReplacementGUID: "V00_001",
			LemmaID:         core.Ptr(l.ID),
			Reason:          core.ReasonTypeChange,
			ChangedBy:       "editor",
		})
		require.NoError(t, err)

		_, err = CreateTombstone(ctx, s, TombstoneRequest{
			GUID:             "X00_001",
			Reason:           core.ReasonManualCorrection,
			OriginalText:     "yeet",
			OriginalCategory: "slang",
		})
		require.NoError(t, err)
		require.NoError(t, s.Commit(ctx))

		ts, err := Lookup(ctx, s, "N02_001")
		require.NoError(t, err)
		require.NotNil(t, ts)
		assert.Equal(t, "cat", ts.OriginalText, "read from the lemma")
		assert.Equal(t, "noun", ts.OriginalCategory)
		require.NotNil(t, ts.OriginalSubcategory)
		assert.Equal(t, "animal", *ts.OriginalSubcategory)
		require.NotNil(t, ts.ChangedBy)
		assert.Equal(t, "editor", *ts.ChangedBy)

		manual, err := Lookup(ctx, s, "X00_001")
		require.NoError(t, err)
		require.NotNil(t, manual)
		assert.Equal(t, "yeet", manual.OriginalText)
		assert.Equal(t, "slang", manual.OriginalCategory)
		assert.Nil(t, manual.OriginalSubcategory)
		assert.Nil(t, manual.ChangedBy)
		assert.Nil(t, manual.LemmaID)
	})
}

func TestTombstonesForLemma(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)
		cat := addLemma(t, s, "N00_001", "cat", "noun")
		dog := addLemma(t, s, "N00_002", "dog", "noun")
		require.NoError(t, s.Flush(ctx))

		for _, req := range []TombstoneRequest{
			{GUID: "N00_001", ReplacementGUID: "N02_001", LemmaID: core.Ptr(cat.ID), Reason: core.ReasonSubtypeChange},
			{GUID: "N00_002", ReplacementGUID: "N02_002", LemmaID: core.Ptr(dog.ID), Reason: core.ReasonSubtypeChange},
			{GUID: "N02_001", ReplacementGUID: "V00_001", LemmaID: core.Ptr(cat.ID), Reason: core.ReasonTypeChange},
		} {
			_, err := CreateTombstone(ctx, s, req)
			require.NoError(t, err)
		}
		require.NoError(t, s.Commit(ctx))

		got, err := TombstonesForLemma(ctx, s, cat.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"N02_001", "N00_001"}, chainGUIDs(got), "newest first")

		none, err := TombstonesForLemma(ctx, s, 999)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestTombstones_FilterByTypedReason(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)
		retire(t, s, "N00_001", "N02_001")
		retire(t, s, "N00_002", "N02_002")
		_, err := CreateTombstone(ctx, s, TombstoneRequest{GUID: "V00_001", Reason: core.ReasonManualCorrection})
		require.NoError(t, err)

		n, err := s.Query(core.EntityTombstone).FilterBy(core.Fields{"reason": core.ReasonTypeChange}).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		got, err := core.All[*core.Tombstone](ctx, s.Query(core.EntityTombstone).
			Filter(core.In("reason", core.ReasonManualCorrection, core.ReasonSubtypeChange)))
		require.NoError(t, err)
		assert.Equal(t, []string{"V00_001"}, chainGUIDs(got))
	})
}

func TestReclassifyAnimal(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)
		m := NewManager(nil, nil)

		first, err := m.GenerateGUID(ctx, s, "animal")
		require.NoError(t, err)
		require.Equal(t, "N02_001", first)

		cat := addLemma(t, s, first, "cat", "noun")
		cat.Subcategory = core.Ptr("animal")
		require.NoError(t, s.Commit(ctx))

		next, err := m.GenerateGUID(ctx, s, "animal")
		require.NoError(t, err)
		require.Equal(t, "N02_002", next)

		_, err = CreateTombstone(ctx, s, TombstoneRequest{
			GUID:            first,
			ReplacementGUID: next,
			LemmaID:         core.Ptr(cat.ID),
			Reason:          core.ReasonManualCorrection,
		})
		require.NoError(t, err)
		cat.GUID = next
		require.NoError(t, s.Add(ctx, cat))
		require.NoError(t, s.Commit(ctx))

		chain, err := ReplacementChain(ctx, s, first)
		require.NoError(t, err)
		require.Len(t, chain, 1)
		assert.Equal(t, next, *chain[0].ReplacementGUID)

		again, err := m.GenerateGUID(ctx, s, "animal")
		require.NoError(t, err)
		assert.Equal(t, "N02_003", again)
	})
}
