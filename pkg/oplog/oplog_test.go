package oplog

import (
	"context"
	"strings"
	"testing"

	"github.com/leapstack-labs/lexstore/internal/testutil/storetest"
	"github.com/leapstack-labs/lexstore/pkg/backend"
	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompact(t *testing.T) {
	var nilString *string
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"nil pointer", nilString, nil},
		{"pointer", core.Ptr("x"), "x"},
		{"scalar", 3, 3},
		{
			"nested map",
			map[string]any{"a": nil, "b": map[string]any{"c": nil, "d": 1}},
			map[string]any{"b": map[string]any{"d": 1}},
		},
		{
			"slice elements",
			[]any{nil, "x", map[string]any{"y": nil}},
			[]any{"x", map[string]any{}},
		},
		{"nil int pointer", (*int)(nil), nil},
		{"nil float pointer", (*float64)(nil), nil},
		{"float pointer", core.Ptr(0.5), 0.5},
		{"pointer to pointer", core.Ptr(core.Ptr(int64(2))), int64(2)},
		{"nil typed slice", []string(nil), nil},
		{"typed slice", []string{"a", "b"}, []any{"a", "b"}},
		{"nil typed map", map[string]int(nil), nil},
		{"typed map", map[string]int{"n": 1}, map[string]any{"n": 1}},
		{
			"typed map with nil pointers",
			map[string]*int{"gone": nil, "kept": core.Ptr(4)},
			map[string]any{"kept": 4},
		},
		{"slice of nil pointers", []*string{nil, core.Ptr("x")}, []any{"x"}},
		{"nil bytes", []byte(nil), nil},
		{"bytes", []byte("ab"), []byte("ab")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compact(tt.in))
		})
	}
}

func TestEncodeFact(t *testing.T) {
	fact, err := EncodeFact(Change{
		Field:    "translation_de",
		OldValue: nil,
		NewValue: "Katze",
		Extra: map[string]any{
			"model":   nil,
			"context": map[string]any{"batch": nil, "run": "r1"},
		},
	})
	require.NoError(t, err)
	assert.NotContains(t, fact, "null")

	decoded, err := DecodeFact(fact)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"field":     "translation_de",
		"new_value": "Katze",
		"context":   map[string]any{"run": "r1"},
	}, decoded)
}

func TestEncodeFact_DropsTypedNils(t *testing.T) {
	fact, err := EncodeFact(Change{
		Field:    "frequency_rank",
		OldValue: (*int)(nil),
		NewValue: "y",
		Extra: map[string]any{
			"count":  (*int)(nil),
			"tags":   []string(nil),
			"score":  (*float64)(nil),
			"counts": map[string]int(nil),
			"nested": map[string]any{"weights": []float64(nil)},
		},
	})
	require.NoError(t, err)
	assert.NotContains(t, fact, "null")

	decoded, err := DecodeFact(fact)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"field":     "frequency_rank",
		"new_value": "y",
		"nested":    map[string]any{},
	}, decoded)
}

func TestDecodeFact_Invalid(t *testing.T) {
	_, err := DecodeFact("{not json")
	require.Error(t, err)

	empty, err := DecodeFact("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLogChange(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)

		entry, err := LogChange(ctx, s, Change{
			Source:        "cli",
			OperationType: "translation_update",
			Field:         "translation_de",
			OldValue:      (*string)(nil),
			NewValue:      "Katze",
			LemmaID:       core.Ptr(int64(3)),
		})
		require.NoError(t, err)
		assert.NotZero(t, entry.ID, "entry is flushed")
		require.NoError(t, s.Commit(ctx))

		stored, err := core.Get[*core.OperationLog](ctx, s, core.EntityOperationLog, entry.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, int64(3), *stored.LemmaID)
		assert.Nil(t, stored.WordTokenID)
		assert.False(t, strings.Contains(stored.Fact, "null"), stored.Fact)
		assert.Contains(t, stored.Fact, `"new_value":"Katze"`)
	})
}

func TestLogChange_RequiresSourceAndType(t *testing.T) {
	ctx := context.Background()
	s := storetest.NewSession(t, storetest.NewFactory(t, core.EngineFile))

	_, err := LogChange(ctx, s, Change{OperationType: "x"})
	require.Error(t, err)
	_, err = LogChange(ctx, s, Change{Source: "cli"})
	require.Error(t, err)
}

func TestEntries_AreImmutable(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)
		entry, err := LogChange(ctx, s, Change{Source: "cli", OperationType: "create", NewValue: "cat"})
		require.NoError(t, err)
		require.NoError(t, s.Commit(ctx))

		entry.Source = "forged"
		require.ErrorIs(t, s.Add(ctx, entry), core.ErrImmutable)
		require.ErrorIs(t, s.Delete(ctx, entry), core.ErrImmutable)

		_, err = s.Query(core.EntityOperationLog).Update(ctx, core.Fields{"source": "forged"})
		require.ErrorIs(t, err, core.ErrImmutable)
		_, err = s.Query(core.EntityOperationLog).Delete(ctx)
		require.ErrorIs(t, err, core.ErrImmutable)
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	storetest.EachBackend(t, func(t *testing.T, f *backend.Factory) {
		s := storetest.NewSession(t, f)
		cat, dog := core.Ptr(int64(1)), core.Ptr(int64(2))

		for _, c := range []Change{
			{Source: "cli", OperationType: "create", NewValue: "cat", LemmaID: cat},
			{Source: "import", OperationType: "create", NewValue: "dog", LemmaID: dog},
			{Source: "cli", OperationType: "translation_update", Field: "translation_de", NewValue: "Katze", LemmaID: cat},
		} {
			_, err := LogChange(ctx, s, c)
			require.NoError(t, err)
		}
		require.NoError(t, s.Commit(ctx))

		all, err := History(ctx, s, Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		for i := 1; i < len(all); i++ {
			assert.False(t, all[i].Timestamp.Before(all[i-1].Timestamp))
		}

		forCat, err := History(ctx, s, Filter{LemmaID: cat})
		require.NoError(t, err)
		require.Len(t, forCat, 2)
		assert.Equal(t, "create", forCat[0].OperationType)
		assert.Equal(t, "translation_update", forCat[1].OperationType)

		imports, err := History(ctx, s, Filter{Source: "import"})
		require.NoError(t, err)
		assert.Len(t, imports, 1)

		limited, err := History(ctx, s, Filter{OperationType: "create", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}
