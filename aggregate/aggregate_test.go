package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neosqlitego/neosqlite/docval"
)

func TestParseStages(t *testing.T) {
	stages := ParseStages([]map[string]any{
		{"$match": map[string]any{"a": 1}},
		{"$limit": 10},
	})
	require.Len(t, stages, 2)
	require.Equal(t, "$match", stages[0].Op)
	require.Equal(t, "$limit", stages[1].Op)
}

func TestForceFallbackKillSwitch(t *testing.T) {
	require.False(t, ForceFallback())
	SetForceFallback(true)
	defer SetForceFallback(false)
	require.True(t, ForceFallback())
}

func TestMatchDocEqAndOperators(t *testing.T) {
	doc := docval.Object{"category": docval.String("Electronics"), "price": docval.Int64(42)}
	require.True(t, matchDoc(doc, map[string]any{"category": "Electronics"}))
	require.False(t, matchDoc(doc, map[string]any{"category": "Books"}))
	require.True(t, matchDoc(doc, map[string]any{"price": map[string]any{"$gt": 10.0}}))
	require.False(t, matchDoc(doc, map[string]any{"price": map[string]any{"$gt": 100.0}}))
}

func TestMatchDocAndOrNor(t *testing.T) {
	doc := docval.Object{"a": docval.Int64(1), "b": docval.Int64(2)}
	require.True(t, matchDoc(doc, map[string]any{
		"$and": []any{
			map[string]any{"a": 1.0},
			map[string]any{"b": 2.0},
		},
	}))
	require.True(t, matchDoc(doc, map[string]any{
		"$or": []any{
			map[string]any{"a": 99.0},
			map[string]any{"b": 2.0},
		},
	}))
	require.True(t, matchDoc(doc, map[string]any{
		"$nor": []any{
			map[string]any{"a": 99.0},
		},
	}))
}

func TestMatchDocExistsOnMissingField(t *testing.T) {
	doc := docval.Object{"a": docval.Int64(1)}
	require.True(t, matchDoc(doc, map[string]any{"b": map[string]any{"$exists": false}}))
	require.False(t, matchDoc(doc, map[string]any{"a": map[string]any{"$exists": false}}))
}

func TestValuesEqualNumericCrossType(t *testing.T) {
	require.True(t, valuesEqual(docval.Int64(5), docval.Float64(5)))
	require.False(t, valuesEqual(docval.Int64(5), docval.Float64(6)))
}
