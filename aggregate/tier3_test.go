package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neosqlitego/neosqlite/docval"
)

func TestTier3Match(t *testing.T) {
	x := newTestExecutor("products")
	docs := []docval.Object{
		{"category": docval.String("Electronics")},
		{"category": docval.String("Books")},
	}
	out, err := x.Tier3(docs, []Stage{
		{Op: "$match", Arg: map[string]any{"category": "Electronics"}},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestTier3SortLimitSkip(t *testing.T) {
	x := newTestExecutor("products")
	docs := []docval.Object{
		{"n": docval.Int64(3)},
		{"n": docval.Int64(1)},
		{"n": docval.Int64(2)},
	}
	out, err := x.Tier3(docs, []Stage{
		{Op: "$sort", Arg: map[string]any{"n": 1}},
		{Op: "$skip", Arg: 1},
		{Op: "$limit", Arg: 1},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, docval.Int64(2), out[0]["n"])
}

func TestTier3UnwindPreserveNullAndEmptyArrays(t *testing.T) {
	x := newTestExecutor("t")
	docs := []docval.Object{
		{"n": docval.String("A"), "s": docval.Array{docval.Int64(85), docval.Int64(90)}},
		{"n": docval.String("B"), "s": docval.Array{}},
		{"n": docval.String("C"), "s": docval.Null{}},
		{"n": docval.String("D")},
	}
	out, err := x.Tier3(docs, []Stage{
		{Op: "$unwind", Arg: map[string]any{
			"path":                       "$s",
			"includeArrayIndex":          "i",
			"preserveNullAndEmptyArrays": true,
		}},
	})
	require.NoError(t, err)
	require.Len(t, out, 4) // A:2, B:1, C:1, D:0
}

func TestTier3Group(t *testing.T) {
	x := newTestExecutor("t")
	docs := []docval.Object{
		{"cat": docval.String("a"), "price": docval.Int64(10)},
		{"cat": docval.String("a"), "price": docval.Int64(20)},
		{"cat": docval.String("b"), "price": docval.Int64(5)},
	}
	out, err := x.Tier3(docs, []Stage{
		{Op: "$group", Arg: map[string]any{
			"_id":   "$cat",
			"total": map[string]any{"$sum": "$price"},
			"count": map[string]any{"$count": map[string]any{}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestTier3ProjectExclusion(t *testing.T) {
	x := newTestExecutor("t")
	docs := []docval.Object{
		{"_id": docval.Int64(1), "a": docval.Int64(1), "b": docval.Int64(2)},
	}
	out, err := x.Tier3(docs, []Stage{
		{Op: "$project", Arg: map[string]any{"b": 0}},
	})
	require.NoError(t, err)
	require.Contains(t, out[0], "a")
	require.NotContains(t, out[0], "b")
}

func TestTier3AddFieldsRemove(t *testing.T) {
	x := newTestExecutor("t")
	docs := []docval.Object{
		{"a": docval.Int64(1), "b": docval.Int64(2)},
	}
	out, err := x.Tier3(docs, []Stage{
		{Op: "$addFields", Arg: map[string]any{"b": "$$REMOVE"}},
	})
	require.NoError(t, err)
	require.NotContains(t, out[0], "b")
}
