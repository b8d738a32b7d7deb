package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neosqlitego/neosqlite/expr"
	"github.com/neosqlitego/neosqlite/pathexpr"
	"github.com/neosqlitego/neosqlite/queryop"
)

func newTestExecutor(table string) *Executor {
	accessor := pathexpr.New(false)
	ev := expr.New(accessor, false)
	q := queryop.New(accessor, false, false, "", ev)
	return New(table, accessor, q, ev, nil)
}

func TestTier1MatchOnly(t *testing.T) {
	x := newTestExecutor("products")
	sql, params, ok := x.Tier1([]Stage{
		{Op: "$match", Arg: map[string]any{"category": "Electronics"}},
	})
	require.True(t, ok)
	require.Contains(t, sql, "SELECT id, data FROM [products]")
	require.Contains(t, sql, "WHERE")
	require.Equal(t, []any{"Electronics"}, params)
}

func TestTier1MatchSortSkipLimit(t *testing.T) {
	x := newTestExecutor("products")
	sql, _, ok := x.Tier1([]Stage{
		{Op: "$match", Arg: map[string]any{"category": "Electronics"}},
		{Op: "$sort", Arg: map[string]any{"price": -1}},
		{Op: "$skip", Arg: 5},
		{Op: "$limit", Arg: 10},
	})
	require.True(t, ok)
	require.Contains(t, sql, "ORDER BY")
	require.Contains(t, sql, "DESC")
	require.Contains(t, sql, "LIMIT 10")
	require.Contains(t, sql, "OFFSET 5")
}

func TestTier1Unwind(t *testing.T) {
	x := newTestExecutor("orders")
	sql, _, ok := x.Tier1([]Stage{
		{Op: "$unwind", Arg: "$items"},
	})
	require.True(t, ok)
	require.Contains(t, sql, "json_each(")
	require.Contains(t, sql, "json_set(data")
}

func TestTier1UnwindPreserveNullAndEmpty(t *testing.T) {
	x := newTestExecutor("orders")
	sql, _, ok := x.Tier1([]Stage{
		{Op: "$unwind", Arg: map[string]any{"path": "$items", "preserveNullAndEmptyArrays": true}},
	})
	require.True(t, ok)
	require.Contains(t, sql, "json('[null]')")
}

func TestTier1UnwindGroupFusion(t *testing.T) {
	x := newTestExecutor("orders")
	sql, _, ok := x.Tier1([]Stage{
		{Op: "$unwind", Arg: "$items"},
		{Op: "$group", Arg: map[string]any{
			"_id":   nil,
			"total": map[string]any{"$sum": "$items"},
		}},
	})
	require.True(t, ok)
	require.Contains(t, sql, "GROUP BY 1")
	require.Contains(t, sql, "SUM(")
}

func TestTier1UnwindGroupFusionResolvesUnwoundValueAndSiblingField(t *testing.T) {
	x := newTestExecutor("orders")
	sql, _, ok := x.Tier1([]Stage{
		{Op: "$unwind", Arg: "$tags"},
		{Op: "$group", Arg: map[string]any{
			"_id": "$category",
			"t":   map[string]any{"$push": "$tags"},
		}},
	})
	require.True(t, ok)
	// _id reads a sibling field off the original data column, not the
	// unwound alias.
	require.Contains(t, sql, "json_extract(data,'$.\"category\"')")
	// $push:"$tags" is the unwound path itself, so it must read the
	// json_each alias's value directly, never json_extract(je0.value,...).
	require.Contains(t, sql, "json_group_array(je0.value)")
	require.NotContains(t, sql, "json_extract(je0.value,'$.\"tags\"')")
}

func TestTier1UnwindGroupFusionResolvesSubPathUnderUnwoundValue(t *testing.T) {
	x := newTestExecutor("orders")
	sql, _, ok := x.Tier1([]Stage{
		{Op: "$unwind", Arg: "$items"},
		{Op: "$group", Arg: map[string]any{
			"_id":   nil,
			"total": map[string]any{"$sum": "$items.price"},
		}},
	})
	require.True(t, ok)
	require.Contains(t, sql, "SUM(json_extract(je0.value,'$.\"price\"'))")
}

func TestTier1UnwindPreserveNullExcludesAbsentField(t *testing.T) {
	x := newTestExecutor("orders")
	sql, _, ok := x.Tier1([]Stage{
		{Op: "$unwind", Arg: map[string]any{"path": "$s", "preserveNullAndEmptyArrays": true}},
	})
	require.True(t, ok)
	// An absent field must feed json_each an empty array (0 rows), gated
	// on json_type being NULL, before ever considering the null/empty
	// array synthesis that follows for present-but-empty fields.
	require.Contains(t, sql, "WHEN json_type(data,'$.\"s\"') IS NULL THEN json('[]')")
}

func TestTier1UnwindBindsIncludeArrayIndex(t *testing.T) {
	x := newTestExecutor("orders")
	sql, _, ok := x.Tier1([]Stage{
		{Op: "$unwind", Arg: map[string]any{"path": "$items", "includeArrayIndex": "idx"}},
	})
	require.True(t, ok)
	require.Contains(t, sql, "je0.key")
	require.Contains(t, sql, "'$.\"idx\"'")
}

func TestTier1DeclinesUnsupportedStage(t *testing.T) {
	x := newTestExecutor("orders")
	_, _, ok := x.Tier1([]Stage{
		{Op: "$facet", Arg: map[string]any{}},
	})
	require.False(t, ok)
}

func TestTier1RespectsKillSwitch(t *testing.T) {
	x := newTestExecutor("orders")
	x.ForceFallback = true
	_, _, ok := x.Tier1([]Stage{{Op: "$match", Arg: map[string]any{"a": 1}}})
	require.False(t, ok)
}

func TestTier1RespectsGlobalKillSwitch(t *testing.T) {
	SetForceFallback(true)
	defer SetForceFallback(false)
	x := newTestExecutor("orders")
	_, _, ok := x.Tier1([]Stage{{Op: "$match", Arg: map[string]any{"a": 1}}})
	require.False(t, ok)
}
