package planner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPredicateCost(t *testing.T) {
	indexed := IndexSet{"category": true}
	require.Equal(t, costIndexedEq, PredicateCost("category", "$eq", indexed))
	require.Equal(t, costIndexedIn, PredicateCost("category", "$in", indexed))
	require.Equal(t, costIndexedRange, PredicateCost("category", "$gte", indexed))
	require.Equal(t, costUnindexed, PredicateCost("status", "$eq", indexed))
}

func TestMatchCostMultipliesIndependentFields(t *testing.T) {
	indexed := IndexSet{"category": true}
	filter := map[string]any{"category": "Electronics", "status": "active"}
	got := MatchCost(filter, indexed)
	require.InDelta(t, costIndexedEq*costUnindexed, got, 1e-9)
}

func TestMatchCostOrTakesCheapestBranch(t *testing.T) {
	indexed := IndexSet{"category": true}
	filter := map[string]any{
		"$or": []any{
			map[string]any{"category": "Electronics"},
			map[string]any{"status": "active"},
		},
	}
	require.InDelta(t, costIndexedEq, MatchCost(filter, indexed), 1e-9)
}

func TestMatchCostAndMultipliesSubclauses(t *testing.T) {
	indexed := IndexSet{"category": true}
	filter := map[string]any{
		"$and": []any{
			map[string]any{"category": "Electronics"},
			map[string]any{"status": "active"},
		},
	}
	require.InDelta(t, costIndexedEq*costUnindexed, MatchCost(filter, indexed), 1e-9)
}

func TestMatchCostExprIsUnindexed(t *testing.T) {
	require.Equal(t, costUnindexed, MatchCost(map[string]any{"$expr": map[string]any{}}, nil))
}

func TestPipelineCostSumsStages(t *testing.T) {
	indexed := IndexSet{"category": true}
	stages := []Stage{
		{Op: "$match", Arg: map[string]any{"category": "Electronics"}},
		{Op: "$sort", Arg: map[string]any{"ts": -1}},
		{Op: "$limit", Arg: 10},
	}
	got := PipelineCost(stages, indexed)
	require.InDelta(t, costIndexedEq+costSortWeight+costUnindexed*0.1, got, 1e-9)
}

func TestReorderHoistsIndexedMatchEarly(t *testing.T) {
	indexed := IndexSet{"category": true}
	stages := []Stage{
		{Op: "$addFields", Arg: map[string]any{"computed": 1}},
		{Op: "$match", Arg: map[string]any{"category": "Electronics"}},
	}
	reordered := Reorder(stages, indexed)
	require.Equal(t, "$match", reordered[0].Op)
	require.Equal(t, "$addFields", reordered[1].Op)
}

func TestReorderRefusesToHoistPastFieldItReads(t *testing.T) {
	indexed := IndexSet{"computed": true}
	stages := []Stage{
		{Op: "$addFields", Arg: map[string]any{"computed": 1}},
		{Op: "$match", Arg: map[string]any{"computed": 5}},
	}
	reordered := Reorder(stages, indexed)
	require.Equal(t, "$addFields", reordered[0].Op)
	require.Equal(t, "$match", reordered[1].Op)
}

func TestReorderIsPureFunction(t *testing.T) {
	indexed := IndexSet{"category": true}
	stages := []Stage{
		{Op: "$addFields", Arg: map[string]any{"computed": 1}},
		{Op: "$match", Arg: map[string]any{"category": "Electronics"}},
	}
	before := append([]Stage(nil), stages...)
	Reorder(stages, indexed)
	require.Equal(t, before, stages)
}

func TestReorderKeepsPipelineWithNothingToHoist(t *testing.T) {
	stages := []Stage{
		{Op: "$match", Arg: map[string]any{"status": "active"}},
		{Op: "$sort", Arg: map[string]any{"ts": -1}},
	}
	reordered := Reorder(stages, nil)
	require.Equal(t, stages, reordered)
}

func TestFieldsIntroducedByUnwind(t *testing.T) {
	fields := fieldsIntroducedByStage(Stage{Op: "$unwind", Arg: map[string]any{
		"path":              "$tags",
		"includeArrayIndex": "i",
	}})
	require.True(t, fields["tags"])
	require.True(t, fields["i"])
}
