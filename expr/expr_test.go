package expr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neosqlitego/neosqlite/docval"
	"github.com/neosqlitego/neosqlite/pathexpr"
)

func newEvaluator() Evaluator {
	return New(pathexpr.New(false), true)
}

func TestToSQLFieldReference(t *testing.T) {
	e := newEvaluator()
	sql, _, ok := e.ToSQL("$a.b")
	require.True(t, ok)
	require.Equal(t, `json_extract(data,'$."a"."b"')`, sql)
}

func TestToSQLRootVariable(t *testing.T) {
	e := newEvaluator()
	sql, _, ok := e.ToSQL("$$ROOT")
	require.True(t, ok)
	require.Equal(t, "data", sql)
}

func TestToSQLLiteralString(t *testing.T) {
	e := newEvaluator()
	sql, params, ok := e.ToSQL("hello")
	require.True(t, ok)
	require.Equal(t, "?", sql)
	require.Equal(t, []any{"hello"}, params)
}

func TestToSQLAdd(t *testing.T) {
	e := newEvaluator()
	sql, params, ok := e.ToSQL(map[string]any{"$add": []any{"$a", 1}})
	require.True(t, ok)
	require.Equal(t, `(json_extract(data,'$."a"') + ?)`, sql)
	require.Equal(t, []any{1}, params)
}

func TestToSQLDivide(t *testing.T) {
	e := newEvaluator()
	sql, _, ok := e.ToSQL(map[string]any{"$divide": []any{"$a", "$b"}})
	require.True(t, ok)
	require.Equal(t, `(CAST(json_extract(data,'$."a"') AS REAL) / json_extract(data,'$."b"'))`, sql)
}

func TestToSQLCond(t *testing.T) {
	e := newEvaluator()
	sql, _, ok := e.ToSQL(map[string]any{"$cond": []any{
		map[string]any{"$gt": []any{"$a", 1}}, "yes", "no",
	}})
	require.True(t, ok)
	require.Contains(t, sql, "CASE WHEN")
}

func TestToSQLSplitIsUnsupported(t *testing.T) {
	e := newEvaluator()
	_, _, ok := e.ToSQL(map[string]any{"$split": []any{"$a", ","}})
	require.False(t, ok)
}

func TestToSQLToDecimalIsUnsupported(t *testing.T) {
	e := newEvaluator()
	_, _, ok := e.ToSQL(map[string]any{"$toDecimal": "$a"})
	require.False(t, ok)
}

func TestToBoolSQLWrapsNonBooleanOperator(t *testing.T) {
	e := newEvaluator()
	sql, _, ok := e.ToBoolSQL(map[string]any{"$add": []any{1, 2}})
	require.True(t, ok)
	require.Contains(t, sql, "IS NOT NULL")
}

func TestToBoolSQLPassesThroughBooleanOperator(t *testing.T) {
	e := newEvaluator()
	sql, _, ok := e.ToBoolSQL(map[string]any{"$eq": []any{"$a", 1}})
	require.True(t, ok)
	require.NotContains(t, sql, "IS NOT NULL")
}

func rootVars(doc docval.Object) Vars {
	return Vars{Root: doc, Current: doc}
}

func TestEvalFieldReference(t *testing.T) {
	e := newEvaluator()
	doc := docval.Object{"a": docval.Object{"b": docval.Int64(5)}}
	val, ok := e.Eval("$a.b", rootVars(doc))
	require.True(t, ok)
	require.Equal(t, docval.Int64(5), val)
}

func TestEvalMissingFieldReturnsNull(t *testing.T) {
	e := newEvaluator()
	doc := docval.Object{}
	val, ok := e.Eval("$missing", rootVars(doc))
	require.True(t, ok)
	require.Equal(t, docval.Null{}, val)
}

func TestEvalArithmetic(t *testing.T) {
	e := newEvaluator()
	doc := docval.Object{"a": docval.Int64(3), "b": docval.Int64(4)}
	val, ok := e.Eval(map[string]any{"$add": []any{"$a", "$b"}}, rootVars(doc))
	require.True(t, ok)
	require.Equal(t, docval.Float64(7), val)
}

func TestEvalCond(t *testing.T) {
	e := newEvaluator()
	doc := docval.Object{"a": docval.Int64(10)}
	val, ok := e.Eval(map[string]any{"$cond": []any{
		map[string]any{"$gt": []any{"$a", 5}}, "big", "small",
	}}, rootVars(doc))
	require.True(t, ok)
	require.Equal(t, docval.String("big"), val)
}

func TestEvalSetIntersection(t *testing.T) {
	e := newEvaluator()
	doc := docval.Object{}
	val, ok := e.Eval(map[string]any{"$setIntersection": []any{
		[]any{"a", "b", "c"},
		[]any{"b", "c", "d"},
	}}, rootVars(doc))
	require.True(t, ok)
	arr, ok := val.(docval.Array)
	require.True(t, ok)
	require.Len(t, arr, 2)
}

func TestEvalToDecimal(t *testing.T) {
	e := newEvaluator()
	doc := docval.Object{}
	val, ok := e.Eval(map[string]any{"$toDecimal": "3.14"}, rootVars(doc))
	require.True(t, ok)
	require.Equal(t, docval.String("3.14"), val)
}

func TestEvalToObjectIdRoundTrip(t *testing.T) {
	e := newEvaluator()
	doc := docval.Object{}
	val, ok := e.Eval(map[string]any{"$toObjectId": "507f1f77bcf86cd799439011"}, rootVars(doc))
	require.True(t, ok)
	_, isObjectId := val.(docval.ObjectIdValue)
	require.True(t, isObjectId)
}

func TestEvalConvertOnError(t *testing.T) {
	e := newEvaluator()
	doc := docval.Object{}
	val, ok := e.Eval(map[string]any{
		"$convert": map[string]any{
			"input":   "not-a-number",
			"to":      "int",
			"onError": "fallback",
		},
	}, rootVars(doc))
	require.True(t, ok)
	require.Equal(t, docval.String("fallback"), val)
}

func TestEvalRemoveSentinel(t *testing.T) {
	e := newEvaluator()
	doc := docval.Object{}
	val, ok := e.Eval("$$REMOVE", rootVars(doc))
	require.True(t, ok)
	require.Equal(t, docval.Remove{}, val)
}

func TestEvalSliceNegativeStart(t *testing.T) {
	e := newEvaluator()
	doc := docval.Object{"arr": docval.Array{docval.Int64(1), docval.Int64(2), docval.Int64(3), docval.Int64(4)}}
	val, ok := e.Eval(map[string]any{"$slice": []any{"$arr", -2}}, rootVars(doc))
	require.True(t, ok)
	arr, ok := val.(docval.Array)
	require.True(t, ok)
	require.Equal(t, docval.Array{docval.Int64(3), docval.Int64(4)}, arr)
}
