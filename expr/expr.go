// Package expr implements the Expression Evaluator (spec.md §4.4,
// component E): two symmetric back-ends over the same aggregation
// expression tree (the decoded `any`/docval.Value document, same
// representation the pipeline stages themselves carry) — SQL emission
// (evaluate_for_aggregation) for inlining into $project/$addFields/$group
// and $expr, and host evaluation (evaluate_expr_python) for Tier-3 and
// operators with no SQL analogue.
//
// Grounded on atomicbase/api/database/build_query.go's aggregate-function
// parsing (parseAggregate/isAggregateFunc), generalized from a handful of
// SQL aggregate names into a full recursive expression tree; the teacher
// has no expression language of comparable depth, so structure follows
// spec.md §4.4 directly, with original_source/neosqlite's Python
// evaluator consulted for ambiguous semantics (e.g. $toBool truthiness,
// $convert onError/onNull ordering).
package expr

import (
	"github.com/neosqlitego/neosqlite/docval"
	"github.com/neosqlitego/neosqlite/pathexpr"
)

// Evaluator holds the field accessor used to emit JSONB-aware path SQL.
type Evaluator struct {
	Accessor      pathexpr.Accessor
	RegexpEnabled bool
}

// New returns an Evaluator bound to a connection's field accessor.
func New(accessor pathexpr.Accessor, regexpEnabled bool) Evaluator {
	return Evaluator{Accessor: accessor, RegexpEnabled: regexpEnabled}
}

// ToBoolSQL implements queryop.ExprEvaluator: translate an expression
// that is expected to produce a boolean into a SQL predicate. Per
// spec.md §4.3, $expr's produced expression must be boolean; arithmetic
// or string results are wrapped in a truthiness check.
func (e Evaluator) ToBoolSQL(expression any) (string, []any, bool) {
	sql, params, ok := e.ToSQL(expression)
	if !ok {
		return "", nil, false
	}
	if isBoolOperator(expression) {
		return sql, params, true
	}
	wrapped := "(" + sql + " IS NOT NULL AND " + sql + " != 0)"
	allParams := make([]any, 0, len(params)*2)
	allParams = append(allParams, params...)
	allParams = append(allParams, params...)
	return wrapped, allParams, true
}

func isBoolOperator(expression any) bool {
	m, ok := expression.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	for op := range m {
		switch op {
		case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$and", "$or", "$not",
			"$in", "$isArray", "$regexMatch", "$allElementsTrue", "$anyElementTrue",
			"$setIsSubset", "$setEquals":
			return true
		}
	}
	return false
}
