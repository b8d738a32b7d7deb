package expr

import (
	"strings"
)

// ToSQL is the SQL-emission back-end (evaluate_for_aggregation):
// translate an expression to (sql, params, ok). Unsupported shapes
// return ok=false so the caller (planner/aggregate) falls back to a
// later tier rather than emitting wrong SQL.
func (e Evaluator) ToSQL(expression any) (string, []any, bool) {
	switch v := expression.(type) {
	case nil:
		return "NULL", nil, true
	case string:
		return e.fieldOrVarSQL(v)
	case map[string]any:
		return e.operatorToSQL(v)
	case []any:
		return e.arrayLiteralSQL(v)
	default:
		return "?", []any{expression}, true
	}
}

func (e Evaluator) fieldOrVarSQL(s string) (string, []any, bool) {
	switch s {
	case "$$ROOT", "$$CURRENT":
		return "data", nil, true
	case "$$REMOVE":
		// $$REMOVE has no SQL representation; only meaningful in host
		// projection, where it deletes the field instead of setting it.
		return "", nil, false
	}
	if !strings.HasPrefix(s, "$") {
		return "?", []any{s}, true
	}
	if strings.HasPrefix(s, "$$") {
		return "", nil, false
	}
	path := strings.TrimPrefix(s, "$")
	return e.Accessor.Field(path), nil, true
}

func (e Evaluator) arrayLiteralSQL(arr []any) (string, []any, bool) {
	parts := make([]string, 0, len(arr))
	var params []any
	for _, item := range arr {
		sql, p, ok := e.ToSQL(item)
		if !ok {
			return "", nil, false
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	return "json_array(" + strings.Join(parts, ",") + ")", params, true
}

func (e Evaluator) objectLiteralSQL(m map[string]any) (string, []any, bool) {
	parts := make([]string, 0, len(m))
	var params []any
	for k, v := range m {
		sql, p, ok := e.ToSQL(v)
		if !ok {
			return "", nil, false
		}
		parts = append(parts, "?,"+sql)
		params = append(params, k)
		params = append(params, p...)
	}
	return "json_object(" + strings.Join(parts, ",") + ")", params, true
}

// args normalizes an operator's argument into a slice: Mongo accepts
// either a single expression or an array of them depending on arity.
func args(arg any) []any {
	if arr, ok := arg.([]any); ok {
		return arr
	}
	return []any{arg}
}

// sqlMany translates every element of an argument list, failing the
// whole call if any one element is unsupported.
func (e Evaluator) sqlMany(arg any) (sqls []string, params []any, ok bool) {
	for _, a := range args(arg) {
		s, p, k := e.ToSQL(a)
		if !k {
			return nil, nil, false
		}
		sqls = append(sqls, s)
		params = append(params, p...)
	}
	return sqls, params, true
}

// operatorToSQL dispatches a single-key {$op: arg} expression map, or an
// object literal (no "$"-prefixed keys) rebuilt via json_object.
func (e Evaluator) operatorToSQL(m map[string]any) (string, []any, bool) {
	for k := range m {
		if strings.HasPrefix(k, "$") && len(m) == 1 {
			return e.dispatchOp(k, m[k])
		}
	}
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return "", nil, false
		}
	}
	return e.objectLiteralSQL(m)
}

func (e Evaluator) dispatchOp(op string, arg any) (string, []any, bool) {
	switch op {
	case "$add":
		return e.sqlNaryInfix(arg, "+")
	case "$multiply":
		return e.sqlNaryInfix(arg, "*")
	case "$subtract":
		return e.sqlBinaryInfix(arg, "-")
	case "$divide":
		return e.sqlDivide(arg)
	case "$mod":
		return e.sqlBinaryInfix(arg, "%")

	case "$abs", "$sqrt", "$exp", "$ln", "$log10",
		"$sin", "$cos", "$tan", "$asin", "$acos", "$atan",
		"$sinh", "$cosh", "$tanh":
		return e.sqlUnaryFunc(arg, strings.TrimPrefix(op, "$"))
	case "$ceil":
		return e.sqlUnaryFunc(arg, "ceil")
	case "$floor":
		return e.sqlUnaryFunc(arg, "floor")
	case "$round":
		return e.sqlRound(arg)
	case "$pow":
		return e.sqlBinaryFunc(arg, "pow")
	case "$atan2":
		return e.sqlBinaryFunc(arg, "atan2")
	case "$log":
		return e.sqlLog(arg)
	case "$radiansToDegrees":
		return e.sqlUnaryFunc(arg, "degrees")
	case "$degreesToRadians":
		return e.sqlUnaryFunc(arg, "radians")

	case "$eq":
		return e.sqlBinaryInfix(arg, "=")
	case "$ne":
		return e.sqlBinaryInfix(arg, "!=")
	case "$gt":
		return e.sqlBinaryInfix(arg, ">")
	case "$gte":
		return e.sqlBinaryInfix(arg, ">=")
	case "$lt":
		return e.sqlBinaryInfix(arg, "<")
	case "$lte":
		return e.sqlBinaryInfix(arg, "<=")
	case "$cmp":
		return e.sqlCmp(arg)

	case "$cond":
		return e.sqlCond(arg)
	case "$ifNull":
		return e.sqlIfNull(arg)
	case "$switch":
		return e.sqlSwitch(arg)

	case "$concat":
		return e.sqlConcat(arg)
	case "$toUpper":
		return e.sqlUnaryFunc(arg, "upper")
	case "$toLower":
		return e.sqlUnaryFunc(arg, "lower")
	case "$substr", "$substrCP":
		return e.sqlSubstr(arg)
	case "$strLenCP":
		return e.sqlStrLen(arg)
	case "$strLenBytes":
		return e.sqlStrLenBytes(arg)
	case "$trim":
		return e.sqlTrimFn(arg, "trim")
	case "$ltrim":
		return e.sqlTrimFn(arg, "ltrim")
	case "$rtrim":
		return e.sqlTrimFn(arg, "rtrim")
	case "$replaceAll":
		return e.sqlReplace(arg)
	case "$regexMatch":
		return e.sqlRegexMatch(arg)
	case "$indexOfCP":
		return e.sqlIndexOfCP(arg)
	case "$split":
		return "", nil, false // host-only: SQLite has no split-to-array builtin

	case "$year", "$month", "$dayOfMonth", "$hour", "$minute", "$second", "$dayOfWeek":
		return e.sqlDatePart(op, arg)
	case "$dateToString":
		return e.sqlDateToString(arg)
	case "$dateFromString":
		return e.sqlDateFromString(arg)

	case "$size":
		return e.sqlArraySize(arg)
	case "$arrayElemAt":
		return e.sqlArrayElemAt(arg)
	case "$isArray":
		return e.sqlIsArray(arg)
	case "$in":
		return e.sqlArrayIn(arg)
	case "$reverseArray":
		return e.sqlReverseArray(arg)
	case "$concatArrays", "$slice":
		return "", nil, false // host-only: needs array splicing beyond json_each subqueries

	case "$anyElementTrue":
		return e.sqlAnyElementTrue(arg)
	case "$allElementsTrue":
		return e.sqlAllElementsTrue(arg)
	case "$setEquals", "$setIntersection", "$setUnion", "$setDifference", "$setIsSubset":
		return "", nil, false // host-only, per spec.md §4.4

	case "$toInt", "$toLong":
		return e.sqlCastSQL(arg, "INTEGER")
	case "$toDouble":
		return e.sqlCastSQL(arg, "REAL")
	case "$toString":
		return e.sqlCastSQL(arg, "TEXT")
	case "$toBool":
		return e.sqlToBool(arg)
	case "$toDate":
		return e.sqlToDate(arg)
	case "$type":
		return e.sqlType(arg)
	case "$toDecimal", "$toObjectId", "$toBinData", "$toRegex", "$convert":
		return "", nil, false // host-only: needs Decimal128/ObjectId/Binary decoding

	default:
		return "", nil, false
	}
}
