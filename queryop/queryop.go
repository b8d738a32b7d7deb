// Package queryop implements the Operator Translator (spec.md §4.2,
// component C) and the Clause Builder (spec.md §4.3, component D):
// translating a Mongo-shaped query document into a SQL WHERE fragment
// and its bound parameters, or signalling "unsupported" so the caller
// falls back to a later tier.
//
// Grounded on atomicbase's api/database/query_json.go
// (BuildWhereFromJSON/buildFilterClause/buildOrClause), generalized from
// flat-column filters with named operators to dotted-JSON-path filters
// with Mongo operator names and $and/$or/$nor/$not/$expr combinators.
package queryop

import (
	"sort"
	"strings"

	"github.com/neosqlitego/neosqlite/pathexpr"
)

// ExprEvaluator is the subset of the Expression Evaluator (spec.md §4.4)
// that the Clause Builder needs for $expr: translate an aggregation
// expression to a boolean SQL fragment. Implemented by package expr;
// declared here to avoid an import cycle (expr may itself want query
// clauses for $filter-style expressions).
type ExprEvaluator interface {
	ToBoolSQL(expr any) (sql string, params []any, ok bool)
}

// Translator holds the per-connection state the Clause Builder needs:
// the field accessor (for JSONB-aware path SQL), whether REGEXP is bound,
// whether the target collection has a companion FTS5 table, and the
// optional Expression Evaluator for $expr.
type Translator struct {
	Accessor      pathexpr.Accessor
	RegexpEnabled bool
	FTSAvailable  bool
	FTSTable      string
	Expr          ExprEvaluator
}

// New returns a Translator for the given collection's runtime capabilities.
func New(accessor pathexpr.Accessor, regexpEnabled, ftsAvailable bool, ftsTable string, expr ExprEvaluator) Translator {
	return Translator{
		Accessor:      accessor,
		RegexpEnabled: regexpEnabled,
		FTSAvailable:  ftsAvailable,
		FTSTable:      ftsTable,
		Expr:          expr,
	}
}

// BuildWhere is the Clause Builder entry point. It returns the WHERE body
// (without a leading "WHERE"), its positional parameters, and whether the
// whole query tree was translatable. An empty query returns ("", nil, true).
func (t Translator) BuildWhere(query map[string]any) (sql string, params []any, ok bool) {
	if len(query) == 0 {
		return "", nil, true
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		clause, clauseParams, clauseOK := t.clauseFor(key, query[key])
		if !clauseOK {
			return "", nil, false
		}
		parts = append(parts, clause)
		params = append(params, clauseParams...)
	}

	return strings.Join(parts, " AND "), params, true
}

func (t Translator) clauseFor(key string, value any) (string, []any, bool) {
	switch key {
	case "$and":
		return t.combine(value, " AND ", false)
	case "$or":
		return t.combine(value, " OR ", false)
	case "$nor":
		sql, params, ok := t.combine(value, " OR ", false)
		if !ok {
			return "", nil, false
		}
		return "NOT (" + sql + ")", params, true
	case "$not":
		sub, ok := value.(map[string]any)
		if !ok {
			return "", nil, false
		}
		sql, params, ok := t.BuildWhere(sub)
		if !ok {
			return "", nil, false
		}
		return "NOT (" + sql + ")", params, true
	case "$expr":
		if t.Expr == nil {
			return "", nil, false
		}
		return t.Expr.ToBoolSQL(value)
	case "$where":
		// Always unsupported: arbitrary host-code predicates cannot be
		// translated to SQL, per spec.md §4.3.
		return "", nil, false
	default:
		return t.fieldClause(key, value)
	}
}

// combine translates an array of sub-queries and joins them with sep.
func (t Translator) combine(value any, sep string, negate bool) (string, []any, bool) {
	arr, ok := value.([]any)
	if !ok || len(arr) == 0 {
		return "", nil, false
	}

	var parts []string
	var params []any
	for _, item := range arr {
		sub, ok := item.(map[string]any)
		if !ok {
			return "", nil, false
		}
		sql, subParams, ok := t.BuildWhere(sub)
		if !ok {
			return "", nil, false
		}
		parts = append(parts, "("+sql+")")
		params = append(params, subParams...)
	}

	return strings.Join(parts, sep), params, true
}

// fieldClause translates a single {field: expr} pair, where expr is
// either a scalar (implicit $eq) or an operator map.
func (t Translator) fieldClause(field string, value any) (string, []any, bool) {
	if pathexpr.HasArrayIndex(field) {
		return "", nil, false
	}

	opMap, isOpMap := value.(map[string]any)
	if !isOpMap {
		return t.translateOp(field, "$eq", value)
	}

	// A map with no keys starting with "$" is a literal document-equality
	// match (spec.md doesn't cover this explicitly but Mongo semantics
	// treat it as $eq against the whole sub-document); anything else is
	// walked as one or more operators ANDed together.
	hasOperatorKey := false
	for k := range opMap {
		if strings.HasPrefix(k, "$") {
			hasOperatorKey = true
			break
		}
	}
	if !hasOperatorKey {
		return t.translateOp(field, "$eq", value)
	}

	keys := make([]string, 0, len(opMap))
	for k := range opMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	var params []any
	for _, op := range keys {
		sql, opParams, ok := t.translateOp(field, op, opMap[op])
		if !ok {
			return "", nil, false
		}
		parts = append(parts, sql)
		params = append(params, opParams...)
	}

	return strings.Join(parts, " AND "), params, true
}

// translateOp implements the Operator Translator (component C): for a
// single (field, operator, value) triple, emit (sql, params, ok).
func (t Translator) translateOp(field, op string, value any) (string, []any, bool) {
	fieldSQL, routedValue := pathexpr.RouteIdentifier(field, value)
	if fieldSQL == "" {
		fieldSQL = t.Accessor.Field(field)
		routedValue = value
	}

	switch op {
	case "$eq":
		return fieldSQL + " = ?", []any{routedValue}, true
	case "$ne":
		return fieldSQL + " != ?", []any{routedValue}, true
	case "$gt":
		return fieldSQL + " > ?", []any{routedValue}, true
	case "$gte":
		return fieldSQL + " >= ?", []any{routedValue}, true
	case "$lt":
		return fieldSQL + " < ?", []any{routedValue}, true
	case "$lte":
		return fieldSQL + " <= ?", []any{routedValue}, true
	case "$in":
		return t.inClause(fieldSQL, value, false)
	case "$nin":
		return t.inClause(fieldSQL, value, true)
	case "$exists":
		want, ok := value.(bool)
		if !ok {
			return "", nil, false
		}
		if want {
			return fieldSQL + " IS NOT NULL", nil, true
		}
		return fieldSQL + " IS NULL", nil, true
	case "$mod":
		arr, ok := value.([]any)
		if !ok || len(arr) != 2 {
			return "", nil, false
		}
		return fieldSQL + " % ? = ?", []any{arr[0], arr[1]}, true
	case "$size":
		return "json_array_length(" + fieldSQL + ") = ?", []any{value}, true
	case "$contains":
		s, ok := value.(string)
		if !ok {
			return "", nil, false
		}
		return "lower(" + fieldSQL + ") LIKE ?", []any{"%" + strings.ToLower(s) + "%"}, true
	case "$regex":
		if !t.RegexpEnabled {
			return "", nil, false
		}
		pattern, ok := value.(string)
		if !ok {
			return "", nil, false
		}
		return fieldSQL + " REGEXP ?", []any{pattern}, true
	case "$text":
		return t.textSearch(value)
	case "$all", "$elemMatch":
		return "", nil, false
	default:
		return "", nil, false
	}
}

func (t Translator) inClause(fieldSQL string, value any, negate bool) (string, []any, bool) {
	arr, ok := value.([]any)
	if !ok {
		return "", nil, false
	}
	placeholders := make([]string, len(arr))
	params := make([]any, len(arr))
	for i, v := range arr {
		placeholders[i] = "?"
		params[i] = v
	}
	verb := "IN"
	if negate {
		verb = "NOT IN"
	}
	return fieldSQL + " " + verb + " (" + strings.Join(placeholders, ",") + ")", params, true
}

func (t Translator) textSearch(value any) (string, []any, bool) {
	if !t.FTSAvailable {
		return "", nil, false
	}
	clause, ok := value.(map[string]any)
	if !ok {
		return "", nil, false
	}
	search, ok := clause["$search"].(string)
	if !ok {
		return "", nil, false
	}
	return "rowid IN (SELECT rowid FROM " + t.FTSTable + " WHERE " + t.FTSTable + " MATCH ?)", []any{search}, true
}
