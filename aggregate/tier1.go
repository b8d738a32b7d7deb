package aggregate

import (
	"fmt"
	"sort"
	"strings"
)

// Tier1 attempts to render the whole pipeline as one SQL SELECT, per
// spec.md §4.7's pattern table. ok is false if the kill switch is set or
// any stage (or combination) isn't one of the recognised templates, in
// which case the caller tries Tier2.
func (x *Executor) Tier1(stages []Stage) (sql string, params []any, ok bool) {
	if x.skipTiers() || len(stages) == 0 {
		return "", nil, false
	}

	from := "[" + x.Table + "]"
	selectCols := "id, data"
	var wheres []string
	var joins []string
	var orderBy string
	var limit, offset int
	haveLimit, haveOffset := false, false
	var groupBy string

	i := 0
	for i < len(stages) {
		s := stages[i]
		switch s.Op {
		case "$match":
			filter, isMap := s.Arg.(map[string]any)
			if !isMap {
				return "", nil, false
			}
			w, p, matchOK := x.Query.BuildWhere(filter)
			if !matchOK {
				return "", nil, false
			}
			if w != "" {
				wheres = append(wheres, w)
				params = append(params, p...)
			}
			i++

		case "$sort":
			spec, isMap := s.Arg.(map[string]any)
			if !isMap || orderBy != "" {
				return "", nil, false
			}
			clause, sortOK := x.sortClause(spec)
			if !sortOK {
				return "", nil, false
			}
			orderBy = clause
			i++

		case "$skip":
			n, numOK := asInt(s.Arg)
			if !numOK || haveOffset {
				return "", nil, false
			}
			offset, haveOffset = n, true
			i++

		case "$limit":
			n, numOK := asInt(s.Arg)
			if !numOK || haveLimit {
				return "", nil, false
			}
			limit, haveLimit = n, true
			i++

		case "$unwind":
			alias := fmt.Sprintf("je%d", len(joins))
			join, patchedData, unwoundPath, unwindOK := x.unwindJoin(s.Arg, alias, "data")
			if !unwindOK {
				return "", nil, false
			}
			joins = append(joins, join)
			selectCols = "id, " + patchedData + " AS data"

			// $unwind immediately followed by $group on the unwound value
			// (or a sibling field) collapses into one GROUP BY query.
			if i+1 < len(stages) && stages[i+1].Op == "$group" {
				groupSpec, gOK := stages[i+1].Arg.(map[string]any)
				if !gOK {
					return "", nil, false
				}
				groupSQL, groupParams, groupOK := x.groupClause(groupSpec, unwoundPath, alias)
				if !groupOK {
					return "", nil, false
				}
				selectCols = groupSQL
				params = append(params, groupParams...)
				groupBy = "1" // $group._id is always column 1 in groupClause's emitted SELECT
				i += 2
				continue
			}
			i++

		default:
			return "", nil, false
		}
	}

	query := "SELECT " + selectCols + " FROM " + from
	for _, j := range joins {
		query += ", " + j
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	if groupBy != "" {
		query += " GROUP BY " + groupBy
	}
	if orderBy != "" {
		query += " ORDER BY " + orderBy
	}
	if haveLimit {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	if haveOffset {
		if !haveLimit {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", offset)
	}

	return query, params, true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// sortClause renders a $sort spec ({field: 1|-1, ...}) as an ORDER BY
// body over json_extract expressions, in deterministic (sorted-key)
// field order since map iteration order is not guaranteed.
func (x *Executor) sortClause(spec map[string]any) (string, bool) {
	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		dir, ok := asInt(spec[k])
		if !ok {
			return "", false
		}
		ordering := "ASC"
		if dir < 0 {
			ordering = "DESC"
		}
		parts = append(parts, x.Accessor.Field(k)+" "+ordering)
	}
	return strings.Join(parts, ", "), true
}

// unwindJoin builds the `, json_each(...) alias` clause for a $unwind
// stage and the SQL expression patching the unwound element (and, when
// requested, its array index) back into dataExpr, per spec.md §4.7.
// arg is either a bare "$path" string or a
// {path, includeArrayIndex?, preserveNullAndEmptyArrays?} document.
// The returned path is the unwound field's dotted path (without the
// leading "$"); callers fusing a following $group stage need it so
// accumulator/_id field references can tell "the unwound value itself"
// apart from a sibling field read off the original document.
func (x *Executor) unwindJoin(arg any, alias, dataExpr string) (join string, patchedData string, path string, ok bool) {
	var indexField string
	preserveNull := false

	switch v := arg.(type) {
	case string:
		path = strings.TrimPrefix(v, "$")
	case map[string]any:
		p, isStr := v["path"].(string)
		if !isStr {
			return "", "", "", false
		}
		path = strings.TrimPrefix(p, "$")
		indexField, _ = v["includeArrayIndex"].(string)
		preserveNull, _ = v["preserveNullAndEmptyArrays"].(bool)
	default:
		return "", "", "", false
	}

	arrExpr := "json_extract(" + dataExpr + "," + pathLiteral(path) + ")"
	pathLit := pathLiteral(path)

	if !preserveNull {
		join = "json_each(" + arrExpr + ") " + alias
	} else {
		// Emulate a LEFT JOIN: when the field is null, [], or a bare
		// scalar, feed json_each a synthetic single-null-element array
		// so exactly one row survives with a null value — but only when
		// the field is present at all. json_extract returns SQL NULL for
		// both an absent path and a present-but-JSON-null value, so
		// json_type (which returns SQL NULL only for the absent case) is
		// the gate distinguishing them: an absent field feeds json_each
		// an empty array, producing zero rows, same as a real unwind of
		// a missing array (tier3.go's unwindDocs mirrors this with its
		// own `present` check).
		join = "json_each(CASE " +
			"WHEN json_type(" + dataExpr + "," + pathLit + ") IS NULL THEN json('[]') " +
			"WHEN " + arrExpr + " IS NULL THEN json('[null]') " +
			"WHEN json_array_length(" + arrExpr + ") = 0 THEN json('[null]') " +
			"ELSE " + arrExpr + " END) " + alias
	}

	patched := "json_set(" + dataExpr + "," + pathLit + "," + alias + ".value)"
	if indexField != "" {
		// A synthesized preserve-null row has no real index (tier3.go's
		// patchUnwound sets it to Null in that case); only a genuine,
		// non-empty array element gets its json_each key as the index.
		indexExpr := "CASE WHEN json_type(" + dataExpr + "," + pathLit + ") = 'array' " +
			"AND json_array_length(" + arrExpr + ") > 0 THEN " + alias + ".key ELSE NULL END"
		patched = "json_set(" + patched + "," + pathLiteral(indexField) + "," + indexExpr + ")"
	}

	return join, patched, path, true
}

func pathLiteral(path string) string {
	var b strings.Builder
	b.WriteString("'$")
	for _, seg := range strings.Split(path, ".") {
		b.WriteString(`."`)
		b.WriteString(strings.ReplaceAll(seg, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\'')
	return b.String()
}

// groupClause renders a $group stage as a SELECT list of accumulator
// expressions, for both the $unwind+$group fusion Tier-1 supports and
// Tier-2's standalone $group stage, per spec.md §4.7's accumulator
// list. unwoundPath is the dotted path most recently unwound into
// alias ("" when this $group isn't immediately fused to a $unwind),
// letting field references tell "the unwound value itself" apart from
// a sibling field read off the data column.
func (x *Executor) groupClause(spec map[string]any, unwoundPath, alias string) (string, []any, bool) {
	idSQL, idOK := x.groupIDExpr(spec["_id"], unwoundPath, alias)
	if !idOK {
		return "", nil, false
	}

	cols := []string{idSQL + " AS id"}
	var params []any

	keys := make([]string, 0, len(spec))
	for k := range spec {
		if k != "_id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, field := range keys {
		accSpec, isMap := spec[field].(map[string]any)
		if !isMap || len(accSpec) != 1 {
			return "", nil, false
		}
		for acc, accArg := range accSpec {
			col, accOK := x.accumulatorSQL(acc, accArg, alias, unwoundPath)
			if !accOK {
				return "", nil, false
			}
			cols = append(cols, col+" AS \""+field+"\"")
		}
	}

	return strings.Join(cols, ", "), params, true
}

// groupIDExpr renders $group._id: either a bare field reference
// ("$field") or null (single-bucket grouping). Anything more complex
// (an expression document) is beyond Tier-1's template and declines.
func (x *Executor) groupIDExpr(idExpr any, unwoundPath, alias string) (string, bool) {
	switch v := idExpr.(type) {
	case nil:
		return "NULL", true
	case string:
		if !strings.HasPrefix(v, "$") {
			return "", false
		}
		return x.resolveFusedFieldExpr(strings.TrimPrefix(v, "$"), unwoundPath, alias), true
	default:
		return "", false
	}
}

// resolveFusedFieldExpr resolves a bare field path (without a leading
// "$") to a SQL expression inside a $group that may immediately follow
// a $unwind in the same query. A reference to the unwound path itself,
// or a sub-path under it, reads the joined alias's current element
// (json_each's "value" column); anything else is a sibling field read
// from the data column, same as tier3.go's accumulateHost evaluating
// field expressions against the already-unwound document.
func (x *Executor) resolveFusedFieldExpr(field, unwoundPath, alias string) string {
	switch {
	case field == unwoundPath:
		return alias + ".value"
	case unwoundPath != "" && strings.HasPrefix(field, unwoundPath+"."):
		sub := strings.TrimPrefix(field, unwoundPath+".")
		return "json_extract(" + alias + ".value," + pathLiteral(sub) + ")"
	default:
		return x.Accessor.Field(field)
	}
}

func (x *Executor) accumulatorSQL(acc string, arg any, alias, unwoundPath string) (string, bool) {
	operand, isField := arg.(string)
	fieldExpr := alias + ".value"
	if isField && strings.HasPrefix(operand, "$") {
		fieldExpr = x.resolveFusedFieldExpr(strings.TrimPrefix(operand, "$"), unwoundPath, alias)
	}

	switch acc {
	case "$sum":
		if n, numeric := asInt(arg); numeric && n == 1 {
			return "COUNT(*)", true
		}
		return "SUM(" + fieldExpr + ")", true
	case "$count":
		return "COUNT(*)", true
	case "$avg":
		return "AVG(" + fieldExpr + ")", true
	case "$min":
		return "MIN(" + fieldExpr + ")", true
	case "$max":
		return "MAX(" + fieldExpr + ")", true
	case "$push":
		return "json_group_array(" + fieldExpr + ")", true
	case "$addToSet":
		return "json_group_array(DISTINCT " + fieldExpr + ")", true
	default:
		return "", false
	}
}
