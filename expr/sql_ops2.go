package expr

import "strings"

// datePartFormats maps the Mongo date-part operator to the strftime
// format code producing it; dayOfWeek is shifted below since strftime's
// %w is 0=Sunday but Mongo's $dayOfWeek is 1=Sunday.
var datePartFormats = map[string]string{
	"$year": "%Y", "$month": "%m", "$dayOfMonth": "%d",
	"$hour": "%H", "$minute": "%M", "$second": "%S",
}

func (e Evaluator) sqlDatePart(op string, arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 1 {
		return "", nil, false
	}
	sql, params, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	if op == "$dayOfWeek" {
		return "(CAST(strftime('%w'," + sql + ") AS INTEGER) + 1)", params, true
	}
	format, known := datePartFormats[op]
	if !known {
		return "", nil, false
	}
	return "CAST(strftime('" + format + "'," + sql + ") AS INTEGER)", params, true
}

func (e Evaluator) sqlDateToString(arg any) (string, []any, bool) {
	m, ok := arg.(map[string]any)
	if !ok {
		return "", nil, false
	}
	date, hasDate := m["date"]
	if !hasDate {
		return "", nil, false
	}
	dateSQL, dateParams, ok := e.ToSQL(date)
	if !ok {
		return "", nil, false
	}
	format, _ := m["format"].(string)
	if format == "" {
		format = "%Y-%m-%dT%H:%M:%S"
	}
	strftimeFormat := translateDateFormat(format)
	return "strftime('" + strftimeFormat + "'," + dateSQL + ")", dateParams, true
}

// translateDateFormat maps Mongo's %Y/%m/%d/%H/%M/%S-style format
// specifiers onto SQLite's strftime, which happens to use the same
// codes for every one spec.md §4.4 requires.
func translateDateFormat(format string) string {
	return strings.ReplaceAll(format, "'", "''")
}

func (e Evaluator) sqlDateFromString(arg any) (string, []any, bool) {
	m, ok := arg.(map[string]any)
	if !ok {
		return e.sqlUnaryFunc(arg, "datetime")
	}
	dateString, hasString := m["dateString"]
	if !hasString {
		return "", nil, false
	}
	sql, params, ok := e.ToSQL(dateString)
	if !ok {
		return "", nil, false
	}
	return "datetime(" + sql + ")", params, true
}

func (e Evaluator) sqlArraySize(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 1 {
		return "", nil, false
	}
	sql, params, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	return "json_array_length(" + sql + ")", params, true
}

func (e Evaluator) sqlArrayElemAt(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 2 {
		return "", nil, false
	}
	arrSQL, arrParams, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	// Negative indices and non-literal indices need host-side array
	// length knowledge SQLite's json_extract can't provide in one shot.
	idx, isInt := a[1].(int)
	idxFloat, isFloat := a[1].(float64)
	if isFloat {
		idx = int(idxFloat)
		isInt = true
	}
	if !isInt || idx < 0 {
		return "", nil, false
	}
	return "json_extract(" + arrSQL + ",'$[" + itoa(idx) + "]')", arrParams, true
}

func (e Evaluator) sqlIsArray(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 1 {
		return "", nil, false
	}
	sql, params, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	return "(json_type(" + sql + ") = 'array')", params, true
}

func (e Evaluator) sqlArrayIn(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 2 {
		return "", nil, false
	}
	needleSQL, needleParams, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	arrSQL, arrParams, ok := e.ToSQL(a[1])
	if !ok {
		return "", nil, false
	}
	params := append(needleParams, arrParams...)
	return "(" + needleSQL + " IN (SELECT value FROM json_each(" + arrSQL + ")))", params, true
}

func (e Evaluator) sqlReverseArray(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 1 {
		return "", nil, false
	}
	sql, params, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	return "(SELECT json_group_array(value) FROM (SELECT value FROM json_each(" + sql + ") ORDER BY key DESC))", params, true
}

func (e Evaluator) sqlAnyElementTrue(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 1 {
		return "", nil, false
	}
	sql, params, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	return "EXISTS (SELECT 1 FROM json_each(" + sql + ") WHERE value IS NOT NULL AND value != 0)", params, true
}

func (e Evaluator) sqlAllElementsTrue(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 1 {
		return "", nil, false
	}
	sql, params, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	return "NOT EXISTS (SELECT 1 FROM json_each(" + sql + ") WHERE value IS NULL OR value = 0)", params, true
}

func (e Evaluator) sqlCastSQL(arg any, sqlType string) (string, []any, bool) {
	a := args(arg)
	if len(a) != 1 {
		return "", nil, false
	}
	sql, params, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	return "CAST(" + sql + " AS " + sqlType + ")", params, true
}

func (e Evaluator) sqlToBool(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 1 {
		return "", nil, false
	}
	sql, params, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	allParams := make([]any, 0, len(params)*2)
	allParams = append(allParams, params...)
	allParams = append(allParams, params...)
	return "(CASE WHEN " + sql + " IS NULL THEN 0 WHEN " + sql + " = 0 THEN 0 ELSE 1 END)", allParams, true
}

func (e Evaluator) sqlToDate(arg any) (string, []any, bool) {
	return e.sqlUnaryFunc(arg, "datetime")
}

func (e Evaluator) sqlType(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 1 {
		return "", nil, false
	}
	sql, params, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	return "json_type(" + sql + ")", params, true
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
