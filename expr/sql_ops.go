package expr

import (
	"fmt"
	"strings"
)

func (e Evaluator) sqlNaryInfix(arg any, op string) (string, []any, bool) {
	sqls, params, ok := e.sqlMany(arg)
	if !ok || len(sqls) == 0 {
		return "", nil, false
	}
	return "(" + strings.Join(sqls, " "+op+" ") + ")", params, true
}

func (e Evaluator) sqlBinaryInfix(arg any, op string) (string, []any, bool) {
	a := args(arg)
	if len(a) != 2 {
		return "", nil, false
	}
	leftSQL, leftParams, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	rightSQL, rightParams, ok := e.ToSQL(a[1])
	if !ok {
		return "", nil, false
	}
	params := append(leftParams, rightParams...)
	return "(" + leftSQL + " " + op + " " + rightSQL + ")", params, true
}

func (e Evaluator) sqlBinaryFunc(arg any, fn string) (string, []any, bool) {
	a := args(arg)
	if len(a) != 2 {
		return "", nil, false
	}
	leftSQL, leftParams, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	rightSQL, rightParams, ok := e.ToSQL(a[1])
	if !ok {
		return "", nil, false
	}
	params := append(leftParams, rightParams...)
	return fn + "(" + leftSQL + "," + rightSQL + ")", params, true
}

func (e Evaluator) sqlDivide(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 2 {
		return "", nil, false
	}
	leftSQL, leftParams, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	rightSQL, rightParams, ok := e.ToSQL(a[1])
	if !ok {
		return "", nil, false
	}
	params := append(leftParams, rightParams...)
	return "(CAST(" + leftSQL + " AS REAL) / " + rightSQL + ")", params, true
}

func (e Evaluator) sqlUnaryFunc(arg any, fn string) (string, []any, bool) {
	a := args(arg)
	if len(a) != 1 {
		return "", nil, false
	}
	sql, params, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	return fn + "(" + sql + ")", params, true
}

func (e Evaluator) sqlRound(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) == 1 {
		sql, params, ok := e.ToSQL(a[0])
		if !ok {
			return "", nil, false
		}
		return "round(" + sql + ")", params, true
	}
	if len(a) == 2 {
		return e.sqlBinaryFunc(arg, "round")
	}
	return "", nil, false
}

func (e Evaluator) sqlLog(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 2 {
		return "", nil, false
	}
	// Mongo's $log takes [number, base]; SQLite's log(B,X) takes base
	// first, so the argument order is swapped in the emitted call.
	numSQL, numParams, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	baseSQL, baseParams, ok := e.ToSQL(a[1])
	if !ok {
		return "", nil, false
	}
	params := append(baseParams, numParams...)
	return "log(" + baseSQL + "," + numSQL + ")", params, true
}

func (e Evaluator) sqlCmp(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 2 {
		return "", nil, false
	}
	leftSQL, leftParams, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	rightSQL, rightParams, ok := e.ToSQL(a[1])
	if !ok {
		return "", nil, false
	}
	params := append(append(append([]any{}, leftParams...), rightParams...), leftParams...)
	params = append(params, rightParams...)
	return fmt.Sprintf("(CASE WHEN %s < %s THEN -1 WHEN %s > %s THEN 1 ELSE 0 END)",
		leftSQL, rightSQL, leftSQL, rightSQL), params, true
}

func (e Evaluator) sqlCond(arg any) (string, []any, bool) {
	var ifExpr, thenExpr, elseExpr any
	switch v := arg.(type) {
	case []any:
		if len(v) != 3 {
			return "", nil, false
		}
		ifExpr, thenExpr, elseExpr = v[0], v[1], v[2]
	case map[string]any:
		var ok bool
		if ifExpr, ok = v["if"]; !ok {
			return "", nil, false
		}
		if thenExpr, ok = v["then"]; !ok {
			return "", nil, false
		}
		if elseExpr, ok = v["else"]; !ok {
			return "", nil, false
		}
	default:
		return "", nil, false
	}

	condSQL, condParams, ok := e.ToBoolSQL(ifExpr)
	if !ok {
		return "", nil, false
	}
	thenSQL, thenParams, ok := e.ToSQL(thenExpr)
	if !ok {
		return "", nil, false
	}
	elseSQL, elseParams, ok := e.ToSQL(elseExpr)
	if !ok {
		return "", nil, false
	}
	params := append(append(append([]any{}, condParams...), thenParams...), elseParams...)
	return "(CASE WHEN " + condSQL + " THEN " + thenSQL + " ELSE " + elseSQL + " END)", params, true
}

func (e Evaluator) sqlIfNull(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) < 2 {
		return "", nil, false
	}
	sqls, params, ok := e.sqlMany(arg)
	if !ok {
		return "", nil, false
	}
	return "coalesce(" + strings.Join(sqls, ",") + ")", params, true
}

func (e Evaluator) sqlSwitch(arg any) (string, []any, bool) {
	m, ok := arg.(map[string]any)
	if !ok {
		return "", nil, false
	}
	branches, ok := m["branches"].([]any)
	if !ok || len(branches) == 0 {
		return "", nil, false
	}

	var sb strings.Builder
	var params []any
	sb.WriteString("(CASE")
	for _, b := range branches {
		branch, ok := b.(map[string]any)
		if !ok {
			return "", nil, false
		}
		caseSQL, caseParams, ok := e.ToBoolSQL(branch["case"])
		if !ok {
			return "", nil, false
		}
		thenSQL, thenParams, ok := e.ToSQL(branch["then"])
		if !ok {
			return "", nil, false
		}
		sb.WriteString(" WHEN " + caseSQL + " THEN " + thenSQL)
		params = append(params, caseParams...)
		params = append(params, thenParams...)
	}
	if def, hasDefault := m["default"]; hasDefault {
		defSQL, defParams, ok := e.ToSQL(def)
		if !ok {
			return "", nil, false
		}
		sb.WriteString(" ELSE " + defSQL)
		params = append(params, defParams...)
	}
	sb.WriteString(" END)")
	return sb.String(), params, true
}

func (e Evaluator) sqlConcat(arg any) (string, []any, bool) {
	sqls, params, ok := e.sqlMany(arg)
	if !ok || len(sqls) == 0 {
		return "", nil, false
	}
	return "(" + strings.Join(sqls, " || ") + ")", params, true
}

func (e Evaluator) sqlSubstr(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 3 {
		return "", nil, false
	}
	strSQL, strParams, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	startSQL, startParams, ok := e.ToSQL(a[1])
	if !ok {
		return "", nil, false
	}
	lenSQL, lenParams, ok := e.ToSQL(a[2])
	if !ok {
		return "", nil, false
	}
	params := append(append(append([]any{}, strParams...), startParams...), lenParams...)
	return "substr(" + strSQL + "," + startSQL + " + 1," + lenSQL + ")", params, true
}

func (e Evaluator) sqlStrLen(arg any) (string, []any, bool) {
	return e.sqlUnaryFunc(arg, "length")
}

func (e Evaluator) sqlStrLenBytes(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 1 {
		return "", nil, false
	}
	sql, params, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	return "length(CAST(" + sql + " AS BLOB))", params, true
}

func (e Evaluator) sqlTrimFn(arg any, fn string) (string, []any, bool) {
	m, isMap := arg.(map[string]any)
	if isMap {
		input, ok := m["input"]
		if !ok {
			return "", nil, false
		}
		inputSQL, inputParams, ok := e.ToSQL(input)
		if !ok {
			return "", nil, false
		}
		if chars, hasChars := m["chars"]; hasChars {
			charsSQL, charsParams, ok := e.ToSQL(chars)
			if !ok {
				return "", nil, false
			}
			params := append(inputParams, charsParams...)
			return fn + "(" + inputSQL + "," + charsSQL + ")", params, true
		}
		return fn + "(" + inputSQL + ")", inputParams, true
	}
	return e.sqlUnaryFunc(arg, fn)
}

func (e Evaluator) sqlReplace(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 3 {
		return "", nil, false
	}
	strSQL, strParams, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	oldSQL, oldParams, ok := e.ToSQL(a[1])
	if !ok {
		return "", nil, false
	}
	newSQL, newParams, ok := e.ToSQL(a[2])
	if !ok {
		return "", nil, false
	}
	params := append(append(append([]any{}, strParams...), oldParams...), newParams...)
	return "replace(" + strSQL + "," + oldSQL + "," + newSQL + ")", params, true
}

func (e Evaluator) sqlRegexMatch(arg any) (string, []any, bool) {
	if !e.RegexpEnabled {
		return "", nil, false
	}
	m, ok := arg.(map[string]any)
	if !ok {
		return "", nil, false
	}
	input, hasInput := m["input"]
	pattern, hasPattern := m["regex"]
	if !hasInput || !hasPattern {
		return "", nil, false
	}
	inputSQL, inputParams, ok := e.ToSQL(input)
	if !ok {
		return "", nil, false
	}
	patternSQL, patternParams, ok := e.ToSQL(pattern)
	if !ok {
		return "", nil, false
	}
	params := append(inputParams, patternParams...)
	return "(" + inputSQL + " REGEXP " + patternSQL + ")", params, true
}

func (e Evaluator) sqlIndexOfCP(arg any) (string, []any, bool) {
	a := args(arg)
	if len(a) != 2 {
		return "", nil, false
	}
	strSQL, strParams, ok := e.ToSQL(a[0])
	if !ok {
		return "", nil, false
	}
	subSQL, subParams, ok := e.ToSQL(a[1])
	if !ok {
		return "", nil, false
	}
	params := append(strParams, subParams...)
	return "(instr(" + strSQL + "," + subSQL + ") - 1)", params, true
}
