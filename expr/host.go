package expr

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/neosqlitego/neosqlite/docval"
)

// Vars binds the aggregation variables visible to a host evaluation:
// $$ROOT is fixed for the whole pipeline stage, $$CURRENT tracks the
// innermost document (they coincide except inside $map/$filter, which
// this evaluator does not special-case further since spec.md scopes
// expression evaluation to $project/$addFields/$group/$expr contexts).
type Vars struct {
	Root    docval.Value
	Current docval.Value
}

// Eval is the host-evaluation back-end (evaluate_expr_python): same
// semantics as ToSQL, used by Tier-3 and by operators with no SQL
// analogue. Returns (value, ok); ok is false for malformed shapes
// (arity mismatches), operand types an operator does not accept, and
// failed conversions or parses — unlike ToSQL, the
// host side has no "fall back further" tier, so Eval tries hard to
// produce *something* (e.g. missing fields evaluate to docval.Null{}).
func (e Evaluator) Eval(expression any, vars Vars) (docval.Value, bool) {
	switch v := expression.(type) {
	case nil:
		return docval.Null{}, true
	case literalBox:
		return v.v, true
	case string:
		return e.evalFieldOrVar(v, vars)
	case map[string]any:
		return e.evalOperator(v, vars)
	case []any:
		arr := make(docval.Array, len(v))
		for i, item := range v {
			val, ok := e.Eval(item, vars)
			if !ok {
				return nil, false
			}
			arr[i] = val
		}
		return arr, true
	case int:
		return docval.Int64(v), true
	case int64:
		return docval.Int64(v), true
	case float64:
		return docval.Float64(v), true
	case bool:
		return docval.Bool(v), true
	default:
		return docval.FromAny(v), true
	}
}

func (e Evaluator) evalFieldOrVar(s string, vars Vars) (docval.Value, bool) {
	switch s {
	case "$$ROOT":
		return vars.Root, true
	case "$$CURRENT":
		return vars.Current, true
	case "$$REMOVE":
		return docval.Remove{}, true
	}
	if !strings.HasPrefix(s, "$") {
		return docval.String(s), true
	}
	if strings.HasPrefix(s, "$$") {
		return docval.Null{}, true
	}
	path := strings.TrimPrefix(s, "$")
	val, ok := docval.GetPath(vars.Current, path)
	if !ok {
		return docval.Null{}, true
	}
	return val, true
}

func (e Evaluator) evalOperator(m map[string]any, vars Vars) (docval.Value, bool) {
	for k := range m {
		if strings.HasPrefix(k, "$") && len(m) == 1 {
			return e.evalDispatch(k, m[k], vars)
		}
	}
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	obj := make(docval.Object, len(m))
	for k, v := range m {
		val, ok := e.Eval(v, vars)
		if !ok {
			return nil, false
		}
		obj[k] = val
	}
	return obj, true
}

func (e Evaluator) evalMany(arg any, vars Vars) ([]docval.Value, bool) {
	a := args(arg)
	out := make([]docval.Value, len(a))
	for i, item := range a {
		val, ok := e.Eval(item, vars)
		if !ok {
			return nil, false
		}
		out[i] = val
	}
	return out, true
}

func (e Evaluator) evalNumbers(arg any, vars Vars) ([]float64, bool) {
	vals, ok := e.evalMany(arg, vars)
	if !ok {
		return nil, false
	}
	nums := make([]float64, len(vals))
	for i, v := range vals {
		n, ok := docval.ToFloat64(v)
		if !ok {
			return nil, false
		}
		nums[i] = n
	}
	return nums, true
}

func (e Evaluator) evalDispatch(op string, arg any, vars Vars) (docval.Value, bool) {
	switch op {
	case "$add":
		nums, ok := e.evalNumbers(arg, vars)
		if !ok {
			return nil, false
		}
		sum := 0.0
		for _, n := range nums {
			sum += n
		}
		return docval.Float64(sum), true
	case "$multiply":
		nums, ok := e.evalNumbers(arg, vars)
		if !ok {
			return nil, false
		}
		prod := 1.0
		for _, n := range nums {
			prod *= n
		}
		return docval.Float64(prod), true
	case "$subtract":
		return e.evalBinaryMath(arg, vars, func(a, b float64) float64 { return a - b })
	case "$divide":
		return e.evalBinaryMath(arg, vars, func(a, b float64) float64 { return a / b })
	case "$mod":
		return e.evalBinaryMath(arg, vars, math.Mod)
	case "$abs":
		return e.evalUnaryMath(arg, vars, math.Abs)
	case "$ceil":
		return e.evalUnaryMath(arg, vars, math.Ceil)
	case "$floor":
		return e.evalUnaryMath(arg, vars, math.Floor)
	case "$sqrt":
		return e.evalUnaryMath(arg, vars, math.Sqrt)
	case "$exp":
		return e.evalUnaryMath(arg, vars, math.Exp)
	case "$ln":
		return e.evalUnaryMath(arg, vars, math.Log)
	case "$log10":
		return e.evalUnaryMath(arg, vars, math.Log10)
	case "$pow":
		return e.evalBinaryMath(arg, vars, math.Pow)
	case "$round":
		return e.evalRound(arg, vars)
	case "$log":
		return e.evalBinaryMath(arg, vars, func(num, base float64) float64 { return math.Log(num) / math.Log(base) })
	case "$sin":
		return e.evalUnaryMath(arg, vars, math.Sin)
	case "$cos":
		return e.evalUnaryMath(arg, vars, math.Cos)
	case "$tan":
		return e.evalUnaryMath(arg, vars, math.Tan)
	case "$asin":
		return e.evalUnaryMath(arg, vars, math.Asin)
	case "$acos":
		return e.evalUnaryMath(arg, vars, math.Acos)
	case "$atan":
		return e.evalUnaryMath(arg, vars, math.Atan)
	case "$atan2":
		return e.evalBinaryMath(arg, vars, math.Atan2)
	case "$sinh":
		return e.evalUnaryMath(arg, vars, math.Sinh)
	case "$cosh":
		return e.evalUnaryMath(arg, vars, math.Cosh)
	case "$tanh":
		return e.evalUnaryMath(arg, vars, math.Tanh)
	case "$radiansToDegrees":
		return e.evalUnaryMath(arg, vars, func(r float64) float64 { return r * 180 / math.Pi })
	case "$degreesToRadians":
		return e.evalUnaryMath(arg, vars, func(d float64) float64 { return d * math.Pi / 180 })

	case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
		return e.evalCompare(op, arg, vars)
	case "$cmp":
		return e.evalCmp(arg, vars)

	case "$cond":
		return e.evalCond(arg, vars)
	case "$ifNull":
		return e.evalIfNull(arg, vars)
	case "$switch":
		return e.evalSwitch(arg, vars)

	case "$concat":
		return e.evalConcat(arg, vars)
	case "$toUpper":
		return e.evalStringFunc(arg, vars, strings.ToUpper)
	case "$toLower":
		return e.evalStringFunc(arg, vars, strings.ToLower)
	case "$split":
		return e.evalSplit(arg, vars)
	case "$trim":
		return e.evalStringFunc(arg, vars, strings.TrimSpace)
	case "$ltrim":
		return e.evalStringFunc(arg, vars, func(s string) string { return strings.TrimLeft(s, " \t\n\r") })
	case "$rtrim":
		return e.evalStringFunc(arg, vars, func(s string) string { return strings.TrimRight(s, " \t\n\r") })
	case "$strLenCP":
		return e.evalStrLen(arg, vars, false)
	case "$strLenBytes":
		return e.evalStrLen(arg, vars, true)
	case "$substr", "$substrCP":
		return e.evalSubstr(arg, vars)
	case "$indexOfCP":
		return e.evalIndexOfCP(arg, vars)
	case "$replaceOne":
		return e.evalReplaceOne(arg, vars)
	case "$replaceAll":
		return e.evalReplaceAll(arg, vars)
	case "$regexMatch":
		return e.evalRegexMatch(arg, vars)

	case "$year", "$month", "$dayOfMonth", "$hour", "$minute", "$second", "$dayOfWeek":
		return e.evalDatePart(op, arg, vars)
	case "$dateToString":
		return e.evalDateToString(arg, vars)
	case "$dateFromString":
		return e.evalDateFromString(arg, vars)

	case "$size":
		return e.evalArraySize(arg, vars)
	case "$arrayElemAt":
		return e.evalArrayElemAt(arg, vars)
	case "$concatArrays":
		return e.evalConcatArrays(arg, vars)
	case "$slice":
		return e.evalSlice(arg, vars)
	case "$isArray":
		return e.evalIsArray(arg, vars)
	case "$in":
		return e.evalIn(arg, vars)
	case "$reverseArray":
		return e.evalReverseArray(arg, vars)

	case "$setEquals", "$setIntersection", "$setUnion", "$setDifference", "$setIsSubset":
		return e.evalSetOp(op, arg, vars)
	case "$anyElementTrue":
		return e.evalAnyAllElementTrue(arg, vars, true)
	case "$allElementsTrue":
		return e.evalAnyAllElementTrue(arg, vars, false)

	case "$toInt", "$toLong":
		return e.evalToInt(arg, vars)
	case "$toDouble":
		return e.evalToDouble(arg, vars)
	case "$toBool":
		return e.evalToBool(arg, vars)
	case "$toString":
		return e.evalToString(arg, vars)
	case "$toDate":
		return e.evalToDate(arg, vars)
	case "$toObjectId":
		return e.evalToObjectId(arg, vars)
	case "$toDecimal":
		return e.evalToDecimal(arg, vars)
	case "$type":
		return e.evalType(arg, vars)
	case "$convert":
		return e.evalConvert(arg, vars)

	default:
		return nil, false
	}
}

func (e Evaluator) evalUnaryMath(arg any, vars Vars, fn func(float64) float64) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	n, ok := docval.ToFloat64(val)
	if !ok {
		return nil, false
	}
	return docval.Float64(fn(n)), true
}

func (e Evaluator) evalBinaryMath(arg any, vars Vars, fn func(a, b float64) float64) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 2 {
		return nil, false
	}
	left, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	right, ok := e.Eval(a[1], vars)
	if !ok {
		return nil, false
	}
	l, ok := docval.ToFloat64(left)
	if !ok {
		return nil, false
	}
	r, ok := docval.ToFloat64(right)
	if !ok {
		return nil, false
	}
	return docval.Float64(fn(l, r)), true
}

func (e Evaluator) evalRound(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) < 1 || len(a) > 2 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	n, ok := docval.ToFloat64(val)
	if !ok {
		return nil, false
	}
	place := 0
	if len(a) == 2 {
		pv, ok := e.Eval(a[1], vars)
		if !ok {
			return nil, false
		}
		pi, ok := docval.ToInt64(pv)
		if !ok {
			return nil, false
		}
		place = int(pi)
	}
	mult := math.Pow(10, float64(place))
	return docval.Float64(math.Round(n*mult) / mult), true
}

func compareValues(a, b docval.Value) (int, bool) {
	af, aok := docval.ToFloat64(a)
	bf, bok := docval.ToFloat64(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aIsStr := a.(docval.String)
	bs, bIsStr := b.(docval.String)
	if aIsStr && bIsStr {
		return strings.Compare(string(as), string(bs)), true
	}
	ad, aIsDate := a.(docval.Datetime)
	bd, bIsDate := b.(docval.Datetime)
	if aIsDate && bIsDate {
		ta, tb := time.Time(ad), time.Time(bd)
		switch {
		case ta.Before(tb):
			return -1, true
		case ta.After(tb):
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func (e Evaluator) evalCompare(op string, arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 2 {
		return nil, false
	}
	left, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	right, ok := e.Eval(a[1], vars)
	if !ok {
		return nil, false
	}
	cmp, ok := compareValues(left, right)
	if !ok {
		return nil, false
	}
	switch op {
	case "$eq":
		return docval.Bool(cmp == 0), true
	case "$ne":
		return docval.Bool(cmp != 0), true
	case "$gt":
		return docval.Bool(cmp > 0), true
	case "$gte":
		return docval.Bool(cmp >= 0), true
	case "$lt":
		return docval.Bool(cmp < 0), true
	case "$lte":
		return docval.Bool(cmp <= 0), true
	}
	return nil, false
}

func (e Evaluator) evalCmp(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 2 {
		return nil, false
	}
	left, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	right, ok := e.Eval(a[1], vars)
	if !ok {
		return nil, false
	}
	cmp, ok := compareValues(left, right)
	if !ok {
		return nil, false
	}
	return docval.Int64(cmp), true
}

func (e Evaluator) evalCond(arg any, vars Vars) (docval.Value, bool) {
	var ifExpr, thenExpr, elseExpr any
	switch v := arg.(type) {
	case []any:
		if len(v) != 3 {
			return nil, false
		}
		ifExpr, thenExpr, elseExpr = v[0], v[1], v[2]
	case map[string]any:
		var ok bool
		if ifExpr, ok = v["if"]; !ok {
			return nil, false
		}
		if thenExpr, ok = v["then"]; !ok {
			return nil, false
		}
		if elseExpr, ok = v["else"]; !ok {
			return nil, false
		}
	default:
		return nil, false
	}
	cond, ok := e.Eval(ifExpr, vars)
	if !ok {
		return nil, false
	}
	if docval.Truthy(cond) {
		return e.Eval(thenExpr, vars)
	}
	return e.Eval(elseExpr, vars)
}

func (e Evaluator) evalIfNull(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) < 2 {
		return nil, false
	}
	for _, item := range a[:len(a)-1] {
		val, ok := e.Eval(item, vars)
		if !ok {
			return nil, false
		}
		if _, isNull := val.(docval.Null); !isNull && val != nil {
			return val, true
		}
	}
	return e.Eval(a[len(a)-1], vars)
}

func (e Evaluator) evalSwitch(arg any, vars Vars) (docval.Value, bool) {
	m, ok := arg.(map[string]any)
	if !ok {
		return nil, false
	}
	branches, ok := m["branches"].([]any)
	if !ok {
		return nil, false
	}
	for _, b := range branches {
		branch, ok := b.(map[string]any)
		if !ok {
			return nil, false
		}
		caseVal, ok := e.Eval(branch["case"], vars)
		if !ok {
			return nil, false
		}
		if docval.Truthy(caseVal) {
			return e.Eval(branch["then"], vars)
		}
	}
	if def, hasDefault := m["default"]; hasDefault {
		return e.Eval(def, vars)
	}
	return nil, false
}

func (e Evaluator) evalConcat(arg any, vars Vars) (docval.Value, bool) {
	vals, ok := e.evalMany(arg, vars)
	if !ok {
		return nil, false
	}
	var sb strings.Builder
	for _, v := range vals {
		s, ok := v.(docval.String)
		if !ok {
			return nil, false
		}
		sb.WriteString(string(s))
	}
	return docval.String(sb.String()), true
}

func (e Evaluator) evalStringFunc(arg any, vars Vars, fn func(string) string) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	s, ok := val.(docval.String)
	if !ok {
		return nil, false
	}
	return docval.String(fn(string(s))), true
}

func (e Evaluator) evalSplit(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 2 {
		return nil, false
	}
	strVal, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	sepVal, ok := e.Eval(a[1], vars)
	if !ok {
		return nil, false
	}
	s, ok1 := strVal.(docval.String)
	sep, ok2 := sepVal.(docval.String)
	if !ok1 || !ok2 {
		return nil, false
	}
	parts := strings.Split(string(s), string(sep))
	out := make(docval.Array, len(parts))
	for i, p := range parts {
		out[i] = docval.String(p)
	}
	return out, true
}

func (e Evaluator) evalStrLen(arg any, vars Vars, bytes bool) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	s, ok := val.(docval.String)
	if !ok {
		return nil, false
	}
	if bytes {
		return docval.Int64(len(s)), true
	}
	return docval.Int64(len([]rune(string(s)))), true
}

func (e Evaluator) evalSubstr(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 3 {
		return nil, false
	}
	strVal, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	s, ok := strVal.(docval.String)
	if !ok {
		return nil, false
	}
	startVal, ok := e.Eval(a[1], vars)
	if !ok {
		return nil, false
	}
	lenVal, ok := e.Eval(a[2], vars)
	if !ok {
		return nil, false
	}
	start, ok := docval.ToInt64(startVal)
	if !ok {
		return nil, false
	}
	length, ok := docval.ToInt64(lenVal)
	if !ok {
		return nil, false
	}
	runes := []rune(string(s))
	if start < 0 || int(start) > len(runes) {
		return docval.String(""), true
	}
	end := int(start) + int(length)
	if length < 0 || end > len(runes) {
		end = len(runes)
	}
	return docval.String(string(runes[start:end])), true
}

func (e Evaluator) evalIndexOfCP(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 2 {
		return nil, false
	}
	strVal, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	subVal, ok := e.Eval(a[1], vars)
	if !ok {
		return nil, false
	}
	s, ok1 := strVal.(docval.String)
	sub, ok2 := subVal.(docval.String)
	if !ok1 || !ok2 {
		return nil, false
	}
	idx := strings.Index(string(s), string(sub))
	if idx < 0 {
		return docval.Int64(-1), true
	}
	return docval.Int64(len([]rune(string(s)[:idx]))), true
}

func (e Evaluator) evalReplaceOne(arg any, vars Vars) (docval.Value, bool) {
	return e.evalReplace(arg, vars, 1)
}

func (e Evaluator) evalReplaceAll(arg any, vars Vars) (docval.Value, bool) {
	return e.evalReplace(arg, vars, -1)
}

func (e Evaluator) evalReplace(arg any, vars Vars, count int) (docval.Value, bool) {
	m, ok := arg.(map[string]any)
	if !ok {
		return nil, false
	}
	inputVal, ok := e.Eval(m["input"], vars)
	if !ok {
		return nil, false
	}
	findVal, ok := e.Eval(m["find"], vars)
	if !ok {
		return nil, false
	}
	replaceVal, ok := e.Eval(m["replacement"], vars)
	if !ok {
		return nil, false
	}
	input, ok1 := inputVal.(docval.String)
	find, ok2 := findVal.(docval.String)
	repl, ok3 := replaceVal.(docval.String)
	if !ok1 || !ok2 || !ok3 {
		return nil, false
	}
	return docval.String(strings.Replace(string(input), string(find), string(repl), count)), true
}

func (e Evaluator) evalRegexMatch(arg any, vars Vars) (docval.Value, bool) {
	m, ok := arg.(map[string]any)
	if !ok {
		return nil, false
	}
	inputVal, ok := e.Eval(m["input"], vars)
	if !ok {
		return nil, false
	}
	regexVal, ok := e.Eval(m["regex"], vars)
	if !ok {
		return nil, false
	}
	input, ok1 := inputVal.(docval.String)
	pattern, ok2 := regexVal.(docval.String)
	if !ok1 || !ok2 {
		return nil, false
	}
	re, err := regexp.Compile(string(pattern))
	if err != nil {
		return nil, false
	}
	return docval.Bool(re.MatchString(string(input))), true
}

func (e Evaluator) evalDatePart(op string, arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	t, ok := toTime(val)
	if !ok {
		return nil, false
	}
	switch op {
	case "$year":
		return docval.Int64(t.Year()), true
	case "$month":
		return docval.Int64(int(t.Month())), true
	case "$dayOfMonth":
		return docval.Int64(t.Day()), true
	case "$hour":
		return docval.Int64(t.Hour()), true
	case "$minute":
		return docval.Int64(t.Minute()), true
	case "$second":
		return docval.Int64(t.Second()), true
	case "$dayOfWeek":
		return docval.Int64(int(t.Weekday()) + 1), true
	}
	return nil, false
}

func toTime(v docval.Value) (time.Time, bool) {
	switch t := v.(type) {
	case docval.Datetime:
		return time.Time(t), true
	case docval.String:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02", "01/02/2006"} {
			if parsed, err := time.Parse(layout, string(t)); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func (e Evaluator) evalDateToString(arg any, vars Vars) (docval.Value, bool) {
	m, ok := arg.(map[string]any)
	if !ok {
		return nil, false
	}
	dateVal, ok := e.Eval(m["date"], vars)
	if !ok {
		return nil, false
	}
	t, ok := toTime(dateVal)
	if !ok {
		return nil, false
	}
	format, _ := m["format"].(string)
	if format == "" {
		format = "%Y-%m-%dT%H:%M:%S"
	}
	return docval.String(strftimeGo(format, t)), true
}

func strftimeGo(format string, t time.Time) string {
	replacer := strings.NewReplacer(
		"%Y", t.Format("2006"),
		"%m", t.Format("01"),
		"%d", t.Format("02"),
		"%H", t.Format("15"),
		"%M", t.Format("04"),
		"%S", t.Format("05"),
	)
	return replacer.Replace(format)
}

func (e Evaluator) evalDateFromString(arg any, vars Vars) (docval.Value, bool) {
	var dateString any
	if m, ok := arg.(map[string]any); ok {
		dateString = m["dateString"]
	} else {
		dateString = arg
	}
	val, ok := e.Eval(dateString, vars)
	if !ok {
		return nil, false
	}
	s, ok := val.(docval.String)
	if !ok {
		return nil, false
	}
	t, ok := toTime(docval.String(s))
	if !ok {
		return nil, false
	}
	return docval.Datetime(t), true
}

func (e Evaluator) evalArraySize(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	arr, ok := val.(docval.Array)
	if !ok {
		return nil, false
	}
	return docval.Int64(len(arr)), true
}

func (e Evaluator) evalArrayElemAt(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 2 {
		return nil, false
	}
	arrVal, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	idxVal, ok := e.Eval(a[1], vars)
	if !ok {
		return nil, false
	}
	arr, ok := arrVal.(docval.Array)
	if !ok {
		return nil, false
	}
	idx, ok := docval.ToInt64(idxVal)
	if !ok {
		return nil, false
	}
	if idx < 0 {
		idx = int64(len(arr)) + idx
	}
	if idx < 0 || int(idx) >= len(arr) {
		return docval.Null{}, true
	}
	return arr[idx], true
}

func (e Evaluator) evalConcatArrays(arg any, vars Vars) (docval.Value, bool) {
	vals, ok := e.evalMany(arg, vars)
	if !ok {
		return nil, false
	}
	var out docval.Array
	for _, v := range vals {
		arr, ok := v.(docval.Array)
		if !ok {
			return nil, false
		}
		out = append(out, arr...)
	}
	return out, true
}

func (e Evaluator) evalSlice(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) < 2 || len(a) > 3 {
		return nil, false
	}
	arrVal, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	arr, ok := arrVal.(docval.Array)
	if !ok {
		return nil, false
	}
	if len(a) == 2 {
		nVal, ok := e.Eval(a[1], vars)
		if !ok {
			return nil, false
		}
		n, ok := docval.ToInt64(nVal)
		if !ok {
			return nil, false
		}
		if n >= 0 {
			if int(n) > len(arr) {
				n = int64(len(arr))
			}
			return append(docval.Array{}, arr[:n]...), true
		}
		start := len(arr) + int(n)
		if start < 0 {
			start = 0
		}
		return append(docval.Array{}, arr[start:]...), true
	}
	posVal, ok := e.Eval(a[1], vars)
	if !ok {
		return nil, false
	}
	nVal, ok := e.Eval(a[2], vars)
	if !ok {
		return nil, false
	}
	pos, ok := docval.ToInt64(posVal)
	if !ok {
		return nil, false
	}
	n, ok := docval.ToInt64(nVal)
	if !ok {
		return nil, false
	}
	start := int(pos)
	if start < 0 {
		start = len(arr) + start
	}
	if start < 0 {
		start = 0
	}
	if start > len(arr) {
		start = len(arr)
	}
	end := start + int(n)
	if end > len(arr) {
		end = len(arr)
	}
	if end < start {
		end = start
	}
	return append(docval.Array{}, arr[start:end]...), true
}

func (e Evaluator) evalIsArray(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	_, isArray := val.(docval.Array)
	return docval.Bool(isArray), true
}

func (e Evaluator) evalIn(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 2 {
		return nil, false
	}
	needle, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	haystackVal, ok := e.Eval(a[1], vars)
	if !ok {
		return nil, false
	}
	haystack, ok := haystackVal.(docval.Array)
	if !ok {
		return nil, false
	}
	for _, v := range haystack {
		if cmp, ok := compareValues(needle, v); ok && cmp == 0 {
			return docval.Bool(true), true
		}
	}
	return docval.Bool(false), true
}

func (e Evaluator) evalReverseArray(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	arr, ok := val.(docval.Array)
	if !ok {
		return nil, false
	}
	out := append(docval.Array{}, arr...)
	slices.Reverse(out)
	return out, true
}

func setKey(v docval.Value) string {
	return docval.TypeName(v) + ":" + stringify(v)
}

func stringify(v docval.Value) string {
	switch t := v.(type) {
	case docval.String:
		return string(t)
	case docval.Int64:
		return strconv.FormatInt(int64(t), 10)
	case docval.Float64:
		return strconv.FormatFloat(float64(t), 'g', -1, 64)
	case docval.Bool:
		return strconv.FormatBool(bool(t))
	default:
		return ""
	}
}

func toSet(arr docval.Array) map[string]docval.Value {
	set := make(map[string]docval.Value, len(arr))
	for _, v := range arr {
		set[setKey(v)] = v
	}
	return set
}

func (e Evaluator) evalSetOp(op string, arg any, vars Vars) (docval.Value, bool) {
	vals, ok := e.evalMany(arg, vars)
	if !ok {
		return nil, false
	}
	arrays := make([]docval.Array, len(vals))
	for i, v := range vals {
		arr, ok := v.(docval.Array)
		if !ok {
			return nil, false
		}
		arrays[i] = arr
	}

	switch op {
	case "$setEquals":
		if len(arrays) < 2 {
			return nil, false
		}
		first := toSet(arrays[0])
		for _, arr := range arrays[1:] {
			s := toSet(arr)
			if len(s) != len(first) {
				return docval.Bool(false), true
			}
			for k := range first {
				if _, ok := s[k]; !ok {
					return docval.Bool(false), true
				}
			}
		}
		return docval.Bool(true), true

	case "$setIntersection":
		if len(arrays) == 0 {
			return docval.Array{}, true
		}
		result := toSet(arrays[0])
		for _, arr := range arrays[1:] {
			s := toSet(arr)
			for k := range result {
				if _, ok := s[k]; !ok {
					delete(result, k)
				}
			}
		}
		return setToArray(result), true

	case "$setUnion":
		result := map[string]docval.Value{}
		for _, arr := range arrays {
			for k, v := range toSet(arr) {
				result[k] = v
			}
		}
		return setToArray(result), true

	case "$setDifference":
		if len(arrays) != 2 {
			return nil, false
		}
		a, b := toSet(arrays[0]), toSet(arrays[1])
		result := map[string]docval.Value{}
		for k, v := range a {
			if _, ok := b[k]; !ok {
				result[k] = v
			}
		}
		return setToArray(result), true

	case "$setIsSubset":
		if len(arrays) != 2 {
			return nil, false
		}
		a, b := toSet(arrays[0]), toSet(arrays[1])
		for k := range a {
			if _, ok := b[k]; !ok {
				return docval.Bool(false), true
			}
		}
		return docval.Bool(true), true
	}
	return nil, false
}

func setToArray(s map[string]docval.Value) docval.Array {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(docval.Array, len(keys))
	for i, k := range keys {
		out[i] = s[k]
	}
	return out
}

func (e Evaluator) evalAnyAllElementTrue(arg any, vars Vars, any_ bool) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	arr, ok := val.(docval.Array)
	if !ok {
		return nil, false
	}
	if any_ {
		for _, v := range arr {
			if docval.Truthy(v) {
				return docval.Bool(true), true
			}
		}
		return docval.Bool(false), true
	}
	for _, v := range arr {
		if !docval.Truthy(v) {
			return docval.Bool(false), true
		}
	}
	return docval.Bool(true), true
}

func (e Evaluator) evalToInt(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	switch t := val.(type) {
	case docval.String:
		n, err := strconv.ParseInt(string(t), 10, 64)
		if err != nil {
			return nil, false
		}
		return docval.Int64(n), true
	default:
		n, ok := docval.ToInt64(val)
		if !ok {
			return nil, false
		}
		return docval.Int64(n), true
	}
}

func (e Evaluator) evalToDouble(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	switch t := val.(type) {
	case docval.String:
		n, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return nil, false
		}
		return docval.Float64(n), true
	default:
		n, ok := docval.ToFloat64(val)
		if !ok {
			return nil, false
		}
		return docval.Float64(n), true
	}
}

func (e Evaluator) evalToBool(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	return docval.Bool(docval.Truthy(val)), true
}

func (e Evaluator) evalToString(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	switch t := val.(type) {
	case docval.String:
		return t, true
	case docval.Int64:
		return docval.String(strconv.FormatInt(int64(t), 10)), true
	case docval.Float64:
		return docval.String(strconv.FormatFloat(float64(t), 'g', -1, 64)), true
	case docval.Bool:
		return docval.String(strconv.FormatBool(bool(t))), true
	case docval.Datetime:
		return docval.String(time.Time(t).UTC().Format(time.RFC3339)), true
	default:
		return nil, false
	}
}

func (e Evaluator) evalToDate(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	t, ok := toTime(val)
	if !ok {
		return nil, false
	}
	return docval.Datetime(t), true
}

func (e Evaluator) evalType(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	return docval.String(docval.TypeName(val)), true
}
