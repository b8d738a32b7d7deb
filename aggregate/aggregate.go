// Package aggregate implements the three-tier aggregation execution
// model (spec.md §4.7, components J/K/L): Tier-1 single-SQL templates,
// Tier-2 staged temp tables, and a Tier-3 host-code fallback, plus the
// process-wide and per-processor kill switches (spec.md §4.7 "Kill
// switch").
//
// SQL string-building throughout follows atomicbase's style
// (api/database/build_query.go, query_json.go): plain fmt.Sprintf/string
// concatenation rather than a query-builder type, since the teacher
// never introduces one either.
package aggregate

import (
	"reflect"
	"sync/atomic"

	"github.com/neosqlitego/neosqlite/docval"
	"github.com/neosqlitego/neosqlite/expr"
	"github.com/neosqlitego/neosqlite/pathexpr"
	"github.com/neosqlitego/neosqlite/planner"
	"github.com/neosqlitego/neosqlite/queryop"
)

// Stage is one aggregation pipeline stage, parsed from a one-key
// {"$op": arg} document.
type Stage struct {
	Op  string
	Arg any
}

// ParseStages converts the raw pipeline (as decoded by encoding/json,
// i.e. each element a map[string]any with exactly one key) into Stages,
// preserving input order. An empty stage document is skipped; for a
// stage document with several keys only the first key map iteration
// yields is kept. Neither case is reported as an error.
func ParseStages(pipeline []map[string]any) []Stage {
	stages := make([]Stage, 0, len(pipeline))
	for _, doc := range pipeline {
		for op, arg := range doc {
			stages = append(stages, Stage{Op: op, Arg: arg})
			break
		}
	}
	return stages
}

// forceFallback is the process-wide kill switch (spec.md §4.7): when
// set, every Executor bypasses Tier-1/Tier-2 regardless of its own
// ForceFallback field, so a test (or an admin path) can force Tier-3
// globally without threading the flag through every call site.
var forceFallback atomic.Bool

// SetForceFallback sets or clears the process-wide kill switch.
func SetForceFallback(v bool) { forceFallback.Store(v) }

// ForceFallback reports the process-wide kill switch's current value.
func ForceFallback() bool { return forceFallback.Load() }

// Executor ties the per-connection translators together to run a
// pipeline against one collection table.
type Executor struct {
	Table         string
	Accessor      pathexpr.Accessor
	Query         queryop.Translator
	Expr          expr.Evaluator
	Indexed       planner.IndexSet
	ForceFallback bool // per-processor kill switch, independent of the global one
}

// New returns an Executor for a collection, bound to its per-connection
// translators and indexed-field set.
func New(table string, accessor pathexpr.Accessor, query queryop.Translator, ev expr.Evaluator, indexed planner.IndexSet) *Executor {
	return &Executor{Table: table, Accessor: accessor, Query: query, Expr: ev, Indexed: indexed}
}

// skipTiers reports whether Tier-1/Tier-2 should be bypassed per the
// two independent kill switches.
func (x *Executor) skipTiers() bool {
	return x.ForceFallback || ForceFallback()
}

// matchDoc evaluates a $match-shaped filter against a decoded document
// in host code, for Tier-3. It shares operator names with queryop's
// Clause Builder but compares values directly instead of emitting SQL,
// since Tier-3 has no SQL to emit into.
func matchDoc(doc docval.Object, filter map[string]any) bool {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	for _, key := range keys {
		if !matchClause(doc, key, filter[key]) {
			return false
		}
	}
	return true
}

func matchClause(doc docval.Object, key string, value any) bool {
	switch key {
	case "$and":
		for _, sub := range asDocList(value) {
			if !matchDoc(doc, sub) {
				return false
			}
		}
		return true
	case "$or":
		subs := asDocList(value)
		if len(subs) == 0 {
			return false
		}
		for _, sub := range subs {
			if matchDoc(doc, sub) {
				return true
			}
		}
		return false
	case "$nor":
		for _, sub := range asDocList(value) {
			if matchDoc(doc, sub) {
				return false
			}
		}
		return true
	case "$not":
		sub, ok := value.(map[string]any)
		return ok && !matchDoc(doc, sub)
	default:
		return matchField(doc, key, value)
	}
}

func asDocList(value any) []map[string]any {
	list, _ := value.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func matchField(doc docval.Object, field string, value any) bool {
	fieldVal, present := docval.GetPath(doc, field)
	if !present {
		fieldVal = docval.Null{}
	}

	opMap, isOpMap := value.(map[string]any)
	if !isOpMap {
		return valuesEqual(fieldVal, docval.FromAny(value))
	}
	hasOperatorKey := false
	for k := range opMap {
		if len(k) > 0 && k[0] == '$' {
			hasOperatorKey = true
			break
		}
	}
	if !hasOperatorKey {
		return valuesEqual(fieldVal, docval.FromAny(value))
	}

	for op, opArg := range opMap {
		if !matchOp(fieldVal, present, op, opArg) {
			return false
		}
	}
	return true
}

func matchOp(fieldVal docval.Value, present bool, op string, arg any) bool {
	switch op {
	case "$eq":
		return valuesEqual(fieldVal, docval.FromAny(arg))
	case "$ne":
		return !valuesEqual(fieldVal, docval.FromAny(arg))
	case "$gt", "$gte", "$lt", "$lte":
		return compareOp(op, fieldVal, docval.FromAny(arg))
	case "$in":
		for _, v := range asAnyList(arg) {
			if valuesEqual(fieldVal, docval.FromAny(v)) {
				return true
			}
		}
		return false
	case "$nin":
		for _, v := range asAnyList(arg) {
			if valuesEqual(fieldVal, docval.FromAny(v)) {
				return false
			}
		}
		return true
	case "$exists":
		want, _ := arg.(bool)
		return present == want
	case "$size":
		arr, ok := fieldVal.(docval.Array)
		if !ok {
			return false
		}
		n, _ := docval.ToInt64(docval.FromAny(arg))
		return int64(len(arr)) == n
	default:
		return false
	}
}

func compareOp(op string, a, b docval.Value) bool {
	af, aok := docval.ToFloat64(a)
	bf, bok := docval.ToFloat64(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case "$gt":
		return af > bf
	case "$gte":
		return af >= bf
	case "$lt":
		return af < bf
	case "$lte":
		return af <= bf
	default:
		return false
	}
}

func asAnyList(v any) []any {
	arr, _ := v.([]any)
	return arr
}

// valuesEqual compares two decoded values for Mongo-style equality.
// reflect.DeepEqual handles the Array/Object cases safely (their ToAny
// form is a slice/map, which the == operator can't compare); numeric
// cross-type comparison (int64 vs float64) is normalised first since
// encoding/json never produces int64 but host-built literals may.
func valuesEqual(a, b docval.Value) bool {
	if af, aok := docval.ToFloat64(a); aok {
		if bf, bok := docval.ToFloat64(b); bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(docval.ToAny(a), docval.ToAny(b))
}
