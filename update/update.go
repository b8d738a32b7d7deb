// Package update implements the Update Translator (spec.md §4.5,
// component F): translating a Mongo-shaped update document into a SQL
// `data = <fragment>` expression for `UPDATE c SET data = ... WHERE id=?`,
// or signalling unsupported so the caller falls back to Tier-3 host-code
// mutation.
//
// Grounded on spec.md §4.5's SQL shape table; the multi-call composition
// style (chaining json_set calls for mixed upsert/overwrite keys) follows
// atomicbase/api/database/queries.go's UpdateJSON multi-column SET
// building loop, generalized from flat columns to JSON mutator calls.
package update

import (
	"fmt"
	"math"
	"sort"

	"github.com/neosqlitego/neosqlite/pathexpr"
)

// Translator holds the per-connection JSONB-aware accessor used to pick
// between the json_* and jsonb_* mutator families.
type Translator struct {
	Accessor pathexpr.Accessor
}

// New returns a Translator for a connection with the given capabilities.
func New(accessor pathexpr.Accessor) Translator {
	return Translator{Accessor: accessor}
}

// Translate builds the SQL expression to assign to `data`, plus its bound
// parameters, for an update document. ok is false when any operator is
// unsupported (array mutators, $rename, or operators mixed with them) —
// per spec.md §4.5 the whole update then falls back to Tier-3.
func (t Translator) Translate(update map[string]any) (dataExpr string, params []any, ok bool) {
	ops := make([]string, 0, len(update))
	for op := range update {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	for _, op := range ops {
		switch op {
		case "$set", "$unset", "$inc", "$mul", "$min", "$max":
			// supported, handled below
		default:
			return "", nil, false
		}
	}

	expr := "data"
	for _, op := range ops {
		fields, _ := update[op].(map[string]any)
		if fields == nil {
			return "", nil, false
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, field := range keys {
			value := fields[field]
			var fragment string
			var fragParams []any
			var applied bool

			switch op {
			case "$set":
				fragment, fragParams, applied = t.applySet(expr, field, value)
			case "$unset":
				fragment, fragParams = t.applyUnset(expr, field)
				applied = true
			case "$inc":
				fragment, fragParams, applied = t.applyIncMul(expr, field, value, "+")
			case "$mul":
				fragment, fragParams, applied = t.applyIncMul(expr, field, value, "*")
			case "$min":
				fragment, fragParams, applied = t.applyMinMax(expr, field, value, "min")
			case "$max":
				fragment, fragParams, applied = t.applyMinMax(expr, field, value, "max")
			}
			if !applied {
				return "", nil, false
			}
			expr = fragment
			params = append(params, fragParams...)
		}
	}

	return expr, params, true
}

func (t Translator) applySet(base, field string, value any) (string, []any, bool) {
	// $set always uses json_set's "create-or-replace" semantics directly;
	// the explicit json_insert/json_replace split spec.md describes is an
	// optimisation for index-aware planning this translator doesn't need
	// to perform, since json_set already implements "upsert path".
	return t.Accessor.MutatorCallOn(base, "set", field, "?"), []any{value}, true
}

func (t Translator) applyUnset(base, field string) (string, []any) {
	return t.Accessor.MutatorCallOn(base, "remove", field), nil
}

// applyIncMul validates numeric input per spec.md §4.5 (reject non-numeric,
// NaN, Inf, bool, string, list, dict) and emits the coalesce-based
// arithmetic update.
func (t Translator) applyIncMul(base, field string, value any, operator string) (string, []any, bool) {
	n, ok := numericValue(value)
	if !ok {
		return "", nil, false
	}
	zero := 0.0
	if operator == "*" {
		zero = 1.0
	}
	pathLit := t.Accessor.Field(field)
	current := fmt.Sprintf("coalesce(%s, %v)", pathLit, zero)
	arithmetic := fmt.Sprintf("(%s %s ?)", current, operator)
	return t.Accessor.MutatorCallOn(base, "set", field, arithmetic), []any{n}, true
}

func (t Translator) applyMinMax(base, field string, value any, fn string) (string, []any, bool) {
	n, ok := numericValue(value)
	if !ok {
		return "", nil, false
	}
	pathLit := t.Accessor.Field(field)
	call := fmt.Sprintf("%s(coalesce(%s, ?), ?)", fn, pathLit)
	return t.Accessor.MutatorCallOn(base, "set", field, call), []any{n, n}, true
}

// numericValue validates an $inc/$mul/$min/$max operand: ints and floats
// are accepted, NaN/±Inf/bool/string/array/map are rejected.
func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	default:
		return 0, false
	}
}
