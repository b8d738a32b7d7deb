package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/neosqlitego/neosqlite/docval"
	"github.com/neosqlitego/neosqlite/expr"
)

// Tier3 applies stages to already-decoded documents in host code, per
// spec.md §4.7's fallback tier: the last tier, so every stage must
// either succeed or report a genuine error (there's nowhere further to
// fall back to).
func (x *Executor) Tier3(docs []docval.Object, stages []Stage) ([]docval.Object, error) {
	current := docs
	for _, s := range stages {
		next, err := x.applyStage3(current, s)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

func (x *Executor) applyStage3(docs []docval.Object, s Stage) ([]docval.Object, error) {
	switch s.Op {
	case "$match":
		filter, ok := s.Arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("aggregate: $match argument must be a document")
		}
		out := make([]docval.Object, 0, len(docs))
		for _, d := range docs {
			if matchDoc(d, filter) {
				out = append(out, d)
			}
		}
		return out, nil

	case "$sort":
		spec, ok := s.Arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("aggregate: $sort argument must be a document")
		}
		return sortDocs(docs, spec), nil

	case "$skip":
		n, ok := asInt(s.Arg)
		if !ok {
			return nil, fmt.Errorf("aggregate: $skip argument must be numeric")
		}
		if n >= len(docs) {
			return nil, nil
		}
		return docs[n:], nil

	case "$limit":
		n, ok := asInt(s.Arg)
		if !ok {
			return nil, fmt.Errorf("aggregate: $limit argument must be numeric")
		}
		if n > len(docs) {
			n = len(docs)
		}
		if n < 0 {
			n = 0
		}
		return docs[:n], nil

	case "$unwind":
		return x.unwindDocs(docs, s.Arg)

	case "$group":
		spec, ok := s.Arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("aggregate: $group argument must be a document")
		}
		return x.groupDocs(docs, spec)

	case "$project":
		spec, ok := s.Arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("aggregate: $project argument must be a document")
		}
		return x.projectDocs(docs, spec, false)

	case "$addFields", "$set":
		spec, ok := s.Arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("aggregate: %s argument must be a document", s.Op)
		}
		return x.projectDocs(docs, spec, true)

	case "$replaceRoot", "$replaceWith":
		expr := s.Arg
		if s.Op == "$replaceRoot" {
			m, ok := s.Arg.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("aggregate: $replaceRoot requires {newRoot: <expr>}")
			}
			expr = m["newRoot"]
		}
		out := make([]docval.Object, 0, len(docs))
		for _, d := range docs {
			v, ok := x.Expr.Eval(expr, rootVars(d))
			if !ok {
				return nil, fmt.Errorf("aggregate: could not evaluate %s expression", s.Op)
			}
			obj, isObj := v.(docval.Object)
			if !isObj {
				return nil, fmt.Errorf("aggregate: %s must evaluate to a document", s.Op)
			}
			out = append(out, obj)
		}
		return out, nil

	case "$lookup":
		return nil, fmt.Errorf("aggregate: $lookup requires a collection resolver not available in tier-3 alone")

	default:
		return nil, fmt.Errorf("aggregate: unknown stage %s", s.Op)
	}
}

func rootVars(d docval.Object) expr.Vars {
	return expr.Vars{Root: d, Current: d}
}

func sortDocs(docs []docval.Object, spec map[string]any) []docval.Object {
	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := slices.Clone(docs)
	slices.SortStableFunc(out, func(a, b docval.Object) int {
		for _, k := range keys {
			dir, _ := asInt(spec[k])
			av, _ := docval.GetPath(a, k)
			bv, _ := docval.GetPath(b, k)
			c := compareValuesHost(av, bv)
			if dir < 0 {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	return out
}

// compareValuesHost orders two decoded values for $sort: numeric
// comparison when both sides coerce to float64, lexicographic string
// comparison otherwise.
func compareValuesHost(a, b docval.Value) int {
	if af, aok := docval.ToFloat64(a); aok {
		if bf, bok := docval.ToFloat64(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as := fmt.Sprint(docval.ToAny(a))
	bs := fmt.Sprint(docval.ToAny(b))
	return strings.Compare(as, bs)
}

// unwindDocs implements $unwind in host code: one output document per
// array element, patched back into the same dotted path, honouring
// includeArrayIndex and preserveNullAndEmptyArrays per spec.md §4.7's
// S5 scenario.
func (x *Executor) unwindDocs(docs []docval.Object, arg any) ([]docval.Object, error) {
	var path, indexField string
	preserveNull := false

	switch v := arg.(type) {
	case string:
		path = strings.TrimPrefix(v, "$")
	case map[string]any:
		p, ok := v["path"].(string)
		if !ok {
			return nil, fmt.Errorf("aggregate: $unwind requires a path")
		}
		path = strings.TrimPrefix(p, "$")
		indexField, _ = v["includeArrayIndex"].(string)
		preserveNull, _ = v["preserveNullAndEmptyArrays"].(bool)
	default:
		return nil, fmt.Errorf("aggregate: $unwind argument must be a string or document")
	}

	var out []docval.Object
	for _, d := range docs {
		val, present := docval.GetPath(d, path)
		arr, isArray := val.(docval.Array)

		if !present {
			continue
		}
		if !isArray || len(arr) == 0 {
			if !preserveNull {
				continue
			}
			out = append(out, patchUnwound(d, path, indexField, docval.Null{}, nil))
			continue
		}
		for idx, elem := range arr {
			i := int64(idx)
			out = append(out, patchUnwound(d, path, indexField, elem, &i))
		}
	}
	return out, nil
}

func patchUnwound(d docval.Object, path, indexField string, value docval.Value, index *int64) docval.Object {
	clone := make(docval.Object, len(d))
	for k, v := range d {
		clone[k] = v
	}
	docval.SetPath(clone, path, value)
	if indexField != "" {
		if index != nil {
			clone[indexField] = docval.Int64(*index)
		} else {
			clone[indexField] = docval.Null{}
		}
	}
	return clone
}

// groupDocs implements $group in host code, supporting the accumulator
// set of Tier-1's fused $unwind+$group template plus $first and $last,
// per spec.md §4.7.
func (x *Executor) groupDocs(docs []docval.Object, spec map[string]any) ([]docval.Object, error) {
	idExpr := spec["_id"]

	order := []docval.Value{}
	buckets := map[string][]docval.Object{}
	bucketKeyOf := map[string]docval.Value{}

	for _, d := range docs {
		idVal, ok := x.Expr.Eval(idExpr, rootVars(d))
		if !ok {
			return nil, fmt.Errorf("aggregate: could not evaluate $group._id")
		}
		key := fmt.Sprint(docval.ToAny(idVal))
		if _, seen := buckets[key]; !seen {
			order = append(order, idVal)
			bucketKeyOf[key] = idVal
		}
		buckets[key] = append(buckets[key], d)
	}

	accumFields := make([]string, 0, len(spec))
	for k := range spec {
		if k != "_id" {
			accumFields = append(accumFields, k)
		}
	}
	sort.Strings(accumFields)

	out := make([]docval.Object, 0, len(order))
	for _, idVal := range order {
		key := fmt.Sprint(docval.ToAny(idVal))
		group := buckets[key]
		result := docval.Object{"_id": idVal}

		for _, field := range accumFields {
			accSpec, ok := spec[field].(map[string]any)
			if !ok || len(accSpec) != 1 {
				return nil, fmt.Errorf("aggregate: $group field %q must be a single-accumulator document", field)
			}
			for acc, arg := range accSpec {
				v, err := x.accumulateHost(acc, arg, group)
				if err != nil {
					return nil, err
				}
				result[field] = v
			}
		}
		out = append(out, result)
	}
	return out, nil
}

func (x *Executor) accumulateHost(acc string, arg any, group []docval.Object) (docval.Value, error) {
	operand := func(d docval.Object) docval.Value {
		v, ok := x.Expr.Eval(arg, rootVars(d))
		if !ok {
			return docval.Null{}
		}
		return v
	}

	switch acc {
	case "$count":
		return docval.Int64(len(group)), nil
	case "$sum":
		if n, ok := asInt(arg); ok && n == 1 {
			return docval.Int64(len(group)), nil
		}
		total := 0.0
		for _, d := range group {
			if f, ok := docval.ToFloat64(operand(d)); ok {
				total += f
			}
		}
		return docval.Float64(total), nil
	case "$avg":
		if len(group) == 0 {
			return docval.Null{}, nil
		}
		total := 0.0
		for _, d := range group {
			if f, ok := docval.ToFloat64(operand(d)); ok {
				total += f
			}
		}
		return docval.Float64(total / float64(len(group))), nil
	case "$min", "$max":
		var best docval.Value
		for _, d := range group {
			v := operand(d)
			if best == nil {
				best = v
				continue
			}
			c := compareValuesHost(v, best)
			if (acc == "$min" && c < 0) || (acc == "$max" && c > 0) {
				best = v
			}
		}
		if best == nil {
			best = docval.Null{}
		}
		return best, nil
	case "$first":
		if len(group) == 0 {
			return docval.Null{}, nil
		}
		return operand(group[0]), nil
	case "$last":
		if len(group) == 0 {
			return docval.Null{}, nil
		}
		return operand(group[len(group)-1]), nil
	case "$push":
		arr := make(docval.Array, 0, len(group))
		for _, d := range group {
			arr = append(arr, operand(d))
		}
		return arr, nil
	case "$addToSet":
		arr := make(docval.Array, 0, len(group))
		seen := map[string]bool{}
		for _, d := range group {
			v := operand(d)
			key := fmt.Sprint(docval.ToAny(v))
			if !seen[key] {
				seen[key] = true
				arr = append(arr, v)
			}
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("aggregate: unsupported accumulator %s", acc)
	}
}

// projectDocs implements $project/$addFields in host code. For
// $project, {field: 0} excludes, {field: 1} includes verbatim, and any
// other value is an expression; for $addFields every value is always an
// expression. docval.Remove lets an expression delete a field from an
// $addFields/$project context, per spec.md §4.4's $REMOVE.
func (x *Executor) projectDocs(docs []docval.Object, spec map[string]any, isAddFields bool) ([]docval.Object, error) {
	out := make([]docval.Object, 0, len(docs))
	for _, d := range docs {
		result, err := x.projectOne(d, spec, isAddFields)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}

func (x *Executor) projectOne(d docval.Object, spec map[string]any, isAddFields bool) (docval.Object, error) {
	if isAddFields {
		result := make(docval.Object, len(d))
		for k, v := range d {
			result[k] = v
		}
		for field, value := range spec {
			v, ok := x.Expr.Eval(value, rootVars(d))
			if !ok {
				return nil, fmt.Errorf("aggregate: could not evaluate $addFields field %q", field)
			}
			if _, isRemove := v.(docval.Remove); isRemove {
				docval.RemovePath(result, field)
				continue
			}
			docval.SetPath(result, field, v)
		}
		return result, nil
	}

	result := make(docval.Object)
	includeID := true
	hasInclusion := false
	for field, value := range spec {
		if n, ok := asInt(value); ok {
			if n == 0 {
				if field == "_id" {
					includeID = false
				}
				continue
			}
			hasInclusion = true
			if v, present := docval.GetPath(d, field); present {
				docval.SetPath(result, field, v)
			}
			continue
		}
		v, ok := x.Expr.Eval(value, rootVars(d))
		if !ok {
			return nil, fmt.Errorf("aggregate: could not evaluate $project field %q", field)
		}
		if _, isRemove := v.(docval.Remove); isRemove {
			continue
		}
		hasInclusion = true
		docval.SetPath(result, field, v)
	}
	if includeID && hasInclusion {
		if v, present := docval.GetPath(d, "_id"); present {
			result["_id"] = v
		}
	}
	if !hasInclusion {
		// Pure exclusion projection: start from the full document minus
		// the excluded fields.
		result = make(docval.Object, len(d))
		for k, v := range d {
			result[k] = v
		}
		for field, value := range spec {
			if n, ok := asInt(value); ok && n == 0 {
				docval.RemovePath(result, field)
			}
		}
	}
	return result, nil
}
