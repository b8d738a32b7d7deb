package expr

import (
	"strconv"

	"go.mongodb.org/mongo-driver/v2/bson/primitive"

	"github.com/neosqlitego/neosqlite/docval"
	"github.com/neosqlitego/neosqlite/objectid"
)

func (e Evaluator) evalToObjectId(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}
	switch t := val.(type) {
	case docval.ObjectIdValue:
		return t, true
	case docval.String:
		id, err := objectid.FromHex(string(t))
		if err != nil {
			return nil, false
		}
		return docval.ObjectIdValue{ObjectId: id}, true
	default:
		return nil, false
	}
}

// evalToDecimal implements $toDecimal via bson/primitive.Decimal128,
// used here purely for its parsing and stringification (no SQL storage
// representation exists for a 128-bit decimal, so this is a host-only
// conversion, per spec.md §4.4).
func (e Evaluator) evalToDecimal(arg any, vars Vars) (docval.Value, bool) {
	a := args(arg)
	if len(a) != 1 {
		return nil, false
	}
	val, ok := e.Eval(a[0], vars)
	if !ok {
		return nil, false
	}

	var decStr string
	switch t := val.(type) {
	case docval.String:
		decStr = string(t)
	case docval.Int64:
		decStr = strconv.FormatInt(int64(t), 10)
	case docval.Float64:
		decStr = strconv.FormatFloat(float64(t), 'g', -1, 64)
	default:
		return nil, false
	}

	dec, err := primitive.ParseDecimal128(decStr)
	if err != nil {
		return nil, false
	}
	return docval.String(dec.String()), true
}

// evalConvert implements $convert: {input, to, onError?, onNull?}.
func (e Evaluator) evalConvert(arg any, vars Vars) (docval.Value, bool) {
	m, ok := arg.(map[string]any)
	if !ok {
		return nil, false
	}
	input, ok := e.Eval(m["input"], vars)
	if !ok {
		return nil, false
	}
	if _, isNull := input.(docval.Null); isNull {
		if onNull, has := m["onNull"]; has {
			return e.Eval(onNull, vars)
		}
		return docval.Null{}, true
	}

	to, _ := m["to"].(string)
	result, ok := e.convertTo(input, to, vars)
	if !ok {
		if onError, has := m["onError"]; has {
			return e.Eval(onError, vars)
		}
		return nil, false
	}
	return result, true
}

func (e Evaluator) convertTo(input docval.Value, to string, vars Vars) (docval.Value, bool) {
	switch to {
	case "int", "long":
		return e.evalToInt(wrapLiteral(input), vars)
	case "double", "decimal":
		return e.evalToDouble(wrapLiteral(input), vars)
	case "bool":
		return docval.Bool(docval.Truthy(input)), true
	case "string":
		return e.evalToString(wrapLiteral(input), vars)
	case "date":
		t, ok := toTime(input)
		if !ok {
			return nil, false
		}
		return docval.Datetime(t), true
	case "objectId":
		return e.evalToObjectId(wrapLiteral(input), vars)
	default:
		return nil, false
	}
}

// wrapLiteral re-boxes an already-evaluated Value as a pseudo-expression
// so it can be threaded back through the single-argument eval* helpers,
// which expect raw `any` expressions rather than decoded Values.
func wrapLiteral(v docval.Value) any {
	return []any{literalBox{v}}
}

type literalBox struct{ v docval.Value }
