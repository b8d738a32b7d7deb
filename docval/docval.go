// Package docval implements the recursive Value sum type from spec.md's
// Design Notes: Null | Bool | Int | Float | Str | Bytes | Datetime |
// Array[Value] | Object{str->Value} | ObjectId | Binary. Translators in
// other packages work on this decoded form rather than repeatedly
// re-deriving type information from `any`.
package docval

import (
	"fmt"
	"time"

	"github.com/neosqlitego/neosqlite/objectid"
)

// Value is the closed interface implemented by every document value kind.
type Value interface {
	isValue()
}

type (
	Null      struct{}
	Bool      bool
	Int64     int64
	Float64   float64
	String    string
	Bytes     []byte
	Datetime  time.Time
	Array     []Value
	Object    map[string]Value
	ObjectRef = objectid.ObjectId
	BinaryRef = objectid.Binary
)

func (Null) isValue()     {}
func (Bool) isValue()     {}
func (Int64) isValue()    {}
func (Float64) isValue()  {}
func (String) isValue()   {}
func (Bytes) isValue()    {}
func (Datetime) isValue() {}
func (Array) isValue()    {}
func (Object) isValue()   {}

// Remove is the host-only $$REMOVE sentinel (spec.md §4.4): when an
// expression evaluates to Remove inside a $project/$addFields context,
// the field is deleted from the output document instead of being set.
type Remove struct{}

func (Remove) isValue() {}

// wrap ObjectId/Binary so they satisfy Value without modifying the
// objectid package (which has no reason to know about docval).
type ObjectIdValue struct{ objectid.ObjectId }
type BinaryValue struct{ objectid.Binary }

func (ObjectIdValue) isValue() {}
func (BinaryValue) isValue()   {}

// FromAny decodes the `any` shape produced by encoding/json.Unmarshal (or
// a driver row scan) into a Value tree. Tagged maps matching ObjectId or
// Binary's storage encoding decode to their typed form.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null{}
	case bool:
		return Bool(t)
	case int:
		return Int64(t)
	case int64:
		return Int64(t)
	case float64:
		return Float64(t)
	case string:
		return String(t)
	case []byte:
		return Bytes(t)
	case time.Time:
		return Datetime(t)
	case []any:
		arr := make(Array, len(t))
		for i, e := range t {
			arr[i] = FromAny(e)
		}
		return arr
	case map[string]any:
		if id, ok := objectid.DecodeObjectId(t); ok {
			return ObjectIdValue{id}
		}
		if b, ok := objectid.DecodeBinary(t); ok {
			return BinaryValue{b}
		}
		obj := make(Object, len(t))
		for k, e := range t {
			obj[k] = FromAny(e)
		}
		return obj
	default:
		return Null{}
	}
}

// ToAny re-encodes a Value tree into the plain `any` shape suitable for
// encoding/json.Marshal, re-tagging ObjectId/Binary values for storage.
func ToAny(v Value) any {
	switch t := v.(type) {
	case Null:
		return nil
	case Bool:
		return bool(t)
	case Int64:
		return int64(t)
	case Float64:
		return float64(t)
	case String:
		return string(t)
	case Bytes:
		return []byte(t)
	case Datetime:
		return time.Time(t).UTC().Format("2006-01-02T15:04:05.000Z")
	case Array:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = ToAny(e)
		}
		return out
	case Object:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = ToAny(e)
		}
		return out
	case ObjectIdValue:
		return t.EncodeForStorage()
	case BinaryValue:
		return t.EncodeForStorage()
	default:
		return nil
	}
}

// GetPath walks a dotted path ("a.b.c") through an Object/Array tree,
// returning the leaf Value and whether every segment resolved.
func GetPath(root Value, path string) (Value, bool) {
	segments := splitPath(path)
	cur := root
	for _, seg := range segments {
		obj, ok := cur.(Object)
		if !ok {
			return nil, false
		}
		next, present := obj[seg]
		if !present {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// SetPath writes value at a dotted path inside root, creating
// intermediate objects as needed. root must be a non-nil Object: a nil
// root panics on the first write.
func SetPath(root Object, path string, value Value) {
	segments := splitPath(path)
	cur := root
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(Object)
		if !ok {
			next = Object{}
			cur[seg] = next
		}
		cur = next
	}
}

// RemovePath deletes the leaf named by a dotted path, if present.
func RemovePath(root Object, path string) {
	segments := splitPath(path)
	cur := root
	for i, seg := range segments {
		if i == len(segments)-1 {
			delete(cur, seg)
			return
		}
		next, ok := cur[seg].(Object)
		if !ok {
			return
		}
		cur = next
	}
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}

// Truthy implements Mongo's boolean-coercion rule used by $toBool,
// $cond, $switch, $and/$or/$not in host mode: null/missing and the
// number zero are false, everything else (including the empty string
// and NaN) is true.
func Truthy(v Value) bool {
	switch t := v.(type) {
	case nil, Null:
		return false
	case Bool:
		return bool(t)
	case Int64:
		return t != 0
	case Float64:
		return t != 0
	default:
		return true
	}
}

// ToFloat64 coerces a numeric Value to float64.
func ToFloat64(v Value) (float64, bool) {
	switch t := v.(type) {
	case Int64:
		return float64(t), true
	case Float64:
		return float64(t), true
	case Bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// ToInt64 coerces a numeric Value to int64, truncating floats.
func ToInt64(v Value) (int64, bool) {
	switch t := v.(type) {
	case Int64:
		return int64(t), true
	case Float64:
		return int64(t), true
	case Bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// TypeName returns the MongoDB-style type name used by $type/$convert.
func TypeName(v Value) string {
	switch v.(type) {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Int64:
		return "long"
	case Float64:
		return "double"
	case String:
		return "string"
	case Bytes:
		return "binData"
	case Datetime:
		return "date"
	case Array:
		return "array"
	case Object:
		return "object"
	case ObjectIdValue:
		return "objectId"
	case BinaryValue:
		return "binData"
	default:
		return fmt.Sprintf("%T", v)
	}
}
