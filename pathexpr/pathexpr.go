// Package pathexpr implements the Field Accessor (spec.md §4.1,
// component B): translating dotted document paths into SQL expressions
// over a JSON/JSONB `data` column, and the `_id`-routing auto-correction
// rule. Grounded in atomicbase's bracketed-identifier quoting style
// (api/database/build_query.go), generalized from flat SQL columns to
// dotted JSON paths.
package pathexpr

import (
	"strconv"
	"strings"

	"github.com/neosqlitego/neosqlite/objectid"
)

// DataColumn is the name of the single JSON column every collection table
// carries, per spec.md §3.
const DataColumn = "data"

// IDColumn is the integer row primary key every collection table carries.
const IDColumn = "id"

// Accessor builds field-path SQL fragments, parameterized by whether the
// connection supports JSONB (which changes which mutator function family
// is used for writes; reads are always via json_extract).
type Accessor struct {
	JSONBSupported bool
}

// New returns an Accessor for a connection with the given JSONB support.
func New(jsonbSupported bool) Accessor {
	return Accessor{JSONBSupported: jsonbSupported}
}

// jsonPathLiteral renders a dotted path as a SQLite JSON path expression
// literal, e.g. "a.b" -> `'$."a"."b"'`. Each segment is quoted so that
// keys containing dots, spaces, or SQL metacharacters are handled safely.
func jsonPathLiteral(path string) string {
	var b strings.Builder
	b.WriteString("'$")
	for _, seg := range splitDotted(path) {
		b.WriteByte('.')
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(seg, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\'')
	return b.String()
}

func splitDotted(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Field returns the read-side SQL expression for a dotted field path,
// e.g. Field("a.b") -> `json_extract(data,'$."a"."b"')`.
//
// The `_id`/`id` pseudo-field is special-cased per spec.md §4.1's
// auto-correction rule: when the caller has already determined (via
// RouteIdentifier) that a value should be compared against the integer
// row id, Field is not used at all — FieldForID is used instead. Field
// itself always emits the json_extract("._id") form.
func (a Accessor) Field(path string) string {
	if path == "" {
		return DataColumn
	}
	return "json_extract(" + DataColumn + "," + jsonPathLiteral(path) + ")"
}

// FieldForID returns the SQL expression selecting the row's identity when
// the comparison value's representation indicates the integer primary key
// should be used directly, rather than json_extract(data,'$._id').
func FieldForID() string { return IDColumn }

// RouteIdentifier implements the auto-correction rule: given a field name
// ("id" or "_id") and a comparison value, decide whether the clause
// builder should compare against the integer row id column, the
// json_extract(data,'$._id') expression, or (for ObjectId-shaped values)
// the decoded hex form. Returns the SQL fragment to use on the left-hand
// side of the comparison and whether the value itself needs to be
// re-encoded as an ObjectId-tagged map for the comparison to be
// apples-to-apples.
func RouteIdentifier(field string, value any) (sqlExpr string, routedValue any) {
	if field != "_id" && field != "id" {
		return "", nil
	}

	switch v := value.(type) {
	case int, int32, int64:
		return FieldForID(), value
	case float64:
		if v == float64(int64(v)) {
			return FieldForID(), int64(v)
		}
	case string:
		if objectid.IsValidHex(v) {
			id, err := objectid.FromHex(v)
			if err == nil {
				return "json_extract(" + DataColumn + ",'$._id')", id.EncodeForStorage()
			}
		}
	case objectid.ObjectId:
		return "json_extract(" + DataColumn + ",'$._id')", v.EncodeForStorage()
	}

	return "json_extract(" + DataColumn + ",'$._id')", value
}

// ArrayLength returns the SQL expression for json_array_length over a path.
func (a Accessor) ArrayLength(path string) string {
	return "json_array_length(" + DataColumn + "," + jsonPathLiteral(path) + ")"
}

// MutatorCall renders `<prefix>_<fn>(data, '$.path', args...)` using
// jsonb_* when JSONB is supported, json_* otherwise, per spec.md §4.1.
func (a Accessor) MutatorCall(fn, path string, argPlaceholders ...string) string {
	prefix := "json"
	if a.JSONBSupported {
		prefix = "jsonb"
	}
	parts := []string{DataColumn, jsonPathLiteral(path)}
	parts = append(parts, argPlaceholders...)
	return prefix + "_" + fn + "(" + strings.Join(parts, ",") + ")"
}

// MutatorCallOn is MutatorCall generalized to an explicit base expression
// rather than the literal data column, so update translators can chain
// calls: json_set(json_remove(data,'$.a'),'$.b',?).
func (a Accessor) MutatorCallOn(base, fn, path string, argPlaceholders ...string) string {
	prefix := "json"
	if a.JSONBSupported {
		prefix = "jsonb"
	}
	parts := []string{base, jsonPathLiteral(path)}
	parts = append(parts, argPlaceholders...)
	return prefix + "_" + fn + "(" + strings.Join(parts, ",") + ")"
}

// HasArrayIndex reports whether a dotted path contains a bracketed array
// index (e.g. "tags[0]"), which spec.md §3 says must downgrade the query
// to Tier-3 rather than be translated.
func HasArrayIndex(path string) bool {
	for _, seg := range splitDotted(path) {
		if strings.ContainsAny(seg, "[]") {
			return true
		}
	}
	return false
}

// IsInteger reports whether s parses cleanly as a base-10 integer, used
// by a few callers needing the same int-vs-string dispatch RouteIdentifier
// uses internally.
func IsInteger(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
