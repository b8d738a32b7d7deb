// Package datetime implements the Datetime Processor (spec.md §4.8,
// component G): a specialised three-tier pipeline for predicates
// involving datetime values, since ISO-string lexicographic ordering
// only agrees with chronological ordering for canonical, same-precision
// ISO timestamps.
//
// Grounded on spec.md §4.8's tier descriptions; original_source's
// test_datetime_query_processor.py was consulted for edge-case behavior
// (naive/aware comparison returning no-match rather than raising) but not
// ported — this package follows the teacher's SQL-fragment-builder style
// (pathexpr/queryop) rather than the Python test's structure.
package datetime

import (
	"regexp"
	"strings"
	"time"

	"github.com/neosqlitego/neosqlite/pathexpr"
)

var (
	isoDatetimeRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?)?$`)
	usDateRE      = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
)

// IsDatetimeShaped reports whether a value looks like a datetime
// predicate operand per spec.md §4.8: an ISO string, a US-format date
// string, or a Go time.Time.
func IsDatetimeShaped(value any) bool {
	switch v := value.(type) {
	case time.Time:
		return true
	case string:
		return isoDatetimeRE.MatchString(v) || usDateRE.MatchString(v)
	default:
		return false
	}
}

// Tier identifies which of the three datetime-predicate strategies a
// query was routed through.
type Tier int

const (
	TierSQL Tier = iota
	TierTempTable
	TierHost
)

// Processor translates datetime-valued field predicates into SQL, per
// the field accessor's JSONB-aware path emission.
type Processor struct {
	Accessor pathexpr.Accessor
}

// New returns a Processor bound to a connection's field accessor.
func New(accessor pathexpr.Accessor) Processor {
	return Processor{Accessor: accessor}
}

// SQLPredicate implements the SQL tier: compare json_extract(data,'$.field')
// as an ISO string literal. Valid only when the comparison value is
// already canonical ISO (YYYY-MM-DDTHH:MM:SS, optionally with a zone),
// since lexicographic order only agrees with chronological order in that
// form.
func (p Processor) SQLPredicate(field, op string, value any) (sql string, params []any, ok bool) {
	iso, ok := normalizeToISO(value)
	if !ok {
		return "", nil, false
	}
	sqlOp, ok := comparisonOperators[op]
	if !ok {
		return "", nil, false
	}
	return p.Accessor.Field(field) + " " + sqlOp + " ?", []any{iso}, true
}

var comparisonOperators = map[string]string{
	"$eq": "=", "$ne": "!=", "$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<=",
}

// normalizeToISO converts a supported datetime shape to canonical ISO
// (YYYY-MM-DDTHH:MM:SS) text, suitable for lexicographic comparison
// against strftime('%Y-%m-%dT%H:%M:%S', ...)-normalised stored values.
func normalizeToISO(value any) (string, bool) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format("2006-01-02T15:04:05"), true
	case string:
		t, ok := ParseFlexible(v)
		if !ok {
			return "", false
		}
		return t.Format("2006-01-02T15:04:05"), true
	default:
		return "", false
	}
}

// ParseFlexible parses any of the datetime shapes spec.md §4.8 names:
// ISO (with optional time/zone) or US MM/DD/YYYY.
func ParseFlexible(s string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"01/02/2006",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// TempTableColumn is the name of the normalised-timestamp column the
// temp-table tier adds alongside (id, data).
const TempTableColumn = "ts_parsed"

// TempTableExpr returns the SQL expression computing ts_parsed from a
// field path, for use in a `CREATE TABLE t_k AS SELECT id, data,
// <expr> AS ts_parsed FROM ...` staging statement.
func (p Processor) TempTableExpr(field string) string {
	return "strftime('%Y-%m-%dT%H:%M:%S'," + p.Accessor.Field(field) + ")"
}

// TempTablePredicate builds a predicate against the already-materialised
// ts_parsed column, for complex $and/$or mixes the SQL tier can't encode
// directly.
func (p Processor) TempTablePredicate(op string, value any) (sql string, params []any, ok bool) {
	iso, ok := normalizeToISO(value)
	if !ok {
		return "", nil, false
	}
	sqlOp, ok := comparisonOperators[op]
	if !ok {
		return "", nil, false
	}
	return TempTableColumn + " " + sqlOp + " ?", []any{iso}, true
}

// HostCompare implements the host tier: full-fidelity timezone-aware
// comparison. Per spec.md §4.8, a naive value is never promoted to UTC
// to compare against an aware one — such a comparison reports "no match"
// (matched=false, ok=true) rather than an error, matching observed Mongo
// driver behaviour the distillation preserved.
func HostCompare(op string, left, right time.Time, leftAware, rightAware bool) (matched bool, ok bool) {
	if leftAware != rightAware {
		return false, true
	}
	cmp := 0
	switch {
	case left.Before(right):
		cmp = -1
	case left.After(right):
		cmp = 1
	}
	switch op {
	case "$eq":
		return cmp == 0, true
	case "$ne":
		return cmp != 0, true
	case "$gt":
		return cmp > 0, true
	case "$gte":
		return cmp >= 0, true
	case "$lt":
		return cmp < 0, true
	case "$lte":
		return cmp <= 0, true
	default:
		return false, false
	}
}

// IsAware reports whether a parsed timestamp carried explicit zone
// information (a "Z" or a numeric offset), since Go's time.Parse does
// not distinguish naive from UTC on its own.
func IsAware(s string) bool {
	return strings.HasSuffix(s, "Z") || hasNumericOffset(s)
}

func hasNumericOffset(s string) bool {
	if len(s) < 6 {
		return false
	}
	tail := s[len(s)-6:]
	return (tail[0] == '+' || tail[0] == '-') && tail[3] == ':'
}
