package datetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neosqlitego/neosqlite/pathexpr"
)

func TestIsDatetimeShaped(t *testing.T) {
	require.True(t, IsDatetimeShaped("2024-01-15T10:30:00Z"))
	require.True(t, IsDatetimeShaped("2024-01-15"))
	require.True(t, IsDatetimeShaped("01/15/2024"))
	require.True(t, IsDatetimeShaped(time.Now()))
	require.False(t, IsDatetimeShaped("hello"))
	require.False(t, IsDatetimeShaped(42))
}

func TestSQLPredicate(t *testing.T) {
	p := New(pathexpr.New(false))
	sql, params, ok := p.SQLPredicate("createdAt", "$gte", "2024-01-15T10:30:00Z")
	require.True(t, ok)
	require.Equal(t, `json_extract(data,'$."createdAt"') >= ?`, sql)
	require.Equal(t, []any{"2024-01-15T10:30:00"}, params)
}

func TestSQLPredicateRejectsNonDatetimeValue(t *testing.T) {
	p := New(pathexpr.New(false))
	_, _, ok := p.SQLPredicate("createdAt", "$gte", "not-a-date")
	require.False(t, ok)
}

func TestTempTableExpr(t *testing.T) {
	p := New(pathexpr.New(false))
	expr := p.TempTableExpr("createdAt")
	require.Contains(t, expr, "strftime")
	require.Contains(t, expr, `json_extract(data,'$."createdAt"')`)
}

func TestHostCompareBothAware(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	matched, ok := HostCompare("$lt", a, b, true, true)
	require.True(t, ok)
	require.True(t, matched)
}

func TestHostCompareMixedAwareness(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	matched, ok := HostCompare("$eq", a, b, false, true)
	require.True(t, ok)
	require.False(t, matched)
}

func TestIsAware(t *testing.T) {
	require.True(t, IsAware("2024-01-15T10:30:00Z"))
	require.True(t, IsAware("2024-01-15T10:30:00+05:00"))
	require.False(t, IsAware("2024-01-15T10:30:00"))
}

func TestParseFlexibleUSDate(t *testing.T) {
	tm, ok := ParseFlexible("01/15/2024")
	require.True(t, ok)
	require.Equal(t, 2024, tm.Year())
	require.Equal(t, time.January, tm.Month())
	require.Equal(t, 15, tm.Day())
}
