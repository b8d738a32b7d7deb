package update

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neosqlitego/neosqlite/pathexpr"
)

func TestTranslateSet(t *testing.T) {
	tr := New(pathexpr.New(false))
	expr, params, ok := tr.Translate(map[string]any{"$set": map[string]any{"name": "bob"}})
	require.True(t, ok)
	require.Equal(t, `json_set(data,'$."name"',?)`, expr)
	require.Equal(t, []any{"bob"}, params)
}

func TestTranslateSetUsesJSONBWhenSupported(t *testing.T) {
	tr := New(pathexpr.New(true))
	expr, _, ok := tr.Translate(map[string]any{"$set": map[string]any{"name": "bob"}})
	require.True(t, ok)
	require.Equal(t, `jsonb_set(data,'$."name"',?)`, expr)
}

func TestTranslateUnset(t *testing.T) {
	tr := New(pathexpr.New(false))
	expr, params, ok := tr.Translate(map[string]any{"$unset": map[string]any{"name": ""}})
	require.True(t, ok)
	require.Equal(t, `json_remove(data,'$."name"')`, expr)
	require.Empty(t, params)
}

func TestTranslateInc(t *testing.T) {
	tr := New(pathexpr.New(false))
	expr, params, ok := tr.Translate(map[string]any{"$inc": map[string]any{"count": 1}})
	require.True(t, ok)
	require.Equal(t, `json_set(data,'$."count"',(coalesce(json_extract(data,'$."count"'), 0) + ?))`, expr)
	require.Equal(t, []any{1.0}, params)
}

func TestTranslateIncRejectsString(t *testing.T) {
	tr := New(pathexpr.New(false))
	_, _, ok := tr.Translate(map[string]any{"$inc": map[string]any{"count": "5"}})
	require.False(t, ok)
}

func TestTranslateMulRejectsBool(t *testing.T) {
	tr := New(pathexpr.New(false))
	_, _, ok := tr.Translate(map[string]any{"$mul": map[string]any{"count": true}})
	require.False(t, ok)
}

func TestTranslateMinMax(t *testing.T) {
	tr := New(pathexpr.New(false))
	expr, params, ok := tr.Translate(map[string]any{"$max": map[string]any{"score": 10}})
	require.True(t, ok)
	require.Equal(t, `json_set(data,'$."score"',max(coalesce(json_extract(data,'$."score"'), ?), ?))`, expr)
	require.Equal(t, []any{10.0, 10.0}, params)
}

func TestTranslateComposesMultipleFields(t *testing.T) {
	tr := New(pathexpr.New(false))
	expr, _, ok := tr.Translate(map[string]any{"$set": map[string]any{"a": 1, "b": 2}})
	require.True(t, ok)
	require.Contains(t, expr, `json_set(json_set(data,`)
}

func TestTranslateRenameIsUnsupported(t *testing.T) {
	tr := New(pathexpr.New(false))
	_, _, ok := tr.Translate(map[string]any{"$rename": map[string]any{"old": "new"}})
	require.False(t, ok)
}

func TestTranslatePushIsUnsupported(t *testing.T) {
	tr := New(pathexpr.New(false))
	_, _, ok := tr.Translate(map[string]any{"$push": map[string]any{"tags": "x"}})
	require.False(t, ok)
}
