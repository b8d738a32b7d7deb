package docval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neosqlitego/neosqlite/objectid"
)

func TestFromAnyToAnyRoundTrip(t *testing.T) {
	in := map[string]any{
		"name": "alice",
		"age":  int64(30),
		"tags": []any{"a", "b"},
		"nested": map[string]any{
			"active": true,
		},
	}
	v := FromAny(in)
	obj, ok := v.(Object)
	require.True(t, ok)
	require.Equal(t, String("alice"), obj["name"])
	require.Equal(t, Int64(30), obj["age"])

	out := ToAny(v).(map[string]any)
	require.Equal(t, "alice", out["name"])
	require.Equal(t, int64(30), out["age"])
}

func TestFromAnyDecodesObjectIdTag(t *testing.T) {
	id := objectid.New()
	v := FromAny(id.EncodeForStorage())
	idVal, ok := v.(ObjectIdValue)
	require.True(t, ok)
	require.Equal(t, id, idVal.ObjectId)
}

func TestGetSetRemovePath(t *testing.T) {
	root := Object{"a": Object{"b": Int64(1)}}

	v, ok := GetPath(root, "a.b")
	require.True(t, ok)
	require.Equal(t, Int64(1), v)

	SetPath(root, "a.c", String("x"))
	v2, ok := GetPath(root, "a.c")
	require.True(t, ok)
	require.Equal(t, String("x"), v2)

	RemovePath(root, "a.b")
	_, ok = GetPath(root, "a.b")
	require.False(t, ok)
}

func TestTruthy(t *testing.T) {
	require.False(t, Truthy(Null{}))
	require.False(t, Truthy(nil))
	require.False(t, Truthy(Int64(0)))
	require.False(t, Truthy(Bool(false)))
	require.True(t, Truthy(Bool(true)))
	require.True(t, Truthy(String("")))
	require.True(t, Truthy(Float64(0.1)))
}

func TestTypeName(t *testing.T) {
	require.Equal(t, "string", TypeName(String("x")))
	require.Equal(t, "long", TypeName(Int64(1)))
	require.Equal(t, "double", TypeName(Float64(1)))
	require.Equal(t, "date", TypeName(Datetime(time.Now())))
	require.Equal(t, "objectId", TypeName(ObjectIdValue{objectid.New()}))
}

func TestToFloat64AndToInt64(t *testing.T) {
	f, ok := ToFloat64(Int64(5))
	require.True(t, ok)
	require.Equal(t, 5.0, f)

	i, ok := ToInt64(Float64(5.9))
	require.True(t, ok)
	require.Equal(t, int64(5), i)

	_, ok = ToFloat64(String("x"))
	require.False(t, ok)
}
