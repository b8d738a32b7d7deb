package quez

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, map[string]any{"n": 1.0}))

	var out map[string]any
	ok, err := q.Get(ctx, &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1.0, out["n"])
}

func TestFIFOOrder(t *testing.T) {
	q := New(10)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Put(ctx, map[string]any{"n": float64(i)}))
	}
	for i := 0; i < 5; i++ {
		var out map[string]any
		ok, err := q.Get(ctx, &out)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, float64(i), out["n"])
	}
}

func TestGetOnClosedEmptyQueueReturnsNotOK(t *testing.T) {
	q := New(2)
	q.Close()
	var out map[string]any
	ok, err := q.Get(context.Background(), &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPutOnClosedQueueErrors(t *testing.T) {
	q := New(2)
	q.Close()
	err := q.Put(context.Background(), map[string]any{"n": 1.0})
	require.Error(t, err)
}

func TestStatsTracksCompression(t *testing.T) {
	q := New(4)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, map[string]any{"value": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}))

	stats := q.Stats()
	require.Equal(t, 1, stats.Count)
	require.Greater(t, stats.RawSizeBytes, int64(0))
	require.Greater(t, stats.CompressionRatioPct, 0.0)
}

func TestEmptyAndLen(t *testing.T) {
	q := New(4)
	require.True(t, q.Empty())
	require.Equal(t, 0, q.Len())

	require.NoError(t, q.Put(context.Background(), map[string]any{"a": 1.0}))
	require.False(t, q.Empty())
	require.Equal(t, 1, q.Len())
}

func TestPutBlocksAtCapacityUntilGet(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, map[string]any{"n": 1.0}))

	putDone := make(chan error, 1)
	go func() {
		putDone <- q.Put(ctx, map[string]any{"n": 2.0})
	}()

	var out map[string]any
	ok, err := q.Get(ctx, &out)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, <-putDone)
}
