package changestream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchReceivesEmittedEvent(t *testing.T) {
	s := New()
	w := s.Watch()
	defer w.Close()

	go s.Emit(Event{OperationType: Insert, Collection: "widgets", DocumentKey: 1})

	ev, ok := w.Next(context.Background(), time.Second)
	require.True(t, ok)
	require.Equal(t, Insert, ev.OperationType)
	require.Equal(t, "widgets", ev.Collection)
}

func TestWatchMultipleWatchersEachReceiveEvent(t *testing.T) {
	s := New()
	w1 := s.Watch()
	w2 := s.Watch()
	defer w1.Close()
	defer w2.Close()

	s.Emit(Event{OperationType: Update, Collection: "widgets"})

	ev1, ok1 := w1.Next(context.Background(), time.Second)
	ev2, ok2 := w2.Next(context.Background(), time.Second)
	require.True(t, ok1)
	require.True(t, ok2)
	require.Equal(t, Update, ev1.OperationType)
	require.Equal(t, Update, ev2.OperationType)
}

func TestNextExpiresOnMaxAwaitTimeout(t *testing.T) {
	s := New()
	w := s.Watch()
	defer w.Close()

	_, ok := w.Next(context.Background(), 10*time.Millisecond)
	require.False(t, ok)
}

func TestNextEndsOnStreamClose(t *testing.T) {
	s := New()
	w := s.Watch()

	s.Close()

	_, ok := w.Next(context.Background(), time.Second)
	require.False(t, ok)
}

func TestWatchAfterCloseReturnsClosedWatcher(t *testing.T) {
	s := New()
	s.Close()

	w := s.Watch()
	_, ok := w.Next(context.Background(), time.Second)
	require.False(t, ok)
}

func TestNextRespectsParentContextCancellation(t *testing.T) {
	s := New()
	w := s.Watch()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := w.Next(ctx, time.Second)
	require.False(t, ok)
}
