// Package cursor implements the Cursor/RawBatchCursor (spec.md §4.9,
// component M) and AggregationCursor with its quez bridge (component
// N): lazy iteration over a decoded document slice, with batching, host-side sort (fallback path only), and — when the
// estimated result size crosses a threshold — a producer goroutine
// streaming into a quez.Queue instead of materialising everything.
//
// Grounded almost directly on
// original_source/neosqlite/aggregation_cursor.py: the same
// batch_size/use_quez/to_list/sort chainable-setter shape, with Python
// threading translated to a Go goroutine + context cancellation, and
// the optional-quez-import pattern translated to "quez is always
// available" (it's an ordinary Go package here, not an optional native
// extension).
package cursor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/neosqlitego/neosqlite/docval"
	"github.com/neosqlitego/neosqlite/quez"
)

// defaultMemoryThresholdBytes mirrors original_source's 100MB default.
const defaultMemoryThresholdBytes = 100 * 1024 * 1024

// Cursor is a lazy iterator over an already-materialised document slice
// (Tier-1/Tier-2 results are always decoded ahead of cursor construction
// in this design, since the driver itself streams SQL rows; Cursor adds
// the find()-level batch_size and sort on top, while skip and limit are
// not applied by Cursor).
type Cursor struct {
	docs      []docval.Object
	position  int
	batchSize int
}

// New returns a Cursor over docs, with skip/limit already applied by the
// caller (the Query Helper or Tier-3's own stage application) and sort
// applied here if requested, since sort is a host-only fallback concern
// per spec.md §4.9.
func New(docs []docval.Object) *Cursor {
	return &Cursor{docs: docs, batchSize: 100}
}

// BatchSize sets the batch size used by NextBatch; returns the cursor
// for chaining, matching original_source's fluent setter style.
func (c *Cursor) BatchSize(n int) *Cursor {
	c.batchSize = n
	return c
}

// Sort orders the cursor's remaining documents in place by the given
// dotted field (ascending unless desc is true). Only meaningful on the
// host-side fallback path: a SQL-backed result is already ordered by
// its own ORDER BY and should not be re-sorted here.
func (c *Cursor) Sort(field string, desc bool) *Cursor {
	sort.SliceStable(c.docs, func(i, j int) bool {
		a, _ := docval.GetPath(c.docs[i], field)
		b, _ := docval.GetPath(c.docs[j], field)
		less := lessValue(a, b)
		if desc {
			return !less && !equalValue(a, b)
		}
		return less
	})
	return c
}

func lessValue(a, b docval.Value) bool {
	if af, aok := docval.ToFloat64(a); aok {
		if bf, bok := docval.ToFloat64(b); bok {
			return af < bf
		}
	}
	return fmt.Sprint(docval.ToAny(a)) < fmt.Sprint(docval.ToAny(b))
}

func equalValue(a, b docval.Value) bool {
	return fmt.Sprint(docval.ToAny(a)) == fmt.Sprint(docval.ToAny(b))
}

// Next returns the next document, or (nil, false) at end of stream.
func (c *Cursor) Next() (docval.Object, bool) {
	if c.position >= len(c.docs) {
		return nil, false
	}
	d := c.docs[c.position]
	c.position++
	return d, true
}

// NextBatch returns up to BatchSize remaining documents.
func (c *Cursor) NextBatch() []docval.Object {
	if c.position >= len(c.docs) {
		return nil
	}
	end := c.position + c.batchSize
	if end > len(c.docs) {
		end = len(c.docs)
	}
	batch := c.docs[c.position:end]
	c.position = end
	return batch
}

// ToList drains the cursor into a single slice.
func (c *Cursor) ToList() []docval.Object {
	rest := c.docs[c.position:]
	c.position = len(c.docs)
	return rest
}

// Len reports the total document count (not just remaining).
func (c *Cursor) Len() int { return len(c.docs) }

// RawBatch renders a batch as newline-separated JSON (NDJSON), per
// spec.md §4.9's find_raw_batches: zero-copy forwarding of whole batches
// to clients that don't need per-document decoding on this side.
func RawBatch(docs []docval.Object) []byte {
	var out []byte
	for _, d := range docs {
		line, err := json.Marshal(docval.ToAny(d))
		if err != nil {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

// RawBatchCursor wraps Cursor to yield NDJSON batches instead of decoded
// documents, per spec.md §4.9.
type RawBatchCursor struct {
	inner *Cursor
}

// NewRawBatch wraps a Cursor for raw-batch iteration.
func NewRawBatch(c *Cursor) *RawBatchCursor { return &RawBatchCursor{inner: c} }

// NextRawBatch returns the next batch as NDJSON bytes, or nil at end of
// stream.
func (r *RawBatchCursor) NextRawBatch() []byte {
	batch := r.inner.NextBatch()
	if batch == nil {
		return nil
	}
	return RawBatch(batch)
}

// AggregationCursor wraps a (possibly still-running) aggregation,
// bridging to a quez.Queue when the estimated result size warrants it,
// per spec.md §4.9.
type AggregationCursor struct {
	docs   []docval.Object // set directly when quez is not used
	queue  *quez.Queue     // set when quez is used
	cancel context.CancelFunc
	closed bool

	batchSize            int
	useQuez              bool
	memoryThresholdBytes int64
}

// NewAggregation returns an AggregationCursor over an already-executed
// result slice (Tier-1/Tier-2/Tier-3 always decode before constructing
// one, since the underlying driver doesn't expose a streaming row
// iterator across this package boundary).
func NewAggregation(docs []docval.Object) *AggregationCursor {
	return &AggregationCursor{docs: docs, batchSize: 1000, memoryThresholdBytes: defaultMemoryThresholdBytes}
}

// BatchSize sets the producer->consumer batch size for quez mode.
func (a *AggregationCursor) BatchSize(n int) *AggregationCursor {
	a.batchSize = n
	return a
}

// MemoryThreshold overrides the default 100MiB quez activation threshold.
func (a *AggregationCursor) MemoryThreshold(bytes int64) *AggregationCursor {
	a.memoryThresholdBytes = bytes
	return a
}

// UseQuez enables quez mode if estimatedSizeBytes exceeds the configured
// threshold: the producer goroutine streams docs into a bounded
// compressed queue, and the consumer (Next/ToList) pulls from it
// instead of indexing a slice directly. Mirrors _execute's "estimated
// size > threshold" gate in original_source.
func (a *AggregationCursor) UseQuez(estimatedSizeBytes int64) *AggregationCursor {
	if estimatedSizeBytes <= a.memoryThresholdBytes {
		return a
	}
	a.useQuez = true

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.queue = quez.New(a.batchSize * 2)

	docs := a.docs
	go func() {
		defer a.queue.Close()
		for _, d := range docs {
			if err := a.queue.Put(ctx, docval.ToAny(d)); err != nil {
				return
			}
		}
	}()
	return a
}

// Next returns the next document. Under quez mode this blocks on the
// queue; otherwise it indexes the in-memory slice.
func (a *AggregationCursor) Next(ctx context.Context) (docval.Object, bool) {
	if a.useQuez {
		var raw any
		ok, err := a.queue.Get(ctx, &raw)
		if err != nil || !ok {
			return nil, false
		}
		return docval.FromAny(raw).(docval.Object), true
	}
	if len(a.docs) == 0 {
		return nil, false
	}
	d := a.docs[0]
	a.docs = a.docs[1:]
	return d, true
}

// ToList drains the cursor, joining the quez producer if running — safe
// to call after partial iteration, per spec.md §4.9.
func (a *AggregationCursor) ToList(ctx context.Context) []docval.Object {
	if !a.useQuez {
		out := a.docs
		a.docs = nil
		return out
	}
	var out []docval.Object
	for {
		var raw any
		ok, err := a.queue.Get(ctx, &raw)
		if err != nil || !ok {
			break
		}
		out = append(out, docval.FromAny(raw).(docval.Object))
	}
	return out
}

// QuezStats returns the running compression statistics; zero value if
// quez mode was never activated.
func (a *AggregationCursor) QuezStats() quez.Stats {
	if a.queue == nil {
		return quez.Stats{}
	}
	return a.queue.Stats()
}

// Close drops the producer goroutine (if any), per spec.md §5's
// cancellation invariant: closing a cursor signals the producer to exit
// rather than leaving it blocked on a full queue forever.
func (a *AggregationCursor) Close() {
	if a.closed {
		return
	}
	a.closed = true
	if a.cancel != nil {
		a.cancel()
	}
}

// EstimateResultSize estimates the byte size of an aggregation result —
// stage fan-out times mean row size — per spec.md §4.9's sizing
// contract used to decide whether UseQuez should activate.
func EstimateResultSize(sampleDocs []docval.Object, totalCount int) int64 {
	if len(sampleDocs) == 0 {
		return 0
	}
	var sampleBytes int64
	for _, d := range sampleDocs {
		b, err := json.Marshal(docval.ToAny(d))
		if err == nil {
			sampleBytes += int64(len(b))
		}
	}
	meanSize := sampleBytes / int64(len(sampleDocs))
	return meanSize * int64(totalCount)
}
