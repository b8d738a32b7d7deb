// Package changestream implements the minimal watch() contract (spec.md
// §4.7/Glossary, §8 "max_await_time_ms caps change-stream waits"):
// change-stream transport mechanics are explicitly out of scope (spec.md
// §1), so this package only carries the observable surface a caller can
// depend on — a channel of change events and an await-timeout that ends
// iteration rather than a wire protocol to some external tailing
// mechanism.
//
// Grounded on atomicbase's job-cancellation idiom in
// api/platform/jobs.go (context.WithTimeout + select on ctx.Done()/
// time.After, checkCancelled-style guards) generalized from "cancel a
// migration batch" to "expire a change-stream wait".
package changestream

import (
	"context"
	"sync"
	"time"
)

// OperationType identifies the kind of change an event describes.
type OperationType string

const (
	Insert  OperationType = "insert"
	Update  OperationType = "update"
	Replace OperationType = "replace"
	Delete  OperationType = "delete"
)

// Event is one change-stream document. As emitted by package collection,
// insert events carry the document's "_id" in DocumentKey and the
// document in FullDocument; replace events carry the new document in
// FullDocument; update events carry the update document in
// UpdatedFields; delete events carry no document fields.
type Event struct {
	OperationType OperationType
	Collection    string
	DocumentKey   any
	FullDocument  map[string]any
	UpdatedFields map[string]any
	RemovedFields []string
}

// Stream is an in-process change feed for one collection: writers Emit
// events as they occur, and one or more watchers Next() them with an
// optional max-await timeout.
type Stream struct {
	mu       sync.Mutex
	watchers map[int]chan Event
	nextID   int
	closed   bool
}

// New returns an empty Stream.
func New() *Stream {
	return &Stream{watchers: make(map[int]chan Event)}
}

// Emit broadcasts an event to every active watcher. Non-blocking per
// watcher: a watcher that isn't currently receiving does not stall
// writers, consistent with change streams being a best-effort tail, not
// a durable queue.
func (s *Stream) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close shuts down the stream: all active and future watchers observe
// end-of-stream.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
}

// Watcher is a single watch() cursor over a Stream.
type Watcher struct {
	stream *Stream
	id     int
	events chan Event
}

// Watch registers a new Watcher on the stream.
func (s *Stream) Watch() *Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, 16)
	id := s.nextID
	s.nextID++
	if s.closed {
		close(ch)
	} else {
		s.watchers[id] = ch
	}
	return &Watcher{stream: s, id: id, events: ch}
}

// Next blocks for the next event, up to maxAwait (0 means wait
// indefinitely until ctx is done or the stream closes). ok is false when
// the stream closed or maxAwait/ctx expired, per spec.md §8's "expiry
// raises the iterator's end-of-stream signal".
func (w *Watcher) Next(ctx context.Context, maxAwait time.Duration) (ev Event, ok bool) {
	waitCtx := ctx
	if maxAwait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, maxAwait)
		defer cancel()
	}

	select {
	case ev, open := <-w.events:
		return ev, open
	case <-waitCtx.Done():
		return Event{}, false
	}
}

// Close unregisters the watcher from its stream.
func (w *Watcher) Close() {
	w.stream.mu.Lock()
	defer w.stream.mu.Unlock()
	if ch, ok := w.stream.watchers[w.id]; ok {
		delete(w.stream.watchers, w.id)
		close(ch)
	}
}
