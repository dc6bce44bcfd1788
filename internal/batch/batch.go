// Package batch implements the micro-batch (C2): the immutable unit that
// crosses a channel, carrying a tagged sequence of items and, optionally,
// an end-of-scope marker.
package batch

import (
	"sync/atomic"

	"github.com/graphscope/pegasus/internal/tag"
)

// EndOfScope declares that, on the channel it travels, no batch tagged ≤ Tag
// will follow from any peer in PeersMask after GlobalCount batches have been
// delivered in total. An EndOfScope is attached to a Batch only on a batch
// whose Tag equals the end's Tag (§3 invariant 4).
type EndOfScope struct {
	Tag         tag.Tag
	PeersMask   uint64 // bit i set => peer worker i is covered by this end
	GlobalCount uint64
}

// header is the shared, refcounted state behind a Batch and its shares. It
// models "Ownership of batches through branching operators" (spec.md §9):
// a fork point hands out additional references rather than copying items.
type header struct {
	refs atomic.Int32
}

// Batch is the unit of data flow across a channel: a tag-stamped sequence of
// items, sealed once created, plus an optional end marker. The zero value is
// not valid; use New.
type Batch[T any] struct {
	tag      tag.Tag
	worker   int
	sequence uint64
	items    []T
	end      *EndOfScope
	hdr      *header
}

// New creates a data batch with no end marker, source worker and sequence
// number as given by the caller (the sequence number is the sender's
// monotonic counter for this channel, used to detect gaps under testing).
func New[T any](t tag.Tag, worker int, seq uint64, items []T) Batch[T] {
	h := &header{}
	h.refs.Store(1)
	return Batch[T]{tag: t, worker: worker, sequence: seq, items: items, hdr: h}
}

// Tag returns the batch's tag.
func (b Batch[T]) Tag() tag.Tag { return b.tag }

// SourceWorker returns the worker that produced this batch.
func (b Batch[T]) SourceWorker() int { return b.worker }

// Sequence returns the sender-assigned sequence number.
func (b Batch[T]) Sequence() uint64 { return b.sequence }

// Items returns the batch's payload. Callers must not mutate the returned
// slice: batches are sealed once created and may be shared (Share).
func (b Batch[T]) Items() []T { return b.items }

// Len returns the number of items carried.
func (b Batch[T]) Len() int { return len(b.items) }

// IsLast reports whether the batch carries an end marker.
func (b Batch[T]) IsLast() bool { return b.end != nil }

// TakeEnd extracts the end marker, if any, consuming it: the returned Batch
// no longer carries one. Safe to call on a batch without an end (returns
// false).
func (b Batch[T]) TakeEnd() (Batch[T], EndOfScope, bool) {
	if b.end == nil {
		return b, EndOfScope{}, false
	}
	end := *b.end
	b.end = nil
	return b, end, true
}

// SetEnd attaches an end marker to the batch. end.Tag must equal the
// batch's own tag (§3 invariant 4) — callers that violate this have a bug
// in their fork/end bookkeeping, so SetEnd panics rather than silently
// producing a wire-invalid batch.
func (b Batch[T]) SetEnd(end EndOfScope) Batch[T] {
	if !end.Tag.Equal(b.tag) {
		panic("batch: SetEnd tag mismatch")
	}
	e := end
	b.end = &e
	return b
}

// EndMarker builds a pure end-marker batch: empty items, carrying only the
// EndOfScope. This is the canonical way to propagate pure progress without
// data (§4.2).
func EndMarker[T any](end EndOfScope, worker int, seq uint64) Batch[T] {
	b := New[T](end.Tag, worker, seq, nil)
	return b.SetEnd(end)
}

// Share produces an additional reference to the same underlying batch for a
// sibling downstream consumer — used by fork points such as the iteration
// controller's main-input duplication (§4.2, §9). The returned Batch shares
// the same immutable items slice; mutating Items() after Share is a misuse
// of the contract and is not guarded against, matching the "batches are
// sealed once created" invariant.
func (b Batch[T]) Share() Batch[T] {
	b.hdr.refs.Add(1)
	return b
}

// Release drops one reference. It returns true when this was the last
// reference, i.e. the batch's storage is no longer owned by anyone and may
// be recycled by a pooling allocator. Releasing a batch whose refcount is
// already at zero is a programming error.
func (b Batch[T]) Release() bool {
	n := b.hdr.refs.Add(-1)
	if n < 0 {
		panic("batch: Release of already-released batch")
	}
	return n == 0
}
