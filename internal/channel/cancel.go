package channel

import (
	"sync"

	"github.com/graphscope/pegasus/internal/batch"
	"github.com/graphscope/pegasus/internal/tag"
)

// cancelledSet tracks which tags have been cancelled on the receive side of
// an End, for the cancellation protocol (C7, spec.md §4.7). It is kept
// separate from the link matrix because cancellation is a receiver-local
// decision: the sender keeps producing until the backward Cancel event
// reaches it.
type cancelledEntry struct {
	t       tag.Tag
	cascade bool
}

type cancelledSet struct {
	mu      sync.RWMutex
	entries map[string]cancelledEntry
}

func newCancelledSet() *cancelledSet {
	return &cancelledSet{entries: make(map[string]cancelledEntry)}
}

func (c *cancelledSet) add(t tag.Tag, cascade bool) {
	c.mu.Lock()
	c.entries[t.Key()] = cancelledEntry{t: t, cascade: cascade}
	c.mu.Unlock()
}

// covers reports whether t was itself cancelled, or descends from a tag
// that was cancelled with cascade enabled.
func (c *cancelledSet) covers(t tag.Tag) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.t.Equal(t) {
			return true
		}
		if e.cascade && e.t.IsAncestorOf(t) {
			return true
		}
	}
	return false
}

// Cancel marks t (and, if cascade, any already-open descendant scope) as
// cancelled on the receive side of e, per spec.md §4.7 step 2. Already
// queued data batches for the cancelled scope are dropped immediately (step
// 1); end markers are preserved so scope closure still happens. cascade
// should be the job's enable_cancel_child setting (spec.md §6).
func (e *End[T]) Cancel(t tag.Tag, cascade bool) {
	if e.cancelled == nil {
		e.cancelled = newCancelledSet()
	}
	e.cancelled.add(t, cascade)
	e.dropQueuedData(t, cascade)
}

// IsCancelled reports whether data for tag t should be discarded on receipt.
func (e *End[T]) IsCancelled(t tag.Tag) bool {
	if e.cancelled == nil {
		return false
	}
	return e.cancelled.covers(t)
}

// dropQueuedData removes queued items for t (and descendants, if cascade)
// from every inbound link, keeping any end-marker batches so progress
// closure is unaffected — "data in flight prior to the cancel may still
// arrive and be discarded at the consumer. The scope's End is still
// delivered" (spec.md §4.7 ordering guarantee).
func (e *End[T]) dropQueuedData(t tag.Tag, cascade bool) {
	matches := func(bt tag.Tag) bool {
		if bt.Equal(t) {
			return true
		}
		return cascade && t.IsAncestorOf(bt)
	}

	for src := 0; src < e.set.numPeers; src++ {
		l := e.set.links[src][e.self]
		l.mu.Lock()
		kept := l.q[:0]
		for _, b := range l.q {
			if matches(b.Tag()) {
				if _, end, ok := b.TakeEnd(); ok {
					kept = append(kept, batch.EndMarker[T](end, b.SourceWorker(), b.Sequence()))
				}
				continue
			}
			kept = append(kept, b)
		}
		l.q = kept
		l.mu.Unlock()
	}
}
