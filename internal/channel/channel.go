// Package channel implements the channel subsystem (C3): typed batch
// transport between operator ports, in its five variants (Pipeline,
// Exchange, Broadcast, Aggregate, ScopeExchange), plus the reliable
// out-of-band event bus progress travels on.
package channel

import (
	"github.com/graphscope/pegasus/internal/batch"
	"github.com/graphscope/pegasus/internal/tag"
)

// Kind identifies one of the five channel variants (spec.md §3, §4.3).
type Kind int

const (
	Pipeline Kind = iota
	Exchange
	Broadcast
	Aggregate
	ScopeExchange
)

func (k Kind) String() string {
	switch k {
	case Pipeline:
		return "pipeline"
	case Exchange:
		return "exchange"
	case Broadcast:
		return "broadcast"
	case Aggregate:
		return "aggregate"
	case ScopeExchange:
		return "scope_exchange"
	default:
		return "unknown"
	}
}

// KeyFunc computes the destination peer for a single item on an Exchange
// channel.
type KeyFunc[T any] func(item T) int

// TagFunc computes the destination peer for a ScopeExchange channel by
// routing on the batch's parent tag, so an entire nested scope collocates
// on one worker (used by the iteration controller's "enter loop").
type TagFunc func(parent tag.Tag) int

// Set is the shared backing storage for one channel id across every peer
// worker in the job. It owns the full peer×peer link matrix; each worker
// receives an *End bound to its own index.
type Set[T any] struct {
	id         int
	kind       Kind
	scopeLevel int
	numPeers   int
	links      [][]*link[batch.Batch[T]] // links[sender][receiver]
	keyFn      KeyFunc[T]
	tagFn      TagFunc
	aggDest    int
}

// NewSet allocates a channel with the given id, kind and scope level for a
// job running with numPeers workers. keyFn is required for Exchange, tagFn
// for ScopeExchange, aggDest (a peer index) for Aggregate; the others are
// ignored for kinds that don't use them.
func NewSet[T any](id int, kind Kind, scopeLevel, numPeers int, keyFn KeyFunc[T], tagFn TagFunc, aggDest int) *Set[T] {
	links := make([][]*link[batch.Batch[T]], numPeers)
	for i := range links {
		links[i] = make([]*link[batch.Batch[T]], numPeers)
		for j := range links[i] {
			links[i][j] = newLink[batch.Batch[T]]()
		}
	}
	return &Set[T]{
		id:         id,
		kind:       kind,
		scopeLevel: scopeLevel,
		numPeers:   numPeers,
		links:      links,
		keyFn:      keyFn,
		tagFn:      tagFn,
		aggDest:    aggDest,
	}
}

// ID returns the channel's job-unique id.
func (s *Set[T]) ID() int { return s.id }

// Kind returns the channel variant.
func (s *Set[T]) Kind() Kind { return s.kind }

// ScopeLevel returns the tag length required of every batch on this channel.
func (s *Set[T]) ScopeLevel() int { return s.scopeLevel }

// NumPeers returns the number of workers participating in this channel.
func (s *Set[T]) NumPeers() int { return s.numPeers }

// End returns the view of this channel bound to worker index self.
func (s *Set[T]) End(self int) *End[T] {
	return &End[T]{set: s, self: self}
}

// End is one worker's view onto a channel Set: the send side (routing
// outgoing batches to the right peer links) and the receive side (draining
// this worker's inbound links from every peer).
type End[T any] struct {
	set       *Set[T]
	self      int
	pollNext  int // round-robin cursor over inbound senders
	cancelled *cancelledSet
}

// ID, Kind, ScopeLevel delegate to the backing Set.
func (e *End[T]) ID() int           { return e.set.ID() }
func (e *End[T]) Kind() Kind        { return e.set.Kind() }
func (e *End[T]) ScopeLevel() int   { return e.set.ScopeLevel() }
func (e *End[T]) Self() int         { return e.self }
func (e *End[T]) NumPeers() int     { return e.set.NumPeers() }

// Push routes b to the appropriate peer(s) according to the channel's kind,
// per spec.md §4.3. It never blocks.
func (e *End[T]) Push(b batch.Batch[T]) {
	if b.Tag().Level() != e.set.scopeLevel {
		panic("channel: batch tag level does not match channel scope level")
	}
	switch e.set.kind {
	case Pipeline:
		e.set.links[e.self][e.self].push(b)

	case Aggregate:
		e.set.links[e.self][e.set.aggDest].push(b)

	case Broadcast:
		for dest := 0; dest < e.set.numPeers; dest++ {
			e.set.links[e.self][dest].push(b.Share())
		}

	case Exchange:
		e.pushPartitioned(b, func(item T) int { return e.set.keyFn(item) })

	case ScopeExchange:
		dest := e.set.tagFn(b.Tag().Parent())
		e.set.links[e.self][dest].push(b)

	default:
		panic("channel: unknown kind")
	}
}

// pushPartitioned splits b's items by destFn and pushes one sub-batch per
// destination that received items, preserving per-destination item order.
// An end marker, if present, is delivered to every peer so downstream
// progress closure sees an End from this sender regardless of whether it
// routed any data there this round.
func (e *End[T]) pushPartitioned(b batch.Batch[T], destFn func(T) int) {
	byDest := make(map[int][]T)
	order := make([]int, 0, e.set.numPeers)
	for _, item := range b.Items() {
		d := destFn(item)
		if _, seen := byDest[d]; !seen {
			order = append(order, d)
		}
		byDest[d] = append(byDest[d], item)
	}

	_, end, hasEnd := b.TakeEnd()

	for _, d := range order {
		sub := batch.New(b.Tag(), b.SourceWorker(), b.Sequence(), byDest[d])
		if hasEnd {
			sub = sub.SetEnd(end)
		}
		e.set.links[e.self][d].push(sub)
	}

	if hasEnd {
		for dest := 0; dest < e.set.numPeers; dest++ {
			if _, already := byDest[dest]; already {
				continue
			}
			e.set.links[e.self][dest].push(batch.EndMarker[T](end, b.SourceWorker(), b.Sequence()))
		}
	}
}

// TryPull returns the next available batch from any sending peer, or
// ok=false if every inbound link is currently empty. Polling is round-robin
// across senders so no single fast sender starves the others.
func (e *End[T]) TryPull() (b batch.Batch[T], sender int, ok bool) {
	n := e.set.numPeers
	for i := 0; i < n; i++ {
		src := (e.pollNext + i) % n
		if v, found := e.set.links[src][e.self].tryPop(); found {
			e.pollNext = (src + 1) % n
			return e.discardIfCancelled(v), src, true
		}
	}
	return b, 0, false
}

// discardIfCancelled implements §4.7 step 2: a batch whose tag was
// cancelled after it was already in flight is delivered item-less,
// retaining only its end marker so progress closure still fires.
func (e *End[T]) discardIfCancelled(b batch.Batch[T]) batch.Batch[T] {
	if e.cancelled == nil || !e.cancelled.covers(b.Tag()) {
		return b
	}
	if b2, end, ok := b.TakeEnd(); ok {
		return batch.EndMarker[T](end, b2.SourceWorker(), b2.Sequence())
	}
	return batch.New[T](b.Tag(), b.SourceWorker(), b.Sequence(), nil)
}

// Pending returns the number of batches queued on the link from sender to
// this worker, used by the progress tracker to decide quiescence.
func (e *End[T]) Pending(sender int) int {
	return e.set.links[sender][e.self].len()
}

// HasAny reports whether any inbound link (from any peer) currently has a
// batch queued, used by the operator wrapper to decide whether an operator
// has input to offer the scheduler this step.
func (e *End[T]) HasAny() bool {
	for src := 0; src < e.set.numPeers; src++ {
		if e.set.links[src][e.self].len() > 0 {
			return true
		}
	}
	return false
}
