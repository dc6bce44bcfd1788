package eventbus

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/graphscope/pegasus/internal/log"
)

// Bus is the reliable progress event transport shared by every worker in a
// job. Like the channel package's link matrix, it holds one queue per
// (sender, receiver) pair so per-pair ordering (spec.md §4.3 "Events ...
// ordered per (source, destination) pair") is structural rather than
// bookkept by hand.
type Bus struct {
	numPeers  int
	queueSize int
	queues    [][]chan Event // queues[sender][receiver]

	published atomic.Int64
	delivered atomic.Int64
	closed    atomic.Bool
}

// New allocates a bus for a job running with numPeers workers. queueSize
// bounds each pairwise queue; Send blocks if a peer's queue is full,
// matching the "reliable" delivery guarantee (events are not dropped).
func New(numPeers, queueSize int) *Bus {
	b := &Bus{numPeers: numPeers, queueSize: queueSize}
	b.queues = make([][]chan Event, numPeers)
	for i := range b.queues {
		b.queues[i] = make([]chan Event, numPeers)
		for j := range b.queues[i] {
			b.queues[i][j] = make(chan Event, queueSize)
		}
	}
	return b
}

// Send delivers ev from source to a single dest. It blocks (respecting ctx)
// if dest's queue is momentarily full; it never silently drops an event.
func (b *Bus) Send(ctx context.Context, source, dest int, ev Event) error {
	if b.closed.Load() {
		return fmt.Errorf("eventbus: closed")
	}
	select {
	case b.queues[source][dest] <- ev:
		b.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast delivers ev from source to every peer, source included.
func (b *Bus) Broadcast(ctx context.Context, source int, ev Event) error {
	for dest := 0; dest < b.numPeers; dest++ {
		if err := b.Send(ctx, source, dest, ev); err != nil {
			return err
		}
	}
	return nil
}

// BroadcastExclude delivers ev from source to every peer except source
// itself (used for Cancel fan-out per spec.md §4.7).
func (b *Bus) BroadcastExclude(ctx context.Context, source int, ev Event) error {
	for dest := 0; dest < b.numPeers; dest++ {
		if dest == source {
			continue
		}
		if err := b.Send(ctx, source, dest, ev); err != nil {
			return err
		}
	}
	return nil
}

// TryRecv drains the next available event addressed to self from any
// sender, or ok=false if nothing is queued. Like channel.End.TryPull, this
// is the worker loop's non-blocking suspension check (spec.md §4.9).
func (b *Bus) TryRecv(self int) (ev Event, sender int, ok bool) {
	for src := 0; src < b.numPeers; src++ {
		select {
		case ev = <-b.queues[src][self]:
			b.delivered.Add(1)
			return ev, src, true
		default:
		}
	}
	return Event{}, 0, false
}

// Stats reports bus-wide publish/delivery counters for metrics export.
type Stats struct {
	Published int64
	Delivered int64
}

func (b *Bus) Stats() Stats {
	return Stats{Published: b.published.Load(), Delivered: b.delivered.Load()}
}

// Close marks the bus closed; further Send calls fail. Queued, undelivered
// events remain readable via TryRecv so in-flight progress is not lost.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	log.GetLogger().WithField("published", b.published.Load()).WithField("delivered", b.delivered.Load()).Info("eventbus closed")
	return nil
}
