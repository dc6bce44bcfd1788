package operator

import (
	"context"

	"github.com/graphscope/pegasus/internal/batch"
	"github.com/graphscope/pegasus/internal/cancel"
	"github.com/graphscope/pegasus/internal/tag"
)

// Canceller is the narrow surface Limit needs from the cancellation graph
// (C7) to walk a scope's cancellation backward from an early-exit operator,
// per spec.md §4.7 and the S5 scenario.
type Canceller interface {
	CancelScope(ctx context.Context, ch int, t tag.Tag, cascade bool) error
}

var _ Canceller = (*cancel.Graph)(nil)

// Limit is the operator core behind a leaf early-exit operator (§6's
// "implementers must be able to add such operators"; S5's
// source -> map -> limit(5) -> sink): it passes through at most n items per
// tag, then calls CancelScope on its own input once that cap is reached so
// the upstream source stops producing, per spec.md §4.7.
type Limit[T any] struct {
	n           int
	inCh        int
	cancelGraph Canceller
	cascade     bool

	seen      map[string]int
	cancelled map[string]bool
}

// NewLimit builds a Limit core capping each tag's output at n items. inCh
// is Limit's own input channel id (the one cancellation is issued against);
// cascade mirrors the job's enable_cancel_child setting (§6).
func NewLimit[T any](n, inCh int, cg Canceller, cascade bool) *Limit[T] {
	return &Limit[T]{
		n:           n,
		inCh:        inCh,
		cancelGraph: cg,
		cascade:     cascade,
		seen:        make(map[string]int),
		cancelled:   make(map[string]bool),
	}
}

func (c *Limit[T]) OnReceive(io *IO[T]) (Outcome, error) {
	in := io.In.Main()
	out := io.Out.Main()
	for {
		b, ok, err := in.TryPull()
		if err != nil {
			return Idle(), err
		}
		if !ok {
			return Idle(), nil
		}
		if err := c.forward(in.Ctx(), b, out); err != nil {
			return Idle(), err
		}
	}
}

// forward passes through up to n items per tag and triggers CancelScope
// the first time a tag's cap is reached. b's own end marker is not acted
// on here: closure is driven exclusively by OnNotify, same rationale as
// Transform.forward.
func (c *Limit[T]) forward(ctx context.Context, b batch.Batch[T], out *OutputPort[T]) error {
	key := b.Tag().Key()
	remaining := c.n - c.seen[key]
	items := b.Items()
	if remaining < 0 {
		remaining = 0
	}
	if len(items) > remaining {
		items = items[:remaining]
	}
	c.seen[key] += len(items)
	if len(items) > 0 {
		if _, err := out.Push(b.Tag(), items); err != nil {
			return err
		}
	}

	if c.seen[key] >= c.n && !c.cancelled[key] {
		c.cancelled[key] = true
		return c.cancelGraph.CancelScope(ctx, c.inCh, b.Tag(), c.cascade)
	}
	return nil
}

func (c *Limit[T]) OnActive(tags []tag.Tag, out *Outputs[T]) (Outcome, error) {
	return Idle(), nil
}

// OnNotify forwards End/EOS unconditionally once the upstream reports
// them — matching CancelHonored's guarantee (§7) that End still arrives
// for a cancelled scope regardless of how many items were actually
// delivered before the cap was reached.
func (c *Limit[T]) OnNotify(ns []Notification, out *Outputs[T]) error {
	o := out.Main()
	for _, n := range ns {
		if n.Channel != c.inCh {
			continue
		}
		switch n.Kind {
		case NotifyEnd:
			delete(c.seen, n.Tag.Key())
			o.PushEnd(batch.EndOfScope{Tag: n.Tag, GlobalCount: 1})
			if err := o.Tracker().RecordEnd(o.Ctx(), o.Channel(), n.Tag); err != nil {
				return err
			}
		case NotifyEOS:
			if err := o.Tracker().RecordEOS(o.Ctx(), o.Channel()); err != nil {
				return err
			}
		}
	}
	return nil
}
