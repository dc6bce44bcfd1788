package operator

import (
	"github.com/graphscope/pegasus/internal/batch"
	"github.com/graphscope/pegasus/internal/tag"
)

// Branch is the operator core behind the §6 branch builder helper: one
// input, two named outputs ("true", "false") chosen per item by pred.
// Scope level and tag are unchanged on either side — a branch is a fan-out
// of the same scope, not a scope boundary.
type Branch[T any] struct {
	pred func(T) bool
	inCh int
}

// NewBranch builds a Branch core routing items satisfying pred to the
// "true" output and the rest to "false".
func NewBranch[T any](inCh int, pred func(T) bool) *Branch[T] {
	return &Branch[T]{pred: pred, inCh: inCh}
}

func (c *Branch[T]) OnReceive(io *IO[T]) (Outcome, error) {
	in := io.In.Main()
	trueOut := io.Out.Port("true")
	falseOut := io.Out.Port("false")
	for {
		b, ok, err := in.TryPull()
		if err != nil {
			return Idle(), err
		}
		if !ok {
			return Idle(), nil
		}
		if err := c.route(b, trueOut, falseOut); err != nil {
			return Idle(), err
		}
	}
}

// route splits b's items between the two outputs. b's own end marker is
// not acted on here; OnNotify forwards closure once the tracker confirms
// it, same rationale as Transform.forward.
func (c *Branch[T]) route(b batch.Batch[T], trueOut, falseOut *OutputPort[T]) error {
	if n := b.Len(); n > 0 {
		var t, f []T
		for _, item := range b.Items() {
			if c.pred(item) {
				t = append(t, item)
			} else {
				f = append(f, item)
			}
		}
		if len(t) > 0 {
			if _, err := trueOut.Push(b.Tag(), t); err != nil {
				return err
			}
		}
		if len(f) > 0 {
			if _, err := falseOut.Push(b.Tag(), f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Branch[T]) OnActive(tags []tag.Tag, out *Outputs[T]) (Outcome, error) {
	return Idle(), nil
}

// OnNotify forwards End/EOS on the single input channel to both branches —
// a scope closes on both sides regardless of which items actually flowed
// to each.
func (c *Branch[T]) OnNotify(ns []Notification, out *Outputs[T]) error {
	trueOut := out.Port("true")
	falseOut := out.Port("false")
	for _, n := range ns {
		if n.Channel != c.inCh {
			continue
		}
		switch n.Kind {
		case NotifyEnd:
			end := batch.EndOfScope{Tag: n.Tag, GlobalCount: 1}
			trueOut.PushEnd(end)
			falseOut.PushEnd(end)
			if err := trueOut.Tracker().RecordEnd(trueOut.Ctx(), trueOut.Channel(), n.Tag); err != nil {
				return err
			}
			if err := falseOut.Tracker().RecordEnd(falseOut.Ctx(), falseOut.Channel(), n.Tag); err != nil {
				return err
			}
		case NotifyEOS:
			if err := trueOut.Tracker().RecordEOS(trueOut.Ctx(), trueOut.Channel()); err != nil {
				return err
			}
			if err := falseOut.Tracker().RecordEOS(falseOut.Ctx(), falseOut.Channel()); err != nil {
				return err
			}
		}
	}
	return nil
}
