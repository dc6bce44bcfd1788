package operator

import (
	"github.com/graphscope/pegasus/internal/batch"
	"github.com/graphscope/pegasus/internal/tag"
)

// TransformFunc maps one input item to zero or more output items, covering
// map (always one out), filter (zero or one out) and flat_map (any number
// out) behind a single shape, per spec.md §6's builder helpers.
type TransformFunc[T any] func(T) []T

// Transform is a single-input, single-output operator core used to build
// map/filter/flat_map/enter_scope/leave_scope (§6): every item on the main
// input is run through fn and the results pushed to the main output under
// tagFn(tag). tagFn is the identity for map/filter/flat_map and
// child(_,0)/parent for enter_scope/leave_scope — the two scope-rewriting
// helpers are this same adapter with items passed through untouched and
// only the tag rewritten.
type Transform[T any] struct {
	fn     TransformFunc[T]
	tagFn  func(tag.Tag) tag.Tag
	inCh   int
}

// NewTransform builds a Transform core. tagFn may be nil, meaning the
// identity (no scope change) — the common case for map/filter/flat_map.
func NewTransform[T any](inCh int, fn TransformFunc[T], tagFn func(tag.Tag) tag.Tag) *Transform[T] {
	if tagFn == nil {
		tagFn = func(t tag.Tag) tag.Tag { return t }
	}
	return &Transform[T]{fn: fn, tagFn: tagFn, inCh: inCh}
}

// MapOf builds the TransformFunc for a 1-in/1-out map.
func MapOf[T any](f func(T) T) TransformFunc[T] {
	return func(v T) []T { return []T{f(v)} }
}

// FilterOf builds the TransformFunc for a 1-in/0-or-1-out filter.
func FilterOf[T any](pred func(T) bool) TransformFunc[T] {
	return func(v T) []T {
		if pred(v) {
			return []T{v}
		}
		return nil
	}
}

func (c *Transform[T]) OnReceive(io *IO[T]) (Outcome, error) {
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
		if err := c.forward(b, out); err != nil {
			return Idle(), err
		}
	}
}

// forward applies fn to every item in b and pushes the results under
// tagFn(tag). b's own end marker, if any, is not acted on here: closure is
// driven exclusively by the End/EOS notifications OnNotify forwards, once
// the progress tracker has actually confirmed the scope is quiescent
// (spec.md §4.4) — forwarding on the data-path end marker directly would
// risk announcing End before every batch for the tag has truly drained.
func (c *Transform[T]) forward(b batch.Batch[T], out *OutputPort[T]) error {
	outTag := c.tagFn(b.Tag())
	if n := b.Len(); n > 0 {
		results := make([]T, 0, n)
		for _, item := range b.Items() {
			results = append(results, c.fn(item)...)
		}
		if len(results) > 0 {
			if _, err := out.Push(outTag, results); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Transform[T]) OnActive(tags []tag.Tag, out *Outputs[T]) (Outcome, error) {
	return Idle(), nil
}

// OnNotify forwards End/EOS closures seen on the single input channel to
// the single output channel, rewriting the tag via tagFn — this is what
// lets a scope-rewriting operator (enter_scope/leave_scope) participate in
// progress closure (§4.4) without the caller having to special-case it.
func (c *Transform[T]) OnNotify(ns []Notification, out *Outputs[T]) error {
	o := out.Main()
	for _, n := range ns {
		if n.Channel != c.inCh {
			continue
		}
		switch n.Kind {
		case NotifyEnd:
			outTag := c.tagFn(n.Tag)
			o.PushEnd(batch.EndOfScope{Tag: outTag, GlobalCount: 1})
			if err := o.Tracker().RecordEnd(o.Ctx(), o.Channel(), outTag); err != nil {
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
