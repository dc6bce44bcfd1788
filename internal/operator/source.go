package operator

import (
	"github.com/graphscope/pegasus/internal/batch"
	"github.com/graphscope/pegasus/internal/tag"
)

// Iterator is the narrow interface a graph-storage adapter (or any other
// external collaborator) implements to feed a Source operator. It is the
// one point of contact between the core and the out-of-scope storage
// layer named in spec.md §1. Next should return at most n items; an
// exhausted iterator returns ok=false alongside any final items.
type Iterator[T any] interface {
	Next(n int) (items []T, ok bool)
}

// SliceIterator adapts a plain slice to Iterator, the common case for
// tests and for small literal plans (scenarios S1-S6).
type SliceIterator[T any] struct {
	items []T
	pos   int
}

// NewSliceIterator wraps items as an Iterator.
func NewSliceIterator[T any](items []T) *SliceIterator[T] {
	return &SliceIterator[T]{items: items}
}

func (s *SliceIterator[T]) Next(n int) ([]T, bool) {
	if s.pos >= len(s.items) {
		return nil, false
	}
	end := s.pos + n
	if end > len(s.items) {
		end = len(s.items)
	}
	out := s.items[s.pos:end]
	s.pos = end
	return out, s.pos < len(s.items)
}

// Source is the built-in source operator of spec.md §4.5: scope_level=0,
// no inputs, emits items from an Iterator until exhausted, then emits EOS
// on its outgoing channel. The core guarantees a Source is never admitted
// by the scheduler when no memory is available (§4.8 step 1); Source
// itself only needs to honor the per-firing budget it is handed.
type Source[T any] struct {
	iter      Iterator[T]
	batchSize int
	tg        tag.Tag
	done      bool
	cancelled bool
}

// NewSource builds a Source operator core pulling batchSize items at a
// time from iter, stamping every batch with tg (normally tag.Root()).
func NewSource[T any](iter Iterator[T], batchSize int, tg tag.Tag) *Source[T] {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Source[T]{iter: iter, batchSize: batchSize, tg: tg}
}

func (s *Source[T]) OnReceive(io *IO[T]) (Outcome, error) {
	if s.done {
		return Idle(), nil
	}
	out := io.Out.Main()
	if io.Budget.IsBlocked(s.tg) {
		return Active(s.tg), nil
	}

	var items []T
	more := false
	if !s.cancelled {
		items, more = s.iter.Next(s.batchSize)
	}
	if len(items) > 0 {
		if _, err := out.Push(s.tg, items); err != nil {
			return Idle(), err
		}
	}
	if !more {
		s.done = true
		out.PushEnd(batch.EndOfScope{Tag: s.tg, GlobalCount: 1})
		tr := out.Tracker()
		ctx := out.Ctx()
		if err := tr.RecordEnd(ctx, out.Channel(), s.tg); err != nil {
			return Idle(), err
		}
		if err := tr.RecordEOS(ctx, out.Channel()); err != nil {
			return Idle(), err
		}
		return Idle(), nil
	}
	return Active(s.tg), nil
}

func (s *Source[T]) OnActive(tags []tag.Tag, out *Outputs[T]) (Outcome, error) {
	return s.onReceiveNoBudget(out)
}

func (s *Source[T]) onReceiveNoBudget(out *Outputs[T]) (Outcome, error) {
	return s.OnReceive(&IO[T]{Out: out})
}

func (s *Source[T]) OnNotify(ns []Notification, out *Outputs[T]) error {
	return nil
}

// CancelScope satisfies cancel.SourceCanceller: a Source has no input
// channel of its own, so backward cancellation (§4.7 step 4, "stop at a
// Source") reaches it directly rather than through an InputPort. Only the
// root-scope stop applies, since a Source only ever emits tag s.tg. The
// iterator is not read again; the next firing emits End and EOS exactly as
// it does for an exhausted iterator.
func (s *Source[T]) CancelScope(t tag.Tag) {
	if t.Equal(s.tg) {
		s.cancelled = true
	}
}
