package operator

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/panics"

	"github.com/graphscope/pegasus/internal/core"
	"github.com/graphscope/pegasus/internal/log"
	"github.com/graphscope/pegasus/internal/metrics"
	"github.com/graphscope/pegasus/internal/tag"
)

// Handle is the non-generic capability surface the scheduler (C8) and
// worker loop (C9) drive an operator through. Wrapper[T] satisfies it for
// any item type T — Go generics let a parameterized type implement a
// non-generic interface as long as T never appears in the interface's own
// method signatures, which is exactly the "tagged variant ... static
// dispatch table" §9 calls for without resorting to reflection.
type Handle interface {
	Info() Info
	// HasPendingWork reports whether the operator has input queued or
	// suspended (active) work, i.e. whether it is worth asking the
	// scheduler for a task this step.
	HasPendingWork() bool
	// ActiveTags returns the tags currently suspended by output
	// backpressure (candidates the scheduler must consider for OnActive).
	ActiveTags() []tag.Tag
	// Fire drives one scheduling step: OnReceive (or OnActive, for tags the
	// scheduler resumed), then deliver any notification whose tag is not
	// held back by an active tag.
	Fire(ctx context.Context, budget Budget) error
	// EnqueueNotification appends to the operator's pending-notification
	// FIFO (owned by the wrapper, not the core), per spec.md §4.5.
	EnqueueNotification(n Notification)
	// HasQueuedNotifications reports whether any notification is waiting
	// for delivery (deferred or not).
	HasQueuedNotifications() bool
}

// Wrapper owns one operator's input/output ports, its active-tag set and
// its pending-notification FIFO, per spec.md §4.5. The worker loop is the
// sole caller into the operator (§9 "Shared mutable operator state") — no
// interior mutability is required because exactly one goroutine drives a
// given worker's operators.
type Wrapper[T any] struct {
	info Info
	core Core[T]
	in   *Inputs[T]
	out  *Outputs[T]

	activeTags map[string]tag.Tag
	notifFifo  []Notification
	// scopeState records, keyed by tag.Key(), the tags that have seen an
	// Iteration notification (stateInit); a delivered End drops the tag's
	// entry. stateEndPending is not entered by any path. Purely observational
	// bookkeeping: it does not gate any behavior beyond what activeTags
	// already gates, but it is kept because it is cheap and makes the
	// state machine inspectable (e.g. from tests, from a future debug
	// endpoint) the way the teacher's Task.state machine is.
	scopeState map[string]scopeState
}

type scopeState int

const (
	stateInit scopeState = iota
	stateEndPending
	stateClosed
)

// New wraps core behind the operator-runtime contract.
func New[T any](info Info, c Core[T], in *Inputs[T], out *Outputs[T]) *Wrapper[T] {
	w := &Wrapper[T]{
		info:       info,
		core:       c,
		in:         in,
		out:        out,
		activeTags: make(map[string]tag.Tag),
		scopeState: make(map[string]scopeState),
	}
	// A Source has no input to wake it, so it starts with the root tag
	// active; it stays active until its core reports Idle.
	if info.Mode == Source {
		w.activeTags[tag.Root().Key()] = tag.Root()
	}
	return w
}

func (w *Wrapper[T]) Info() Info { return w.info }

// HasPendingWork reports input queued on any port, or any active tag.
func (w *Wrapper[T]) HasPendingWork() bool {
	if len(w.activeTags) > 0 {
		return true
	}
	if w.in == nil {
		return false
	}
	for _, p := range w.in.All() {
		if p.HasInput() {
			return true
		}
	}
	return false
}

func (w *Wrapper[T]) ActiveTags() []tag.Tag {
	out := make([]tag.Tag, 0, len(w.activeTags))
	for _, t := range w.activeTags {
		out = append(out, t)
	}
	tag.SortDescending(out)
	return out
}

// EnqueueNotification appends n to the pending FIFO.
func (w *Wrapper[T]) EnqueueNotification(n Notification) {
	w.notifFifo = append(w.notifFifo, n)
}

func (w *Wrapper[T]) HasQueuedNotifications() bool { return len(w.notifFifo) > 0 }

// Fire implements the §4.5 firing rule for one scheduling step.
func (w *Wrapper[T]) Fire(ctx context.Context, budget Budget) error {
	if w.in != nil {
		w.in.setContext(ctx)
	}
	if w.out != nil {
		w.out.setContext(ctx)
	}

	resumeTags := w.ActiveTags()

	var outcome Outcome
	var err error
	rec := panics.Try(func() {
		if len(resumeTags) > 0 {
			outcome, err = w.core.OnActive(resumeTags, w.out)
		} else {
			outcome, err = w.core.OnReceive(&IO[T]{In: w.in, Out: w.out, Budget: budget})
		}
	})
	if rec != nil {
		log.GetLogger().WithField("op", w.info.Name).WithField("panic", rec.Value).Error("operator panic recovered")
		metrics.PanicsRecovered.WithLabelValues(w.info.JobID, w.info.Name).Inc()
		return fmt.Errorf("%w: operator %q: %v", core.ErrPanicInUserCode, w.info.Name, rec.Value)
	}
	if err != nil {
		return fmt.Errorf("operator %q OnReceive: %w", w.info.Name, err)
	}

	w.replaceActiveTags(outcome.ActiveTags)

	return w.drainNotifications(ctx)
}

func (w *Wrapper[T]) replaceActiveTags(tags []tag.Tag) {
	w.activeTags = make(map[string]tag.Tag, len(tags))
	for _, t := range tags {
		w.activeTags[t.Key()] = t
	}
}

// drainNotifications delivers every queued notification whose tag is not
// held back by an active tag, in FIFO order, per §4.5: "An End(t) held
// back by an active t is deferred until the active set no longer contains
// t." Deferred notifications remain at the front of the FIFO in order.
func (w *Wrapper[T]) drainNotifications(ctx context.Context) error {
	if len(w.notifFifo) == 0 {
		return nil
	}

	deliverable := make([]Notification, 0, len(w.notifFifo))
	deferred := w.notifFifo[:0]
	for _, n := range w.notifFifo {
		if _, held := w.activeTags[n.Tag.Key()]; held {
			deferred = append(deferred, n)
			continue
		}
		deliverable = append(deliverable, n)
		w.advanceScopeState(n)
	}
	w.notifFifo = deferred

	if len(deliverable) == 0 {
		return nil
	}

	var err error
	rec := panics.Try(func() {
		err = w.core.OnNotify(deliverable, w.out)
	})
	if rec != nil {
		metrics.PanicsRecovered.WithLabelValues(w.info.JobID, w.info.Name).Inc()
		return fmt.Errorf("%w: operator %q OnNotify: %v", core.ErrPanicInUserCode, w.info.Name, rec.Value)
	}
	if err != nil {
		return fmt.Errorf("operator %q OnNotify: %w", w.info.Name, err)
	}
	return nil
}

func (w *Wrapper[T]) advanceScopeState(n Notification) {
	key := n.Tag.Key()
	switch n.Kind {
	case NotifyEnd:
		switch w.scopeState[key] {
		case stateInit:
			w.scopeState[key] = stateClosed
		default:
			w.scopeState[key] = stateClosed
		}
		delete(w.scopeState, key)
	case NotifyIteration:
		if _, ok := w.scopeState[key]; !ok {
			w.scopeState[key] = stateInit
		}
	}
}
