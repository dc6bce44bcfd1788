package operator

import "github.com/graphscope/pegasus/internal/tag"

// Callback is the host-supplied function sinks invoke for every item they
// receive, per spec.md §6 ("Sinks invoke a host-supplied callback
// (job_id, batch) -> ()"). End-of-job is signalled by Sink.OnNotify calling
// Done once the root scope's End arrives on the sink's input channel.
type Callback[T any] interface {
	Deliver(items []T)
	Done(err error)
}

// Sink is the built-in sink operator of spec.md §4.5: scope_level=0, no
// outputs; "the core guarantees it is always scheduled when inputs are
// available and does not reserve memory for it" — enforced by the
// scheduler's Sink/leaf shortcut (§4.8 step 3), not by Sink itself.
type Sink[T any] struct {
	cb       Callback[T]
	jobAbort error
	inCh     int
}

// NewSink builds a Sink operator core delivering every received batch to
// cb.
func NewSink[T any](cb Callback[T]) *Sink[T] {
	return &Sink[T]{cb: cb}
}

func (s *Sink[T]) OnReceive(io *IO[T]) (Outcome, error) {
	in := io.In.Main()
	// A Sink never reports active tags, so every firing runs OnReceive
	// before OnNotify and inCh is set by the time a notification arrives.
	s.inCh = in.Channel()
	for {
		b, ok, err := in.TryPull()
		if err != nil {
			return Idle(), err
		}
		if !ok {
			return Idle(), nil
		}
		if b.Len() > 0 {
			s.cb.Deliver(b.Items())
		}
	}
}

func (s *Sink[T]) OnActive(tags []tag.Tag, out *Outputs[T]) (Outcome, error) {
	return Idle(), nil
}

// OnNotify closes the callback once the root scope's End notification
// arrives on the sink's own input channel — "End-of-job is signalled by
// closing the callback" (§6).
func (s *Sink[T]) OnNotify(ns []Notification, out *Outputs[T]) error {
	for _, n := range ns {
		if n.Channel != s.inCh {
			continue
		}
		if n.Kind == NotifyEnd && n.Tag.Level() == 0 {
			s.cb.Done(s.jobAbort)
		}
	}
	return nil
}

// Abort records a job-level abort error (§7 PanicInUserCode / IOError
// propagation path) to be surfaced on the next Done call.
func (s *Sink[T]) Abort(err error) { s.jobAbort = err }
