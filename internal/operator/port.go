package operator

import (
	"context"

	"github.com/graphscope/pegasus/internal/batch"
	"github.com/graphscope/pegasus/internal/channel"
	"github.com/graphscope/pegasus/internal/progress"
	"github.com/graphscope/pegasus/internal/tag"
)

// InputPort is one operator input, wrapping a channel.End with the
// progress-tracker bookkeeping Pull must perform (§3 invariant 1:
// conservation of pushed/pulled/outstanding).
type InputPort[T any] struct {
	ch      int
	end     *channel.End[T]
	tracker *progress.Tracker
	ctx     context.Context
}

// NewInputPort wires a channel end to the worker's progress tracker.
func NewInputPort[T any](ch int, end *channel.End[T], tracker *progress.Tracker) *InputPort[T] {
	return &InputPort[T]{ch: ch, end: end, tracker: tracker, ctx: context.Background()}
}

// Channel returns the backing channel's id.
func (p *InputPort[T]) Channel() int { return p.ch }

// TryPull drains the next available batch, recording a Pulled event for
// its items so the progress tracker's outstanding counter stays correct.
// Returns ok=false when no peer has anything queued. A non-nil error means
// the Pulled event could not be delivered over the event bus (spec.md §7's
// IOError) — the caller must treat the batch as not consumed and abort.
func (p *InputPort[T]) TryPull() (batch.Batch[T], bool, error) {
	b, _, ok := p.end.TryPull()
	if !ok {
		return b, false, nil
	}
	if n := b.Len(); n > 0 {
		if err := p.tracker.RecordPulled(p.ctx, p.ch, b.Tag(), uint64(n)); err != nil {
			return b, true, err
		}
	}
	return b, true, nil
}

// HasInput reports whether any peer currently has a batch queued on this
// port, used by the wrapper to decide whether the operator has candidate
// work to offer the scheduler.
func (p *InputPort[T]) HasInput() bool { return p.end.HasAny() }

// Cancel marks tag t as cancelled on the receive side (§4.7 step 1-2).
func (p *InputPort[T]) Cancel(t tag.Tag, cascade bool) { p.end.Cancel(t, cascade) }

// IsCancelled reports whether t is currently cancelled on this input.
func (p *InputPort[T]) IsCancelled(t tag.Tag) bool { return p.end.IsCancelled(t) }

// setContext installs the worker's lifetime context, used for the
// (normally non-blocking) Pushed/Pulled event emission.
func (p *InputPort[T]) setContext(ctx context.Context) { p.ctx = ctx }

// Ctx returns the context installed for this firing, for operator cores
// that need to issue their own tracker calls (e.g. Source's EOS).
func (p *InputPort[T]) Ctx() context.Context { return p.ctx }

// OutputPort is one named operator output, wrapping a channel.End with the
// same bookkeeping duty on the push side.
type OutputPort[T any] struct {
	name    string
	ch      int
	end     *channel.End[T]
	tracker *progress.Tracker
	ctx     context.Context
	worker  int
	seq     uint64
}

// NewOutputPort wires a channel end, under the given port name (e.g.
// "leave", "enter" for the iteration controller; "main" otherwise).
func NewOutputPort[T any](name string, ch, selfWorker int, end *channel.End[T], tracker *progress.Tracker) *OutputPort[T] {
	return &OutputPort[T]{name: name, ch: ch, end: end, tracker: tracker, ctx: context.Background(), worker: selfWorker}
}

// Name returns the port's name.
func (p *OutputPort[T]) Name() string { return p.name }

// Channel returns the backing channel's id.
func (p *OutputPort[T]) Channel() int { return p.ch }

// Push sends a batch built from items (plus an optional end marker applied
// by the caller via batch.Batch.SetEnd) downstream, recording a Pushed
// event for its items. A non-nil error means the Pushed event could not be
// delivered over the event bus (spec.md §7's IOError); the batch has
// already been pushed onto the channel, but the caller must abort rather
// than let the tracker's outstanding count desync (§3 invariant 1).
func (p *OutputPort[T]) Push(t tag.Tag, items []T) (batch.Batch[T], error) {
	p.seq++
	b := batch.New(t, p.worker, p.seq, items)
	p.end.Push(b)
	if n := len(items); n > 0 {
		if err := p.tracker.RecordPushed(p.ctx, p.ch, t, uint64(n)); err != nil {
			return b, err
		}
	}
	return b, nil
}

// PushBatch sends an already-constructed batch (used when forwarding a
// shared/forked batch rather than building a fresh one).
func (p *OutputPort[T]) PushBatch(b batch.Batch[T]) error {
	p.end.Push(b)
	if n := b.Len(); n > 0 {
		return p.tracker.RecordPushed(p.ctx, p.ch, b.Tag(), uint64(n))
	}
	return nil
}

// PushEnd sends a pure end-marker batch declaring no more data tagged t
// will follow from this worker on this channel.
func (p *OutputPort[T]) PushEnd(end batch.EndOfScope) {
	p.seq++
	b := batch.EndMarker[T](end, p.worker, p.seq)
	p.end.Push(b)
}

func (p *OutputPort[T]) setContext(ctx context.Context) { p.ctx = ctx }

// Ctx returns the context installed for this firing.
func (p *OutputPort[T]) Ctx() context.Context { return p.ctx }

// Tracker exposes the progress tracker backing this port, for operator
// cores that must issue their own End/EOS/Iteration signals (Source,
// the iteration controller) beyond the plain Push/PushEnd bookkeeping.
func (p *OutputPort[T]) Tracker() *progress.Tracker { return p.tracker }

// Outputs is the set of output ports visible to OnReceive/OnActive/OnNotify,
// indexed by name so a multi-output operator (branch, the iteration
// controller's leave/enter pair) can address each independently.
type Outputs[T any] struct {
	ports map[string]*OutputPort[T]
	order []string
}

// NewOutputs builds an Outputs set from the given ports, in the order
// given (order matters for single-output operators using Main()).
func NewOutputs[T any](ports ...*OutputPort[T]) *Outputs[T] {
	o := &Outputs[T]{ports: make(map[string]*OutputPort[T], len(ports))}
	for _, p := range ports {
		o.ports[p.Name()] = p
		o.order = append(o.order, p.Name())
	}
	return o
}

// Port looks up an output by name.
func (o *Outputs[T]) Port(name string) *OutputPort[T] { return o.ports[name] }

// Main returns the first (and, for single-output operators, only) port.
func (o *Outputs[T]) Main() *OutputPort[T] {
	if len(o.order) == 0 {
		return nil
	}
	return o.ports[o.order[0]]
}

// All returns every output port, in construction order.
func (o *Outputs[T]) All() []*OutputPort[T] {
	out := make([]*OutputPort[T], len(o.order))
	for i, n := range o.order {
		out[i] = o.ports[n]
	}
	return out
}

func (o *Outputs[T]) setContext(ctx context.Context) {
	for _, p := range o.ports {
		p.setContext(ctx)
	}
}

// Inputs is the set of input ports visible to OnReceive, indexed by name
// (e.g. "main"/"feedback" for the iteration controller, "left"/"right" for
// a binary operator).
type Inputs[T any] struct {
	ports map[string]*InputPort[T]
	order []string
}

// NewInputs builds an Inputs set, named in the order given.
func NewInputs[T any](named map[string]*InputPort[T], order []string) *Inputs[T] {
	return &Inputs[T]{ports: named, order: order}
}

// Port looks up an input by name.
func (in *Inputs[T]) Port(name string) *InputPort[T] { return in.ports[name] }

// Main returns the first input port.
func (in *Inputs[T]) Main() *InputPort[T] {
	if len(in.order) == 0 {
		return nil
	}
	return in.ports[in.order[0]]
}

// All returns every input port, in construction order.
func (in *Inputs[T]) All() []*InputPort[T] {
	out := make([]*InputPort[T], len(in.order))
	for i, n := range in.order {
		out[i] = in.ports[n]
	}
	return out
}

func (in *Inputs[T]) setContext(ctx context.Context) {
	for _, p := range in.ports {
		p.setContext(ctx)
	}
}

// IO bundles an operator's inputs and outputs for a single OnReceive call,
// plus the per-tag output byte budget the scheduler granted this firing.
type IO[T any] struct {
	In     *Inputs[T]
	Out    *Outputs[T]
	Budget Budget
}
