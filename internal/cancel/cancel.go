// Package cancel implements backward cancellation propagation (C7):
// an operator's cancel_scope(tag) call on one of its inputs walks the
// static operator graph backward, applying the cancellation to every
// upstream operator's own inputs until it reaches a source or a scope
// boundary, per spec.md §4.7.
package cancel

import (
	"context"
	"strconv"

	"github.com/graphscope/pegasus/internal/eventbus"
	"github.com/graphscope/pegasus/internal/metrics"
	"github.com/graphscope/pegasus/internal/progress"
	"github.com/graphscope/pegasus/internal/tag"
)

// InputCanceller marks a tag cancelled on the receive side of one input
// channel: drop already-queued data, retain end markers, and discard
// future arrivals on receipt (§4.7 steps 1-2). channel.End[T].Cancel
// satisfies this for any item type T.
type InputCanceller interface {
	Cancel(t tag.Tag, cascade bool)
}

// SourceCanceller is implemented by operator cores with no input channel
// of their own — only the built-in Source today — that must react to
// upstream cancellation directly rather than through an InputCanceller.
type SourceCanceller interface {
	CancelScope(t tag.Tag)
}

// ChannelInfo is the static per-channel cancellation topology: which
// operator produces it, and which peer workers (from this worker's
// vantage point) send on it — used to decide unicast vs broadcast when
// walking the Cancel backward (§4.7 step 3: "unicast if the channel has a
// single sender, broadcast if multi-sender").
type ChannelInfo struct {
	Producer int
	Senders  []int
}

// OperatorInfo is the static per-operator cancellation topology: its own
// input channels (where propagation continues), and whether it is a
// terminal for the backward walk — a source (nothing further upstream) or
// a scope boundary that cannot translate the cancelled tag across its own
// scope-level change (§4.7 step 4).
type OperatorInfo struct {
	InputChannels   []int
	IsSource        bool
	IsScopeBoundary bool
}

// Graph is one worker's view of the job's cancellation topology, built at
// job-build time alongside the rest of the operator graph.
type Graph struct {
	self      int
	jobID     string
	channels  map[int]ChannelInfo
	operators map[int]OperatorInfo
	inputs    map[int]InputCanceller
	sources   map[int]SourceCanceller
	tracker   *progress.Tracker
}

// NewGraph builds an empty cancellation graph for worker self. jobID only
// labels this graph's Prometheus series and may be empty.
func NewGraph(self int, tracker *progress.Tracker, jobID ...string) *Graph {
	var id string
	if len(jobID) > 0 {
		id = jobID[0]
	}
	return &Graph{
		self:      self,
		jobID:     id,
		channels:  make(map[int]ChannelInfo),
		operators: make(map[int]OperatorInfo),
		inputs:    make(map[int]InputCanceller),
		sources:   make(map[int]SourceCanceller),
		tracker:   tracker,
	}
}

// RegisterChannel records channel ch's producer operator and sender set.
func (g *Graph) RegisterChannel(ch, producer int, senders []int) {
	g.channels[ch] = ChannelInfo{Producer: producer, Senders: senders}
}

// RegisterOperator records operator op's own input channels and whether
// the backward walk must stop there.
func (g *Graph) RegisterOperator(op int, inputChannels []int, isSource, isScopeBoundary bool) {
	g.operators[op] = OperatorInfo{InputChannels: inputChannels, IsSource: isSource, IsScopeBoundary: isScopeBoundary}
}

// RegisterInput installs the receive-side handle for channel ch, so a
// Cancel targeting it can drop/mark locally (§4.7 steps 1-2).
func (g *Graph) RegisterInput(ch int, in InputCanceller) {
	g.inputs[ch] = in
}

// RegisterSource installs operator op's SourceCanceller, for operators
// with no input channel that must still react to cancellation directly.
func (g *Graph) RegisterSource(op int, s SourceCanceller) {
	g.sources[op] = s
}

// CancelScope is the entry point an operator (typically a limit or other
// early-exit) calls on its own input channel ch to stop receiving data
// for tag t, per spec.md §4.7 steps 1-3.
func (g *Graph) CancelScope(ctx context.Context, ch int, t tag.Tag, cascade bool) error {
	if in, ok := g.inputs[ch]; ok {
		in.Cancel(t, cascade)
	}
	metrics.CancelsIssued.WithLabelValues(g.jobID, strconv.Itoa(ch), strconv.FormatBool(cascade)).Inc()

	info, ok := g.channels[ch]
	if !ok {
		return nil
	}
	switch len(info.Senders) {
	case 0:
		return nil
	case 1:
		return g.tracker.RecordCancel(ctx, info.Senders[0], ch, t, cascade)
	default:
		return g.tracker.BroadcastCancel(ctx, ch, t, cascade)
	}
}

// Apply handles an inbound Cancel event delivered by the progress
// tracker's Poll (§4.7 step 4): it applies the cancellation to the
// producer operator's own inputs (or directly to a Source core with no
// inputs), then keeps walking backward unless the producer is a source or
// a scope boundary.
func (g *Graph) Apply(ctx context.Context, ev eventbus.Event) error {
	info, ok := g.channels[ev.Channel]
	if !ok {
		return nil
	}
	opInfo, hasOp := g.operators[info.Producer]

	if s, ok := g.sources[info.Producer]; ok {
		s.CancelScope(ev.Tag)
	}

	if !hasOp || opInfo.IsSource || opInfo.IsScopeBoundary {
		return nil
	}

	for _, inCh := range opInfo.InputChannels {
		if err := g.CancelScope(ctx, inCh, ev.Tag, ev.Cascade); err != nil {
			return err
		}
	}
	return nil
}
