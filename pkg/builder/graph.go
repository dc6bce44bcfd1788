// Package builder implements the external, programmatic half of spec.md
// §6: the builder helpers a host uses to assemble a job's operator graph
// (source-from-iterator, map, filter, flat-map, unary, branch, merge,
// enter-scope, leave-scope, iterate, iterate_until, iterate_more; there is
// no binary helper)
// and the channel-construction policy backing each edge, generalizing the
// teacher's pkg/pipeline assembly helpers to a dataflow graph instead of a
// fixed capture->parse->sink chain.
package builder

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"github.com/graphscope/pegasus/internal/cancel"
	"github.com/graphscope/pegasus/internal/channel"
	"github.com/graphscope/pegasus/internal/config"
	"github.com/graphscope/pegasus/internal/core"
	"github.com/graphscope/pegasus/internal/eventbus"
	"github.com/graphscope/pegasus/internal/iterate"
	"github.com/graphscope/pegasus/internal/operator"
	"github.com/graphscope/pegasus/internal/progress"
	"github.com/graphscope/pegasus/internal/scheduler"
	"github.com/graphscope/pegasus/internal/tag"
	"github.com/graphscope/pegasus/internal/worker"
)

// busQueueSize bounds each (sender, receiver) event queue. It is sized
// generously relative to scope_capacity since progress events, unlike
// data batches, are small and numerous.
const busQueueSize = 1 << 16

// runtime bundles the per-worker subsystems an operator's build closure
// needs: the progress tracker (C4), the scheduler (C8) and the
// cancellation graph (C7) that worker already owns.
type runtime[T any] struct {
	worker      int
	tracker     *progress.Tracker
	sched       *scheduler.Scheduler
	cancelGraph *cancel.Graph
}

type chanSpec[T any] struct {
	id         int
	kind       channel.Kind
	scopeLevel int
	set        *channel.Set[T]
	producer   int
}

type opSpec[T any] struct {
	index           int
	name            string
	scopeLevel      int
	mode            operator.Mode
	isSource        bool
	isScopeBoundary bool
	inputChannels   []int
	outputChannels  []int
	build           func(rt *runtime[T]) operator.Handle
}

// Graph assembles one job's operator graph, generic over the single item
// type flowing through it — every operator and channel in a Graph[T]
// shares T, matching every testable scenario in spec.md §8 (all built
// around one item type per job). A host needing heterogeneous item types
// across a job composes multiple Graphs joined at the boundary by a
// leaf source/sink pair, the same narrow-interface seam spec.md §1
// already draws around storage adapters.
type Graph[T any] struct {
	cfg      config.JobConfig
	jobID    string
	numPeers int
	bus      *eventbus.Bus

	nextOp   int
	nextChan int
	chans    map[int]*chanSpec[T]
	ops      []*opSpec[T]
	sinkOp   int
	hasSink  bool
}

// New allocates a Graph for a job running with cfg.WorkersPerProcess
// workers in this process (spec.md §6's job conf). jobID is optional and
// only labels this job's Prometheus series (internal/job.Build passes the
// request's job_id; ad hoc pkg/builder use, as in this package's own
// tests, leaves it empty).
func New[T any](cfg config.JobConfig, jobID ...string) *Graph[T] {
	n := cfg.WorkersPerProcess
	if n <= 0 {
		n = 1
	}
	var id string
	if len(jobID) > 0 {
		id = jobID[0]
	}
	return &Graph[T]{
		cfg:      cfg,
		jobID:    id,
		numPeers: n,
		bus:      eventbus.New(n, busQueueSize),
		chans:    make(map[int]*chanSpec[T]),
	}
}

func (g *Graph[T]) allocChannel(kind channel.Kind, scopeLevel, producer int, keyFn channel.KeyFunc[T], tagFn channel.TagFunc, aggDest int) int {
	id := g.nextChan
	g.nextChan++
	g.chans[id] = &chanSpec[T]{
		id:         id,
		kind:       kind,
		scopeLevel: scopeLevel,
		producer:   producer,
		set:        channel.NewSet[T](id, kind, scopeLevel, g.numPeers, keyFn, tagFn, aggDest),
	}
	return id
}

func (g *Graph[T]) allocOp(name string, scopeLevel int, mode operator.Mode) int {
	idx := g.nextOp
	g.nextOp++
	g.ops = append(g.ops, &opSpec[T]{index: idx, name: name, scopeLevel: scopeLevel, mode: mode})
	return idx
}

func (g *Graph[T]) op(idx int) *opSpec[T] { return g.ops[idx] }

// Stream is the output of one operator at a fixed scope level — the handle
// every builder combinator both consumes and produces, mirroring a
// timely-dataflow Stream<T> handle.
type Stream[T any] struct {
	g          *Graph[T]
	ch         int
	scopeLevel int
	producerOp int
}

// Channel returns the backing channel id, for combinators (enter/leave
// scope, branch) that need to reference it directly when registering
// cancellation topology.
func (s *Stream[T]) Channel() int { return s.ch }

// Source builds the built-in source operator (§4.5): iterFactory is called
// once per worker so the host controls how data is partitioned across
// workers (the graph-storage adapter's job per spec.md §1 — this builder
// only needs the narrow Iterator seam).
func (g *Graph[T]) Source(name string, iterFactory func(worker int) operator.Iterator[T]) *Stream[T] {
	opIdx := g.allocOp(name, 0, operator.Source)
	chID := g.allocChannel(channel.Pipeline, 0, opIdx, nil, nil, 0)
	cs := g.chans[chID]

	spec := g.op(opIdx)
	spec.isSource = true
	spec.outputChannels = []int{chID}
	spec.build = func(rt *runtime[T]) operator.Handle {
		end := cs.set.End(rt.worker)
		out := operator.NewOutputPort[T]("main", chID, rt.worker, end, rt.tracker)
		outputs := operator.NewOutputs(out)
		src := operator.NewSource[T](iterFactory(rt.worker), g.cfg.BatchSize, tag.Root())
		rt.cancelGraph.RegisterSource(opIdx, src)
		rt.sched.BindOutputChannel(opIdx, chID)
		info := operator.Info{Index: opIdx, Name: name, ScopeLevel: 0, Peers: g.numPeers, Mode: operator.Source, JobID: g.jobID}
		return operator.New[T](info, src, nil, outputs)
	}
	return &Stream[T]{g: g, ch: chID, scopeLevel: 0, producerOp: opIdx}
}

// chain wires a new operator of the given mode consuming s and producing a
// fresh Pipeline-kind channel at the same scope level, the common shape
// shared by Map/Filter/FlatMap and the scope-rewriting helpers.
func (s *Stream[T]) chain(name string, mode operator.Mode, outLevel int, core operator.Core[T]) *Stream[T] {
	g := s.g
	opIdx := g.allocOp(name, outLevel, mode)
	outCh := g.allocChannel(channel.Pipeline, outLevel, opIdx, nil, nil, 0)
	inCh := s.ch
	inCS := g.chans[inCh]
	outCS := g.chans[outCh]

	spec := g.op(opIdx)
	spec.inputChannels = []int{inCh}
	spec.outputChannels = []int{outCh}
	spec.build = func(rt *runtime[T]) operator.Handle {
		inPort := operator.NewInputPort[T](inCh, inCS.set.End(rt.worker), rt.tracker)
		outPort := operator.NewOutputPort[T]("main", outCh, rt.worker, outCS.set.End(rt.worker), rt.tracker)
		inputs := operator.NewInputs(map[string]*operator.InputPort[T]{"main": inPort}, []string{"main"})
		outputs := operator.NewOutputs(outPort)
		rt.cancelGraph.RegisterInput(inCh, inPort)
		rt.sched.BindOutputChannel(opIdx, outCh)
		info := operator.Info{Index: opIdx, Name: name, ScopeLevel: outLevel, Peers: g.numPeers, Mode: mode, JobID: g.jobID}
		return operator.New[T](info, core, inputs, outputs)
	}
	return &Stream[T]{g: g, ch: outCh, scopeLevel: outLevel, producerOp: opIdx}
}

// Map applies f to every item, 1-in/1-out (§6).
func (s *Stream[T]) Map(name string, f func(T) T) *Stream[T] {
	return s.chain(name, operator.Pass, s.scopeLevel, operator.NewTransform[T](s.ch, operator.MapOf(f), nil))
}

// Filter keeps only items satisfying pred (§6).
func (s *Stream[T]) Filter(name string, pred func(T) bool) *Stream[T] {
	return s.chain(name, operator.Clip, s.scopeLevel, operator.NewTransform[T](s.ch, operator.FilterOf(pred), nil))
}

// FlatMap applies f, which may return any number of outputs per input (§6).
func (s *Stream[T]) FlatMap(name string, f func(T) []T) *Stream[T] {
	return s.chain(name, operator.Expand, s.scopeLevel, operator.NewTransform[T](s.ch, f, nil))
}

// Unary is the general single-input/single-output escape hatch (§6) for a
// host-supplied OperatorCore — leaf operators (map/filter/project/
// group-by/order-by business logic) being explicitly out of this core's
// scope per spec.md §1.
func (s *Stream[T]) Unary(name string, mode operator.Mode, c operator.Core[T]) *Stream[T] {
	return s.chain(name, mode, s.scopeLevel, c)
}

// Limit passes through at most n items per tag, then cancels its own input
// scope (§4.7, S5) — the worked early-exit example, kept as a built-in
// since it is the one leaf operator spec.md calls out by the cancellation
// protocol it must drive.
func (s *Stream[T]) Limit(name string, n int) *Stream[T] {
	g := s.g
	opIdx := g.allocOp(name, s.scopeLevel, operator.Clip)
	outCh := g.allocChannel(channel.Pipeline, s.scopeLevel, opIdx, nil, nil, 0)
	inCh := s.ch
	inCS := g.chans[inCh]
	outCS := g.chans[outCh]

	spec := g.op(opIdx)
	spec.inputChannels = []int{inCh}
	spec.outputChannels = []int{outCh}
	spec.build = func(rt *runtime[T]) operator.Handle {
		inPort := operator.NewInputPort[T](inCh, inCS.set.End(rt.worker), rt.tracker)
		outPort := operator.NewOutputPort[T]("main", outCh, rt.worker, outCS.set.End(rt.worker), rt.tracker)
		inputs := operator.NewInputs(map[string]*operator.InputPort[T]{"main": inPort}, []string{"main"})
		outputs := operator.NewOutputs(outPort)
		rt.cancelGraph.RegisterInput(inCh, inPort)
		rt.sched.BindOutputChannel(opIdx, outCh)
		c := operator.NewLimit[T](n, inCh, rt.cancelGraph, g.cfg.EnableCancelChild)
		info := operator.Info{Index: opIdx, Name: name, ScopeLevel: s.scopeLevel, Peers: g.numPeers, Mode: operator.Clip, JobID: g.jobID}
		return operator.New[T](info, c, inputs, outputs)
	}
	return &Stream[T]{g: g, ch: outCh, scopeLevel: s.scopeLevel, producerOp: opIdx}
}

// Branch splits a stream into two by pred (§6): the first Stream returned
// carries items satisfying pred, the second the rest.
func (s *Stream[T]) Branch(name string, pred func(T) bool) (*Stream[T], *Stream[T]) {
	g := s.g
	opIdx := g.allocOp(name, s.scopeLevel, operator.Expand)
	trueCh := g.allocChannel(channel.Pipeline, s.scopeLevel, opIdx, nil, nil, 0)
	falseCh := g.allocChannel(channel.Pipeline, s.scopeLevel, opIdx, nil, nil, 0)
	inCh := s.ch
	inCS := g.chans[inCh]
	trueCS := g.chans[trueCh]
	falseCS := g.chans[falseCh]

	spec := g.op(opIdx)
	spec.inputChannels = []int{inCh}
	spec.outputChannels = []int{trueCh, falseCh}
	spec.build = func(rt *runtime[T]) operator.Handle {
		inPort := operator.NewInputPort[T](inCh, inCS.set.End(rt.worker), rt.tracker)
		trueOut := operator.NewOutputPort[T]("true", trueCh, rt.worker, trueCS.set.End(rt.worker), rt.tracker)
		falseOut := operator.NewOutputPort[T]("false", falseCh, rt.worker, falseCS.set.End(rt.worker), rt.tracker)
		inputs := operator.NewInputs(map[string]*operator.InputPort[T]{"main": inPort}, []string{"main"})
		outputs := operator.NewOutputs(trueOut, falseOut)
		rt.cancelGraph.RegisterInput(inCh, inPort)
		c := operator.NewBranch[T](inCh, pred)
		info := operator.Info{Index: opIdx, Name: name, ScopeLevel: s.scopeLevel, Peers: g.numPeers, Mode: operator.Expand, JobID: g.jobID}
		return operator.New[T](info, c, inputs, outputs)
	}
	t := &Stream[T]{g: g, ch: trueCh, scopeLevel: s.scopeLevel, producerOp: opIdx}
	f := &Stream[T]{g: g, ch: falseCh, scopeLevel: s.scopeLevel, producerOp: opIdx}
	return t, f
}

// Merge fans N same-scope-level streams into one (§6). All inputs must
// share the same scope level; Merge panics otherwise, a build-time misuse
// rather than a runtime condition.
func Merge[T any](name string, streams ...*Stream[T]) *Stream[T] {
	if len(streams) == 0 {
		panic("builder: Merge requires at least one input stream")
	}
	g := streams[0].g
	level := streams[0].scopeLevel
	channels := make([]int, len(streams))
	for i, s := range streams {
		if s.scopeLevel != level {
			panic("builder: Merge inputs at different scope levels")
		}
		channels[i] = s.ch
	}

	opIdx := g.allocOp(name, level, operator.Clip)
	outCh := g.allocChannel(channel.Pipeline, level, opIdx, nil, nil, 0)
	outCS := g.chans[outCh]

	spec := g.op(opIdx)
	spec.inputChannels = channels
	spec.outputChannels = []int{outCh}
	spec.build = func(rt *runtime[T]) operator.Handle {
		named := make(map[string]*operator.InputPort[T], len(channels))
		order := make([]string, len(channels))
		for i, ch := range channels {
			cs := g.chans[ch]
			p := operator.NewInputPort[T](ch, cs.set.End(rt.worker), rt.tracker)
			name := fmt.Sprintf("in%d", i)
			named[name] = p
			order[i] = name
			rt.cancelGraph.RegisterInput(ch, p)
		}
		inputs := operator.NewInputs(named, order)
		outPort := operator.NewOutputPort[T]("main", outCh, rt.worker, outCS.set.End(rt.worker), rt.tracker)
		outputs := operator.NewOutputs(outPort)
		c := operator.NewMerge[T](channels)
		info := operator.Info{Index: opIdx, Name: name, ScopeLevel: level, Peers: g.numPeers, Mode: operator.Clip, JobID: g.jobID}
		return operator.New[T](info, c, inputs, outputs)
	}
	return &Stream[T]{g: g, ch: outCh, scopeLevel: level, producerOp: opIdx}
}

// Exchange repartitions a stream by key across peer workers (§4.3), routed
// by a consistent-hash ring (KeyPartition) over the item's key.
func (s *Stream[T]) Exchange(name string, keyOf func(T) string) *Stream[T] {
	return s.repartition(name, channel.Exchange, KeyPartition(s.g.numPeers, keyOf), nil, 0)
}

// Broadcast fans every batch out to every peer worker (§4.3).
func (s *Stream[T]) Broadcast(name string) *Stream[T] {
	return s.repartition(name, channel.Broadcast, nil, nil, 0)
}

// Aggregate routes every batch to the single peer dest (§4.3).
func (s *Stream[T]) Aggregate(name string, dest int) *Stream[T] {
	return s.repartition(name, channel.Aggregate, nil, nil, dest)
}

// ScopeExchange partitions by parent tag rather than item key, collocating
// an entire nested scope on one worker (§4.3) — used internally by Iterate
// to collocate a loop's body, and exposed for hosts building their own
// scope-collocated subgraphs.
func (s *Stream[T]) ScopeExchange(name string) *Stream[T] {
	return s.repartition(name, channel.ScopeExchange, nil, TagPartition(s.g.numPeers), 0)
}

func (s *Stream[T]) repartition(name string, kind channel.Kind, keyFn channel.KeyFunc[T], tagFn channel.TagFunc, aggDest int) *Stream[T] {
	g := s.g
	opIdx := g.allocOp(name, s.scopeLevel, operator.Pass)
	outCh := g.allocChannel(kind, s.scopeLevel, opIdx, keyFn, tagFn, aggDest)
	inCh := s.ch
	inCS := g.chans[inCh]
	outCS := g.chans[outCh]

	spec := g.op(opIdx)
	spec.inputChannels = []int{inCh}
	spec.outputChannels = []int{outCh}
	spec.build = func(rt *runtime[T]) operator.Handle {
		inPort := operator.NewInputPort[T](inCh, inCS.set.End(rt.worker), rt.tracker)
		outPort := operator.NewOutputPort[T]("main", outCh, rt.worker, outCS.set.End(rt.worker), rt.tracker)
		inputs := operator.NewInputs(map[string]*operator.InputPort[T]{"main": inPort}, []string{"main"})
		outputs := operator.NewOutputs(outPort)
		rt.cancelGraph.RegisterInput(inCh, inPort)
		rt.sched.BindOutputChannel(opIdx, outCh)
		identity := operator.NewTransform[T](inCh, func(v T) []T { return []T{v} }, nil)
		info := operator.Info{Index: opIdx, Name: name, ScopeLevel: s.scopeLevel, Peers: g.numPeers, Mode: operator.Pass, JobID: g.jobID}
		return operator.New[T](info, identity, inputs, outputs)
	}
	return &Stream[T]{g: g, ch: outCh, scopeLevel: s.scopeLevel, producerOp: opIdx}
}

// EnterScope introduces a new child scope level, stamping every item at
// child(tag, 0) (§6). It is a scope boundary for cancellation purposes
// (§4.7 step 4): a cancel on the inner scope cannot be translated back to
// the outer tag by this operator alone.
func (s *Stream[T]) EnterScope(name string) *Stream[T] {
	tagFn := func(t tag.Tag) tag.Tag { return tag.Child(t, 0) }
	c := operator.NewTransform[T](s.ch, func(v T) []T { return []T{v} }, tagFn)
	st := s.chain(name, operator.Expand, s.scopeLevel+1, c)
	s.g.op(st.producerOp).isScopeBoundary = true
	return st
}

// LeaveScope collapses one scope level, stamping every item at
// parent(tag) (§6). Also a cancellation scope boundary.
func (s *Stream[T]) LeaveScope(name string) *Stream[T] {
	if s.scopeLevel == 0 {
		panic("builder: LeaveScope at root scope")
	}
	tagFn := func(t tag.Tag) tag.Tag { return t.Parent() }
	c := operator.NewTransform[T](s.ch, func(v T) []T { return []T{v} }, tagFn)
	st := s.chain(name, operator.Clip, s.scopeLevel-1, c)
	s.g.op(st.producerOp).isScopeBoundary = true
	return st
}

// loopKind distinguishes the three iteration flavors of §6; all three
// share the §4.6 controller, differing only in (maxTimes, pred) per
// SPEC_FULL.md's resolution of the §9 Open Question on sub-task
// correlation semantics.
type loopKind int

const (
	loopBounded loopKind = iota
	loopUntil
	loopMore
)

// Iterate loops every item through body exactly maxTimes times (§6, S3).
func (s *Stream[T]) Iterate(name string, maxTimes int, body func(*Stream[T]) *Stream[T]) *Stream[T] {
	return s.iterate(name, loopBounded, maxTimes, nil, body)
}

// IterateUntil loops until pred holds or maxTimes is reached, whichever
// comes first (§6, S4).
func (s *Stream[T]) IterateUntil(name string, maxTimes int, pred func(T) bool, body func(*Stream[T]) *Stream[T]) *Stream[T] {
	return s.iterate(name, loopUntil, maxTimes, pred, body)
}

// IterateMore loops until pred holds, with no hard cap (SPEC_FULL.md
// supplement from original_source/.../iterate.rs). A pred that never
// holds loops forever; that is the caller's responsibility, not this
// core's.
func (s *Stream[T]) IterateMore(name string, pred func(T) bool, body func(*Stream[T]) *Stream[T]) *Stream[T] {
	return s.iterate(name, loopMore, 0, pred, body)
}

// iterate wires the compound iteration operator (§4.6): a controller
// operator owning main/feedback inputs and leave/enter outputs, plus the
// host-supplied body subgraph wired from enter back to feedback.
func (s *Stream[T]) iterate(name string, kind loopKind, maxTimes int, pred func(T) bool, body func(*Stream[T]) *Stream[T]) *Stream[T] {
	g := s.g
	opIdx := g.allocOp(name, s.scopeLevel, operator.Expand)

	mainCh := s.ch
	feedbackCh := g.allocChannel(channel.Pipeline, s.scopeLevel+1, opIdx, nil, nil, 0)
	leaveCh := g.allocChannel(channel.Pipeline, s.scopeLevel, opIdx, nil, nil, 0)
	enterCh := g.allocChannel(channel.Pipeline, s.scopeLevel+1, opIdx, nil, nil, 0)

	mainCS := g.chans[mainCh]
	feedbackCS := g.chans[feedbackCh]
	leaveCS := g.chans[leaveCh]
	enterCS := g.chans[enterCh]

	spec := g.op(opIdx)
	spec.inputChannels = []int{mainCh, feedbackCh}
	spec.outputChannels = []int{leaveCh, enterCh}
	spec.isScopeBoundary = true
	spec.build = func(rt *runtime[T]) operator.Handle {
		mainIn := operator.NewInputPort[T](mainCh, mainCS.set.End(rt.worker), rt.tracker)
		feedbackIn := operator.NewInputPort[T](feedbackCh, feedbackCS.set.End(rt.worker), rt.tracker)
		leaveOut := operator.NewOutputPort[T]("leave", leaveCh, rt.worker, leaveCS.set.End(rt.worker), rt.tracker)
		enterOut := operator.NewOutputPort[T]("enter", enterCh, rt.worker, enterCS.set.End(rt.worker), rt.tracker)

		inputs := operator.NewInputs(map[string]*operator.InputPort[T]{
			"main": mainIn, "feedback": feedbackIn,
		}, []string{"main", "feedback"})
		outputs := operator.NewOutputs(leaveOut, enterOut)

		rt.cancelGraph.RegisterInput(mainCh, mainIn)
		rt.cancelGraph.RegisterInput(feedbackCh, feedbackIn)
		rt.sched.BindOutputChannel(opIdx, enterCh)

		var ctrl operator.Core[T]
		switch kind {
		case loopBounded:
			ctrl = iterate.NewIterate[T](maxTimes, mainCh, feedbackCh, rt.worker, g.numPeers)
		case loopUntil:
			ctrl = iterate.NewIterateUntil[T](maxTimes, pred, mainCh, feedbackCh, rt.worker, g.numPeers)
		case loopMore:
			ctrl = iterate.NewIterateMore[T](pred, mainCh, feedbackCh, rt.worker, g.numPeers)
		}
		info := operator.Info{Index: opIdx, Name: name, ScopeLevel: s.scopeLevel, Peers: g.numPeers, Mode: operator.Expand, JobID: g.jobID}
		return operator.New[T](info, ctrl, inputs, outputs)
	}

	enterStream := &Stream[T]{g: g, ch: enterCh, scopeLevel: s.scopeLevel + 1, producerOp: opIdx}
	feedbackStream := body(enterStream)
	if feedbackStream.scopeLevel != s.scopeLevel+1 {
		panic("builder: Iterate body must return a stream at the loop's inner scope level")
	}
	// The controller reads feedback straight off the body's tail channel, so
	// the tail's Pushed/End and the controller's Pulled are counted under one
	// channel id, and the controller's End(feedback) filter matches it. The
	// build closure above reads these variables when Build runs it.
	feedbackCh = feedbackStream.ch
	feedbackCS = g.chans[feedbackCh]
	spec.inputChannels = []int{mainCh, feedbackCh}

	return &Stream[T]{g: g, ch: leaveCh, scopeLevel: s.scopeLevel, producerOp: opIdx}
}

// SinkTo finalizes the graph with a built-in sink operator invoking cb for
// every item and Done() once the root scope closes (§4.5, §6).
func (s *Stream[T]) SinkTo(name string, cb operator.Callback[T]) error {
	g := s.g
	if g.hasSink {
		return fmt.Errorf("%w: job already has a sink", core.ErrBuildMissingSink)
	}
	opIdx := g.allocOp(name, s.scopeLevel, operator.Sink)
	inCh := s.ch
	inCS := g.chans[inCh]

	spec := g.op(opIdx)
	spec.inputChannels = []int{inCh}
	spec.build = func(rt *runtime[T]) operator.Handle {
		inPort := operator.NewInputPort[T](inCh, inCS.set.End(rt.worker), rt.tracker)
		inputs := operator.NewInputs(map[string]*operator.InputPort[T]{"main": inPort}, []string{"main"})
		rt.cancelGraph.RegisterInput(inCh, inPort)
		sink := operator.NewSink[T](cb)
		info := operator.Info{Index: opIdx, Name: name, ScopeLevel: s.scopeLevel, Peers: g.numPeers, Mode: operator.Sink, JobID: g.jobID}
		return operator.New[T](info, sink, inputs, nil)
	}
	g.sinkOp = opIdx
	g.hasSink = true
	return nil
}

// SinkCallback is the host-facing name for the narrow result-delivery
// interface (spec.md §6): "sinks invoke a host-supplied callback (job_id,
// batch) -> ()". It is exactly operator.Callback, re-exported here so
// callers of this package (and of internal/job) never need to import
// internal/operator directly.
type SinkCallback[T any] = operator.Callback[T]

// Job is a built, runnable job: one worker.Worker per peer, sharing the
// event bus (§6 "a fixed set of peer workers ... cooperates ... through
// channels and a side-band event bus").
type Job[T any] struct {
	workers []*worker.Worker
	bus     *eventbus.Bus
}

// Build validates the assembled graph (§7 BuildError conditions) and
// constructs one Worker per peer.
func (g *Graph[T]) Build() (*Job[T], error) {
	if !g.hasSink {
		return nil, core.ErrBuildMissingSink
	}
	if err := g.validate(); err != nil {
		return nil, err
	}

	trackers := make([]*progress.Tracker, g.numPeers)
	scheds := make([]*scheduler.Scheduler, g.numPeers)
	cancels := make([]*cancel.Graph, g.numPeers)
	for w := 0; w < g.numPeers; w++ {
		trackers[w] = progress.New(w, g.bus)
		scheds[w] = scheduler.New(g.jobID, w, int64(g.cfg.TotalMemoryMB)*1024*1024, trackers[w])
		cancels[w] = cancel.NewGraph(w, trackers[w], g.jobID)
	}

	for _, cs := range g.chans {
		for w := 0; w < g.numPeers; w++ {
			// A pipeline channel stays on one worker: on worker w its only
			// sender is w itself.
			senders := []int{w}
			if cs.kind != channel.Pipeline {
				senders = make([]int, g.numPeers)
				for i := range senders {
					senders[i] = i
				}
			}
			cancels[w].RegisterChannel(cs.id, cs.producer, senders)
		}
	}
	for _, op := range g.ops {
		for w := 0; w < g.numPeers; w++ {
			cancels[w].RegisterOperator(op.index, op.inputChannels, op.isSource, op.isScopeBoundary)
		}
	}

	workers := make([]*worker.Worker, g.numPeers)
	for w := 0; w < g.numPeers; w++ {
		rt := &runtime[T]{worker: w, tracker: trackers[w], sched: scheds[w], cancelGraph: cancels[w]}
		handles := make([]operator.Handle, 0, len(g.ops))
		for _, op := range g.ops {
			handles = append(handles, op.build(rt))
		}
		workers[w] = worker.New(w, g.numPeers, handles, trackers[w], scheds[w], cancels[w], g.peersCountOf, g.jobID)
	}

	return &Job[T]{workers: workers, bus: g.bus}, nil
}

func (g *Graph[T]) peersCountOf(ch int) int {
	cs, ok := g.chans[ch]
	if !ok || cs.kind == channel.Pipeline {
		return 1
	}
	return g.numPeers
}

// validate implements the build-time half of spec.md §7's BuildError
// conditions this builder can actually produce by construction (every
// channel/operator id here is allocated by the builder itself, so
// unknown-channel and duplicate-index cannot arise); it still checks the
// one condition a host-composed body subgraph can violate — a channel
// whose two ends disagree on scope level.
func (g *Graph[T]) validate() error {
	for _, op := range g.ops {
		for _, ch := range op.inputChannels {
			cs, ok := g.chans[ch]
			if !ok {
				return fmt.Errorf("%w: operator %q input channel %d", core.ErrBuildUnknownChannel, op.name, ch)
			}
			if cs.scopeLevel != op.scopeLevel && op.name != "" && !op.isScopeBoundary {
				return fmt.Errorf("%w: operator %q (level %d) reads channel %d (level %d)",
					core.ErrBuildScopeLevelMismatch, op.name, op.scopeLevel, ch, cs.scopeLevel)
			}
		}
	}
	return nil
}

// Run drives every worker to completion concurrently — spec.md §5's "no
// operator runs concurrently with any other on the same worker; ...
// parallelism is across workers (one OS thread each)" — using
// sourcegraph/conc so a panic escaping a worker's goroutine (beyond the
// per-firing recover already in operator.Wrapper.Fire) still surfaces as
// an error rather than crashing the process.
func (j *Job[T]) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	errs := make([]error, len(j.workers))
	for i, w := range j.workers {
		i, w := i, w
		wg.Go(func() {
			errs[i] = w.Run(ctx)
		})
	}
	wg.Wait()

	var combined error
	for _, err := range errs {
		if err != nil {
			combined = multierr.Append(combined, err)
		}
	}
	return multierr.Append(combined, j.bus.Close())
}
