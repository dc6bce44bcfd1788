// Package iterate implements the iteration controller (C6): the compound
// operator sitting between a loop's main/feedback inputs and its leave/enter
// outputs, per spec.md §4.6. The body subgraph between enter and feedback is
// wired by the job builder (pkg/builder), not by this package — Controller
// only owns the routing and termination-detection state machine around it.
package iterate

import (
	"github.com/graphscope/pegasus/internal/batch"
	"github.com/graphscope/pegasus/internal/operator"
	"github.com/graphscope/pegasus/internal/tag"
)

// Controller is the built-in iteration operator core. It is generic over
// the looped item type, same as every other Core[T].
//
// Entry numbering resolves an inconsistency in spec.md §4.6, which names
// the first iteration's tag two different ways in two different
// paragraphs ("tagged with child(parent,0)" in the main-input rule, but
// "Emit End(child(parent,1))" in the scope-closure rule for the very same
// entry point). This implementation uses child(parent,1) for iteration 1
// throughout — the convention that reproduces the worked example in
// spec.md §8 (S3: iterate(x -> x+1, max_times=3) over [1] yields [4]) and
// agrees with the scope-closure paragraph. See DESIGN.md.
type Controller[T any] struct {
	maxTimes           int            // 0 => unbounded (iterate_more); leave driven by pred alone
	pred               func(T) bool   // leave predicate; nil => never leave early (plain iterate)
	mainCh, feedbackCh int
	self, peers        int

	// history[parentKey][i] records whether this worker sent at least one
	// item into iteration i+1, for parent scope parentKey.
	history map[string][]bool
	// iterationStart[parentKey] marks that this worker has seen the main
	// scope corresponding to parentKey (data or its End), so the eventual
	// global iteration-closure knows whether to emit the outer End on leave.
	iterationStart map[string]bool
	// iterationEnd[iterTagKey] accumulates the workers that have reported
	// (via an Iteration state-sync event) that they contributed nothing to
	// that specific iteration tag; once it spans every peer the iteration is
	// globally dry and the controller can retire it.
	iterationEnd map[string]map[int]bool
}

func newController[T any](maxTimes int, pred func(T) bool, mainCh, feedbackCh, self, peers int) *Controller[T] {
	return &Controller[T]{
		maxTimes:       maxTimes,
		pred:           pred,
		mainCh:         mainCh,
		feedbackCh:     feedbackCh,
		self:           self,
		peers:          peers,
		history:        make(map[string][]bool),
		iterationStart: make(map[string]bool),
		iterationEnd:   make(map[string]map[int]bool),
	}
}

// NewIterate builds a plain iterate(max_times) controller: every item loops
// exactly max_times, with no early-leave predicate.
func NewIterate[T any](maxTimes int, mainCh, feedbackCh, self, peers int) *Controller[T] {
	if maxTimes <= 0 {
		maxTimes = 1
	}
	return newController[T](maxTimes, nil, mainCh, feedbackCh, self, peers)
}

// NewIterateUntil builds an iterate_until(max_times, pred) controller: an
// item leaves as soon as pred holds, or once it has looped max_times,
// whichever comes first.
func NewIterateUntil[T any](maxTimes int, pred func(T) bool, mainCh, feedbackCh, self, peers int) *Controller[T] {
	if maxTimes <= 0 {
		maxTimes = 1
	}
	return newController[T](maxTimes, pred, mainCh, feedbackCh, self, peers)
}

// NewIterateMore builds an iterate_more(pred) controller (SPEC_FULL.md
// supplement): no cap, items loop until pred holds. Convergence is the
// caller's responsibility — a pred that never holds loops forever.
func NewIterateMore[T any](pred func(T) bool, mainCh, feedbackCh, self, peers int) *Controller[T] {
	return newController[T](0, pred, mainCh, feedbackCh, self, peers)
}

func (c *Controller[T]) markEntered(parent tag.Tag, idx int) {
	key := parent.Key()
	h := c.history[key]
	for len(h) <= idx {
		h = append(h, false)
	}
	h[idx] = true
	c.history[key] = h
}

func (c *Controller[T]) entered(parent tag.Tag, idx int) bool {
	if idx < 0 {
		return false
	}
	h := c.history[parent.Key()]
	return idx < len(h) && h[idx]
}

func (c *Controller[T]) recordIterationEnd(iterTag tag.Tag, worker int) {
	key := iterTag.Key()
	m, ok := c.iterationEnd[key]
	if !ok {
		m = make(map[int]bool)
		c.iterationEnd[key] = m
	}
	m[worker] = true
}

// OnReceive drains both inputs: main items are routed to leave/enter by the
// leave predicate (if any); feedback items are routed by predicate and the
// max_times cap.
func (c *Controller[T]) OnReceive(io *operator.IO[T]) (operator.Outcome, error) {
	main := io.In.Port("main")
	feedback := io.In.Port("feedback")
	leaveOut := io.Out.Port("leave")
	enterOut := io.Out.Port("enter")

	for {
		b, ok, err := main.TryPull()
		if err != nil {
			return operator.Idle(), err
		}
		if !ok {
			break
		}
		if err := c.handleMainBatch(b, leaveOut, enterOut); err != nil {
			return operator.Idle(), err
		}
	}
	for {
		b, ok, err := feedback.TryPull()
		if err != nil {
			return operator.Idle(), err
		}
		if !ok {
			break
		}
		if err := c.handleFeedbackBatch(b, leaveOut, enterOut); err != nil {
			return operator.Idle(), err
		}
	}
	return operator.Idle(), nil
}

func (c *Controller[T]) handleMainBatch(b batch.Batch[T], leaveOut, enterOut *operator.OutputPort[T]) error {
	items := b.Items()
	if len(items) == 0 {
		return nil
	}
	parent := b.Tag()
	var leaveItems, enterItems []T
	for _, it := range items {
		if c.pred != nil && c.pred(it) {
			leaveItems = append(leaveItems, it)
		} else {
			enterItems = append(enterItems, it)
		}
	}
	if len(leaveItems) > 0 {
		if _, err := leaveOut.Push(parent, leaveItems); err != nil {
			return err
		}
	}
	if len(enterItems) > 0 {
		iter1 := tag.Child(parent, 1)
		if _, err := enterOut.Push(iter1, enterItems); err != nil {
			return err
		}
		c.markEntered(parent, 0)
	}
	c.iterationStart[parent.Key()] = true
	return nil
}

func (c *Controller[T]) handleFeedbackBatch(b batch.Batch[T], leaveOut, enterOut *operator.OutputPort[T]) error {
	items := b.Items()
	if len(items) == 0 {
		return nil
	}
	childTag := b.Tag()
	parent := childTag.Parent()
	k := childTag.Last()

	var leaveItems, enterItems []T
	for _, it := range items {
		leave := false
		if c.maxTimes > 0 && int(k) >= c.maxTimes {
			leave = true
		} else if c.pred != nil && c.pred(it) {
			leave = true
		}
		if leave {
			leaveItems = append(leaveItems, it)
		} else {
			enterItems = append(enterItems, it)
		}
	}
	if len(leaveItems) > 0 {
		if _, err := leaveOut.Push(parent, leaveItems); err != nil {
			return err
		}
	}
	if len(enterItems) > 0 {
		next := childTag.Advance()
		if _, err := enterOut.Push(next, enterItems); err != nil {
			return err
		}
		c.markEntered(parent, int(k))
	}
	return nil
}

// OnActive is never driven: Controller never suspends work on output
// backpressure of its own (its two outputs only ever carry whatever
// OnReceive already pulled, so there is nothing to resume).
func (c *Controller[T]) OnActive(tags []tag.Tag, out *operator.Outputs[T]) (operator.Outcome, error) {
	return operator.Idle(), nil
}

// OnNotify handles End(main)/End(feedback) closures and Iteration state-sync
// events, per spec.md §4.6's "End of parent scope" / "End of iteration k" /
// "Scope closure" rules.
func (c *Controller[T]) OnNotify(ns []operator.Notification, out *operator.Outputs[T]) error {
	leaveOut := out.Port("leave")
	enterOut := out.Port("enter")

	for _, n := range ns {
		switch n.Kind {
		case operator.NotifyEnd:
			switch n.Channel {
			case c.mainCh:
				if err := c.onMainEnd(n.Tag, enterOut); err != nil {
					return err
				}
			case c.feedbackCh:
				if err := c.onFeedbackEnd(n.Tag, enterOut); err != nil {
					return err
				}
			}
		case operator.NotifyIteration:
			if err := c.onIterationEvent(n.Tag, n.Worker, leaveOut); err != nil {
				return err
			}
		}
	}
	return nil
}

// onMainEnd implements "End of parent scope on main input": forward an End
// for iteration 1 downstream on enter unconditionally (so the body
// subgraph can eventually close iteration 1 even when this worker fed it
// nothing), and additionally tell peers this worker is empty for iteration
// 1 when that is the case.
func (c *Controller[T]) onMainEnd(parent tag.Tag, enterOut *operator.OutputPort[T]) error {
	c.iterationStart[parent.Key()] = true
	iter1 := tag.Child(parent, 1)

	if !c.entered(parent, 0) {
		if err := enterOut.Tracker().RecordIteration(enterOut.Ctx(), enterOut.Channel(), iter1); err != nil {
			return err
		}
		c.recordIterationEnd(iter1, c.self)
	}

	enterOut.PushEnd(batch.EndOfScope{Tag: iter1, GlobalCount: 1})
	return enterOut.Tracker().RecordEnd(enterOut.Ctx(), enterOut.Channel(), iter1)
}

// onFeedbackEnd implements "End of iteration k on feedback": while the
// parent scope is still open on this worker, forward an End for iteration
// k+1 downstream on enter, and additionally broadcast an Iteration
// state-sync event when this worker contributed no data to iteration k, so
// peers do not wait on a per-item signal that will never arrive from this
// worker. Once onIterationEvent has closed the parent scope, a late
// feedback End is dropped, which ends the chain of per-iteration Ends.
func (c *Controller[T]) onFeedbackEnd(childTag tag.Tag, enterOut *operator.OutputPort[T]) error {
	parent := childTag.Parent()
	k := childTag.Last()
	next := childTag.Advance()

	if !c.iterationStart[parent.Key()] {
		return nil
	}

	if !c.entered(parent, int(k)-1) {
		if err := enterOut.Tracker().RecordIteration(enterOut.Ctx(), enterOut.Channel(), childTag); err != nil {
			return err
		}
		c.recordIterationEnd(childTag, c.self)
	}

	enterOut.PushEnd(batch.EndOfScope{Tag: next, GlobalCount: 1})
	return enterOut.Tracker().RecordEnd(enterOut.Ctx(), enterOut.Channel(), next)
}

// onIterationEvent folds a peer's (or this worker's own) "I contributed
// nothing to this iteration tag" report into iteration_end; once every
// peer has reported for an iteration tag, that iteration is globally dry —
// its history is forgotten, and if the enclosing parent scope was ever
// started on this worker, the outer scope closes on leave.
func (c *Controller[T]) onIterationEvent(iterTag tag.Tag, worker int, leaveOut *operator.OutputPort[T]) error {
	c.recordIterationEnd(iterTag, worker)
	if len(c.iterationEnd[iterTag.Key()]) < c.peers {
		return nil
	}
	parent := iterTag.Parent()
	delete(c.iterationEnd, iterTag.Key())
	delete(c.history, parent.Key())

	if c.iterationStart[parent.Key()] {
		delete(c.iterationStart, parent.Key())
		leaveOut.PushEnd(batch.EndOfScope{Tag: parent, GlobalCount: 1})
		return leaveOut.Tracker().RecordEnd(leaveOut.Ctx(), leaveOut.Channel(), parent)
	}
	return nil
}
