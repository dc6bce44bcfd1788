package iterate_test

import (
	"context"
	"testing"

	"github.com/graphscope/pegasus/internal/batch"
	"github.com/graphscope/pegasus/internal/channel"
	"github.com/graphscope/pegasus/internal/eventbus"
	"github.com/graphscope/pegasus/internal/iterate"
	"github.com/graphscope/pegasus/internal/operator"
	"github.com/graphscope/pegasus/internal/progress"
	"github.com/graphscope/pegasus/internal/tag"
)

const (
	chMain = iota
	chFeedback
	chEnter
	chLeave
)

// rig wires a single-worker (peers=1) harness around a Controller: real
// main/feedback/enter/leave channels and a real progress tracker, with the
// loop body supplied as a plain Go function driven by the test itself
// (the body subgraph is the job builder's concern, not the controller's).
type rig struct {
	t       *testing.T
	ctx     context.Context
	tracker *progress.Tracker

	mainSrc  *channel.End[int] // test plays the role of the Source pushing main input
	enterBody *channel.End[int] // test plays the role of the body reading enter
	feedback  *channel.End[int] // test plays the role of the body writing feedback
	leaveOut  *channel.End[int] // test reads final output

	io  *operator.IO[int]
	out *operator.Outputs[int]

	seq map[int]*uint64
}

func peersCountOf(ch int) int { return 1 }

func newRig(t *testing.T) *rig {
	bus := eventbus.New(1, 64)
	tracker := progress.New(0, bus)

	mainSet := channel.NewSet[int](chMain, channel.Pipeline, 0, 1, nil, nil, 0)
	feedbackSet := channel.NewSet[int](chFeedback, channel.Pipeline, 1, 1, nil, nil, 0)
	enterSet := channel.NewSet[int](chEnter, channel.Pipeline, 1, 1, nil, nil, 0)
	leaveSet := channel.NewSet[int](chLeave, channel.Pipeline, 0, 1, nil, nil, 0)

	mainInEnd := mainSet.End(0)
	feedbackInEnd := feedbackSet.End(0)
	enterOutEnd := enterSet.End(0)
	leaveOutEnd := leaveSet.End(0)

	mainPort := operator.NewInputPort[int](chMain, mainInEnd, tracker)
	feedbackPort := operator.NewInputPort[int](chFeedback, feedbackInEnd, tracker)
	in := operator.NewInputs(map[string]*operator.InputPort[int]{
		"main":     mainPort,
		"feedback": feedbackPort,
	}, []string{"main", "feedback"})

	leavePort := operator.NewOutputPort[int]("leave", chLeave, 0, leaveOutEnd, tracker)
	enterPort := operator.NewOutputPort[int]("enter", chEnter, 0, enterOutEnd, tracker)
	out := operator.NewOutputs(leavePort, enterPort)

	r := &rig{
		t:         t,
		ctx:       context.Background(),
		tracker:   tracker,
		mainSrc:   mainSet.End(0),
		enterBody: enterSet.End(0),
		feedback:  feedbackSet.End(0),
		leaveOut:  leaveSet.End(0),
		io:        &operator.IO[int]{In: in, Out: out},
		out:       out,
		seq:       map[int]*uint64{chMain: new(uint64), chFeedback: new(uint64), chEnter: new(uint64), chLeave: new(uint64)},
	}
	return r
}

func (r *rig) nextSeq(ch int) uint64 {
	*r.seq[ch]++
	return *r.seq[ch]
}

// sendMain pushes a data batch on main, carrying an end marker declaring no
// more main data will ever follow (single-shot literal source, as in S1-S6).
func (r *rig) sendMain(items []int) {
	b := batch.New(tag.Root(), 0, r.nextSeq(chMain), items)
	b = b.SetEnd(batch.EndOfScope{Tag: tag.Root(), GlobalCount: 1})
	r.mainSrc.Push(b)
	if err := r.tracker.RecordPushed(r.ctx, chMain, tag.Root(), uint64(len(items))); err != nil {
		r.t.Fatal(err)
	}
	if err := r.tracker.RecordEnd(r.ctx, chMain, tag.Root()); err != nil {
		r.t.Fatal(err)
	}
}

// runBody drains whatever the controller pushed to enter, applies fn, and
// feeds the result back on feedback — standing in for the user's loop body.
func (r *rig) runBody(fn func(int) int) {
	for {
		b, _, ok := r.enterBody.TryPull()
		if !ok {
			return
		}
		t := b.Tag()
		items := b.Items()
		if n := len(items); n > 0 {
			if err := r.tracker.RecordPulled(r.ctx, chEnter, t, uint64(n)); err != nil {
				r.t.Fatal(err)
			}
			out := make([]int, n)
			for i, v := range items {
				out[i] = fn(v)
			}
			r.feedback.Push(batch.New(t, 0, r.nextSeq(chFeedback), out))
			if err := r.tracker.RecordPushed(r.ctx, chFeedback, t, uint64(n)); err != nil {
				r.t.Fatal(err)
			}
		}
		if _, end, hasEnd := b.TakeEnd(); hasEnd {
			r.feedback.Push(batch.EndMarker[int](end, 0, r.nextSeq(chFeedback)))
			if err := r.tracker.RecordEnd(r.ctx, chFeedback, end.Tag); err != nil {
				r.t.Fatal(err)
			}
		}
	}
}

// step fires the controller once: drain main/feedback input, then poll the
// tracker and deliver any resulting notifications.
func (r *rig) step(c operator.Core[int]) {
	if _, err := c.OnReceive(r.io); err != nil {
		r.t.Fatal(err)
	}

	polled := r.tracker.Poll(peersCountOf)
	var ns []operator.Notification
	for _, cl := range polled.Closures {
		k := operator.NotifyEnd
		if cl.IsEOS {
			k = operator.NotifyEOS
		}
		ns = append(ns, operator.Notification{Kind: k, Channel: cl.Channel, Tag: cl.Tag, Worker: 0})
	}
	for _, ev := range polled.Iterations {
		ns = append(ns, operator.Notification{Kind: operator.NotifyIteration, Channel: ev.Channel, Tag: ev.Tag, Worker: ev.Worker})
	}
	if len(ns) > 0 {
		if err := c.OnNotify(ns, r.out); err != nil {
			r.t.Fatal(err)
		}
	}
}

// drainLeave collects every item delivered to leave so far, and reports
// whether the parent scope's End has arrived.
func (r *rig) drainLeave() (items []int, closed bool) {
	for {
		b, _, ok := r.leaveOut.TryPull()
		if !ok {
			return items, closed
		}
		items = append(items, b.Items()...)
		if _, _, hasEnd := b.TakeEnd(); hasEnd {
			closed = true
		}
	}
}

// TestIterate_FixedCount reproduces spec.md §8 scenario S3: iterate(x ->
// x+1, max_times=3) over a single item [1] must yield [4].
func TestIterate_FixedCount(t *testing.T) {
	r := newRig(t)
	ctrl := iterate.NewIterate[int](3, chMain, chFeedback, 0, 1)

	r.sendMain([]int{1})

	var got []int
	closed := false
	for i := 0; i < 10 && !closed; i++ {
		r.step(ctrl)
		r.runBody(func(x int) int { return x + 1 })
		r.step(ctrl)
		items, c := r.drainLeave()
		got = append(got, items...)
		closed = closed || c
	}

	if !closed {
		t.Fatal("loop never closed the outer scope")
	}
	if len(got) != 1 || got[0] != 4 {
		t.Fatalf("got %v, want [4]", got)
	}
}

// TestIterateUntil_Predicate reproduces S4: iterate_until(max_times=10,
// pred=x>=5, body=x->x+1) over [1] must yield [5] after 4 iterations.
func TestIterateUntil_Predicate(t *testing.T) {
	r := newRig(t)
	ctrl := iterate.NewIterateUntil[int](10, func(x int) bool { return x >= 5 }, chMain, chFeedback, 0, 1)

	r.sendMain([]int{1})

	var got []int
	closed := false
	for i := 0; i < 20 && !closed; i++ {
		r.step(ctrl)
		r.runBody(func(x int) int { return x + 1 })
		r.step(ctrl)
		items, c := r.drainLeave()
		got = append(got, items...)
		closed = closed || c
	}

	if !closed {
		t.Fatal("loop never closed the outer scope")
	}
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("got %v, want [5]", got)
	}
}
