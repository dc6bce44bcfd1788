// Package progress implements the event manager / progress tracker (C4):
// the per-channel bookkeeping that decides when a scope is globally
// quiescent, per spec.md §4.4.
package progress

import (
	"context"
	"sync"

	"github.com/tevino/abool"

	"github.com/graphscope/pegasus/internal/eventbus"
	"github.com/graphscope/pegasus/internal/tag"
)

// thresholds is the water-mark pair the scheduler publishes per (channel,
// tag): high = bound+1, low = 3*bound/4 (spec.md §4.8).
type thresholds struct {
	high uint64
	low  uint64
}

type tagState struct {
	outstanding int64
	endsSeen    map[int]struct{}
	blocked     *abool.AtomicBool
	aboveHigh   bool // debounce state for edge-triggered water-mark events
}

func newTagState() *tagState {
	return &tagState{endsSeen: make(map[int]struct{}), blocked: abool.New()}
}

type channelState struct {
	peersCount int
	tags       map[string]*tagState
	thresh     map[string]thresholds
	eosSeen    map[int]struct{}
	closed     bool
}

func newChannelState(peersCount int) *channelState {
	return &channelState{
		peersCount: peersCount,
		tags:       make(map[string]*tagState),
		thresh:     make(map[string]thresholds),
		eosSeen:    make(map[int]struct{}),
	}
}

// Closure is delivered to the downstream operator when a scope closes on a
// channel (an End notification) or a channel is fully exhausted (EOS).
type Closure struct {
	Channel int
	Tag     tag.Tag
	IsEOS   bool
}

// Tracker is one worker's progress tracker, owning the per-channel state
// described in spec.md §4.4. It is driven by events pulled off the bus and
// by the worker's own Pushed/Pulled accounting as it moves batches.
type Tracker struct {
	self  int
	bus   *eventbus.Bus
	mu    sync.Mutex
	chans map[int]*channelState

	closures []Closure
}

// New creates a tracker for worker self, publishing and consuming progress
// events over bus.
func New(self int, bus *eventbus.Bus) *Tracker {
	return &Tracker{self: self, bus: bus, chans: make(map[int]*channelState)}
}

func (t *Tracker) channel(ch, peersCount int) *channelState {
	cs, ok := t.chans[ch]
	if !ok {
		cs = newChannelState(peersCount)
		t.chans[ch] = cs
	} else if cs.peersCount == 0 {
		// SetThresholds creates the state before the peer count is known.
		cs.peersCount = peersCount
	}
	return cs
}

// SetThresholds installs the scheduler-provided water-mark bounds for
// (channel, tag), per spec.md §4.8.
func (t *Tracker) SetThresholds(ch int, tg tag.Tag, high, low uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.channel(ch, 0)
	cs.thresh[tg.Key()] = thresholds{high: high, low: low}
}

// RecordPushed broadcasts a Pushed event for n items tagged t on channel ch
// to every peer, this worker included. Every tracker in the job applies
// Pushed/Pulled purely from bus traffic (never a local bypass) so all
// replicas of outstanding[ch,t] stay consistent with each other, mirroring
// Naiad's broadcast pointstamp-diff protocol.
func (t *Tracker) RecordPushed(ctx context.Context, ch int, tg tag.Tag, n uint64) error {
	return t.bus.Broadcast(ctx, t.self, eventbus.PushedEvent(ch, tg, n))
}

// RecordPulled mirrors RecordPushed for the consuming side.
func (t *Tracker) RecordPulled(ctx context.Context, ch int, tg tag.Tag, n uint64) error {
	return t.bus.Broadcast(ctx, t.self, eventbus.PulledEvent(ch, tg, n))
}

// RecordEnd broadcasts an End(tag) for channel ch from this worker, per
// §4.4's End transition. Every peer's tracker (this one included, via its
// own Poll loop) folds it into ends_seen[ch,tag].
func (t *Tracker) RecordEnd(ctx context.Context, ch int, tg tag.Tag) error {
	return t.bus.Broadcast(ctx, t.self, eventbus.EndEvent(ch, tg, t.self))
}

// RecordEOS broadcasts an EOS for channel ch from this worker — the Source
// operator's contract (§4.5: "emits items until exhausted, then emits EOS
// on its outgoing channels").
func (t *Tracker) RecordEOS(ctx context.Context, ch int) error {
	return t.bus.Broadcast(ctx, t.self, eventbus.EOSEvent(ch, t.self))
}

// RecordIteration broadcasts an Iteration(tag) state-sync signal for
// channel ch from this worker, per §4.6.
func (t *Tracker) RecordIteration(ctx context.Context, ch int, tg tag.Tag) error {
	return t.bus.Broadcast(ctx, t.self, eventbus.IterationEvent(ch, tg, t.self))
}

// RecordCancel unicasts a Cancel event for tag tg on channel ch to worker
// dest; BroadcastCancel is the multi-sender counterpart (§4.7 step 3).
func (t *Tracker) RecordCancel(ctx context.Context, dest, ch int, tg tag.Tag, cascade bool) error {
	return t.bus.Send(ctx, t.self, dest, eventbus.CancelEvent(ch, tg, cascade))
}

// BroadcastCancel fans a Cancel event out to every peer except self, used
// when the cancelled channel has more than one sender (§4.7 step 3).
func (t *Tracker) BroadcastCancel(ctx context.Context, ch int, tg tag.Tag, cascade bool) error {
	return t.bus.BroadcastExclude(ctx, t.self, eventbus.CancelEvent(ch, tg, cascade))
}

// checkWaterMark fires an edge-triggered HighWaterMark/LowWaterMark event
// when outstanding crosses the configured thresholds, debounced so each
// direction only fires once until the opposite edge is crossed.
func (t *Tracker) checkWaterMark(cs *channelState, ts *tagState, ch int, tg tag.Tag) {
	th, ok := cs.thresh[tg.Key()]
	if !ok {
		return
	}
	o := uint64(0)
	if ts.outstanding > 0 {
		o = uint64(ts.outstanding)
	}
	switch {
	case !ts.aboveHigh && o >= th.high:
		ts.aboveHigh = true
		ts.blocked.Set()
	case ts.aboveHigh && o <= th.low:
		ts.aboveHigh = false
		ts.blocked.UnSet()
	}
}

// IsBlocked reports whether downstream high-water has fired for (ch, tag)
// and not yet cleared — the scheduler (§4.8) consults this before admitting
// more output on that tag.
func (t *Tracker) IsBlocked(ch int, tg tag.Tag) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs, ok := t.chans[ch]
	if !ok {
		return false
	}
	ts, ok := cs.tags[tg.Key()]
	if !ok {
		return false
	}
	return ts.blocked.IsSet()
}

// Polled is everything Poll extracted from the bus in one sweep: Closures
// go to the owning operator's OnNotify; Iterations go to the iteration
// controller (C6); Cancels go to the cancellation propagation logic (C7).
// Neither of the latter two represents a channel-local closure, so they
// are reported separately rather than folded into Closure.
type Polled struct {
	Closures   []Closure
	Iterations []eventbus.Event
	Cancels    []eventbus.Event
}

// Poll drains queued events from the bus and folds them into this
// tracker's state, returning any Closure notifications (End/EOS) produced
// as a result — to be delivered to the relevant operator via on_notify —
// plus any Iteration/Cancel events for the subsystems that own them.
func (t *Tracker) Poll(peersCountOf func(ch int) int) Polled {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out Polled
	for {
		ev, _, ok := t.bus.TryRecv(t.self)
		if !ok {
			break
		}
		switch ev.Kind {
		case eventbus.Iteration:
			out.Iterations = append(out.Iterations, ev)
		case eventbus.Cancel:
			out.Cancels = append(out.Cancels, ev)
		default:
			if c, fired := t.handleLocked(ev, peersCountOf); fired {
				out.Closures = append(out.Closures, c)
			}
		}
	}
	return out
}

func (t *Tracker) handleLocked(ev eventbus.Event, peersCountOf func(ch int) int) (Closure, bool) {
	switch ev.Kind {
	case eventbus.Pushed:
		cs := t.channel(ev.Channel, peersCountOf(ev.Channel))
		ts := cs.tags[ev.Tag.Key()]
		if ts == nil {
			ts = newTagState()
			cs.tags[ev.Tag.Key()] = ts
		}
		ts.outstanding += int64(ev.Count)
		t.checkWaterMark(cs, ts, ev.Channel, ev.Tag)

	case eventbus.Pulled:
		cs := t.channel(ev.Channel, peersCountOf(ev.Channel))
		ts := cs.tags[ev.Tag.Key()]
		if ts == nil {
			ts = newTagState()
			cs.tags[ev.Tag.Key()] = ts
		}
		ts.outstanding -= int64(ev.Count)
		t.checkWaterMark(cs, ts, ev.Channel, ev.Tag)
		return t.maybeClose(cs, ts, ev.Channel, ev.Tag)

	case eventbus.End:
		return t.recordEnd(ev, peersCountOf)

	case eventbus.EOS:
		return t.recordEOS(ev, peersCountOf)
	}
	return Closure{}, false
}

// recordEnd implements §4.4's End transition: record w in ends_seen[ch,t];
// when every peer has reported an End for t and outstanding has drained to
// zero, the scope is closed — exactly one synthetic End(t) fires downstream
// and t is forgotten on this channel.
func (t *Tracker) recordEnd(ev eventbus.Event, peersCountOf func(ch int) int) (Closure, bool) {
	cs := t.channel(ev.Channel, peersCountOf(ev.Channel))
	ts, ok := cs.tags[ev.Tag.Key()]
	if !ok {
		ts = newTagState()
		cs.tags[ev.Tag.Key()] = ts
	}
	ts.endsSeen[ev.Worker] = struct{}{}
	return t.maybeClose(cs, ts, ev.Channel, ev.Tag)
}

// maybeClose fires the synthetic closure once both halves of the condition
// are satisfied. Pushed/Pulled and End events arrive independently off the
// bus in either order — a worker's own End often precedes a peer's final
// Pulled of the same tag — so every event that can complete the condition
// must re-check it, not just recordEnd.
func (t *Tracker) maybeClose(cs *channelState, ts *tagState, ch int, tg tag.Tag) (Closure, bool) {
	if len(ts.endsSeen) == cs.peersCount && ts.outstanding == 0 {
		delete(cs.tags, tg.Key())
		return Closure{Channel: ch, Tag: tg}, true
	}
	return Closure{}, false
}

// recordEOS implements §4.4's EOS transition: mark peer w exhausted; once
// every peer is exhausted and nothing remains outstanding on the channel,
// deliver EOS(ch) downstream and discard the channel's state entirely.
func (t *Tracker) recordEOS(ev eventbus.Event, peersCountOf func(ch int) int) (Closure, bool) {
	cs := t.channel(ev.Channel, peersCountOf(ev.Channel))
	cs.eosSeen[ev.Worker] = struct{}{}

	if len(cs.eosSeen) < cs.peersCount {
		return Closure{}, false
	}
	for _, ts := range cs.tags {
		if ts.outstanding != 0 {
			return Closure{}, false
		}
	}
	cs.closed = true
	delete(t.chans, ev.Channel)
	return Closure{Channel: ev.Channel, IsEOS: true}, true
}

// HasOutstanding reports whether any tag on ch still has a nonzero
// outstanding count. The scheduler's Sink shortcut does not consult it.
func (t *Tracker) HasOutstanding(ch int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs, ok := t.chans[ch]
	if !ok {
		return false
	}
	for _, ts := range cs.tags {
		if ts.outstanding != 0 {
			return true
		}
	}
	return false
}
