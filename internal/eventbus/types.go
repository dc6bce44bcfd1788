// Package eventbus implements the reliable, out-of-band progress event
// transport that channels carry progress on, side by side with data
// (spec.md §4.3). Events are delivered in order per (source, destination)
// pair but are not ordered relative to data batches; consumers of the
// progress tracker (C4) must be idempotent under that reordering.
package eventbus

import "github.com/graphscope/pegasus/internal/tag"

// Kind enumerates the event variants of spec.md §4.3/§4.4.
type Kind int

const (
	Pushed Kind = iota
	Pulled
	End
	EOS
	Iteration
	HighWaterMark
	LowWaterMark
	Cancel
)

func (k Kind) String() string {
	switch k {
	case Pushed:
		return "pushed"
	case Pulled:
		return "pulled"
	case End:
		return "end"
	case EOS:
		return "eos"
	case Iteration:
		return "iteration"
	case HighWaterMark:
		return "high_water_mark"
	case LowWaterMark:
		return "low_water_mark"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Event is one progress message travelling on the event bus. Not every
// field applies to every Kind: Count applies to Pushed/Pulled, Worker to
// End/EOS/Iteration/HighWaterMark/LowWaterMark, Cascade to Cancel only.
type Event struct {
	Kind    Kind
	Channel int
	Tag     tag.Tag
	Count   uint64
	Worker  int
	Cascade bool
}

func PushedEvent(ch int, t tag.Tag, n uint64) Event {
	return Event{Kind: Pushed, Channel: ch, Tag: t, Count: n}
}

func PulledEvent(ch int, t tag.Tag, n uint64) Event {
	return Event{Kind: Pulled, Channel: ch, Tag: t, Count: n}
}

func EndEvent(ch int, t tag.Tag, worker int) Event {
	return Event{Kind: End, Channel: ch, Tag: t, Worker: worker}
}

func EOSEvent(ch, worker int) Event {
	return Event{Kind: EOS, Channel: ch, Worker: worker}
}

func IterationEvent(ch int, t tag.Tag, worker int) Event {
	return Event{Kind: Iteration, Channel: ch, Tag: t, Worker: worker}
}

func HighWaterMarkEvent(ch int, t tag.Tag, worker int) Event {
	return Event{Kind: HighWaterMark, Channel: ch, Tag: t, Worker: worker}
}

func LowWaterMarkEvent(ch int, t tag.Tag, worker int) Event {
	return Event{Kind: LowWaterMark, Channel: ch, Tag: t, Worker: worker}
}

func CancelEvent(ch int, t tag.Tag, cascade bool) Event {
	return Event{Kind: Cancel, Channel: ch, Tag: t, Cascade: cascade}
}
