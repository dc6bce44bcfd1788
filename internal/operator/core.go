package operator

import "github.com/graphscope/pegasus/internal/tag"

// NotificationKind enumerates the notification variants an OperatorCore's
// OnNotify hook may receive, per spec.md §4.5: "handle End(channel,tag),
// EOS(channel), Iteration(tag,worker,ch) delivered by the event manager."
type NotificationKind int

const (
	NotifyEnd NotificationKind = iota
	NotifyEOS
	NotifyIteration
)

// Notification is one closure or iteration signal delivered to an
// operator's OnNotify hook.
type Notification struct {
	Kind    NotificationKind
	Channel int
	Tag     tag.Tag
	Worker  int
}

// Outcome is the result of firing OnReceive or OnActive: either the
// operator drained everything it could (Idle), or output capacity filled
// first and it returns the tags whose work is suspended (Active), so the
// scheduler knows to resume them via OnActive on a later step.
type Outcome struct {
	ActiveTags []tag.Tag
}

// Idle is the zero Outcome: no suspended work.
func Idle() Outcome { return Outcome{} }

// Active wraps the tags whose work was suspended by output backpressure.
func Active(tags ...tag.Tag) Outcome { return Outcome{ActiveTags: tags} }

// Core is the three-hook capability set every operator implements
// (spec.md §4.5, §9 "Dynamic dispatch of operator cores"). It is generic
// over the operator's item type; the Wrapper erases T behind the
// non-generic Handle interface so heterogeneous operators can share one
// worker's scheduling loop.
type Core[T any] interface {
	// OnReceive drains as much input as output capacity allows. io.Budget
	// (an operator.Budget) maps a tag's Key() to the number of output bytes
	// the scheduler granted for this firing; a grant of Unbounded means no
	// cap was applied.
	OnReceive(io *IO[T]) (Outcome, error)

	// OnActive resumes work previously suspended for the given tags, now
	// that the scheduler granted fresh output capacity.
	OnActive(tags []tag.Tag, out *Outputs[T]) (Outcome, error)

	// OnNotify handles End/EOS/Iteration notifications not currently held
	// back by an active tag.
	OnNotify(ns []Notification, out *Outputs[T]) error
}
