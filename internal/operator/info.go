// Package operator implements the operator runtime (C5): the wrapper that
// owns an operator's inputs, outputs, pending notifications and active
// work, per spec.md §4.5.
package operator

// Mode classifies an operator's fan-in/fan-out shape, consumed as a hint by
// the resource-bounded scheduler (C8) when deciding how to bound output.
type Mode int

const (
	// Unknown is the conservative default: treated like Source/Expand by
	// the scheduler's get_output_capacity path.
	Unknown Mode = iota
	// Source has no inputs; it is a terminal that originates data.
	Source
	// Pass is 1-in/1-out: no fanout change (e.g. map, filter-in-place).
	Pass
	// Expand is ≥1-in/≥1-out, able to grow the number of items in flight
	// (e.g. flat_map, the iteration controller's enter port).
	Expand
	// Clip is ≥1-in/≤1-out, able to shrink items in flight (e.g. a limit,
	// an aggregation that folds many inputs into one output item).
	Clip
	// Sink has no outputs; it is a terminal that consumes data.
	Sink
)

func (m Mode) String() string {
	switch m {
	case Source:
		return "source"
	case Pass:
		return "pass"
	case Expand:
		return "expand"
	case Clip:
		return "clip"
	case Sink:
		return "sink"
	default:
		return "unknown"
	}
}

// Info is the static description of an operator, fixed at build time.
type Info struct {
	Index      int
	Name       string
	ScopeLevel int
	Peers      int
	Mode       Mode
	// JobID labels this operator's metrics series; empty for operators built
	// outside a job.Request (e.g. ad hoc pkg/builder use in tests).
	JobID string
}
