package operator

import "github.com/graphscope/pegasus/internal/tag"

// Unbounded is the sentinel budget value meaning "no scheduler-imposed cap
// on output for this tag" (spec.md §4.8: Clip operators and non-expanding
// Pass operators get unbounded output).
const Unbounded uint64 = ^uint64(0)

// Budget is the per-tag output byte capacity the scheduler granted an
// operator for one firing (spec.md §4.8's get_task admission decision). A
// tag absent from the budget, or present with Unbounded, is not
// capacity-limited; a tag present with 0 is output-blocked and must not be
// drained this step.
type Budget map[string]uint64

// For returns the byte budget granted for t, defaulting to Unbounded when
// the scheduler recorded no bound for it (e.g. a Clip operator, or a tag
// the scheduler has not yet seen through get_output_capacity).
func (b Budget) For(t tag.Tag) uint64 {
	if b == nil {
		return Unbounded
	}
	v, ok := b[t.Key()]
	if !ok {
		return Unbounded
	}
	return v
}

// IsBlocked reports whether t was granted exactly zero bytes this step.
func (b Budget) IsBlocked(t tag.Tag) bool {
	if b == nil {
		return false
	}
	v, ok := b[t.Key()]
	return ok && v == 0
}
