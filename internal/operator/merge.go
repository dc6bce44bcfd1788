package operator

import (
	"github.com/graphscope/pegasus/internal/batch"
	"github.com/graphscope/pegasus/internal/tag"
)

// Merge is the operator core behind the §6 merge builder helper: N named
// inputs ("in0".."inN-1"), fanning into a single output under the
// unchanged tag. Unlike Transform/Branch (which forward a single
// upstream's End unconditionally), Merge must see an End for a given tag
// from every one of its N independent inputs before the scope is really
// closed on the merged output — each input is an independently-progressing
// upstream operator, not a fan-out of the same one.
type Merge[T any] struct {
	channels []int // channel id per named input, in index order
	chIndex  map[int]int

	endsSeen map[string]map[int]bool
	eosSeen  map[int]bool
}

// NewMerge builds a Merge core over the given input channel ids, in the
// same order the caller wires "in0".."inN-1".
func NewMerge[T any](channels []int) *Merge[T] {
	idx := make(map[int]int, len(channels))
	for i, ch := range channels {
		idx[ch] = i
	}
	return &Merge[T]{
		channels: channels,
		chIndex:  idx,
		endsSeen: make(map[string]map[int]bool),
		eosSeen:  make(map[int]bool),
	}
}

func (c *Merge[T]) OnReceive(io *IO[T]) (Outcome, error) {
	out := io.Out.Main()
	for i := range c.channels {
		in := io.In.Port(portName(i))
		if in == nil {
			continue
		}
		for {
			b, ok, err := in.TryPull()
			if err != nil {
				return Idle(), err
			}
			if !ok {
				break
			}
			if b.Len() > 0 {
				if _, err := out.Push(b.Tag(), b.Items()); err != nil {
					return Idle(), err
				}
			}
			// b's own end marker is not acted on here: the merge's closure
			// is derived from End/EOS notifications across all N inputs in
			// OnNotify, not from any one input's data-path end marker.
		}
	}
	return Idle(), nil
}

func (c *Merge[T]) OnActive(tags []tag.Tag, out *Outputs[T]) (Outcome, error) {
	return Idle(), nil
}

// OnNotify folds an End from input i into endsSeen[tag]; once every input
// has reported, the merged scope is closed and a single End is forwarded.
// EOS is forwarded once every input channel has reported EOS.
func (c *Merge[T]) OnNotify(ns []Notification, out *Outputs[T]) error {
	o := out.Main()
	for _, n := range ns {
		i, ok := c.chIndex[n.Channel]
		if !ok {
			continue
		}
		switch n.Kind {
		case NotifyEnd:
			key := n.Tag.Key()
			seen, ok := c.endsSeen[key]
			if !ok {
				seen = make(map[int]bool, len(c.channels))
				c.endsSeen[key] = seen
			}
			seen[i] = true
			if len(seen) < len(c.channels) {
				continue
			}
			delete(c.endsSeen, key)
			o.PushEnd(batch.EndOfScope{Tag: n.Tag, GlobalCount: 1})
			if err := o.Tracker().RecordEnd(o.Ctx(), o.Channel(), n.Tag); err != nil {
				return err
			}
		case NotifyEOS:
			c.eosSeen[i] = true
			if len(c.eosSeen) < len(c.channels) {
				continue
			}
			if err := o.Tracker().RecordEOS(o.Ctx(), o.Channel()); err != nil {
				return err
			}
		}
	}
	return nil
}

func portName(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return "in" + string(digits[i])
	}
	// Falls back to a slower but still allocation-light path for the rare
	// merge with more than 10 inputs.
	buf := []byte("in")
	var tmp [20]byte
	pos := len(tmp)
	for i > 0 {
		pos--
		tmp[pos] = digits[i%10]
		i /= 10
	}
	return string(append(buf, tmp[pos:]...))
}
