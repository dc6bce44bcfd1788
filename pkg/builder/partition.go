package builder

import (
	"strconv"

	"github.com/serialx/hashring"

	"github.com/graphscope/pegasus/internal/tag"
)

// hashRouter wraps a hashring so Exchange/ScopeExchange routing functions
// built from it share one ring instead of rebuilding per call.
type hashRouter struct {
	ring *hashring.HashRing
}

func newHashRouter(numPeers int) *hashRouter {
	nodes := make([]string, numPeers)
	for i := range nodes {
		nodes[i] = strconv.Itoa(i)
	}
	return &hashRouter{ring: hashring.New(nodes)}
}

func (r *hashRouter) route(key string) int {
	node, ok := r.ring.GetNode(key)
	if !ok {
		return 0
	}
	idx, err := strconv.Atoi(node)
	if err != nil {
		return 0
	}
	return idx
}

// KeyPartition builds an Exchange routing function over numPeers workers
// via a consistent-hash ring, keyed by keyOf(item).
func KeyPartition[T any](numPeers int, keyOf func(T) string) func(T) int {
	r := newHashRouter(numPeers)
	return func(item T) int { return r.route(keyOf(item)) }
}

// TagPartition builds a ScopeExchange routing function over numPeers
// workers via a consistent-hash ring keyed by the parent tag, so an entire
// nested scope collocates on one worker (spec.md §4.3).
func TagPartition(numPeers int) func(tag.Tag) int {
	r := newHashRouter(numPeers)
	return func(t tag.Tag) int { return r.route(t.Key()) }
}
