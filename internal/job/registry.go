package job

import (
	"sync"

	"github.com/graphscope/pegasus/pkg/builder"
)

// BuilderFunc is a host-supplied closure producing the operator(s) for one
// OperatorBuilderRecord (spec.md §6 "the host supplies closures producing
// operator cores"): given the graph under construction, the record itself
// (for its Blob and declared arity) and the already-built input streams, it
// returns the output streams in the same order as rec.Outputs. A builder
// typically starts by mapstructure-decoding rec.Blob into its own config
// struct before calling the matching pkg/builder combinator.
type BuilderFunc[T any] func(g *builder.Graph[T], rec OperatorBuilderRecord, inputs []*builder.Stream[T]) ([]*builder.Stream[T], error)

// Registry resolves an OperatorBuilderRecord.Kind to the BuilderFunc that
// knows how to wire it, modeled on the teacher's internal/plugin registry:
// a dependency-free map from a string key to a constructor, populated by
// Register calls at process startup rather than discovered by reflection.
type Registry[T any] struct {
	mu       sync.RWMutex
	builders map[string]BuilderFunc[T]
}

// NewRegistry builds an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{builders: make(map[string]BuilderFunc[T])}
}

// Register installs fn under kind, overwriting any previous registration —
// the same last-one-wins semantics the teacher's plugin registry uses, so a
// host can shadow a built-in kind with its own implementation.
func (r *Registry[T]) Register(kind string, fn BuilderFunc[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = fn
}

func (r *Registry[T]) lookup(kind string) (BuilderFunc[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.builders[kind]
	return fn, ok
}
