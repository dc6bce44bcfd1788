package job

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/graphscope/pegasus/internal/core"
	"github.com/graphscope/pegasus/pkg/builder"
)

// limitConfig is the typed shape OperatorBuilderRecord.Blob decodes into
// for the built-in "limit" kind (spec.md §4.7, the S5 early-exit scenario).
type limitConfig struct {
	N       int  `mapstructure:"n"`
	Cascade bool `mapstructure:"cascade"`
}

// DefaultRegistry returns a Registry pre-populated with the structural
// built-in kinds that need no host business logic — enter_scope,
// leave_scope, merge and limit — mirroring the scope-rewriting and
// early-exit helpers pkg/builder already exposes directly for Go callers.
// Kinds that wrap a per-item function (map, filter, flat_map, branch,
// iterate*) are deliberately not registered here: the function itself is
// leaf-operator business logic (spec.md §1 Non-goals), so a host wanting a
// plan-driven version of one of those kinds registers its own BuilderFunc
// closing over the concrete func(T) T / func(T) bool it needs, decoding
// only the cheap scalar parameters out of Blob the same way limit does
// below.
func DefaultRegistry[T any]() *Registry[T] {
	r := NewRegistry[T]()
	r.Register("enter_scope", buildEnterScope[T])
	r.Register("leave_scope", buildLeaveScope[T])
	r.Register("merge", buildMerge[T])
	r.Register("limit", buildLimit[T])
	return r
}

func buildEnterScope[T any](g *builder.Graph[T], rec OperatorBuilderRecord, inputs []*builder.Stream[T]) ([]*builder.Stream[T], error) {
	in, err := single(rec, inputs)
	if err != nil {
		return nil, err
	}
	return []*builder.Stream[T]{in.EnterScope(rec.Kind)}, nil
}

func buildLeaveScope[T any](g *builder.Graph[T], rec OperatorBuilderRecord, inputs []*builder.Stream[T]) ([]*builder.Stream[T], error) {
	in, err := single(rec, inputs)
	if err != nil {
		return nil, err
	}
	return []*builder.Stream[T]{in.LeaveScope(rec.Kind)}, nil
}

func buildMerge[T any](g *builder.Graph[T], rec OperatorBuilderRecord, inputs []*builder.Stream[T]) ([]*builder.Stream[T], error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: merge requires at least one input", core.ErrBuildUnknownChannel)
	}
	return []*builder.Stream[T]{builder.Merge(rec.Kind, inputs...)}, nil
}

func buildLimit[T any](g *builder.Graph[T], rec OperatorBuilderRecord, inputs []*builder.Stream[T]) ([]*builder.Stream[T], error) {
	in, err := single(rec, inputs)
	if err != nil {
		return nil, err
	}
	var cfg limitConfig
	if err := mapstructure.Decode(rec.Blob, &cfg); err != nil {
		return nil, fmt.Errorf("limit: decode blob: %w", err)
	}
	if cfg.N <= 0 {
		cfg.N = 1
	}
	return []*builder.Stream[T]{in.Limit(rec.Kind, cfg.N)}, nil
}

func single[T any](rec OperatorBuilderRecord, inputs []*builder.Stream[T]) (*builder.Stream[T], error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: kind %q takes exactly one input, got %d",
			core.ErrBuildUnknownChannel, rec.Kind, len(inputs))
	}
	return inputs[0], nil
}
