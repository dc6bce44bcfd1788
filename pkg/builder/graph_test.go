package builder_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphscope/pegasus/internal/config"
	"github.com/graphscope/pegasus/internal/operator"
	"github.com/graphscope/pegasus/pkg/builder"
)

// captureCallback is the test double standing in for a host's result
// callback (spec.md §6 "sinks invoke a host-supplied callback").
type captureCallback[T any] struct {
	items []T
	done  chan error
}

func newCaptureCallback[T any]() *captureCallback[T] {
	return &captureCallback[T]{done: make(chan error, 1)}
}

func (c *captureCallback[T]) Deliver(items []T) { c.items = append(c.items, items...) }
func (c *captureCallback[T]) Done(err error)    { c.done <- err }

func testConf() config.JobConfig {
	return config.JobConfig{
		WorkersPerProcess: 1,
		BatchSize:         4,
		ScopeCapacity:     1024,
		TotalMemoryMB:     64,
		EnableCancelChild: true,
	}
}

func runAndWait(t *testing.T, j *builder.Job[int], cb *captureCallback[int]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- j.Run(ctx) }()

	select {
	case err := <-cb.done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for sink to close")
	}
	require.NoError(t, <-runErr)
}

// TestLinearMapFilterSink reproduces S1's shape: source(1..5) -> map(x*2) ->
// filter(even) -> sink, a single worker, no iteration or cancellation.
func TestLinearMapFilterSink(t *testing.T) {
	g := builder.New[int](testConf())

	src := g.Source("numbers", func(worker int) operator.Iterator[int] {
		return operator.NewSliceIterator([]int{1, 2, 3, 4, 5})
	})
	doubled := src.Map("double", func(v int) int { return v * 2 })
	kept := doubled.Filter("keep_even", func(v int) bool { return v%2 == 0 })

	cb := newCaptureCallback[int]()
	require.NoError(t, kept.SinkTo("sink", cb))

	job, err := g.Build()
	require.NoError(t, err)

	runAndWait(t, job, cb)

	assert.ElementsMatch(t, []int{2, 4, 6, 8, 10}, cb.items)
}

// TestBoundedIteration reproduces S3: iterate(x -> x+1, max_times=3) over
// [1], expected to yield [4].
func TestBoundedIteration(t *testing.T) {
	g := builder.New[int](testConf())

	src := g.Source("one", func(worker int) operator.Iterator[int] {
		if worker != 0 {
			return operator.NewSliceIterator[int](nil)
		}
		return operator.NewSliceIterator([]int{1})
	})

	leaveStream := src.Iterate("loop", 3, func(body *builder.Stream[int]) *builder.Stream[int] {
		return body.Map("increment", func(v int) int { return v + 1 })
	})

	cb := newCaptureCallback[int]()
	require.NoError(t, leaveStream.SinkTo("sink", cb))

	job, err := g.Build()
	require.NoError(t, err)

	runAndWait(t, job, cb)

	assert.Equal(t, []int{4}, cb.items)
}

// TestIterateUntilConvergence reproduces S4: iterate_until(x -> x*2,
// pred=x>=16, max_times=10) over [1], expected to leave once x first
// reaches or exceeds 16 (1 -> 2 -> 4 -> 8 -> 16, four iterations).
func TestIterateUntilConvergence(t *testing.T) {
	g := builder.New[int](testConf())

	src := g.Source("one", func(worker int) operator.Iterator[int] {
		if worker != 0 {
			return operator.NewSliceIterator[int](nil)
		}
		return operator.NewSliceIterator([]int{1})
	})

	leaveStream := src.IterateUntil("loop", 10, func(v int) bool { return v >= 16 },
		func(body *builder.Stream[int]) *builder.Stream[int] {
			return body.Map("double", func(v int) int { return v * 2 })
		})

	cb := newCaptureCallback[int]()
	require.NoError(t, leaveStream.SinkTo("sink", cb))

	job, err := g.Build()
	require.NoError(t, err)

	runAndWait(t, job, cb)

	assert.Equal(t, []int{16}, cb.items)
}

// TestLimitCancelsUpstream reproduces S5: source -> map -> limit(n) -> sink,
// where limit must both cap the output at n items and still guarantee End
// arrives at the sink (spec.md §4.7's CancelHonored contract).
func TestLimitCancelsUpstream(t *testing.T) {
	g := builder.New[int](testConf())

	src := g.Source("numbers", func(worker int) operator.Iterator[int] {
		items := make([]int, 1000)
		for i := range items {
			items[i] = i
		}
		return operator.NewSliceIterator(items)
	})
	mapped := src.Map("identity", func(v int) int { return v })
	limited := mapped.Limit("cap", 5)

	cb := newCaptureCallback[int]()
	require.NoError(t, limited.SinkTo("sink", cb))

	job, err := g.Build()
	require.NoError(t, err)

	runAndWait(t, job, cb)

	assert.Len(t, cb.items, 5)
}

// TestBranchAndMerge reproduces a branch/merge round trip: items split by
// parity, transformed independently, and merged back — exercising the
// Branch/Merge adapters' N-way End/EOS accounting together.
func TestBranchAndMerge(t *testing.T) {
	g := builder.New[int](testConf())

	src := g.Source("numbers", func(worker int) operator.Iterator[int] {
		return operator.NewSliceIterator([]int{1, 2, 3, 4, 5, 6})
	})
	evens, odds := src.Branch("split", func(v int) bool { return v%2 == 0 })
	evensDoubled := evens.Map("double_even", func(v int) int { return v * 2 })
	oddsTripled := odds.Map("triple_odd", func(v int) int { return v * 3 })
	merged := builder.Merge("join", evensDoubled, oddsTripled)

	cb := newCaptureCallback[int]()
	require.NoError(t, merged.SinkTo("sink", cb))

	job, err := g.Build()
	require.NoError(t, err)

	runAndWait(t, job, cb)

	assert.ElementsMatch(t, []int{4, 8, 12, 3, 9, 15}, cb.items)
}
