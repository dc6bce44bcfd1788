package job_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphscope/pegasus/internal/config"
	"github.com/graphscope/pegasus/internal/job"
	"github.com/graphscope/pegasus/internal/operator"
	"github.com/graphscope/pegasus/pkg/builder"
)

type captureCallback struct {
	items []int
	done  chan error
}

func (c *captureCallback) Deliver(items []int) { c.items = append(c.items, items...) }
func (c *captureCallback) Done(err error)      { c.done <- err }

func testConf() config.JobConfig {
	return config.JobConfig{
		WorkersPerProcess: 1,
		BatchSize:         4,
		ScopeCapacity:     1024,
		TotalMemoryMB:     64,
		EnableCancelChild: true,
	}
}

const sourceKind = "test.source"

func buildTestSource(g *builder.Graph[int], rec job.OperatorBuilderRecord, inputs []*builder.Stream[int]) ([]*builder.Stream[int], error) {
	items := rec.Blob["items"].([]int)
	s := g.Source(rec.Kind, func(worker int) operator.Iterator[int] {
		if worker != 0 {
			return operator.NewSliceIterator[int](nil)
		}
		return operator.NewSliceIterator(items)
	})
	return []*builder.Stream[int]{s}, nil
}

// TestBuildResolvesPlanInOrder exercises job.Build wiring a three-stage
// plan (source -> limit -> sink) through a Registry, the same resolution
// path a host assembling a job from a serialized plan (spec.md §6) drives.
func TestBuildResolvesPlanInOrder(t *testing.T) {
	registry := job.DefaultRegistry[int]()
	registry.Register(sourceKind, buildTestSource)

	req := job.Request{
		Conf: testConf(),
		Plan: []job.OperatorBuilderRecord{
			{Kind: sourceKind, Outputs: []int{0}, Blob: map[string]any{"items": []int{1, 2, 3, 4, 5, 6, 7, 8}}},
			{Kind: "limit", Inputs: []int{0}, Outputs: []int{1}, Blob: map[string]any{"n": 3}},
		},
		Sink: job.SinkDescriptor{Input: 1},
	}

	cb := &captureCallback{done: make(chan error, 1)}
	built, err := job.Build[int](req, registry, cb)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- built.Run(ctx) }()

	select {
	case err := <-cb.done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for sink to close")
	}
	require.NoError(t, <-runErr)

	assert.Len(t, cb.items, 3)
}

// TestBuildUnknownKind exercises the BuildError path when a plan record
// names a kind no registered builder implements (spec.md §7 BuildError).
func TestBuildUnknownKind(t *testing.T) {
	registry := job.DefaultRegistry[int]()
	req := job.Request{
		Conf: testConf(),
		Plan: []job.OperatorBuilderRecord{
			{Kind: "nonexistent", Outputs: []int{0}},
		},
		Sink: job.SinkDescriptor{Input: 0},
	}

	cb := &captureCallback{done: make(chan error, 1)}
	_, err := job.Build[int](req, registry, cb)
	assert.Error(t, err)
}

// TestBuildMissingSink exercises the BuildError path when the sink
// descriptor references a stream id no record ever produced.
func TestBuildMissingSink(t *testing.T) {
	registry := job.DefaultRegistry[int]()
	registry.Register(sourceKind, buildTestSource)

	req := job.Request{
		Conf: testConf(),
		Plan: []job.OperatorBuilderRecord{
			{Kind: sourceKind, Outputs: []int{0}, Blob: map[string]any{"items": []int{1}}},
		},
		Sink: job.SinkDescriptor{Input: 99},
	}

	cb := &captureCallback{done: make(chan error, 1)}
	_, err := job.Build[int](req, registry, cb)
	assert.Error(t, err)
}
