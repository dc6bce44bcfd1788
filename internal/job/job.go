// Package job implements the host-facing request/plan layer of spec.md §6:
// a job_id, a conf block, a serialized sequence of operator-builder records
// and a sink descriptor, resolved against a Registry of host-supplied
// builder closures into a runnable pkg/builder.Job.
package job

import (
	"fmt"

	uuid "github.com/satori/go.uuid"

	"github.com/graphscope/pegasus/internal/config"
	"github.com/graphscope/pegasus/internal/core"
	"github.com/graphscope/pegasus/pkg/builder"
)

// Conf is the job's resource and topology configuration (spec.md §6's
// "conf block"), reusing the same mapstructure-tagged shape the engine
// config file already loads workers under, so a job submitted over the
// wire and a job started from a config file decode identically.
type Conf = config.JobConfig

// OperatorBuilderRecord is one entry of a serialized dataflow plan (spec.md
// §6): an operator kind, the symbolic ids of the streams it consumes and
// produces, and an opaque blob of per-operator configuration. The plan is
// opaque to the core except for the kinds a Registry has builders for.
type OperatorBuilderRecord struct {
	Kind    string
	Inputs  []int
	Outputs []int
	Blob    map[string]any
}

// SinkDescriptor names which symbolic stream id feeds the job's sink, plus
// an opaque blob for any host-specific sink configuration (the callback
// itself is supplied directly to Build, not resolved from the blob — result
// delivery is a narrow interface, not a registry lookup).
type SinkDescriptor struct {
	Input int
	Blob  map[string]any
}

// Request is a complete job request (spec.md §6): a unique job_id, a conf
// block, a serialized plan, and a sink descriptor.
type Request struct {
	JobID string
	Conf  Conf
	Plan  []OperatorBuilderRecord
	Sink  SinkDescriptor
}

// NewJobID generates a fresh job_id when the host does not supply one. A
// random-generation failure (exhausted entropy source) is vanishingly rare
// and not meaningfully recoverable here, so it falls back to the nil UUID
// rather than forcing every caller of Build to handle it.
func NewJobID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil.String()
	}
	return id.String()
}

// Build resolves req's plan against registry into a runnable job, per the
// three BuildError conditions spec.md §7 assigns this layer: an unresolved
// operator kind, a reference to a stream id no earlier record produced, and
// a plan with no sink. Every other BuildError condition (duplicate operator
// index, channel/operator scope mismatch) is structurally impossible here —
// pkg/builder.Graph allocates its own ids and Build walks the plan strictly
// in order, so no caller path can construct two operators under one index
// or wire a channel the operator it belongs to doesn't also own.
func Build[T any](req Request, registry *Registry[T], cb builder.SinkCallback[T]) (*builder.Job[T], error) {
	if req.JobID == "" {
		req.JobID = NewJobID()
	}

	g := builder.New[T](req.Conf, req.JobID)
	streams := make(map[int]*builder.Stream[T])

	for _, rec := range req.Plan {
		fn, ok := registry.lookup(rec.Kind)
		if !ok {
			return nil, fmt.Errorf("%w: job %s: kind %q", core.ErrBuildUnknownKind, req.JobID, rec.Kind)
		}

		inputs := make([]*builder.Stream[T], len(rec.Inputs))
		for i, id := range rec.Inputs {
			s, ok := streams[id]
			if !ok {
				return nil, fmt.Errorf("%w: job %s: kind %q references unbuilt stream %d",
					core.ErrBuildUnknownChannel, req.JobID, rec.Kind, id)
			}
			inputs[i] = s
		}

		outputs, err := fn(g, rec, inputs)
		if err != nil {
			return nil, fmt.Errorf("job %s: kind %q: %w", req.JobID, rec.Kind, err)
		}
		if len(outputs) != len(rec.Outputs) {
			return nil, fmt.Errorf("%w: job %s: kind %q declared %d outputs, builder produced %d",
				core.ErrBuildUnknownKind, req.JobID, rec.Kind, len(rec.Outputs), len(outputs))
		}
		for i, id := range rec.Outputs {
			streams[id] = outputs[i]
		}
	}

	sinkStream, ok := streams[req.Sink.Input]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", core.ErrBuildMissingSink, req.JobID)
	}
	if err := sinkStream.SinkTo("sink", cb); err != nil {
		return nil, fmt.Errorf("job %s: %w", req.JobID, err)
	}

	return g.Build()
}
