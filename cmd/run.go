package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/graphscope/pegasus/internal/config"
	"github.com/graphscope/pegasus/internal/job"
	"github.com/graphscope/pegasus/internal/log"
	"github.com/graphscope/pegasus/internal/metrics"
	"github.com/graphscope/pegasus/internal/operator"
	"github.com/graphscope/pegasus/pkg/builder"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a small built-in job plan end to end",
	Long: `Run builds and executes a small demonstration job plan (a doubling
map, an even-only filter, a print sink) against the engine configured by
--config, so the whole dataflow core can be exercised without a separate
host process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd.Context())
	},
}

// doubleKind and keepEvenKind are the two leaf-operator kinds this demo
// plan registers itself, since the map/filter functions they run are
// business logic the engine has no business knowing about (spec.md §1
// Non-goals) — a real host would register its own kinds the same way.
const (
	doubleKind   = "demo.double"
	keepEvenKind = "demo.keep_even"
	sourceKind   = "demo.count_source"
)

type printCallback struct {
	done chan error
}

func (p *printCallback) Deliver(items []int) {
	for _, it := range items {
		fmt.Println(it)
	}
}

func (p *printCallback) Done(err error) {
	p.done <- err
}

func runJob(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := log.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() { _ = metricsServer.Stop(ctx) }()
	}

	registry := job.DefaultRegistry[int]()
	registry.Register(sourceKind, buildCountSource)
	registry.Register(doubleKind, buildDouble)
	registry.Register(keepEvenKind, buildKeepEven)

	req := job.Request{
		Conf: cfg.Job,
		Plan: []job.OperatorBuilderRecord{
			{Kind: sourceKind, Outputs: []int{0}, Blob: map[string]any{"n": 10}},
			{Kind: doubleKind, Inputs: []int{0}, Outputs: []int{1}},
			{Kind: keepEvenKind, Inputs: []int{1}, Outputs: []int{2}},
		},
		Sink: job.SinkDescriptor{Input: 2},
	}

	cb := &printCallback{done: make(chan error, 1)}
	j, err := job.Build[int](req, registry, cb)
	if err != nil {
		return fmt.Errorf("build job: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- j.Run(runCtx) }()

	select {
	case err := <-cb.done:
		if err != nil {
			return fmt.Errorf("job aborted: %w", err)
		}
	case err := <-runErr:
		return err
	case <-runCtx.Done():
		return runCtx.Err()
	}
	return <-runErr
}

type countSourceConfig struct {
	N int `mapstructure:"n"`
}

func buildCountSource(g *builder.Graph[int], rec job.OperatorBuilderRecord, inputs []*builder.Stream[int]) ([]*builder.Stream[int], error) {
	var cfg countSourceConfig
	if rec.Blob != nil {
		if n, ok := rec.Blob["n"].(int); ok {
			cfg.N = n
		}
	}
	if cfg.N <= 0 {
		cfg.N = 1
	}
	items := make([]int, cfg.N)
	for i := range items {
		items[i] = i + 1
	}
	s := g.Source(rec.Kind, func(worker int) operator.Iterator[int] {
		if worker != 0 {
			return operator.NewSliceIterator[int](nil)
		}
		return operator.NewSliceIterator(items)
	})
	return []*builder.Stream[int]{s}, nil
}

func buildDouble(g *builder.Graph[int], rec job.OperatorBuilderRecord, inputs []*builder.Stream[int]) ([]*builder.Stream[int], error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%s: expected one input", rec.Kind)
	}
	return []*builder.Stream[int]{inputs[0].Map(rec.Kind, func(v int) int { return v * 2 })}, nil
}

func buildKeepEven(g *builder.Graph[int], rec job.OperatorBuilderRecord, inputs []*builder.Stream[int]) ([]*builder.Stream[int], error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%s: expected one input", rec.Kind)
	}
	return []*builder.Stream[int]{inputs[0].Filter(rec.Kind, func(v int) bool { return v%2 == 0 })}, nil
}
