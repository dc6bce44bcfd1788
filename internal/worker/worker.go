// Package worker implements the worker loop (C9): the single-threaded,
// cooperative scheduling loop that drives one worker's operators through
// C3-C8, per spec.md §4.9. Exactly one goroutine ever touches a given
// worker's state, generalizing the lifecycle/state-machine shape the
// teacher repo's task.Task uses for its own run loop.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/graphscope/pegasus/internal/cancel"
	"github.com/graphscope/pegasus/internal/eventbus"
	"github.com/graphscope/pegasus/internal/log"
	"github.com/graphscope/pegasus/internal/metrics"
	"github.com/graphscope/pegasus/internal/operator"
	"github.com/graphscope/pegasus/internal/progress"
	"github.com/graphscope/pegasus/internal/scheduler"
)

// State is the worker's lifecycle state, mirroring the teacher's
// Created/Running/Stopped/Failed task states.
type State string

const (
	StateCreated State = "created"
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateFailed  State = "failed"
)

// idleBackoff bounds how long the loop parks when a step makes no progress
// and the job is not yet globally quiescent — e.g. waiting on a peer
// worker's event or batch to arrive over a transport this package does not
// itself model.
const idleBackoff = time.Millisecond

// Worker drives one job worker's operator set to completion.
type Worker struct {
	id    int
	peers int
	jobID string

	handles      []operator.Handle
	tracker      *progress.Tracker
	sched        *scheduler.Scheduler
	cancelGraph  *cancel.Graph
	peersCountOf func(ch int) int

	mu    sync.Mutex
	state State
	err   error

	cancelFn context.CancelFunc
	done     chan struct{}
}

// New builds a worker over the given operator handles (every operator this
// worker hosts, in build order), sharing the tracker, scheduler and
// cancellation graph already wired by the job builder. jobID only labels
// this worker's Prometheus series and may be empty.
func New(id, peers int, handles []operator.Handle, tracker *progress.Tracker, sched *scheduler.Scheduler, cg *cancel.Graph, peersCountOf func(ch int) int, jobID ...string) *Worker {
	var job string
	if len(jobID) > 0 {
		job = jobID[0]
	}
	return &Worker{
		id:           id,
		peers:        peers,
		jobID:        job,
		handles:      handles,
		tracker:      tracker,
		sched:        sched,
		cancelGraph:  cg,
		peersCountOf: peersCountOf,
		state:        StateCreated,
		done:         make(chan struct{}),
	}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	log.GetLogger().WithField("worker", w.id).WithField("state", s).Debug("worker state changed")
}

// Run drives the worker to completion: every operator is polled for
// pending work until the whole operator set is simultaneously idle with no
// queued notifications, at which point the job has terminated on this
// worker (spec.md §4.9's termination condition). Run blocks until that
// point, ctx is cancelled, or an operator returns a fatal error.
func (w *Worker) Run(ctx context.Context) error {
	if w.State() != StateCreated {
		return fmt.Errorf("worker %d: cannot run from state %s", w.id, w.State())
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancelFn = cancel
	defer close(w.done)
	w.setState(StateRunning)

	for {
		select {
		case <-runCtx.Done():
			w.setState(StateStopped)
			return runCtx.Err()
		default:
		}

		progressed, err := w.step(runCtx)
		if err != nil {
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
			w.setState(StateFailed)
			return err
		}
		if progressed {
			continue
		}
		if w.quiescent() {
			w.setState(StateStopped)
			return nil
		}

		select {
		case <-runCtx.Done():
			w.setState(StateStopped)
			return runCtx.Err()
		case <-time.After(idleBackoff):
		}
	}
}

// step performs one scheduling pass: drain the event bus into operator
// notification FIFOs and the cancellation graph, then give every operator
// with pending work a chance to fire, per spec.md §4.9.
func (w *Worker) step(ctx context.Context) (progressed bool, err error) {
	metrics.WorkerLoopIterations.WithLabelValues(w.jobID, strconv.Itoa(w.id)).Inc()

	polled := w.tracker.Poll(w.peersCountOf)
	if len(polled.Closures) > 0 || len(polled.Iterations) > 0 || len(polled.Cancels) > 0 {
		progressed = true
	}

	for _, cl := range polled.Closures {
		kind := operator.NotifyEnd
		if cl.IsEOS {
			kind = operator.NotifyEOS
		}
		n := operator.Notification{Kind: kind, Channel: cl.Channel, Tag: cl.Tag, Worker: w.id}
		w.deliver(n)
	}
	for _, ev := range polled.Iterations {
		w.deliver(operator.Notification{Kind: operator.NotifyIteration, Channel: ev.Channel, Tag: ev.Tag, Worker: ev.Worker})
	}
	for _, ev := range polled.Cancels {
		if err := w.cancelGraph.Apply(ctx, ev); err != nil {
			return progressed, fmt.Errorf("worker %d: cancel propagation: %w", w.id, err)
		}
	}

	for _, h := range w.handles {
		if !h.HasPendingWork() && !h.HasQueuedNotifications() {
			continue
		}
		res := w.sched.GetTask(h.Info(), h.ActiveTags(), h.HasQueuedNotifications())
		if !res.Ready {
			continue
		}
		fireErr := h.Fire(ctx, res.Budget)
		res.Release()
		if fireErr != nil {
			return progressed, fmt.Errorf("worker %d: operator %q: %w", w.id, h.Info().Name, fireErr)
		}
		progressed = true
	}
	return progressed, nil
}

// deliver fans a notification out to every operator this worker hosts.
// Every Core's OnNotify already filters by Notification.Channel (see
// operator.Sink, iterate.Controller), so an operator that does not own the
// notified channel simply ignores it — cheaper than the job builder having
// to maintain a channel -> interested-handles index for what is, in
// practice, a handful of operators per worker.
func (w *Worker) deliver(n operator.Notification) {
	for _, h := range w.handles {
		h.EnqueueNotification(n)
	}
}

// quiescent reports whether every operator this worker hosts has nothing
// left to do: no queued input, no suspended active work, no pending
// notification. This is the worker-local half of spec.md §4.9's
// termination condition; the job as a whole terminates once every worker
// reaches it.
func (w *Worker) quiescent() bool {
	for _, h := range w.handles {
		if h.HasPendingWork() || h.HasQueuedNotifications() {
			return false
		}
	}
	return true
}

// Stop cancels the worker's run loop and waits for it to exit, aggregating
// the run error (if any) with the event bus's own shutdown error.
func (w *Worker) Stop(bus *eventbus.Bus) error {
	if w.cancelFn != nil {
		w.cancelFn()
	}
	<-w.done

	w.mu.Lock()
	runErr := w.err
	w.mu.Unlock()

	var busErr error
	if bus != nil {
		busErr = bus.Close()
	}
	return multierr.Combine(runErr, busErr)
}
