// Package scheduler implements the resource-bounded scheduler (C8): one
// instance per worker, deciding which operator gets to fire next and how
// much output it may produce, per spec.md §4.8.
package scheduler

import (
	"strconv"
	"sync"

	"go.uber.org/atomic"

	"github.com/graphscope/pegasus/internal/metrics"
	"github.com/graphscope/pegasus/internal/operator"
	"github.com/graphscope/pegasus/internal/progress"
	"github.com/graphscope/pegasus/internal/tag"
)

// reservationUnit is the per-tag byte grant an Expand/Source/Unknown
// operator receives when no channel-specific observation exists yet —
// a conservative first guess that a moving-max observation recorded through
// RecordObservedSize replaces. No engine code path calls RecordObservedSize,
// so reservations use this unit unless a caller records sizes itself.
const reservationUnit uint64 = 64 * 1024

// Scheduler bounds one worker's total in-flight output memory and hands
// out per-(operator,tag) byte budgets on each scheduling step.
type Scheduler struct {
	jobID      string
	worker     int
	totalBytes int64
	reserved   atomic.Int64

	mu         sync.Mutex
	maxMsg     map[int]uint64 // channel -> observed moving-max batch size in bytes
	bounds     map[int]map[string]uint64 // operator index -> tag key -> last granted bound, published as water marks
	tracker    *progress.Tracker
	chanOfOp   map[int]int // operator index -> its primary output channel id, for IsBlocked/threshold lookups
}

// New builds a scheduler bounding this worker's total output reservation
// at totalBytes (spec.md §4.8's "total_bytes" ceiling). jobID/worker only
// label the scheduler's Prometheus series.
func New(jobID string, worker int, totalBytes int64, tracker *progress.Tracker) *Scheduler {
	return &Scheduler{
		jobID:      jobID,
		worker:     worker,
		totalBytes: totalBytes,
		maxMsg:     make(map[int]uint64),
		bounds:     make(map[int]map[string]uint64),
		tracker:    tracker,
		chanOfOp:   make(map[int]int),
	}
}

// BindOutputChannel records op's primary output channel id, so GetTask can
// look up water-mark blocking and publish thresholds for it.
func (s *Scheduler) BindOutputChannel(op, ch int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chanOfOp[op] = ch
}

// RecordObservedSize folds an actually-observed batch byte size into
// channel ch's moving max, used to size future reservations realistically
// instead of against the conservative reservationUnit guess.
func (s *Scheduler) RecordObservedSize(ch int, bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bytes > s.maxMsg[ch] {
		s.maxMsg[ch] = bytes
	}
}

// Reservation is a granted admission: the per-tag output budget for one
// firing, plus the Release the caller must invoke once that firing has
// returned (RAII-style: the bytes reserved for this step are given back
// regardless of how much output the operator actually produced, since the
// scheduler has no way to measure actual bytes after the fact without a
// hook back from every operator core).
type Reservation struct {
	Budget  operator.Budget
	Ready   bool
	Release func()
}

// GetTask decides whether op may fire this step and, if so, the per-tag
// output budget it is granted, per spec.md §4.8's five-step admission
// algorithm:
//  1. A Source with no available memory at all is not ready.
//  2. An operator with no candidate tags fires unbounded. candidateTags
//     holds only suspended (active) tags, and the worker offers an
//     operator only when it has queued input or queued notifications, so
//     there is no suspended tag to bound.
//  3. A Sink is unbounded and leaf-shortcut admitted: the core "does not
//     reserve memory for it". Only Mode==Sink takes this path; an operator
//     of another mode with no output channel goes through the rules below.
//  4. Clip and Pass operators are unbounded. No expansion ratio is
//     estimated, so a Pass operator is never given a bound.
//  5. Source/Expand/Unknown operators are bounded per candidate tag, tags
//     already blocked by their channel's high-water mark are skipped, and
//     candidates are granted in tag-descending order (tag.SortDescending)
//     so inner iterations drain before outer scopes admit new work.
func (s *Scheduler) GetTask(info operator.Info, candidateTags []tag.Tag, hasQueuedNotifications bool) Reservation {
	if info.Mode == operator.Sink {
		s.recordAdmission(info)
		return Reservation{Ready: true, Budget: nil, Release: func() {}}
	}

	if len(candidateTags) == 0 {
		s.recordAdmission(info)
		return Reservation{Ready: true, Budget: nil, Release: func() {}}
	}

	if info.Mode == operator.Clip || info.Mode == operator.Pass {
		s.recordAdmission(info)
		return Reservation{Ready: true, Budget: nil, Release: func() {}}
	}

	ch, hasCh := s.chanOfOp[info.Index]

	ordered := append([]tag.Tag(nil), candidateTags...)
	tag.SortDescending(ordered)

	budget := make(operator.Budget, len(ordered))
	var granted int64
	any := false
	for _, t := range ordered {
		if hasCh && s.tracker.IsBlocked(ch, t) {
			budget[t.Key()] = 0
			continue
		}
		need := s.unitFor(ch)
		if !s.tryReserve(int64(need)) {
			budget[t.Key()] = 0
			continue
		}
		granted += int64(need)
		budget[t.Key()] = need
		any = true
		if hasCh {
			s.publishThreshold(info.Index, ch, t, need)
		}
	}

	if info.Mode == operator.Source && !any {
		s.reserved.Sub(granted)
		s.publishReserved()
		return Reservation{Ready: false, Budget: nil, Release: func() {}}
	}

	s.publishReserved()
	s.recordAdmission(info)
	release := func() {
		if granted != 0 {
			s.reserved.Sub(granted)
			s.publishReserved()
		}
	}
	return Reservation{Ready: true, Budget: budget, Release: release}
}

func (s *Scheduler) recordAdmission(info operator.Info) {
	metrics.ScheduledOperators.WithLabelValues(s.jobID, info.Name, info.Mode.String()).Inc()
}

func (s *Scheduler) publishReserved() {
	metrics.ReservedBytes.WithLabelValues(s.jobID, strconv.Itoa(s.worker)).Set(float64(s.reserved.Load()))
}

func (s *Scheduler) unitFor(ch int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.maxMsg[ch]; ok && m > 0 {
		return m
	}
	return reservationUnit
}

// tryReserve CAS-loops s.reserved up by need, refusing if doing so would
// exceed totalBytes.
func (s *Scheduler) tryReserve(need int64) bool {
	for {
		cur := s.reserved.Load()
		next := cur + need
		if next > s.totalBytes {
			return false
		}
		if s.reserved.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// publishThreshold installs the water-mark pair for (ch, t) on the
// tracker — high = bound+1, low = 3*bound/4 — so the progress tracker can
// edge-trigger IsBlocked for future GetTask calls on this tag without the
// scheduler having to poll outstanding counts itself.
func (s *Scheduler) publishThreshold(op, ch int, t tag.Tag, bound uint64) {
	s.mu.Lock()
	b, ok := s.bounds[op]
	if !ok {
		b = make(map[string]uint64)
		s.bounds[op] = b
	}
	b[t.Key()] = bound
	s.mu.Unlock()

	high := bound + 1
	low := (3 * bound) / 4
	s.tracker.SetThresholds(ch, t, high, low)
}

// Available reports the unreserved share of this worker's total memory
// ceiling. GetTask's step 1 does not call it: a Source is refused when
// tryReserve grants none of its candidate tags.
func (s *Scheduler) Available() int64 {
	return s.totalBytes - s.reserved.Load()
}
