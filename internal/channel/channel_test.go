package channel

import (
	"testing"

	"github.com/graphscope/pegasus/internal/batch"
	"github.com/graphscope/pegasus/internal/tag"
)

func TestPipelineFIFO(t *testing.T) {
	set := NewSet[int](0, Pipeline, 0, 1, nil, nil, 0)
	end := set.End(0)

	end.Push(batch.New(tag.Root(), 0, 0, []int{1}))
	end.Push(batch.New(tag.Root(), 0, 1, []int{2}))

	b1, _, ok := end.TryPull()
	if !ok || b1.Sequence() != 0 {
		t.Fatalf("expected first batch first, got %+v ok=%v", b1, ok)
	}
	b2, _, ok := end.TryPull()
	if !ok || b2.Sequence() != 1 {
		t.Fatalf("expected second batch second, got %+v ok=%v", b2, ok)
	}
	if _, _, ok := end.TryPull(); ok {
		t.Fatal("expected empty channel")
	}
}

func TestExchangePartitionsByKey(t *testing.T) {
	keyFn := func(i int) int { return i % 2 }
	set := NewSet[int](1, Exchange, 0, 2, keyFn, nil, 0)
	sender := set.End(0)

	sender.Push(batch.New(tag.Root(), 0, 0, []int{1, 2, 3, 4, 5, 6}))

	recv0 := set.End(0)
	recv1 := set.End(1)

	b0, _, ok := recv0.TryPull()
	if !ok {
		t.Fatal("expected worker 0 to receive even items")
	}
	for _, v := range b0.Items() {
		if v%2 != 0 {
			t.Fatalf("expected only even items routed to worker 0, got %d", v)
		}
	}

	b1, _, ok := recv1.TryPull()
	if !ok {
		t.Fatal("expected worker 1 to receive odd items")
	}
	for _, v := range b1.Items() {
		if v%2 != 1 {
			t.Fatalf("expected only odd items routed to worker 1, got %d", v)
		}
	}
}

func TestBroadcastFansOutToEveryPeer(t *testing.T) {
	set := NewSet[string](2, Broadcast, 0, 3, nil, nil, 0)
	sender := set.End(0)
	sender.Push(batch.New(tag.Root(), 0, 0, []string{"x"}))

	for i := 0; i < 3; i++ {
		end := set.End(i)
		b, _, ok := end.TryPull()
		if !ok || b.Items()[0] != "x" {
			t.Fatalf("peer %d did not receive broadcast batch", i)
		}
	}
}

func TestAggregateRoutesToSingleDest(t *testing.T) {
	set := NewSet[int](3, Aggregate, 0, 3, nil, nil, 2)
	set.End(0).Push(batch.New(tag.Root(), 0, 0, []int{1}))
	set.End(1).Push(batch.New(tag.Root(), 1, 0, []int{2}))

	dest := set.End(2)
	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		b, _, ok := dest.TryPull()
		if !ok {
			t.Fatalf("expected aggregate dest to receive batch %d", i)
		}
		seen[b.Items()[0]] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatal("expected both senders' batches at the aggregate destination")
	}
	if _, _, ok := set.End(0).TryPull(); ok {
		t.Fatal("non-destination peer should not receive aggregate traffic")
	}
}

func TestScopeExchangeRoutesByParentTag(t *testing.T) {
	tagFn := func(parent tag.Tag) int {
		if len(parent) == 0 {
			return 0
		}
		return int(parent[len(parent)-1]) % 2
	}
	set := NewSet[int](4, ScopeExchange, 2, 2, nil, tagFn, 0)
	sender := set.End(0)

	parent := tag.Child(tag.Root(), 1)
	child := tag.Child(parent, 0)
	sender.Push(batch.New(child, 0, 0, []int{42}))

	b, _, ok := set.End(1).TryPull()
	if !ok || b.Items()[0] != 42 {
		t.Fatal("expected batch routed to worker 1 by parent tag")
	}
}

func TestEndMarkerBroadcastOnExchangeEvenWithoutData(t *testing.T) {
	keyFn := func(i int) int { return 0 }
	set := NewSet[int](5, Exchange, 0, 2, keyFn, nil, 0)
	sender := set.End(0)

	end := batch.EndOfScope{Tag: tag.Root(), GlobalCount: 1}
	b := batch.New(tag.Root(), 0, 0, []int{1}).SetEnd(end)
	sender.Push(b)

	_, endInfo, ok := mustPull(t, set.End(0))
	if !ok || !endInfo.Tag.Equal(tag.Root()) {
		t.Fatal("expected worker 0 to see data + end")
	}

	got, endInfo2, ok := mustPull(t, set.End(1))
	if !ok {
		t.Fatal("expected worker 1 (no data) to still see the end marker")
	}
	if got.Len() != 0 || !endInfo2.Tag.Equal(tag.Root()) {
		t.Fatal("expected an empty end-bearing batch at worker 1")
	}
}

func mustPull(t *testing.T, end *End[int]) (batch.Batch[int], batch.EndOfScope, bool) {
	t.Helper()
	b, _, ok := end.TryPull()
	if !ok {
		return b, batch.EndOfScope{}, false
	}
	_, endInfo, _ := b.TakeEnd()
	return b, endInfo, true
}

func TestCancelDropsQueuedDataKeepsEnd(t *testing.T) {
	set := NewSet[int](6, Pipeline, 0, 1, nil, nil, 0)
	end := set.End(0)

	end.Push(batch.New(tag.Root(), 0, 0, []int{1, 2, 3}))
	end.Push(batch.New(tag.Root(), 0, 1, []int{4, 5}).SetEnd(batch.EndOfScope{Tag: tag.Root(), GlobalCount: 5}))

	end.Cancel(tag.Root(), false)

	b, _, ok := end.TryPull()
	if !ok {
		t.Fatal("expected the end-bearing batch to survive cancellation")
	}
	if b.Len() != 0 || !b.IsLast() {
		t.Fatalf("expected an empty end batch after cancel, got len=%d last=%v", b.Len(), b.IsLast())
	}
	if _, _, ok := end.TryPull(); ok {
		t.Fatal("expected no further queued data after cancel")
	}
}

func TestCancelCascadeCoversDescendants(t *testing.T) {
	set := NewSet[int](7, Pipeline, 1, 1, nil, nil, 0)
	end := set.End(0)
	parent := tag.Child(tag.Root(), 0)
	child := tag.Child(parent, 0)

	end.Cancel(parent, true)
	if !end.IsCancelled(child) {
		t.Fatal("expected cascading cancel to cover child scope")
	}
}

func TestCancelWithoutCascadeDoesNotCoverDescendants(t *testing.T) {
	set := NewSet[int](8, Pipeline, 1, 1, nil, nil, 0)
	end := set.End(0)
	parent := tag.Child(tag.Root(), 0)
	child := tag.Child(parent, 0)

	end.Cancel(parent, false)
	if end.IsCancelled(child) {
		t.Fatal("expected non-cascading cancel to leave child scope untouched")
	}
}
