package progress

import (
	"context"
	"testing"

	"github.com/graphscope/pegasus/internal/eventbus"
	"github.com/graphscope/pegasus/internal/tag"
)

func peers2(int) int { return 2 }

func TestEndClosesScopeOnlyWhenAllPeersSeenAndDrained(t *testing.T) {
	bus := eventbus.New(2, 8)
	recv := New(1, bus)
	ctx := context.Background()

	if err := recv.RecordPushed(ctx, 0, tag.Root(), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drain(recv, peers2)

	if err := bus.Send(ctx, 0, 1, eventbus.EndEvent(0, tag.Root(), 0)); err != nil {
		t.Fatal(err)
	}
	if closures := recv.Poll(peers2).Closures; len(closures) != 0 {
		t.Fatalf("expected no closure before outstanding drains, got %+v", closures)
	}

	if err := recv.RecordPulled(ctx, 0, tag.Root(), 3); err != nil {
		t.Fatal(err)
	}
	drain(recv, peers2)

	if err := bus.Send(ctx, 1, 1, eventbus.EndEvent(0, tag.Root(), 1)); err != nil {
		t.Fatal(err)
	}
	closures := recv.Poll(peers2).Closures
	if len(closures) != 1 || closures[0].Channel != 0 || !closures[0].Tag.Equal(tag.Root()) {
		t.Fatalf("expected one End closure, got %+v", closures)
	}
}

func TestEOSFiresOnceAllPeersExhaustedAndDrained(t *testing.T) {
	bus := eventbus.New(2, 8)
	recv := New(1, bus)
	ctx := context.Background()

	if err := bus.Send(ctx, 0, 1, eventbus.EOSEvent(0, 0)); err != nil {
		t.Fatal(err)
	}
	if closures := recv.Poll(peers2).Closures; len(closures) != 0 {
		t.Fatalf("expected no EOS before every peer reports, got %+v", closures)
	}
	if err := bus.Send(ctx, 1, 1, eventbus.EOSEvent(0, 1)); err != nil {
		t.Fatal(err)
	}
	closures := recv.Poll(peers2).Closures
	if len(closures) != 1 || !closures[0].IsEOS {
		t.Fatalf("expected an EOS closure, got %+v", closures)
	}
}

func TestWaterMarkDebouncesEdges(t *testing.T) {
	bus := eventbus.New(1, 8)
	tr := New(0, bus)
	ctx := context.Background()
	tr.SetThresholds(0, tag.Root(), 5, 2)

	if err := tr.RecordPushed(ctx, 0, tag.Root(), 5); err != nil {
		t.Fatal(err)
	}
	drain(tr, func(int) int { return 1 })
	if !tr.IsBlocked(0, tag.Root()) {
		t.Fatal("expected blocked after crossing high water mark")
	}

	if err := tr.RecordPulled(ctx, 0, tag.Root(), 2); err != nil {
		t.Fatal(err)
	}
	drain(tr, func(int) int { return 1 })
	if !tr.IsBlocked(0, tag.Root()) {
		t.Fatal("expected still blocked above the low water mark")
	}

	if err := tr.RecordPulled(ctx, 0, tag.Root(), 1); err != nil {
		t.Fatal(err)
	}
	drain(tr, func(int) int { return 1 })
	if tr.IsBlocked(0, tag.Root()) {
		t.Fatal("expected unblocked after crossing low water mark")
	}
}

func drain(t *Tracker, peersCountOf func(int) int) {
	t.Poll(peersCountOf)
}
