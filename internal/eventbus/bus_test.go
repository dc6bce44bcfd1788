package eventbus

import (
	"context"
	"testing"

	"github.com/graphscope/pegasus/internal/tag"
)

func TestSendAndTryRecv(t *testing.T) {
	b := New(2, 4)
	ctx := context.Background()

	if err := b.Send(ctx, 0, 1, PushedEvent(0, tag.Root(), 3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev, sender, ok := b.TryRecv(1)
	if !ok || sender != 0 || ev.Kind != Pushed || ev.Count != 3 {
		t.Fatalf("unexpected receive: %+v sender=%d ok=%v", ev, sender, ok)
	}
	if _, _, ok := b.TryRecv(1); ok {
		t.Fatal("expected no more queued events")
	}
	if _, _, ok := b.TryRecv(0); ok {
		t.Fatal("events sent to peer 1 should not appear at peer 0")
	}
}

func TestBroadcastReachesEveryPeerIncludingSelf(t *testing.T) {
	b := New(3, 4)
	ctx := context.Background()

	if err := b.Broadcast(ctx, 0, EOSEvent(1, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, _, ok := b.TryRecv(i); !ok {
			t.Fatalf("peer %d did not receive broadcast", i)
		}
	}
}

func TestBroadcastExcludeSkipsSource(t *testing.T) {
	b := New(3, 4)
	ctx := context.Background()

	if err := b.BroadcastExclude(ctx, 1, CancelEvent(0, tag.Root(), true)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, ok := b.TryRecv(1); ok {
		t.Fatal("broadcast-exclude should skip the source")
	}
	if _, _, ok := b.TryRecv(0); !ok {
		t.Fatal("expected peer 0 to receive the cancel event")
	}
	if _, _, ok := b.TryRecv(2); !ok {
		t.Fatal("expected peer 2 to receive the cancel event")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	b := New(1, 1)
	if err := b.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := b.Send(context.Background(), 0, 0, EOSEvent(0, 0)); err == nil {
		t.Fatal("expected send after close to fail")
	}
}
