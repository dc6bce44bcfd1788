package batch

import (
	"testing"

	"github.com/graphscope/pegasus/internal/tag"
)

func TestNewBatchBasics(t *testing.T) {
	tg := tag.Child(tag.Root(), 0)
	b := New(tg, 1, 7, []int{1, 2, 3})

	if !b.Tag().Equal(tg) {
		t.Fatalf("expected tag %v, got %v", tg, b.Tag())
	}
	if b.SourceWorker() != 1 || b.Sequence() != 7 {
		t.Fatal("source worker / sequence not preserved")
	}
	if b.Len() != 3 || b.IsLast() {
		t.Fatal("unexpected batch shape")
	}
}

func TestSetEndAndTakeEnd(t *testing.T) {
	tg := tag.Child(tag.Root(), 0)
	b := New(tg, 0, 0, []int{1})
	b = b.SetEnd(EndOfScope{Tag: tg, PeersMask: 1, GlobalCount: 1})

	if !b.IsLast() {
		t.Fatal("expected IsLast after SetEnd")
	}

	b2, end, ok := b.TakeEnd()
	if !ok {
		t.Fatal("expected TakeEnd to find an end marker")
	}
	if !end.Tag.Equal(tg) {
		t.Fatal("end marker tag mismatch")
	}
	if b2.IsLast() {
		t.Fatal("expected end consumed after TakeEnd")
	}
}

func TestSetEndTagMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on tag mismatch")
		}
	}()
	tg := tag.Child(tag.Root(), 0)
	other := tag.Child(tag.Root(), 1)
	New[int](tg, 0, 0, nil).SetEnd(EndOfScope{Tag: other})
}

func TestEndMarkerIsEmpty(t *testing.T) {
	tg := tag.Child(tag.Root(), 2)
	m := EndMarker[string](EndOfScope{Tag: tg, GlobalCount: 4}, 0, 0)
	if m.Len() != 0 || !m.IsLast() {
		t.Fatal("expected an empty, end-bearing batch")
	}
}

func TestShareAndRelease(t *testing.T) {
	b := New(tag.Root(), 0, 0, []int{1, 2})
	shared := b.Share()

	if b.Release() {
		t.Fatal("original ref released too early: shared copy still live")
	}
	if !shared.Release() {
		t.Fatal("expected last reference release to report true")
	}
}

func TestReleaseBelowZeroPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic releasing an already-released batch")
		}
	}()
	b := New[int](tag.Root(), 0, 0, nil)
	b.Release()
	b.Release()
}
