package tag

import "testing"

func TestChildParentRoundTrip(t *testing.T) {
	root := Root()
	c := Child(root, 3)
	if c.Level() != 1 {
		t.Fatalf("expected level 1, got %d", c.Level())
	}
	if !c.Parent().Equal(root) {
		t.Fatalf("expected parent to equal root, got %v", c.Parent())
	}
}

func TestAdvance(t *testing.T) {
	c := Child(Root(), 0)
	a := c.Advance()
	if a[0] != 1 {
		t.Fatalf("expected advanced tag [1], got %v", a)
	}
}

func TestAdvanceOnRootPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic advancing root tag")
		}
	}()
	Root().Advance()
}

func TestIsParentOf(t *testing.T) {
	p := Child(Root(), 1)
	c := Child(p, 2)
	if !p.IsParentOf(c) {
		t.Fatalf("expected %v to be parent of %v", p, c)
	}
	if p.IsParentOf(p) {
		t.Fatal("a tag is not its own parent")
	}
}

func TestIsSiblingOf(t *testing.T) {
	p := Child(Root(), 1)
	a := Child(p, 0)
	b := Child(p, 1)
	if !a.IsSiblingOf(b) {
		t.Fatalf("expected %v and %v to be siblings", a, b)
	}
	if a.IsSiblingOf(Root()) {
		t.Fatal("root has no siblings")
	}
}

func TestIsAncestorOf(t *testing.T) {
	root := Root()
	p := Child(root, 0)
	c := Child(p, 0)
	if !root.IsAncestorOf(c) {
		t.Fatal("expected root to be an ancestor of c")
	}
	if c.IsAncestorOf(root) {
		t.Fatal("c is not an ancestor of root")
	}
}

func TestCompareLexicographic(t *testing.T) {
	a := Tag{0, 1}
	b := Tag{0, 2}
	if a.Compare(b) >= 0 {
		t.Fatalf("expected a < b, got %d", a.Compare(b))
	}
	if b.Compare(a) <= 0 {
		t.Fatalf("expected b > a, got %d", b.Compare(a))
	}
	if a.Compare(a) != 0 {
		t.Fatal("expected a == a")
	}
}

func TestCompareDifferentLength(t *testing.T) {
	short := Tag{0}
	long := Tag{0, 1}
	if short.Compare(long) >= 0 {
		t.Fatal("expected shorter prefix-equal tag to sort first")
	}
}

func TestKeyDistinguishesTags(t *testing.T) {
	a := Child(Root(), 1)
	b := Child(Root(), 2)
	if a.Key() == b.Key() {
		t.Fatal("expected distinct tags to produce distinct keys")
	}
}
