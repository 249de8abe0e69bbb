package tree

import (
	"testing"
	"time"

	"github.com/codexsync/codex/internal/types"
)

func op(ts time.Time) *types.CRDTOperation {
	return &types.CRDTOperation{ID: types.NewOperationId(), Timestamp: ts}
}

func TestMoveSetsParent(t *testing.T) {
	l := New()
	now := time.Now()
	if !l.Move(op(now), &types.TreeMove{Node: "a", NewParent: "root", Position: "m"}) {
		t.Fatal("expected move to apply")
	}
	parent, _, ok := l.Parent("a")
	if !ok || parent != "root" {
		t.Errorf("expected a under root, got %q", parent)
	}
}

func TestMoveRejectsSelfParent(t *testing.T) {
	l := New()
	if l.Move(op(time.Now()), &types.TreeMove{Node: "a", NewParent: "a", Position: "m"}) {
		t.Error("expected self-parenting move to be rejected")
	}
}

func TestMoveRejectsCycle(t *testing.T) {
	l := New()
	now := time.Now()
	l.Move(op(now), &types.TreeMove{Node: "b", NewParent: "a", Position: "m"})
	l.Move(op(now.Add(time.Second)), &types.TreeMove{Node: "c", NewParent: "b", Position: "m"})

	if l.Move(op(now.Add(2*time.Second)), &types.TreeMove{Node: "a", NewParent: "c", Position: "m"}) {
		t.Error("expected cycle-creating move to be rejected")
	}
}

func TestMoveNewerWins(t *testing.T) {
	l := New()
	now := time.Now()
	l.Move(op(now), &types.TreeMove{Node: "a", NewParent: "root", Position: "m"})
	l.Move(op(now.Add(time.Second)), &types.TreeMove{Node: "a", NewParent: "other", Position: "m"})
	parent, _, _ := l.Parent("a")
	if parent != "other" {
		t.Errorf("expected other to win, got %q", parent)
	}
}

func TestMoveOlderLoses(t *testing.T) {
	l := New()
	now := time.Now()
	l.Move(op(now), &types.TreeMove{Node: "a", NewParent: "other", Position: "m"})
	applied := l.Move(op(now.Add(-time.Second)), &types.TreeMove{Node: "a", NewParent: "root", Position: "m"})
	if applied {
		t.Error("expected older move to lose")
	}
}

// TestMoveRevertsLoserOnLateCycleConflict covers the S4 cross-move
// scenario directly at the layer level: B moved under A arrives first,
// then the causally-earlier move of A under B arrives and must win,
// rolling B's move back rather than being rejected for the cycle it
// would otherwise form.
func TestMoveRevertsLoserOnLateCycleConflict(t *testing.T) {
	l := New()
	now := time.Now()

	if !l.Move(op(now.Add(time.Millisecond)), &types.TreeMove{Node: "b", NewParent: "a", Position: "m"}) {
		t.Fatal("expected b's move to apply")
	}
	if !l.Move(op(now), &types.TreeMove{Node: "a", NewParent: "b", Position: "m"}) {
		t.Fatal("expected a's causally-earlier move to win and revert b")
	}

	parent, _, ok := l.Parent("a")
	if !ok || parent != "b" {
		t.Errorf("expected a under b, got %q ok=%v", parent, ok)
	}
	if _, _, ok := l.Parent("b"); ok {
		t.Error("expected b's move to have been reverted, leaving it unplaced")
	}
}

func TestChildrenOrderedByPosition(t *testing.T) {
	l := New()
	now := time.Now()
	l.Move(op(now), &types.TreeMove{Node: "b", NewParent: "root", Position: "2"})
	l.Move(op(now), &types.TreeMove{Node: "a", NewParent: "root", Position: "1"})
	children := l.Children("root")
	if len(children) != 2 || children[0] != "a" || children[1] != "b" {
		t.Errorf("expected [a b], got %v", children)
	}
}
