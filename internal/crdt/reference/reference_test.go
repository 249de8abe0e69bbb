package reference

import (
	"testing"
	"time"

	"github.com/codexsync/codex/internal/types"
)

func op() *types.CRDTOperation {
	return &types.CRDTOperation{ID: types.NewOperationId(), Timestamp: time.Now()}
}

func TestAddContains(t *testing.T) {
	l := New()
	ref := types.NewCodexId()
	tag := types.NewOperationId()
	l.Add(op(), &types.ReferenceAdd{Ref: ref, Tag: tag})
	if !l.Contains(ref) {
		t.Error("expected reference to be present after add")
	}
}

func TestRemoveOnlyObservedTags(t *testing.T) {
	l := New()
	ref := types.NewCodexId()
	tagA := types.NewOperationId()
	tagB := types.NewOperationId()

	l.Add(op(), &types.ReferenceAdd{Ref: ref, Tag: tagA})
	observed := l.ObservedTags(ref)

	// Concurrent add arrives after remove observes only tagA.
	l.Add(op(), &types.ReferenceAdd{Ref: ref, Tag: tagB})
	l.Remove(op(), &types.ReferenceRemove{Ref: ref, ObservedTags: observed})

	if !l.Contains(ref) {
		t.Error("concurrent add should survive a remove that didn't observe it")
	}
}

func TestRemoveAllTagsClearsReference(t *testing.T) {
	l := New()
	ref := types.NewCodexId()
	tag := types.NewOperationId()
	l.Add(op(), &types.ReferenceAdd{Ref: ref, Tag: tag})
	l.Remove(op(), &types.ReferenceRemove{Ref: ref, ObservedTags: []types.OperationId{tag}})
	if l.Contains(ref) {
		t.Error("expected reference to be gone after removing its only tag")
	}
}

func TestAddAfterFullRemoveObservedAsNew(t *testing.T) {
	l := New()
	ref := types.NewCodexId()
	tag1 := types.NewOperationId()
	l.Add(op(), &types.ReferenceAdd{Ref: ref, Tag: tag1})
	l.Remove(op(), &types.ReferenceRemove{Ref: ref, ObservedTags: []types.OperationId{tag1}})

	tag2 := types.NewOperationId()
	l.Add(op(), &types.ReferenceAdd{Ref: ref, Tag: tag2})
	if !l.Contains(ref) {
		t.Error("a fresh add with a new tag should re-establish the reference")
	}
}

func TestGCStableBefore(t *testing.T) {
	l := New()
	ref := types.NewCodexId()
	tag := types.NewOperationId()
	l.Add(op(), &types.ReferenceAdd{Ref: ref, Tag: tag})
	l.Remove(op(), &types.ReferenceRemove{Ref: ref, ObservedTags: []types.OperationId{tag}})

	n := l.GCStableBefore(time.Now().Add(time.Second))
	if n != 1 {
		t.Errorf("expected 1 tombstone reclaimed, got %d", n)
	}
}
