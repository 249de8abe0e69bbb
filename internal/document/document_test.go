package document

import (
	"testing"
	"time"

	"github.com/codexsync/codex/internal/clock"
	"github.com/codexsync/codex/internal/types"
)

func newTestDoc(self string) *Document {
	return New(types.NewCodexId(), types.UserId(self), DefaultConfig())
}

func metadataSet(key string, value any) types.OperationPayload {
	return types.OperationPayload{
		Kind:        types.PayloadMetadataSet,
		MetadataSet: &types.MetadataSet{Key: key, Value: value},
	}
}

// TestConcurrentFieldWrite mirrors scenario S1: two concurrent metadata
// writes converge to the one with the greater (timestamp, opId).
func TestConcurrentFieldWrite(t *testing.T) {
	a := newTestDoc("A")
	defer a.Close()
	b := newTestDoc("B")
	defer b.Close()

	opA, err := a.ApplyLocal(metadataSet("title", "Alpha"))
	if err != nil {
		t.Fatal(err)
	}
	opB, err := b.ApplyLocal(metadataSet("title", "Beta"))
	if err != nil {
		t.Fatal(err)
	}
	// Force B's write to have the later timestamp so the outcome is
	// deterministic regardless of wall-clock scheduling in this test.
	opB.Timestamp = opA.Timestamp.Add(time.Millisecond)

	outcome, err := a.ApplyRemote(*opB)
	if err != nil || outcome != types.Applied {
		t.Fatalf("applying B's op on A: outcome=%v err=%v", outcome, err)
	}
	outcome, err = b.ApplyRemote(*opA)
	if err != nil || outcome != types.Applied {
		t.Fatalf("applying A's op on B: outcome=%v err=%v", outcome, err)
	}

	snapA := a.Snapshot()
	snapB := b.Snapshot()
	if snapA.Metadata["title"] != "Beta" || snapB.Metadata["title"] != "Beta" {
		t.Errorf("expected both replicas to converge on Beta, got %v / %v", snapA.Metadata["title"], snapB.Metadata["title"])
	}
}

// TestConcurrentAddRemoveReference mirrors scenario S2: a concurrent add
// survives a remove that didn't observe it.
func TestConcurrentAddRemoveReference(t *testing.T) {
	a := newTestDoc("A")
	defer a.Close()
	b := newTestDoc("B")
	defer b.Close()

	ref := types.NewCodexId()
	tagA := types.NewOperationId()
	opAdd, err := a.ApplyLocal(types.OperationPayload{
		Kind:         types.PayloadReferenceAdd,
		ReferenceAdd: &types.ReferenceAdd{Ref: ref, Tag: tagA},
	})
	if err != nil {
		t.Fatal(err)
	}

	opRemove, err := a.ApplyLocal(types.OperationPayload{
		Kind:            types.PayloadReferenceRemove,
		ReferenceRemove: &types.ReferenceRemove{Ref: ref, ObservedTags: []types.OperationId{tagA}},
	})
	if err != nil {
		t.Fatal(err)
	}

	tagB := types.NewOperationId()
	opAddB, err := b.ApplyLocal(types.OperationPayload{
		Kind:         types.PayloadReferenceAdd,
		ReferenceAdd: &types.ReferenceAdd{Ref: ref, Tag: tagB},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Sync: A applies B's concurrent add; B applies A's add then remove.
	if _, err := a.ApplyRemote(*opAddB); err != nil {
		t.Fatal(err)
	}
	if _, err := b.ApplyRemote(*opAdd); err != nil {
		t.Fatal(err)
	}
	if _, err := b.ApplyRemote(*opRemove); err != nil {
		t.Fatal(err)
	}

	snapA := a.Snapshot()
	snapB := b.Snapshot()
	if len(snapA.References) != 1 || snapA.References[0] != ref {
		t.Errorf("expected ref still visible on A, got %v", snapA.References)
	}
	if len(snapB.References) != 1 || snapB.References[0] != ref {
		t.Errorf("expected ref still visible on B, got %v", snapB.References)
	}
}

// TestCausalBuffering mirrors scenario S3: an operation parented on one
// not yet observed is buffered, and becomes visible once its parent
// arrives.
func TestCausalBuffering(t *testing.T) {
	a := newTestDoc("A")
	defer a.Close()
	b := newTestDoc("B")
	defer b.Close()

	op1, err := a.ApplyLocal(metadataSet("title", "v1"))
	if err != nil {
		t.Fatal(err)
	}
	op2, err := a.ApplyLocal(metadataSet("title", "v2"))
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := b.ApplyRemote(*op2)
	if err != nil || outcome != types.Buffered {
		t.Fatalf("expected op2 to be buffered, got outcome=%v err=%v", outcome, err)
	}
	if _, ok := b.Snapshot().Metadata["title"]; ok {
		t.Error("op2 should not be visible before its parent arrives")
	}

	outcome, err = b.ApplyRemote(*op1)
	if err != nil || outcome != types.Applied {
		t.Fatalf("expected op1 to apply, got outcome=%v err=%v", outcome, err)
	}

	snap := b.Snapshot()
	if snap.Metadata["title"] != "v2" {
		t.Errorf("expected v2 visible after parent arrives, got %v", snap.Metadata["title"])
	}
	if b.Log().Len() != 2 {
		t.Errorf("expected both ops in log, got %d", b.Log().Len())
	}
}

// TestTreeCyclePrevention mirrors scenario S4.
func TestTreeCyclePrevention(t *testing.T) {
	a := newTestDoc("A")
	defer a.Close()
	b := newTestDoc("B")
	defer b.Close()

	now := time.Now()
	moveAB := types.CRDTOperation{
		ID:        types.NewOperationId(),
		Author:    "A",
		Timestamp: now,
		Clock:     clock.VectorClock{"A": 1},
		Layer:     types.LayerTree,
		Payload: types.OperationPayload{
			Kind:     types.PayloadTreeMove,
			TreeMove: &types.TreeMove{Node: "a", NewParent: "b", Position: "m"},
		},
	}
	moveBA := types.CRDTOperation{
		ID:        types.NewOperationId(),
		Author:    "B",
		Timestamp: now.Add(time.Millisecond),
		Clock:     clock.VectorClock{"B": 1},
		Layer:     types.LayerTree,
		Payload: types.OperationPayload{
			Kind:     types.PayloadTreeMove,
			TreeMove: &types.TreeMove{Node: "b", NewParent: "a", Position: "m"},
		},
	}

	// Both replicas see both operations, moveAB first (lower timestamp).
	for _, d := range []*Document{a, b} {
		if _, err := d.ApplyRemote(moveAB); err != nil {
			t.Fatal(err)
		}
		if _, err := d.ApplyRemote(moveBA); err != nil {
			t.Fatal(err)
		}
	}

	for _, d := range []*Document{a, b} {
		meta, _, _, treeLayer := d.Layers()
		_ = meta
		parent, _, ok := treeLayer.Parent("a")
		if !ok || parent != "b" {
			t.Errorf("expected a under b, got %q ok=%v", parent, ok)
		}
		if _, _, ok := treeLayer.Parent("b"); ok {
			t.Error("expected b's move to be rejected as a cycle")
		}
	}
}

// TestTreeCyclePreventionReverseOrder is TestTreeCyclePrevention with
// moveBA delivered before moveAB. moveAB has the earlier timestamp, so it
// must still win regardless of which order the two arrive in: a replica
// that already admitted moveBA has to revert it once the causally-earlier
// moveAB shows up, converging on the same tree as a replica that saw
// moveAB first.
func TestTreeCyclePreventionReverseOrder(t *testing.T) {
	a := newTestDoc("A")
	defer a.Close()
	b := newTestDoc("B")
	defer b.Close()

	now := time.Now()
	moveAB := types.CRDTOperation{
		ID:        types.NewOperationId(),
		Author:    "A",
		Timestamp: now,
		Clock:     clock.VectorClock{"A": 1},
		Layer:     types.LayerTree,
		Payload: types.OperationPayload{
			Kind:     types.PayloadTreeMove,
			TreeMove: &types.TreeMove{Node: "a", NewParent: "b", Position: "m"},
		},
	}
	moveBA := types.CRDTOperation{
		ID:        types.NewOperationId(),
		Author:    "B",
		Timestamp: now.Add(time.Millisecond),
		Clock:     clock.VectorClock{"B": 1},
		Layer:     types.LayerTree,
		Payload: types.OperationPayload{
			Kind:     types.PayloadTreeMove,
			TreeMove: &types.TreeMove{Node: "b", NewParent: "a", Position: "m"},
		},
	}

	// Both replicas see both operations, moveBA first this time (higher
	// timestamp, but delivered first).
	for _, d := range []*Document{a, b} {
		if _, err := d.ApplyRemote(moveBA); err != nil {
			t.Fatal(err)
		}
		if _, err := d.ApplyRemote(moveAB); err != nil {
			t.Fatal(err)
		}
	}

	for _, d := range []*Document{a, b} {
		_, _, _, treeLayer := d.Layers()
		parent, _, ok := treeLayer.Parent("a")
		if !ok || parent != "b" {
			t.Errorf("expected a under b, got %q ok=%v", parent, ok)
		}
		if _, _, ok := treeLayer.Parent("b"); ok {
			t.Error("expected b's move to have been reverted once moveAB arrived")
		}
	}
}

// TestDedupIdempotence mirrors scenario S6: delivering the same op four
// times only applies it once.
func TestDedupIdempotence(t *testing.T) {
	a := newTestDoc("A")
	defer a.Close()
	b := newTestDoc("B")
	defer b.Close()

	op, err := a.ApplyLocal(metadataSet("title", "v1"))
	if err != nil {
		t.Fatal(err)
	}

	var outcomes []types.ApplyOutcome
	for i := 0; i < 4; i++ {
		outcome, err := b.ApplyRemote(*op)
		if err != nil {
			t.Fatal(err)
		}
		outcomes = append(outcomes, outcome)
	}
	if outcomes[0] != types.Applied {
		t.Errorf("expected first delivery to apply, got %v", outcomes[0])
	}
	for _, o := range outcomes[1:] {
		if o != types.Duplicate {
			t.Errorf("expected subsequent deliveries to be duplicates, got %v", o)
		}
	}
	if b.Log().Len() != 1 {
		t.Errorf("expected exactly one log entry, got %d", b.Log().Len())
	}
}

func TestApplyLocalRejectsTreeCycle(t *testing.T) {
	d := newTestDoc("A")
	defer d.Close()

	if _, err := d.ApplyLocal(types.OperationPayload{
		Kind:     types.PayloadTreeMove,
		TreeMove: &types.TreeMove{Node: "a", NewParent: "b", Position: "m"},
	}); err != nil {
		t.Fatal(err)
	}
	_, err := d.ApplyLocal(types.OperationPayload{
		Kind:     types.PayloadTreeMove,
		TreeMove: &types.TreeMove{Node: "b", NewParent: "a", Position: "m"},
	})
	if err != ErrTreeCycle {
		t.Errorf("expected ErrTreeCycle, got %v", err)
	}
}

func TestDeleteTransitionsState(t *testing.T) {
	d := newTestDoc("A")
	defer d.Close()

	if d.State() != types.StateLive {
		t.Fatalf("expected initial state Live, got %v", d.State())
	}
	if _, err := d.Delete(); err != nil {
		t.Fatal(err)
	}
	if d.State() != types.StateTombstoned {
		t.Errorf("expected Tombstoned after delete, got %v", d.State())
	}
}

func TestTextInsertAndSnapshot(t *testing.T) {
	d := newTestDoc("A")
	defer d.Close()

	_, err := d.ApplyLocal(types.OperationPayload{
		Kind:       types.PayloadTextInsert,
		TextInsert: &types.TextInsert{Field: "body", Pos: 0, Content: "hello"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Field("body") != "hello" {
		t.Errorf("expected hello, got %q", d.Field("body"))
	}
	snap := d.Snapshot()
	if snap.TextFields["body"] != "hello" {
		t.Errorf("expected snapshot to include body field, got %v", snap.TextFields)
	}
}
