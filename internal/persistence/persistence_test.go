package persistence

import (
	"testing"

	"github.com/codexsync/codex/internal/clock"
	"github.com/codexsync/codex/internal/document"
	"github.com/codexsync/codex/internal/types"
)

func sampleSnapshot() document.Snapshot {
	return document.Snapshot{
		Codex:      types.NewCodexId(),
		Clock:      clock.VectorClock{"a": 3},
		Metadata:   map[string]any{"title": "roadmap"},
		References: []types.CodexId{types.NewCodexId()},
		TextFields: map[string]string{"body": "hello"},
		State:      types.StateLive,
	}
}

func TestFileSnapshotStoreSaveLoadDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSnapshotStore(dir, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	snap := sampleSnapshot()
	if err := store.Save(snap.Codex, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(snap.Codex)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.TextFields["body"] != "hello" {
		t.Errorf("unexpected text field: %+v", loaded.TextFields)
	}

	ids, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != snap.Codex {
		t.Errorf("unexpected listing: %+v", ids)
	}

	if err := store.Delete(snap.Codex); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(snap.Codex); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileSnapshotStoreEncryptsSensitiveCodices(t *testing.T) {
	dir := t.TempDir()
	snap := sampleSnapshot()

	store, err := NewFileSnapshotStore(dir, func(id types.CodexId) bool { return id == snap.Codex })
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.LoadOrCreateMasterKey("correct horse battery staple"); err != nil {
		t.Fatalf("load or create master key: %v", err)
	}

	if err := store.Save(snap.Codex, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(snap.Codex)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Metadata["title"] != "roadmap" {
		t.Errorf("unexpected decrypted metadata: %+v", loaded.Metadata)
	}
}

func TestBadgerSnapshotStoreSaveLoadList(t *testing.T) {
	store, err := NewBadgerSnapshotStoreInMemory()
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	snap := sampleSnapshot()
	if err := store.Save(snap.Codex, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(snap.Codex)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Codex != snap.Codex {
		t.Errorf("codex mismatch: %+v", loaded)
	}

	ids, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("expected 1 id, got %d", len(ids))
	}

	if err := store.Delete(snap.Codex); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(snap.Codex); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotMigratorAppliesStepsInOrder(t *testing.T) {
	m := NewSnapshotMigrator()
	m.Register(0, func(data []byte) ([]byte, error) {
		out := append([]byte{1}, data[1:]...)
		return out, nil
	})

	migrated, err := m.Migrate([]byte{0, 0xAA, 0xBB})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if migrated[0] != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, migrated[0])
	}
}

func TestSnapshotMigratorMissingStepErrors(t *testing.T) {
	m := NewSnapshotMigrator()
	if _, err := m.Migrate([]byte{0, 0xAA}); err == nil {
		t.Error("expected an error for a missing migration step")
	}
}
