// Package persistence implements the pluggable SnapshotStore contract
// from spec.md §6/§9: a single blob per CodexId holding the serialized
// four-layer converged state plus the vector clock, versioned by a
// leading schema byte. Persistence is explicitly pluggable — the core
// Document CRDT never depends on any one backend.
package persistence

import (
	"errors"

	"github.com/codexsync/codex/internal/document"
	"github.com/codexsync/codex/internal/types"
)

// ErrNotFound is returned by Load when no snapshot exists for the id.
var ErrNotFound = errors.New("persistence: snapshot not found")

// SnapshotStore persists and retrieves converged Document state. No
// operation log is persisted; replay from a snapshot is the only
// recovery path, per spec.md §6.
type SnapshotStore interface {
	Save(id types.CodexId, snap document.Snapshot) error
	Load(id types.CodexId) (document.Snapshot, error)
	Delete(id types.CodexId) error
	List() ([]types.CodexId, error)
	Close() error
}

// SchemaVersion is the current on-disk snapshot schema, incremented
// whenever the persisted layout changes incompatibly. SnapshotMigrator
// upgrades a blob persisted under an older version when called; the
// stores' Load does not call it.
const SchemaVersion byte = 1
