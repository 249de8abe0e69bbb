package persistence

import "fmt"

// MigrationFunc upgrades a raw snapshot blob from one schema version to
// the next. It operates on the undecoded wire bytes so a migration can
// change the on-disk layout itself, not just field values.
type MigrationFunc func(data []byte) ([]byte, error)

// SnapshotMigrator upgrades a persisted snapshot blob forward across
// schema versions before it reaches wire.DecodeSnapshot, the Go
// counterpart to the original Rust implementation's migration.rs: Migrate
// reads the leading version byte and, if it is older than the running
// binary's SchemaVersion, runs every migration between the two in order.
// Neither FileSnapshotStore nor BadgerSnapshotStore calls it; their Load
// decodes the stored bytes as they are.
type SnapshotMigrator struct {
	steps map[byte]MigrationFunc
}

// NewSnapshotMigrator returns a migrator with no registered steps.
func NewSnapshotMigrator() *SnapshotMigrator {
	return &SnapshotMigrator{steps: make(map[byte]MigrationFunc)}
}

// Register adds a migration from schema version `from` to `from+1`.
func (m *SnapshotMigrator) Register(from byte, fn MigrationFunc) {
	m.steps[from] = fn
}

// Migrate walks data forward from its leading version byte to
// SchemaVersion, applying every registered step in order. data must
// have a version byte at index 0, matching wire's encoding convention.
func (m *SnapshotMigrator) Migrate(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("persistence: empty snapshot blob")
	}

	version := data[0]
	for version < SchemaVersion {
		step, ok := m.steps[version]
		if !ok {
			return nil, fmt.Errorf("persistence: no migration registered from schema version %d", version)
		}
		migrated, err := step(data)
		if err != nil {
			return nil, fmt.Errorf("persistence: migrate from version %d: %w", version, err)
		}
		if len(migrated) == 0 || migrated[0] != version+1 {
			return nil, fmt.Errorf("persistence: migration from version %d did not advance the schema byte", version)
		}
		data = migrated
		version = data[0]
	}
	return data, nil
}
