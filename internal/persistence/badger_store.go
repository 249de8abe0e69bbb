package persistence

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/codexsync/codex/internal/document"
	"github.com/codexsync/codex/internal/types"
	"github.com/codexsync/codex/internal/wire"
)

// BadgerSnapshotStore persists snapshots in an embedded BadgerDB,
// adapted from nornicdb's BadgerEngine: a single flat keyspace keyed
// by CodexId bytes rather than BadgerEngine's node/edge/index prefix
// scheme, since a Snapshot has no secondary indexes to maintain.
type BadgerSnapshotStore struct {
	db *badger.DB
}

// NewBadgerSnapshotStore opens (creating if absent) a BadgerDB at dataDir.
func NewBadgerSnapshotStore(dataDir string) (*BadgerSnapshotStore, error) {
	opts := badger.DefaultOptions(dataDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("persistence/badger: open: %w", err)
	}
	return &BadgerSnapshotStore{db: db}, nil
}

// NewBadgerSnapshotStoreInMemory opens a BadgerDB with no disk backing,
// for tests.
func NewBadgerSnapshotStoreInMemory() (*BadgerSnapshotStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("persistence/badger: open in-memory: %w", err)
	}
	return &BadgerSnapshotStore{db: db}, nil
}

func snapshotKey(id types.CodexId) []byte {
	b := [16]byte(id)
	return append([]byte{0x01}, b[:]...)
}

// Save persists snap under id, overwriting any prior value.
func (s *BadgerSnapshotStore) Save(id types.CodexId, snap document.Snapshot) error {
	encoded, err := wire.EncodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("persistence/badger: encode snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(id), encoded)
	})
}

// Load retrieves and decodes the snapshot for id.
func (s *BadgerSnapshotStore) Load(id types.CodexId) (document.Snapshot, error) {
	var snap document.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := wire.DecodeSnapshot(val)
			if err != nil {
				return err
			}
			snap = decoded
			return nil
		})
	})
	if err != nil {
		if err == ErrNotFound {
			return document.Snapshot{}, ErrNotFound
		}
		return document.Snapshot{}, fmt.Errorf("persistence/badger: load snapshot: %w", err)
	}
	return snap, nil
}

// Delete removes the persisted snapshot for id, if any.
func (s *BadgerSnapshotStore) Delete(id types.CodexId) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(snapshotKey(id))
	})
	if err != nil {
		return fmt.Errorf("persistence/badger: delete snapshot: %w", err)
	}
	return nil
}

// List enumerates every CodexId with a persisted snapshot.
func (s *BadgerSnapshotStore) List() ([]types.CodexId, error) {
	var ids []types.CodexId
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte{0x01}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			var raw [16]byte
			copy(raw[:], key[1:])
			ids = append(ids, types.CodexId(raw))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persistence/badger: list snapshots: %w", err)
	}
	return ids, nil
}

// Close releases the underlying BadgerDB handle.
func (s *BadgerSnapshotStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("persistence/badger: close: %w", err)
	}
	return nil
}
