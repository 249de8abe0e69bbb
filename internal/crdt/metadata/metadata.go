// Package metadata implements the LWW-Map layer of a Codex document: a
// last-writer-wins map from string keys to arbitrary JSON-able values,
// used for document title, tags and other single-valued fields. A
// MetadataSet carrying a nil Value is a delete, producing a tombstone
// instead of a live entry.
//
// Conflicts are resolved by (timestamp, OperationId) total order, the same
// tie-breaking rule used by the teacher's crdt resolver, generalized from
// whole-document LWW to per-key LWW.
package metadata

import (
	"sync"
	"time"

	"github.com/codexsync/codex/internal/types"
)

type stamp struct {
	timestamp time.Time
	opID      types.OperationId
}

// wins reports whether candidate (ts, id) should replace s under the
// (timestamp, OperationId) total order.
func (s stamp) wins(ts time.Time, id types.OperationId) bool {
	if ts.After(s.timestamp) {
		return true
	}
	if ts.Before(s.timestamp) {
		return false
	}
	return s.opID.Less(id)
}

type entry struct {
	stamp
	value any
}

// Layer is the LWW-Map CRDT for a single document's metadata fields.
type Layer struct {
	mu         sync.RWMutex
	entries    map[string]entry
	tombstones map[string]stamp
}

// New returns an empty metadata layer.
func New() *Layer {
	return &Layer{
		entries:    make(map[string]entry),
		tombstones: make(map[string]stamp),
	}
}

// Set applies a MetadataSet operation. A nil Value deletes the key,
// producing a tombstone; any other value writes a live entry. The write
// is kept only if it wins the total order against whatever currently
// occupies Key (live entry or tombstone).
func (l *Layer) Set(op *types.CRDTOperation, payload *types.MetadataSet) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.entries[payload.Key]; ok && !cur.wins(op.Timestamp, op.ID) {
		return false
	}
	if tomb, ok := l.tombstones[payload.Key]; ok && !tomb.wins(op.Timestamp, op.ID) {
		return false
	}

	s := stamp{timestamp: op.Timestamp, opID: op.ID}
	if payload.Value == nil {
		delete(l.entries, payload.Key)
		l.tombstones[payload.Key] = s
		return true
	}
	delete(l.tombstones, payload.Key)
	l.entries[payload.Key] = entry{stamp: s, value: payload.Value}
	return true
}

// Get returns the current value for key, if any.
func (l *Layer) Get(key string) (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Snapshot returns a point-in-time copy of all live keys and values.
func (l *Layer) Snapshot() map[string]any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]any, len(l.entries))
	for k, e := range l.entries {
		out[k] = e.value
	}
	return out
}

// Len returns the number of live keys currently stored.
func (l *Layer) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// TombstoneCount returns the number of pending delete tombstones.
func (l *Layer) TombstoneCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tombstones)
}

// GCStableBefore drops tombstones stamped strictly before cutoff,
// returning the number reclaimed. Callers must only pass a causally
// stable cutoff: no in-flight write for the tombstoned key may still be
// in transit with a timestamp before cutoff.
func (l *Layer) GCStableBefore(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, s := range l.tombstones {
		if s.timestamp.Before(cutoff) {
			delete(l.tombstones, k)
			n++
		}
	}
	return n
}
