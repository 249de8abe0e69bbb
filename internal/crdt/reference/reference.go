// Package reference implements the reference layer of a Codex document: an
// Observed-Remove Set (OR-Set) of links to other Codex documents. Adds and
// removes commute regardless of delivery order, and a concurrent add
// always wins over a concurrent remove that did not observe it.
package reference

import (
	"sync"
	"time"

	"github.com/codexsync/codex/internal/types"
)

// Layer is the OR-Set CRDT tracking which CodexIds this document references.
type Layer struct {
	mu sync.RWMutex
	// live maps a referenced CodexId to the set of add-tags still observed
	// for it. A reference is considered present iff this set is non-empty.
	live map[types.CodexId]map[types.OperationId]time.Time
	// removed holds tags that have been removed, kept around only long
	// enough to satisfy causal-stability GC (a removed tag must outlive any
	// in-flight add carrying the same tag it might race with).
	removed map[types.OperationId]time.Time
}

// New returns an empty reference layer.
func New() *Layer {
	return &Layer{
		live:    make(map[types.CodexId]map[types.OperationId]time.Time),
		removed: make(map[types.OperationId]time.Time),
	}
}

// Add applies a ReferenceAdd operation: the tag is inserted into the live
// set for Ref unless it was already observed as removed.
func (l *Layer) Add(op *types.CRDTOperation, payload *types.ReferenceAdd) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, removed := l.removed[payload.Tag]; removed {
		return
	}
	tags, ok := l.live[payload.Ref]
	if !ok {
		tags = make(map[types.OperationId]time.Time)
		l.live[payload.Ref] = tags
	}
	tags[payload.Tag] = op.Timestamp
}

// Remove applies a ReferenceRemove operation: every tag the remover had
// observed for Ref is dropped from the live set. Tags the remover never
// saw (added concurrently) are left untouched, so a concurrent add always
// survives a concurrent remove.
func (l *Layer) Remove(op *types.CRDTOperation, payload *types.ReferenceRemove) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tags := l.live[payload.Ref]
	for _, tag := range payload.ObservedTags {
		if tags != nil {
			delete(tags, tag)
		}
		l.removed[tag] = op.Timestamp
	}
	if tags != nil && len(tags) == 0 {
		delete(l.live, payload.Ref)
	}
}

// Contains reports whether ref currently has at least one surviving add-tag.
func (l *Layer) Contains(ref types.CodexId) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tags, ok := l.live[ref]
	return ok && len(tags) > 0
}

// ObservedTags returns the add-tags currently live for ref. A remover must
// call this before constructing a ReferenceRemove so its removal only
// claims tags it actually observed.
func (l *Layer) ObservedTags(ref types.CodexId) []types.OperationId {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tags := l.live[ref]
	out := make([]types.OperationId, 0, len(tags))
	for t := range tags {
		out = append(out, t)
	}
	return out
}

// Snapshot returns the set of currently-referenced CodexIds.
func (l *Layer) Snapshot() []types.CodexId {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.CodexId, 0, len(l.live))
	for ref, tags := range l.live {
		if len(tags) > 0 {
			out = append(out, ref)
		}
	}
	return out
}

// GCStableBefore discards removed-tag tombstones older than cutoff,
// returning the number reclaimed. Callers must only invoke this once the
// cutoff time is causally stable: no in-flight add carrying one of these
// tags can still be in transit.
func (l *Layer) GCStableBefore(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for tag, ts := range l.removed {
		if ts.Before(cutoff) {
			delete(l.removed, tag)
			n++
		}
	}
	return n
}
