// Package oplog implements the Document CRDT's operation log: an
// append-only, deduplicated, causally-ordered record of every CRDTOperation
// applied to a document, with count- and stability-gated pruning.
package oplog

import (
	"sync"

	"github.com/codexsync/codex/internal/clock"
	"github.com/codexsync/codex/internal/types"
)

// Log is the operation log for a single document. It is not safe for
// concurrent use from multiple goroutines without external
// synchronization; the owning Document serializes all access through its
// single worker, per the actor-per-document model.
type Log struct {
	mu    sync.Mutex
	ops   []types.CRDTOperation
	index map[types.OperationId]struct{}
}

// New returns an empty operation log.
func New() *Log {
	return &Log{index: make(map[types.OperationId]struct{})}
}

// Append adds op to the log, returning false without mutating state if
// op.ID is already present (invariant 1: no duplicate OperationIds).
func (l *Log) Append(op types.CRDTOperation) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.index[op.ID]; dup {
		return false
	}
	l.index[op.ID] = struct{}{}
	l.ops = append(l.ops, op)
	return true
}

// Contains reports whether id is already recorded in the log.
func (l *Log) Contains(id types.OperationId) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[id]
	return ok
}

// Len returns the number of operations currently retained.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// All returns a copy of the operations currently retained, in append order.
func (l *Log) All() []types.CRDTOperation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.CRDTOperation, len(l.ops))
	copy(out, l.ops)
	return out
}

// Stats describes the outcome of a Prune call.
type Stats struct {
	Dropped    int
	BytesFreed int64
}

// estimateSize is a rough per-operation byte estimate used for GCStats
// reporting; exact accounting would require a real encoder round trip,
// which the GC sweep does not need for its reporting purpose.
func estimateSize(op types.CRDTOperation) int64 {
	const base = 64 // id + author + timestamp + clock entry overhead
	size := int64(base)
	if op.Payload.TextInsert != nil {
		size += int64(len(op.Payload.TextInsert.Content))
	}
	return size
}

// Prune retains the most recent keep operations plus every operation that
// is not yet causally stable with respect to frontier (the component-wise
// minimum vector clock acknowledged by every known peer). An operation is
// stable once frontier dominates its own clock. If frontier is nil, no
// operation is considered stable and nothing is dropped, per spec.md
// §4.7's conservative-GC requirement.
func (l *Log) Prune(keep int, frontier clock.VectorClock) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	if keep < 0 {
		keep = 0
	}
	n := len(l.ops)
	if n <= keep {
		return Stats{}
	}

	// Operations beyond the tail-N window are candidates; only drop the
	// ones that are causally stable.
	cutoff := n - keep
	kept := make([]types.CRDTOperation, 0, n)
	var stats Stats

	for i, op := range l.ops {
		if i < cutoff && frontier != nil && clock.Dominates(frontier, op.Clock) {
			delete(l.index, op.ID)
			stats.Dropped++
			stats.BytesFreed += estimateSize(op)
			continue
		}
		kept = append(kept, op)
	}
	l.ops = kept
	return stats
}
