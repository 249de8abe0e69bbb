// Package gc orchestrates the Document CRDT's four independent garbage
// collection sweeps: operation log retention, metadata tombstone expiry,
// reference removed-tag expiry, and text tombstone compaction. Only the
// log sweep is gated by causal stability (the peer frontier); the
// metadata and reference sweeps drop tombstones by age alone and do not
// consult the frontier; the text sweep compacts every deleted character
// outright, since a position once tombstoned is never re-addressed by a
// well-formed operation.
package gc

import (
	"time"

	"github.com/codexsync/codex/internal/clock"
	"github.com/codexsync/codex/internal/crdt/metadata"
	"github.com/codexsync/codex/internal/crdt/reference"
	"github.com/codexsync/codex/internal/crdt/text"
	"github.com/codexsync/codex/internal/oplog"
)

// Config carries the tunables for a single sweep, mirroring the
// process-wide configuration fields in spec.md §6.
type Config struct {
	MaxOperationsInMemory int
	TombstoneTTL          time.Duration
}

// Stats reports what each sweep reclaimed.
type Stats struct {
	OperationsDropped   int
	BytesFreed          int64
	MetadataTombstones  int
	ReferenceTombstones int
	TextTombstones      int
}

// Sweep runs all four GC passes against one document's layers and log.
// frontier is the component-wise minimum vector clock acknowledged by
// every known peer (see document.Document.Frontier). It gates only the
// log sweep; nil means no peer frontier is known, so the log sweep drops
// no operation. The metadata/reference tombstone sweeps always use the
// pure time cutoff, whatever frontier is.
func Sweep(log *oplog.Log, meta *metadata.Layer, refs *reference.Layer, txt *text.Layer, cfg Config, frontier clock.VectorClock) Stats {
	logStats := log.Prune(cfg.MaxOperationsInMemory, frontier)

	cutoff := time.Now().Add(-cfg.TombstoneTTL)
	metaDropped := meta.GCStableBefore(cutoff)
	refDropped := refs.GCStableBefore(cutoff)
	textDropped := txt.GCStableBefore()

	return Stats{
		OperationsDropped:   logStats.Dropped,
		BytesFreed:          logStats.BytesFreed,
		MetadataTombstones:  metaDropped,
		ReferenceTombstones: refDropped,
		TextTombstones:      textDropped,
	}
}
