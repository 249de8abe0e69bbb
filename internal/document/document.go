// Package document implements the Document CRDT: the container that owns
// a single Codex's four convergence layers, its operation log and vector
// clock, and coordinates apply/merge/gc per spec. Every mutation is
// serialized through a single worker goroutine, so the four layers never
// need their own cross-document locking: this document is the actor.
package document

import (
	"errors"
	"sync"
	"time"

	"github.com/codexsync/codex/internal/clock"
	"github.com/codexsync/codex/internal/crdt/metadata"
	"github.com/codexsync/codex/internal/crdt/reference"
	"github.com/codexsync/codex/internal/crdt/text"
	"github.com/codexsync/codex/internal/crdt/tree"
	"github.com/codexsync/codex/internal/gc"
	"github.com/codexsync/codex/internal/oplog"
	"github.com/codexsync/codex/internal/types"
)

// Sentinel errors per spec.md §7's structured error kinds.
var (
	ErrMalformedOperation = errors.New("document: malformed operation")
	ErrTreeCycle          = errors.New("document: tree move would create a cycle")
	ErrBufferOverflow     = errors.New("document: pending buffer overflow")
)

// deletedKey is the reserved metadata key used to stamp a document-level
// tombstone. It travels through the ordinary metadata layer rather than
// inventing a new wire payload kind, so delete converges with the same
// LWW machinery as any other field.
const deletedKey = "$deleted"

// Snapshot is the converged, point-in-time state of every layer, used for
// state-based sync (StateResponse) and persistence.
type Snapshot struct {
	Codex      types.CodexId
	Clock      clock.VectorClock
	Metadata   map[string]any
	References []types.CodexId
	TextFields map[string]string
	State      types.DocumentState
}

// MemoryStats summarizes the current in-memory footprint of a document,
// used by callers deciding whether to trigger GC early.
type MemoryStats struct {
	OplogLen           int
	MetadataKeys       int
	MetadataTombstones int
	ReferenceCount     int
	TreeNodes          int
	PendingBuffered    int
}

// MergeStats reports the outcome of a state-based Merge call.
type MergeStats struct {
	Applied   int
	Duplicate int
}

// Config carries the process-wide knobs from spec.md §6.
type Config struct {
	MaxOperationsInMemory int
	TombstoneTTL          time.Duration
	PendingBufferSize     int
}

// DefaultConfig returns conservative defaults matching spec.md's examples.
func DefaultConfig() Config {
	return Config{
		MaxOperationsInMemory: 1000,
		TombstoneTTL:          time.Hour,
		PendingBufferSize:     256,
	}
}

// Document is one Codex's CRDT container.
type Document struct {
	id   types.CodexId
	self types.UserId
	cfg  Config

	metadata  *metadata.Layer
	reference *reference.Layer
	text      *text.Layer
	tree      *tree.Layer
	log       *oplog.Log

	localClock clock.VectorClock
	pending    map[types.OperationId]*types.CRDTOperation
	pendingSeq []types.OperationId // insertion order, for bounded-buffer eviction
	peerAcks   map[types.UserId]clock.VectorClock
	state      types.DocumentState

	// OnApplied, if set, is invoked after every operation that changes the
	// log (local or remote, in the worker goroutine). It is the hand-off
	// point to the Sync Coordinator's fan-out (spec.md §4.6) and to
	// external subscribers (RAG indexer, hook dispatcher, spec.md §9).
	OnApplied func(op types.CRDTOperation)
	// OnOverflow, if set, is invoked when the pending buffer overflows and
	// the document needs a state-based resync from a peer.
	OnOverflow func(codex types.CodexId)

	cmd  chan func()
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Document for id, owned by the local replica self, and
// starts its worker goroutine.
func New(id types.CodexId, self types.UserId, cfg Config) *Document {
	d := &Document{
		id:         id,
		self:       self,
		cfg:        cfg,
		metadata:   metadata.New(),
		reference:  reference.New(),
		text:       text.New(),
		tree:       tree.New(),
		log:        oplog.New(),
		localClock: clock.NewVectorClock(),
		pending:    make(map[types.OperationId]*types.CRDTOperation),
		peerAcks:   make(map[types.UserId]clock.VectorClock),
		state:      types.StateLive,
		cmd:        make(chan func()),
		stop:       make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// ID returns the document's CodexId.
func (d *Document) ID() types.CodexId { return d.id }

func (d *Document) run() {
	defer d.wg.Done()
	for {
		select {
		case fn := <-d.cmd:
			fn()
		case <-d.stop:
			return
		}
	}
}

// do submits fn to the worker and blocks until it has run, giving every
// exported method the actor's one-logical-writer-at-a-time guarantee.
func (d *Document) do(fn func()) {
	done := make(chan struct{})
	d.cmd <- func() {
		fn()
		close(done)
	}
	<-done
}

// Close stops the worker goroutine. No further calls may be made.
func (d *Document) Close() {
	close(d.stop)
	d.wg.Wait()
}

func layerFor(kind types.PayloadKind) types.LayerTag {
	switch kind {
	case types.PayloadTextInsert, types.PayloadTextDelete, types.PayloadTextFormat:
		return types.LayerText
	case types.PayloadTreeMove:
		return types.LayerTree
	case types.PayloadMetadataSet:
		return types.LayerMetadata
	case types.PayloadReferenceAdd, types.PayloadReferenceRemove:
		return types.LayerReference
	default:
		return types.LayerMetadata
	}
}

// ApplyLocal stamps payload into a CRDTOperation, applies it to the
// owning layer, appends it to the log, advances the local vector clock,
// and publishes it via OnApplied. It fails with ErrMalformedOperation
// when a TreeMove or TextInsert payload has no body, and with
// ErrTreeCycle when a TreeMove would create a cycle.
func (d *Document) ApplyLocal(payload types.OperationPayload) (*types.CRDTOperation, error) {
	var op *types.CRDTOperation
	var err error
	d.do(func() {
		op, err = d.applyLocalLocked(payload)
	})
	return op, err
}

func (d *Document) applyLocalLocked(payload types.OperationPayload) (*types.CRDTOperation, error) {
	if payload.Kind == types.PayloadTreeMove {
		if payload.TreeMove == nil {
			return nil, ErrMalformedOperation
		}
		if d.tree.WouldCycle(payload.TreeMove.Node, payload.TreeMove.NewParent) {
			return nil, ErrTreeCycle
		}
		prevParent, prevPos, hadPrev := d.tree.Parent(payload.TreeMove.Node)
		payload.TreeMove.PrevParent = prevParent
		payload.TreeMove.PrevPos = prevPos
		payload.TreeMove.HadPrevParent = hadPrev
	}
	if payload.Kind == types.PayloadTextInsert {
		if payload.TextInsert == nil {
			return nil, ErrMalformedOperation
		}
		payload.TextInsert.Positions = d.text.AllocatePositions(payload.TextInsert.Field, payload.TextInsert.Pos, payload.TextInsert.Content)
	}

	d.localClock = clock.Increment(d.localClock, string(d.self))
	op := types.CRDTOperation{
		ID:        types.NewOperationId(),
		Codex:     d.id,
		Author:    d.self,
		Timestamp: time.Now(),
		Clock:     clock.Clone(d.localClock),
		Layer:     layerFor(payload.Kind),
		Payload:   payload,
	}

	d.dispatchLocked(&op)
	d.log.Append(op)

	if d.OnApplied != nil {
		d.OnApplied(op)
	}
	return &op, nil
}

// dispatchLocked routes op to its target layer. Call only from the
// worker goroutine.
func (d *Document) dispatchLocked(op *types.CRDTOperation) {
	p := op.Payload
	switch p.Kind {
	case types.PayloadTextInsert:
		d.text.Insert(op, p.TextInsert)
	case types.PayloadTextDelete:
		d.text.Delete(op, p.TextDelete)
	case types.PayloadTextFormat:
		d.text.Format(op, p.TextFormat)
	case types.PayloadTreeMove:
		d.tree.Move(op, p.TreeMove)
	case types.PayloadMetadataSet:
		d.metadata.Set(op, p.MetadataSet)
		if p.MetadataSet.Key == deletedKey {
			d.state = types.StateTombstoned
		}
	case types.PayloadReferenceAdd:
		d.reference.Add(op, p.ReferenceAdd)
	case types.PayloadReferenceRemove:
		d.reference.Remove(op, p.ReferenceRemove)
	}
}

// ApplyRemote applies an operation received from a peer. It is always
// idempotent: duplicates return Duplicate, causally-premature operations
// are buffered and return Buffered, and everything else is routed to its
// layer and returns Applied. When buffering pushes the pending buffer past
// PendingBufferSize, the oldest buffered operation is evicted, OnOverflow
// is called, and Buffered is returned together with ErrBufferOverflow.
func (d *Document) ApplyRemote(op types.CRDTOperation) (types.ApplyOutcome, error) {
	var outcome types.ApplyOutcome
	var err error
	d.do(func() {
		outcome, err = d.applyRemoteLocked(op)
	})
	return outcome, err
}

func (d *Document) applyRemoteLocked(op types.CRDTOperation) (types.ApplyOutcome, error) {
	if d.log.Contains(op.ID) {
		return types.Duplicate, nil
	}
	if _, buffered := d.pending[op.ID]; buffered {
		return types.Duplicate, nil
	}

	if !d.readyLocked(op) {
		return d.bufferLocked(op)
	}

	d.admitLocked(op)
	d.drainPendingLocked()
	return types.Applied, nil
}

// readyLocked reports whether op's causal dependencies have all been
// observed: every author's component in op.Clock must not exceed the
// local clock's knowledge of that author, except the operation's own
// author, which may exceed by exactly one (this operation itself).
func (d *Document) readyLocked(op types.CRDTOperation) bool {
	for author, count := range op.Clock {
		limit := d.localClock[author]
		if types.UserId(author) == op.Author {
			limit++
		}
		if count > limit {
			return false
		}
	}
	return true
}

// bufferLocked stores a causally-premature operation, evicting the oldest
// buffered operation and signaling overflow if the bound is exceeded.
func (d *Document) bufferLocked(op types.CRDTOperation) (types.ApplyOutcome, error) {
	opCopy := op
	d.pending[op.ID] = &opCopy
	d.pendingSeq = append(d.pendingSeq, op.ID)

	if d.cfg.PendingBufferSize > 0 && len(d.pendingSeq) > d.cfg.PendingBufferSize {
		oldest := d.pendingSeq[0]
		d.pendingSeq = d.pendingSeq[1:]
		delete(d.pending, oldest)
		if d.OnOverflow != nil {
			d.OnOverflow(d.id)
		}
		return types.Buffered, ErrBufferOverflow
	}
	return types.Buffered, nil
}

// admitLocked routes op to its layer, appends it to the log, and merges
// its clock into the local clock. Call only once op is known ready.
func (d *Document) admitLocked(op types.CRDTOperation) {
	d.dispatchLocked(&op)
	d.log.Append(op)
	d.localClock = clock.Merge(d.localClock, op.Clock)
	if d.OnApplied != nil {
		d.OnApplied(op)
	}
}

// drainPendingLocked re-examines buffered operations after the local
// clock advances, applying any that have become ready. Repeats until a
// full pass makes no progress, since admitting one operation can unblock
// another from the same or a different author.
func (d *Document) drainPendingLocked() {
	for {
		progressed := false
		for id, op := range d.pending {
			if !d.readyLocked(*op) {
				continue
			}
			d.admitLocked(*op)
			delete(d.pending, id)
			d.removeFromSeqLocked(id)
			progressed = true
		}
		if !progressed {
			return
		}
	}
}

func (d *Document) removeFromSeqLocked(id types.OperationId) {
	for i, pid := range d.pendingSeq {
		if pid == id {
			d.pendingSeq = append(d.pendingSeq[:i], d.pendingSeq[i+1:]...)
			return
		}
	}
}

// Merge applies every operation in ops that is not already present,
// bypassing the causal buffer. This is the state-based reconciliation
// path (spec.md §4.1): because every layer's apply function is
// commutative, associative and idempotent by construction, replaying the
// other replica's full history directly converges regardless of order.
func (d *Document) Merge(ops []types.CRDTOperation) MergeStats {
	var stats MergeStats
	d.do(func() {
		for _, op := range ops {
			if d.log.Contains(op.ID) {
				stats.Duplicate++
				continue
			}
			d.dispatchLocked(&op)
			d.log.Append(op)
			d.localClock = clock.Merge(d.localClock, op.Clock)
			stats.Applied++
			if d.OnApplied != nil {
				d.OnApplied(op)
			}
		}
		d.drainPendingLocked()
	})
	return stats
}

// Snapshot returns the currently-visible state of every layer.
func (d *Document) Snapshot() Snapshot {
	var snap Snapshot
	d.do(func() {
		snap = Snapshot{
			Codex:      d.id,
			Clock:      clock.Clone(d.localClock),
			Metadata:   d.metadata.Snapshot(),
			References: d.reference.Snapshot(),
			TextFields: d.textFieldsLocked(),
			State:      d.state,
		}
	})
	return snap
}

func (d *Document) textFieldsLocked() map[string]string {
	out := make(map[string]string)
	for _, name := range d.text.Fields() {
		out[name] = d.text.Value(name)
	}
	return out
}

// Field returns the current text content of a named field.
func (d *Document) Field(name string) string {
	var v string
	d.do(func() { v = d.text.Value(name) })
	return v
}

// RecordAck updates the known frontier for peer, used by GC's
// causal-stability gate.
func (d *Document) RecordAck(peer types.UserId, upTo clock.VectorClock) {
	d.do(func() {
		d.peerAcks[peer] = clock.Clone(upTo)
	})
}

// Frontier returns the component-wise minimum of every known peer's
// acknowledged clock, or nil if no peer has acked yet (meaning GC must
// fall back to a purely time-based cutoff).
func (d *Document) Frontier() clock.VectorClock {
	var f clock.VectorClock
	d.do(func() { f = d.frontierLocked() })
	return f
}

func (d *Document) frontierLocked() clock.VectorClock {
	if len(d.peerAcks) == 0 {
		return nil
	}
	keys := make(map[string]struct{})
	for _, ack := range d.peerAcks {
		for k := range ack {
			keys[k] = struct{}{}
		}
	}
	out := make(clock.VectorClock, len(keys))
	for k := range keys {
		min := int64(-1)
		for _, ack := range d.peerAcks {
			v := ack[k]
			if min == -1 || v < min {
				min = v
			}
		}
		out[k] = min
	}
	return out
}

// MemoryStats reports the current in-memory footprint.
func (d *Document) MemoryStats() MemoryStats {
	var stats MemoryStats
	d.do(func() {
		stats = MemoryStats{
			OplogLen:           d.log.Len(),
			MetadataKeys:       d.metadata.Len(),
			MetadataTombstones: d.metadata.TombstoneCount(),
			ReferenceCount:     len(d.reference.Snapshot()),
			TreeNodes:          d.tree.Len(),
			PendingBuffered:    len(d.pending),
		}
	})
	return stats
}

// State returns the document's lifecycle state.
func (d *Document) State() types.DocumentState {
	var s types.DocumentState
	d.do(func() { s = d.state })
	return s
}

// Delete transitions the document to Deleting and emits a tombstone
// operation for publication, per spec.md §4.7's state machine. The
// document becomes Tombstoned locally once the tombstone is applied
// (immediately, since apply_local is synchronous); it remains resurrectable
// by any peer that never observed the delete, by design.
func (d *Document) Delete() (*types.CRDTOperation, error) {
	d.do(func() { d.state = types.StateDeleting })
	return d.ApplyLocal(types.OperationPayload{
		Kind:        types.PayloadMetadataSet,
		MetadataSet: &types.MetadataSet{Key: deletedKey, Value: true},
	})
}

// Layers exposes the underlying layer CRDTs for read access by the query
// and persistence subsystems. Mutation must go through ApplyLocal/
// ApplyRemote/Merge so the oplog and vector clock stay consistent.
func (d *Document) Layers() (*metadata.Layer, *reference.Layer, *text.Layer, *tree.Layer) {
	return d.metadata, d.reference, d.text, d.tree
}

// Log exposes the operation log for GC and persistence.
func (d *Document) Log() *oplog.Log { return d.log }

// GC runs all four garbage collection sweeps against this document,
// gated by the currently-known peer frontier.
func (d *Document) GC() gc.Stats {
	var stats gc.Stats
	var frontier clock.VectorClock
	d.do(func() {
		frontier = d.frontierLocked()
		stats = gc.Sweep(d.log, d.metadata, d.reference, d.text, gc.Config{
			MaxOperationsInMemory: d.cfg.MaxOperationsInMemory,
			TombstoneTTL:          d.cfg.TombstoneTTL,
		}, frontier)
	})
	return stats
}
