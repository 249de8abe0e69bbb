// Package types holds the wire-level data model shared by every layer of
// the Codex CRDT engine: identifiers, the operation envelope and its
// payload variants, and the apply-outcome and document-state enums. The
// protocol messages exchanged between replicas live in internal/wire.
package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/codexsync/codex/internal/clock"
)

// CodexId uniquely identifies a Codex document across all replicas.
type CodexId uuid.UUID

// String returns the canonical textual form of the id.
func (c CodexId) String() string { return uuid.UUID(c).String() }

// NewCodexId generates a fresh random CodexId.
func NewCodexId() CodexId { return CodexId(uuid.New()) }

// ParseCodexId parses a textual CodexId.
func ParseCodexId(s string) (CodexId, error) {
	u, err := uuid.Parse(s)
	return CodexId(u), err
}

// UserId identifies a replica. It must stay stable across sessions for the
// same replica so that vector clock entries remain meaningful.
type UserId string

// OperationId uniquely identifies a CRDTOperation. Ties in (timestamp,
// OperationId) ordering are broken by the byte-lexicographic order of this
// value, so it must be globally unique.
type OperationId uuid.UUID

// String returns the canonical textual form of the id.
func (o OperationId) String() string { return uuid.UUID(o).String() }

// NewOperationId generates a fresh random OperationId.
func NewOperationId() OperationId { return OperationId(uuid.New()) }

// Less reports whether o sorts before other in the canonical byte-lex order
// used to break (timestamp, OperationId) ties.
func (o OperationId) Less(other OperationId) bool {
	for i := range o {
		if o[i] != other[i] {
			return o[i] < other[i]
		}
	}
	return false
}

// LayerTag identifies which layer a CRDTOperation targets.
type LayerTag byte

const (
	LayerText LayerTag = iota
	LayerTree
	LayerMetadata
	LayerReference
)

func (l LayerTag) String() string {
	switch l {
	case LayerText:
		return "text"
	case LayerTree:
		return "tree"
	case LayerMetadata:
		return "metadata"
	case LayerReference:
		return "reference"
	default:
		return "unknown"
	}
}

// PayloadKind discriminates the closed set of CRDTOperation payload
// variants. An explicit tag plus one populated field per kind avoids
// reflection-based dynamic typing (see SPEC_FULL.md §3).
type PayloadKind byte

const (
	PayloadTextInsert PayloadKind = iota
	PayloadTextDelete
	PayloadTextFormat
	PayloadTreeMove
	PayloadMetadataSet
	PayloadReferenceAdd
	PayloadReferenceRemove
)

// TextInsert inserts content at pos within field. Positions carries one
// fractional index per rune of Content, allocated once by the originating
// replica at apply_local time; every replica places the characters at
// those carried values instead of re-deriving them from whatever else it
// has visible locally, which is what makes concurrent inserts at the same
// Pos converge.
type TextInsert struct {
	Field     string
	Pos       uint64
	Content   string
	Positions []float64
}

// TextDelete removes Len runes starting at Pos within Field.
type TextDelete struct {
	Field string
	Pos   uint64
	Len   uint64
}

// TextFormat applies Attr to [Start,End) within Field.
type TextFormat struct {
	Field string
	Start uint64
	End   uint64
	Attr  string
}

// TreeMove reparents Node under NewParent at Position. PrevParent/PrevPos
// record Node's pre-move location, stamped by the originating replica, so
// that if this move is later found to have lost a cycle conflict against
// a causally-earlier move of a different node, it can be rolled back to
// exactly where it was before.
type TreeMove struct {
	Node       string
	NewParent  string
	Position   string
	PrevParent string
	PrevPos    string
	// HadPrevParent is false when Node had never been placed in the tree
	// before this move, so PrevParent/PrevPos are meaningless rather than
	// an empty-string placement at the root.
	HadPrevParent bool
}

// MetadataSet assigns Value to Key under last-writer-wins semantics.
type MetadataSet struct {
	Key   string
	Value any
}

// ReferenceAdd adds Ref to the reference set under Tag (an OperationId
// minted for this add, per the OR-Set algorithm).
type ReferenceAdd struct {
	Ref CodexId
	Tag OperationId
}

// ReferenceRemove removes every add-tag the remover had observed for Ref.
type ReferenceRemove struct {
	Ref          CodexId
	ObservedTags []OperationId
}

// OperationPayload is the closed tagged union for CRDTOperation payloads.
// Exactly one of the typed fields is populated, selected by Kind.
type OperationPayload struct {
	Kind PayloadKind

	TextInsert      *TextInsert
	TextDelete      *TextDelete
	TextFormat      *TextFormat
	TreeMove        *TreeMove
	MetadataSet     *MetadataSet
	ReferenceAdd    *ReferenceAdd
	ReferenceRemove *ReferenceRemove
}

// CRDTOperation is an immutable, fully-stamped change to a Codex document.
// Once constructed it is never mutated; replicas exchange and replay it
// verbatim.
type CRDTOperation struct {
	ID        OperationId
	Codex     CodexId
	Author    UserId
	Timestamp time.Time
	Clock     clock.VectorClock
	Layer     LayerTag
	Payload   OperationPayload
}

// ApplyOutcome is the result of routing a remote operation through
// Document.ApplyRemote.
type ApplyOutcome int

const (
	Applied ApplyOutcome = iota
	Duplicate
	Buffered
)

func (o ApplyOutcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Buffered:
		return "buffered"
	default:
		return "unknown"
	}
}

// DocumentState is the Document lifecycle state machine from spec.md §4.7.
type DocumentState int

const (
	StateLive DocumentState = iota
	StateDeleting
	StateTombstoned
)

func (s DocumentState) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateDeleting:
		return "deleting"
	case StateTombstoned:
		return "tombstoned"
	default:
		return "unknown"
	}
}
