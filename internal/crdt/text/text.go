// Package text implements the text layer of a Codex document: a
// fractional-index character sequence CRDT per named field, in the style
// of an RGA. Each character carries a float64 position assigned between
// its neighbors. That position is allocated once, by AllocatePositions,
// when the originating replica applies the insert locally, and travels
// with the operation from then on: every replica places the character at
// the carried position rather than deriving its own, which is what makes
// concurrent inserts at the same spot interleave identically everywhere.
package text

import (
	"sort"
	"sync"

	"github.com/codexsync/codex/internal/types"
)

// character is one rune in a field, tombstoned rather than removed so a
// concurrent operation that addressed it by position can still locate it.
type character struct {
	id      types.OperationId
	seq     int // disambiguates characters inserted at an identical position
	r       rune
	pos     float64
	deleted bool
	attrs   map[string]bool
}

// field is the character sequence backing one named text field.
type field struct {
	chars []character
	seq   int
}

// Layer is the text CRDT for a document, holding one field per name.
type Layer struct {
	mu     sync.RWMutex
	fields map[string]*field
}

// New returns an empty text layer.
func New() *Layer {
	return &Layer{fields: make(map[string]*field)}
}

func (l *Layer) fieldFor(name string) *field {
	f, ok := l.fields[name]
	if !ok {
		f = &field{}
		l.fields[name] = f
	}
	return f
}

// AllocatePositions computes the fractional positions an insert of content
// at pos within field would occupy, without mutating the layer. Call this
// once, at the replica originating the insert, and carry the result in
// the TextInsert payload; Insert then places by those positions on every
// replica instead of recomputing them from whatever is locally visible.
func (l *Layer) AllocatePositions(fieldName string, pos uint64, content string) []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.fieldFor(fieldName)
	before, after := l.insertPositionsLocked(f, pos)
	runes := []rune(content)
	step := (after - before) / float64(len(runes)+1)

	out := make([]float64, len(runes))
	for i := range runes {
		out[i] = before + step*float64(i+1)
	}
	return out
}

// Insert applies a TextInsert operation to the layer, placing each rune
// of Content at its corresponding entry in Positions.
func (l *Layer) Insert(op *types.CRDTOperation, payload *types.TextInsert) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.fieldFor(payload.Field)
	for i, r := range []rune(payload.Content) {
		f.seq++
		f.chars = append(f.chars, character{
			id:  op.ID,
			seq: f.seq,
			r:   r,
			pos: payload.Positions[i],
		})
	}
	sort.Slice(f.chars, func(i, j int) bool { return lessChar(f.chars[i], f.chars[j]) })
}

func (l *Layer) insertPositionsLocked(f *field, pos uint64) (before, after float64) {
	visible := f.visible()
	switch {
	case len(visible) == 0:
		return 0, 1
	case pos == 0:
		return visible[0].pos - 1, visible[0].pos
	case int(pos) >= len(visible):
		return visible[len(visible)-1].pos, visible[len(visible)-1].pos + 1
	default:
		return visible[pos-1].pos, visible[pos].pos
	}
}

func lessChar(a, b character) bool {
	if a.pos != b.pos {
		return a.pos < b.pos
	}
	return a.id.Less(b.id)
}

// Delete applies a TextDelete operation, tombstoning the addressed range
// of the *current local* visible sequence. Position is resolved against
// the field's visible characters at apply time.
func (l *Layer) Delete(op *types.CRDTOperation, payload *types.TextDelete) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.fields[payload.Field]
	if f == nil {
		return
	}
	visible := f.visibleIdx()
	end := payload.Pos + payload.Len
	if end > uint64(len(visible)) {
		end = uint64(len(visible))
	}
	for i := payload.Pos; i < end; i++ {
		f.chars[visible[i]].deleted = true
	}
}

// Format applies a TextFormat operation, tagging the addressed range of
// visible characters with the given attribute.
func (l *Layer) Format(op *types.CRDTOperation, payload *types.TextFormat) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.fields[payload.Field]
	if f == nil {
		return
	}
	visible := f.visibleIdx()
	end := payload.End
	if end > uint64(len(visible)) {
		end = uint64(len(visible))
	}
	for i := payload.Start; i < end; i++ {
		c := &f.chars[visible[i]]
		if c.attrs == nil {
			c.attrs = make(map[string]bool)
		}
		c.attrs[payload.Attr] = true
	}
}

func (f *field) visible() []character {
	out := make([]character, 0, len(f.chars))
	for _, c := range f.chars {
		if !c.deleted {
			out = append(out, c)
		}
	}
	return out
}

// visibleIdx returns the indices into f.chars of the non-deleted
// characters, in display order.
func (f *field) visibleIdx() []int {
	out := make([]int, 0, len(f.chars))
	for i, c := range f.chars {
		if !c.deleted {
			out = append(out, i)
		}
	}
	return out
}

// Fields returns the names of every field that has ever been written.
func (l *Layer) Fields() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.fields))
	for name := range l.fields {
		out = append(out, name)
	}
	return out
}

// Value returns the current text content of a field.
func (l *Layer) Value(fieldName string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f := l.fields[fieldName]
	if f == nil {
		return ""
	}
	runes := make([]rune, 0, len(f.chars))
	for _, c := range f.chars {
		if !c.deleted {
			runes = append(runes, c.r)
		}
	}
	return string(runes)
}

// Len returns the number of visible characters in a field.
func (l *Layer) Len(fieldName string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f := l.fields[fieldName]
	if f == nil {
		return 0
	}
	return len(f.visibleIdx())
}

// GCStableBefore compacts tombstoned characters out of every field. Safe
// once the deleting operation is causally stable: no concurrent operation
// can still address the deleted character by position.
func (l *Layer) GCStableBefore() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, f := range l.fields {
		kept := f.chars[:0]
		for _, c := range f.chars {
			if c.deleted {
				n++
				continue
			}
			kept = append(kept, c)
		}
		f.chars = kept
	}
	return n
}
