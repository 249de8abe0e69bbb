// Package wire implements the self-describing binary encoding for
// CRDTOperation and the peer protocol messages exchanged between
// replicas (spec.md §6). The encoding is bit-exact across replicas:
// fixed-width integers in big-endian order, length-prefixed strings and
// collections, and a leading version byte so a future revision can
// extend the format without breaking older readers.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/codexsync/codex/internal/clock"
	"github.com/codexsync/codex/internal/types"
)

// Version is the current wire format version, written as the first byte
// of every encoded operation and persisted snapshot.
const Version byte = 1

// valueKind discriminates the dynamic MetadataSet.Value on the wire.
// spec.md treats field content semantics as a non-goal, but the wire
// format still needs a closed encoding for whatever a caller stores, so
// this is restricted to the handful of primitive kinds a metadata field
// realistically holds.
type valueKind byte

const (
	valueNil valueKind = iota
	valueBool
	valueInt64
	valueFloat64
	valueString
)

// EncodeOperation serializes op into the canonical binary format.
func EncodeOperation(op types.CRDTOperation) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(Version)

	idBytes := [16]byte(op.ID)
	buf.Write(idBytes[:])
	codexBytes := [16]byte(op.Codex)
	buf.Write(codexBytes[:])

	writeString(&buf, string(op.Author))
	writeInt64(&buf, op.Timestamp.UnixNano())

	if err := writeVectorClock(&buf, op.Clock); err != nil {
		return nil, err
	}

	buf.WriteByte(byte(op.Layer))
	buf.WriteByte(byte(op.Payload.Kind))
	if err := writePayload(&buf, op.Payload); err != nil {
		return nil, fmt.Errorf("wire: encode payload: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeOperation parses the canonical binary format produced by
// EncodeOperation.
func DecodeOperation(data []byte) (types.CRDTOperation, error) {
	var op types.CRDTOperation
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return op, fmt.Errorf("wire: read version: %w", err)
	}
	if version != Version {
		return op, fmt.Errorf("wire: unsupported version %d", version)
	}

	var id, codex [16]byte
	if _, err := r.Read(id[:]); err != nil {
		return op, fmt.Errorf("wire: read operation id: %w", err)
	}
	if _, err := r.Read(codex[:]); err != nil {
		return op, fmt.Errorf("wire: read codex id: %w", err)
	}
	op.ID = types.OperationId(id)
	op.Codex = types.CodexId(codex)

	author, err := readString(r)
	if err != nil {
		return op, fmt.Errorf("wire: read author: %w", err)
	}
	op.Author = types.UserId(author)

	nanos, err := readInt64(r)
	if err != nil {
		return op, fmt.Errorf("wire: read timestamp: %w", err)
	}
	op.Timestamp = time.Unix(0, nanos).UTC()

	vc, err := readVectorClock(r)
	if err != nil {
		return op, fmt.Errorf("wire: read vector clock: %w", err)
	}
	op.Clock = vc

	layer, err := r.ReadByte()
	if err != nil {
		return op, fmt.Errorf("wire: read layer: %w", err)
	}
	op.Layer = types.LayerTag(layer)

	kind, err := r.ReadByte()
	if err != nil {
		return op, fmt.Errorf("wire: read payload kind: %w", err)
	}
	op.Payload, err = readPayload(r, types.PayloadKind(kind))
	if err != nil {
		return op, fmt.Errorf("wire: read payload: %w", err)
	}

	return op, nil
}

func writeVectorClock(buf *bytes.Buffer, vc clock.VectorClock) error {
	authors := make([]string, 0, len(vc))
	for a := range vc {
		authors = append(authors, a)
	}
	sort.Strings(authors)

	writeUint32(buf, uint32(len(authors)))
	for _, a := range authors {
		writeString(buf, a)
		writeInt64(buf, vc[a])
	}
	return nil
}

func readVectorClock(r *bytes.Reader) (clock.VectorClock, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	vc := clock.NewVectorClock()
	for i := uint32(0); i < n; i++ {
		author, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		vc[author] = v
	}
	return vc, nil
}

func writePayload(buf *bytes.Buffer, p types.OperationPayload) error {
	switch p.Kind {
	case types.PayloadTextInsert:
		writeString(buf, p.TextInsert.Field)
		writeUint64(buf, p.TextInsert.Pos)
		writeString(buf, p.TextInsert.Content)
		writeUint32(buf, uint32(len(p.TextInsert.Positions)))
		for _, pos := range p.TextInsert.Positions {
			writeFloat64(buf, pos)
		}
	case types.PayloadTextDelete:
		writeString(buf, p.TextDelete.Field)
		writeUint64(buf, p.TextDelete.Pos)
		writeUint64(buf, p.TextDelete.Len)
	case types.PayloadTextFormat:
		writeString(buf, p.TextFormat.Field)
		writeUint64(buf, p.TextFormat.Start)
		writeUint64(buf, p.TextFormat.End)
		writeString(buf, p.TextFormat.Attr)
	case types.PayloadTreeMove:
		writeString(buf, p.TreeMove.Node)
		writeString(buf, p.TreeMove.NewParent)
		writeString(buf, p.TreeMove.Position)
		writeString(buf, p.TreeMove.PrevParent)
		writeString(buf, p.TreeMove.PrevPos)
		writeBool(buf, p.TreeMove.HadPrevParent)
	case types.PayloadMetadataSet:
		writeString(buf, p.MetadataSet.Key)
		return writeValue(buf, p.MetadataSet.Value)
	case types.PayloadReferenceAdd:
		refBytes := [16]byte(p.ReferenceAdd.Ref)
		buf.Write(refBytes[:])
		tagBytes := [16]byte(p.ReferenceAdd.Tag)
		buf.Write(tagBytes[:])
	case types.PayloadReferenceRemove:
		refBytes := [16]byte(p.ReferenceRemove.Ref)
		buf.Write(refBytes[:])
		writeUint32(buf, uint32(len(p.ReferenceRemove.ObservedTags)))
		for _, tag := range p.ReferenceRemove.ObservedTags {
			tagBytes := [16]byte(tag)
			buf.Write(tagBytes[:])
		}
	default:
		return fmt.Errorf("unknown payload kind %d", p.Kind)
	}
	return nil
}

func readPayload(r *bytes.Reader, kind types.PayloadKind) (types.OperationPayload, error) {
	p := types.OperationPayload{Kind: kind}
	switch kind {
	case types.PayloadTextInsert:
		field, err := readString(r)
		if err != nil {
			return p, err
		}
		pos, err := readUint64(r)
		if err != nil {
			return p, err
		}
		content, err := readString(r)
		if err != nil {
			return p, err
		}
		n, err := readUint32(r)
		if err != nil {
			return p, err
		}
		positions := make([]float64, n)
		for i := range positions {
			positions[i], err = readFloat64(r)
			if err != nil {
				return p, err
			}
		}
		p.TextInsert = &types.TextInsert{Field: field, Pos: pos, Content: content, Positions: positions}
	case types.PayloadTextDelete:
		field, err := readString(r)
		if err != nil {
			return p, err
		}
		pos, err := readUint64(r)
		if err != nil {
			return p, err
		}
		length, err := readUint64(r)
		if err != nil {
			return p, err
		}
		p.TextDelete = &types.TextDelete{Field: field, Pos: pos, Len: length}
	case types.PayloadTextFormat:
		field, err := readString(r)
		if err != nil {
			return p, err
		}
		start, err := readUint64(r)
		if err != nil {
			return p, err
		}
		end, err := readUint64(r)
		if err != nil {
			return p, err
		}
		attr, err := readString(r)
		if err != nil {
			return p, err
		}
		p.TextFormat = &types.TextFormat{Field: field, Start: start, End: end, Attr: attr}
	case types.PayloadTreeMove:
		node, err := readString(r)
		if err != nil {
			return p, err
		}
		newParent, err := readString(r)
		if err != nil {
			return p, err
		}
		position, err := readString(r)
		if err != nil {
			return p, err
		}
		prevParent, err := readString(r)
		if err != nil {
			return p, err
		}
		prevPos, err := readString(r)
		if err != nil {
			return p, err
		}
		hadPrev, err := readBool(r)
		if err != nil {
			return p, err
		}
		p.TreeMove = &types.TreeMove{Node: node, NewParent: newParent, Position: position, PrevParent: prevParent, PrevPos: prevPos, HadPrevParent: hadPrev}
	case types.PayloadMetadataSet:
		key, err := readString(r)
		if err != nil {
			return p, err
		}
		value, err := readValue(r)
		if err != nil {
			return p, err
		}
		p.MetadataSet = &types.MetadataSet{Key: key, Value: value}
	case types.PayloadReferenceAdd:
		var ref, tag [16]byte
		if _, err := r.Read(ref[:]); err != nil {
			return p, err
		}
		if _, err := r.Read(tag[:]); err != nil {
			return p, err
		}
		p.ReferenceAdd = &types.ReferenceAdd{Ref: types.CodexId(ref), Tag: types.OperationId(tag)}
	case types.PayloadReferenceRemove:
		var ref [16]byte
		if _, err := r.Read(ref[:]); err != nil {
			return p, err
		}
		n, err := readUint32(r)
		if err != nil {
			return p, err
		}
		tags := make([]types.OperationId, 0, n)
		for i := uint32(0); i < n; i++ {
			var tag [16]byte
			if _, err := r.Read(tag[:]); err != nil {
				return p, err
			}
			tags = append(tags, types.OperationId(tag))
		}
		p.ReferenceRemove = &types.ReferenceRemove{Ref: types.CodexId(ref), ObservedTags: tags}
	default:
		return p, fmt.Errorf("unknown payload kind %d", kind)
	}
	return p, nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteByte(byte(valueNil))
	case bool:
		buf.WriteByte(byte(valueBool))
		if val {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case int64:
		buf.WriteByte(byte(valueInt64))
		writeInt64(buf, val)
	case int:
		buf.WriteByte(byte(valueInt64))
		writeInt64(buf, int64(val))
	case float64:
		buf.WriteByte(byte(valueFloat64))
		bits := make([]byte, 8)
		binary.BigEndian.PutUint64(bits, math.Float64bits(val))
		buf.Write(bits)
	case string:
		buf.WriteByte(byte(valueString))
		writeString(buf, val)
	default:
		return fmt.Errorf("unsupported metadata value type %T", v)
	}
	return nil
}

func readValue(r *bytes.Reader) (any, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch valueKind(kindByte) {
	case valueNil:
		return nil, nil
	case valueBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case valueInt64:
		return readInt64(r)
	case valueFloat64:
		bits := make([]byte, 8)
		if _, err := r.Read(bits); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(bits)), nil
	case valueString:
		return readString(r)
	default:
		return nil, fmt.Errorf("unknown value kind %d", kindByte)
	}
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	buf.Write(b)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	b := make([]byte, 4)
	if _, err := r.Read(b); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	buf.Write(b)
}

func readUint64(r *bytes.Reader) (uint64, error) {
	b := make([]byte, 8)
	if _, err := r.Read(b); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}

func readInt64(r *bytes.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func writeFloat64(buf *bytes.Buffer, v float64) {
	writeUint64(buf, math.Float64bits(v))
}

func readFloat64(r *bytes.Reader) (float64, error) {
	v, err := readUint64(r)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}
