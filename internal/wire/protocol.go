package wire

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/codexsync/codex/internal/clock"
	"github.com/codexsync/codex/internal/document"
	"github.com/codexsync/codex/internal/types"
)

// MessageKind discriminates the peer protocol messages from spec.md §6.
type MessageKind byte

const (
	MessageHello MessageKind = iota
	MessageSubscribe
	MessageUnsubscribe
	MessageOpBatch
	MessageStateRequest
	MessageStateResponse
	MessageAck
)

// Hello is the initial handshake, carrying the sender's replica id and a
// summary of its current vector clock.
type Hello struct {
	ReplicaID    types.UserId
	ClockSummary clock.VectorClock
}

// Subscribe/Unsubscribe register or drop interest in a codex's operations.
type Subscribe struct{ Codex types.CodexId }
type Unsubscribe struct{ Codex types.CodexId }

// OpBatch carries a forward-direction, unordered batch of operations.
type OpBatch struct {
	Codex      types.CodexId
	Operations []types.CRDTOperation
}

// StateRequest asks the peer for every operation strictly beyond Since,
// or a full snapshot when Since is empty.
type StateRequest struct {
	Codex types.CodexId
	Since clock.VectorClock
}

// StateResponse answers a StateRequest with either a converged snapshot
// (for rapid catch-up) or an operation batch. Exactly one is populated.
type StateResponse struct {
	Codex    types.CodexId
	Snapshot *document.Snapshot
	Ops      []types.CRDTOperation
}

// Ack advances the sender's knowledge of the receiver's frontier; it
// feeds the GC causal-stability check (internal/gc).
type Ack struct {
	Codex types.CodexId
	UpTo  clock.VectorClock
}

// Message is the envelope exchanged over a transport binding. Exactly
// one of the typed fields is populated, selected by Kind.
type Message struct {
	Kind MessageKind

	Hello         *Hello
	Subscribe     *Subscribe
	Unsubscribe   *Unsubscribe
	OpBatch       *OpBatch
	StateRequest  *StateRequest
	StateResponse *StateResponse
	Ack           *Ack
}

// EncodeMessage serializes a protocol Message into the canonical binary
// format, version-prefixed like EncodeOperation.
func EncodeMessage(m Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(Version)
	buf.WriteByte(byte(m.Kind))

	switch m.Kind {
	case MessageHello:
		if m.Hello == nil {
			return nil, fmt.Errorf("wire: Hello message missing payload")
		}
		writeString(&buf, string(m.Hello.ReplicaID))
		if err := writeVectorClock(&buf, m.Hello.ClockSummary); err != nil {
			return nil, err
		}
	case MessageSubscribe:
		if m.Subscribe == nil {
			return nil, fmt.Errorf("wire: Subscribe message missing payload")
		}
		writeCodexID(&buf, m.Subscribe.Codex)
	case MessageUnsubscribe:
		if m.Unsubscribe == nil {
			return nil, fmt.Errorf("wire: Unsubscribe message missing payload")
		}
		writeCodexID(&buf, m.Unsubscribe.Codex)
	case MessageOpBatch:
		if m.OpBatch == nil {
			return nil, fmt.Errorf("wire: OpBatch message missing payload")
		}
		writeCodexID(&buf, m.OpBatch.Codex)
		writeUint32(&buf, uint32(len(m.OpBatch.Operations)))
		for _, op := range m.OpBatch.Operations {
			encoded, err := EncodeOperation(op)
			if err != nil {
				return nil, err
			}
			writeUint32(&buf, uint32(len(encoded)))
			buf.Write(encoded)
		}
	case MessageStateRequest:
		if m.StateRequest == nil {
			return nil, fmt.Errorf("wire: StateRequest message missing payload")
		}
		writeCodexID(&buf, m.StateRequest.Codex)
		if err := writeVectorClock(&buf, m.StateRequest.Since); err != nil {
			return nil, err
		}
	case MessageStateResponse:
		if m.StateResponse == nil {
			return nil, fmt.Errorf("wire: StateResponse message missing payload")
		}
		writeCodexID(&buf, m.StateResponse.Codex)
		if m.StateResponse.Snapshot != nil {
			buf.WriteByte(1)
			if err := writeSnapshot(&buf, *m.StateResponse.Snapshot); err != nil {
				return nil, err
			}
		} else {
			buf.WriteByte(0)
			writeUint32(&buf, uint32(len(m.StateResponse.Ops)))
			for _, op := range m.StateResponse.Ops {
				encoded, err := EncodeOperation(op)
				if err != nil {
					return nil, err
				}
				writeUint32(&buf, uint32(len(encoded)))
				buf.Write(encoded)
			}
		}
	case MessageAck:
		if m.Ack == nil {
			return nil, fmt.Errorf("wire: Ack message missing payload")
		}
		writeCodexID(&buf, m.Ack.Codex)
		if err := writeVectorClock(&buf, m.Ack.UpTo); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("wire: unknown message kind %d", m.Kind)
	}

	return buf.Bytes(), nil
}

// DecodeMessage parses the canonical binary format produced by
// EncodeMessage.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return m, fmt.Errorf("wire: read version: %w", err)
	}
	if version != Version {
		return m, fmt.Errorf("wire: unsupported version %d", version)
	}
	kindByte, err := r.ReadByte()
	if err != nil {
		return m, fmt.Errorf("wire: read message kind: %w", err)
	}
	m.Kind = MessageKind(kindByte)

	switch m.Kind {
	case MessageHello:
		replicaID, err := readString(r)
		if err != nil {
			return m, err
		}
		vc, err := readVectorClock(r)
		if err != nil {
			return m, err
		}
		m.Hello = &Hello{ReplicaID: types.UserId(replicaID), ClockSummary: vc}
	case MessageSubscribe:
		codex, err := readCodexID(r)
		if err != nil {
			return m, err
		}
		m.Subscribe = &Subscribe{Codex: codex}
	case MessageUnsubscribe:
		codex, err := readCodexID(r)
		if err != nil {
			return m, err
		}
		m.Unsubscribe = &Unsubscribe{Codex: codex}
	case MessageOpBatch:
		codex, err := readCodexID(r)
		if err != nil {
			return m, err
		}
		ops, err := readOpSlice(r)
		if err != nil {
			return m, err
		}
		m.OpBatch = &OpBatch{Codex: codex, Operations: ops}
	case MessageStateRequest:
		codex, err := readCodexID(r)
		if err != nil {
			return m, err
		}
		since, err := readVectorClock(r)
		if err != nil {
			return m, err
		}
		m.StateRequest = &StateRequest{Codex: codex, Since: since}
	case MessageStateResponse:
		codex, err := readCodexID(r)
		if err != nil {
			return m, err
		}
		hasSnapshot, err := r.ReadByte()
		if err != nil {
			return m, err
		}
		resp := &StateResponse{Codex: codex}
		if hasSnapshot == 1 {
			snap, err := readSnapshot(r)
			if err != nil {
				return m, err
			}
			resp.Snapshot = &snap
		} else {
			ops, err := readOpSlice(r)
			if err != nil {
				return m, err
			}
			resp.Ops = ops
		}
		m.StateResponse = resp
	case MessageAck:
		codex, err := readCodexID(r)
		if err != nil {
			return m, err
		}
		upTo, err := readVectorClock(r)
		if err != nil {
			return m, err
		}
		m.Ack = &Ack{Codex: codex, UpTo: upTo}
	default:
		return m, fmt.Errorf("wire: unknown message kind %d", m.Kind)
	}

	return m, nil
}

func readOpSlice(r *bytes.Reader) ([]types.CRDTOperation, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	ops := make([]types.CRDTOperation, 0, n)
	for i := uint32(0); i < n; i++ {
		frameLen, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		frame := make([]byte, frameLen)
		if _, err := r.Read(frame); err != nil {
			return nil, err
		}
		op, err := DecodeOperation(frame)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func writeCodexID(buf *bytes.Buffer, id types.CodexId) {
	b := [16]byte(id)
	buf.Write(b[:])
}

func readCodexID(r *bytes.Reader) (types.CodexId, error) {
	var b [16]byte
	if _, err := r.Read(b[:]); err != nil {
		return types.CodexId{}, err
	}
	return types.CodexId(b), nil
}

// EncodeSnapshot serializes a converged document.Snapshot into the
// canonical binary format, version-prefixed so a SnapshotStore can
// detect a stale on-disk schema before decoding.
func EncodeSnapshot(s document.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(Version)
	if err := writeSnapshot(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses the canonical binary format produced by
// EncodeSnapshot. The caller is responsible for migrating data written
// under an older version before calling this.
func DecodeSnapshot(data []byte) (document.Snapshot, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return document.Snapshot{}, fmt.Errorf("wire: read version: %w", err)
	}
	if version != Version {
		return document.Snapshot{}, fmt.Errorf("wire: unsupported snapshot version %d", version)
	}
	return readSnapshot(r)
}

func writeSnapshot(buf *bytes.Buffer, s document.Snapshot) error {
	writeCodexID(buf, s.Codex)
	if err := writeVectorClock(buf, s.Clock); err != nil {
		return err
	}
	buf.WriteByte(byte(s.State))

	keys := make([]string, 0, len(s.Metadata))
	for k := range s.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		writeString(buf, k)
		if err := writeValue(buf, s.Metadata[k]); err != nil {
			return err
		}
	}

	writeUint32(buf, uint32(len(s.References)))
	for _, ref := range s.References {
		writeCodexID(buf, ref)
	}

	fieldNames := make([]string, 0, len(s.TextFields))
	for k := range s.TextFields {
		fieldNames = append(fieldNames, k)
	}
	sort.Strings(fieldNames)
	writeUint32(buf, uint32(len(fieldNames)))
	for _, name := range fieldNames {
		writeString(buf, name)
		writeString(buf, s.TextFields[name])
	}

	return nil
}

func readSnapshot(r *bytes.Reader) (document.Snapshot, error) {
	var s document.Snapshot
	codex, err := readCodexID(r)
	if err != nil {
		return s, err
	}
	s.Codex = codex

	vc, err := readVectorClock(r)
	if err != nil {
		return s, err
	}
	s.Clock = vc

	state, err := r.ReadByte()
	if err != nil {
		return s, err
	}
	s.State = types.DocumentState(state)

	metaCount, err := readUint32(r)
	if err != nil {
		return s, err
	}
	s.Metadata = make(map[string]any, metaCount)
	for i := uint32(0); i < metaCount; i++ {
		key, err := readString(r)
		if err != nil {
			return s, err
		}
		val, err := readValue(r)
		if err != nil {
			return s, err
		}
		s.Metadata[key] = val
	}

	refCount, err := readUint32(r)
	if err != nil {
		return s, err
	}
	s.References = make([]types.CodexId, 0, refCount)
	for i := uint32(0); i < refCount; i++ {
		ref, err := readCodexID(r)
		if err != nil {
			return s, err
		}
		s.References = append(s.References, ref)
	}

	fieldCount, err := readUint32(r)
	if err != nil {
		return s, err
	}
	s.TextFields = make(map[string]string, fieldCount)
	for i := uint32(0); i < fieldCount; i++ {
		name, err := readString(r)
		if err != nil {
			return s, err
		}
		val, err := readString(r)
		if err != nil {
			return s, err
		}
		s.TextFields[name] = val
	}

	return s, nil
}
