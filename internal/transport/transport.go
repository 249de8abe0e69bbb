// Package transport provides concrete bindings that carry the wire
// protocol (internal/wire) between replicas. spec.md treats transport
// choice as a non-goal; this package supplies reference bindings so the
// protocol can be exercised end to end: a length-prefixed binary framing
// over net.Conn, and a WebSocket framing for browser-facing sync
// clients.
package transport

import (
	"fmt"

	"github.com/codexsync/codex/internal/types"
	"github.com/codexsync/codex/internal/wire"
)

// Conn is a single framed connection to a peer, carrying wire.Message
// values in both directions. Implementations are safe for concurrent
// Send calls from multiple goroutines; Receive is called from a single
// reader loop per connection.
type Conn interface {
	Send(msg wire.Message) error
	Receive() (wire.Message, error)
	Close() error
	RemotePeer() types.UserId
}

// Handler processes one inbound message from a connected peer.
type Handler func(conn Conn, msg wire.Message)

// Dispatch runs handler for msg.Kind if registered, matching the
// teacher's MessageType-keyed handler table in internal/network.
type Dispatch struct {
	handlers map[wire.MessageKind][]Handler
}

// NewDispatch returns an empty handler table.
func NewDispatch() *Dispatch {
	return &Dispatch{handlers: make(map[wire.MessageKind][]Handler)}
}

// On registers handler to run for every message of kind.
func (d *Dispatch) On(kind wire.MessageKind, handler Handler) {
	d.handlers[kind] = append(d.handlers[kind], handler)
}

// Fire invokes every handler registered for msg.Kind.
func (d *Dispatch) Fire(conn Conn, msg wire.Message) {
	for _, h := range d.handlers[msg.Kind] {
		h(conn, msg)
	}
}

// ErrHandshakeFailed is returned when a peer's handshake frame is
// malformed or carries an unexpected message kind.
var ErrHandshakeFailed = fmt.Errorf("transport: handshake failed")
