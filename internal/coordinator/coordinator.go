// Package coordinator implements the Sync Coordinator: the replica
// registry, operation fan-out, and connection lifecycle that ties
// Document CRDTs to their subscribed peers. It holds weak references to
// documents — lookup, never ownership — so a document dropped elsewhere
// is evicted here during the next cleanup sweep.
package coordinator

import (
	"sync"
	"weak"

	"github.com/codexsync/codex/internal/document"
	"github.com/codexsync/codex/internal/types"
)

// Connection is the coordinator's view of one peer link: an outbound
// queue of operations to deliver, bounded per spec.md §5's backpressure
// policy.
type Connection struct {
	ID   string
	Peer types.UserId

	mu         sync.Mutex
	subscribed map[types.CodexId]struct{}
	outbox     chan types.CRDTOperation
	overflowed bool
}

// NewConnection creates a connection with a bounded outbound queue.
func NewConnection(id string, peer types.UserId, queueSize int) *Connection {
	return &Connection{
		ID:         id,
		Peer:       peer,
		subscribed: make(map[types.CodexId]struct{}),
		outbox:     make(chan types.CRDTOperation, queueSize),
	}
}

func (c *Connection) subscribe(codex types.CodexId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed[codex] = struct{}{}
}

func (c *Connection) unsubscribe(codex types.CodexId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribed, codex)
}

func (c *Connection) isSubscribed(codex types.CodexId) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribed[codex]
	return ok
}

// Outbox exposes the connection's delivery channel to the transport
// binding responsible for actually writing bytes to the peer.
func (c *Connection) Outbox() <-chan types.CRDTOperation { return c.outbox }

// enqueue attempts a non-blocking send. On overflow it drains the queue
// and marks the connection for a state-based resync, per spec.md §4.6's
// backpressure policy: drop the queue, signal the peer to resync.
func (c *Connection) enqueue(op types.CRDTOperation) (overflowed bool) {
	select {
	case c.outbox <- op:
		return false
	default:
		c.drain()
		c.mu.Lock()
		c.overflowed = true
		c.mu.Unlock()
		return true
	}
}

func (c *Connection) drain() {
	for {
		select {
		case <-c.outbox:
		default:
			return
		}
	}
}

// TakeOverflow reports and clears whether this connection has overflowed
// since the last call, so the caller can issue exactly one resync signal.
func (c *Connection) TakeOverflow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.overflowed
	c.overflowed = false
	return v
}

// Coordinator is the Sync Coordinator.
type Coordinator struct {
	mu          sync.RWMutex
	documents   map[types.CodexId]weak.Pointer[document.Document]
	connections map[string]*Connection
	subscribers []func(types.CRDTOperation)

	// OnResyncNeeded is invoked when a connection's outbound queue
	// overflows, so the transport layer can send a StateRequest to the
	// peer for the affected CodexId.
	OnResyncNeeded func(conn *Connection, codex types.CodexId)
}

// New returns an empty Sync Coordinator.
func New() *Coordinator {
	return &Coordinator{
		documents:   make(map[types.CodexId]weak.Pointer[document.Document]),
		connections: make(map[string]*Connection),
	}
}

// RegisterDocument stores a weak reference to doc. The coordinator never
// extends the document's lifetime.
func (co *Coordinator) RegisterDocument(doc *document.Document) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.documents[doc.ID()] = weak.Make(doc)
}

// UnregisterDocument removes the entry for id, returning whether it
// existed.
func (co *Coordinator) UnregisterDocument(id types.CodexId) bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	_, ok := co.documents[id]
	delete(co.documents, id)
	return ok
}

// Lookup resolves the weak reference for id, returning nil if the
// document has since been garbage collected.
func (co *Coordinator) Lookup(id types.CodexId) *document.Document {
	co.mu.RLock()
	ref, ok := co.documents[id]
	co.mu.RUnlock()
	if !ok {
		return nil
	}
	return ref.Value()
}

// RegisterConnection opens a peer channel with a bounded outbound queue.
func (co *Coordinator) RegisterConnection(id string, peer types.UserId, queueSize int) *Connection {
	conn := NewConnection(id, peer, queueSize)
	co.mu.Lock()
	co.connections[id] = conn
	co.mu.Unlock()
	return conn
}

// UnregisterConnection removes a connection, returning whether it existed.
func (co *Coordinator) UnregisterConnection(id string) bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	_, ok := co.connections[id]
	delete(co.connections, id)
	return ok
}

// Subscribe marks connection id as interested in codex's operations.
func (co *Coordinator) Subscribe(connID string, codex types.CodexId) {
	co.mu.RLock()
	conn := co.connections[connID]
	co.mu.RUnlock()
	if conn != nil {
		conn.subscribe(codex)
	}
}

// Unsubscribe removes connection id's interest in codex.
func (co *Coordinator) Unsubscribe(connID string, codex types.CodexId) {
	co.mu.RLock()
	conn := co.connections[connID]
	co.mu.RUnlock()
	if conn != nil {
		conn.unsubscribe(codex)
	}
}

// OnApply registers fn to be called with every operation passed to
// Publish, independent of peer connection fan-out. This is the
// lifecycle-event feed external subscribers (the RAG indexer) use to
// react to converged operations without being on the network path or
// calling back into a Document's write path.
func (co *Coordinator) OnApply(fn func(types.CRDTOperation)) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.subscribers = append(co.subscribers, fn)
}

// Publish fans out op to every connection subscribed to op.Codex, then
// notifies every lifecycle subscriber. Delivery is best-effort,
// at-least-once: the receiving document's OperationId dedup makes
// redundant delivery harmless.
func (co *Coordinator) Publish(op types.CRDTOperation) {
	co.mu.RLock()
	conns := make([]*Connection, 0, len(co.connections))
	for _, c := range co.connections {
		conns = append(conns, c)
	}
	subs := make([]func(types.CRDTOperation), len(co.subscribers))
	copy(subs, co.subscribers)
	co.mu.RUnlock()

	for _, c := range conns {
		if !c.isSubscribed(op.Codex) {
			continue
		}
		if overflowed := c.enqueue(op); overflowed && co.OnResyncNeeded != nil {
			co.OnResyncNeeded(c, op.Codex)
		}
	}

	for _, sub := range subs {
		sub(op)
	}
}

// Cleanup walks the document registry, evicting entries whose weak
// reference no longer resolves, and returns how many were dropped.
func (co *Coordinator) Cleanup() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	dropped := 0
	for id, ref := range co.documents {
		if ref.Value() == nil {
			delete(co.documents, id)
			dropped++
		}
	}
	return dropped
}

// ConnectionCount returns the number of registered connections.
func (co *Coordinator) ConnectionCount() int {
	co.mu.RLock()
	defer co.mu.RUnlock()
	return len(co.connections)
}

// DocumentCount returns the number of registered (possibly stale) weak
// document references.
func (co *Coordinator) DocumentCount() int {
	co.mu.RLock()
	defer co.mu.RUnlock()
	return len(co.documents)
}
