package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/codexsync/codex/internal/clock"
	"github.com/codexsync/codex/internal/types"
	"github.com/codexsync/codex/internal/wire"
)

// maxFrameSize bounds a single inbound frame, guarding against a
// corrupt or hostile length prefix forcing an unbounded allocation.
const maxFrameSize = 64 << 20

// tcpConn is a length-prefixed binary framing of wire.Message over a
// net.Conn: a uint32 big-endian length followed by that many bytes of
// wire.EncodeMessage output. This replaces the teacher's
// newline-delimited JSON framing with the canonical bit-exact encoding
// spec.md requires for authoritative replication.
type tcpConn struct {
	conn   net.Conn
	peer   types.UserId
	mu     sync.Mutex
	closed bool
}

func (c *tcpConn) Send(msg wire.Message) error {
	data, err := wire.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("transport/tcp: encode: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("transport/tcp: write length: %w", err)
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("transport/tcp: write frame: %w", err)
	}
	return nil
}

func (c *tcpConn) Receive() (wire.Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
		return wire.Message{}, err
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen > maxFrameSize {
		return wire.Message{}, fmt.Errorf("transport/tcp: frame of %d bytes exceeds limit", frameLen)
	}
	data := make([]byte, frameLen)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return wire.Message{}, err
	}
	return wire.DecodeMessage(data)
}

func (c *tcpConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *tcpConn) RemotePeer() types.UserId { return c.peer }

// handshake exchanges Hello frames, adapted from the teacher's
// "KNIRV:<peerID>\n" exchange in internal/network/network_manager.go,
// generalized to a typed wire.Hello carrying the local vector clock
// summary instead of a bare peer id string.
func handshake(conn net.Conn, self types.UserId, selfClock clock.VectorClock) (*tcpConn, error) {
	tc := &tcpConn{conn: conn, peer: self}

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- tc.Send(wire.Message{Kind: wire.MessageHello, Hello: &wire.Hello{
			ReplicaID:    self,
			ClockSummary: selfClock,
		}})
	}()

	msg, err := tc.Receive()
	if err != nil {
		return nil, fmt.Errorf("transport/tcp: receive hello: %w", err)
	}
	if err := <-sendErr; err != nil {
		return nil, fmt.Errorf("transport/tcp: send hello: %w", err)
	}
	if msg.Kind != wire.MessageHello || msg.Hello == nil {
		return nil, ErrHandshakeFailed
	}

	tc.peer = msg.Hello.ReplicaID
	return tc, nil
}

// Listener accepts inbound TCP connections and runs the handshake plus
// a per-connection read loop, adapted from
// NetworkManager.acceptConnections/handleConnection.
type Listener struct {
	self      types.UserId
	selfClock clock.VectorClock
	ln        net.Listener
	dispatch  *Dispatch

	OnConnect    func(conn Conn)
	OnDisconnect func(conn Conn, err error)
}

// ListenTCP starts a TCP listener bound to addr (":0" for an ephemeral
// port) serving the given dispatch table.
func ListenTCP(addr string, self types.UserId, selfClock clock.VectorClock, dispatch *Dispatch) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport/tcp: listen: %w", err)
	}
	return &Listener{self: self, selfClock: selfClock, ln: ln, dispatch: dispatch}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each connection is handled in its own goroutine.
func (l *Listener) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("transport/tcp: accept error: %v", err)
			continue
		}
		go l.handle(conn)
	}
}

func (l *Listener) handle(raw net.Conn) {
	defer raw.Close()

	tc, err := handshake(raw, l.self, l.selfClock)
	if err != nil {
		log.Printf("transport/tcp: handshake failed from %s: %v", raw.RemoteAddr(), err)
		return
	}

	if l.OnConnect != nil {
		l.OnConnect(tc)
	}

	var readErr error
	for {
		msg, err := tc.Receive()
		if err != nil {
			readErr = err
			break
		}
		l.dispatch.Fire(tc, msg)
	}

	if l.OnDisconnect != nil {
		l.OnDisconnect(tc, readErr)
	}
}

// Close stops the listener.
func (l *Listener) Close() error { return l.ln.Close() }

// Dial connects to a peer at addr and performs the handshake, adapted
// from NetworkManager.connectToPeer. The returned Conn's read loop must
// be driven by the caller via repeated Receive calls (or DialAndServe).
func Dial(addr string, self types.UserId, selfClock clock.VectorClock) (Conn, error) {
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport/tcp: dial: %w", err)
	}
	tc, err := handshake(raw, self, selfClock)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return tc, nil
}

// DialAndServe connects, handshakes, and then runs a read loop feeding
// dispatch until the connection errors or ctx is cancelled.
func DialAndServe(ctx context.Context, addr string, self types.UserId, selfClock clock.VectorClock, dispatch *Dispatch) (Conn, error) {
	conn, err := Dial(addr, self, selfClock)
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		for {
			msg, err := conn.Receive()
			if err != nil {
				return
			}
			dispatch.Fire(conn, msg)
		}
	}()

	return conn, nil
}
