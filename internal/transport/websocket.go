package transport

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/codexsync/codex/internal/clock"
	"github.com/codexsync/codex/internal/types"
	"github.com/codexsync/codex/internal/wire"
)

// wsConn frames wire.Message as a single binary WebSocket message per
// send/receive, letting gorilla/websocket own message boundaries
// instead of a manual length prefix.
type wsConn struct {
	conn *websocket.Conn
	peer types.UserId
	mu   sync.Mutex
}

func (c *wsConn) Send(msg wire.Message) error {
	data, err := wire.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("transport/websocket: encode: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Receive() (wire.Message, error) {
	kind, data, err := c.conn.ReadMessage()
	if err != nil {
		return wire.Message{}, err
	}
	if kind != websocket.BinaryMessage {
		return wire.Message{}, fmt.Errorf("transport/websocket: expected binary frame, got kind %d", kind)
	}
	return wire.DecodeMessage(data)
}

func (c *wsConn) Close() error { return c.conn.Close() }

func (c *wsConn) RemotePeer() types.UserId { return c.peer }

func wsHandshakeServer(conn *websocket.Conn, self types.UserId, selfClock clock.VectorClock) (*wsConn, error) {
	wc := &wsConn{conn: conn, peer: self}
	msg, err := wc.Receive()
	if err != nil {
		return nil, fmt.Errorf("transport/websocket: receive hello: %w", err)
	}
	if msg.Kind != wire.MessageHello || msg.Hello == nil {
		return nil, ErrHandshakeFailed
	}
	if err := wc.Send(wire.Message{Kind: wire.MessageHello, Hello: &wire.Hello{ReplicaID: self, ClockSummary: selfClock}}); err != nil {
		return nil, fmt.Errorf("transport/websocket: send hello: %w", err)
	}
	wc.peer = msg.Hello.ReplicaID
	return wc, nil
}

func wsHandshakeClient(conn *websocket.Conn, self types.UserId, selfClock clock.VectorClock) (*wsConn, error) {
	wc := &wsConn{conn: conn, peer: self}
	if err := wc.Send(wire.Message{Kind: wire.MessageHello, Hello: &wire.Hello{ReplicaID: self, ClockSummary: selfClock}}); err != nil {
		return nil, fmt.Errorf("transport/websocket: send hello: %w", err)
	}
	msg, err := wc.Receive()
	if err != nil {
		return nil, fmt.Errorf("transport/websocket: receive hello: %w", err)
	}
	if msg.Kind != wire.MessageHello || msg.Hello == nil {
		return nil, ErrHandshakeFailed
	}
	wc.peer = msg.Hello.ReplicaID
	return wc, nil
}

// WebSocketServer upgrades HTTP connections to WebSocket and runs the
// handshake plus read loop, the browser-facing counterpart to Listener.
type WebSocketServer struct {
	self      types.UserId
	selfClock clock.VectorClock
	upgrader  websocket.Upgrader
	dispatch  *Dispatch

	OnConnect    func(conn Conn)
	OnDisconnect func(conn Conn, err error)
}

// NewWebSocketServer returns an http.Handler-compatible server. Origin
// checking is left permissive by default; callers serving across
// origins should set CheckOrigin on the returned server's Upgrader
// field before mounting it.
func NewWebSocketServer(self types.UserId, selfClock clock.VectorClock, dispatch *Dispatch) *WebSocketServer {
	return &WebSocketServer{
		self:      self,
		selfClock: selfClock,
		dispatch:  dispatch,
		upgrader:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// ServeHTTP implements http.Handler, upgrading the request to a
// WebSocket connection and handing it off to a read loop.
func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("transport/websocket: upgrade failed: %v", err)
		return
	}
	go s.handle(conn)
}

func (s *WebSocketServer) handle(raw *websocket.Conn) {
	defer raw.Close()

	wc, err := wsHandshakeServer(raw, s.self, s.selfClock)
	if err != nil {
		log.Printf("transport/websocket: handshake failed: %v", err)
		return
	}

	if s.OnConnect != nil {
		s.OnConnect(wc)
	}

	var readErr error
	for {
		msg, err := wc.Receive()
		if err != nil {
			readErr = err
			break
		}
		s.dispatch.Fire(wc, msg)
	}

	if s.OnDisconnect != nil {
		s.OnDisconnect(wc, readErr)
	}
}

// DialWebSocket connects to a ws(s):// URL, handshakes, and drives a
// read loop into dispatch until ctx is cancelled or the connection
// errors.
func DialWebSocket(ctx context.Context, url string, self types.UserId, selfClock clock.VectorClock, dispatch *Dispatch) (Conn, error) {
	raw, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport/websocket: dial: %w", err)
	}
	wc, err := wsHandshakeClient(raw, self, selfClock)
	if err != nil {
		raw.Close()
		return nil, err
	}

	go func() {
		<-ctx.Done()
		wc.Close()
	}()

	go func() {
		for {
			msg, err := wc.Receive()
			if err != nil {
				return
			}
			dispatch.Fire(wc, msg)
		}
	}()

	return wc, nil
}
