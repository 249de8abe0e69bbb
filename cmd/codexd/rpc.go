package main

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codexsync/codex/internal/transport"
	"github.com/codexsync/codex/internal/types"
	"github.com/codexsync/codex/internal/wire"
	"github.com/codexsync/codex/pkg/codex"
)

// server ties an Engine to a set of live peer connections, translating
// inbound wire.Message values into Engine/Codex calls and replicated
// operations back into outbound wire.Message frames.
type server struct {
	engine  *codex.Engine
	connIDs map[transport.Conn]string
}

func newServer(engine *codex.Engine) *server {
	return &server{engine: engine, connIDs: make(map[transport.Conn]string)}
}

func (s *server) dispatch() *transport.Dispatch {
	d := transport.NewDispatch()
	d.On(wire.MessageSubscribe, s.handleSubscribe)
	d.On(wire.MessageUnsubscribe, s.handleUnsubscribe)
	d.On(wire.MessageOpBatch, s.handleOpBatch)
	d.On(wire.MessageStateRequest, s.handleStateRequest)
	d.On(wire.MessageAck, s.handleAck)
	return d
}

func (s *server) onConnect(conn transport.Conn) {
	id := uuid.NewString()
	s.connIDs[conn] = id
	peerConn := s.engine.Coordinator().RegisterConnection(id, conn.RemotePeer(), 256)

	go func() {
		for op := range peerConn.Outbox() {
			if err := conn.Send(wire.Message{
				Kind: wire.MessageOpBatch,
				OpBatch: &wire.OpBatch{
					Codex:      op.Codex,
					Operations: []types.CRDTOperation{op},
				},
			}); err != nil {
				log.Printf("codexd: send to %s failed: %v", conn.RemotePeer(), err)
				return
			}
		}
	}()
}

func (s *server) onDisconnect(conn transport.Conn, err error) {
	if id, ok := s.connIDs[conn]; ok {
		s.engine.Coordinator().UnregisterConnection(id)
		delete(s.connIDs, conn)
	}
}

func (s *server) handleSubscribe(conn transport.Conn, msg wire.Message) {
	if msg.Subscribe == nil {
		return
	}
	if id, ok := s.connIDs[conn]; ok {
		s.engine.Coordinator().Subscribe(id, msg.Subscribe.Codex)
	}
}

func (s *server) handleUnsubscribe(conn transport.Conn, msg wire.Message) {
	if msg.Unsubscribe == nil {
		return
	}
	if id, ok := s.connIDs[conn]; ok {
		s.engine.Coordinator().Unsubscribe(id, msg.Unsubscribe.Codex)
	}
}

func (s *server) handleOpBatch(conn transport.Conn, msg wire.Message) {
	if msg.OpBatch == nil {
		return
	}
	c, err := s.engine.Open(msg.OpBatch.Codex)
	if err != nil {
		log.Printf("codexd: open %s for remote batch: %v", msg.OpBatch.Codex, err)
		return
	}
	for _, op := range msg.OpBatch.Operations {
		if _, err := c.ApplyRemote(op); err != nil {
			log.Printf("codexd: apply remote op %s: %v", op.ID, err)
		}
	}
}

func (s *server) handleStateRequest(conn transport.Conn, msg wire.Message) {
	if msg.StateRequest == nil {
		return
	}
	c, err := s.engine.Open(msg.StateRequest.Codex)
	if err != nil {
		log.Printf("codexd: open %s for state request: %v", msg.StateRequest.Codex, err)
		return
	}
	snap := c.Snapshot()
	if err := conn.Send(wire.Message{
		Kind: wire.MessageStateResponse,
		StateResponse: &wire.StateResponse{
			Codex:    msg.StateRequest.Codex,
			Snapshot: &snap,
		},
	}); err != nil {
		log.Printf("codexd: send state response to %s: %v", conn.RemotePeer(), err)
	}
}

func (s *server) handleAck(conn transport.Conn, msg wire.Message) {
	if msg.Ack == nil {
		return
	}
	c, err := s.engine.Open(msg.Ack.Codex)
	if err != nil {
		return
	}
	c.RecordAck(conn.RemotePeer(), msg.Ack.UpTo)
}

// metricsHandler serves Prometheus metrics for the HTTP listener.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
