// Package tree implements the tree layer of a Codex document: a
// move-capable tree CRDT where each node's parent and position are
// resolved by last-writer-wins on (timestamp, OperationId), with explicit
// cycle prevention and deterministic revert-on-merge for moves that would
// otherwise orphan a subtree.
package tree

import (
	"sync"
	"time"

	"github.com/codexsync/codex/internal/types"
)

// nodeState is the current placement of one tree node. prevParent/prevPos
// (meaningful only when hadPrev is true) record where the node was placed
// immediately before this move, so the move can be undone if it is later
// found to have lost a cycle conflict against a causally-earlier move.
type nodeState struct {
	parent     string
	position   string
	timestamp  time.Time
	opID       types.OperationId
	prevParent string
	prevPos    string
	hadPrev    bool
}

func (n nodeState) wins(ts time.Time, id types.OperationId) bool {
	if ts.After(n.timestamp) {
		return true
	}
	if ts.Before(n.timestamp) {
		return false
	}
	return n.opID.Less(id)
}

// Layer is the tree CRDT for a document.
type Layer struct {
	mu    sync.RWMutex
	nodes map[string]nodeState
}

// New returns an empty tree layer. No root node is created; a node is
// placed only by a Move.
func New() *Layer {
	return &Layer{nodes: make(map[string]nodeState)}
}

// WouldCycle reports whether moving node under newParent would make node
// its own ancestor. Callers use this to reject a local intent before it is
// ever stamped into a CRDTOperation, per the Document CRDT's apply_local
// precondition check.
func (l *Layer) WouldCycle(node, newParent string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if node == newParent {
		return true
	}
	_, ok := l.findCycleClosureLocked(newParent, node)
	return ok
}

// Move applies a TreeMove operation. It is rejected without mutating state
// if NewParent is Node itself, or if it loses the (timestamp, OperationId)
// race against a more recent move of the same node. A remote op that loses
// here is still recorded by the caller's operation log so every replica
// eventually agrees, even though it never becomes visible.
//
// A move whose NewParent is currently a descendant of Node would create a
// cycle; rather than rejecting it unconditionally (which makes the result
// depend on delivery order), Move compares it against the move that placed
// the conflicting ancestor. If this move is the older of the two, the
// ancestor's move is reverted to its PrevParent/PrevPos and this move is
// admitted in its place; otherwise this move is the one rejected. Either
// way, every replica converges on the same winner regardless of which
// order the two moves arrive in.
func (l *Layer) Move(op *types.CRDTOperation, payload *types.TreeMove) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if payload.NewParent == payload.Node {
		return false
	}

	cur, exists := l.nodes[payload.Node]
	if exists && !cur.wins(op.Timestamp, op.ID) {
		return false
	}

	if closing, ok := l.findCycleClosureLocked(payload.NewParent, payload.Node); ok {
		closingState := l.nodes[closing]
		if closingState.wins(op.Timestamp, op.ID) {
			// Our move is more recent than the ancestor's: by the
			// canonical timestamp order the older ancestor move stands
			// and this move is the one that loses the conflict.
			return false
		}
		// Our move is older: the ancestor's move should not have closed
		// the cycle over it yet. Roll the ancestor back to where it was
		// before that move, clearing its own revert record so a further
		// conflicting move would unwind it no further than this. If it
		// had no placement before that move, it goes back to having none.
		if !closingState.hadPrev {
			delete(l.nodes, closing)
		} else {
			l.nodes[closing] = nodeState{
				parent:    closingState.prevParent,
				position:  closingState.prevPos,
				timestamp: closingState.timestamp,
				opID:      closingState.opID,
			}
		}
	}

	l.nodes[payload.Node] = nodeState{
		parent:     payload.NewParent,
		position:   payload.Position,
		timestamp:  op.Timestamp,
		opID:       op.ID,
		prevParent: payload.PrevParent,
		prevPos:    payload.PrevPos,
		hadPrev:    payload.HadPrevParent,
	}
	return true
}

// findCycleClosureLocked walks up from candidate toward the root looking
// for the node whose current parent is node: that node's move is the one
// that closed the cycle node->...->candidate->node. Returns ok=false if
// candidate is not currently a descendant of node.
func (l *Layer) findCycleClosureLocked(candidate, node string) (closing string, ok bool) {
	seen := make(map[string]bool)
	cur := candidate
	for {
		seen[cur] = true
		state, onTree := l.nodes[cur]
		if !onTree {
			return "", false
		}
		if state.parent == node {
			return cur, true
		}
		if state.parent == "" || seen[state.parent] {
			return "", false
		}
		cur = state.parent
	}
}

// Parent returns the current parent and position of node.
func (l *Layer) Parent(node string) (parent, position string, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.nodes[node]
	return s.parent, s.position, ok
}

// Children returns the ids of nodes currently parented under parent,
// ordered by their Position field.
func (l *Layer) Children(parent string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for id, s := range l.nodes {
		if s.parent == parent {
			out = append(out, id)
		}
	}
	sortByPosition(out, l.nodes)
	return out
}

func sortByPosition(ids []string, nodes map[string]nodeState) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && nodes[ids[j-1]].position > nodes[ids[j]].position; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// Len returns the number of nodes currently placed in the tree.
func (l *Layer) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.nodes)
}
