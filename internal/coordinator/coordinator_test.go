package coordinator

import (
	"runtime"
	"testing"
	"time"

	"github.com/codexsync/codex/internal/document"
	"github.com/codexsync/codex/internal/types"
)

func TestRegisterAndLookupDocument(t *testing.T) {
	co := New()
	doc := document.New(types.NewCodexId(), "A", document.DefaultConfig())
	defer doc.Close()

	co.RegisterDocument(doc)
	if got := co.Lookup(doc.ID()); got != doc {
		t.Errorf("expected lookup to resolve the registered document")
	}
}

func TestUnregisterDocument(t *testing.T) {
	co := New()
	doc := document.New(types.NewCodexId(), "A", document.DefaultConfig())
	defer doc.Close()

	co.RegisterDocument(doc)
	if !co.UnregisterDocument(doc.ID()) {
		t.Error("expected unregister to report the entry existed")
	}
	if co.UnregisterDocument(doc.ID()) {
		t.Error("expected second unregister to report no entry")
	}
}

func TestPublishFanOutToSubscribedConnections(t *testing.T) {
	co := New()
	codex := types.NewCodexId()

	subscribed := co.RegisterConnection("conn-1", "peer-1", 8)
	co.Subscribe("conn-1", codex)
	other := co.RegisterConnection("conn-2", "peer-2", 8)

	co.Publish(types.CRDTOperation{Codex: codex})

	select {
	case <-subscribed.Outbox():
	default:
		t.Error("expected subscribed connection to receive the operation")
	}
	select {
	case <-other.Outbox():
		t.Error("expected unsubscribed connection to receive nothing")
	default:
	}
}

func TestPublishOverflowTriggersResync(t *testing.T) {
	co := New()
	codex := types.NewCodexId()
	var notified types.CodexId
	co.OnResyncNeeded = func(conn *Connection, c types.CodexId) { notified = c }

	conn := co.RegisterConnection("conn-1", "peer-1", 1)
	co.Subscribe("conn-1", codex)

	co.Publish(types.CRDTOperation{Codex: codex})
	co.Publish(types.CRDTOperation{Codex: codex})
	co.Publish(types.CRDTOperation{Codex: codex})

	if notified != codex {
		t.Error("expected overflow to trigger a resync signal")
	}
	_ = conn
}

func TestPublishNotifiesLifecycleSubscribers(t *testing.T) {
	co := New()
	codex := types.NewCodexId()

	var got []types.CRDTOperation
	co.OnApply(func(op types.CRDTOperation) { got = append(got, op) })

	co.Publish(types.CRDTOperation{Codex: codex})
	co.Publish(types.CRDTOperation{Codex: codex})

	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
}

func TestPublishNotifiesSubscribersWithNoConnections(t *testing.T) {
	co := New()
	codex := types.NewCodexId()

	notified := false
	co.OnApply(func(op types.CRDTOperation) { notified = true })

	co.Publish(types.CRDTOperation{Codex: codex})

	if !notified {
		t.Error("expected lifecycle subscriber to fire even without connections")
	}
}

func TestCleanupEvictsCollectedDocuments(t *testing.T) {
	co := New()
	id := types.NewCodexId()
	func() {
		doc := document.New(id, "A", document.DefaultConfig())
		co.RegisterDocument(doc)
		doc.Close()
	}()

	runtime.GC()
	time.Sleep(10 * time.Millisecond)
	runtime.GC()

	co.Cleanup()
	if co.Lookup(id) != nil {
		t.Error("expected lookup to fail once the document is collected")
	}
}
