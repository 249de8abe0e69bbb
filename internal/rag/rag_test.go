package rag

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/codexsync/codex/internal/document"
	"github.com/codexsync/codex/internal/embedding"
	"github.com/codexsync/codex/internal/indexing"
	"github.com/codexsync/codex/internal/types"
)

func textInsert(field, content string) types.OperationPayload {
	return types.OperationPayload{
		Kind:       types.PayloadTextInsert,
		TextInsert: &types.TextInsert{Field: field, Pos: 0, Content: content},
	}
}

func newLookup(docs ...*document.Document) DocumentLookup {
	byID := make(map[types.CodexId]*document.Document, len(docs))
	for _, d := range docs {
		byID[d.ID()] = d
	}
	return func(id types.CodexId) *document.Document { return byID[id] }
}

func TestHandleOperationIndexesTextField(t *testing.T) {
	doc := document.New(types.NewCodexId(), types.UserId("A"), document.DefaultConfig())
	defer doc.Close()

	op, err := doc.ApplyLocal(textInsert("body", "codex documents converge across replicas"))
	if err != nil {
		t.Fatalf("apply local: %v", err)
	}

	embedder, err := embedding.NewTFIDFEmbedder(nil, 16)
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}
	idx := indexing.NewSemanticIndex(16)
	indexer := NewIndexer(embedder, idx, newLookup(doc), nil)

	indexer.HandleOperation(*op)

	if got := idx.Size(); got != 1 {
		t.Fatalf("expected 1 indexed entry, got %d", got)
	}
}

func TestHandleOperationIgnoresNonTextLayers(t *testing.T) {
	doc := document.New(types.NewCodexId(), types.UserId("A"), document.DefaultConfig())
	defer doc.Close()

	op, err := doc.ApplyLocal(types.OperationPayload{
		Kind:        types.PayloadMetadataSet,
		MetadataSet: &types.MetadataSet{Key: "title", Value: "Roadmap"},
	})
	if err != nil {
		t.Fatalf("apply local: %v", err)
	}

	embedder, err := embedding.NewTFIDFEmbedder(nil, 16)
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}
	idx := indexing.NewSemanticIndex(16)
	indexer := NewIndexer(embedder, idx, newLookup(doc), nil)

	indexer.HandleOperation(*op)

	if got := idx.Size(); got != 0 {
		t.Fatalf("expected metadata operations to be ignored, got %d indexed entries", got)
	}
}

func TestHandleOperationSkipsUnknownCodex(t *testing.T) {
	embedder, err := embedding.NewTFIDFEmbedder(nil, 16)
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}
	idx := indexing.NewSemanticIndex(16)
	indexer := NewIndexer(embedder, idx, newLookup(), nil)

	indexer.HandleOperation(types.CRDTOperation{
		Codex:   types.NewCodexId(),
		Payload: textInsert("body", "orphaned operation"),
	})

	if got := idx.Size(); got != 0 {
		t.Fatalf("expected no entries for an unresolvable codex, got %d", got)
	}
}

func TestQueryReturnsIndexedEntry(t *testing.T) {
	doc := document.New(types.NewCodexId(), types.UserId("A"), document.DefaultConfig())
	defer doc.Close()

	op, err := doc.ApplyLocal(textInsert("body", "the sync coordinator fans out operations to peers"))
	if err != nil {
		t.Fatalf("apply local: %v", err)
	}

	embedder, err := embedding.NewTFIDFEmbedder(nil, 16)
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}
	idx := indexing.NewSemanticIndex(16)
	indexer := NewIndexer(embedder, idx, newLookup(doc), nil)
	indexer.HandleOperation(*op)

	results, err := indexer.Query(context.Background(), "sync coordinator operations", 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 || results[0].Codex != uuid.UUID(doc.ID()) || results[0].Field != "body" {
		t.Fatalf("unexpected query results: %+v", results)
	}
}

func TestHandleOperationRemovesEmptiedField(t *testing.T) {
	doc := document.New(types.NewCodexId(), types.UserId("A"), document.DefaultConfig())
	defer doc.Close()

	insertOp, err := doc.ApplyLocal(textInsert("body", "temporary"))
	if err != nil {
		t.Fatalf("apply local insert: %v", err)
	}

	embedder, err := embedding.NewTFIDFEmbedder(nil, 16)
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}
	idx := indexing.NewSemanticIndex(16)
	indexer := NewIndexer(embedder, idx, newLookup(doc), nil)
	indexer.HandleOperation(*insertOp)
	if idx.Size() != 1 {
		t.Fatalf("expected entry after insert, got %d", idx.Size())
	}

	deleteOp, err := doc.ApplyLocal(types.OperationPayload{
		Kind:       types.PayloadTextDelete,
		TextDelete: &types.TextDelete{Field: "body", Pos: 0, Len: uint64(len("temporary"))},
	})
	if err != nil {
		t.Fatalf("apply local delete: %v", err)
	}
	indexer.HandleOperation(*deleteOp)

	if got := idx.Size(); got != 0 {
		t.Fatalf("expected entry removed once field is emptied, got %d", got)
	}
}

func TestCircuitBreakerTripsAfterRepeatedFailures(t *testing.T) {
	cfg := indexing.BreakerConfig{WindowSize: 4, FailureThreshold: 0.5, ResetTimeout: 0, ProbeCount: 1}
	cb := indexing.NewCircuitBreaker(cfg)

	failing := func() error { return context.DeadlineExceeded }
	for i := 0; i < 4; i++ {
		_ = cb.Execute(failing)
	}

	if cb.State() != indexing.StateOpen {
		t.Fatalf("expected breaker to trip OPEN after repeated failures, got %s", cb.State())
	}
}
