// Package rag wires the embedding and indexing packages into the Sync
// Coordinator's lifecycle-event feed, so converged text-layer content
// becomes searchable without the Document CRDT ever calling into a
// retrieval path on its write path.
package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codexsync/codex/internal/document"
	"github.com/codexsync/codex/internal/embedding"
	"github.com/codexsync/codex/internal/indexing"
	"github.com/codexsync/codex/internal/types"
)

// DocumentLookup resolves a codex to its live Document, mirroring
// coordinator.Coordinator.Lookup without importing the coordinator
// package directly, so this package stays wirable against anything that
// exposes a weak document registry.
type DocumentLookup func(types.CodexId) *document.Document

// Indexer subscribes to a Sync Coordinator's operation feed and keeps a
// semantic index of every text field over every codex it observes, up
// to date with the documents' converged state.
type Indexer struct {
	embedder embedding.Embedder
	index    *indexing.SemanticIndex
	lookup   DocumentLookup
	breaker  *indexing.CircuitBreaker
	logger   *zap.Logger
}

// NewIndexer builds an Indexer. lookup is typically
// coordinator.Coordinator.Lookup.
func NewIndexer(embedder embedding.Embedder, index *indexing.SemanticIndex, lookup DocumentLookup, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		embedder: embedder,
		index:    index,
		lookup:   lookup,
		breaker:  indexing.NewCircuitBreaker(indexing.DefaultBreakerConfig()),
		logger:   logger,
	}
}

// HandleOperation is the callback registered with a Coordinator via
// OnApply. It re-embeds the affected text field whenever an operation
// touches the text layer, and is a no-op for every other layer: the
// other three CRDT layers are already queryable directly through
// CodexQL and gain nothing from a vector index.
func (ix *Indexer) HandleOperation(op types.CRDTOperation) {
	field := textFieldFor(op)
	if field == "" {
		return
	}

	doc := ix.lookup(op.Codex)
	if doc == nil {
		return
	}

	_, _, textLayer, _ := doc.Layers()
	content := textLayer.Value(field)
	if content == "" {
		if err := ix.remove(op.Codex, field); err != nil {
			ix.logger.Warn("rag: failed to remove emptied field", zap.Error(err))
		}
		return
	}

	if err := ix.reindex(op.Codex, field, content); err != nil {
		ix.logger.Warn("rag: failed to reindex field",
			zap.String("codex", op.Codex.String()),
			zap.String("field", field),
			zap.Error(err))
	}
}

// textFieldFor returns the field name an operation's payload affects, or
// the empty string if the operation does not touch the text layer.
func textFieldFor(op types.CRDTOperation) string {
	switch op.Payload.Kind {
	case types.PayloadTextInsert:
		if op.Payload.TextInsert != nil {
			return op.Payload.TextInsert.Field
		}
	case types.PayloadTextDelete:
		if op.Payload.TextDelete != nil {
			return op.Payload.TextDelete.Field
		}
	case types.PayloadTextFormat:
		if op.Payload.TextFormat != nil {
			return op.Payload.TextFormat.Field
		}
	}
	return ""
}

func (ix *Indexer) reindex(codex types.CodexId, field, content string) error {
	ctx := context.Background()
	return ix.breaker.Execute(func() error {
		if err := ix.embedder.FitIncremental(ctx, content); err != nil {
			return fmt.Errorf("rag: fit incremental: %w", err)
		}
		vector, err := ix.embedder.Generate(ctx, content)
		if err != nil {
			return fmt.Errorf("rag: generate embedding: %w", err)
		}
		entry := indexing.Entry{Codex: uuid.UUID(codex), Field: field}
		return ix.index.Add(ctx, entry, vector)
	})
}

func (ix *Indexer) remove(codex types.CodexId, field string) error {
	ctx := context.Background()
	entry := indexing.Entry{Codex: uuid.UUID(codex), Field: field}
	return ix.index.Remove(ctx, entry)
}

// Query embeds text with the same embedder used for indexing and
// returns the k most similar known (codex, field) entries.
func (ix *Indexer) Query(ctx context.Context, text string, k int) ([]indexing.Entry, error) {
	vector, err := ix.embedder.Generate(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("rag: generate query embedding: %w", err)
	}
	return ix.index.Search(ctx, vector, k)
}

// BreakerState reports the indexer's circuit breaker state, so
// operators can tell a stuck embedding backend from an idle one.
func (ix *Indexer) BreakerState() indexing.CircuitState {
	return ix.breaker.State()
}
