// Package codex is the public entry point to the engine: a single
// Engine owns configuration, persistence, the sync coordinator, and
// the optional RAG/hook/task/provider subsystems, and hands out Codex
// handles that wrap the internal Document CRDT behind a narrow,
// stable API. Most callers only need this package; internal/* is for
// codexd and for tests exercising one layer in isolation.
package codex

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/codexsync/codex/internal/auth"
	"github.com/codexsync/codex/internal/clock"
	"github.com/codexsync/codex/internal/config"
	"github.com/codexsync/codex/internal/coordinator"
	"github.com/codexsync/codex/internal/document"
	"github.com/codexsync/codex/internal/embedding"
	"github.com/codexsync/codex/internal/gc"
	"github.com/codexsync/codex/internal/hooks"
	"github.com/codexsync/codex/internal/indexing"
	"github.com/codexsync/codex/internal/logging"
	"github.com/codexsync/codex/internal/monitoring"
	"github.com/codexsync/codex/internal/persistence"
	"github.com/codexsync/codex/internal/providers"
	"github.com/codexsync/codex/internal/query"
	"github.com/codexsync/codex/internal/rag"
	"github.com/codexsync/codex/internal/tasks"
	"github.com/codexsync/codex/internal/types"
)

// Options configures a new Engine. A zero value is not usable; use
// DefaultOptions and override only what differs.
type Options struct {
	Config             *config.Config
	Self               types.UserId
	TaskWorkers        int
	TaskQueueCapacity  int
	AuditCapacity      int
	HookHistoryLimit   int
	EmbeddingDimension int
}

// DefaultOptions returns an Options with the process-wide config
// defaults and sane subsystem sizing.
func DefaultOptions(self types.UserId) Options {
	return Options{
		Config:             config.Default(),
		Self:               self,
		TaskWorkers:        4,
		TaskQueueCapacity:  256,
		AuditCapacity:      4096,
		HookHistoryLimit:   1024,
		EmbeddingDimension: 128,
	}
}

// Engine is the top-level handle to a running codex store: persistence,
// the in-memory document registry, the sync coordinator, and every
// subscriber wired to its OnApply feed.
type Engine struct {
	cfg    *config.Config
	self   types.UserId
	logger *logging.Logger
	zl     *zap.Logger

	store persistence.SnapshotStore
	coord *coordinator.Coordinator

	embedder embedding.Embedder
	index    *indexing.SemanticIndex
	indexer  *rag.Indexer

	dispatcher *hooks.Dispatcher
	runner     *tasks.Runner
	registry   *providers.Registry

	metrics *monitoring.Metrics

	mu   sync.RWMutex
	docs map[types.CodexId]*document.Document

	cancel context.CancelFunc
}

// New constructs an Engine: opens its SnapshotStore, starts the task
// runner and hook scheduler, and wires the RAG indexer, hook
// dispatcher, and provider registry onto the sync coordinator's
// lifecycle feed.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Self == "" {
		return nil, fmt.Errorf("codex: Options.Self must not be empty")
	}

	logger, err := logging.NewLogger(opts.Config.Logging.Level, opts.Config.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("codex: new logger: %w", err)
	}

	store, err := openStore(opts.Config.Persistence)
	if err != nil {
		return nil, fmt.Errorf("codex: open persistence store: %w", err)
	}

	dimension := opts.EmbeddingDimension
	if dimension <= 0 {
		dimension = 128
	}
	embedder, err := embedding.NewTFIDFEmbedder(nil, dimension)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("codex: new embedder: %w", err)
	}
	index := indexing.NewSemanticIndex(dimension)

	coord := coordinator.New()

	zl := logger.Logger
	indexer := rag.NewIndexer(embedder, index, coord.Lookup, zl)
	dispatcher := hooks.NewDispatcher(opts.AuditCapacity, opts.HookHistoryLimit, zl)
	runner := tasks.NewRunner(opts.TaskWorkers, opts.TaskQueueCapacity)
	registry := providers.NewRegistry(zl)

	coord.OnApply(indexer.HandleOperation)
	coord.OnApply(dispatcher.HandleOperation)
	coord.OnApply(registry.HandleOperation)

	runCtx, cancel := context.WithCancel(ctx)
	runner.Start(runCtx)
	go dispatcher.Start(runCtx, opts.Config.Document.GCInterval)

	return &Engine{
		cfg:        opts.Config,
		self:       opts.Self,
		logger:     logger,
		zl:         zl,
		store:      store,
		coord:      coord,
		embedder:   embedder,
		index:      index,
		indexer:    indexer,
		dispatcher: dispatcher,
		runner:     runner,
		registry:   registry,
		metrics:    monitoring.NewMetrics(),
		docs:       make(map[types.CodexId]*document.Document),
		cancel:     cancel,
	}, nil
}

func openStore(cfg config.PersistenceConfig) (persistence.SnapshotStore, error) {
	switch cfg.Backend {
	case "badger":
		return persistence.NewBadgerSnapshotStore(cfg.DataDir)
	case "file", "":
		return persistence.NewFileSnapshotStore(cfg.DataDir, nil)
	default:
		return nil, fmt.Errorf("codex: unknown persistence backend %q", cfg.Backend)
	}
}

// Coordinator exposes the underlying sync coordinator for transport
// wiring (codexd's TCP/WebSocket listeners dial straight into it).
func (e *Engine) Coordinator() *coordinator.Coordinator { return e.coord }

// Hooks exposes the hook dispatcher so callers can register custom
// hooks and read the audit log.
func (e *Engine) Hooks() *hooks.Dispatcher { return e.dispatcher }

// Tasks exposes the background task runner so hook actions and RPC
// handlers can submit role-scoped work.
func (e *Engine) Tasks() *tasks.Runner { return e.runner }

// Providers exposes the provider registry so external integrations
// can attach.
func (e *Engine) Providers() *providers.Registry { return e.registry }

// Metrics exposes the Prometheus collectors registered by this Engine.
func (e *Engine) Metrics() *monitoring.Metrics { return e.metrics }

// Create starts a brand-new Codex owned by the engine's local replica
// identity.
func (e *Engine) Create() *Codex {
	id := types.NewCodexId()
	doc := document.New(id, e.self, document.Config{
		MaxOperationsInMemory: int(e.cfg.Document.MaxOperationsInMemory),
		TombstoneTTL:          e.cfg.Document.TombstoneTTL,
		PendingBufferSize:     e.cfg.Document.PendingBufferSize,
	})
	doc.OnApplied = e.coord.Publish

	e.mu.Lock()
	e.docs[id] = doc
	e.mu.Unlock()
	e.coord.RegisterDocument(doc)

	return &Codex{engine: e, doc: doc}
}

// Open returns the in-memory handle for id if one is live, otherwise
// loads its persisted snapshot and reconstructs a Document from it.
// Reconstruction replays the snapshot's converged values as fresh
// local operations under the loading replica's identity: only
// converged state is persisted (spec.md §6), so there is no original
// operation history left to replay byte-for-byte.
func (e *Engine) Open(id types.CodexId) (*Codex, error) {
	e.mu.RLock()
	if doc, ok := e.docs[id]; ok {
		e.mu.RUnlock()
		return &Codex{engine: e, doc: doc}, nil
	}
	e.mu.RUnlock()

	snap, err := e.store.Load(id)
	if err != nil {
		return nil, fmt.Errorf("codex: load %s: %w", id, err)
	}

	doc := document.New(id, e.self, document.Config{
		MaxOperationsInMemory: int(e.cfg.Document.MaxOperationsInMemory),
		TombstoneTTL:          e.cfg.Document.TombstoneTTL,
		PendingBufferSize:     e.cfg.Document.PendingBufferSize,
	})
	if err := replay(doc, snap); err != nil {
		doc.Close()
		return nil, fmt.Errorf("codex: replay %s: %w", id, err)
	}
	doc.OnApplied = e.coord.Publish

	e.mu.Lock()
	e.docs[id] = doc
	e.mu.Unlock()
	e.coord.RegisterDocument(doc)

	return &Codex{engine: e, doc: doc}, nil
}

func replay(doc *document.Document, snap document.Snapshot) error {
	for key, value := range snap.Metadata {
		if _, err := doc.ApplyLocal(types.OperationPayload{
			Kind:        types.PayloadMetadataSet,
			MetadataSet: &types.MetadataSet{Key: key, Value: value},
		}); err != nil {
			return err
		}
	}
	for field, content := range snap.TextFields {
		if content == "" {
			continue
		}
		if _, err := doc.ApplyLocal(types.OperationPayload{
			Kind:       types.PayloadTextInsert,
			TextInsert: &types.TextInsert{Field: field, Pos: 0, Content: content},
		}); err != nil {
			return err
		}
	}
	for _, ref := range snap.References {
		if _, err := doc.ApplyLocal(types.OperationPayload{
			Kind: types.PayloadReferenceAdd,
			ReferenceAdd: &types.ReferenceAdd{
				Ref: ref,
				Tag: types.NewOperationId(),
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

// Save persists the codex's current converged snapshot.
func (e *Engine) Save(c *Codex) error {
	return e.store.Save(c.doc.ID(), c.doc.Snapshot())
}

// Delete removes a codex's persisted snapshot and unregisters it from
// the in-memory registry, tombstoning it in place if it is currently
// open.
func (e *Engine) Delete(id types.CodexId) error {
	e.mu.Lock()
	doc, open := e.docs[id]
	delete(e.docs, id)
	e.mu.Unlock()

	if open {
		if _, err := doc.Delete(); err != nil {
			return fmt.Errorf("codex: tombstone %s: %w", id, err)
		}
		e.coord.UnregisterDocument(id)
		doc.Close()
	}
	return e.store.Delete(id)
}

// List returns every CodexId with a persisted snapshot.
func (e *Engine) List() ([]types.CodexId, error) {
	return e.store.List()
}

// GC sweeps stable tombstones from every open codex and reports the
// aggregate stats.
func (e *Engine) GC() gc.Stats {
	e.mu.RLock()
	docs := make([]*document.Document, 0, len(e.docs))
	for _, doc := range e.docs {
		docs = append(docs, doc)
	}
	e.mu.RUnlock()

	var total gc.Stats
	for _, doc := range docs {
		stats := doc.GC()
		total.OperationsDropped += stats.OperationsDropped
		total.BytesFreed += stats.BytesFreed
		total.MetadataTombstones += stats.MetadataTombstones
		total.ReferenceTombstones += stats.ReferenceTombstones
		total.TextTombstones += stats.TextTombstones
	}
	return total
}

// Query runs a CodexQL statement against id's currently converged
// state.
func (e *Engine) Query(id types.CodexId, statement string) (any, error) {
	c, err := e.Open(id)
	if err != nil {
		return nil, err
	}
	parser := &query.Parser{}
	q, err := parser.Parse(statement)
	if err != nil {
		return nil, err
	}
	return q.Execute(c.doc)
}

// Search runs a RAG similarity search over every indexed text field
// across every codex, returning the k closest by embedding distance.
func (e *Engine) Search(ctx context.Context, text string, k int) ([]indexing.Entry, error) {
	return e.indexer.Query(ctx, text, k)
}

// RequirePermission checks role against required, for RPC handlers
// built on top of this Engine.
func RequirePermission(role auth.Role, required auth.Permission) error {
	return tasks.RequirePermission(role, required)
}

// Close stops every background goroutine (task workers, hook
// scheduler) and closes the persistence store. It does not close
// individual open Codex handles; call Codex.Close for those first if
// their worker goroutines must stop promptly.
func (e *Engine) Close() error {
	e.cancel()
	e.runner.Stop()
	return e.store.Close()
}

// Codex is a handle to one Codex document: every method delegates to
// the underlying Document CRDT, translating to and from its operation
// payload representation.
type Codex struct {
	engine *Engine
	doc    *document.Document
}

// ID returns the codex's identifier.
func (c *Codex) ID() types.CodexId { return c.doc.ID() }

// SetMetadata assigns value to key under last-writer-wins semantics.
func (c *Codex) SetMetadata(key string, value any) (*types.CRDTOperation, error) {
	return c.doc.ApplyLocal(types.OperationPayload{
		Kind:        types.PayloadMetadataSet,
		MetadataSet: &types.MetadataSet{Key: key, Value: value},
	})
}

// InsertText inserts content at pos within field.
func (c *Codex) InsertText(field string, pos uint64, content string) (*types.CRDTOperation, error) {
	return c.doc.ApplyLocal(types.OperationPayload{
		Kind:       types.PayloadTextInsert,
		TextInsert: &types.TextInsert{Field: field, Pos: pos, Content: content},
	})
}

// DeleteText removes length runes starting at pos within field.
func (c *Codex) DeleteText(field string, pos, length uint64) (*types.CRDTOperation, error) {
	return c.doc.ApplyLocal(types.OperationPayload{
		Kind:       types.PayloadTextDelete,
		TextDelete: &types.TextDelete{Field: field, Pos: pos, Len: length},
	})
}

// FormatText applies attr to [start,end) within field.
func (c *Codex) FormatText(field string, start, end uint64, attr string) (*types.CRDTOperation, error) {
	return c.doc.ApplyLocal(types.OperationPayload{
		Kind:       types.PayloadTextFormat,
		TextFormat: &types.TextFormat{Field: field, Start: start, End: end, Attr: attr},
	})
}

// MoveNode reparents node under newParent at position in the tree layer.
func (c *Codex) MoveNode(node, newParent, position string) (*types.CRDTOperation, error) {
	return c.doc.ApplyLocal(types.OperationPayload{
		Kind:     types.PayloadTreeMove,
		TreeMove: &types.TreeMove{Node: node, NewParent: newParent, Position: position},
	})
}

// AddReference links ref into this codex's reference set.
func (c *Codex) AddReference(ref types.CodexId) (*types.CRDTOperation, error) {
	return c.doc.ApplyLocal(types.OperationPayload{
		Kind: types.PayloadReferenceAdd,
		ReferenceAdd: &types.ReferenceAdd{
			Ref: ref,
			Tag: types.NewOperationId(),
		},
	})
}

// RemoveReference removes every add-tag this replica has observed for
// ref.
func (c *Codex) RemoveReference(ref types.CodexId) (*types.CRDTOperation, error) {
	_, refLayer, _, _ := c.doc.Layers()
	tags := refLayer.ObservedTags(ref)
	return c.doc.ApplyLocal(types.OperationPayload{
		Kind: types.PayloadReferenceRemove,
		ReferenceRemove: &types.ReferenceRemove{
			Ref:          ref,
			ObservedTags: tags,
		},
	})
}

// Field returns the current converged text of a field.
func (c *Codex) Field(name string) string { return c.doc.Field(name) }

// Snapshot returns the codex's current converged state across every
// layer.
func (c *Codex) Snapshot() document.Snapshot { return c.doc.Snapshot() }

// ApplyRemote routes an operation received from a peer through the
// document's causal delivery buffer.
func (c *Codex) ApplyRemote(op types.CRDTOperation) (types.ApplyOutcome, error) {
	return c.doc.ApplyRemote(op)
}

// RecordAck advances this codex's knowledge of peer's acknowledged
// frontier, feeding the causal-stability check GC relies on.
func (c *Codex) RecordAck(peer types.UserId, upTo clock.VectorClock) {
	c.doc.RecordAck(peer, upTo)
}

// Frontier returns this codex's current vector clock, for outbound
// Ack/StateRequest messages.
func (c *Codex) Frontier() clock.VectorClock {
	return c.doc.Snapshot().Clock
}

// Save persists the codex's current converged snapshot via the
// owning Engine.
func (c *Codex) Save() error { return c.engine.Save(c) }

// Close stops the codex's worker goroutine. The codex remains
// registered with the engine's in-memory map and coordinator until
// the engine evicts or deletes it; Close only frees the goroutine.
func (c *Codex) Close() { c.doc.Close() }
