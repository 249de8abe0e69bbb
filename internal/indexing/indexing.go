// Package indexing provides approximate nearest-neighbor search over the
// vectors the RAG indexer (see internal/rag) generates from converged
// text-layer content, backed by an in-memory HNSW graph.
package indexing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Entry identifies a single embedded unit of text: one field of one
// codex. The index is keyed by this pair rather than by a raw UUID, so
// a codex can be re-embedded in place when its text changes without the
// index confusing it for a different document.
type Entry struct {
	Codex uuid.UUID
	Field string
}

func (e Entry) key() uuid.UUID {
	return uuid.NewSHA1(e.Codex, []byte(e.Field))
}

// Index is an approximate nearest-neighbor vector index over Entry keys.
type Index interface {
	Add(ctx context.Context, entry Entry, vector []float32) error
	Search(ctx context.Context, vector []float32, k int) ([]Entry, error)
	Remove(ctx context.Context, entry Entry) error
}

// SemanticIndex implements Index on top of an HNSW graph, keeping the
// Entry each internal node key maps back to so Search can return codex
// identifiers instead of opaque UUIDs.
type SemanticIndex struct {
	dimension int
	hnsw      *HNSWIndex

	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

// NewSemanticIndex builds an empty semantic index over vectors of the
// given dimension.
func NewSemanticIndex(dimension int) *SemanticIndex {
	return &SemanticIndex{
		dimension: dimension,
		hnsw:      NewHNSWIndex(dimension, 16, 200),
		entries:   make(map[uuid.UUID]Entry),
	}
}

// Add inserts or replaces the vector for entry.
func (si *SemanticIndex) Add(ctx context.Context, entry Entry, vector []float32) error {
	si.mu.Lock()
	defer si.mu.Unlock()

	key := entry.key()
	if _, exists := si.entries[key]; exists {
		_ = si.hnsw.Remove(key)
	}
	si.entries[key] = entry
	return si.hnsw.Add(key, vector)
}

// Search returns up to k entries whose vectors are nearest to vector.
func (si *SemanticIndex) Search(ctx context.Context, vector []float32, k int) ([]Entry, error) {
	si.mu.RLock()
	defer si.mu.RUnlock()

	if len(vector) != si.dimension {
		return nil, fmt.Errorf("indexing: query vector has dimension %d, want %d", len(vector), si.dimension)
	}

	ids, err := si.hnsw.Search(vector, k)
	if err != nil {
		return nil, err
	}

	results := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := si.entries[id]; ok {
			results = append(results, e)
		}
	}
	return results, nil
}

// Remove drops entry from the index, if present.
func (si *SemanticIndex) Remove(ctx context.Context, entry Entry) error {
	si.mu.Lock()
	defer si.mu.Unlock()

	key := entry.key()
	delete(si.entries, key)
	return si.hnsw.Remove(key)
}

// Size returns the number of vectors currently indexed.
func (si *SemanticIndex) Size() int {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return len(si.entries)
}
