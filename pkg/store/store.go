// Package store persists the imported bookmark collection.
//
// The collection is an ordered, append-only sequence stored as a single
// snapshot value next to a running total. Every Append replaces the whole
// snapshot with old ++ new in one atomic write.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/Sternrassler/bookmark-importer/pkg/timeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrStoreWrite wraps every failure to persist the collection.
	ErrStoreWrite = errors.New("store write failed")

	// ErrStoreRead wraps failures to read the collection.
	ErrStoreRead = errors.New("store read failed")
)

// Prometheus metrics for store operations.
var (
	itemsImportedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookmarks_items_imported_total",
		Help: "Total number of bookmark items appended to the collection",
	})

	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookmarks_store_errors_total",
		Help: "Total number of store operation errors",
	}, []string{"operation"}) // "load", "append", "clear"
)

// Store is the persisted collection.
type Store interface {
	// Load returns the full collection in insertion order.
	Load(ctx context.Context) ([]timeline.ItemRecord, error)

	// Append merges items after the existing collection and returns the new total.
	Append(ctx context.Context, items []timeline.ItemRecord) (int, error)

	// Clear removes the collection and resets the total.
	Clear(ctx context.Context) error

	// Total returns the persisted running total.
	Total(ctx context.Context) (int, error)
}

// MemoryStore keeps the collection in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items []timeline.ItemRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(context.Context) ([]timeline.ItemRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]timeline.ItemRecord, len(m.items))
	copy(out, m.items)
	return out, nil
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, items []timeline.ItemRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := make([]timeline.ItemRecord, 0, len(m.items)+len(items))
	merged = append(merged, m.items...)
	merged = append(merged, items...)
	m.items = merged

	itemsImportedTotal.Add(float64(len(items)))
	return len(m.items), nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	return nil
}

// Total implements Store.
func (m *MemoryStore) Total(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}
