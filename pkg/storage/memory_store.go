package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sriram-PR/catalog-scraper/pkg/models"
	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

// MemoryStore keeps snapshots in process memory. Snapshots do not survive the process,
// so only in-run batch retries can use them.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string][]byte // Encoded so callers never share slices with the store
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string][]byte)}
}

// Save implements the SessionStore interface
func (m *MemoryStore) Save(key string, snap models.Snapshot) error {
	value, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal snapshot '%s': %w", utils.ErrParsing, key, err)
	}
	m.mu.Lock()
	m.snaps[key] = value
	m.mu.Unlock()
	return nil
}

// Take implements the SessionStore interface
func (m *MemoryStore) Take(key string) (models.Snapshot, error) {
	m.mu.Lock()
	value, ok := m.snaps[key]
	delete(m.snaps, key)
	m.mu.Unlock()
	if !ok {
		return models.Snapshot{}, fmt.Errorf("%w: %s", utils.ErrSessionNotFound, key)
	}
	return decodeSnapshot(key, value)
}

// Load implements the SessionStore interface
func (m *MemoryStore) Load(key string) (models.Snapshot, error) {
	m.mu.Lock()
	value, ok := m.snaps[key]
	m.mu.Unlock()
	if !ok {
		return models.Snapshot{}, fmt.Errorf("%w: %s", utils.ErrSessionNotFound, key)
	}
	return decodeSnapshot(key, value)
}

// Delete implements the SessionStore interface
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.snaps, key)
	m.mu.Unlock()
	return nil
}

// List implements the SessionStore interface
func (m *MemoryStore) List(ctx context.Context) ([]SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionSummary, 0, len(m.snaps))
	for key, value := range m.snaps {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		snap, err := decodeSnapshot(key, value)
		if err != nil {
			out = append(out, corruptSummary(key, err))
			continue
		}
		out = append(out, summarize(key, snap))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Count implements the StoreAdmin interface
func (m *MemoryStore) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps), nil
}

// RunGC implements the StoreAdmin interface. There is nothing to collect.
func (m *MemoryStore) RunGC(ctx context.Context, _ time.Duration) { <-ctx.Done() }

// Close implements the StoreAdmin interface
func (m *MemoryStore) Close() error { return nil }

func decodeSnapshot(key string, value []byte) (models.Snapshot, error) {
	var snap models.Snapshot
	if err := json.Unmarshal(value, &snap); err != nil {
		return models.Snapshot{}, corruptSnapshotError(key, err)
	}
	return snap, nil
}
