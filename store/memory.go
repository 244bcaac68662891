package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cppla/pagestats/models"
)

// MemoryStore keeps records in process. It backs local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]models.PageStatistics
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]models.PageStatistics)}
}

func (m *MemoryStore) Init(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Put(_ context.Context, rec models.PageStatistics) error {
	m.mu.Lock()
	m.records[rec.PageID] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) UpdateFields(_ context.Context, pageID int64, meta models.PageMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[pageID]
	if !ok {
		return nil
	}
	rec.Name = meta.Name
	rec.Description = meta.Description
	m.records[pageID] = rec
	return nil
}

func (m *MemoryStore) AdjustCounter(_ context.Context, pageID int64, counter models.Counter, delta int64) error {
	if !counter.Valid() {
		return fmt.Errorf("unknown counter %q", counter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[pageID]
	if !ok {
		return nil
	}
	rec.Counters.Add(counter, delta)
	m.records[pageID] = rec
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, pageID int64) error {
	m.mu.Lock()
	delete(m.records, pageID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, pageID int64) (*models.PageStatistics, error) {
	m.mu.RLock()
	rec, ok := m.records[pageID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) QueryByOwner(_ context.Context, ownerID int64) ([]models.PageStatistics, error) {
	m.mu.RLock()
	out := []models.PageStatistics{}
	for _, rec := range m.records {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out, nil
}

func (m *MemoryStore) QueryByOwnerAndPage(ctx context.Context, ownerID, pageID int64) (*models.PageStatistics, error) {
	rec, err := m.Get(ctx, pageID)
	return ownedBy(rec, err, ownerID)
}
