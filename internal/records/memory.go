package records

import (
	"context"
	"fmt"
	"sync"

	"github.com/print-slicer/backend/internal/models"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.FileRecord
	updates map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.FileRecord),
		updates: make(map[string]int),
	}
}

// Put inserts or replaces a record.
func (m *MemoryStore) Put(rec models.FileRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := rec
	m.records[rec.FileID] = &r
}

func (m *MemoryStore) Get(ctx context.Context, fileID string) (*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[fileID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", fileID, ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, fileID string, patch models.FilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[fileID]
	if !ok {
		return fmt.Errorf("%s: %w", fileID, ErrNotFound)
	}
	rec.Status = patch.Status
	if patch.Error != nil {
		rec.Error = *patch.Error
	}
	if patch.MassGrams != nil {
		rec.MassGrams = *patch.MassGrams
	}
	if patch.Dimensions != nil {
		d := *patch.Dimensions
		rec.Dimensions = &d
	}
	if patch.Pricing != nil {
		p := *patch.Pricing
		rec.Pricing = &p
	}
	m.updates[fileID]++
	return nil
}

// Updates returns how many times fileID was updated.
func (m *MemoryStore) Updates(fileID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updates[fileID]
}
