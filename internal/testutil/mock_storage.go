// mock_storage.go - Mock blob store implementation for testing
package testutil

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/print-slicer/backend/internal/storage"
)

// MockBlobStore implements storage.BlobStore in memory
type MockBlobStore struct {
	objects map[string][]byte
	mu      sync.RWMutex

	// Override functions for custom test behavior
	ListFunc func(ctx context.Context, prefix string) ([]string, error)
	PutFunc  func(ctx context.Context, key string, r io.Reader) error
}

// NewMockBlobStore creates an empty mock blob store
func NewMockBlobStore() *MockBlobStore {
	return &MockBlobStore{objects: make(map[string][]byte)}
}

// AddObject stores data under key
func (m *MockBlobStore) AddObject(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

// Object returns the stored bytes for key
func (m *MockBlobStore) Object(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}

func (m *MockBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, prefix)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MockBlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockBlobStore) Put(ctx context.Context, key string, r io.Reader) error {
	if m.PutFunc != nil {
		return m.PutFunc(ctx, key, r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.AddObject(key, data)
	return nil
}

var _ storage.BlobStore = (*MockBlobStore)(nil)
