package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestLocalStore_PutOpen(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "order-1/cube.stl", strings.NewReader("solid cube")))

	rc, err := store.Open(ctx, "order-1/cube.stl")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "solid cube", string(data))
}

func TestLocalStore_List(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"order-2/b.obj", "order-2/a.stl", "order-20/c.stl", "other/d.stl"} {
		require.NoError(t, store.Put(ctx, key, strings.NewReader("x")))
	}

	keys, err := store.List(ctx, "order-2/")
	require.NoError(t, err)
	assert.Equal(t, []string{"order-2/a.stl", "order-2/b.obj"}, keys)

	keys, err = store.List(ctx, "missing/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLocalStore_OpenMissing(t *testing.T) {
	store := createTestStore(t)
	_, err := store.Open(context.Background(), "nope/x.stl")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store := createTestStore(t)
	err := store.Put(context.Background(), "../escape.stl", strings.NewReader("x"))
	assert.Error(t, err)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(store.root), "escape.stl"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestNewLocalStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blobs", "nested")
	_, err := NewLocalStore(dir)
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
