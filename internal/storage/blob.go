// Package storage provides access to uploaded model files.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// BlobStore is a flat key/value object store. Keys use "/" separators and
// the first segment is the batch prefix.
type BlobStore interface {
	// List returns all keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Open returns the object body. Callers must close it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Put stores r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader) error
}
