// Package records reads and updates file records in the document store.
package records

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/print-slicer/backend/internal/models"
)

// ErrNotFound is returned when no record matches a file id.
var ErrNotFound = errors.New("file record not found")

// Store is the document store holding one record per file.
type Store interface {
	Get(ctx context.Context, fileID string) (*models.FileRecord, error)
	// Update applies a partial update to the record matched by fileID.
	// Last write wins.
	Update(ctx context.Context, fileID string, patch models.FilePatch) error
}

// Router picks a Store per deployment environment (for example "dev" or "prod").
type Router struct {
	def    string
	stores map[string]Store
}

// NewRouter creates a router. def names the environment used when a request
// does not specify one.
func NewRouter(def string, stores map[string]Store) *Router {
	return &Router{def: def, stores: stores}
}

// For returns the store for env.
func (r *Router) For(env string) (Store, error) {
	if env == "" {
		env = r.def
	}
	s, ok := r.stores[env]
	if !ok {
		return nil, fmt.Errorf("unknown environment %q", env)
	}
	return s, nil
}

// Environments lists configured environment names.
func (r *Router) Environments() []string {
	out := make([]string, 0, len(r.stores))
	for env := range r.stores {
		out = append(out, env)
	}
	sort.Strings(out)
	return out
}
