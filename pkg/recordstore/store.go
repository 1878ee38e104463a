// Package recordstore provides the persistent record stores the local cache
// is built on. A store holds named collections of documents keyed by a
// string identifier.
package recordstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/pario-ai/shopkeep/pkg/models"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("recordstore: store closed")

// Store is the interface all backing stores implement. GetAll returns
// documents in the order they were first put.
type Store interface {
	// GetAll returns every document in a collection.
	GetAll(ctx context.Context, collection string) ([]models.Record, error)
	// Get returns a single document by key.
	Get(ctx context.Context, collection, key string) (models.Record, bool, error)
	// Put inserts or replaces a document.
	Put(ctx context.Context, collection, key string, doc models.Record) error
	// Delete removes a document. Returns true if it existed.
	Delete(ctx context.Context, collection, key string) (bool, error)
	// Clear removes every document in a collection.
	Clear(ctx context.Context, collection string) error
	// Collections returns the names of all collections that hold documents.
	Collections(ctx context.Context) ([]string, error)
	// Reset destroys and recreates the underlying storage.
	Reset(ctx context.Context) error
	// Close releases resources.
	Close() error
}

// New creates a Store based on the backend name.
//
// Supported backends:
//
//	"sqlite" - SQLite database at path (default)
//	"memory" - in-memory, lost on restart
func New(backend, path string) (Store, error) {
	switch backend {
	case "sqlite", "":
		return NewSQLite(path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: sqlite, memory)", backend)
	}
}
