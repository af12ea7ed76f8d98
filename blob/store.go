// Package blob provides durable key/value storage for run records and media
// artifacts. Keys use forward slashes as path separators regardless of the
// backing implementation. All implementations guarantee read-after-write
// consistency for a single key.
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and Delete when no object exists at the key.
var ErrNotFound = errors.New("blob: object not found")

// ObjectInfo describes a stored object without its payload.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Store is a durable blob store with put/get/list/delete semantics.
type Store interface {
	// Put stores data at key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the object data at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns info for all objects whose key starts with prefix,
	// sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes the object at key, or returns ErrNotFound.
	Delete(ctx context.Context, key string) error
}
