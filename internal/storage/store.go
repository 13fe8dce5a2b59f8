// Package storage defines the object store interface the pipeline persists
// through. The abstraction keeps the sink and checkpoint code independent of
// a specific backend (Google Cloud Storage in production, memory in tests).
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore is the common interface for blob persistence.
type ObjectStore interface {
	// Put uploads data under key with the given content type and returns the
	// fully qualified object URI. Re-putting the same key overwrites.
	Put(ctx context.Context, key, contentType string, data []byte, meta ObjectMeta) (string, error)

	// Get downloads the object body. Returns ErrNotFound for absent keys.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// ObjectMeta carries optional object attributes applied on Put.
type ObjectMeta struct {
	CacheControl string
}
