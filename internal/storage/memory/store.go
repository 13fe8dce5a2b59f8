// Package memory provides an in-memory ObjectStore used in tests and dry
// runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dame-data/epc-ingest/internal/storage"
)

type object struct {
	data        []byte
	contentType string
}

// Store keeps objects in a map guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	objects map[string]object
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

// Put stores a copy of data and returns a mem:// URI.
func (s *Store) Put(_ context.Context, key, contentType string, data []byte, _ storage.ObjectMeta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[key] = object{data: buf, contentType: contentType}
	return fmt.Sprintf("mem://%s", key), nil
}

// Get returns the stored body or storage.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, nil
}

// Exists reports whether the key is present.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

// Delete removes the key if present.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
