// Package memobjectstore is an in-memory objectstore.Store test double.
package memobjectstore

import (
	"context"
	"sync"

	"github.com/cuemby/warrenguard/internal/objectstore"
)

// Store holds blobs in a map guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte
}

var _ objectstore.Store = (*Store)(nil)

// New builds an empty Store.
func New() *Store {
	return &Store{objects: map[string][]byte{}}
}

// Put implements objectstore.Store.
func (s *Store) Put(ctx context.Context, objectName string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(blob))
	copy(stored, blob)
	s.objects[objectName] = stored
	return nil
}

// Get implements objectstore.Store.
func (s *Store) Get(ctx context.Context, objectName string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.objects[objectName]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// Delete implements objectstore.Store.
func (s *Store) Delete(ctx context.Context, objectName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectName)
	return nil
}
