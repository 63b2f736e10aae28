// Package memkeystore is an in-memory keymaterial.Provider test double.
package memkeystore

import (
	"context"
	"sync"

	"github.com/cuemby/warrenguard/internal/keymaterial"
)

// Store holds key material in a map guarded by a mutex.
type Store struct {
	mu            sync.Mutex
	material      map[string][]byte
	activeVersion string
}

var _ keymaterial.Provider = (*Store)(nil)

// New builds an empty Store.
func New() *Store {
	return &Store{material: map[string][]byte{}}
}

// Put registers raw key bytes for versionID.
func (s *Store) Put(versionID string, keyBytes []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.material[versionID] = keyBytes
}

// SetActive designates versionID as the default for ResolveActive.
func (s *Store) SetActive(versionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeVersion = versionID
}

// Resolve implements keymaterial.Provider.
func (s *Store) Resolve(ctx context.Context, versionID string) (keymaterial.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.material[versionID]
	if !ok {
		return keymaterial.Material{}, keymaterial.NewNotFoundError(versionID)
	}
	return keymaterial.Material{VersionID: versionID, KeyBytes: raw}, nil
}

// ResolveActive implements keymaterial.Provider.
func (s *Store) ResolveActive(ctx context.Context) (keymaterial.Material, error) {
	s.mu.Lock()
	active := s.activeVersion
	s.mu.Unlock()
	return s.Resolve(ctx, active)
}

// Resolvable implements keymgmt.KeyMaterialResolver, so this test double
// can serve both roles in orchestration tests.
func (s *Store) Resolvable(ctx context.Context, versionID string) bool {
	_, err := s.Resolve(ctx, versionID)
	return err == nil
}
