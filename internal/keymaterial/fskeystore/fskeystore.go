// Package fskeystore resolves key material from files on disk, one file
// per key version, following FileSystemKeyStore's candidate-path lookup.
package fskeystore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/warrenguard/internal/keymaterial"
)

// Store reads key bytes from two candidate locations per version, exactly
// as the original FileSystemKeyStore does: "<root>/<version>.key" and
// "<root>/primary/<version>.key".
type Store struct {
	root          string
	activeVersion string
}

var _ keymaterial.Provider = (*Store)(nil)

// New builds a Store rooted at root, with activeVersion used by
// ResolveActive.
func New(root, activeVersion string) *Store {
	return &Store{root: root, activeVersion: activeVersion}
}

func (s *Store) candidatePaths(versionID string) []string {
	return []string{
		filepath.Join(s.root, versionID+".key"),
		filepath.Join(s.root, "primary", versionID+".key"),
	}
}

// Resolve implements keymaterial.Provider.
func (s *Store) Resolve(ctx context.Context, versionID string) (keymaterial.Material, error) {
	for _, path := range s.candidatePaths(versionID) {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return keymaterial.Material{}, fmt.Errorf("fskeystore: read %s: %w", path, err)
		}
		if len(raw) == 0 {
			return keymaterial.Material{}, fmt.Errorf("fskeystore: key file is empty: %s", path)
		}
		return keymaterial.Material{VersionID: versionID, KeyBytes: raw}, nil
	}
	return keymaterial.Material{}, keymaterial.NewNotFoundError(versionID)
}

// ResolveActive implements keymaterial.Provider.
func (s *Store) ResolveActive(ctx context.Context) (keymaterial.Material, error) {
	return s.Resolve(ctx, s.activeVersion)
}
