// Package fsstore is a filesystem-backed objectstore.Store, the reference
// blob-store implementation for single-node deployments and tests.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/warrenguard/internal/objectstore"
)

// Store writes each object as one file under a root directory, following
// the candidate-path-under-a-root-directory layout the original system's
// FileSystemKeyStore uses for key material, generalized to blob objects.
type Store struct {
	root string
}

var _ objectstore.Store = (*Store)(nil)

// New builds a Store rooted at root, creating the directory if absent.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("fsstore: create root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(objectName string) (string, error) {
	clean := filepath.Clean(objectName)
	if clean == "." || filepath.IsAbs(clean) || containsTraversal(clean) {
		return "", fmt.Errorf("fsstore: invalid object name %q", objectName)
	}
	return filepath.Join(s.root, clean), nil
}

func containsTraversal(clean string) bool {
	for _, part := range strings.Split(clean, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	return false
}

// Put implements objectstore.Store.
func (s *Store) Put(ctx context.Context, objectName string, blob []byte) error {
	path, err := s.path(objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("fsstore: create parent dir: %w", err)
	}
	// Write via a temp file and rename, so a crash mid-write never leaves
	// a partially-written blob visible at objectName.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0600); err != nil {
		return fmt.Errorf("fsstore: write %s: %w", objectName, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("fsstore: commit %s: %w", objectName, err)
	}
	return nil
}

// Get implements objectstore.Store.
func (s *Store) Get(ctx context.Context, objectName string) ([]byte, error) {
	path, err := s.path(objectName)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, objectstore.ErrNotFound
		}
		return nil, fmt.Errorf("fsstore: read %s: %w", objectName, err)
	}
	return data, nil
}

// Delete implements objectstore.Store.
func (s *Store) Delete(ctx context.Context, objectName string) error {
	path, err := s.path(objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("fsstore: delete %s: %w", objectName, err)
	}
	return nil
}
