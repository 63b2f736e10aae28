// Package keymaterial resolves the raw key bytes behind a key-version id,
// the one seam internal/keymgmt and internal/backup/internal/restore
// share for obtaining encryption key material (spec.md §4.2 step 4,
// §4.3 step 7d).
package keymaterial

import "context"

// Material is one key version's raw key bytes, before HKDF normalization
// (internal/crypto/aead.NormalizeKey) into an AES-256 key.
type Material struct {
	VersionID string
	KeyBytes  []byte
}

// Provider resolves key material by version id.
type Provider interface {
	Resolve(ctx context.Context, versionID string) (Material, error)
	// ResolveActive resolves whichever version this provider considers
	// its default, for callers that don't yet have a version id (the
	// direct-key-store fallback path spec.md §4.2 step 4 allows when key
	// management is unavailable).
	ResolveActive(ctx context.Context) (Material, error)
}

// notFoundError signals that no material exists for the requested version.
type notFoundError struct{ versionID string }

func (e notFoundError) Error() string { return "keymaterial: not found: " + e.versionID }

// NewNotFoundError builds the sentinel a Provider returns when a version
// cannot be resolved.
func NewNotFoundError(versionID string) error { return notFoundError{versionID: versionID} }

// Resolvability adapts any Provider to internal/keymgmt's
// KeyMaterialResolver capability (a plain existence check keymgmt needs
// before committing a rotation), without keymgmt importing this package.
type Resolvability struct {
	Provider Provider
}

// Resolvable reports whether versionID's key material can be resolved.
func (r Resolvability) Resolvable(ctx context.Context, versionID string) bool {
	_, err := r.Provider.Resolve(ctx, versionID)
	return err == nil
}
