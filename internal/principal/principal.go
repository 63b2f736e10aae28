// Package principal resolves an authenticated caller from a presented API
// key and validates MFA tokens (spec.md §4.1 auth, §4.3 step 1), following
// auth_service.py's authenticate() ordering of checks.
package principal

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/model"
)

// minKeyPrefixLen matches auth_service.py's raw_key[:8] prefix slice.
const minKeyPrefixLen = 8

// Store is the persistence seam principal needs.
type Store interface {
	ListApiKeysByPrefix(ctx context.Context, prefix string) ([]model.ApiKey, error)
	UpdateApiKey(ctx context.Context, k model.ApiKey) error
}

// Resolver authenticates presented API keys and validates MFA tokens.
type Resolver struct {
	store Store
	clock clockid.Clock
}

// NewResolver builds a Resolver.
func NewResolver(store Store, clock clockid.Clock) *Resolver {
	return &Resolver{store: store, clock: clock}
}

// Authenticate resolves a Principal from rawKey and clientIP, following
// authenticate()'s check order exactly: missing key, unknown hash,
// revoked, expired, then IP allow-list. Every branch's caller is expected
// to audit the outcome; Authenticate itself only decides.
func (r *Resolver) Authenticate(ctx context.Context, rawKey, clientIP string) (*model.Principal, string, error) {
	prefix := keyPrefix(rawKey)
	if rawKey == "" {
		return nil, prefix, apierr.New(
			apierr.KindAuthentication, "auth_invalid_key", "missing_key",
			"missing API key",
		)
	}

	keyHash := hashKey(rawKey)
	candidates, err := r.store.ListApiKeysByPrefix(ctx, prefix)
	if err != nil {
		return nil, prefix, fmt.Errorf("principal: list api keys by prefix: %w", err)
	}
	var record *model.ApiKey
	for i := range candidates {
		if subtle.ConstantTimeCompare([]byte(candidates[i].KeyHash), []byte(keyHash)) == 1 {
			record = &candidates[i]
			break
		}
	}
	if record == nil {
		return nil, prefix, apierr.New(
			apierr.KindAuthentication, "auth_invalid_key", "key_not_found",
			"invalid API key",
		)
	}

	if !record.IsActive {
		return nil, record.KeyPrefix, apierr.New(
			apierr.KindAuthentication, "auth_invalid_key", "revoked",
			"revoked API key",
		)
	}

	now := r.clock.Now()
	if record.ExpiresAt != nil && !record.ExpiresAt.After(now) {
		return nil, record.KeyPrefix, apierr.New(
			apierr.KindAuthentication, "auth_invalid_key", "expired",
			"expired API key",
		)
	}

	if len(record.AllowedIPs) > 0 && !ipAllowed(record.AllowedIPs, clientIP) {
		return nil, record.KeyPrefix, apierr.New(
			apierr.KindAuthentication, "auth_invalid_key", "ip_not_allowed",
			"API key not allowed from this IP",
		)
	}

	updated := *record
	updated.LastUsedAt = &now
	if clientIP != "" {
		updated.LastUsedIP = &clientIP
	}
	if err := r.store.UpdateApiKey(ctx, updated); err != nil {
		return nil, record.KeyPrefix, fmt.Errorf("principal: update last-used: %w", err)
	}

	return &model.Principal{KeyID: record.KeyID, Role: record.Role, Department: record.Department}, record.KeyPrefix, nil
}

// ValidateMFA checks the MFA token presented alongside a sensitive
// operation. The source system's MFA provider is out of scope (spec.md
// leaves the factor mechanism unspecified); this binds a token to the
// authenticating principal by requiring the literal form "mfa:<key_id>",
// the same shape spec.md's own worked examples use (e.g. "mfa:admin-key"
// for principal key_id "admin-key"). principal must be non-nil: MFA
// always follows a resolved Principal in every pipeline that calls it.
func (r *Resolver) ValidateMFA(principal *model.Principal, mfaToken string) error {
	if principal == nil {
		return apierr.New(apierr.KindMFA, "mfa_required", "MFA_REQUIRED", "MFA token required")
	}
	if mfaToken == "" {
		return apierr.New(apierr.KindMFA, "mfa_required", "MFA_REQUIRED", "MFA token required")
	}
	want := "mfa:" + principal.KeyID
	if subtle.ConstantTimeCompare([]byte(mfaToken), []byte(want)) != 1 {
		return apierr.New(apierr.KindMFA, "mfa_invalid", "MFA_INVALID", "invalid MFA token")
	}
	return nil
}

func keyPrefix(rawKey string) string {
	if len(rawKey) <= minKeyPrefixLen {
		return rawKey
	}
	return rawKey[:minKeyPrefixLen]
}

func hashKey(rawKey string) string {
	sum := sha512.Sum512([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

func ipAllowed(allowed []string, clientIP string) bool {
	if clientIP == "" {
		return false
	}
	for _, ip := range allowed {
		if strings.TrimSpace(ip) == clientIP {
			return true
		}
	}
	return false
}
