package principal

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/model"
)

type memStore struct {
	keys    map[string]model.ApiKey
	updated []model.ApiKey
}

func newMemStore(keys ...model.ApiKey) *memStore {
	m := &memStore{keys: map[string]model.ApiKey{}}
	for _, k := range keys {
		m.keys[k.KeyID] = k
	}
	return m
}

func (m *memStore) ListApiKeysByPrefix(ctx context.Context, prefix string) ([]model.ApiKey, error) {
	var out []model.ApiKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) UpdateApiKey(ctx context.Context, k model.ApiKey) error {
	m.keys[k.KeyID] = k
	m.updated = append(m.updated, k)
	return nil
}

func hashOf(raw string) string {
	sum := sha512.Sum512([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func apiErrCategory(t *testing.T, err error) string {
	t.Helper()
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apierr.Error, got %T: %v", err, err)
	}
	return ae.ReasonCategory
}

func TestAuthenticateSuccessUpdatesLastUsed(t *testing.T) {
	raw := "key-abc12345-secret"
	key := model.ApiKey{
		KeyID: "k1", KeyHash: hashOf(raw), KeyPrefix: raw[:8],
		Role: model.RoleOperator, IsActive: true,
	}
	store := newMemStore(key)
	clock := clockid.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewResolver(store, clock)

	p, _, err := r.Authenticate(context.Background(), raw, "10.0.0.1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.KeyID != "k1" || p.Role != model.RoleOperator {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if len(store.updated) != 1 || store.updated[0].LastUsedAt == nil {
		t.Fatal("expected LastUsedAt to be recorded")
	}
}

func TestAuthenticateMissingKey(t *testing.T) {
	r := NewResolver(newMemStore(), clockid.Fixed{At: time.Unix(0, 0)})
	_, _, err := r.Authenticate(context.Background(), "", "")
	if cat := apiErrCategory(t, err); cat != "missing_key" {
		t.Fatalf("category = %q, want missing_key", cat)
	}
}

func TestAuthenticateUnknownKey(t *testing.T) {
	r := NewResolver(newMemStore(), clockid.Fixed{At: time.Unix(0, 0)})
	_, _, err := r.Authenticate(context.Background(), "nobody-has-this-key", "")
	if cat := apiErrCategory(t, err); cat != "key_not_found" {
		t.Fatalf("category = %q, want key_not_found", cat)
	}
}

func TestAuthenticateRevokedKey(t *testing.T) {
	raw := "revoked1-secret"
	key := model.ApiKey{KeyID: "k1", KeyHash: hashOf(raw), KeyPrefix: raw[:8], IsActive: false}
	r := NewResolver(newMemStore(key), clockid.Fixed{At: time.Unix(0, 0)})
	_, _, err := r.Authenticate(context.Background(), raw, "")
	if cat := apiErrCategory(t, err); cat != "revoked" {
		t.Fatalf("category = %q, want revoked", cat)
	}
}

func TestAuthenticateExpiredKey(t *testing.T) {
	raw := "expired1-secret"
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	key := model.ApiKey{KeyID: "k1", KeyHash: hashOf(raw), KeyPrefix: raw[:8], IsActive: true, ExpiresAt: &past}
	r := NewResolver(newMemStore(key), clockid.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	_, _, err := r.Authenticate(context.Background(), raw, "")
	if cat := apiErrCategory(t, err); cat != "expired" {
		t.Fatalf("category = %q, want expired", cat)
	}
}

func TestAuthenticateIPNotAllowed(t *testing.T) {
	raw := "ipcheck1-secret"
	key := model.ApiKey{
		KeyID: "k1", KeyHash: hashOf(raw), KeyPrefix: raw[:8], IsActive: true,
		AllowedIPs: []string{"10.0.0.5"},
	}
	r := NewResolver(newMemStore(key), clockid.Fixed{At: time.Unix(0, 0)})
	_, _, err := r.Authenticate(context.Background(), raw, "10.0.0.9")
	if cat := apiErrCategory(t, err); cat != "ip_not_allowed" {
		t.Fatalf("category = %q, want ip_not_allowed", cat)
	}
}

func TestValidateMFA(t *testing.T) {
	r := NewResolver(newMemStore(), clockid.Fixed{At: time.Unix(0, 0)})
	p := &model.Principal{KeyID: "admin-key", Role: model.RoleAdmin}

	if err := r.ValidateMFA(p, "mfa:admin-key"); err != nil {
		t.Fatalf("expected valid MFA token to pass: %v", err)
	}
	if err := r.ValidateMFA(p, "wrong-token"); err == nil {
		t.Fatal("expected invalid MFA token to fail")
	} else if cat := apiErrCategory(t, err); cat != "MFA_INVALID" {
		t.Fatalf("category = %q, want MFA_INVALID", cat)
	}
	if err := r.ValidateMFA(p, ""); err == nil {
		t.Fatal("expected missing MFA token to fail")
	} else if cat := apiErrCategory(t, err); cat != "MFA_REQUIRED" {
		t.Fatalf("category = %q, want MFA_REQUIRED", cat)
	}
	if err := r.ValidateMFA(nil, "mfa:admin-key"); err == nil {
		t.Fatal("expected nil principal to fail")
	}
}
