// Package restoretoken issues and validates the short-TTL bearer tokens a
// completed restore hands back for ciphertext retrieval (spec.md §4.5),
// following pkg/manager.TokenManager's CSPRNG-token-in-a-guarded-map shape.
package restoretoken

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/model"
)

// minTokenBytes is the CSPRNG byte length before URL-safe base64 encoding,
// matching spec.md §4.5's "at least 24 bytes."
const minTokenBytes = 24

// minTTL is the floor every issued token's TTL is clamped to, so a
// misconfigured zero or negative TTL can never make a token unusable the
// instant it's issued.
const minTTL = 1 * time.Second

// Manager holds restore-access tokens in a map guarded by a mutex, exactly
// as pkg/manager.TokenManager holds cluster join tokens, generalized from
// a role string to a (backupID, actorKeyID) binding.
type Manager struct {
	mu     sync.Mutex
	tokens map[string]model.RestoreAccessTokenRecord
	clock  clockid.Clock
}

// NewManager builds an empty Manager.
func NewManager(clock clockid.Clock) *Manager {
	return &Manager{tokens: map[string]model.RestoreAccessTokenRecord{}, clock: clock}
}

// IssueToken mints a fresh token bound to backupID and, if non-nil,
// actorKeyID (the caller who completed the restore — nil permits
// presentation by anyone holding the token). Expired records are purged
// lazily on every issue, the same "sweep on write" policy
// CleanupExpiredTokens offers explicitly in the teacher but here runs
// inline rather than on a separate timer.
func (m *Manager) IssueToken(ttl time.Duration, backupID string, actorKeyID *string) (model.RestoreAccessTokenRecord, error) {
	if ttl < minTTL {
		ttl = minTTL
	}
	raw := make([]byte, minTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return model.RestoreAccessTokenRecord{}, fmt.Errorf("restoretoken: generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := m.clock.Now()
	record := model.RestoreAccessTokenRecord{
		Token:      token,
		BackupID:   backupID,
		ActorKeyID: actorKeyID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(now)
	m.tokens[token] = record
	return record, nil
}

// ValidateToken presents token on behalf of callerKeyID (nil if the
// caller is unauthenticated at this step) and returns the bound backup ID
// and expiry on success. An expired token is deleted as a side effect of
// presentation, matching "on presentation... now >= expires_at -> delete."
func (m *Manager) ValidateToken(ctx context.Context, token string, callerKeyID *string) (backupID string, expiresAt time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.tokens[token]
	if !ok {
		return "", time.Time{}, apierr.New(
			apierr.KindValidation, "restore_token_invalid", "RESTORE_TOKEN_INVALID",
			"restore access token is unknown",
		)
	}
	now := m.clock.Now()
	if !now.Before(record.ExpiresAt) {
		delete(m.tokens, token)
		return "", time.Time{}, apierr.New(
			apierr.KindValidation, "restore_token_expired", "RESTORE_TOKEN_EXPIRED",
			"restore access token has expired",
		)
	}
	if record.ActorKeyID != nil && (callerKeyID == nil || *callerKeyID != *record.ActorKeyID) {
		return "", time.Time{}, apierr.New(
			apierr.KindAuthorization, "restore_token_forbidden", "RESTORE_TOKEN_FORBIDDEN",
			"restore access token is bound to a different caller",
		)
	}
	return record.BackupID, record.ExpiresAt, nil
}

// purgeExpiredLocked removes every record whose expiry has passed. Callers
// must hold m.mu.
func (m *Manager) purgeExpiredLocked(now time.Time) {
	for token, record := range m.tokens {
		if !now.Before(record.ExpiresAt) {
			delete(m.tokens, token)
		}
	}
}

// Count reports the number of live (possibly soon-to-expire) tokens, for
// diagnostics and tests.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}
