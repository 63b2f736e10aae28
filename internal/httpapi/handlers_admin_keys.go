package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/keymgmt"
	"github.com/cuemby/warrenguard/internal/model"
)

// apiKeyRawBytes is the CSPRNG length before base64 encoding, matching
// internal/restoretoken's minTokenBytes convention for bearer secrets.
const apiKeyRawBytes = 24

// ApiKeyStore is the internal/store.Store subset API-key administration
// needs (SPEC_FULL.md supplemented feature 1).
type ApiKeyStore interface {
	GetApiKey(ctx context.Context, keyID string) (*model.ApiKey, bool, error)
	InsertApiKey(ctx context.Context, k model.ApiKey) error
	UpdateApiKey(ctx context.Context, k model.ApiKey) error
	ListApiKeys(ctx context.Context) ([]model.ApiKey, error)
}

type apiKeyHandlers struct {
	store ApiKeyStore
	clock clockid.Clock
	ids   clockid.IDProvider
}

type createApiKeyRequest struct {
	Role       model.Role `json:"role"`
	Department string     `json:"department"`
	AllowedIPs []string   `json:"allowed_ips"`
	TTL        *string    `json:"ttl"` // Go duration string, e.g. "8760h"; nil means no expiry
}

func (h *apiKeyHandlers) create(w http.ResponseWriter, r *http.Request) {
	var body createApiKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "malformed_body", "request body is not valid JSON"))
		return
	}
	if !body.Role.Valid() {
		body.Role = model.RoleOperator
	}

	raw := make([]byte, apiKeyRawBytes)
	if _, err := rand.Read(raw); err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "API_KEY_GENERATION_FAILED", "csprng_failure", "failed to generate API key", err))
		return
	}
	rawKey := base64.RawURLEncoding.EncodeToString(raw)
	hashSum := sha512.Sum512([]byte(rawKey))
	keyHash := hex.EncodeToString(hashSum[:])
	prefixLen := 8
	if len(rawKey) < prefixLen {
		prefixLen = len(rawKey)
	}

	now := h.clock.Now()
	var expiresAt *time.Time
	if body.TTL != nil {
		d, err := time.ParseDuration(*body.TTL)
		if err != nil {
			writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "invalid_ttl", "request validation failed").
				WithDetails(apierr.Detail{Loc: []string{"body", "ttl"}, Msg: "must be a Go duration string", Type: "value_error"}))
			return
		}
		exp := now.Add(d)
		expiresAt = &exp
	}

	key := model.ApiKey{
		KeyID:      h.ids.NewID(),
		KeyHash:    keyHash,
		KeyPrefix:  rawKey[:prefixLen],
		Role:       body.Role,
		Department: body.Department,
		IsActive:   true,
		AllowedIPs: body.AllowedIPs,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
	}
	if err := h.store.InsertApiKey(r.Context(), key); err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "API_KEY_GENERATION_FAILED", "store_write_failed", "failed to persist API key", err))
		return
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"key_id":   key.KeyID,
		"raw_key":  rawKey, // shown exactly once, spec.md §6
		"role":     key.Role,
		"prefix":   key.KeyPrefix,
	})
}

func (h *apiKeyHandlers) list(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListApiKeys(r.Context())
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "API_KEYS_UNAVAILABLE", "store_read_failed", "failed to list API keys", err))
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"keys": keys})
}

// revoke implements POST /admin/keys/{id}/revoke.
func (h *apiKeyHandlers) revoke(w http.ResponseWriter, r *http.Request) {
	keyID := r.PathValue("id")
	key, found, err := h.store.GetApiKey(r.Context(), keyID)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "API_KEYS_UNAVAILABLE", "store_read_failed", "failed to read API key", err))
		return
	}
	if !found {
		writeError(w, r, apierr.New(apierr.KindNotFound, "API_KEY_NOT_FOUND", "api_key_not_found", "API key not found"))
		return
	}
	key.IsActive = false
	if err := h.store.UpdateApiKey(r.Context(), *key); err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "API_KEYS_UNAVAILABLE", "store_write_failed", "failed to revoke API key", err))
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"key_id": key.KeyID, "is_active": false})
}

// KeyVersionStore is the internal/store.Store subset key-version
// administration needs beyond what internal/keymgmt already wraps.
type KeyVersionStore interface {
	GetKeyVersion(ctx context.Context, versionID string) (*model.KeyVersion, bool, error)
	ListKeyVersions(ctx context.Context) ([]model.KeyVersion, error)
}

// KeyMgmtEngine is the internal/keymgmt seam this boundary needs.
type KeyMgmtEngine interface {
	RotateActiveVersion(ctx context.Context, toVersionID string, actor *string, reason *string, clientIP *string) (keymgmt.RotationResult, error)
	ExecuteCryptoShred(ctx context.Context, versionID string, principal *model.Principal, mfaToken, confirmation string, clientIP *string) (keymgmt.ShredResult, error)
}

type keyVersionHandlers struct {
	store  KeyVersionStore
	engine KeyMgmtEngine
}

func (h *keyVersionHandlers) list(w http.ResponseWriter, r *http.Request) {
	versions, err := h.store.ListKeyVersions(r.Context())
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "KEY_VERSIONS_UNAVAILABLE", "store_read_failed", "failed to list key versions", err))
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"versions": versions})
}

func (h *keyVersionHandlers) get(w http.ResponseWriter, r *http.Request) {
	versionID := r.PathValue("id")
	version, found, err := h.store.GetKeyVersion(r.Context(), versionID)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "KEY_VERSIONS_UNAVAILABLE", "store_read_failed", "failed to read key version", err))
		return
	}
	if !found {
		writeError(w, r, apierr.New(apierr.KindNotFound, "KEY_VERSION_NOT_FOUND", "key_version_not_found", "key version not found"))
		return
	}
	writeData(w, r, http.StatusOK, version)
}

func (h *keyVersionHandlers) shredOutcome(w http.ResponseWriter, r *http.Request) {
	versionID := r.PathValue("id")
	version, found, err := h.store.GetKeyVersion(r.Context(), versionID)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "KEY_VERSIONS_UNAVAILABLE", "store_read_failed", "failed to read key version", err))
		return
	}
	if !found {
		writeError(w, r, apierr.New(apierr.KindNotFound, "KEY_VERSION_NOT_FOUND", "key_version_not_found", "key version not found"))
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{
		"version_id":   version.VersionID,
		"is_destroyed": version.IsDestroyed,
		"destroyed_at": version.DestroyedAt,
	})
}

type rotateKeyRequest struct {
	ToVersionID string  `json:"to_version_id"`
	Reason      *string `json:"reason"`
}

func (h *keyVersionHandlers) rotate(w http.ResponseWriter, r *http.Request) {
	var body rotateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "malformed_body", "request body is not valid JSON"))
		return
	}
	var actor *string
	if principal := principalFromContext(r); principal != nil {
		actor = &principal.KeyID
	}
	ip := clientIP(r)
	result, err := h.engine.RotateActiveVersion(r.Context(), body.ToVersionID, actor, body.Reason, &ip)
	if err != nil {
		writeError(w, r, withFallbackCode(err, "KEY_ROTATION_INVALID"))
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"from_version": result.FromVersion, "to_version": result.ToVersion})
}

type cryptoShredRequest struct {
	Confirmation string `json:"confirmation"`
}

func (h *keyVersionHandlers) shred(w http.ResponseWriter, r *http.Request) {
	versionID := r.PathValue("id")
	var body cryptoShredRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "malformed_body", "request body is not valid JSON"))
		return
	}
	ip := clientIP(r)
	result, err := h.engine.ExecuteCryptoShred(r.Context(), versionID, principalFromContext(r), mfaToken(r), body.Confirmation, &ip)
	if err != nil {
		fallback := "CRYPTO_SHRED_DENIED"
		if ae, ok := err.(*apierr.Error); ok && ae.Kind == apierr.KindNotFound {
			fallback = "KEY_VERSION_NOT_FOUND"
		}
		writeError(w, r, withFallbackCode(err, fallback))
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{
		"version_id":       result.VersionID,
		"affected_backups": result.AffectedBackups,
		"incident_effect":  result.IncidentEffect,
	})
}
