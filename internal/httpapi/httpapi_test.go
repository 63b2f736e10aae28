package httpapi

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/warrenguard/internal/audit"
	"github.com/cuemby/warrenguard/internal/backup"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/incident"
	"github.com/cuemby/warrenguard/internal/keymaterial/memkeystore"
	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/objectstore/memobjectstore"
	"github.com/cuemby/warrenguard/internal/policy"
	"github.com/cuemby/warrenguard/internal/principal"
	"github.com/cuemby/warrenguard/internal/restore"
	"github.com/cuemby/warrenguard/internal/restoretoken"
	"github.com/cuemby/warrenguard/internal/store"
	"github.com/cuemby/warrenguard/internal/store/memstore"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() string {
	s.n++
	return "id-" + string(rune('0'+s.n))
}

func newTestRouter(t *testing.T) (http.Handler, *memstore.Store, string) {
	t.Helper()
	st := memstore.New()
	objects := memobjectstore.New()
	keys := memkeystore.New()
	keys.Put("key-v1", []byte("0123456789abcdef0123456789abcdef"))
	keys.SetActive("key-v1")

	clock := clockid.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	auditEng := audit.NewEngine(st, clock, &seqIDs{}, zerolog.Nop())
	policyEng := policy.NewEngine(policy.DefaultTables())
	incidentEng := incident.NewEngine(st, clock, model.IncidentLevelNormal)
	tokens := restoretoken.NewManager(clock)

	backupEng := backup.NewEngine(backup.Settings{ClassificationRequired: true}, st, policyEng, auditEng, nil, keys, objects, clock, &seqIDs{})
	authResolver := principal.NewResolver(st, clock)
	restoreEng := restore.NewEngine(st, authResolver, policyEng, auditEng, incidentEng, keys, objects, tokens, 5*time.Minute)

	rawKey := "test-admin-key-0123456789"
	adminKey := makeApiKey(rawKey, model.RoleAdmin, clock)
	if err := st.InsertApiKey(context.Background(), adminKey); err != nil {
		t.Fatalf("seed api key: %v", err)
	}

	router := NewRouter(Deps{
		Logger:   zerolog.Nop(),
		Clock:    clock,
		IDs:      &seqIDs{},
		Auth:     authResolver,
		Backup:   backupEng,
		Restore:  restoreEng,
		Tokens:   tokens,
		Audit:    auditEng,
		AuditLog: st,
		Incident: incidentEng,
		Alerts:   st,
		ApiKeys:  st,
		KeyVers:  st,
		Policies: st,
		Checkers: []store.Checker{st},
	})
	return router, st, rawKey
}

func makeApiKey(rawKey string, role model.Role, clock clockid.Clock) model.ApiKey {
	sum := sha512.Sum512([]byte(rawKey))
	return model.ApiKey{
		KeyID:      "admin-1",
		KeyHash:    hex.EncodeToString(sum[:]),
		KeyPrefix:  rawKey[:8],
		Role:       role,
		Department: "security",
		IsActive:   true,
		CreatedAt:  clock.Now(),
	}
}

func TestHealthLive(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHealthReady(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSubmitBackupRequiresAuth(t *testing.T) {
	router, _, _ := newTestRouter(t)
	body := strings.NewReader(`{"classification":"SECRET","source_system":"billing-db","payload":"` + base64.StdEncoding.EncodeToString([]byte("x")) + `"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/backups", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSubmitBackupThenRestoreRoundTrip(t *testing.T) {
	router, _, rawKey := newTestRouter(t)

	payload := base64.StdEncoding.EncodeToString([]byte("classified payload"))
	body := strings.NewReader(`{"classification":"SECRET","source_system":"billing-db","payload":"` + payload + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/backups", body)
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var submitResp Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &submitResp); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	data := submitResp.Data.(map[string]any)
	backupID := data["backup_id"].(string)

	restoreBody := strings.NewReader(`{"backup_id":"` + backupID + `"}`)
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/restores", restoreBody)
	req2.Header.Set("X-API-Key", rawKey)
	req2.Header.Set("X-MFA-Token", "mfa:admin-1")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("restore status = %d, body = %s", rec2.Code, rec2.Body.String())
	}
	var restoreResp Envelope
	if err := json.Unmarshal(rec2.Body.Bytes(), &restoreResp); err != nil {
		t.Fatalf("decode restore response: %v", err)
	}
	restoreData := restoreResp.Data.(map[string]any)
	if restoreData["status"] != "restore_completed" {
		t.Fatalf("status = %v, want restore_completed", restoreData["status"])
	}
	token := restoreData["restore_token"].(string)

	req3 := httptest.NewRequest(http.MethodGet, "/api/v1/restores/access/"+token, nil)
	req3.Header.Set("X-API-Key", rawKey)
	rec3 := httptest.NewRecorder()
	router.ServeHTTP(rec3, req3)
	if rec3.Code != http.StatusOK {
		t.Fatalf("exchange status = %d, body = %s", rec3.Code, rec3.Body.String())
	}
}

func TestSubmitBackupSourceSystemLengthBoundary(t *testing.T) {
	router, _, rawKey := newTestRouter(t)
	payload := base64.StdEncoding.EncodeToString([]byte("x"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/backups",
		strings.NewReader(`{"classification":"PUBLIC","source_system":"a","payload":"`+payload+`"}`))
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("source_system length 1: status = %d, want 422, body = %s", rec.Code, rec.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/backups",
		strings.NewReader(`{"classification":"PUBLIC","source_system":"ab","payload":"`+payload+`"}`))
	req2.Header.Set("X-API-Key", rawKey)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("source_system length 2: status = %d, want 200, body = %s", rec2.Code, rec2.Body.String())
	}
}

func TestSubmitBackupDescriptionTooLong(t *testing.T) {
	router, _, rawKey := newTestRouter(t)
	payload := base64.StdEncoding.EncodeToString([]byte("x"))
	longDescription := strings.Repeat("d", 256)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/backups",
		strings.NewReader(`{"classification":"PUBLIC","source_system":"billing-db","description":"`+longDescription+`","payload":"`+payload+`"}`))
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAdminIncidentTransition(t *testing.T) {
	router, _, rawKey := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/incident", strings.NewReader(`{"level":"QUARANTINE","reason":"testing"}`))
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAdminIncidentInvalidTransitionMapsToDocumentedCode(t *testing.T) {
	router, _, rawKey := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/incident", strings.NewReader(`{"level":"NORMAL"}`))
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != "INCIDENT_TRANSITION_INVALID" {
		t.Fatalf("error = %+v, want INCIDENT_TRANSITION_INVALID", resp.Error)
	}
}
