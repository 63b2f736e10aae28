package httpapi

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/store"
)

// Deps bundles every capability the router needs to wire spec.md §6's
// routes onto the core engines. Every field is a narrow interface, not a
// concrete engine type, so callers (cmd/gatewayd and tests) can substitute
// fakes without importing every core package.
type Deps struct {
	Logger zerolog.Logger
	Clock  clockid.Clock
	IDs    clockid.IDProvider

	Auth     PrincipalResolver
	Backup   BackupEngine
	Restore  RestoreEngine
	Tokens   RestoreTokenValidator
	Audit    AuditEngine
	AuditLog AuditStore
	Incident IncidentEngine
	Alerts   AlertStore
	ApiKeys  ApiKeyStore
	KeyVers  KeyVersionStore
	KeyMgmt  KeyMgmtEngine
	Policies PolicyStore
	Checkers []store.Checker
}

// NewRouter builds the full /api/v1 surface over an http.ServeMux, using
// Go's method+pattern routing (net/http.ServeMux as of Go 1.22) the same
// way the teacher's pkg/api.HealthServer composes its mux, generalized
// from two routes to the full admin and data-plane surface.
func NewRouter(deps Deps) http.Handler {
	mux := http.NewServeMux()

	health := &healthHandlers{checkers: deps.Checkers}
	mux.HandleFunc("GET /api/v1/health/live", health.live)
	mux.HandleFunc("GET /api/v1/health/ready", health.ready)

	backupH := &backupHandlers{engine: deps.Backup}
	restoreH := &restoreHandlers{engine: deps.Restore, tokens: deps.Tokens}
	auditH := &auditHandlers{engine: deps.Audit, store: deps.AuditLog}
	incidentH := &incidentHandlers{engine: deps.Incident}
	alertH := &alertHandlers{store: deps.Alerts}
	apiKeyH := &apiKeyHandlers{store: deps.ApiKeys, clock: deps.Clock, ids: deps.IDs}
	keyVerH := &keyVersionHandlers{store: deps.KeyVers, engine: deps.KeyMgmt}
	policyH := &policyHandlers{store: deps.Policies, clock: deps.Clock, ids: deps.IDs}

	protected := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, chain(h, requireAuth(deps.Auth)))
	}

	protected("POST /api/v1/backups", backupH.submit)
	protected("POST /api/v1/restores", restoreH.start)
	protected("GET /api/v1/restores/access/{token}", restoreH.exchange)

	protected("GET /api/v1/audit/chain/validate", auditH.validateChain)
	protected("GET /api/v1/audit/entries", auditH.listEntries)
	protected("GET /api/v1/audit/summary", auditH.summary)

	protected("GET /api/v1/admin/incident", incidentH.get)
	protected("PUT /api/v1/admin/incident", incidentH.put)

	protected("GET /api/v1/admin/alerts", alertH.list)
	protected("PUT /api/v1/admin/alerts/{id}/status", alertH.updateStatus)

	protected("POST /api/v1/admin/keys", apiKeyH.create)
	protected("GET /api/v1/admin/keys", apiKeyH.list)
	protected("POST /api/v1/admin/keys/{id}/revoke", apiKeyH.revoke)

	protected("GET /api/v1/admin/keys/versions", keyVerH.list)
	protected("POST /api/v1/admin/keys/versions/rotate", keyVerH.rotate)
	protected("POST /api/v1/admin/keys/versions/{id}/crypto-shred", keyVerH.shred)
	protected("GET /api/v1/admin/keys/versions/{id}/crypto-shred-outcome", keyVerH.shredOutcome)
	protected("GET /api/v1/admin/keys/versions/{id}", keyVerH.get)

	protected("POST /api/v1/admin/policies", policyH.create)
	protected("GET /api/v1/admin/policies", policyH.list)
	protected("GET /api/v1/admin/policies/{id}", policyH.get)
	protected("PUT /api/v1/admin/policies/{id}", policyH.put)

	return chain(mux, withRequestID(deps.IDs), withAccessLog(deps.Logger), withRecover(deps.Logger))
}
