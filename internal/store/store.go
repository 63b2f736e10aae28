// Package store defines the capability interfaces every core component
// depends on for transactional persistence of backup, key-version,
// incident, alert, audit, api-key, and policy records (spec.md §3). Two
// implementations exist: internal/store/boltstore (production, backed by
// go.etcd.io/bbolt) and internal/store/memstore (in-memory test doubles).
//
// Following the teacher's pkg/storage.Store shape, one combined Store
// interface declares entity-prefixed method names (InsertBackup,
// GetKeyVersion, ...) rather than generic CRUD names repeated per entity,
// so a single implementation type can satisfy the whole interface without
// method-name collisions.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/warrenguard/internal/model"
)

// ListBackupsFilter narrows ListBackups; zero-value fields mean "no filter
// on this dimension."
type ListBackupsFilter struct {
	Status         *model.BackupStatus
	Classification *model.Classification
	KeyVersion     *string
	Offset         int
	Limit          int
}

// ListAlertsFilter narrows ListAlerts.
type ListAlertsFilter struct {
	Status *model.AlertStatus
	RuleID *string
	Offset int
	Limit  int
}

// Store is the full metadata persistence surface. Audit-chain persistence
// (Cursor/Insert/Entries) lives on the separate audit.Store interface;
// production and in-memory implementations satisfy both.
type Store interface {
	// Backups
	InsertBackup(ctx context.Context, m model.BackupMetadata) error
	UpdateBackup(ctx context.Context, m model.BackupMetadata) error
	GetBackup(ctx context.Context, backupID string) (*model.BackupMetadata, bool, error)
	ListBackups(ctx context.Context, filter ListBackupsFilter) ([]model.BackupMetadata, error)

	// Key versions
	GetKeyVersion(ctx context.Context, versionID string) (*model.KeyVersion, bool, error)
	GetActiveKeyVersion(ctx context.Context) (*model.KeyVersion, bool, error)
	ListKeyVersions(ctx context.Context) ([]model.KeyVersion, error)
	PutKeyVersion(ctx context.Context, kv model.KeyVersion) error
	// RotateActiveKeyVersion atomically deactivates the current active
	// version (if any) and activates toVersionID, enforcing the
	// at-most-one-active invariant from spec.md §4.4.
	RotateActiveKeyVersion(ctx context.Context, toVersionID string, activatedAt time.Time) error
	// MarkKeyVersionDestroyed atomically marks versionID destroyed.
	// Crypto-shred does not call it: it goes through
	// ShredExecutor.ExecuteCryptoShred, which marks the version and its
	// backups in one transactional span.
	MarkKeyVersionDestroyed(ctx context.Context, versionID string, destroyedAt time.Time) error

	// Incident history
	CurrentIncident(ctx context.Context) (model.IncidentState, error)
	AppendIncident(ctx context.Context, s model.IncidentState) error

	// Alerts
	FindAlertByDedupeKey(ctx context.Context, dedupeKey string) (*model.Alert, bool, error)
	InsertAlert(ctx context.Context, a model.Alert) error
	UpdateAlert(ctx context.Context, a model.Alert) error
	GetAlert(ctx context.Context, alertID string) (*model.Alert, bool, error)
	ListAlerts(ctx context.Context, filter ListAlertsFilter) ([]model.Alert, error)

	// API keys
	GetApiKey(ctx context.Context, keyID string) (*model.ApiKey, bool, error)
	// ListApiKeysByPrefix returns every key sharing prefix, for the
	// presented-key lookup in internal/principal (which then compares a
	// constant-time hash, never trusting the prefix alone).
	ListApiKeysByPrefix(ctx context.Context, prefix string) ([]model.ApiKey, error)
	InsertApiKey(ctx context.Context, k model.ApiKey) error
	UpdateApiKey(ctx context.Context, k model.ApiKey) error
	ListApiKeys(ctx context.Context) ([]model.ApiKey, error)

	// Policies (SPEC_FULL.md supplemented feature 2)
	GetPolicy(ctx context.Context, policyID string) (*model.PolicyRecord, bool, error)
	PutPolicy(ctx context.Context, p model.PolicyRecord) error
	ListPolicies(ctx context.Context) ([]model.PolicyRecord, error)

	// Close releases underlying resources (file handles, connections).
	Close() error
}

// EventCounter is an optional capability an audit.Store implementation may
// provide: efficient counting of matching entries in a time window, used
// by internal/monitoring as a fast path ahead of a local sliding window
// (spec.md §4.8, SPEC_FULL.md supplemented feature 7).
type EventCounter interface {
	CountEvents(ctx context.Context, action string, actorKeyID *string, since time.Time) (int, error)
}

// Checker is a dependency health check used by the readiness probe
// (SPEC_FULL.md supplemented feature 5), generalizing pkg/health's
// HTTPChecker pattern to any backing dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// ErrShredKeyNotFound and ErrShredAlreadyDestroyed are the two
// re-read-under-transaction outcomes crypto-shred must distinguish
// (spec.md §4.4); any other error from ShredExecutor is a server error.
var (
	ErrShredKeyNotFound      = fmt.Errorf("store: key version not found")
	ErrShredAlreadyDestroyed = fmt.Errorf("store: key version already destroyed")
)

// ShredExecutor performs the atomic crypto-shred transition: marking a key
// version destroyed and every BackupMetadata bound to it IRREVERSIBLE, in
// one transactional span covering both entities (spec.md §4.4's "atomic
// transition inside one transaction if metadata and key-version stores
// share it"). Returns the number of backups marked IRREVERSIBLE.
type ShredExecutor interface {
	ExecuteCryptoShred(ctx context.Context, versionID string, shreddedAt time.Time) (affectedBackups int, err error)
}
