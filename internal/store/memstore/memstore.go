// Package memstore provides in-memory implementations of every
// internal/store and internal/audit capability interface, for unit tests
// that exercise pipeline logic without a bbolt file on disk. Mirrors
// production bbolt semantics closely enough to catch logic bugs: a single
// mutex serializes access, matching the single-writer-transaction model
// internal/store/boltstore provides for real.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/warrenguard/internal/audit"
	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/store"
)

// Store bundles every capability interface behind one mutex, the way a
// single bbolt.DB file backs every bucket in production.
type Store struct {
	mu sync.Mutex

	auditEntries []model.AuditEntry
	auditIndex   map[int64]bool
	auditHashes  map[string]bool

	backups map[string]model.BackupMetadata

	keyVersions map[string]model.KeyVersion
	activeKeyID string

	incidentHistory []model.IncidentState

	alerts map[string]model.Alert

	apiKeys map[string]model.ApiKey

	policies map[string]model.PolicyRecord
}

var (
	_ audit.Store        = (*Store)(nil)
	_ store.Store        = (*Store)(nil)
	_ store.EventCounter = (*Store)(nil)
	_ store.Checker      = (*Store)(nil)
	_ store.ShredExecutor = (*Store)(nil)
)

// New builds an empty Store.
func New() *Store {
	return &Store{
		auditIndex:  map[int64]bool{},
		auditHashes: map[string]bool{},
		backups:     map[string]model.BackupMetadata{},
		keyVersions: map[string]model.KeyVersion{},
		alerts:      map[string]model.Alert{},
		apiKeys:     map[string]model.ApiKey{},
		policies:    map[string]model.PolicyRecord{},
	}
}

// --- audit.Store ---

func (s *Store) Cursor(ctx context.Context) (int64, *string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.auditEntries) == 0 {
		return 0, nil, nil
	}
	last := s.auditEntries[len(s.auditEntries)-1]
	h := last.EntryHash
	return last.ChainIndex, &h, nil
}

func (s *Store) Insert(ctx context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditIndex[entry.ChainIndex] || s.auditHashes[entry.EntryHash] {
		return audit.ErrConflict
	}
	s.auditIndex[entry.ChainIndex] = true
	s.auditHashes[entry.EntryHash] = true
	s.auditEntries = append(s.auditEntries, entry)
	return nil
}

func (s *Store) Entries(ctx context.Context, after int64, limit int) ([]model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range s.auditEntries {
		if e.ChainIndex > after {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// CountEvents implements store.EventCounter as the reference
// implementation of the audit-store fast path.
func (s *Store) CountEvents(ctx context.Context, action string, actorKeyID *string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, e := range s.auditEntries {
		if e.Action != action {
			continue
		}
		if e.CreatedAt.Before(since) {
			continue
		}
		if !samePtr(e.ActorKeyID, actorKeyID) {
			continue
		}
		count++
	}
	return count, nil
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// --- MetadataStore ---

func (s *Store) InsertBackup(ctx context.Context, m model.BackupMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backups[m.BackupID] = m
	return nil
}

func (s *Store) UpdateBackup(ctx context.Context, m model.BackupMetadata) error {
	return s.InsertBackup(ctx, m)
}

func (s *Store) GetBackup(ctx context.Context, backupID string) (*model.BackupMetadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.backups[backupID]
	if !ok {
		return nil, false, nil
	}
	return &m, true, nil
}

func (s *Store) ListBackups(ctx context.Context, filter store.ListBackupsFilter) ([]model.BackupMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BackupMetadata
	for _, m := range s.backups {
		if filter.Status != nil && m.Status != *filter.Status {
			continue
		}
		if filter.Classification != nil && m.Classification != *filter.Classification {
			continue
		}
		if filter.KeyVersion != nil && (m.KeyVersion == nil || *m.KeyVersion != *filter.KeyVersion) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, filter.Offset, filter.Limit), nil
}

func paginate(all []model.BackupMetadata, offset, limit int) []model.BackupMetadata {
	if offset >= len(all) {
		return nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

// --- KeyVersionStore ---

func (s *Store) GetKeyVersion(ctx context.Context, versionID string) (*model.KeyVersion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kv, ok := s.keyVersions[versionID]
	if !ok {
		return nil, false, nil
	}
	return &kv, true, nil
}

func (s *Store) GetActiveKeyVersion(ctx context.Context) (*model.KeyVersion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeKeyID == "" {
		return nil, false, nil
	}
	kv := s.keyVersions[s.activeKeyID]
	return &kv, true, nil
}

func (s *Store) ListKeyVersions(ctx context.Context) ([]model.KeyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.KeyVersion, 0, len(s.keyVersions))
	for _, kv := range s.keyVersions {
		out = append(out, kv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) PutKeyVersion(ctx context.Context, kv model.KeyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyVersions[kv.VersionID] = kv
	if kv.IsActive {
		s.activeKeyID = kv.VersionID
	}
	return nil
}

func (s *Store) RotateActiveKeyVersion(ctx context.Context, toVersionID string, activatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.keyVersions[toVersionID]
	if !ok {
		return errNotFound("key version", toVersionID)
	}
	if s.activeKeyID != "" {
		if prev, ok := s.keyVersions[s.activeKeyID]; ok {
			prev.IsActive = false
			s.keyVersions[prev.VersionID] = prev
		}
	}
	target.IsActive = true
	target.ActivatedAt = &activatedAt
	s.keyVersions[toVersionID] = target
	s.activeKeyID = toVersionID
	return nil
}

func (s *Store) MarkKeyVersionDestroyed(ctx context.Context, versionID string, destroyedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kv, ok := s.keyVersions[versionID]
	if !ok {
		return errNotFound("key version", versionID)
	}
	kv.IsDestroyed = true
	kv.IsActive = false
	kv.DestroyedAt = &destroyedAt
	s.keyVersions[versionID] = kv
	if s.activeKeyID == versionID {
		s.activeKeyID = ""
	}
	return nil
}

// ExecuteCryptoShred implements store.ShredExecutor under the same mutex
// that guards every other operation, giving it the same atomicity
// guarantee a single bbolt transaction provides in production.
func (s *Store) ExecuteCryptoShred(ctx context.Context, versionID string, shreddedAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, ok := s.keyVersions[versionID]
	if !ok {
		return 0, store.ErrShredKeyNotFound
	}
	if kv.IsDestroyed {
		return 0, store.ErrShredAlreadyDestroyed
	}

	kv.IsDestroyed = true
	kv.IsActive = false
	at := shreddedAt
	kv.DestroyedAt = &at
	s.keyVersions[versionID] = kv
	if s.activeKeyID == versionID {
		s.activeKeyID = ""
	}

	affected := 0
	for id, m := range s.backups {
		if m.KeyVersion == nil || *m.KeyVersion != versionID {
			continue
		}
		reason := "crypto_shredded"
		m.Status = model.BackupStatusIrreversible
		m.IrreversibleReason = &reason
		m.ShreddedAt = &at
		s.backups[id] = m
		affected++
	}
	return affected, nil
}

// --- IncidentStore ---

func (s *Store) CurrentIncident(ctx context.Context) (model.IncidentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.incidentHistory) == 0 {
		return model.IncidentState{Level: model.IncidentLevelNormal}, nil
	}
	return s.incidentHistory[len(s.incidentHistory)-1], nil
}

func (s *Store) AppendIncident(ctx context.Context, state model.IncidentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidentHistory = append(s.incidentHistory, state)
	return nil
}

// --- AlertStore ---

func (s *Store) FindAlertByDedupeKey(ctx context.Context, dedupeKey string) (*model.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.DedupeKey == dedupeKey {
			alert := a
			return &alert, true, nil
		}
	}
	return nil, false, nil
}

func (s *Store) InsertAlert(ctx context.Context, a model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[a.AlertID] = a
	return nil
}

func (s *Store) UpdateAlert(ctx context.Context, a model.Alert) error {
	return s.InsertAlert(ctx, a)
}

func (s *Store) GetAlert(ctx context.Context, alertID string) (*model.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (s *Store) ListAlerts(ctx context.Context, filter store.ListAlertsFilter) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Alert
	for _, a := range s.alerts {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.RuleID != nil && a.RuleID != *filter.RuleID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- ApiKeyStore ---

func (s *Store) GetApiKey(ctx context.Context, keyID string) (*model.ApiKey, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[keyID]
	if !ok {
		return nil, false, nil
	}
	return &k, true, nil
}

func (s *Store) ListApiKeysByPrefix(ctx context.Context, prefix string) ([]model.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ApiKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Store) InsertApiKey(ctx context.Context, k model.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[k.KeyID] = k
	return nil
}

func (s *Store) UpdateApiKey(ctx context.Context, k model.ApiKey) error {
	return s.InsertApiKey(ctx, k)
}

func (s *Store) ListApiKeys(ctx context.Context) ([]model.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ApiKey, 0, len(s.apiKeys))
	for _, k := range s.apiKeys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- PolicyStore ---

func (s *Store) GetPolicy(ctx context.Context, policyID string) (*model.PolicyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[policyID]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (s *Store) PutPolicy(ctx context.Context, p model.PolicyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.PolicyID] = p
	return nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]model.PolicyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PolicyRecord, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyID < out[j].PolicyID })
	return out, nil
}

// --- Checker ---

// Name implements store.Checker.
func (s *Store) Name() string { return "memstore" }

// Check implements store.Checker; the in-memory store is always reachable.
func (s *Store) Check(ctx context.Context) error { return nil }

// Close implements store.Store; there is nothing to release in memory.
func (s *Store) Close() error { return nil }

type notFoundError struct {
	kind string
	id   string
}

func (e *notFoundError) Error() string { return e.kind + " not found: " + e.id }

func errNotFound(kind, id string) error { return &notFoundError{kind: kind, id: id} }
