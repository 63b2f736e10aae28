// Package boltstore is the production Store implementation, backed by
// go.etcd.io/bbolt: one bucket per entity, JSON-marshaled values, and
// Update/View closures for atomic transactions — the same shape as the
// teacher's pkg/storage/boltdb.go, generalized from cluster state
// (nodes, services, containers) to gateway state (backups, key versions,
// incidents, alerts, api keys, policies, and the audit chain itself).
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/warrenguard/internal/audit"
	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/store"
)

var (
	bucketAudit          = []byte("audit_entries")
	bucketAuditHashIndex = []byte("audit_entry_hashes")
	bucketBackups        = []byte("backups")
	bucketKeyVersions    = []byte("key_versions")
	bucketIncidentLog    = []byte("incident_history")
	bucketAlerts         = []byte("alerts")
	bucketApiKeys        = []byte("api_keys")
	bucketPolicies       = []byte("policies")
	bucketMeta           = []byte("meta")

	metaActiveKeyVersion = []byte("active_key_version")
)

var allBuckets = [][]byte{
	bucketAudit, bucketAuditHashIndex, bucketBackups, bucketKeyVersions,
	bucketIncidentLog, bucketAlerts, bucketApiKeys, bucketPolicies, bucketMeta,
}

// Store is the bbolt-backed implementation of store.Store and audit.Store.
type Store struct {
	db *bolt.DB
}

var (
	_ audit.Store        = (*Store)(nil)
	_ store.Store         = (*Store)(nil)
	_ store.EventCounter = (*Store)(nil)
	_ store.Checker      = (*Store)(nil)
)

// Open creates or opens the gateway's bbolt database file under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "warrenguard.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// Name implements store.Checker.
func (s *Store) Name() string { return "boltstore" }

// Check implements store.Checker: a bounded read-only transaction proves
// the file is still mapped and not wedged.
func (s *Store) Check(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketMeta) == nil {
			return fmt.Errorf("boltstore: meta bucket missing")
		}
		return nil
	})
}

func chainIndexKey(i int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(i))
	return key
}

// auditRecord is the JSON-on-disk shape for model.AuditEntry.
type auditRecord struct {
	ChainIndex int64      `json:"chain_index"`
	PrevHash   string     `json:"prev_hash"`
	EntryHash  string     `json:"entry_hash"`
	CreatedAt  time.Time  `json:"created_at"`
	EventID    string     `json:"event_id"`
	Action     string     `json:"action"`
	Resource   string     `json:"resource"`
	ResourceID *string    `json:"resource_id"`
	ActorKeyID *string    `json:"actor_key_id"`
	ActorRole  *string    `json:"actor_role"`
	Status     *string    `json:"status"`
	Reason     *string    `json:"reason"`
}

func toRecord(e model.AuditEntry) auditRecord {
	return auditRecord{
		ChainIndex: e.ChainIndex, PrevHash: e.PrevHash, EntryHash: e.EntryHash,
		CreatedAt: e.CreatedAt, EventID: e.EventID, Action: e.Action, Resource: e.Resource,
		ResourceID: e.ResourceID, ActorKeyID: e.ActorKeyID, ActorRole: e.ActorRole,
		Status: e.Status, Reason: e.Reason,
	}
}

func fromRecord(r auditRecord) model.AuditEntry {
	return model.AuditEntry{
		ChainIndex: r.ChainIndex, PrevHash: r.PrevHash, EntryHash: r.EntryHash,
		CreatedAt: r.CreatedAt, EventID: r.EventID, Action: r.Action, Resource: r.Resource,
		ResourceID: r.ResourceID, ActorKeyID: r.ActorKeyID, ActorRole: r.ActorRole,
		Status: r.Status, Reason: r.Reason,
	}
}

// Cursor implements audit.Store.
func (s *Store) Cursor(ctx context.Context) (int64, *string, error) {
	var lastIndex int64
	var lastHash *string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		k, v := c.Last()
		if k == nil {
			return nil
		}
		var rec auditRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		lastIndex = rec.ChainIndex
		h := rec.EntryHash
		lastHash = &h
		return nil
	})
	return lastIndex, lastHash, err
}

// Insert implements audit.Store, returning audit.ErrConflict if
// chain_index or entry_hash already exists.
func (s *Store) Insert(ctx context.Context, entry model.AuditEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketAudit)
		hashes := tx.Bucket(bucketAuditHashIndex)

		key := chainIndexKey(entry.ChainIndex)
		if entries.Get(key) != nil {
			return audit.ErrConflict
		}
		if hashes.Get([]byte(entry.EntryHash)) != nil {
			return audit.ErrConflict
		}

		data, err := json.Marshal(toRecord(entry))
		if err != nil {
			return err
		}
		if err := entries.Put(key, data); err != nil {
			return err
		}
		return hashes.Put([]byte(entry.EntryHash), key)
	})
}

// Entries implements audit.Store.
func (s *Store) Entries(ctx context.Context, after int64, limit int) ([]model.AuditEntry, error) {
	var out []model.AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.Seek(chainIndexKey(after + 1)); k != nil; k, v = c.Next() {
			var rec auditRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, fromRecord(rec))
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// CountEvents implements store.EventCounter by scanning the audit bucket
// in chain order; bbolt has no secondary index on (action, actor, time),
// so this is a linear scan bounded by chain length, same complexity class
// as internal/monitoring's local sliding-window fallback it replaces.
func (s *Store) CountEvents(ctx context.Context, action string, actorKeyID *string, since time.Time) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAudit).ForEach(func(_, v []byte) error {
			var rec auditRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Action != action || rec.CreatedAt.Before(since) {
				return nil
			}
			if !samePtr(rec.ActorKeyID, actorKeyID) {
				return nil
			}
			count++
			return nil
		})
	})
	return count, err
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
