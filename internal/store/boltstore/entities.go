package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/store"
)

// --- Backups ---

func (s *Store) InsertBackup(ctx context.Context, m model.BackupMetadata) error {
	return s.putJSON(bucketBackups, []byte(m.BackupID), m)
}

func (s *Store) UpdateBackup(ctx context.Context, m model.BackupMetadata) error {
	return s.InsertBackup(ctx, m)
}

func (s *Store) GetBackup(ctx context.Context, backupID string) (*model.BackupMetadata, bool, error) {
	var m model.BackupMetadata
	ok, err := s.getJSON(bucketBackups, []byte(backupID), &m)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &m, true, nil
}

func (s *Store) ListBackups(ctx context.Context, filter store.ListBackupsFilter) ([]model.BackupMetadata, error) {
	var all []model.BackupMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBackups).ForEach(func(_, v []byte) error {
			var m model.BackupMetadata
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if filter.Status != nil && m.Status != *filter.Status {
				return nil
			}
			if filter.Classification != nil && m.Classification != *filter.Classification {
				return nil
			}
			if filter.KeyVersion != nil && (m.KeyVersion == nil || *m.KeyVersion != *filter.KeyVersion) {
				return nil
			}
			all = append(all, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return paginateBackups(all, filter.Offset, filter.Limit), nil
}

func paginateBackups(all []model.BackupMetadata, offset, limit int) []model.BackupMetadata {
	if offset >= len(all) {
		return nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

// --- Key versions ---

func (s *Store) GetKeyVersion(ctx context.Context, versionID string) (*model.KeyVersion, bool, error) {
	var kv model.KeyVersion
	ok, err := s.getJSON(bucketKeyVersions, []byte(versionID), &kv)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &kv, true, nil
}

func (s *Store) GetActiveKeyVersion(ctx context.Context) (*model.KeyVersion, bool, error) {
	var activeID string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(metaActiveKeyVersion)
		if v == nil {
			return nil
		}
		activeID = string(v)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if activeID == "" {
		return nil, false, nil
	}
	return s.GetKeyVersion(ctx, activeID)
}

func (s *Store) ListKeyVersions(ctx context.Context) ([]model.KeyVersion, error) {
	var out []model.KeyVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeyVersions).ForEach(func(_, v []byte) error {
			var kv model.KeyVersion
			if err := json.Unmarshal(v, &kv); err != nil {
				return err
			}
			out = append(out, kv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) PutKeyVersion(ctx context.Context, kv model.KeyVersion) error {
	if err := s.putJSON(bucketKeyVersions, []byte(kv.VersionID), kv); err != nil {
		return err
	}
	if kv.IsActive {
		return s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketMeta).Put(metaActiveKeyVersion, []byte(kv.VersionID))
		})
	}
	return nil
}

// RotateActiveKeyVersion atomically deactivates the current active version
// (if any) and activates toVersionID in a single bbolt transaction,
// enforcing the at-most-one-active invariant spec.md §4.4 requires.
func (s *Store) RotateActiveKeyVersion(ctx context.Context, toVersionID string, activatedAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		versions := tx.Bucket(bucketKeyVersions)
		meta := tx.Bucket(bucketMeta)

		targetData := versions.Get([]byte(toVersionID))
		if targetData == nil {
			return fmt.Errorf("boltstore: key version not found: %s", toVersionID)
		}
		var target model.KeyVersion
		if err := json.Unmarshal(targetData, &target); err != nil {
			return err
		}

		if prevID := meta.Get(metaActiveKeyVersion); prevID != nil {
			prevData := versions.Get(prevID)
			if prevData != nil {
				var prev model.KeyVersion
				if err := json.Unmarshal(prevData, &prev); err != nil {
					return err
				}
				prev.IsActive = false
				encoded, err := json.Marshal(prev)
				if err != nil {
					return err
				}
				if err := versions.Put(prevID, encoded); err != nil {
					return err
				}
			}
		}

		target.IsActive = true
		at := activatedAt
		target.ActivatedAt = &at
		encoded, err := json.Marshal(target)
		if err != nil {
			return err
		}
		if err := versions.Put([]byte(toVersionID), encoded); err != nil {
			return err
		}
		return meta.Put(metaActiveKeyVersion, []byte(toVersionID))
	})
}

// MarkKeyVersionDestroyed marks a key version destroyed in its own
// transaction. Crypto-shred does not call it: ExecuteCryptoShred in
// shred.go marks the version (through markKeyVersionDestroyedTx) and its
// backups in one transaction.
func (s *Store) MarkKeyVersionDestroyed(ctx context.Context, versionID string, destroyedAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return markKeyVersionDestroyedTx(tx, versionID, destroyedAt)
	})
}

func markKeyVersionDestroyedTx(tx *bolt.Tx, versionID string, destroyedAt time.Time) error {
	versions := tx.Bucket(bucketKeyVersions)
	data := versions.Get([]byte(versionID))
	if data == nil {
		return fmt.Errorf("boltstore: key version not found: %s", versionID)
	}
	var kv model.KeyVersion
	if err := json.Unmarshal(data, &kv); err != nil {
		return err
	}
	kv.IsDestroyed = true
	kv.IsActive = false
	at := destroyedAt
	kv.DestroyedAt = &at
	encoded, err := json.Marshal(kv)
	if err != nil {
		return err
	}
	if err := versions.Put([]byte(versionID), encoded); err != nil {
		return err
	}
	meta := tx.Bucket(bucketMeta)
	if active := meta.Get(metaActiveKeyVersion); active != nil && string(active) == versionID {
		if err := meta.Delete(metaActiveKeyVersion); err != nil {
			return err
		}
	}
	return nil
}

// --- Incident history ---

func (s *Store) CurrentIncident(ctx context.Context) (model.IncidentState, error) {
	var state model.IncidentState
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketIncidentLog).Cursor()
		_, v := c.Last()
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &state)
	})
	if err != nil {
		return model.IncidentState{}, err
	}
	if !found {
		return model.IncidentState{Level: model.IncidentLevelNormal}, nil
	}
	return state, nil
}

func (s *Store) AppendIncident(ctx context.Context, st model.IncidentState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIncidentLog)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return b.Put(chainIndexKey(int64(seq)), data)
	})
}

// --- Alerts ---

func (s *Store) FindAlertByDedupeKey(ctx context.Context, dedupeKey string) (*model.Alert, bool, error) {
	var found *model.Alert
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlerts).ForEach(func(_, v []byte) error {
			if found != nil {
				return nil
			}
			var a model.Alert
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.DedupeKey == dedupeKey {
				found = &a
			}
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

func (s *Store) InsertAlert(ctx context.Context, a model.Alert) error {
	return s.putJSON(bucketAlerts, []byte(a.AlertID), a)
}

func (s *Store) UpdateAlert(ctx context.Context, a model.Alert) error {
	return s.InsertAlert(ctx, a)
}

func (s *Store) GetAlert(ctx context.Context, alertID string) (*model.Alert, bool, error) {
	var a model.Alert
	ok, err := s.getJSON(bucketAlerts, []byte(alertID), &a)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &a, true, nil
}

func (s *Store) ListAlerts(ctx context.Context, filter store.ListAlertsFilter) ([]model.Alert, error) {
	var out []model.Alert
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlerts).ForEach(func(_, v []byte) error {
			var a model.Alert
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if filter.Status != nil && a.Status != *filter.Status {
				return nil
			}
			if filter.RuleID != nil && a.RuleID != *filter.RuleID {
				return nil
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- API keys ---

func (s *Store) GetApiKey(ctx context.Context, keyID string) (*model.ApiKey, bool, error) {
	var k model.ApiKey
	ok, err := s.getJSON(bucketApiKeys, []byte(keyID), &k)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &k, true, nil
}

func (s *Store) ListApiKeysByPrefix(ctx context.Context, prefix string) ([]model.ApiKey, error) {
	var out []model.ApiKey
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketApiKeys).ForEach(func(_, v []byte) error {
			var k model.ApiKey
			if err := json.Unmarshal(v, &k); err != nil {
				return err
			}
			if k.KeyPrefix == prefix {
				out = append(out, k)
			}
			return nil
		})
	})
	return out, err
}

func (s *Store) InsertApiKey(ctx context.Context, k model.ApiKey) error {
	return s.putJSON(bucketApiKeys, []byte(k.KeyID), k)
}

func (s *Store) UpdateApiKey(ctx context.Context, k model.ApiKey) error {
	return s.InsertApiKey(ctx, k)
}

func (s *Store) ListApiKeys(ctx context.Context) ([]model.ApiKey, error) {
	var out []model.ApiKey
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketApiKeys).ForEach(func(_, v []byte) error {
			var k model.ApiKey
			if err := json.Unmarshal(v, &k); err != nil {
				return err
			}
			out = append(out, k)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Policies ---

func (s *Store) GetPolicy(ctx context.Context, policyID string) (*model.PolicyRecord, bool, error) {
	var p model.PolicyRecord
	ok, err := s.getJSON(bucketPolicies, []byte(policyID), &p)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &p, true, nil
}

func (s *Store) PutPolicy(ctx context.Context, p model.PolicyRecord) error {
	return s.putJSON(bucketPolicies, []byte(p.PolicyID), p)
}

func (s *Store) ListPolicies(ctx context.Context) ([]model.PolicyRecord, error) {
	var out []model.PolicyRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPolicies).ForEach(func(_, v []byte) error {
			var p model.PolicyRecord
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyID < out[j].PolicyID })
	return out, nil
}

// --- generic helpers ---

func (s *Store) putJSON(bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	})
}

// getJSON reports ok=false (no error) when the key is absent, matching
// store.Store's (value, bool, error) "not found is not an error" contract.
func (s *Store) getJSON(bucket, key []byte, out any) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, out)
	})
	return found, err
}
