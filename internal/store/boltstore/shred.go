package boltstore

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/store"
)

var _ store.ShredExecutor = (*Store)(nil)

// ExecuteCryptoShred implements store.ShredExecutor. bbolt's single-writer
// transaction model lets this cover both the key-version and backups
// buckets atomically, matching spec.md §4.4's preferred "stores share a
// transaction" path exactly, unlike a two-database deployment which would
// have to fall back to the sequential-with-same-timestamp path.
func (s *Store) ExecuteCryptoShred(ctx context.Context, versionID string, shreddedAt time.Time) (int, error) {
	affected := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		versions := tx.Bucket(bucketKeyVersions)
		data := versions.Get([]byte(versionID))
		if data == nil {
			return store.ErrShredKeyNotFound
		}
		var kv model.KeyVersion
		if err := json.Unmarshal(data, &kv); err != nil {
			return err
		}
		if kv.IsDestroyed {
			return store.ErrShredAlreadyDestroyed
		}

		if err := markKeyVersionDestroyedTx(tx, versionID, shreddedAt); err != nil {
			return err
		}

		backups := tx.Bucket(bucketBackups)
		c := backups.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var m model.BackupMetadata
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.KeyVersion == nil || *m.KeyVersion != versionID {
				continue
			}
			at := shreddedAt
			reason := "crypto_shredded"
			m.Status = model.BackupStatusIrreversible
			m.IrreversibleReason = &reason
			m.ShreddedAt = &at
			encoded, err := json.Marshal(m)
			if err != nil {
				return err
			}
			if err := backups.Put(k, encoded); err != nil {
				return err
			}
			affected++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}
