// Package backup implements the submission pipeline of spec.md §4.2:
// classification normalization, policy evaluation, metadata bookkeeping,
// key acquisition, AEAD encryption, and blob storage, with the guarantee
// that every submission produces exactly one terminal metadata row.
package backup

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/audit"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/crypto/aead"
	"github.com/cuemby/warrenguard/internal/keymaterial"
	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/objectstore"
	"github.com/cuemby/warrenguard/internal/policy"
	"github.com/cuemby/warrenguard/internal/telemetry"
)

// MaxPayloadBytes bounds a single submission's plaintext size (spec.md
// §4.2 inputs: "payload? ≤ 1 MB").
const MaxPayloadBytes = 1 << 20

// Settings carries the subset of internal/config backup cares about.
type Settings struct {
	// ClassificationRequired rejects a submission with no classification
	// instead of substituting DefaultClassification.
	ClassificationRequired bool
	DefaultClassification  model.Classification
}

// Request is one backup submission.
type Request struct {
	Classification *model.Classification
	SourceSystem   string
	Description    *string
	Payload        []byte
}

// Result is what submit_backup returns on success.
type Result struct {
	Status         string
	BackupID       string
	Classification model.Classification
	SourceSystem   string
}

// Store is the metadata persistence capability this pipeline needs.
type Store interface {
	InsertBackup(ctx context.Context, m model.BackupMetadata) error
	UpdateBackup(ctx context.Context, m model.BackupMetadata) error
	GetBackup(ctx context.Context, backupID string) (*model.BackupMetadata, bool, error)
}

// KeyManagement is the optional "through key management if available"
// path of spec.md §4.2 step 4. A nil KeyManagement on Engine means always
// fall back to the direct key store.
type KeyManagement interface {
	ActiveKeyMaterial(ctx context.Context) (keymaterial.Material, error)
}

// Engine runs the backup submission pipeline.
type Engine struct {
	settings  Settings
	store     Store
	policyEng *policy.Engine
	auditEng  *audit.Engine
	keyMgmt   KeyManagement
	keyStore  keymaterial.Provider
	objects   objectstore.Store
	clock     clockid.Clock
	ids       clockid.IDProvider
}

// NewEngine builds an Engine. keyMgmt may be nil, in which case
// keyStore.ResolveActive is always used directly.
func NewEngine(
	settings Settings,
	store Store,
	policyEng *policy.Engine,
	auditEng *audit.Engine,
	keyMgmt KeyManagement,
	keyStore keymaterial.Provider,
	objects objectstore.Store,
	clock clockid.Clock,
	ids clockid.IDProvider,
) *Engine {
	return &Engine{
		settings:  settings,
		store:     store,
		policyEng: policyEng,
		auditEng:  auditEng,
		keyMgmt:   keyMgmt,
		keyStore:  keyStore,
		objects:   objects,
		clock:     clock,
		ids:       ids,
	}
}

// Submit runs the full pipeline. principal may be nil (spec.md §4.2
// inputs: "Authenticated principal (nullable for tests)").
func (e *Engine) Submit(ctx context.Context, req Request, principal *model.Principal) (Result, error) {
	classification, err := e.normalizeClassification(req.Classification)
	if err != nil {
		return Result{}, err
	}

	timer := telemetry.NewTimer()
	defer timer.ObserveDuration(telemetry.BackupDuration)

	backupID := e.ids.NewID()
	actorKeyID, actorRole := actorFields(principal)

	decision := e.policyEng.EvaluateBackup(principal, classification)
	status := "ALLOWED"
	if !decision.Allowed {
		status = "DENIED"
	}
	if _, err := e.auditEng.Append(ctx, audit.FailSecure, audit.Event{
		Action:     "policy_decision",
		Resource:   "backup",
		ResourceID: &backupID,
		ActorKeyID: actorKeyID,
		ActorRole:  actorRole,
		Status:     &status,
		Reason:     strPtr(decision.ReasonCategory),
	}); err != nil {
		return Result{}, err
	}
	if !decision.Allowed {
		deniedStatus := "DENIED"
		if _, err := e.auditEng.Append(ctx, audit.FailSecure, audit.Event{
			Action:     "backup_processing_denied",
			Resource:   "backup",
			ResourceID: &backupID,
			ActorKeyID: actorKeyID,
			ActorRole:  actorRole,
			Status:     &deniedStatus,
			Reason:     strPtr(decision.ReasonCategory),
		}); err != nil {
			return Result{}, err
		}
		telemetry.BackupsTotal.WithLabelValues(string(classification), "denied").Inc()
		return Result{}, apierr.New(apierr.KindAuthorization, "POLICY_DENIED", decision.ReasonCategory, decision.Reason)
	}

	if len(req.Payload) > MaxPayloadBytes {
		telemetry.BackupsTotal.WithLabelValues(string(classification), "rejected").Inc()
		return Result{}, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "payload_too_large", "payload exceeds 1 MB").
			WithDetails(apierr.Detail{Loc: []string{"body", "payload"}, Msg: "payload exceeds 1 MB", Type: "value_error"})
	}

	checksumPlaintext := sha512Hex(req.Payload)
	originalSize := int64(len(req.Payload))
	now := e.clock.Now()
	metadata := model.BackupMetadata{
		BackupID:          backupID,
		Classification:    classification,
		SourceSystem:      req.SourceSystem,
		Description:       req.Description,
		Status:            model.BackupStatusProcessing,
		ChecksumPlaintext: &checksumPlaintext,
		OriginalSize:      &originalSize,
		CreatedBy:         actorKeyID,
		CreatedAt:         now,
	}
	if err := e.store.InsertBackup(ctx, metadata); err != nil {
		return Result{}, fmt.Errorf("backup: insert metadata: %w", err)
	}
	processingStatus := string(model.BackupStatusProcessing)
	if _, err := e.auditEng.Append(ctx, audit.FailSecure, audit.Event{
		Action:     "backup_processing_started",
		Resource:   "backup",
		ResourceID: &backupID,
		ActorKeyID: actorKeyID,
		ActorRole:  actorRole,
		Status:     &processingStatus,
	}); err != nil {
		return Result{}, err
	}

	material, err := e.acquireActiveKeyMaterial(ctx)
	if err != nil {
		if markErr := e.markFailed(ctx, metadata, actorKeyID, actorRole, "key_unavailable"); markErr != nil {
			return Result{}, markErr
		}
		telemetry.BackupsTotal.WithLabelValues(string(classification), "failed").Inc()
		return Result{}, apierr.Wrap(apierr.KindExecutionUnavailable, "UPLOAD_FAILED", "key_unavailable", "backup encryption failed", err)
	}
	metadata.KeyVersion = &material.VersionID
	if err := e.store.UpdateBackup(ctx, metadata); err != nil {
		return Result{}, fmt.Errorf("backup: update metadata with key version: %w", err)
	}

	key, err := aead.NormalizeKey(material.KeyBytes, material.VersionID)
	var blob []byte
	if err == nil {
		blob, err = aead.Encrypt(key, req.Payload)
	}
	if err != nil {
		if markErr := e.markFailed(ctx, metadata, actorKeyID, actorRole, "encryption_failed"); markErr != nil {
			return Result{}, markErr
		}
		telemetry.BackupsTotal.WithLabelValues(string(classification), "failed").Inc()
		return Result{}, apierr.Wrap(apierr.KindExecutionUnavailable, "UPLOAD_FAILED", "encryption_failed", "backup encryption failed", err)
	}

	objectName := backupID + ".bin"
	if err := e.objects.Put(ctx, objectName, blob); err != nil {
		if markErr := e.markFailed(ctx, metadata, actorKeyID, actorRole, "storage_failed"); markErr != nil {
			return Result{}, markErr
		}
		telemetry.BackupsTotal.WithLabelValues(string(classification), "failed").Inc()
		return Result{}, apierr.Wrap(apierr.KindExecutionUnavailable, "UPLOAD_FAILED", "storage_failed", "backup upload failed", err)
	}

	checksumCiphertext := sha512Hex(blob)
	nonceHex := hex.EncodeToString(blob[:aead.NonceSize])
	encryptedSize := int64(len(blob))
	metadata.Status = model.BackupStatusActive
	metadata.StoragePath = &objectName
	metadata.ChecksumCiphertext = &checksumCiphertext
	metadata.Nonce = &nonceHex
	metadata.EncryptedSize = &encryptedSize
	if err := e.store.UpdateBackup(ctx, metadata); err != nil {
		return Result{}, fmt.Errorf("backup: finalize metadata: %w", err)
	}
	activeStatus := string(model.BackupStatusActive)
	if _, err := e.auditEng.Append(ctx, audit.FailSecure, audit.Event{
		Action:     "backup_processing_succeeded",
		Resource:   "backup",
		ResourceID: &backupID,
		ActorKeyID: actorKeyID,
		ActorRole:  actorRole,
		Status:     &activeStatus,
	}); err != nil {
		return Result{}, err
	}

	telemetry.BackupsTotal.WithLabelValues(string(classification), "accepted").Inc()
	return Result{
		Status:         "accepted",
		BackupID:       backupID,
		Classification: classification,
		SourceSystem:   req.SourceSystem,
	}, nil
}

func (e *Engine) normalizeClassification(c *model.Classification) (model.Classification, error) {
	if c != nil {
		return *c, nil
	}
	if e.settings.ClassificationRequired {
		return "", apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "missing_classification", "request validation failed").
			WithDetails(apierr.Detail{Loc: []string{"body", "classification"}, Msg: "Field required", Type: "missing"})
	}
	def := e.settings.DefaultClassification
	if !def.Valid() {
		return "", apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "invalid_default_classification", "invalid default classification configuration").
			WithDetails(apierr.Detail{Loc: []string{"config", "default_classification"}, Msg: fmt.Sprintf("invalid classification: %s", def), Type: "value_error"})
	}
	return def, nil
}

func (e *Engine) acquireActiveKeyMaterial(ctx context.Context) (keymaterial.Material, error) {
	if e.keyMgmt != nil {
		return e.keyMgmt.ActiveKeyMaterial(ctx)
	}
	return e.keyStore.ResolveActive(ctx)
}

func (e *Engine) markFailed(ctx context.Context, metadata model.BackupMetadata, actorKeyID, actorRole *string, reason string) error {
	metadata.Status = model.BackupStatusFailed
	if err := e.store.UpdateBackup(ctx, metadata); err != nil {
		return fmt.Errorf("backup: mark failed: %w", err)
	}
	failedStatus := string(model.BackupStatusFailed)
	_, err := e.auditEng.Append(ctx, audit.FailSecure, audit.Event{
		Action:     "backup_processing_failed",
		Resource:   "backup",
		ResourceID: &metadata.BackupID,
		ActorKeyID: actorKeyID,
		ActorRole:  actorRole,
		Status:     &failedStatus,
		Reason:     &reason,
	})
	return err
}

func actorFields(principal *model.Principal) (keyID, role *string) {
	if principal == nil {
		return nil, nil
	}
	id := principal.KeyID
	r := string(principal.Role)
	return &id, &r
}

func strPtr(s string) *string { return &s }

func sha512Hex(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}
