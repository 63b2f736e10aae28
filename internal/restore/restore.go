// Package restore implements the restore authorization and integrity
// pipeline of spec.md §4.3. Ordering is part of the contract: MFA
// validation happens before a backup's existence is revealed, and every
// integrity sub-check collapses into one uniform RESTORE_INTEGRITY_FAILED
// outcome so a caller can never learn which step actually failed.
package restore

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/audit"
	"github.com/cuemby/warrenguard/internal/crypto/aead"
	"github.com/cuemby/warrenguard/internal/incident"
	"github.com/cuemby/warrenguard/internal/keymaterial"
	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/objectstore"
	"github.com/cuemby/warrenguard/internal/policy"
	"github.com/cuemby/warrenguard/internal/restoretoken"
	"github.com/cuemby/warrenguard/internal/telemetry"
)

// minBlobSize matches spec.md §4.3 step 6: "Size < 28 bytes -> integrity failed."
const minBlobSize = aead.NonceSize + aead.TagSize

// Store is the metadata read capability this pipeline needs.
type Store interface {
	GetBackup(ctx context.Context, backupID string) (*model.BackupMetadata, bool, error)
}

// MFAValidator validates the MFA token presented alongside a restore.
type MFAValidator interface {
	ValidateMFA(principal *model.Principal, mfaToken string) error
}

// SecurityMonitor is the internal/monitoring seam this pipeline feeds
// restore_restricted_blocked and restore_failed events into (spec.md
// §4.8). Optional: a nil monitor means no thresholding is performed,
// matching internal/backup's nilable KeyManagement pattern.
type SecurityMonitor interface {
	ProcessSecurityEvent(ctx context.Context, sourceEvent string, actorKeyID *string, backupID *string, metadata map[string]any) (*model.Alert, error)
}

// Request is one restore attempt.
type Request struct {
	BackupID string
	MFAToken string
}

// Backup is the subset of metadata returned to the caller on every
// outcome, mirroring RestoreMetadataSummary.
type Backup struct {
	BackupID       string
	Classification model.Classification
	SourceSystem   string
	Status         model.BackupStatus
	KeyVersion     *string
	CreatedAt      time.Time
}

// Result is the uniform response shape across every restore outcome.
type Result struct {
	Status             string
	Backup             Backup
	RestrictionReason  string
	IntegrityVerified  bool
	RestoredSize       int64
	RestoreToken       string
	RestoreTokenExpiry time.Time
	RestoreTokenTTL    time.Duration
}

// Engine runs the restore pipeline.
type Engine struct {
	store       Store
	mfa         MFAValidator
	policyEng   *policy.Engine
	auditEng    *audit.Engine
	incidentEng *incident.Engine
	keys        keymaterial.Provider
	objects     objectstore.Store
	tokens      *restoretoken.Manager
	monitor     SecurityMonitor
	tokenTTL    time.Duration
}

// NewEngine builds an Engine. tokenTTL is the TTL handed to
// restoretoken.Manager.IssueToken on a completed restore.
func NewEngine(
	store Store,
	mfa MFAValidator,
	policyEng *policy.Engine,
	auditEng *audit.Engine,
	incidentEng *incident.Engine,
	keys keymaterial.Provider,
	objects objectstore.Store,
	tokens *restoretoken.Manager,
	tokenTTL time.Duration,
) *Engine {
	return &Engine{
		store: store, mfa: mfa, policyEng: policyEng, auditEng: auditEng,
		incidentEng: incidentEng, keys: keys, objects: objects,
		tokens: tokens, tokenTTL: tokenTTL,
	}
}

// SetMonitor attaches a SecurityMonitor, enabling threshold alerting on
// restricted and failed restore attempts. Safe to leave unset.
func (e *Engine) SetMonitor(monitor SecurityMonitor) {
	e.monitor = monitor
}

func (e *Engine) notifySecurity(ctx context.Context, sourceEvent, backupID string, actorKeyID *string) {
	if e.monitor == nil {
		return
	}
	_, _ = e.monitor.ProcessSecurityEvent(ctx, sourceEvent, actorKeyID, &backupID, nil)
}

// Restore runs the full pipeline in the exact order spec.md §4.3 requires.
func (e *Engine) Restore(ctx context.Context, req Request, principal *model.Principal) (Result, error) {
	actorKeyID, actorRole := actorFields(principal)

	timer := telemetry.NewTimer()
	defer timer.ObserveDuration(telemetry.RestoreDuration)

	// Step 1: MFA validation must precede metadata existence checks.
	if err := e.mfa.ValidateMFA(principal, req.MFAToken); err != nil {
		telemetry.RestoresTotal.WithLabelValues("mfa_failed").Inc()
		return Result{}, err
	}

	// Step 2: metadata lookup.
	metadata, found, err := e.store.GetBackup(ctx, req.BackupID)
	if err != nil {
		return Result{}, fmt.Errorf("restore: get backup: %w", err)
	}
	if !found {
		telemetry.RestoresTotal.WithLabelValues("not_found").Inc()
		return Result{}, apierr.New(apierr.KindNotFound, "RESTORE_BACKUP_NOT_FOUND", "backup_not_found", "backup metadata not found")
	}
	if !metadata.Classification.Valid() {
		if err := e.auditFailure(ctx, metadata.BackupID, actorKeyID, actorRole, "invalid_metadata_classification"); err != nil {
			return Result{}, err
		}
		telemetry.RestoresTotal.WithLabelValues("unavailable").Inc()
		return Result{}, apierr.New(apierr.KindExecutionUnavailable, "RESTORE_UNAVAILABLE", "restore_unavailable", "restore metadata is invalid")
	}
	backup := summarize(*metadata)

	// Step 3: policy decision.
	decision := e.policyEng.EvaluateRestore(principal, metadata.Classification)
	status := "ALLOWED"
	if !decision.Allowed {
		status = "DENIED"
	}
	if _, err := e.auditEng.Append(ctx, audit.FailSecure, audit.Event{
		Action:     "policy_decision",
		Resource:   "backup",
		ResourceID: &metadata.BackupID,
		ActorKeyID: actorKeyID,
		ActorRole:  actorRole,
		Status:     &status,
		Reason:     strPtr(decision.ReasonCategory),
	}); err != nil {
		return Result{}, err
	}
	if !decision.Allowed {
		telemetry.RestoresTotal.WithLabelValues("denied").Inc()
		return Result{}, apierr.New(apierr.KindAuthorization, "POLICY_DENIED", decision.ReasonCategory, decision.Reason)
	}

	// Step 4: incident gate.
	level, err := e.incidentEng.CurrentLevel(ctx)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.KindState, "RESTORE_UNAVAILABLE", "incident_state_unavailable", "incident state unavailable", err)
	}
	switch level {
	case model.IncidentLevelQuarantine:
		pendingStatus := "PENDING_MANUAL_REVIEW"
		reason := "incident_quarantine"
		if _, err := e.auditEng.Append(ctx, audit.FailSecure, audit.Event{
			Action:     "restore_restricted_pending_manual_review",
			Resource:   "backup",
			ResourceID: &metadata.BackupID,
			ActorKeyID: actorKeyID,
			ActorRole:  actorRole,
			Status:     &pendingStatus,
			Reason:     &reason,
		}); err != nil {
			return Result{}, err
		}
		telemetry.RestoresTotal.WithLabelValues("pending_manual_review").Inc()
		return Result{Status: "pending_manual_review", Backup: backup, RestrictionReason: reason}, nil
	case model.IncidentLevelLockdown:
		blockedStatus := "BLOCKED"
		reason := "incident_lockdown"
		if _, err := e.auditEng.Append(ctx, audit.FailSecure, audit.Event{
			Action:     "restore_restricted_blocked",
			Resource:   "backup",
			ResourceID: &metadata.BackupID,
			ActorKeyID: actorKeyID,
			ActorRole:  actorRole,
			Status:     &blockedStatus,
			Reason:     &reason,
		}); err != nil {
			return Result{}, err
		}
		telemetry.RestoresTotal.WithLabelValues("blocked").Inc()
		e.notifySecurity(ctx, "restore_restricted_blocked", metadata.BackupID, actorKeyID)
		return Result{}, apierr.New(apierr.KindIncidentRestricted, "RESTORE_RESTRICTED", reason, "restore blocked by active incident level")
	}

	// Step 5: IRREVERSIBLE check.
	if metadata.Status == model.BackupStatusIrreversible {
		if err := e.auditFailure(ctx, metadata.BackupID, actorKeyID, actorRole, "irreversible"); err != nil {
			return Result{}, err
		}
		telemetry.RestoresTotal.WithLabelValues("irreversible").Inc()
		return Result{}, apierr.New(apierr.KindIrreversible, "RESTORE_IRREVERSIBLE", "irreversible", "backup has been permanently destroyed")
	}

	// Steps 6-7: fetch ciphertext and run integrity checks.
	plaintext, err := e.restoreAndVerify(ctx, *metadata)
	if err != nil {
		ae, isApierr := err.(*apierr.Error)
		reasonCategory := "restore_unavailable"
		if isApierr && ae.Code == "RESTORE_INTEGRITY_FAILED" {
			reasonCategory = "integrity_failed"
		}
		if auditErr := e.auditFailure(ctx, metadata.BackupID, actorKeyID, actorRole, reasonCategory); auditErr != nil {
			return Result{}, auditErr
		}
		telemetry.RestoresTotal.WithLabelValues(reasonCategory).Inc()
		return Result{}, err
	}

	// Step 8: audit success and issue a restore-access token.
	completedStatus := "COMPLETED"
	if _, err := e.auditEng.Append(ctx, audit.FailSecure, audit.Event{
		Action:     "restore_completed",
		Resource:   "backup",
		ResourceID: &metadata.BackupID,
		ActorKeyID: actorKeyID,
		ActorRole:  actorRole,
		Status:     &completedStatus,
	}); err != nil {
		return Result{}, err
	}

	tokenRecord, err := e.tokens.IssueToken(e.tokenTTL, metadata.BackupID, actorKeyID)
	if err != nil {
		return Result{}, fmt.Errorf("restore: issue restore-access token: %w", err)
	}

	telemetry.RestoresTotal.WithLabelValues("completed").Inc()
	return Result{
		Status:             "restore_completed",
		Backup:             backup,
		IntegrityVerified:  true,
		RestoredSize:       int64(len(plaintext)),
		RestoreToken:       tokenRecord.Token,
		RestoreTokenExpiry: tokenRecord.ExpiresAt,
		RestoreTokenTTL:    tokenRecord.ExpiresAt.Sub(tokenRecord.IssuedAt),
	}, nil
}

// restoreAndVerify runs steps 6-7: fetch the blob and check its integrity
// in the fixed order spec.md §4.3 step 7 prescribes. Any failure returns a
// uniform RESTORE_INTEGRITY_FAILED or RESTORE_UNAVAILABLE apierr.Error; the
// caller never learns which sub-check failed.
func (e *Engine) restoreAndVerify(ctx context.Context, metadata model.BackupMetadata) ([]byte, error) {
	if metadata.StoragePath == nil || *metadata.StoragePath == "" ||
		metadata.KeyVersion == nil || *metadata.KeyVersion == "" ||
		metadata.Nonce == nil || *metadata.Nonce == "" ||
		metadata.ChecksumPlaintext == nil || *metadata.ChecksumPlaintext == "" {
		return nil, apierr.New(apierr.KindExecutionUnavailable, "RESTORE_UNAVAILABLE", "restore_unavailable", "restore service unavailable")
	}

	blob, err := e.objects.Get(ctx, *metadata.StoragePath)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindExecutionUnavailable, "RESTORE_UNAVAILABLE", "restore_unavailable", "restore service unavailable", err)
	}
	if len(blob) < minBlobSize {
		return nil, integrityFailed()
	}

	// (a) checksum_ciphertext, if present.
	if metadata.ChecksumCiphertext != nil && *metadata.ChecksumCiphertext != "" {
		if sha512Hex(blob) != *metadata.ChecksumCiphertext {
			return nil, integrityFailed()
		}
	}

	// (b) parse nonce || tag || ciphertext.
	env, err := aead.ParseBlob(blob)
	if err != nil {
		return nil, integrityFailed()
	}

	// (c) nonce must match the recorded hex nonce.
	expectedNonce, err := hex.DecodeString(*metadata.Nonce)
	if err != nil || !bytes.Equal(env.Nonce[:], expectedNonce) {
		return nil, integrityFailed()
	}

	// (d) fetch key material by key_version.
	material, err := e.keys.Resolve(ctx, *metadata.KeyVersion)
	if err != nil {
		return nil, integrityFailed()
	}
	key, err := aead.NormalizeKey(material.KeyBytes, material.VersionID)
	if err != nil {
		return nil, integrityFailed()
	}

	// (e) AEAD decrypt.
	plaintext, err := aead.DecryptEnvelope(key, env)
	if err != nil {
		return nil, integrityFailed()
	}

	// (f) plaintext checksum.
	if sha512Hex(plaintext) != *metadata.ChecksumPlaintext {
		return nil, integrityFailed()
	}
	return plaintext, nil
}

func integrityFailed() error {
	return apierr.New(apierr.KindIntegrity, "RESTORE_INTEGRITY_FAILED", "integrity_failed", "restore integrity verification failed")
}

func (e *Engine) auditFailure(ctx context.Context, backupID string, actorKeyID, actorRole *string, reason string) error {
	failedStatus := "FAILED"
	_, err := e.auditEng.Append(ctx, audit.FailSecure, audit.Event{
		Action:     "restore_failed",
		Resource:   "backup",
		ResourceID: &backupID,
		ActorKeyID: actorKeyID,
		ActorRole:  actorRole,
		Status:     &failedStatus,
		Reason:     &reason,
	})
	if err != nil {
		return err
	}
	e.notifySecurity(ctx, "restore_failed", backupID, actorKeyID)
	return nil
}

func summarize(m model.BackupMetadata) Backup {
	return Backup{
		BackupID:       m.BackupID,
		Classification: m.Classification,
		SourceSystem:   m.SourceSystem,
		Status:         m.Status,
		KeyVersion:     m.KeyVersion,
		CreatedAt:      m.CreatedAt,
	}
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
