// Package keymgmt orchestrates key-version rotation and crypto-shred
// (spec.md §4.4): the operations that mutate which key version is active
// and irreversibly destroy key material.
package keymgmt

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/audit"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/incident"
	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/store"
	"github.com/cuemby/warrenguard/internal/telemetry"
)

// MFAValidator is the seam keymgmt needs from internal/principal.
type MFAValidator interface {
	ValidateMFA(principal *model.Principal, mfaToken string) error
}

// Store is the persistence seam keymgmt needs.
type Store interface {
	GetKeyVersion(ctx context.Context, versionID string) (*model.KeyVersion, bool, error)
	GetActiveKeyVersion(ctx context.Context) (*model.KeyVersion, bool, error)
	PutKeyVersion(ctx context.Context, kv model.KeyVersion) error
	RotateActiveKeyVersion(ctx context.Context, toVersionID string, activatedAt time.Time) error
}

// KeyMaterialResolver reports whether key material for versionID can be
// resolved (spec.md §4.4's "verify target key material is resolvable").
// The key material itself stays out of keymgmt's reach; only resolvability
// matters here.
type KeyMaterialResolver interface {
	Resolvable(ctx context.Context, versionID string) bool
}

// RotationResult is the outcome of a successful rotation.
type RotationResult struct {
	FromVersion *string
	ToVersion   string
}

// Engine ties together storage, MFA, and incident escalation for the two
// key-lifecycle operations.
type Engine struct {
	store    Store
	shredder store.ShredExecutor
	material KeyMaterialResolver
	mfa      MFAValidator
	incident *incident.Engine
	auditEng *audit.Engine
	clock    clockid.Clock
}

// NewEngine builds an Engine.
func NewEngine(st Store, shredder store.ShredExecutor, material KeyMaterialResolver, mfa MFAValidator, incidentEngine *incident.Engine, auditEngine *audit.Engine, clock clockid.Clock) *Engine {
	return &Engine{store: st, shredder: shredder, material: material, mfa: mfa, incident: incidentEngine, auditEng: auditEngine, clock: clock}
}

// RotateActiveVersion activates toVersionID, deactivating whatever was
// active before. actor is the acting principal's key id, for audit.
func (e *Engine) RotateActiveVersion(ctx context.Context, toVersionID string, actor *string, reason *string, clientIP *string) (RotationResult, error) {
	current, hasCurrent, err := e.store.GetActiveKeyVersion(ctx)
	if err != nil {
		return RotationResult{}, fmt.Errorf("keymgmt: read active key version: %w", err)
	}
	if hasCurrent && current.VersionID == toVersionID {
		return RotationResult{}, apierr.New(
			apierr.KindConflict, "key_rotation_no_state_change", "no_state_change",
			"target key version is already active",
		)
	}

	if !e.material.Resolvable(ctx, toVersionID) {
		return RotationResult{}, apierr.New(
			apierr.KindExecutionUnavailable, "key_rotation_failed", "key_material_missing",
			"target key material could not be resolved",
		)
	}

	target, found, err := e.store.GetKeyVersion(ctx, toVersionID)
	if err != nil {
		return RotationResult{}, fmt.Errorf("keymgmt: read target key version: %w", err)
	}
	now := e.clock.Now()
	if !found {
		if err := e.store.PutKeyVersion(ctx, model.KeyVersion{VersionID: toVersionID, CreatedAt: now}); err != nil {
			return RotationResult{}, fmt.Errorf("keymgmt: create target key version row: %w", err)
		}
	} else if target.IsDestroyed {
		return RotationResult{}, apierr.New(
			apierr.KindIrreversible, "key_rotation_failed", "target_destroyed",
			"target key version has been destroyed",
		)
	}

	if err := e.store.RotateActiveKeyVersion(ctx, toVersionID, now); err != nil {
		return RotationResult{}, fmt.Errorf("keymgmt: rotate active key version: %w", err)
	}

	var fromVersion *string
	if hasCurrent {
		fromVersion = &current.VersionID
	}

	status := "success"
	if err := e.appendAudit(ctx, audit.FailSecure, audit.Event{
		Action: "key_rotation", Resource: "key_version", ResourceID: &toVersionID,
		ActorKeyID: actor, Status: &status, Reason: reason,
	}); err != nil {
		return RotationResult{}, err
	}
	telemetry.KeyRotationsTotal.Inc()
	return RotationResult{FromVersion: fromVersion, ToVersion: toVersionID}, nil
}

// ShredResult is the outcome of a successful crypto-shred.
type ShredResult struct {
	VersionID       string
	AffectedBackups int
	IncidentEffect  string
}

// ExecuteCryptoShred enforces the preconditions, performs the atomic
// destroy-and-cascade, and escalates the incident level, in the exact
// order spec.md §4.4 specifies.
func (e *Engine) ExecuteCryptoShred(ctx context.Context, versionID string, principal *model.Principal, mfaToken, confirmation string, clientIP *string) (ShredResult, error) {
	if err := e.checkShredPreconditions(ctx, versionID, principal, mfaToken, confirmation); err != nil {
		return ShredResult{}, err
	}

	var actorKeyID *string
	if principal != nil {
		actorKeyID = &principal.KeyID
	}
	if err := e.appendAudit(ctx, audit.FailSecure, audit.Event{
		Action: "crypto_shred_started", Resource: "key_version", ResourceID: &versionID, ActorKeyID: actorKeyID,
	}); err != nil {
		return ShredResult{}, err
	}

	now := e.clock.Now()
	affected, err := e.shredder.ExecuteCryptoShred(ctx, versionID, now)
	if err != nil {
		switch {
		case err == store.ErrShredKeyNotFound:
			return ShredResult{}, apierr.New(apierr.KindNotFound, "crypto_shred_failed", "key_not_found", "key version not found")
		case err == store.ErrShredAlreadyDestroyed:
			return ShredResult{}, apierr.New(apierr.KindConflict, "crypto_shred_failed", "already_destroyed", "key version already destroyed")
		default:
			return ShredResult{}, fmt.Errorf("keymgmt: execute crypto shred: %w", err)
		}
	}

	incidentEffect, err := e.applyIncidentEffect(ctx, actorKeyID)
	if err != nil {
		return ShredResult{}, err
	}
	if err := e.appendAudit(ctx, audit.FailSecure, audit.Event{
		Action: "incident_effect_applied", Resource: "incident", ResourceID: &incidentEffect, ActorKeyID: actorKeyID,
	}); err != nil {
		return ShredResult{}, err
	}

	if err := e.appendAudit(ctx, audit.FailSecure, audit.Event{
		Action: "crypto_shred_completed", Resource: "key_version", ResourceID: &versionID, ActorKeyID: actorKeyID,
	}); err != nil {
		return ShredResult{}, err
	}

	telemetry.CryptoShredsTotal.Inc()
	return ShredResult{VersionID: versionID, AffectedBackups: affected, IncidentEffect: incidentEffect}, nil
}

func (e *Engine) checkShredPreconditions(ctx context.Context, versionID string, principal *model.Principal, mfaToken, confirmation string) error {
	var actorKeyID *string
	if principal != nil {
		actorKeyID = &principal.KeyID
	}
	deny := func(code, reasonCategory, message string) error {
		if auditErr := e.appendAudit(ctx, audit.FailSecure, audit.Event{
			Action: "crypto_shred_denied", Resource: "key_version", ResourceID: &versionID,
			ActorKeyID: actorKeyID, Reason: &reasonCategory,
		}); auditErr != nil {
			return auditErr
		}
		return apierr.New(apierr.KindAuthorization, code, reasonCategory, message)
	}

	if principal == nil || principal.Role != model.RoleSuperAdmin {
		return deny("crypto_shred_denied", "insufficient_role", "crypto-shred requires super_admin")
	}
	want := "DESTROY " + versionID
	if confirmation != want {
		return deny("crypto_shred_denied", "missing_confirmation", "confirmation string does not match")
	}
	if err := e.mfa.ValidateMFA(principal, mfaToken); err != nil {
		var ae *apierr.Error
		reasonCategory := "mfa_required"
		if asApierr(err, &ae) {
			reasonCategory = lowercaseMFACode(ae.Code)
		}
		return deny("crypto_shred_denied", reasonCategory, "MFA validation failed")
	}
	return nil
}

// applyIncidentEffect escalates the incident to LOCKDOWN after a
// successful shred, per spec.md §4.4. A rejected transition (e.g. the
// incident is already at a level the state machine won't move from in
// this direction) is reported as transition_denied but never rolls back
// the shred that already committed.
func (e *Engine) applyIncidentEffect(ctx context.Context, actorKeyID *string) (string, error) {
	level, err := e.incident.CurrentLevel(ctx)
	if err != nil {
		return "", fmt.Errorf("keymgmt: read incident level: %w", err)
	}
	if level == model.IncidentLevelLockdown {
		return "already_lockdown", nil
	}
	reason := "crypto_shred_executed"
	if _, err := e.incident.TransitionTo(ctx, model.IncidentLevelLockdown, actorKeyID, &reason); err != nil {
		return "transition_denied", nil
	}
	return "escalated_to_lockdown", nil
}

// appendAudit appends ev and, for a fail-secure append, surfaces a write
// failure as an error so the caller can abort rather than proceed on an
// operation the audit trail never recorded.
func (e *Engine) appendAudit(ctx context.Context, mode audit.Mode, ev audit.Event) error {
	_, err := e.auditEng.Append(ctx, mode, ev)
	return err
}

func asApierr(err error, target **apierr.Error) bool {
	ae, ok := err.(*apierr.Error)
	if !ok {
		return false
	}
	*target = ae
	return true
}

func lowercaseMFACode(code string) string {
	switch code {
	case "mfa_required", "mfa_invalid":
		return code
	default:
		return "mfa_required"
	}
}
