package keymgmt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/audit"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/incident"
	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/store/memstore"
)

type alwaysResolvable struct{}

func (alwaysResolvable) Resolvable(ctx context.Context, versionID string) bool { return true }

type acceptingMFA struct{ requireToken string }

func (a acceptingMFA) ValidateMFA(p *model.Principal, token string) error {
	if token != a.requireToken {
		return apierr.New(apierr.KindMFA, "mfa_invalid", "MFA_INVALID", "invalid MFA token")
	}
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	clock := clockid.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	auditEngine := audit.NewEngine(st, clock, seqIDs{}, zerolog.Nop())
	incidentEngine := incident.NewEngine(st, clock, model.IncidentLevelNormal)
	mfa := acceptingMFA{requireToken: "mfa:super-1"}
	return NewEngine(st, st, alwaysResolvable{}, mfa, incidentEngine, auditEngine, clock), st
}

func apiErrReasonCategory(t *testing.T, err error) string {
	t.Helper()
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apierr.Error, got %T: %v", err, err)
	}
	return ae.ReasonCategory
}

func TestRotateActiveVersionFromEmpty(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	result, err := e.RotateActiveVersion(ctx, "key-v1", nil, nil, nil)
	if err != nil {
		t.Fatalf("RotateActiveVersion: %v", err)
	}
	if result.FromVersion != nil {
		t.Fatalf("FromVersion = %v, want nil", result.FromVersion)
	}
	active, found, err := st.GetActiveKeyVersion(ctx)
	if err != nil || !found || active.VersionID != "key-v1" {
		t.Fatalf("active version = %+v, %v, %v", active, found, err)
	}
}

func TestRotateActiveVersionNoStateChange(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.RotateActiveVersion(ctx, "key-v1", nil, nil, nil); err != nil {
		t.Fatalf("first rotate: %v", err)
	}
	_, err := e.RotateActiveVersion(ctx, "key-v1", nil, nil, nil)
	if cat := apiErrReasonCategory(t, err); cat != "no_state_change" {
		t.Fatalf("category = %q, want no_state_change", cat)
	}
}

func TestExecuteCryptoShredRequiresSuperAdmin(t *testing.T) {
	e, _ := newTestEngine(t)
	admin := &model.Principal{KeyID: "admin-1", Role: model.RoleAdmin}
	_, err := e.ExecuteCryptoShred(context.Background(), "key-v1", admin, "mfa:super-1", "DESTROY key-v1", nil)
	if cat := apiErrReasonCategory(t, err); cat != "insufficient_role" {
		t.Fatalf("category = %q, want insufficient_role", cat)
	}
}

func TestExecuteCryptoShredRequiresConfirmationMatch(t *testing.T) {
	e, _ := newTestEngine(t)
	super := &model.Principal{KeyID: "super-1", Role: model.RoleSuperAdmin}
	_, err := e.ExecuteCryptoShred(context.Background(), "key-v1", super, "mfa:super-1", "DESTROY wrong-version", nil)
	if cat := apiErrReasonCategory(t, err); cat != "missing_confirmation" {
		t.Fatalf("category = %q, want missing_confirmation", cat)
	}
}

func TestExecuteCryptoShredRequiresValidMFA(t *testing.T) {
	e, _ := newTestEngine(t)
	super := &model.Principal{KeyID: "super-1", Role: model.RoleSuperAdmin}
	_, err := e.ExecuteCryptoShred(context.Background(), "key-v1", super, "wrong-token", "DESTROY key-v1", nil)
	if cat := apiErrReasonCategory(t, err); cat != "mfa_invalid" {
		t.Fatalf("category = %q, want mfa_invalid", cat)
	}
}

func TestExecuteCryptoShredCascadesAndEscalatesIncident(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	super := &model.Principal{KeyID: "super-1", Role: model.RoleSuperAdmin}

	if _, err := e.RotateActiveVersion(ctx, "key-v1", nil, nil, nil); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	kv := "key-v1"
	if err := st.InsertBackup(ctx, model.BackupMetadata{BackupID: "b1", KeyVersion: &kv, Status: model.BackupStatusActive, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("insert backup: %v", err)
	}
	if err := st.InsertBackup(ctx, model.BackupMetadata{BackupID: "b2", KeyVersion: &kv, Status: model.BackupStatusActive, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("insert backup: %v", err)
	}

	result, err := e.ExecuteCryptoShred(ctx, "key-v1", super, "mfa:super-1", "DESTROY key-v1", nil)
	if err != nil {
		t.Fatalf("ExecuteCryptoShred: %v", err)
	}
	if result.AffectedBackups != 2 {
		t.Fatalf("AffectedBackups = %d, want 2", result.AffectedBackups)
	}
	if result.IncidentEffect != "escalated_to_lockdown" {
		t.Fatalf("IncidentEffect = %q, want escalated_to_lockdown", result.IncidentEffect)
	}

	b1, _, _ := st.GetBackup(ctx, "b1")
	if b1.Status != model.BackupStatusIrreversible {
		t.Fatalf("b1.Status = %q, want IRREVERSIBLE", b1.Status)
	}
	level, err := incident.NewEngine(st, clockid.Fixed{At: time.Now()}, model.IncidentLevelNormal).CurrentLevel(ctx)
	if err != nil || level != model.IncidentLevelLockdown {
		t.Fatalf("incident level = %v, %v, want LOCKDOWN", level, err)
	}
}

func TestExecuteCryptoShredAlreadyDestroyedReturnsConflict(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	super := &model.Principal{KeyID: "super-1", Role: model.RoleSuperAdmin}
	if _, err := e.RotateActiveVersion(ctx, "key-v1", nil, nil, nil); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := e.ExecuteCryptoShred(ctx, "key-v1", super, "mfa:super-1", "DESTROY key-v1", nil); err != nil {
		t.Fatalf("first shred: %v", err)
	}
	_, err := e.ExecuteCryptoShred(ctx, "key-v1", super, "mfa:super-1", "DESTROY key-v1", nil)
	if cat := apiErrReasonCategory(t, err); cat != "already_destroyed" {
		t.Fatalf("category = %q, want already_destroyed", cat)
	}
}

type seqIDs struct{}

func (seqIDs) NewID() string { return "evt-fixed" }
