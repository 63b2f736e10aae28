package incident

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/model"
)

type memStore struct {
	latest *model.IncidentState
	log    []model.IncidentState
}

func (s *memStore) CurrentIncident(ctx context.Context) (model.IncidentState, error) {
	if s.latest == nil {
		return model.IncidentState{}, nil
	}
	return *s.latest, nil
}

func (s *memStore) AppendIncident(ctx context.Context, st model.IncidentState) error {
	s.latest = &st
	s.log = append(s.log, st)
	return nil
}

func apiErrCode(t *testing.T, err error) string {
	t.Helper()
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apierr.Error, got %T: %v", err, err)
	}
	return ae.Code
}

func TestCurrentStateDefaultsWhenNothingPersisted(t *testing.T) {
	e := NewEngine(&memStore{}, clockid.Fixed{At: time.Unix(0, 0)}, model.IncidentLevelNormal)
	state, err := e.CurrentState(context.Background())
	if err != nil {
		t.Fatalf("CurrentState: %v", err)
	}
	if state.Level != model.IncidentLevelNormal {
		t.Fatalf("Level = %q, want NORMAL", state.Level)
	}
	if state.Reason == nil || *state.Reason != "default_config" {
		t.Fatalf("Reason = %v, want default_config", state.Reason)
	}
}

func TestTransitionNormalToQuarantineToLockdown(t *testing.T) {
	store := &memStore{}
	e := NewEngine(store, clockid.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, model.IncidentLevelNormal)
	ctx := context.Background()

	if _, err := e.TransitionTo(ctx, model.IncidentLevelQuarantine, nil, nil); err != nil {
		t.Fatalf("NORMAL->QUARANTINE: %v", err)
	}
	if _, err := e.TransitionTo(ctx, model.IncidentLevelLockdown, nil, nil); err != nil {
		t.Fatalf("QUARANTINE->LOCKDOWN: %v", err)
	}
	level, err := e.CurrentLevel(ctx)
	if err != nil || level != model.IncidentLevelLockdown {
		t.Fatalf("CurrentLevel = %v, %v, want LOCKDOWN", level, err)
	}
}

func TestTransitionDirectlyNormalToLockdownAllowed(t *testing.T) {
	e := NewEngine(&memStore{}, clockid.Fixed{At: time.Unix(0, 0)}, model.IncidentLevelNormal)
	state, err := e.TransitionTo(context.Background(), model.IncidentLevelLockdown, nil, nil)
	if err != nil {
		t.Fatalf("NORMAL->LOCKDOWN: %v", err)
	}
	if state.Level != model.IncidentLevelLockdown {
		t.Fatalf("Level = %q, want LOCKDOWN", state.Level)
	}
}

func TestTransitionToSameLevelRejectedAsNoStateChange(t *testing.T) {
	e := NewEngine(&memStore{}, clockid.Fixed{At: time.Unix(0, 0)}, model.IncidentLevelNormal)
	_, err := e.TransitionTo(context.Background(), model.IncidentLevelNormal, nil, nil)
	if code := apiErrCode(t, err); code != "incident_no_state_change" {
		t.Fatalf("Code = %q, want incident_no_state_change", code)
	}
}

func TestLockdownCannotReturnDirectlyToNormal(t *testing.T) {
	store := &memStore{}
	e := NewEngine(store, clockid.Fixed{At: time.Unix(0, 0)}, model.IncidentLevelNormal)
	ctx := context.Background()
	if _, err := e.TransitionTo(ctx, model.IncidentLevelQuarantine, nil, nil); err != nil {
		t.Fatalf("setup NORMAL->QUARANTINE: %v", err)
	}
	if _, err := e.TransitionTo(ctx, model.IncidentLevelLockdown, nil, nil); err != nil {
		t.Fatalf("setup QUARANTINE->LOCKDOWN: %v", err)
	}
	_, err := e.TransitionTo(ctx, model.IncidentLevelNormal, nil, nil)
	if code := apiErrCode(t, err); code != "incident_invalid_transition" {
		t.Fatalf("Code = %q, want incident_invalid_transition", code)
	}
}

func TestCurrentStateRejectsUnknownPersistedLevel(t *testing.T) {
	store := &memStore{latest: &model.IncidentState{Level: model.IncidentLevel("ROGUE")}}
	e := NewEngine(store, clockid.Fixed{At: time.Unix(0, 0)}, model.IncidentLevelNormal)
	_, err := e.CurrentState(context.Background())
	if code := apiErrCode(t, err); code != "invalid_persisted_state" {
		t.Fatalf("Code = %q, want invalid_persisted_state", code)
	}
}
