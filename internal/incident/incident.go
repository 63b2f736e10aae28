// Package incident implements the global restore-availability gate: a
// small append-only state machine over model.IncidentLevel (spec.md §4.6).
package incident

import (
	"context"
	"fmt"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/telemetry"
)

// levelValue maps an incident level to the gauge value telemetry.IncidentLevel
// publishes (0 = NORMAL, 1 = QUARANTINE, 2 = LOCKDOWN).
func levelValue(l model.IncidentLevel) float64 {
	switch l {
	case model.IncidentLevelQuarantine:
		return 1
	case model.IncidentLevelLockdown:
		return 2
	default:
		return 0
	}
}

// Store is the persistence seam incident needs: the latest transition and
// an append of the next one. internal/store.Store satisfies this directly.
type Store interface {
	CurrentIncident(ctx context.Context) (model.IncidentState, error)
	AppendIncident(ctx context.Context, s model.IncidentState) error
}

// allowedTransitions mirrors incident_service.py's _allowed_transitions:
// NORMAL may move to QUARANTINE or straight to LOCKDOWN, QUARANTINE may
// move to either neighbour, and LOCKDOWN may only step down to QUARANTINE
// — it never returns to NORMAL directly.
var allowedTransitions = map[model.IncidentLevel]map[model.IncidentLevel]bool{
	model.IncidentLevelNormal:     {model.IncidentLevelQuarantine: true, model.IncidentLevelLockdown: true},
	model.IncidentLevelQuarantine: {model.IncidentLevelNormal: true, model.IncidentLevelLockdown: true},
	model.IncidentLevelLockdown:   {model.IncidentLevelQuarantine: true},
}

// Engine evaluates and persists incident-level transitions.
type Engine struct {
	store        Store
	clock        clockid.Clock
	defaultLevel model.IncidentLevel
}

// NewEngine builds an Engine. defaultLevel is used only when the store has
// no persisted transition yet (a brand-new deployment), following
// get_state's "config default when get_latest() returns None" fallback.
func NewEngine(store Store, clock clockid.Clock, defaultLevel model.IncidentLevel) *Engine {
	if !defaultLevel.Valid() {
		defaultLevel = model.IncidentLevelNormal
	}
	return &Engine{store: store, clock: clock, defaultLevel: defaultLevel}
}

// CurrentState returns the active incident level and its provenance. If no
// transition has ever been persisted, it reports the configured default
// with reason "default_config" and no ChangedAt.
func (e *Engine) CurrentState(ctx context.Context) (model.IncidentState, error) {
	state, err := e.store.CurrentIncident(ctx)
	if err != nil {
		return model.IncidentState{}, fmt.Errorf("incident: read current state: %w", err)
	}
	if state.Level == "" {
		reason := "default_config"
		telemetry.IncidentLevel.Set(levelValue(e.defaultLevel))
		return model.IncidentState{Level: e.defaultLevel, Reason: &reason}, nil
	}
	if !state.Level.Valid() {
		return model.IncidentState{}, apierr.New(
			apierr.KindState, "invalid_persisted_state", "invalid_persisted_state",
			"unknown persisted incident level",
		)
	}
	telemetry.IncidentLevel.Set(levelValue(state.Level))
	return state, nil
}

// CurrentLevel returns just the level, for callers that only need the gate
// value (e.g. internal/restore's incident check).
func (e *Engine) CurrentLevel(ctx context.Context) (model.IncidentLevel, error) {
	state, err := e.CurrentState(ctx)
	if err != nil {
		return "", err
	}
	return state.Level, nil
}

// TransitionTo moves the incident level to newLevel, recording who
// requested it and why. Requesting the already-active level is rejected
// as no_state_change; requesting a level not reachable from the current
// one is rejected as invalid_transition — both fail-secure, since an
// incident gate that silently no-ops on a bad request is worse than one
// that refuses it.
func (e *Engine) TransitionTo(ctx context.Context, newLevel model.IncidentLevel, changedByKeyID, reason *string) (model.IncidentState, error) {
	if !newLevel.Valid() {
		return model.IncidentState{}, apierr.New(
			apierr.KindValidation, "invalid_incident_level", "invalid_incident_level",
			"unknown incident level",
		)
	}
	current, err := e.CurrentState(ctx)
	if err != nil {
		return model.IncidentState{}, err
	}
	if current.Level == newLevel {
		return model.IncidentState{}, apierr.New(
			apierr.KindConflict, "incident_no_state_change", "no_state_change",
			"incident level already active",
		)
	}
	if !allowedTransitions[current.Level][newLevel] {
		return model.IncidentState{}, apierr.New(
			apierr.KindConflict, "incident_invalid_transition", "invalid_transition",
			"incident transition not allowed",
		)
	}
	next := model.IncidentState{
		Level:          newLevel,
		ChangedByKeyID: changedByKeyID,
		Reason:         reason,
		ChangedAt:      e.clock.Now(),
	}
	if err := e.store.AppendIncident(ctx, next); err != nil {
		return model.IncidentState{}, fmt.Errorf("incident: append transition: %w", err)
	}
	telemetry.IncidentLevel.Set(levelValue(newLevel))
	return next, nil
}
