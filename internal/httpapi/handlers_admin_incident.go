package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/model"
)

// IncidentEngine is the internal/incident seam this boundary needs.
type IncidentEngine interface {
	CurrentState(ctx context.Context) (model.IncidentState, error)
	TransitionTo(ctx context.Context, newLevel model.IncidentLevel, changedByKeyID, reason *string) (model.IncidentState, error)
}

type incidentHandlers struct {
	engine IncidentEngine
}

func (h *incidentHandlers) get(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.CurrentState(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, incidentStateJSON(state))
}

type transitionIncidentRequest struct {
	Level  model.IncidentLevel `json:"level"`
	Reason *string             `json:"reason"`
}

func (h *incidentHandlers) put(w http.ResponseWriter, r *http.Request) {
	var body transitionIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "malformed_body", "request body is not valid JSON"))
		return
	}
	var actor *string
	if principal := principalFromContext(r); principal != nil {
		actor = &principal.KeyID
	}
	state, err := h.engine.TransitionTo(r.Context(), body.Level, actor, body.Reason)
	if err != nil {
		writeError(w, r, withFallbackCode(err, "INCIDENT_TRANSITION_INVALID"))
		return
	}
	writeData(w, r, http.StatusOK, incidentStateJSON(state))
}

func incidentStateJSON(state model.IncidentState) map[string]any {
	return map[string]any{
		"level":            state.Level,
		"changed_by_key_id": state.ChangedByKeyID,
		"reason":           state.Reason,
		"changed_at":       state.ChangedAt,
	}
}
