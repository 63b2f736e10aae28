package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/store"
)

// AlertStore is the internal/store.Store subset alert administration needs.
type AlertStore interface {
	GetAlert(ctx context.Context, alertID string) (*model.Alert, bool, error)
	UpdateAlert(ctx context.Context, a model.Alert) error
	ListAlerts(ctx context.Context, filter store.ListAlertsFilter) ([]model.Alert, error)
}

type alertHandlers struct {
	store AlertStore
}

func (h *alertHandlers) list(w http.ResponseWriter, r *http.Request) {
	filter := store.ListAlertsFilter{Offset: queryInt(r, "offset", 0), Limit: queryInt(r, "limit", 50)}
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := model.AlertStatus(raw)
		filter.Status = &s
	}
	alerts, err := h.store.ListAlerts(r.Context(), filter)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "ALERTS_UNAVAILABLE", "alerts_read_failed", "failed to list alerts", err))
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"alerts": alerts})
}

type updateAlertStatusRequest struct {
	Status model.AlertStatus `json:"status"`
}

// updateStatus implements PUT /admin/alerts/{id}/status.
func (h *alertHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	alertID := r.PathValue("id")
	if alertID == "" {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "missing_alert_id", "alert id is required"))
		return
	}
	var body updateAlertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "malformed_body", "request body is not valid JSON"))
		return
	}
	if body.Status != model.AlertStatusOpen && body.Status != model.AlertStatusAcknowledged && body.Status != model.AlertStatusResolved {
		writeError(w, r, apierr.New(apierr.KindValidation, "ALERT_STATUS_INVALID", "alert_status_invalid", "unknown alert status"))
		return
	}
	alert, found, err := h.store.GetAlert(r.Context(), alertID)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "ALERTS_UNAVAILABLE", "alerts_read_failed", "failed to read alert", err))
		return
	}
	if !found {
		writeError(w, r, apierr.New(apierr.KindNotFound, "ALERT_NOT_FOUND", "alert_not_found", "alert not found"))
		return
	}
	statusRank := map[model.AlertStatus]int{model.AlertStatusOpen: 0, model.AlertStatusAcknowledged: 1, model.AlertStatusResolved: 2}
	if step := statusRank[body.Status] - statusRank[alert.Status]; step < 0 || step > 1 {
		writeError(w, r, apierr.New(apierr.KindValidation, "ALERT_STATUS_INVALID", "alert_status_transition_invalid", "alert status transition is not allowed"))
		return
	}
	alert.Status = body.Status
	if err := h.store.UpdateAlert(r.Context(), *alert); err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "ALERTS_UNAVAILABLE", "alerts_write_failed", "failed to update alert", err))
		return
	}
	writeData(w, r, http.StatusOK, alert)
}
