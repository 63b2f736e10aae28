package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/model"
)

// PolicyStore is the internal/store.Store subset policy-record
// administration needs (SPEC_FULL.md supplemented feature 2).
type PolicyStore interface {
	GetPolicy(ctx context.Context, policyID string) (*model.PolicyRecord, bool, error)
	PutPolicy(ctx context.Context, p model.PolicyRecord) error
	ListPolicies(ctx context.Context) ([]model.PolicyRecord, error)
}

type policyHandlers struct {
	store PolicyStore
	clock clockid.Clock
	ids   clockid.IDProvider
}

func (h *policyHandlers) list(w http.ResponseWriter, r *http.Request) {
	policies, err := h.store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "POLICIES_UNAVAILABLE", "store_read_failed", "failed to list policies", err))
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{"policies": policies})
}

func (h *policyHandlers) get(w http.ResponseWriter, r *http.Request) {
	policyID := r.PathValue("id")
	policy, found, err := h.store.GetPolicy(r.Context(), policyID)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "POLICIES_UNAVAILABLE", "store_read_failed", "failed to read policy", err))
		return
	}
	if !found {
		writeError(w, r, apierr.New(apierr.KindNotFound, "POLICY_NOT_FOUND", "policy_not_found", "policy not found"))
		return
	}
	writeData(w, r, http.StatusOK, policy)
}

type putPolicyRequest struct {
	RolePermissions     map[model.Role][]string             `json:"role_permissions"`
	ClassificationRoles map[model.Classification][]model.Role `json:"classification_roles"`
}

func (h *policyHandlers) put(w http.ResponseWriter, r *http.Request) {
	policyID := r.PathValue("id")
	var body putPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "malformed_body", "request body is not valid JSON"))
		return
	}
	now := h.clock.Now()
	existing, found, err := h.store.GetPolicy(r.Context(), policyID)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "POLICIES_UNAVAILABLE", "store_read_failed", "failed to read policy", err))
		return
	}
	record := model.PolicyRecord{
		PolicyID:            policyID,
		RolePermissions:     body.RolePermissions,
		ClassificationRoles: body.ClassificationRoles,
		CreatedAt:           now,
	}
	if found {
		record.CreatedAt = existing.CreatedAt
		record.UpdatedAt = &now
	}
	if err := h.store.PutPolicy(r.Context(), record); err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "POLICIES_UNAVAILABLE", "store_write_failed", "failed to write policy", err))
		return
	}
	writeData(w, r, http.StatusOK, record)
}

func (h *policyHandlers) create(w http.ResponseWriter, r *http.Request) {
	var body putPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "malformed_body", "request body is not valid JSON"))
		return
	}
	record := model.PolicyRecord{
		PolicyID:            h.ids.NewID(),
		RolePermissions:     body.RolePermissions,
		ClassificationRoles: body.ClassificationRoles,
		CreatedAt:           h.clock.Now(),
	}
	if err := h.store.PutPolicy(r.Context(), record); err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "POLICIES_UNAVAILABLE", "store_write_failed", "failed to write policy", err))
		return
	}
	writeData(w, r, http.StatusOK, record)
}
