package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/restore"
)

// RestoreEngine is the internal/restore seam this boundary needs.
type RestoreEngine interface {
	Restore(ctx context.Context, req restore.Request, principal *model.Principal) (restore.Result, error)
}

// RestoreTokenValidator is the internal/restoretoken seam this boundary
// needs for the token-exchange endpoint.
type RestoreTokenValidator interface {
	ValidateToken(ctx context.Context, token string, callerKeyID *string) (backupID string, expiresAt time.Time, err error)
}

type restoreHandlers struct {
	engine RestoreEngine
	tokens RestoreTokenValidator
}

type startRestoreRequest struct {
	BackupID string `json:"backup_id"`
}

func (h *restoreHandlers) start(w http.ResponseWriter, r *http.Request) {
	var body startRestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "malformed_body", "request body is not valid JSON"))
		return
	}
	if body.BackupID == "" {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "missing_backup_id", "request validation failed").
			WithDetails(apierr.Detail{Loc: []string{"body", "backup_id"}, Msg: "Field required", Type: "missing"}))
		return
	}

	result, err := h.engine.Restore(r.Context(), restore.Request{
		BackupID: body.BackupID,
		MFAToken: mfaToken(r),
	}, principalFromContext(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	data := map[string]any{
		"status":    result.Status,
		"backup_id": result.Backup.BackupID,
	}
	if result.RestrictionReason != "" {
		data["restriction_reason"] = result.RestrictionReason
	}
	if result.Status == "restore_completed" {
		data["integrity_verified"] = result.IntegrityVerified
		data["restored_size"] = result.RestoredSize
		data["restore_token"] = result.RestoreToken
		data["restore_token_expires_at"] = result.RestoreTokenExpiry
	}
	writeData(w, r, http.StatusOK, data)
}

// exchange implements GET /restores/access/{token}.
func (h *restoreHandlers) exchange(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "missing_token", "restore access token is required"))
		return
	}
	var callerKeyID *string
	if principal := principalFromContext(r); principal != nil {
		callerKeyID = &principal.KeyID
	}
	backupID, expiresAt, err := h.tokens.ValidateToken(r.Context(), token, callerKeyID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{
		"status":     "restore_access_granted",
		"backup_id":  backupID,
		"expires_at": expiresAt,
	})
}
