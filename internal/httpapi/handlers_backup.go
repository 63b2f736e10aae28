package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/backup"
	"github.com/cuemby/warrenguard/internal/model"
)

// source_system ∈ [2..200] chars, description ≤255 chars (spec.md §2 backup
// metadata attributes, §4.2 inputs).
const (
	sourceSystemMinLen = 2
	sourceSystemMaxLen = 200
	descriptionMaxLen  = 255
)

// BackupEngine is the internal/backup seam this boundary needs.
type BackupEngine interface {
	Submit(ctx context.Context, req backup.Request, principal *model.Principal) (backup.Result, error)
}

type backupHandlers struct {
	engine BackupEngine
}

// submitBackupRequest mirrors the original system's request body: payload
// travels as base64 text in a JSON body rather than multipart, so a
// single decoder handles every field.
type submitBackupRequest struct {
	Classification *model.Classification `json:"classification"`
	SourceSystem   string                 `json:"source_system"`
	Description    *string                `json:"description"`
	Payload        string                 `json:"payload"` // base64
}

func (h *backupHandlers) submit(w http.ResponseWriter, r *http.Request) {
	var body submitBackupRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "malformed_body", "request body is not valid JSON"))
		return
	}
	if body.SourceSystem == "" {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "missing_source_system", "request validation failed").
			WithDetails(apierr.Detail{Loc: []string{"body", "source_system"}, Msg: "Field required", Type: "missing"}))
		return
	}
	if len(body.SourceSystem) < sourceSystemMinLen {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "source_system_too_short", "request validation failed").
			WithDetails(apierr.Detail{Loc: []string{"body", "source_system"}, Msg: "String should have at least 2 characters", Type: "string_too_short"}))
		return
	}
	if len(body.SourceSystem) > sourceSystemMaxLen {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "source_system_too_long", "request validation failed").
			WithDetails(apierr.Detail{Loc: []string{"body", "source_system"}, Msg: "String should have at most 200 characters", Type: "string_too_long"}))
		return
	}
	if body.Description != nil && len(*body.Description) > descriptionMaxLen {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "description_too_long", "request validation failed").
			WithDetails(apierr.Detail{Loc: []string{"body", "description"}, Msg: "String should have at most 255 characters", Type: "string_too_long"}))
		return
	}
	payload, err := base64.StdEncoding.DecodeString(body.Payload)
	if err != nil {
		writeError(w, r, apierr.New(apierr.KindValidation, "VALIDATION_ERROR", "invalid_payload_encoding", "request validation failed").
			WithDetails(apierr.Detail{Loc: []string{"body", "payload"}, Msg: "payload must be base64-encoded", Type: "value_error"}))
		return
	}

	result, err := h.engine.Submit(r.Context(), backup.Request{
		Classification: body.Classification,
		SourceSystem:   body.SourceSystem,
		Description:    body.Description,
		Payload:        payload,
	}, principalFromContext(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"status":         result.Status,
		"backup_id":      result.BackupID,
		"classification": result.Classification,
		"source_system":  result.SourceSystem,
	})
}
