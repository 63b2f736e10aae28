package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cuemby/warrenguard/internal/apierr"
	"github.com/cuemby/warrenguard/internal/audit"
	"github.com/cuemby/warrenguard/internal/model"
)

// AuditEngine is the internal/audit seam this boundary needs.
type AuditEngine interface {
	Validate(ctx context.Context) (audit.Result, error)
}

// AuditStore is the raw entry-listing seam; internal/store.Store and
// internal/store/memstore both satisfy audit.Store, which is a superset
// of this.
type AuditStore interface {
	Entries(ctx context.Context, after int64, limit int) ([]model.AuditEntry, error)
}

type auditHandlers struct {
	engine AuditEngine
	store  AuditStore
}

func (h *auditHandlers) validateChain(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Validate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	data := map[string]any{
		"valid":           result.Valid,
		"checked_entries": result.CheckedEntries,
	}
	if result.Failure != nil {
		data["failure"] = map[string]any{
			"chain_index": result.Failure.ChainIndex,
			"event_id":    result.Failure.EventID,
			"reason":      result.Failure.Reason,
		}
	}
	writeData(w, r, http.StatusOK, data)
}

func (h *auditHandlers) listEntries(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	action := r.URL.Query().Get("action")
	resource := r.URL.Query().Get("resource")
	status := r.URL.Query().Get("status")

	matched := make([]model.AuditEntry, 0, limit)
	after := int64(offset)
	const scanPage = 500
	for len(matched) < limit {
		page, err := h.store.Entries(r.Context(), after, scanPage)
		if err != nil {
			writeError(w, r, apierr.Wrap(apierr.KindExecutionUnavailable, "AUDIT_UNAVAILABLE", "audit_read_failed", "failed to read audit entries", err))
			return
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			if action != "" && e.Action != action {
				continue
			}
			if resource != "" && e.Resource != resource {
				continue
			}
			if status != "" && (e.Status == nil || *e.Status != status) {
				continue
			}
			matched = append(matched, e)
			if len(matched) == limit {
				break
			}
		}
		after = page[len(page)-1].ChainIndex
		if len(page) < scanPage {
			break
		}
	}
	writeData(w, r, http.StatusOK, map[string]any{"entries": matched, "offset": offset, "limit": limit})
}

func (h *auditHandlers) summary(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Validate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]any{
		"valid":           result.Valid,
		"checked_entries": result.CheckedEntries,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
