// Package httpapi is the REST boundary of spec.md §6: a thin
// encoding/decoding and routing layer over the core engines
// (internal/backup, internal/restore, internal/keymgmt, internal/incident,
// internal/monitoring, internal/audit), modeled on the original system's
// FastAPI envelope and the teacher's pkg/api.HealthServer request-handling
// style, ported onto net/http.ServeMux's method+path routing.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/warrenguard/internal/apierr"
)

// Envelope is the response shape every endpoint returns (spec.md §6):
// {data, meta: {request_id}, error?}.
type Envelope struct {
	Data  any            `json:"data"`
	Meta  Meta           `json:"meta"`
	Error *EnvelopeError `json:"error,omitempty"`
}

// Meta carries the request id every response echoes back.
type Meta struct {
	RequestID string `json:"request_id"`
}

// EnvelopeError is the error half of the envelope.
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Data: data, Meta: Meta{RequestID: requestID(r)}})
}

// writeError renders err onto the wire, mapping it to a status code and
// API code via statusAndCode. Structured validation details, when
// present, ride in data.details exactly as the original system's
// request_validation_exception_handler does.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := statusAndCode(err)
	var data any
	if len(details) > 0 {
		data = map[string]any{"details": details}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{
		Data:  data,
		Meta:  Meta{RequestID: requestID(r)},
		Error: &EnvelopeError{Code: code, Message: message},
	})
}

// knownCodes maps every external API code named in spec.md §6 to its
// status. Two of this module's internal packages (internal/principal,
// internal/restoretoken) historically swap which of apierr.Error's Code
// and ReasonCategory fields carries the upper-snake-case API code versus
// the lower-snake-case reason; statusAndCode checks both so the boundary
// works regardless of which field a given component populated.
var knownCodes = map[string]int{
	"VALIDATION_ERROR":            http.StatusUnprocessableEntity,
	"POLICY_DENIED":               http.StatusForbidden,
	"UPLOAD_FAILED":               http.StatusInternalServerError,
	"MFA_REQUIRED":                http.StatusUnauthorized,
	"MFA_INVALID":                 http.StatusUnauthorized,
	"RESTORE_RESTRICTED":          http.StatusForbidden,
	"RESTORE_BACKUP_NOT_FOUND":    http.StatusNotFound,
	"RESTORE_INTEGRITY_FAILED":    http.StatusConflict,
	"RESTORE_IRREVERSIBLE":        http.StatusGone,
	"RESTORE_UNAVAILABLE":         http.StatusServiceUnavailable,
	"RESTORE_TOKEN_INVALID":       http.StatusUnauthorized,
	"RESTORE_TOKEN_EXPIRED":       http.StatusUnauthorized,
	"RESTORE_TOKEN_FORBIDDEN":     http.StatusForbidden,
	"INCIDENT_TRANSITION_INVALID": http.StatusBadRequest,
	"ALERT_STATUS_INVALID":        http.StatusBadRequest,
	"ALERT_NOT_FOUND":             http.StatusNotFound,
	"API_KEY_NOT_FOUND":           http.StatusNotFound,
	"KEY_ROTATION_INVALID":        http.StatusBadRequest,
	"CRYPTO_SHRED_DENIED":         http.StatusForbidden,
	"KEY_VERSION_NOT_FOUND":       http.StatusNotFound,
	"POLICY_NOT_FOUND":            http.StatusNotFound,
}

// kindDefaults picks a status for an apierr.Kind whose code didn't match
// knownCodes: a handler-local fallback code (see withFallbackCode), or a
// handler-local code that knownCodes does not list, such as
// ALERTS_UNAVAILABLE.
var kindDefaults = map[apierr.Kind]int{
	apierr.KindValidation:           http.StatusUnprocessableEntity,
	apierr.KindAuthentication:       http.StatusUnauthorized,
	apierr.KindMFA:                  http.StatusUnauthorized,
	apierr.KindAuthorization:        http.StatusForbidden,
	apierr.KindIncidentRestricted:   http.StatusForbidden,
	apierr.KindIrreversible:         http.StatusGone,
	apierr.KindIntegrity:            http.StatusConflict,
	apierr.KindExecutionUnavailable: http.StatusServiceUnavailable,
	apierr.KindConflict:             http.StatusConflict,
	apierr.KindNotFound:             http.StatusNotFound,
	apierr.KindState:                http.StatusBadRequest,
}

// fallbackCode is a sentinel error wrapper letting a handler pin the
// external API code spec.md §6 documents for its endpoint (e.g.
// "INCIDENT_TRANSITION_INVALID") when the underlying engine raised a more
// granular internal reason (e.g. "incident_no_state_change") that never
// appears in the external surface.
type fallbackCode struct {
	err  error
	code string
}

func (f fallbackCode) Error() string { return f.err.Error() }
func (f fallbackCode) Unwrap() error { return f.err }

func withFallbackCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return fallbackCode{err: err, code: code}
}

func statusAndCode(err error) (status int, code, message string, details []apierr.Detail) {
	var pinnedCode string
	cause := err
	if fc, ok := err.(fallbackCode); ok {
		pinnedCode = fc.code
		cause = fc.err
	}

	ae, ok := cause.(*apierr.Error)
	if !ok {
		return http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error", nil
	}
	if st, found := knownCodes[ae.Code]; found {
		return st, ae.Code, ae.Message, ae.Details
	}
	if st, found := knownCodes[ae.ReasonCategory]; found {
		return st, ae.ReasonCategory, ae.Message, ae.Details
	}
	status = kindDefaults[ae.Kind]
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if pinnedCode != "" {
		if st, found := knownCodes[pinnedCode]; found {
			status = st
		}
		return status, pinnedCode, ae.Message, ae.Details
	}
	return status, ae.Code, ae.Message, ae.Details
}
