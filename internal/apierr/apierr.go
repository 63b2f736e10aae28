// Package apierr defines the typed error envelope shared by every core
// component and the HTTP boundary's code/status mapping (spec.md §7).
package apierr

import "fmt"

// Kind is a coarse error category used to pick an HTTP status at the boundary.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindAuthentication       Kind = "authentication"
	KindMFA                  Kind = "mfa"
	KindAuthorization        Kind = "authorization"
	KindIncidentRestricted   Kind = "incident_restricted"
	KindIrreversible         Kind = "irreversible"
	KindIntegrity            Kind = "integrity"
	KindExecutionUnavailable Kind = "execution_unavailable"
	KindConflict             Kind = "conflict"
	KindNotFound             Kind = "not_found"
	KindState                Kind = "state"
)

// Detail is one structured validation failure, matching the original
// system's `{loc, msg, type}` shape.
type Detail struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// Error is the typed error every core component raises. The HTTP boundary
// (internal/httpapi) maps Code to a status code and response envelope; it
// never inspects Kind-specific internals beyond what is exported here.
type Error struct {
	Kind           Kind
	Code           string // machine-readable API code, e.g. "POLICY_DENIED"
	ReasonCategory string // short snake_case reason, e.g. "insufficient_role"
	Message        string
	Details        []Detail
	cause          error
}

func (e *Error) Error() string {
	if e.ReasonCategory != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.ReasonCategory)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, code, reasonCategory, message string) *Error {
	return &Error{Kind: kind, Code: code, ReasonCategory: reasonCategory, Message: message}
}

// Wrap builds an Error wrapping an underlying cause, for %w-style chains.
func Wrap(kind Kind, code, reasonCategory, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, ReasonCategory: reasonCategory, Message: message, cause: cause}
}

// WithDetails attaches structured validation details and returns e for chaining.
func (e *Error) WithDetails(details ...Detail) *Error {
	e.Details = details
	return e
}
