// Package policy implements the pure in-memory authorization decision
// function of spec.md §4.7: role→permission and classification→role
// tables, with authorize/evaluate_backup/evaluate_restore on top.
package policy

import (
	"github.com/cuemby/warrenguard/internal/model"
)

// Permission is a named capability a Role may hold.
type Permission string

const (
	PermissionBackups  Permission = "backups"
	PermissionRestores Permission = "restores"
	PermissionAudit    Permission = "audit"
	PermissionAdmin    Permission = "admin"
)

// Decision is the uniform result shape for every policy question.
type Decision struct {
	Allowed            bool
	Reason             string
	ReasonCategory     string
	Role               model.Role
	RequiredPermission Permission
	Classification     model.Classification
}

// Tables holds the two decision tables, overridable per spec.md §4.7 ("backup
// classification_roles... operators can be locked out of SECRET by
// configuration") and SPEC_FULL.md's policy-record administration feature.
type Tables struct {
	RolePermissions     map[model.Role][]Permission
	ClassificationRoles map[model.Classification][]model.Role
}

// DefaultTables returns the built-in defaults from spec.md §4.7: every
// role can touch backups; admin and super_admin additionally get
// restores/audit/admin; every classification allows all three roles.
func DefaultTables() Tables {
	return Tables{
		RolePermissions: map[model.Role][]Permission{
			model.RoleOperator:   {PermissionBackups},
			model.RoleAdmin:      {PermissionBackups, PermissionRestores, PermissionAudit, PermissionAdmin},
			model.RoleSuperAdmin: {PermissionBackups, PermissionRestores, PermissionAudit, PermissionAdmin},
		},
		ClassificationRoles: map[model.Classification][]model.Role{
			model.ClassificationPublic:       {model.RoleOperator, model.RoleAdmin, model.RoleSuperAdmin},
			model.ClassificationInternal:     {model.RoleOperator, model.RoleAdmin, model.RoleSuperAdmin},
			model.ClassificationConfidential: {model.RoleOperator, model.RoleAdmin, model.RoleSuperAdmin},
			model.ClassificationSecret:       {model.RoleOperator, model.RoleAdmin, model.RoleSuperAdmin},
		},
	}
}

// Engine evaluates authorization questions against a mutable Tables value,
// so SPEC_FULL.md's policy-record administration feature can swap the
// active tables at runtime without reconstructing collaborators.
type Engine struct {
	tables Tables
}

// NewEngine builds an Engine seeded with tables.
func NewEngine(tables Tables) *Engine {
	return &Engine{tables: tables}
}

// SetTables replaces the active tables, e.g. after an admin policy update.
func (e *Engine) SetTables(tables Tables) { e.tables = tables }

// Tables returns the currently active tables.
func (e *Engine) Tables() Tables { return e.tables }

// Authorize checks whether principal's role holds permission.
func (e *Engine) Authorize(principal *model.Principal, permission Permission) Decision {
	if principal == nil {
		return Decision{Allowed: false, Reason: "no authenticated principal", ReasonCategory: "missing_principal", RequiredPermission: permission}
	}
	for _, p := range e.tables.RolePermissions[principal.Role] {
		if p == permission {
			return Decision{Allowed: true, Role: principal.Role, RequiredPermission: permission}
		}
	}
	return Decision{
		Allowed: false, Role: principal.Role, RequiredPermission: permission,
		Reason: "role lacks required permission", ReasonCategory: "insufficient_role",
	}
}

// EvaluateBackup decides whether principal may submit a backup of
// classification.
func (e *Engine) EvaluateBackup(principal *model.Principal, classification model.Classification) Decision {
	if principal == nil {
		return Decision{Allowed: false, Reason: "no authenticated principal", ReasonCategory: "missing_principal", Classification: classification}
	}
	base := e.Authorize(principal, PermissionBackups)
	if !base.Allowed {
		base.Classification = classification
		return base
	}
	if !roleAllowed(e.tables.ClassificationRoles[classification], principal.Role) {
		return Decision{
			Allowed: false, Role: principal.Role, Classification: classification,
			Reason: "role is not permitted for this classification", ReasonCategory: "classification_restricted",
		}
	}
	return Decision{Allowed: true, Role: principal.Role, Classification: classification}
}

// EvaluateRestore decides whether principal may restore a backup of
// classification. Restore additionally requires role ∈ {admin,
// super_admin} regardless of classification, per spec.md §4.7.
func (e *Engine) EvaluateRestore(principal *model.Principal, classification model.Classification) Decision {
	if principal == nil {
		return Decision{Allowed: false, Reason: "no authenticated principal", ReasonCategory: "missing_principal", Classification: classification}
	}
	if principal.Role != model.RoleAdmin && principal.Role != model.RoleSuperAdmin {
		return Decision{
			Allowed: false, Role: principal.Role, Classification: classification,
			Reason: "restore requires admin or super_admin", ReasonCategory: "insufficient_role",
		}
	}
	base := e.Authorize(principal, PermissionRestores)
	if !base.Allowed {
		base.Classification = classification
		return base
	}
	if !roleAllowed(e.tables.ClassificationRoles[classification], principal.Role) {
		return Decision{
			Allowed: false, Role: principal.Role, Classification: classification,
			Reason: "role is not permitted for this classification", ReasonCategory: "classification_restricted",
		}
	}
	return Decision{Allowed: true, Role: principal.Role, Classification: classification}
}

func roleAllowed(roles []model.Role, role model.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
