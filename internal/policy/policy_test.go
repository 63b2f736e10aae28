package policy

import (
	"testing"

	"github.com/cuemby/warrenguard/internal/model"
)

func TestAuthorizeByRole(t *testing.T) {
	e := NewEngine(DefaultTables())
	operator := &model.Principal{KeyID: "k1", Role: model.RoleOperator}
	admin := &model.Principal{KeyID: "k2", Role: model.RoleAdmin}

	if d := e.Authorize(operator, PermissionRestores); d.Allowed {
		t.Fatal("operator should not hold restores permission")
	}
	if d := e.Authorize(admin, PermissionRestores); !d.Allowed {
		t.Fatal("admin should hold restores permission")
	}
	if d := e.Authorize(nil, PermissionBackups); d.Allowed {
		t.Fatal("nil principal should never be allowed")
	}
}

func TestEvaluateBackupRespectsClassificationTable(t *testing.T) {
	tables := DefaultTables()
	tables.ClassificationRoles[model.ClassificationSecret] = []model.Role{model.RoleAdmin, model.RoleSuperAdmin}
	e := NewEngine(tables)

	operator := &model.Principal{KeyID: "k1", Role: model.RoleOperator}
	d := e.EvaluateBackup(operator, model.ClassificationSecret)
	if d.Allowed {
		t.Fatal("operator locked out of SECRET should not be allowed")
	}
	if d.ReasonCategory != "classification_restricted" {
		t.Fatalf("ReasonCategory = %q, want classification_restricted", d.ReasonCategory)
	}

	d = e.EvaluateBackup(operator, model.ClassificationPublic)
	if !d.Allowed {
		t.Fatal("operator should be allowed to submit a PUBLIC backup")
	}
}

func TestEvaluateRestoreRequiresAdminRoleRegardlessOfClassification(t *testing.T) {
	e := NewEngine(DefaultTables())
	operator := &model.Principal{KeyID: "k1", Role: model.RoleOperator}
	admin := &model.Principal{KeyID: "k2", Role: model.RoleAdmin}

	d := e.EvaluateRestore(operator, model.ClassificationPublic)
	if d.Allowed {
		t.Fatal("operator should never be allowed to restore")
	}
	if d.ReasonCategory != "insufficient_role" {
		t.Fatalf("ReasonCategory = %q, want insufficient_role", d.ReasonCategory)
	}

	d = e.EvaluateRestore(admin, model.ClassificationConfidential)
	if !d.Allowed {
		t.Fatal("admin should be allowed to restore a CONFIDENTIAL backup by default")
	}
}

func TestSetTablesSwapsActiveRules(t *testing.T) {
	e := NewEngine(DefaultTables())
	operator := &model.Principal{KeyID: "k1", Role: model.RoleOperator}

	restricted := DefaultTables()
	restricted.ClassificationRoles[model.ClassificationPublic] = []model.Role{model.RoleAdmin, model.RoleSuperAdmin}
	e.SetTables(restricted)

	if d := e.EvaluateBackup(operator, model.ClassificationPublic); d.Allowed {
		t.Fatal("after SetTables, operator should be locked out of PUBLIC")
	}
}
