package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/monitoring"
	"github.com/cuemby/warrenguard/internal/policy"
)

// policyFile is the on-disk shape of a policy override, using plain
// strings for the table keys so it reads naturally as YAML; LoadPolicy
// converts it into policy.Tables.
type policyFile struct {
	RolePermissions     map[string][]string `yaml:"role_permissions"`
	ClassificationRoles map[string][]string `yaml:"classification_roles"`
}

// LoadPolicy reads a YAML file in the shape written by policyFile and
// returns the equivalent policy.Tables, generalizing the teacher's
// yaml.v3 use for cluster manifests (pkg/deploy) to policy manifests. A
// missing PolicyFile setting means "use policy.DefaultTables()" — this
// function is only called when Settings.PolicyFile is non-empty.
func LoadPolicy(path string) (policy.Tables, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return policy.Tables{}, fmt.Errorf("config: read policy file: %w", err)
	}
	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return policy.Tables{}, fmt.Errorf("config: parse policy file: %w", err)
	}

	tables := policy.Tables{
		RolePermissions:     map[model.Role][]policy.Permission{},
		ClassificationRoles: map[model.Classification][]model.Role{},
	}
	for role, perms := range pf.RolePermissions {
		r := model.Role(role)
		if !r.Valid() {
			return policy.Tables{}, fmt.Errorf("config: policy file: unknown role %q", role)
		}
		ps := make([]policy.Permission, len(perms))
		for i, p := range perms {
			ps[i] = policy.Permission(p)
		}
		tables.RolePermissions[r] = ps
	}
	for classification, roles := range pf.ClassificationRoles {
		c := model.Classification(classification)
		if !c.Valid() {
			return policy.Tables{}, fmt.Errorf("config: policy file: unknown classification %q", classification)
		}
		rs := make([]model.Role, len(roles))
		for i, role := range roles {
			r := model.Role(role)
			if !r.Valid() {
				return policy.Tables{}, fmt.Errorf("config: policy file: unknown role %q", role)
			}
			rs[i] = r
		}
		tables.ClassificationRoles[c] = rs
	}
	return tables, nil
}

// monitoringRuleFile mirrors monitoring.Rule with YAML tags.
type monitoringRuleFile struct {
	RuleID        string `yaml:"rule_id"`
	SourceEvent   string `yaml:"source_event"`
	Threshold     int    `yaml:"threshold"`
	WindowMinutes int    `yaml:"window_minutes"`
	Severity      string `yaml:"severity"`
	Reason        string `yaml:"reason"`
}

// LoadMonitoringRules reads a YAML file of rule overrides and returns
// the equivalent []monitoring.Rule. A missing MonitoringRulesFile
// setting means "use monitoring.DefaultRules()".
func LoadMonitoringRules(path string) ([]monitoring.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read monitoring rules file: %w", err)
	}
	var files []monitoringRuleFile
	if err := yaml.Unmarshal(raw, &files); err != nil {
		return nil, fmt.Errorf("config: parse monitoring rules file: %w", err)
	}
	rules := make([]monitoring.Rule, len(files))
	for i, f := range files {
		severity := model.AlertSeverity(f.Severity)
		rules[i] = monitoring.Rule{
			RuleID:        f.RuleID,
			SourceEvent:   f.SourceEvent,
			Threshold:     f.Threshold,
			WindowMinutes: f.WindowMinutes,
			Severity:      severity,
			Reason:        f.Reason,
		}
	}
	return rules, nil
}
