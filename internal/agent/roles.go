// Package agent defines the negotiating roles and their scoring weights.
package agent

import (
	"fmt"
	"strings"
)

// Role identifies a negotiating agent. The set is fixed; roles are only
// used as lookup keys.
type Role string

const (
	RoleLeader         Role = "leader"
	RoleProjectManager Role = "project_manager"
	RoleArchitect      Role = "architect"
	RoleEngineer       Role = "engineer"
	RoleDataAnalyst    Role = "data_analyst"
	RoleCritic         Role = "critic"
	RoleResearcher     Role = "researcher"
	RoleFixer          Role = "fixer"
)

// AllRoles lists every known role in display order.
var AllRoles = []Role{
	RoleLeader,
	RoleProjectManager,
	RoleArchitect,
	RoleEngineer,
	RoleDataAnalyst,
	RoleCritic,
	RoleResearcher,
	RoleFixer,
}

// roleAliases maps the short names used in chat commands and documents.
var roleAliases = map[string]Role{
	"pm":      RoleProjectManager,
	"analyst": RoleDataAnalyst,
}

// ParseRole converts a string into a known Role. Matching is
// case-insensitive and accepts "-" in place of "_".
func ParseRole(s string) (Role, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	if r, ok := roleAliases[norm]; ok {
		return r, nil
	}
	for _, r := range AllRoles {
		if string(r) == norm {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Known reports whether r is one of AllRoles.
func (r Role) Known() bool {
	for _, k := range AllRoles {
		if k == r {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }
