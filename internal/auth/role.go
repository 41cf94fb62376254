package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of principal roles, ordered by privilege. A role is
// only ever constructed through ParseRole or the exported constants; an
// unknown value is a construction-time error, not a runtime lookup miss.
type Role string

const (
	RolePatient    Role = "patient"
	RoleAssistant  Role = "assistant"
	RoleDentist    Role = "dentist"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// roleRank defines the total privilege order. Higher rank means more
// privileged; super_admin outranks everything and bypasses scope checks.
var roleRank = map[Role]int{
	RolePatient:    0,
	RoleAssistant:  1,
	RoleDentist:    2,
	RoleManager:    3,
	RoleAdmin:      4,
	RoleSuperAdmin: 5,
}

// StaffRoles lists every role a clinic employee can hold, least privileged
// first.
var StaffRoles = []Role{RoleAssistant, RoleDentist, RoleManager, RoleAdmin, RoleSuperAdmin}

// ParseRole normalizes and validates a raw role value.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
	return role, nil
}

// Valid reports whether the role belongs to the closed enumeration.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Rank returns the role's position in the privilege order.
func (r Role) Rank() int {
	return roleRank[r]
}

// AtLeast reports whether r is at least as privileged as other. The relation
// is reflexive: a role always satisfies a check requiring itself.
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && other.Valid() && roleRank[r] >= roleRank[other]
}

// PrincipalClass separates portal patients from clinic staff. Lockout
// thresholds are configured per class; the algorithm is shared.
type PrincipalClass string

const (
	ClassStaff   PrincipalClass = "staff"
	ClassPatient PrincipalClass = "patient"
)

// Class returns the lockout class the role belongs to.
func (r Role) Class() PrincipalClass {
	if r == RolePatient {
		return ClassPatient
	}
	return ClassStaff
}
