package auth

import "log"

// Resource names a protected business object class.
type Resource string

const (
	ResourcePatients     Resource = "patients"
	ResourceAppointments Resource = "appointments"
	ResourceProviders    Resource = "providers"
	ResourceBilling      Resource = "billing"
	ResourceContacts     Resource = "contacts"
	ResourceUsers        Resource = "users"
	ResourceClinics      Resource = "clinics"
)

// Action is a CRUD verb plus the manage superset grant.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
)

// Actions lists the concrete verbs, manage excluded. ActionsFor reports in
// this order.
var Actions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

// Matrix is the static resource × action → allowed roles table. It is
// constructed once at startup and passed by reference; there is no ambient
// global lookup. A manage grant on a resource implies every other action on
// that resource for the same roles.
type Matrix struct {
	grants map[Resource]map[Action][]Role

	// diag is called when a lookup names a resource the matrix does not
	// know. That is a programming error in route wiring, not a security
	// decision; the lookup still fails closed.
	diag func(resource Resource)
}

// defaultGrants is the clinic permission model. Kept small on purpose: five
// staff roles and a handful of resources do not warrant a policy engine, and
// the single manage escape hatch keeps grants auditable at a glance.
var defaultGrants = map[Resource]map[Action][]Role{
	ResourcePatients: {
		ActionCreate: {RoleAssistant, RoleDentist, RoleManager},
		ActionRead:   {RoleAssistant, RoleDentist, RoleManager},
		ActionUpdate: {RoleDentist, RoleManager},
		ActionDelete: {RoleManager},
		ActionManage: {RoleAdmin},
	},
	ResourceAppointments: {
		ActionCreate: {RoleAssistant, RoleDentist, RoleManager},
		ActionRead:   {RolePatient, RoleAssistant, RoleDentist, RoleManager},
		ActionUpdate: {RoleAssistant, RoleDentist, RoleManager},
		ActionDelete: {RoleDentist, RoleManager},
		ActionManage: {RoleAdmin},
	},
	ResourceProviders: {
		ActionCreate: {RoleManager},
		ActionRead:   {RoleAssistant, RoleDentist, RoleManager},
		ActionUpdate: {RoleManager},
		ActionDelete: {},
		ActionManage: {RoleAdmin},
	},
	ResourceBilling: {
		ActionCreate: {RoleManager},
		ActionRead:   {RolePatient, RoleManager},
		ActionUpdate: {RoleManager},
		ActionDelete: {},
		ActionManage: {RoleAdmin},
	},
	ResourceContacts: {
		ActionCreate: {RoleAssistant, RoleManager},
		ActionRead:   {RoleAssistant, RoleManager},
		ActionUpdate: {RoleManager},
		ActionDelete: {RoleManager},
		ActionManage: {RoleAdmin},
	},
	ResourceUsers: {
		ActionCreate: {RoleAdmin},
		ActionRead:   {RoleManager, RoleAdmin},
		ActionUpdate: {RoleAdmin},
		ActionDelete: {},
		ActionManage: {RoleSuperAdmin},
	},
	ResourceClinics: {
		ActionCreate: {},
		ActionRead:   {RoleManager, RoleAdmin},
		ActionUpdate: {RoleAdmin},
		ActionDelete: {},
		ActionManage: {RoleSuperAdmin},
	},
}

// NewMatrix builds the default clinic permission matrix.
func NewMatrix() *Matrix {
	return &Matrix{
		grants: defaultGrants,
		diag: func(resource Resource) {
			log.Printf("permission matrix has no entry for resource %q", resource)
		},
	}
}

// Allows reports whether role may perform action on resource. Unknown
// resources and unknown actions fail closed.
func (m *Matrix) Allows(role Role, resource Resource, action Action) bool {
	entry, ok := m.grants[resource]
	if !ok {
		if m.diag != nil {
			m.diag(resource)
		}
		return false
	}
	if containsRole(entry[ActionManage], role) {
		return true
	}
	roles, ok := entry[action]
	if !ok {
		return false
	}
	return containsRole(roles, role)
}

// ActionsFor returns the concrete actions role may perform on resource.
// The result is a read-only convenience for request contexts and the /me
// endpoint; it is never itself an authorization decision point.
func (m *Matrix) ActionsFor(role Role, resource Resource) []Action {
	var out []Action
	for _, action := range Actions {
		if m.Allows(role, resource, action) {
			out = append(out, action)
		}
	}
	return out
}

// Resources returns every resource the matrix covers.
func (m *Matrix) Resources() []Resource {
	out := make([]Resource, 0, len(m.grants))
	for resource := range m.grants {
		out = append(out, resource)
	}
	return out
}

func containsRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
