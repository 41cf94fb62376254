package auth

import "testing"

func TestMatrixGrants(t *testing.T) {
	m := NewMatrix()

	cases := []struct {
		role     Role
		resource Resource
		action   Action
		want     bool
	}{
		{RoleAssistant, ResourcePatients, ActionCreate, true},
		{RoleAssistant, ResourcePatients, ActionUpdate, false},
		{RoleAssistant, ResourcePatients, ActionDelete, false},
		{RoleDentist, ResourcePatients, ActionUpdate, true},
		{RoleManager, ResourcePatients, ActionDelete, true},
		{RolePatient, ResourceAppointments, ActionRead, true},
		{RolePatient, ResourceAppointments, ActionCreate, false},
		{RolePatient, ResourceBilling, ActionRead, true},
		{RoleManager, ResourceBilling, ActionCreate, true},
		{RoleDentist, ResourceBilling, ActionRead, false},
		{RoleManager, ResourceUsers, ActionRead, true},
		{RoleManager, ResourceUsers, ActionCreate, false},
		{RoleAdmin, ResourceUsers, ActionCreate, true},
	}
	for _, tc := range cases {
		if got := m.Allows(tc.role, tc.resource, tc.action); got != tc.want {
			t.Fatalf("Allows(%s, %s, %s) = %v, want %v", tc.role, tc.resource, tc.action, got, tc.want)
		}
	}
}

func TestManageImpliesEveryAction(t *testing.T) {
	m := NewMatrix()
	// admin only holds manage on patients, yet every verb must pass.
	for _, action := range Actions {
		if !m.Allows(RoleAdmin, ResourcePatients, action) {
			t.Fatalf("manage grant should imply %s on patients", action)
		}
	}
	// super_admin holds manage on clinics but nothing on patients.
	if !m.Allows(RoleSuperAdmin, ResourceClinics, ActionDelete) {
		t.Fatal("manage grant should imply delete on clinics")
	}
	if m.Allows(RoleSuperAdmin, ResourcePatients, ActionRead) {
		t.Fatal("matrix itself must not special-case super_admin")
	}
}

func TestUnknownResourceFailsClosed(t *testing.T) {
	m := NewMatrix()
	var diagnosed Resource
	m.diag = func(resource Resource) { diagnosed = resource }

	if m.Allows(RoleAdmin, Resource("invoices"), ActionRead) {
		t.Fatal("unknown resource must be denied")
	}
	if diagnosed != Resource("invoices") {
		t.Fatalf("expected diagnostic for invoices, got %q", diagnosed)
	}
}

func TestUnknownActionFailsClosed(t *testing.T) {
	m := NewMatrix()
	if m.Allows(RoleManager, ResourcePatients, Action("export")) {
		t.Fatal("unknown action must be denied")
	}
}

func TestActionsFor(t *testing.T) {
	m := NewMatrix()
	got := m.ActionsFor(RoleAssistant, ResourcePatients)
	want := []Action{ActionCreate, ActionRead}
	if len(got) != len(want) {
		t.Fatalf("ActionsFor = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ActionsFor = %v, want %v", got, want)
		}
	}
	if acts := m.ActionsFor(RoleAdmin, ResourcePatients); len(acts) != len(Actions) {
		t.Fatalf("manage holder should get all actions, got %v", acts)
	}
}

func TestResourcesCoverage(t *testing.T) {
	m := NewMatrix()
	if got := len(m.Resources()); got != 7 {
		t.Fatalf("expected 7 resources, got %d", got)
	}
}
