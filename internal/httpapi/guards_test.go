package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"clinicore.app/internal/auth"
)

func identityRequest(t *testing.T, target string, identity auth.Identity) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return req.WithContext(auth.ContextWithIdentity(req.Context(), identity))
}

func TestProtectShortCircuits(t *testing.T) {
	var order []string
	pass := func(name string) guard {
		return func(r *http.Request) (*http.Request, *apiFailure) {
			order = append(order, name)
			return r, nil
		}
	}
	deny := func(r *http.Request) (*http.Request, *apiFailure) {
		order = append(order, "deny")
		return nil, fail(http.StatusForbidden, codeInsufficientRole, "insufficient privileges")
	}
	handlerRan := false
	h := protect(func(w http.ResponseWriter, r *http.Request) {
		handlerRan = true
	}, pass("first"), deny, pass("after"))

	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if handlerRan {
		t.Fatal("handler must not run after a failed guard")
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "deny" {
		t.Fatalf("guard order = %v", order)
	}
}

func TestProtectThreadsContext(t *testing.T) {
	enrich := func(r *http.Request) (*http.Request, *apiFailure) {
		return r.WithContext(auth.ContextWithIdentity(r.Context(), auth.Identity{PrincipalID: "p-1"})), nil
	}
	var seen string
	h := protect(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := auth.IdentityFromContext(r.Context())
		seen = identity.PrincipalID
	}, enrich)

	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if seen != "p-1" {
		t.Fatalf("context enrichment lost: %q", seen)
	}
}

func TestRequireRoles(t *testing.T) {
	api, _, _ := newTestAPI(t)
	g := api.requireRoles(auth.RoleManager, auth.RoleAdmin)

	if _, failure := g(httptest.NewRequest(http.MethodGet, "/", nil)); failure == nil || failure.Status != http.StatusUnauthorized {
		t.Fatalf("missing identity: %+v", failure)
	}

	if _, failure := g(identityRequest(t, "/", auth.Identity{Role: auth.RoleManager})); failure != nil {
		t.Fatalf("manager should pass: %+v", failure)
	}

	_, failure := g(identityRequest(t, "/", auth.Identity{Role: auth.RoleDentist}))
	if failure == nil || failure.Status != http.StatusForbidden || failure.Code != codeInsufficientRole {
		t.Fatalf("dentist should fail with 403: %+v", failure)
	}
	if failure.Details != nil {
		t.Fatal("the allow list must never leak into the response")
	}

	if _, failure := g(identityRequest(t, "/", auth.Identity{Role: auth.RoleSuperAdmin})); failure != nil {
		t.Fatalf("super_admin bypass: %+v", failure)
	}
}

func TestRequirePermission(t *testing.T) {
	api, _, _ := newTestAPI(t)
	g := api.requirePermission(auth.ResourcePatients, auth.ActionDelete)

	if _, failure := g(identityRequest(t, "/", auth.Identity{Role: auth.RoleManager})); failure != nil {
		t.Fatalf("manager deletes patients: %+v", failure)
	}

	_, failure := g(identityRequest(t, "/", auth.Identity{Role: auth.RoleAssistant}))
	if failure == nil || failure.Code != codePermissionDenied {
		t.Fatalf("assistant should be denied: %+v", failure)
	}
	if failure.Details["resource"] != "patients" || failure.Details["action"] != "delete" {
		t.Fatalf("details = %v", failure.Details)
	}

	// manage grant covers delete.
	if _, failure := g(identityRequest(t, "/", auth.Identity{Role: auth.RoleAdmin})); failure != nil {
		t.Fatalf("admin manage grant: %+v", failure)
	}
}

func TestRequireClinicScope(t *testing.T) {
	api, _, _ := newTestAPI(t)
	g := api.requireClinicScope("clinic_id")

	// Query parameter carries the scope when there is no path segment.
	req := identityRequest(t, "/v1/patients?clinic_id=clinic-1", auth.Identity{Role: auth.RoleManager, ClinicID: "clinic-1"})
	if _, failure := g(req); failure != nil {
		t.Fatalf("matching clinic: %+v", failure)
	}

	req = identityRequest(t, "/v1/patients?clinic_id=clinic-2", auth.Identity{Role: auth.RoleManager, ClinicID: "clinic-1"})
	if _, failure := g(req); failure == nil || failure.Code != codeDifferentClinic {
		t.Fatalf("cross-clinic: %+v", failure)
	}

	req = identityRequest(t, "/v1/patients?clinic_id=clinic-1", auth.Identity{Role: auth.RoleManager})
	if _, failure := g(req); failure == nil || failure.Code != codeNoClinicAssociation {
		t.Fatalf("no clinic association: %+v", failure)
	}

	// A request that names no clinic stays inside the principal's own scope.
	req = identityRequest(t, "/v1/patients", auth.Identity{Role: auth.RoleManager, ClinicID: "clinic-1"})
	if _, failure := g(req); failure != nil {
		t.Fatalf("unscoped request: %+v", failure)
	}

	req = identityRequest(t, "/v1/patients?clinic_id=clinic-2", auth.Identity{Role: auth.RoleSuperAdmin})
	if _, failure := g(req); failure != nil {
		t.Fatalf("super_admin bypass: %+v", failure)
	}
}

func TestRequireClinicScopePathValue(t *testing.T) {
	api, _, _ := newTestAPI(t)
	g := api.requireClinicScope("clinic_id")

	req := identityRequest(t, "/v1/clinics/clinic-2/summary", auth.Identity{Role: auth.RoleManager, ClinicID: "clinic-1"})
	req.SetPathValue("clinic_id", "clinic-2")
	if _, failure := g(req); failure == nil || failure.Code != codeDifferentClinic {
		t.Fatalf("path scope: %+v", failure)
	}
}

func TestRequireOwnership(t *testing.T) {
	api, _, _ := newTestAPI(t)
	g := api.requireOwnership("principal_id", auth.RoleManager)

	req := identityRequest(t, "/v1/principals/p-1/sessions", auth.Identity{PrincipalID: "p-1", Role: auth.RoleAssistant})
	req.SetPathValue("principal_id", "p-1")
	if _, failure := g(req); failure != nil {
		t.Fatalf("owner: %+v", failure)
	}

	req = identityRequest(t, "/v1/principals/p-1/sessions", auth.Identity{PrincipalID: "p-2", Role: auth.RoleAssistant})
	req.SetPathValue("principal_id", "p-1")
	if _, failure := g(req); failure == nil || failure.Code != codeOwnershipRequired {
		t.Fatalf("non-owner: %+v", failure)
	}

	// At or above the floor the ownership check does not apply.
	req = identityRequest(t, "/v1/principals/p-1/sessions", auth.Identity{PrincipalID: "p-3", Role: auth.RoleManager})
	req.SetPathValue("principal_id", "p-1")
	if _, failure := g(req); failure != nil {
		t.Fatalf("manager floor: %+v", failure)
	}
}
