package httpapi

import (
	"net/http"
	"strings"

	"clinicore.app/internal/audit"
	"clinicore.app/internal/auth"
)

// guard is one stage of the access-control chain: it either passes the
// request through (possibly with an enriched context) or terminates it with
// a structured failure. Stages share no mutable state; the only thing that
// accretes is the request context.
type guard func(r *http.Request) (*http.Request, *apiFailure)

// protect composes guards in order with explicit short-circuiting: the first
// failure terminates the request before the handler runs.
func protect(h http.HandlerFunc, guards ...guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, g := range guards {
			next, failure := g(r)
			if failure != nil {
				writeFailure(w, r, failure)
				return
			}
			r = next
		}
		h(w, r)
	}
}

// requireRoles terminates with 403 unless the principal's role is in the
// allow list. super_admin always passes; the bypass is audited. The allow
// list is never echoed back, so failures cannot be used to enumerate the
// privilege structure.
func (a *API) requireRoles(allow ...auth.Role) guard {
	return func(r *http.Request) (*http.Request, *apiFailure) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			return nil, fail(http.StatusUnauthorized, codeNoToken, "authentication required")
		}
		if identity.Role == auth.RoleSuperAdmin {
			a.auditBypass(r, "role_set")
			return r, nil
		}
		for _, role := range allow {
			if identity.Role == role {
				return r, nil
			}
		}
		return nil, fail(http.StatusForbidden, codeInsufficientRole, "insufficient privileges")
	}
}

// requirePermission consults the permission matrix for the route's declared
// resource/action pair. The pair is route metadata the caller already knows,
// so it is safe to include in the failure.
func (a *API) requirePermission(resource auth.Resource, action auth.Action) guard {
	return func(r *http.Request) (*http.Request, *apiFailure) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			return nil, fail(http.StatusUnauthorized, codeNoToken, "authentication required")
		}
		if !a.matrix.Allows(identity.Role, resource, action) {
			return nil, fail(http.StatusForbidden, codePermissionDenied, "permission denied").
				withDetails(map[string]any{
					"resource": string(resource),
					"action":   string(action),
				})
		}
		return r, nil
	}
}

// requireClinicScope compares the principal's clinic against the clinic id
// the request carries under the route-declared field name (path segment or
// query parameter). super_admin bypasses with an audit entry.
func (a *API) requireClinicScope(field string) guard {
	return func(r *http.Request) (*http.Request, *apiFailure) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			return nil, fail(http.StatusUnauthorized, codeNoToken, "authentication required")
		}
		if identity.Role == auth.RoleSuperAdmin {
			a.auditBypass(r, "clinic_scope")
			return r, nil
		}
		if identity.ClinicID == "" {
			return nil, fail(http.StatusForbidden, codeNoClinicAssociation, "no clinic association")
		}
		requested := scopeValue(r, field)
		if requested != "" && requested != identity.ClinicID {
			return nil, fail(http.StatusForbidden, codeDifferentClinic, "resource belongs to a different clinic")
		}
		return r, nil
	}
}

// requireOwnership compares a principal-owned-resource id in the request
// against the authenticated principal. Roles at or above the floor bypass
// the check.
func (a *API) requireOwnership(field string, floor auth.Role) guard {
	return func(r *http.Request) (*http.Request, *apiFailure) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			return nil, fail(http.StatusUnauthorized, codeNoToken, "authentication required")
		}
		if identity.Role.AtLeast(floor) {
			if identity.Role == auth.RoleSuperAdmin {
				a.auditBypass(r, "ownership")
			}
			return r, nil
		}
		owner := scopeValue(r, field)
		if owner == "" || owner != identity.PrincipalID {
			return nil, fail(http.StatusForbidden, codeOwnershipRequired, "resource is owned by another principal")
		}
		return r, nil
	}
}

// scopeValue resolves a route-declared field from the path pattern first,
// then the query string.
func scopeValue(r *http.Request, field string) string {
	if v := strings.TrimSpace(r.PathValue(field)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get(field))
}

// auditBypass records every use of the super_admin escape hatch. The bypass
// is by design, but it concentrates privilege, so it never happens silently.
func (a *API) auditBypass(r *http.Request, check string) {
	_ = audit.LogEvent(r.Context(), "auth.privilege.bypass", map[string]any{
		"check":  check,
		"method": r.Method,
		"path":   r.URL.Path,
	})
}
