package auth

import "context"

// Identity is the typed, closed request context the Authenticate stage
// attaches. Subsequent stages read from it; nothing ever writes ad-hoc
// fields onto a request.
type Identity struct {
	PrincipalID string
	Email       string
	Role        Role
	ClinicID    string

	// Capabilities is the pre-computed action list per resource for this
	// role. Read-only convenience; authorization decisions always go
	// through the matrix.
	Capabilities map[Resource][]Action
}

type identityContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &identity)
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, false
	}
	return *v, true
}
