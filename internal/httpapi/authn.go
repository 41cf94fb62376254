package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"clinicore.app/internal/auth"
	"clinicore.app/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// fallbackCookies are checked, in order, when no Authorization header is
// present. Browser clients on the patient portal carry the access token in a
// cookie.
var fallbackCookies = []string{"access_token", "auth_token"}

// extractCredential pulls the bearer token from the standard header or the
// cookie fallback list. The second return distinguishes "nothing presented"
// from "presented but unusable".
func extractCredential(r *http.Request) (token string, present bool, err error) {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header != "" {
		if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
			return "", true, errors.New("invalid authorization scheme")
		}
		token = strings.TrimSpace(header[len(bearer):])
		if token == "" {
			return "", true, errors.New("empty bearer token")
		}
		return token, true, nil
	}
	for _, name := range fallbackCookies {
		if c, err := r.Cookie(name); err == nil && strings.TrimSpace(c.Value) != "" {
			return strings.TrimSpace(c.Value), true, nil
		}
	}
	return "", false, nil
}

// authenticate is the first stage of the chain: verify the access token and
// attach the typed identity to the request context. All failures are 401
// with distinct machine codes and the same status, so responses never act as
// a validity oracle.
func (a *API) authenticate(r *http.Request) (*http.Request, *apiFailure) {
	token, present, err := extractCredential(r)
	if !present {
		obs.CountTokenVerification("missing")
		return nil, fail(http.StatusUnauthorized, codeNoToken, "authentication required")
	}
	if err != nil {
		obs.CountTokenVerification("malformed")
		return nil, fail(http.StatusUnauthorized, codeMalformedToken, "malformed authorization credential")
	}

	claims, err := a.tokens.VerifyAccessToken(token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrExpiredToken):
			obs.CountTokenVerification("expired")
			return nil, fail(http.StatusUnauthorized, codeTokenExpired, "token expired")
		case errors.Is(err, auth.ErrMalformedPayload):
			obs.CountTokenVerification("malformed")
			return nil, fail(http.StatusUnauthorized, codeMalformedToken, "token payload is malformed")
		default:
			obs.CountTokenVerification("invalid")
			return nil, fail(http.StatusUnauthorized, codeInvalidToken, "invalid token")
		}
	}
	obs.CountTokenVerification("ok")

	role, err := auth.ParseRole(claims.Role)
	if err != nil {
		return nil, fail(http.StatusUnauthorized, codeMalformedToken, "token payload is malformed")
	}
	identity := auth.Identity{
		PrincipalID:  claims.Subject,
		Email:        claims.Email,
		Role:         role,
		ClinicID:     claims.ClinicID,
		Capabilities: a.capabilities(role),
	}
	ctx := auth.ContextWithIdentity(r.Context(), identity)
	return r.WithContext(ctx), nil
}

// optionalAuthenticate attaches identity when a valid credential is present
// and lets the request through otherwise. It never terminates.
func (a *API) optionalAuthenticate(r *http.Request) (*http.Request, *apiFailure) {
	attached, failure := a.authenticate(r)
	if failure != nil {
		return r, nil
	}
	return attached, nil
}

// capabilities pre-computes the action list per resource for a role.
func (a *API) capabilities(role auth.Role) map[auth.Resource][]auth.Action {
	out := make(map[auth.Resource][]auth.Action)
	for _, resource := range a.matrix.Resources() {
		if actions := a.matrix.ActionsFor(role, resource); len(actions) > 0 {
			out[resource] = actions
		}
	}
	return out
}
