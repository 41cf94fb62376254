package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"clinicore.app/internal/audit"
	"clinicore.app/internal/auth"
	"clinicore.app/internal/obs"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	ClinicID string `json:"clinicId"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changeSecretRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type principalSummary struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Role        auth.Role `json:"role"`
	ClinicID    string    `json:"clinicId,omitempty"`
	LastLoginAt time.Time `json:"lastLoginAt"`
}

type tokenResponse struct {
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	ExpiresIn    int64            `json:"expiresIn"`
	Principal    principalSummary `json:"principal"`
}

func summarize(p *auth.Principal) principalSummary {
	return principalSummary{
		ID:          p.ID,
		Email:       p.Email,
		Role:        p.Role,
		ClinicID:    p.ClinicID,
		LastLoginAt: p.LastLoginAt,
	}
}

func deviceFromRequest(r *http.Request) auth.DeviceInfo {
	return auth.DeviceInfo{
		SessionID: uuid.NewString(),
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		badRequest(w, r, "unknown role")
		return
	}
	p, err := a.service.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Secret:   req.Password,
		Role:     role,
		ClinicID: req.ClinicID,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakSecret):
			writeFailure(w, r, fail(http.StatusBadRequest, codeWeakSecret, "password does not meet the strength policy").
				withDetails(map[string]any{"field": "password"}))
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeFailure(w, r, fail(http.StatusConflict, codeDuplicateEmail, "email is already registered"))
		case errors.Is(err, auth.ErrInvalidInput):
			badRequest(w, r, strings.TrimPrefix(err.Error(), "auth: invalid input: "))
		default:
			writeFailure(w, r, fail(http.StatusServiceUnavailable, codeAuthUnavailable, "authentication service unavailable"))
		}
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.principal.registered", map[string]any{
		"principal_id": p.ID,
		"role":         string(p.Role),
		"clinic_id":    p.ClinicID,
	})
	writeJSON(w, http.StatusCreated, summarize(p))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	pair, p, err := a.service.Login(r.Context(), req.Email, req.Password, deviceFromRequest(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccountLocked):
			obs.CountLogin("locked")
			writeFailure(w, r, fail(http.StatusForbidden, codeAccountLocked, "account is temporarily locked"))
		case errors.Is(err, auth.ErrInvalidCredentials):
			obs.CountLogin("invalid")
			// One message for unknown email, wrong password and
			// deactivated accounts alike.
			writeFailure(w, r, fail(http.StatusUnauthorized, codeInvalidCredentials, "invalid email or password"))
		default:
			obs.CountLogin("error")
			writeFailure(w, r, fail(http.StatusServiceUnavailable, codeAuthUnavailable, "authentication service unavailable"))
		}
		return
	}
	obs.CountLogin("success")
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"principal_id": p.ID,
		"role":         string(p.Role),
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		Principal:    summarize(p),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		badRequest(w, r, "refreshToken is required")
		return
	}
	pair, p, err := a.tokens.Refresh(r.Context(), req.RefreshToken, deviceFromRequest(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInactivePrincipal):
			obs.CountRefreshRotation("inactive")
			writeFailure(w, r, fail(http.StatusUnauthorized, codeInactivePrincipal, "principal is no longer active"))
		case errors.Is(err, auth.ErrInvalidRefreshToken):
			obs.CountRefreshRotation("invalid")
			writeFailure(w, r, fail(http.StatusUnauthorized, codeInvalidRefresh, "invalid refresh token"))
		default:
			obs.CountRefreshRotation("error")
			writeFailure(w, r, fail(http.StatusServiceUnavailable, codeAuthUnavailable, "authentication service unavailable"))
		}
		return
	}
	obs.CountRefreshRotation("success")
	_ = audit.LogEvent(r.Context(), "auth.token.rotated", map[string]any{
		"principal_id": p.ID,
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		Principal:    summarize(p),
	})
}

// handleLogout revokes one refresh token. Deliberately infallible: an
// unknown or already-revoked token still gets a 204, logout never fails
// from the caller's perspective.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err == nil && strings.TrimSpace(req.RefreshToken) != "" {
		a.tokens.Revoke(r.Context(), req.RefreshToken)
		_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	if err := a.tokens.RevokeAllForPrincipal(r.Context(), identity.PrincipalID); err != nil {
		writeFailure(w, r, fail(http.StatusServiceUnavailable, codeAuthUnavailable, "authentication service unavailable"))
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout_all", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           identity.PrincipalID,
		"email":        identity.Email,
		"role":         identity.Role,
		"clinicId":     identity.ClinicID,
		"capabilities": identity.Capabilities,
	})
}

func (a *API) handleChangeSecret(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req changeSecretRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	err := a.service.ChangeSecret(r.Context(), identity.PrincipalID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakSecret):
			writeFailure(w, r, fail(http.StatusBadRequest, codeWeakSecret, "password does not meet the strength policy").
				withDetails(map[string]any{"field": "newPassword"}))
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeFailure(w, r, fail(http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials"))
		default:
			writeFailure(w, r, fail(http.StatusServiceUnavailable, codeAuthUnavailable, "authentication service unavailable"))
		}
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.changed", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleClinicSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"clinicId":     r.PathValue("clinic_id"),
		"viewer":       identity.PrincipalID,
		"capabilities": identity.Capabilities,
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sessions, err := a.tokens.ActiveSessions(r.Context(), r.PathValue("principal_id"))
	if err != nil {
		writeFailure(w, r, fail(http.StatusServiceUnavailable, codeAuthUnavailable, "authentication service unavailable"))
		return
	}
	if sessions == nil {
		sessions = []*auth.RefreshToken{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
