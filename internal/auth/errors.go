package auth

import "errors"

var (
	ErrInvalidInput   = errors.New("auth: invalid input")
	ErrNotFound       = errors.New("auth: not found")
	ErrDuplicateEmail = errors.New("auth: email already registered")

	// ErrInvalidCredentials covers both an unknown email and a wrong secret.
	// Callers must never be able to tell the two apart.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: account locked")
	ErrInactivePrincipal  = errors.New("auth: principal is inactive")
	ErrWeakSecret         = errors.New("auth: secret does not meet the strength policy")

	ErrInvalidToken        = errors.New("auth: invalid token")
	ErrExpiredToken        = errors.New("auth: token expired")
	ErrMalformedPayload    = errors.New("auth: token payload is missing required claims")
	ErrInvalidRefreshToken = errors.New("auth: invalid refresh token")

	// ErrAuthInfrastructure marks persistence failures on the primary
	// issuance and rotation paths. The request fails closed with 503.
	ErrAuthInfrastructure = errors.New("auth: infrastructure unavailable")
)
