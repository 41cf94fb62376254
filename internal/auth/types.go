package auth

import "time"

// Principal is an identity that can authenticate: a clinic staff member or a
// patient-portal user. Records are soft-deactivated, never hard-deleted.
type Principal struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	SecretHash string    `json:"-"`
	Role       Role      `json:"role"`
	// ClinicID is empty only for super_admin principals, which operate
	// across every clinic.
	ClinicID       string    `json:"clinic_id,omitempty"`
	Active         bool      `json:"active"`
	FailedAttempts int       `json:"-"`
	LockedUntil    time.Time `json:"-"`
	LastLoginAt    time.Time `json:"last_login_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Locked reports whether the principal is inside an active lockout window.
func (p *Principal) Locked(now time.Time) bool {
	return !p.LockedUntil.IsZero() && now.Before(p.LockedUntil)
}

// RefreshToken is the persisted half of an opaque refresh credential. Only
// the SHA-256 hash of the secret is stored; the raw value exists once, in the
// response that delivered it.
type RefreshToken struct {
	ID          string     `json:"id"`
	PrincipalID string     `json:"principal_id"`
	TokenHash   string     `json:"-"`
	Device      DeviceInfo `json:"device"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
	Revoked     bool       `json:"revoked"`
}

// DeviceInfo describes the client a refresh token was issued to. SessionID
// survives rotation so a chain of refreshes reads as one session in the
// audit log.
type DeviceInfo struct {
	SessionID string `json:"session_id,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// TokenPair is what a successful login or refresh returns.
type TokenPair struct {
	AccessToken     string    `json:"accessToken"`
	RefreshToken    string    `json:"refreshToken"`
	ExpiresIn       int64     `json:"expiresIn"`
	AccessExpiresAt time.Time `json:"-"`
}
