package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"clinicore.app/internal/ids"
)

const (
	defaultAccessTTL      = 15 * time.Minute
	defaultRefreshTTL     = 7 * 24 * time.Hour
	defaultMaxLiveRefresh = 5

	// refreshSecretBytes is the entropy of the opaque half of a refresh
	// token before encoding.
	refreshSecretBytes = 48
)

// AccessClaims is the signed payload of an access token. Validity is proven
// by signature and expiry alone; nothing here is ever persisted.
type AccessClaims struct {
	Email    string `json:"email"`
	Role     string `json:"role"`
	ClinicID string `json:"clinic_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues short-lived signed access tokens and long-lived opaque
// refresh tokens, and rotates and revokes the latter.
type TokenService struct {
	store Store
	now   func() time.Time

	secret         []byte
	issuer         string
	audience       string
	accessTTL      time.Duration
	refreshTTL     time.Duration
	maxLiveRefresh int

	logf func(format string, args ...any)
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAudience overrides the token audience claim.
func WithAudience(audience string) TokenOption {
	return func(s *TokenService) error {
		if v := strings.TrimSpace(audience); v != "" {
			s.audience = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithMaxLiveRefresh bounds the number of non-revoked refresh tokens a
// principal can hold.
func WithMaxLiveRefresh(n int) TokenOption {
	return func(s *TokenService) error {
		if n > 0 {
			s.maxLiveRefresh = n
		}
		return nil
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewTokenService constructs a TokenService. The signing secret is mandatory:
// a process without one must fail at startup, not at the first request.
func NewTokenService(store Store, secret []byte, opts ...TokenOption) (*TokenService, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	svc := &TokenService{
		store:          store,
		now:            time.Now,
		secret:         secret,
		issuer:         "clinicore",
		audience:       "clinicore-api",
		accessTTL:      defaultAccessTTL,
		refreshTTL:     defaultRefreshTTL,
		maxLiveRefresh: defaultMaxLiveRefresh,
		logf:           log.Printf,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// IssueAccessToken signs an access token for the principal. Pure
// computation; nothing is persisted.
func (s *TokenService) IssueAccessToken(p *Principal) (string, time.Time, error) {
	now := s.now().UTC()
	exp := now.Add(s.accessTTL)
	claims := AccessClaims{
		Email:    p.Email,
		Role:     string(p.Role),
		ClinicID: p.ClinicID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// VerifyAccessToken validates signature, algorithm, issuer, audience and
// expiry. Failures are distinguished as ErrExpiredToken, ErrMalformedPayload
// (required claim missing) and ErrInvalidToken (everything else) so callers
// can emit distinct machine codes while keeping one HTTP status.
func (s *TokenService) VerifyAccessToken(raw string) (*AccessClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		// The algorithm is pinned; a token that says anything other
		// than HS256 is rejected before signature verification.
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.Email) == "" {
		return nil, ErrMalformedPayload
	}
	if _, err := ParseRole(claims.Role); err != nil {
		return nil, ErrMalformedPayload
	}
	return claims, nil
}

// IssueRefreshToken generates an opaque refresh token for the principal and
// persists its record. Excess history is evicted first so at most
// maxLiveRefresh non-revoked tokens exist after the insert; eviction is
// best-effort maintenance and never blocks issuance.
func (s *TokenService) IssueRefreshToken(ctx context.Context, principalID string, device DeviceInfo) (string, *RefreshToken, error) {
	now := s.now().UTC()
	s.evictExcess(ctx, principalID, now)

	secretBytes := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrAuthInfrastructure, err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))
	rec := &RefreshToken{
		ID:          ids.New(),
		PrincipalID: principalID,
		TokenHash:   hex.EncodeToString(sum[:]),
		Device:      device,
		ExpiresAt:   now.Add(s.refreshTTL),
		CreatedAt:   now,
	}
	if err := s.store.RefreshTokens().Create(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("%w: persist refresh token: %v", ErrAuthInfrastructure, err)
	}
	return rec.ID + "." + secret, rec, nil
}

// evictExcess revokes the oldest active tokens beyond the maxLiveRefresh-1
// most recent, making room for the token about to be inserted. Errors are
// logged and swallowed: losing an eviction leaves one extra live token,
// which is acceptable; blocking issuance is not.
func (s *TokenService) evictExcess(ctx context.Context, principalID string, now time.Time) {
	active, err := s.store.RefreshTokens().ListActive(ctx, principalID, now)
	if err != nil {
		s.logf("refresh token eviction: list for %s: %v", principalID, err)
		return
	}
	if len(active) < s.maxLiveRefresh {
		return
	}
	for _, tok := range active[s.maxLiveRefresh-1:] {
		if _, err := s.store.RefreshTokens().Revoke(ctx, tok.ID); err != nil {
			s.logf("refresh token eviction: revoke %s: %v", tok.ID, err)
		}
	}
}

// MintPair issues a fresh access+refresh pair for an authenticated principal.
func (s *TokenService) MintPair(ctx context.Context, p *Principal, device DeviceInfo) (TokenPair, error) {
	access, exp, err := s.IssueAccessToken(p)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := s.IssueRefreshToken(ctx, p.ID, device)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:     access,
		RefreshToken:    refresh,
		ExpiresIn:       int64(s.accessTTL.Seconds()),
		AccessExpiresAt: exp,
	}, nil
}

// Refresh rotates a refresh token: the presented token is atomically revoked
// (single-use) and a brand-new pair is issued. A token that is replayed after
// rotation is already revoked and fails here, which is the theft-detection
// mechanism.
func (s *TokenService) Refresh(ctx context.Context, raw string, device DeviceInfo) (TokenPair, *Principal, error) {
	tokenID, secret, err := splitRefreshToken(raw)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidRefreshToken
	}

	tokens := s.store.RefreshTokens()
	rec, err := tokens.FindByID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrInvalidRefreshToken
		}
		return TokenPair{}, nil, fmt.Errorf("%w: %v", ErrAuthInfrastructure, err)
	}
	now := s.now().UTC()
	if rec.Revoked || !now.Before(rec.ExpiresAt) {
		return TokenPair{}, nil, ErrInvalidRefreshToken
	}
	if !matchRefreshSecret(rec.TokenHash, secret) {
		// Correct id with a wrong secret smells like tampering; burn
		// the record.
		if _, err := tokens.Revoke(ctx, rec.ID); err != nil {
			s.logf("revoke tampered refresh token %s: %v", rec.ID, err)
		}
		return TokenPair{}, nil, ErrInvalidRefreshToken
	}

	principal, err := s.store.Principals().FindByID(ctx, rec.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrInvalidRefreshToken
		}
		return TokenPair{}, nil, fmt.Errorf("%w: %v", ErrAuthInfrastructure, err)
	}
	if !principal.Active {
		if _, err := tokens.Revoke(ctx, rec.ID); err != nil {
			s.logf("revoke refresh token %s for inactive principal: %v", rec.ID, err)
		}
		return TokenPair{}, nil, ErrInactivePrincipal
	}

	// The rotation contract: exactly one concurrent use of a token wins
	// this conditional revoke. Everyone else sees an already-revoked
	// token and is rejected.
	revoked, err := tokens.Revoke(ctx, rec.ID)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("%w: %v", ErrAuthInfrastructure, err)
	}
	if !revoked {
		return TokenPair{}, nil, ErrInvalidRefreshToken
	}

	// Keep the session id stable across the rotation chain.
	if device.SessionID == "" {
		device.SessionID = rec.Device.SessionID
	}
	pair, err := s.MintPair(ctx, principal, device)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, principal, nil
}

// ActiveSessions lists the principal's live refresh tokens, newest first.
// Backs the session listing endpoint; the opaque secrets are not
// reconstructable from the records.
func (s *TokenService) ActiveSessions(ctx context.Context, principalID string) ([]*RefreshToken, error) {
	sessions, err := s.store.RefreshTokens().ListActive(ctx, principalID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthInfrastructure, err)
	}
	return sessions, nil
}

// Revoke marks one refresh token revoked. Idempotent and infallible from the
// caller's perspective: logout must always succeed.
func (s *TokenService) Revoke(ctx context.Context, raw string) {
	tokenID, _, err := splitRefreshToken(raw)
	if err != nil {
		return
	}
	if _, err := s.store.RefreshTokens().Revoke(ctx, tokenID); err != nil {
		s.logf("revoke refresh token %s: %v", tokenID, err)
	}
}

// RevokeAllForPrincipal revokes every live token the principal owns. Used on
// password change and explicit logout-everywhere.
func (s *TokenService) RevokeAllForPrincipal(ctx context.Context, principalID string) error {
	if err := s.store.RefreshTokens().RevokeAllForPrincipal(ctx, principalID); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthInfrastructure, err)
	}
	return nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func matchRefreshSecret(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(actual) != len(expectedHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expectedHash)) == 1
}
