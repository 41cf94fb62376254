package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultLockThreshold = 5
	defaultLockWindow    = 2 * time.Hour
)

// LockoutPolicy is the per-class brute-force policy: after Threshold
// consecutive failures the principal is locked for Window.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

// DefaultLockout is the policy applied to both classes unless overridden.
var DefaultLockout = LockoutPolicy{Threshold: defaultLockThreshold, Window: defaultLockWindow}

// Service handles registration, credential verification and lockout on top
// of the credential store. Token issuance lives in TokenService.
type Service struct {
	store  Store
	tokens *TokenService
	now    func() time.Time

	lockout map[PrincipalClass]LockoutPolicy

	// onLockout fires when a principal transitions into the locked
	// state. Wired to metrics and audit at startup.
	onLockout func(principalID string)
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLockout overrides the lockout policy for one principal class.
func WithLockout(class PrincipalClass, policy LockoutPolicy) ServiceOption {
	return func(s *Service) error {
		if policy.Threshold <= 0 || policy.Window <= 0 {
			return errors.New("auth: lockout threshold and window must be positive")
		}
		s.lockout[class] = policy
		return nil
	}
}

// WithLockoutHook registers a callback for lock transitions.
func WithLockoutHook(fn func(principalID string)) ServiceOption {
	return func(s *Service) error {
		s.onLockout = fn
		return nil
	}
}

// NewService constructs the credential service.
func NewService(store Store, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	svc := &Service{
		store:  store,
		tokens: tokens,
		now:    time.Now,
		lockout: map[PrincipalClass]LockoutPolicy{
			ClassStaff:   DefaultLockout,
			ClassPatient: DefaultLockout,
		},
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// RegisterInput is a registration request after transport decoding.
type RegisterInput struct {
	Email    string
	Secret   string
	Role     Role
	ClinicID string
}

// Register validates and persists a new principal. The secret strength
// policy runs before hashing; a principal is only created once every check
// passed.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Principal, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	clinicID := strings.TrimSpace(in.ClinicID)
	if clinicID == "" && in.Role != RoleSuperAdmin {
		return nil, fmt.Errorf("%w: clinic_id is required for role %s", ErrInvalidInput, in.Role)
	}
	if err := ValidateSecretStrength(in.Secret); err != nil {
		return nil, err
	}
	hash, err := HashSecret(in.Secret)
	if err != nil {
		return nil, err
	}
	p := &Principal{
		Email:      email,
		SecretHash: hash,
		Role:       in.Role,
		ClinicID:   clinicID,
		Active:     true,
	}
	if err := s.store.Principals().Create(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthInfrastructure, err)
	}
	return p, nil
}

// Authenticate verifies an email/secret pair. An unknown email, a wrong
// secret and an inactive account all return the identical
// ErrInvalidCredentials so login failures reveal nothing about which emails
// exist. A locked account fails with ErrAccountLocked regardless of the
// secret.
func (s *Service) Authenticate(ctx context.Context, email, secret string) (*Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || secret == "" {
		return nil, ErrInvalidCredentials
	}
	p, err := s.store.Principals().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthInfrastructure, err)
	}
	now := s.now().UTC()
	if p.Locked(now) {
		return nil, ErrAccountLocked
	}
	if !p.Active {
		return nil, ErrInvalidCredentials
	}
	if err := VerifySecret(p.SecretHash, secret); err != nil {
		s.registerFailure(ctx, p, now)
		return nil, ErrInvalidCredentials
	}
	if err := s.store.Principals().RecordLogin(ctx, p.ID, now); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthInfrastructure, err)
	}
	p.LastLoginAt = now
	p.FailedAttempts = 0
	p.LockedUntil = time.Time{}
	return p, nil
}

// registerFailure increments the failed-attempt counter and applies the
// class lockout once the threshold is reached. An undercounted attempt is a
// tolerable imprecision; a silently lost lock is not, so the increment
// happens in the store, not here.
func (s *Service) registerFailure(ctx context.Context, p *Principal, now time.Time) {
	count, err := s.store.Principals().RecordFailure(ctx, p.ID)
	if err != nil {
		return
	}
	policy, ok := s.lockout[p.Role.Class()]
	if !ok {
		policy = DefaultLockout
	}
	if count >= policy.Threshold {
		if err := s.store.Principals().SetLock(ctx, p.ID, now.Add(policy.Window)); err == nil && s.onLockout != nil {
			s.onLockout(p.ID)
		}
	}
}

// Login authenticates and mints a token pair in one step.
func (s *Service) Login(ctx context.Context, email, secret string, device DeviceInfo) (TokenPair, *Principal, error) {
	p, err := s.Authenticate(ctx, email, secret)
	if err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.tokens.MintPair(ctx, p, device)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, p, nil
}

// ChangeSecret verifies the current secret, applies the strength policy to
// the replacement, rehashes, and revokes every refresh token the principal
// owns so stolen sessions die with the old secret.
func (s *Service) ChangeSecret(ctx context.Context, principalID, current, next string) error {
	p, err := s.store.Principals().FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: %v", ErrAuthInfrastructure, err)
	}
	if err := VerifySecret(p.SecretHash, current); err != nil {
		return ErrInvalidCredentials
	}
	if err := ValidateSecretStrength(next); err != nil {
		return err
	}
	hash, err := HashSecret(next)
	if err != nil {
		return err
	}
	if err := s.store.Principals().UpdateSecret(ctx, p.ID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthInfrastructure, err)
	}
	return s.tokens.RevokeAllForPrincipal(ctx, p.ID)
}

// Deactivate soft-disables a principal and revokes its refresh tokens.
// Access tokens already in the wild expire on their own within the access
// TTL; there is no server-side state to chase.
func (s *Service) Deactivate(ctx context.Context, principalID string) error {
	if err := s.store.Principals().Deactivate(ctx, principalID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrAuthInfrastructure, err)
	}
	return s.tokens.RevokeAllForPrincipal(ctx, principalID)
}
