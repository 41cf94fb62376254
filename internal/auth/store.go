package auth

import (
	"context"
	"time"
)

// Store bundles the persistence the access-control core needs: principal
// records and revocable refresh tokens. Everything else the platform stores
// (patients, appointments, billing) belongs to the CRUD layer and is out of
// scope here.
type Store interface {
	Principals() PrincipalStore
	RefreshTokens() RefreshTokenStore
}

// PrincipalStore owns principal records.
type PrincipalStore interface {
	// Create persists a new principal. A duplicate email (compared
	// case-insensitively) fails with ErrDuplicateEmail.
	Create(ctx context.Context, p *Principal) error
	FindByID(ctx context.Context, id string) (*Principal, error)
	// FindByEmail matches case-insensitively.
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	// RecordLogin stamps a successful authentication: last-login is set,
	// the failed-attempt counter and lock are cleared.
	RecordLogin(ctx context.Context, id string, at time.Time) error
	// RecordFailure atomically increments the failed-attempt counter and
	// returns the new count. The read-increment-write must happen in the
	// store so concurrent failures cannot silently lose the lock.
	RecordFailure(ctx context.Context, id string) (int, error)
	SetLock(ctx context.Context, id string, until time.Time) error
	UpdateSecret(ctx context.Context, id, secretHash string) error
	// Deactivate soft-disables the principal. Records are never deleted.
	Deactivate(ctx context.Context, id string) error
}

// RefreshTokenStore owns refresh token records, referencing principals by id.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	FindByID(ctx context.Context, id string) (*RefreshToken, error)
	// Revoke conditionally marks the token revoked and reports whether
	// this call flipped the flag. Exactly one of any number of concurrent
	// calls for the same id observes true; that compare-and-swap is what
	// makes refresh rotation single-use.
	Revoke(ctx context.Context, id string) (bool, error)
	RevokeAllForPrincipal(ctx context.Context, principalID string) error
	// ListActive returns the principal's non-revoked, non-expired tokens,
	// newest first. Used by the issuance eviction pass.
	ListActive(ctx context.Context, principalID string, now time.Time) ([]*RefreshToken, error)
}
