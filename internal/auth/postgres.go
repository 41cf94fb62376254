package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"clinicore.app/internal/ids"
)

var _ Store = (*PGStore)(nil)

// pgUniqueViolation is the Postgres error code for a unique constraint hit.
const pgUniqueViolation = "23505"

// PGStore implements Store on PostgreSQL via database/sql over the pgx
// stdlib driver.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Principals() PrincipalStore       { return &pgPrincipals{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &pgTokens{db: s.db} }

// Principal store ----------------------------------------------------------

type pgPrincipals struct{ db *sql.DB }

const principalColumns = `id, email, secret_hash, role, clinic_id, active,
	failed_attempts, locked_until, last_login_at, created_at, updated_at`

func (s *pgPrincipals) Create(ctx context.Context, p *Principal) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into principals(id, email, secret_hash, role, clinic_id, active)
		 values($1, lower($2), $3, $4, nullif($5,''), $6)`,
		p.ID, p.Email, p.SecretHash, string(p.Role), p.ClinicID, p.Active,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicateEmail
	}
	return err
}

func (s *pgPrincipals) FindByID(ctx context.Context, id string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where id=$1`, id)
	return scanPrincipal(row)
}

func (s *pgPrincipals) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where email=lower($1)`, email)
	return scanPrincipal(row)
}

func scanPrincipal(row *sql.Row) (*Principal, error) {
	var (
		p           Principal
		role        string
		clinicID    sql.NullString
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Email, &p.SecretHash, &role, &clinicID, &p.Active,
		&p.FailedAttempts, &lockedUntil, &lastLogin, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	p.Role = parsed
	p.ClinicID = clinicID.String
	if lockedUntil.Valid {
		p.LockedUntil = lockedUntil.Time
	}
	if lastLogin.Valid {
		p.LastLoginAt = lastLogin.Time
	}
	return &p, nil
}

func (s *pgPrincipals) RecordLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update principals
		 set last_login_at=$2, failed_attempts=0, locked_until=null, updated_at=now()
		 where id=$1`, id, at)
	return mustAffect(res, err)
}

func (s *pgPrincipals) RecordFailure(ctx context.Context, id string) (int, error) {
	// The increment runs inside the database so concurrent failures from
	// the same account cannot race a read-modify-write in the service.
	row := s.db.QueryRowContext(ctx,
		`update principals
		 set failed_attempts = failed_attempts + 1, updated_at=now()
		 where id=$1
		 returning failed_attempts`, id)
	var count int
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return count, nil
}

func (s *pgPrincipals) SetLock(ctx context.Context, id string, until time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update principals set locked_until=$2, updated_at=now() where id=$1`, id, until)
	return mustAffect(res, err)
}

func (s *pgPrincipals) UpdateSecret(ctx context.Context, id, secretHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update principals set secret_hash=$2, updated_at=now() where id=$1`, id, secretHash)
	return mustAffect(res, err)
}

func (s *pgPrincipals) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update principals set active=false, updated_at=now() where id=$1`, id)
	return mustAffect(res, err)
}

// Refresh token store ------------------------------------------------------

type pgTokens struct{ db *sql.DB }

func (s *pgTokens) Create(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	device, err := json.Marshal(tok.Device)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, principal_id, token_hash, device, expires_at, created_at, revoked)
		 values($1,$2,$3,$4,$5,$6,false)`,
		tok.ID, tok.PrincipalID, tok.TokenHash, device, tok.ExpiresAt, tok.CreatedAt,
	)
	return err
}

func (s *pgTokens) FindByID(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, principal_id, token_hash, device, expires_at, created_at, revoked
		 from refresh_tokens where id=$1`, id)
	var (
		tok    RefreshToken
		device []byte
	)
	err := row.Scan(&tok.ID, &tok.PrincipalID, &tok.TokenHash, &device,
		&tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(device, &tok.Device)
	return &tok, nil
}

func (s *pgTokens) Revoke(ctx context.Context, id string) (bool, error) {
	// Conditional update keyed on the current revoked flag: of any number
	// of concurrent calls, exactly one reports an affected row.
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1 and revoked=false`, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *pgTokens) RevokeAllForPrincipal(ctx context.Context, principalID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where principal_id=$1 and revoked=false`,
		principalID)
	return err
}

func (s *pgTokens) ListActive(ctx context.Context, principalID string, now time.Time) ([]*RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, principal_id, token_hash, device, expires_at, created_at, revoked
		 from refresh_tokens
		 where principal_id=$1 and revoked=false and expires_at > $2
		 order by created_at desc, id desc`, principalID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RefreshToken
	for rows.Next() {
		var (
			tok    RefreshToken
			device []byte
		)
		if err := rows.Scan(&tok.ID, &tok.PrincipalID, &tok.TokenHash, &device,
			&tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(device, &tok.Device)
		out = append(out, &tok)
	}
	return out, rows.Err()
}

func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
