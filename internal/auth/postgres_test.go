package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return NewPGStore(db), mock, func() { db.Close() }
}

func TestPGCreatePrincipalMapsUniqueViolation(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec("insert into principals").
		WithArgs(sqlmock.AnyArg(), "dup@clinic.example", "hash", "dentist", "clinic-1", true).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	err := store.Principals().Create(context.Background(), &Principal{
		Email:      "dup@clinic.example",
		SecretHash: "hash",
		Role:       RoleDentist,
		ClinicID:   "clinic-1",
		Active:     true,
	})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGCreatePrincipalAssignsID(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec("insert into principals").
		WithArgs(sqlmock.AnyArg(), "new@clinic.example", "hash", "manager", "clinic-1", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := &Principal{
		Email:      "new@clinic.example",
		SecretHash: "hash",
		Role:       RoleManager,
		ClinicID:   "clinic-1",
		Active:     true,
	}
	if err := store.Principals().Create(context.Background(), p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == "" {
		t.Fatal("expected a generated id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGFindByEmail(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "email", "secret_hash", "role", "clinic_id", "active",
		"failed_attempts", "locked_until", "last_login_at", "created_at", "updated_at",
	}).AddRow("p-1", "dr@clinic.example", "hash", "dentist", "clinic-1", true,
		2, nil, now, now, now)

	mock.ExpectQuery("select .* from principals where email=").
		WithArgs("dr@clinic.example").
		WillReturnRows(rows)

	p, err := store.Principals().FindByEmail(context.Background(), "dr@clinic.example")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if p.Role != RoleDentist {
		t.Fatalf("role = %s", p.Role)
	}
	if p.ClinicID != "clinic-1" {
		t.Fatalf("clinic = %s", p.ClinicID)
	}
	if p.FailedAttempts != 2 {
		t.Fatalf("failed attempts = %d", p.FailedAttempts)
	}
	if !p.LockedUntil.IsZero() {
		t.Fatalf("locked until should be zero, got %v", p.LockedUntil)
	}
	if !p.LastLoginAt.Equal(now) {
		t.Fatalf("last login = %v", p.LastLoginAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGFindByIDNotFound(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery("select .* from principals where id=").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.Principals().FindByID(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRecordFailureReturnsCount(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery("update principals").
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts"}).AddRow(5))

	count, err := store.Principals().RecordFailure(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if count != 5 {
		t.Fatalf("count = %d, want 5", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRecordLoginNotFound(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec("update principals").
		WithArgs("ghost", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Principals().RecordLogin(context.Background(), "ghost", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRevokeReportsWinner(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec("update refresh_tokens set revoked=true where id=").
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set revoked=true where id=").
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := store.RefreshTokens().Revoke(context.Background(), "tok-1")
	if err != nil || !won {
		t.Fatalf("first revoke: won=%v err=%v", won, err)
	}
	won, err = store.RefreshTokens().Revoke(context.Background(), "tok-1")
	if err != nil || won {
		t.Fatalf("second revoke: won=%v err=%v", won, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGTokenRoundTrip(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs("tok-1", "p-1", "deadbeef", sqlmock.AnyArg(), now.Add(time.Hour), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tok := &RefreshToken{
		ID:          "tok-1",
		PrincipalID: "p-1",
		TokenHash:   "deadbeef",
		Device:      DeviceInfo{SessionID: "sess-1", UserAgent: "test", IP: "127.0.0.1"},
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
	}
	if err := store.RefreshTokens().Create(context.Background(), tok); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mock.ExpectQuery("select .* from refresh_tokens where id=").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "principal_id", "token_hash", "device", "expires_at", "created_at", "revoked",
		}).AddRow("tok-1", "p-1", "deadbeef",
			[]byte(`{"session_id":"sess-1","user_agent":"test","ip":"127.0.0.1"}`),
			now.Add(time.Hour), now, false))

	got, err := store.RefreshTokens().FindByID(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Device.SessionID != "sess-1" {
		t.Fatalf("device session = %s", got.Device.SessionID)
	}
	if got.Revoked {
		t.Fatal("token should not be revoked")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGListActive(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select .* from refresh_tokens").
		WithArgs("p-1", now).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "principal_id", "token_hash", "device", "expires_at", "created_at", "revoked",
		}).
			AddRow("tok-2", "p-1", "h2", []byte(`{}`), now.Add(time.Hour), now, false).
			AddRow("tok-1", "p-1", "h1", []byte(`{}`), now.Add(time.Hour), now.Add(-time.Minute), false))

	active, err := store.RefreshTokens().ListActive(context.Background(), "p-1", now)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(active))
	}
	if active[0].ID != "tok-2" {
		t.Fatalf("expected newest first, got %s", active[0].ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
