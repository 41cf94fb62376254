// Package config builds the immutable service configuration once at process
// start. Components receive it by reference; there is no ambient lookup at
// call time.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"clinicore.app/internal/auth"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is read-only after Load returns.
type Config struct {
	Env      string
	Addr     string
	GRPCAddr string
	PGDSN    string

	// AuthSecret signs access tokens. Never logged; required outside
	// development.
	AuthSecret []byte
	Issuer     string
	Audience   string

	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	MaxLiveRefresh int

	StaffLockout   auth.LockoutPolicy
	PatientLockout auth.LockoutPolicy

	// Per-IP token bucket applied to the credential endpoints.
	RateLimitPerSecond int
	RateLimitBurst     int
}

// Load reads configuration from the environment. An optional .env file is
// honored in development (missing file is not an error). A missing signing
// secret in production is a fatal configuration error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:      envOr("CLINICORE_ENV", EnvDevelopment),
		Addr:     envOr("CLINICORE_ADDR", ":8080"),
		GRPCAddr: os.Getenv("CLINICORE_GRPC_ADDR"),
		PGDSN:    os.Getenv("CLINICORE_PG_DSN"),
		Issuer:   envOr("CLINICORE_AUTH_ISSUER", "clinicore"),
		Audience: envOr("CLINICORE_AUTH_AUDIENCE", "clinicore-api"),
	}

	secret := strings.TrimSpace(os.Getenv("CLINICORE_AUTH_SECRET"))
	switch {
	case secret != "":
		cfg.AuthSecret = []byte(secret)
	case cfg.Env == EnvDevelopment:
		// Ephemeral secret: sessions will not survive a restart, which
		// is fine for local work and keeps dev setups secret-free.
		cfg.AuthSecret = ephemeralSecret()
	default:
		return Config{}, errors.New("CLINICORE_AUTH_SECRET is required outside development")
	}

	var err error
	if cfg.AccessTTL, err = durationOr("CLINICORE_ACCESS_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = durationOr("CLINICORE_REFRESH_TTL", 7*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.MaxLiveRefresh, err = intOr("CLINICORE_MAX_REFRESH_TOKENS", 5); err != nil {
		return Config{}, err
	}

	if cfg.StaffLockout, err = lockoutOr("CLINICORE_STAFF_LOCKOUT", auth.DefaultLockout); err != nil {
		return Config{}, err
	}
	if cfg.PatientLockout, err = lockoutOr("CLINICORE_PATIENT_LOCKOUT", auth.DefaultLockout); err != nil {
		return Config{}, err
	}

	if cfg.RateLimitPerSecond, err = intOr("CLINICORE_RATE_LIMIT_PER_SECOND", 5); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = intOr("CLINICORE_RATE_LIMIT_BURST", 10); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationOr(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}

func intOr(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}

// lockoutOr reads "<threshold>/<window>" (for example "5/2h").
func lockoutOr(key string, def auth.LockoutPolicy) (auth.LockoutPolicy, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 {
		return auth.LockoutPolicy{}, fmt.Errorf("%s must look like 5/2h, got %q", key, raw)
	}
	threshold, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || threshold <= 0 {
		return auth.LockoutPolicy{}, fmt.Errorf("%s threshold must be a positive integer, got %q", key, raw)
	}
	window, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil || window <= 0 {
		return auth.LockoutPolicy{}, fmt.Errorf("%s window must be a positive duration, got %q", key, raw)
	}
	return auth.LockoutPolicy{Threshold: threshold, Window: window}, nil
}

func ephemeralSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("config: generate ephemeral secret: %v", err))
	}
	out := make([]byte, base64.RawStdEncoding.EncodedLen(len(buf)))
	base64.RawStdEncoding.Encode(out, buf)
	return out
}
