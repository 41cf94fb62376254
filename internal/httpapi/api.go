package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"clinicore.app/internal/auth"
	"clinicore.app/internal/obs"
)

// ReadyProbe reports whether the backing store is reachable. With the
// in-memory store there is nothing to probe.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer: the access-control middleware chain plus the
// credential lifecycle endpoints. Business CRUD handlers live elsewhere and
// compose the same guards per route.
type API struct {
	mux        *http.ServeMux
	service    *auth.Service
	tokens     *auth.TokenService
	matrix     *auth.Matrix
	readyProbe ReadyProbe
	version    string

	rateBurst     int
	ratePerSecond int
}

// Option tweaks API construction.
type Option func(*API)

// WithRateLimit overrides the per-IP token bucket on credential endpoints.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSecond = perSecond
		}
	}
}

// New wires the routes.
func New(service *auth.Service, tokens *auth.TokenService, matrix *auth.Matrix, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:           http.NewServeMux(),
		service:       service,
		tokens:        tokens,
		matrix:        matrix,
		readyProbe:    rp,
		version:       version,
		rateBurst:     10,
		ratePerSecond: 5,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	// Credential endpoints sit behind the per-IP limiter; everything else
	// is already bounded by token verification being local and cheap.
	limited := func(h http.HandlerFunc) http.Handler {
		return RateLimit(h, a.rateBurst, a.ratePerSecond)
	}
	a.mux.Handle("/v1/auth/login", limited(a.handleLogin))
	a.mux.Handle("/v1/auth/refresh", limited(a.handleRefresh))
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/logout-all", protect(a.handleLogoutAll, a.authenticate))
	a.mux.HandleFunc("/v1/auth/me", protect(a.handleMe, a.authenticate))
	a.mux.HandleFunc("/v1/auth/password", protect(a.handleChangeSecret, a.authenticate))
	a.mux.Handle("/v1/auth/register", limited(protect(a.handleRegister,
		a.authenticate,
		a.requirePermission(auth.ResourceUsers, auth.ActionCreate),
	)))

	// Reference routes for the chain stages the CRUD layer composes:
	// clinic-scoped reads and principal-owned session listings.
	a.mux.HandleFunc("/v1/clinics/{clinic_id}/summary", protect(a.handleClinicSummary,
		a.authenticate,
		a.requireRoles(auth.RoleManager, auth.RoleAdmin),
		a.requirePermission(auth.ResourceClinics, auth.ActionRead),
		a.requireClinicScope("clinic_id"),
	))
	a.mux.HandleFunc("/v1/principals/{principal_id}/sessions", protect(a.handleSessions,
		a.authenticate,
		a.requireOwnership("principal_id", auth.RoleManager),
	))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, r, fail(http.StatusNotFound, codeNotFound, "resource not found"))
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = RequestID(h)
	h = LoggingJSON(h)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "clinicore-auth",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
