// Package httpapi exposes the tenant, user, role and token services over
// HTTP. Routing follows plain net/http with manual path dispatch; every
// response uses the envelope from wrapper.go.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"schoolhub.org/internal/identity"
	"schoolhub.org/internal/obs"
	"schoolhub.org/internal/tenancy"
)

// ReadyProbe reports backend readiness (for example a database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config collects the services the API serves.
type Config struct {
	Tenants     *tenancy.Service
	TenantStore tenancy.Store
	Tokens      *identity.TokenService
	Users       *identity.UserService
	Roles       *identity.RoleService
	ReadyProbe  ReadyProbe
	Version     string
}

type API struct {
	mux         *http.ServeMux
	tenants     *tenancy.Service
	tenantStore tenancy.Store
	tokens      *identity.TokenService
	users       *identity.UserService
	roles       *identity.RoleService
	policies    *PolicyProvider
	readyProbe  ReadyProbe
	version     string
}

func New(cfg Config) *API {
	a := &API{
		mux:         http.NewServeMux(),
		tenants:     cfg.Tenants,
		tenantStore: cfg.TenantStore,
		tokens:      cfg.Tokens,
		users:       cfg.Users,
		roles:       cfg.Roles,
		policies:    NewPolicyProvider(),
		readyProbe:  cfg.ReadyProbe,
		version:     cfg.Version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/token", a.handleLogin)
	a.mux.HandleFunc("/api/token/", a.handleTokenScoped)

	a.mux.HandleFunc("/api/tenants", a.handleTenants)
	a.mux.HandleFunc("/api/tenants/", a.handleTenantScoped)

	a.mux.HandleFunc("/api/roles", a.handleRoles)
	a.mux.HandleFunc("/api/roles/", a.handleRoleScoped)

	a.mux.HandleFunc("/api/users", a.handleUsers)
	a.mux.HandleFunc("/api/users/", a.handleUserScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the routable handler with authentication and metrics
// instrumentation applied.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "schoolhub-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
