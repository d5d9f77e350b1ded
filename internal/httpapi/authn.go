package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"schoolhub.org/internal/identity"
	"schoolhub.org/internal/tenancy"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
}
var publicPrefixes = []string{
	"/api/token",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeFailure(w, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.tokens.Verify(token)
		if err != nil {
			writeFailure(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.ContextWithClaims(r.Context(), claims)))
	})
}

// ensurePolicy resolves the named policy and checks it against the caller's
// claims, writing the rejection itself. Returns true when the request may
// proceed.
func (a *API) ensurePolicy(w http.ResponseWriter, r *http.Request, name string) bool {
	claims, ok := identity.ClaimsFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Authentication required")
		return false
	}
	req, ok := a.policies.Get(name)
	if !ok {
		writeFailure(w, http.StatusForbidden, "Unknown policy "+name)
		return false
	}
	if !req.Satisfied(claims) {
		writeFailure(w, http.StatusForbidden, "You are not authorized to access this resource")
		return false
	}
	return true
}

// currentTenant resolves the tenant for the request: the token claim wins
// for authenticated calls, the tenant header covers login.
func (a *API) currentTenant(r *http.Request) (tenancy.Tenant, error) {
	id := ""
	if claims, ok := identity.ClaimsFromContext(r.Context()); ok {
		id = claims.Tenant
	}
	if id == "" {
		id = strings.TrimSpace(r.Header.Get(tenancy.HeaderName))
	}
	if id == "" {
		return tenancy.Tenant{}, tenancy.ErrNoTenant
	}
	return a.tenantStore.Get(r.Context(), id)
}

func writeTenantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenancy.ErrNoTenant):
		writeFailure(w, http.StatusBadRequest, "Tenant identifier is required")
	case errors.Is(err, tenancy.ErrNotFound):
		writeFailure(w, http.StatusNotFound, "Tenant does not exist")
	case errors.Is(err, tenancy.ErrConflict):
		writeFailure(w, http.StatusConflict, "Tenant already exists")
	case errors.Is(err, tenancy.ErrInvalidInput):
		writeFailure(w, http.StatusBadRequest, err.Error())
	default:
		writeFailure(w, http.StatusInternalServerError, "Tenant lookup failed")
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
