package httpapi

import (
	"net/http"
	"strings"

	"schoolhub.org/internal/audit"
	"schoolhub.org/internal/obs"
	"schoolhub.org/internal/tenancy"
)

// loginRequest accepts the canonical "username" field; "email" is an alias
// since usernames are email addresses.
type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) username() string {
	if r.Username != "" {
		return r.Username
	}
	return r.Email
}

// refreshRequest accepts the canonical currentJwt/currentRefreshToken pair;
// the short jwt/refresh_token spellings are aliases.
type refreshRequest struct {
	CurrentJwt          string `json:"currentJwt"`
	CurrentRefreshToken string `json:"currentRefreshToken"`
	Jwt                 string `json:"jwt"`
	RefreshToken        string `json:"refresh_token"`
}

func (r refreshRequest) jwt() string {
	if r.CurrentJwt != "" {
		return r.CurrentJwt
	}
	return r.Jwt
}

func (r refreshRequest) refreshToken() string {
	if r.CurrentRefreshToken != "" {
		return r.CurrentRefreshToken
	}
	return r.RefreshToken
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	tenant, err := a.currentTenant(r)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	r = r.WithContext(tenancy.WithTenant(r.Context(), tenant))
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	username := strings.TrimSpace(strings.ToLower(req.username()))
	pair, err := a.tokens.Login(r.Context(), tenant, username, req.Password)
	if err != nil {
		obs.ObserveLogin("failure")
		_ = audit.LogEvent(r.Context(), "token.login.rejected", map[string]any{
			"email": username,
		})
		writeIdentityError(w, err)
		return
	}
	obs.ObserveLogin("success")
	_ = audit.LogEvent(r.Context(), "token.login", map[string]any{
		"email": username,
	})
	writeSuccess(w, http.StatusOK, pair)
}

func (a *API) handleTokenScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/token/"), "/")
	switch path {
	case "", "login":
		a.handleLogin(w, r)
	case "refresh-token", "refresh":
		a.handleRefresh(w, r)
	default:
		writeFailure(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	tenant, err := a.currentTenant(r)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	r = r.WithContext(tenancy.WithTenant(r.Context(), tenant))
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.tokens.Refresh(r.Context(), tenant, req.jwt(), req.refreshToken())
	if err != nil {
		obs.ObserveRefresh("failure")
		writeIdentityError(w, err)
		return
	}
	obs.ObserveRefresh("success")
	_ = audit.LogEvent(r.Context(), "token.refresh", nil)
	writeSuccess(w, http.StatusOK, pair)
}
