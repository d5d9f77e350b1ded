package httpapi

import (
	"net/http"
	"strings"

	"schoolhub.org/internal/audit"
	"schoolhub.org/internal/identity"
	"schoolhub.org/internal/permissions"
)

type assignRolesRequest struct {
	Roles []identity.RoleAssignment `json:"roles"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	tenant, err := a.currentTenant(r)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionRead, permissions.FeatureUsers)) {
			return
		}
		users, err := a.users.List(r.Context(), tenant)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, users)
	case http.MethodPost:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionCreate, permissions.FeatureUsers)) {
			return
		}
		var req identity.CreateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.users.Create(r.Context(), tenant, req)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.create", map[string]any{
			"id":    user.ID,
			"email": user.Email,
		})
		w.Header().Set("Location", "/api/users/"+user.ID)
		writeSuccess(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/users/"), "/")
	if path == "" {
		a.handleUsers(w, r)
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		a.handleUserResource(w, r, id)
	case len(parts) == 2 && parts[1] == "roles":
		a.handleUserRoles(w, r, id)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleUserPermissions(w, r, id)
	case len(parts) == 2 && parts[1] == "toggle-status":
		a.handleUserToggleStatus(w, r, id)
	case len(parts) == 2 && parts[1] == "change-password":
		a.handleUserChangePassword(w, r, id)
	default:
		writeFailure(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request, id string) {
	tenant, err := a.currentTenant(r)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionRead, permissions.FeatureUsers)) {
			return
		}
		user, err := a.users.Get(r.Context(), tenant, id)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, user)
	case http.MethodPut:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionUpdate, permissions.FeatureUsers)) {
			return
		}
		var req identity.UpdateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.users.Update(r.Context(), tenant, id, req)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.update", map[string]any{"id": user.ID})
		writeSuccess(w, http.StatusOK, user)
	case http.MethodDelete:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionDelete, permissions.FeatureUsers)) {
			return
		}
		if err := a.users.Delete(r.Context(), tenant, id); err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.delete", map[string]any{"id": id})
		writeSuccess(w, http.StatusOK, nil)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, id string) {
	tenant, err := a.currentTenant(r)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionRead, permissions.FeatureUserRoles)) {
			return
		}
		names, err := a.users.Roles(r.Context(), tenant, id)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, names)
	case http.MethodPut:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionUpdate, permissions.FeatureUserRoles)) {
			return
		}
		var req assignRolesRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.users.AssignRoles(r.Context(), tenant, id, req.Roles); err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.roles.update", map[string]any{
			"id":    id,
			"count": len(req.Roles),
		})
		writeSuccess(w, http.StatusOK, nil)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	tenant, err := a.currentTenant(r)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionRead, permissions.FeatureRoleClaims)) {
		return
	}
	perms, err := a.users.Permissions(r.Context(), tenant, id)
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, perms)
}

func (a *API) handleUserToggleStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	tenant, err := a.currentTenant(r)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionUpdate, permissions.FeatureUsers)) {
		return
	}
	user, err := a.users.Get(r.Context(), tenant, id)
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	user, err = a.users.SetActive(r.Context(), tenant, id, !user.IsActive)
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.toggle_status", map[string]any{
		"id":        user.ID,
		"is_active": user.IsActive,
	})
	writeSuccess(w, http.StatusOK, user)
}

func (a *API) handleUserChangePassword(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	tenant, err := a.currentTenant(r)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	claims, ok := identity.ClaimsFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	// Users rotate their own password; managing other accounts requires the
	// user update permission.
	if claims.Subject != id {
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionUpdate, permissions.FeatureUsers)) {
			return
		}
	}
	var req identity.ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.users.ChangePassword(r.Context(), tenant, id, req); err != nil {
		writeIdentityError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.change_password", map[string]any{"id": id})
	writeSuccess(w, http.StatusOK, nil)
}
