package httpapi

import (
	"net/http"
	"strings"

	"schoolhub.org/internal/audit"
	"schoolhub.org/internal/identity"
	"schoolhub.org/internal/permissions"
)

type updatePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	tenant, err := a.currentTenant(r)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionRead, permissions.FeatureRoles)) {
			return
		}
		roles, err := a.roles.List(r.Context(), tenant)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, roles)
	case http.MethodPost:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionCreate, permissions.FeatureRoles)) {
			return
		}
		var req identity.RoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.roles.Create(r.Context(), tenant, req)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.create", map[string]any{
			"id":   role.ID,
			"name": role.Name,
		})
		w.Header().Set("Location", "/api/roles/"+role.ID)
		writeSuccess(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/roles/"), "/")
	if path == "" {
		a.handleRoles(w, r)
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		a.handleRoleResource(w, r, id)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRolePermissions(w, r, id)
	default:
		writeFailure(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request, id string) {
	tenant, err := a.currentTenant(r)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionRead, permissions.FeatureRoles)) {
			return
		}
		role, err := a.roles.Get(r.Context(), tenant, id)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, role)
	case http.MethodPut:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionUpdate, permissions.FeatureRoles)) {
			return
		}
		var req identity.RoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.roles.Update(r.Context(), tenant, id, req)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.update", map[string]any{
			"id":   role.ID,
			"name": role.Name,
		})
		writeSuccess(w, http.StatusOK, role)
	case http.MethodDelete:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionDelete, permissions.FeatureRoles)) {
			return
		}
		if err := a.roles.Delete(r.Context(), tenant, id); err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.delete", map[string]any{"id": id})
		writeSuccess(w, http.StatusOK, nil)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, id string) {
	tenant, err := a.currentTenant(r)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionRead, permissions.FeatureRoleClaims)) {
			return
		}
		role, err := a.roles.GetWithPermissions(r.Context(), tenant, id)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, role)
	case http.MethodPut:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionUpdate, permissions.FeatureRoleClaims)) {
			return
		}
		var req updatePermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.roles.UpdatePermissions(r.Context(), tenant, id, req.Permissions); err != nil {
			writeIdentityError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.permissions.update", map[string]any{
			"id":    id,
			"count": len(req.Permissions),
		})
		writeSuccess(w, http.StatusOK, nil)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}
