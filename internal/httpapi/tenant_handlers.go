package httpapi

import (
	"net/http"
	"strings"
	"time"

	"schoolhub.org/internal/audit"
	"schoolhub.org/internal/permissions"
	"schoolhub.org/internal/tenancy"
)

type upgradeSubscriptionRequest struct {
	ValidTo time.Time `json:"valid_to"`
}

func (a *API) handleTenants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionRead, permissions.FeatureTenants)) {
			return
		}
		tenants, err := a.tenants.List(r.Context())
		if err != nil {
			writeTenantError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, tenants)
	case http.MethodPost:
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionCreate, permissions.FeatureTenants)) {
			return
		}
		var req tenancy.CreateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		tenant, err := a.tenants.Create(r.Context(), req)
		if err != nil {
			writeTenantError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "tenant.create", map[string]any{
			"id":   tenant.ID,
			"name": tenant.Name,
		})
		w.Header().Set("Location", "/api/tenants/"+tenant.ID)
		writeSuccess(w, http.StatusCreated, tenant)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTenantScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tenants/"), "/")
	if path == "" {
		a.handleTenants(w, r)
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionRead, permissions.FeatureTenants)) {
			return
		}
		tenant, err := a.tenants.Get(r.Context(), id)
		if err != nil {
			writeTenantError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, tenant)
	case len(parts) == 2 && parts[1] == "activate":
		a.handleTenantActivation(w, r, id, true)
	case len(parts) == 2 && parts[1] == "deactivate":
		a.handleTenantActivation(w, r, id, false)
	case len(parts) == 2 && parts[1] == "upgrade":
		a.handleTenantUpgrade(w, r, id)
	default:
		writeFailure(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleTenantActivation(w http.ResponseWriter, r *http.Request, id string, active bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionUpdate, permissions.FeatureTenants)) {
		return
	}
	var (
		tenant tenancy.Tenant
		err    error
	)
	if active {
		tenant, err = a.tenants.Activate(r.Context(), id)
	} else {
		tenant, err = a.tenants.Deactivate(r.Context(), id)
	}
	if err != nil {
		writeTenantError(w, err)
		return
	}
	event := "tenant.deactivate"
	if active {
		event = "tenant.activate"
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{"id": tenant.ID})
	writeSuccess(w, http.StatusOK, tenant)
}

func (a *API) handleTenantUpgrade(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePolicy(w, r, permissions.NameFor(permissions.ActionUpgradeSubscription, permissions.FeatureTenants)) {
		return
	}
	var req upgradeSubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	tenant, err := a.tenants.UpdateSubscription(r.Context(), id, req.ValidTo)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenant.subscription.upgrade", map[string]any{
		"id":       tenant.ID,
		"valid_to": tenant.ValidTo,
	})
	writeSuccess(w, http.StatusOK, tenant)
}
