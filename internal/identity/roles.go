package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schoolhub.org/internal/ids"
	"schoolhub.org/internal/permissions"
	"schoolhub.org/internal/tenancy"
)

// RoleService manages roles and their permission claims inside a tenant.
type RoleService struct {
	scopes ScopeFactory
	now    func() time.Time
}

// RoleOption configures RoleService behavior.
type RoleOption func(*RoleService)

// WithRoleClock overrides the time source.
func WithRoleClock(fn func() time.Time) RoleOption {
	return func(s *RoleService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewRoleService constructs a RoleService.
func NewRoleService(scopes ScopeFactory, opts ...RoleOption) (*RoleService, error) {
	if scopes == nil {
		return nil, fmt.Errorf("identity: scope factory is required")
	}
	svc := &RoleService{scopes: scopes, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// RoleRequest creates or renames a role.
type RoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RoleWithPermissions pairs a role with the permission claim values it
// carries.
type RoleWithPermissions struct {
	Role        Role     `json:"role"`
	Permissions []string `json:"permissions"`
}

// Create adds a new role. Role names must be unique within the tenant.
func (s *RoleService) Create(ctx context.Context, tenant tenancy.Tenant, req RoleRequest) (Role, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Role{}, InvalidInput("Role name is required")
	}

	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return Role{}, OperationFailed(err)
	}
	defer scope.Close()

	if _, err := scope.Roles().FindByName(ctx, name); err == nil {
		return Role{}, Conflict("Role with the same name already exists")
	} else if !isNotFound(err) {
		return Role{}, OperationFailed(err)
	}

	now := s.now().UTC()
	role := Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := scope.Roles().Create(ctx, &role); err != nil {
		return Role{}, OperationFailed(err)
	}
	return role, nil
}

// Update renames a role. Default roles are immutable.
func (s *RoleService) Update(ctx context.Context, tenant tenancy.Tenant, roleID string, req RoleRequest) (Role, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Role{}, InvalidInput("Role name is required")
	}

	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return Role{}, OperationFailed(err)
	}
	defer scope.Close()

	role, err := s.getRole(ctx, scope, roleID)
	if err != nil {
		return Role{}, err
	}
	if IsDefaultRole(role.Name) {
		return Role{}, Conflict(fmt.Sprintf("Not allowed to modify %s Role", role.Name))
	}
	if other, err := scope.Roles().FindByName(ctx, name); err == nil && other.ID != role.ID {
		return Role{}, Conflict("Role with the same name already exists")
	} else if err != nil && !isNotFound(err) {
		return Role{}, OperationFailed(err)
	}

	role.Name = name
	role.Description = strings.TrimSpace(req.Description)
	role.UpdatedAt = s.now().UTC()
	if err := scope.Roles().Update(ctx, &role); err != nil {
		return Role{}, OperationFailed(err)
	}
	return role, nil
}

// Delete removes a role. Default roles and roles still assigned to users
// cannot be deleted.
func (s *RoleService) Delete(ctx context.Context, tenant tenancy.Tenant, roleID string) error {
	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return OperationFailed(err)
	}
	defer scope.Close()

	role, err := s.getRole(ctx, scope, roleID)
	if err != nil {
		return err
	}
	if IsDefaultRole(role.Name) {
		return Conflict(fmt.Sprintf("Not allowed to delete %s Role", role.Name))
	}
	inUse, err := scope.Users().CountInRole(ctx, role.Name)
	if err != nil {
		return OperationFailed(err)
	}
	if inUse > 0 {
		return Conflict(fmt.Sprintf("Not allowed to delete %s Role as it is being used", role.Name))
	}
	if err := scope.Roles().Delete(ctx, role.ID); err != nil {
		return OperationFailed(err)
	}
	return nil
}

// Get returns one role by id.
func (s *RoleService) Get(ctx context.Context, tenant tenancy.Tenant, roleID string) (Role, error) {
	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return Role{}, OperationFailed(err)
	}
	defer scope.Close()
	return s.getRole(ctx, scope, roleID)
}

// GetWithPermissions returns a role together with its permission claim
// values.
func (s *RoleService) GetWithPermissions(ctx context.Context, tenant tenancy.Tenant, roleID string) (RoleWithPermissions, error) {
	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return RoleWithPermissions{}, OperationFailed(err)
	}
	defer scope.Close()

	role, err := s.getRole(ctx, scope, roleID)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	values, err := permissionValues(ctx, scope, role.ID)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	return RoleWithPermissions{Role: role, Permissions: values}, nil
}

// List returns every role in the tenant.
func (s *RoleService) List(ctx context.Context, tenant tenancy.Tenant) ([]Role, error) {
	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return nil, OperationFailed(err)
	}
	defer scope.Close()
	roles, err := scope.Roles().List(ctx)
	if err != nil {
		return nil, OperationFailed(err)
	}
	return roles, nil
}

// UpdatePermissions replaces the role's permission claims with the given
// set. The Admin role is immutable, unknown permission names are ignored,
// and non-root tenants cannot be granted tenant management permissions.
func (s *RoleService) UpdatePermissions(ctx context.Context, tenant tenancy.Tenant, roleID string, requested []string) error {
	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return OperationFailed(err)
	}
	defer scope.Close()

	role, err := s.getRole(ctx, scope, roleID)
	if err != nil {
		return err
	}
	if role.Name == RoleAdmin {
		return Conflict("Not allowed to modify permissions for the Admin Role")
	}

	want := make(map[string]struct{})
	for _, name := range requested {
		name = strings.TrimSpace(name)
		if !permissions.IsKnown(name) {
			continue
		}
		if !tenant.IsRoot() && strings.HasPrefix(name, "Permission.Tenants.") {
			continue
		}
		want[name] = struct{}{}
	}

	existing, err := scope.Roles().Claims(ctx, role.ID)
	if err != nil {
		return OperationFailed(err)
	}
	have := make(map[string]struct{})
	for _, claim := range existing {
		if claim.ClaimType != permissions.ClaimType {
			continue
		}
		have[claim.ClaimValue] = struct{}{}
		if _, keep := want[claim.ClaimValue]; !keep {
			if err := scope.Roles().RemoveClaim(ctx, role.ID, claim.ClaimValue); err != nil {
				return OperationFailed(err)
			}
		}
	}
	for _, perm := range permissions.All() {
		name := perm.Name()
		if _, ok := want[name]; !ok {
			continue
		}
		if _, ok := have[name]; ok {
			continue
		}
		claim := RoleClaim{
			RoleID:      role.ID,
			ClaimType:   permissions.ClaimType,
			ClaimValue:  name,
			Description: perm.Description,
			Group:       perm.Group,
		}
		if err := scope.Roles().AddClaim(ctx, claim); err != nil {
			return OperationFailed(err)
		}
	}
	return nil
}

func (s *RoleService) getRole(ctx context.Context, scope Store, roleID string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, InvalidInput("Role id is required")
	}
	role, err := scope.Roles().Get(ctx, roleID)
	if err != nil {
		if isNotFound(err) {
			return Role{}, NotFound("Role does not exist")
		}
		return Role{}, OperationFailed(err)
	}
	return role, nil
}

func permissionValues(ctx context.Context, scope Store, roleID string) ([]string, error) {
	claims, err := scope.Roles().Claims(ctx, roleID)
	if err != nil {
		return nil, OperationFailed(err)
	}
	var out []string
	for _, claim := range claims {
		if claim.ClaimType == permissions.ClaimType {
			out = append(out, claim.ClaimValue)
		}
	}
	return out, nil
}
