package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	gopassword "github.com/sethvargo/go-password/password"

	"schoolhub.org/internal/ids"
	"schoolhub.org/internal/obs"
	"schoolhub.org/internal/permissions"
	"schoolhub.org/internal/tenancy"
)

// Seeder idempotently provisions a tenant's identity store: the default
// roles with their permission claims, and the tenant's administrator
// account. Safe to run repeatedly; existing roles, claims and users are
// left untouched.
type Seeder struct {
	scopes        ScopeFactory
	adminPassword string
	now           func() time.Time
}

// SeederOption configures Seeder behavior.
type SeederOption func(*Seeder)

// WithAdminPassword sets the bootstrap password for seeded administrator
// accounts. This is a known default the operator is expected to rotate.
func WithAdminPassword(password string) SeederOption {
	return func(s *Seeder) {
		s.adminPassword = strings.TrimSpace(password)
	}
}

// WithSeederClock overrides the time source (useful for tests).
func WithSeederClock(fn func() time.Time) SeederOption {
	return func(s *Seeder) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSeeder constructs a Seeder. When no bootstrap admin password is
// configured, a random one is generated and logged once so the operator can
// rotate it out-of-band.
func NewSeeder(scopes ScopeFactory, opts ...SeederOption) (*Seeder, error) {
	if scopes == nil {
		return nil, fmt.Errorf("identity: scope factory is required")
	}
	s := &Seeder{scopes: scopes, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.adminPassword == "" {
		generated, err := gopassword.Generate(16, 4, 2, false, false)
		if err != nil {
			return nil, fmt.Errorf("identity: generate bootstrap password: %w", err)
		}
		s.adminPassword = generated
		obs.LogJSON(map[string]any{
			"level": "warn",
			"msg":   "no bootstrap admin password configured, generated one",
			"value": generated,
		})
	}
	return s, nil
}

// SeedTenant opens a fresh scope for the tenant, ensures the default roles
// and the administrator account, and releases the scope before returning.
func (s *Seeder) SeedTenant(ctx context.Context, tenant tenancy.Tenant) error {
	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return OperationFailed(err)
	}
	defer scope.Close()

	if err := s.EnsureDefaultRoles(ctx, scope, tenant); err != nil {
		return err
	}
	return s.EnsureAdminUser(ctx, scope, tenant)
}

// EnsureDefaultRoles creates the Admin and Basic roles if absent and
// attaches their permission subsets. The Admin role receives the Admin
// subset, plus the Root subset if and only if the tenant is the root
// tenant; the Basic role receives the Basic subset.
func (s *Seeder) EnsureDefaultRoles(ctx context.Context, scope Store, tenant tenancy.Tenant) error {
	for _, roleName := range DefaultRoles {
		role, err := scope.Roles().FindByName(ctx, roleName)
		if err != nil {
			if !isNotFound(err) {
				return OperationFailed(err)
			}
			now := s.now().UTC()
			role = Role{
				ID:          ids.New(),
				Name:        roleName,
				Description: roleName + " Role",
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := scope.Roles().Create(ctx, &role); err != nil {
				return OperationFailed(err)
			}
		}

		switch roleName {
		case RoleAdmin:
			if err := s.ensureClaims(ctx, scope, role, permissions.Admin()); err != nil {
				return err
			}
			if tenant.IsRoot() {
				if err := s.ensureClaims(ctx, scope, role, permissions.Root()); err != nil {
					return err
				}
			}
		case RoleBasic:
			if err := s.ensureClaims(ctx, scope, role, permissions.Basic()); err != nil {
				return err
			}
		}
	}
	return nil
}

// ensureClaims attaches each permission as a role claim, skipping any
// already present by exact claim-value match.
func (s *Seeder) ensureClaims(ctx context.Context, scope Store, role Role, perms []permissions.Permission) error {
	existing, err := scope.Roles().Claims(ctx, role.ID)
	if err != nil {
		return OperationFailed(err)
	}
	present := make(map[string]struct{}, len(existing))
	for _, claim := range existing {
		if claim.ClaimType == permissions.ClaimType {
			present[claim.ClaimValue] = struct{}{}
		}
	}
	for _, perm := range perms {
		if _, ok := present[perm.Name()]; ok {
			continue
		}
		claim := RoleClaim{
			RoleID:      role.ID,
			ClaimType:   permissions.ClaimType,
			ClaimValue:  perm.Name(),
			Description: perm.Description,
			Group:       perm.Group,
		}
		if err := scope.Roles().AddClaim(ctx, claim); err != nil {
			return OperationFailed(err)
		}
	}
	return nil
}

// EnsureAdminUser creates the tenant's administrator account when an admin
// email is configured and no user with that email exists, then assigns the
// Admin role if missing.
func (s *Seeder) EnsureAdminUser(ctx context.Context, scope Store, tenant tenancy.Tenant) error {
	if tenant.AdminEmail == "" {
		return nil
	}

	user, err := scope.Users().FindByEmail(ctx, tenant.AdminEmail)
	if err != nil {
		if !isNotFound(err) {
			return OperationFailed(err)
		}
		hash, err := HashPassword(s.adminPassword)
		if err != nil {
			return OperationFailed(err)
		}
		now := s.now().UTC()
		user = User{
			ID:             ids.New(),
			Email:          tenant.AdminEmail,
			FirstName:      tenant.AdminFirstName,
			LastName:       tenant.AdminLastName,
			PasswordHash:   hash,
			IsActive:       true,
			EmailConfirmed: true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := scope.Users().Create(ctx, &user); err != nil {
			return OperationFailed(err)
		}
	}

	assigned, err := scope.Users().Roles(ctx, user.ID)
	if err != nil {
		return OperationFailed(err)
	}
	if slices.Contains(assigned, RoleAdmin) {
		return nil
	}
	adminRole, err := scope.Roles().FindByName(ctx, RoleAdmin)
	if err != nil {
		return OperationFailed(err)
	}
	if err := scope.Users().AssignRole(ctx, user.ID, adminRole.ID); err != nil {
		return OperationFailed(err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
