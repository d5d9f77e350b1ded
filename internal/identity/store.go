package identity

import (
	"context"

	"schoolhub.org/internal/tenancy"
)

// Store is a storage handle scoped to exactly one tenant's identity data.
// A handle is created fresh per logical operation through a ScopeFactory and
// released with Close when the operation ends; handles are never cached or
// shared across operations, so concurrent operations for different tenants
// cannot cross-contaminate.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Close() error
}

// ScopeFactory opens tenant-scoped identity stores.
type ScopeFactory interface {
	Scope(ctx context.Context, tenant tenancy.Tenant) (Store, error)
}

// UserStore manages users within one tenant scope.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context) ([]User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error

	// Roles returns the names of roles assigned to the user.
	Roles(ctx context.Context, userID string) ([]string, error)
	AssignRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error
	CountInRole(ctx context.Context, roleName string) (int, error)
}

// RoleStore manages roles and their permission claims within one tenant scope.
type RoleStore interface {
	Create(ctx context.Context, r *Role) error
	Get(ctx context.Context, id string) (Role, error)
	FindByName(ctx context.Context, name string) (Role, error)
	List(ctx context.Context) ([]Role, error)
	Update(ctx context.Context, r *Role) error
	Delete(ctx context.Context, id string) error

	Claims(ctx context.Context, roleID string) ([]RoleClaim, error)
	AddClaim(ctx context.Context, claim RoleClaim) error
	RemoveClaim(ctx context.Context, roleID, claimValue string) error
}
