package identity

import (
	"slices"
	"strings"
	"time"
)

// Default role names present in every tenant's identity store.
const (
	RoleAdmin = "Admin"
	RoleBasic = "Basic"
)

// DefaultRoles lists the roles every tenant is provisioned with.
var DefaultRoles = []string{RoleAdmin, RoleBasic}

// IsDefaultRole reports whether name is a provisioned default role. Default
// roles cannot be renamed or deleted.
func IsDefaultRole(name string) bool {
	return slices.Contains(DefaultRoles, name)
}

// User is an account scoped to one tenant's identity store. Email is unique
// per tenant. Refresh-token fields are overwritten on every successful login
// or refresh, which is what makes refresh tokens single-use.
type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	FirstName          string    `json:"first_name"`
	LastName           string    `json:"last_name"`
	PhoneNumber        string    `json:"phone_number,omitempty"`
	PasswordHash       string    `json:"-"`
	IsActive           bool      `json:"is_active"`
	EmailConfirmed     bool      `json:"email_confirmed"`
	RefreshToken       string    `json:"-"`
	RefreshTokenExpiry time.Time `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// FullName returns the display name embedded into issued tokens.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Role groups permission claims within one tenant's identity store.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleClaim links a role to a permission. Uniqueness is keyed by
// (RoleID, ClaimValue); provisioning never duplicates a grant.
type RoleClaim struct {
	RoleID      string `json:"role_id"`
	ClaimType   string `json:"claim_type"`
	ClaimValue  string `json:"claim_value"`
	Description string `json:"description,omitempty"`
	Group       string `json:"group,omitempty"`
}
