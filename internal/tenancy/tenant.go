package tenancy

import "time"

const (
	// RootID is the reserved identifier of the distinguished root tenant.
	// The root tenant is exempt from subscription-expiry checks and is the
	// only tenant whose Admin role may hold tenant-management permissions.
	RootID = "root"

	// HeaderName is the request header carrying the tenant identifier.
	HeaderName = "tenant"

	// ClaimName is the token claim carrying the tenant identifier for
	// already-authenticated requests.
	ClaimName = "tenant"
)

// Tenant is an isolated customer organization with its own identity scope
// and subscription window.
type Tenant struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	ConnectionTarget string    `json:"connection_target,omitempty"`
	AdminEmail       string    `json:"admin_email,omitempty"`
	AdminFirstName   string    `json:"admin_first_name,omitempty"`
	AdminLastName    string    `json:"admin_last_name,omitempty"`
	ValidTo          time.Time `json:"valid_to"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsRoot reports whether this is the root tenant.
func (t Tenant) IsRoot() bool {
	return t.ID == RootID
}
