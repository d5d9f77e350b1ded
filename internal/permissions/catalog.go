package permissions

import "fmt"

// ClaimType is the claim type under which permission names are stored on
// roles and embedded into issued tokens.
const ClaimType = "Permission"

// Actions.
const (
	ActionRead                = "Read"
	ActionCreate              = "Create"
	ActionUpdate              = "Update"
	ActionDelete              = "Delete"
	ActionRefreshToken        = "RefreshToken"
	ActionUpgradeSubscription = "UpgradeSubscription"
)

// Features.
const (
	FeatureUsers      = "Users"
	FeatureRoles      = "Roles"
	FeatureUserRoles  = "UserRoles"
	FeatureRoleClaims = "RoleClaims"
	FeatureTokens     = "Tokens"
	FeatureSchools    = "Schools"
	FeatureTenants    = "Tenants"
)

// Permission-name groups used for display and role-claim bookkeeping.
const (
	GroupSystemAccess = "SystemAccess"
	GroupAcademics    = "Academics"
	GroupTenancy      = "Tenancy"
)

// Permission is a fine-grained capability identified by an (action, feature)
// pair. IsBasic capabilities are granted to every non-admin user; IsRoot
// capabilities are grantable only within the root tenant.
type Permission struct {
	Action      string
	Feature     string
	Description string
	Group       string
	IsBasic     bool
	IsRoot      bool
}

// Name returns the canonical permission name. The same string is used as the
// stored claim value and as the authorization policy name.
func (p Permission) Name() string {
	return NameFor(p.Action, p.Feature)
}

// NameFor builds the canonical "Permission.{feature}.{action}" name.
func NameFor(action, feature string) string {
	return fmt.Sprintf("Permission.%s.%s", feature, action)
}

// catalog is fixed at process start; all queries return copies.
var catalog = []Permission{
	{Action: ActionRead, Feature: FeatureUsers, Description: "Read Users", Group: GroupSystemAccess},
	{Action: ActionCreate, Feature: FeatureUsers, Description: "Create Users", Group: GroupSystemAccess},
	{Action: ActionUpdate, Feature: FeatureUsers, Description: "Update Users", Group: GroupSystemAccess},
	{Action: ActionDelete, Feature: FeatureUsers, Description: "Delete Users", Group: GroupSystemAccess},

	{Action: ActionRead, Feature: FeatureUserRoles, Description: "Read User Roles", Group: GroupSystemAccess},
	{Action: ActionUpdate, Feature: FeatureUserRoles, Description: "Update User Roles", Group: GroupSystemAccess},

	{Action: ActionRead, Feature: FeatureRoles, Description: "Read Roles", Group: GroupSystemAccess},
	{Action: ActionCreate, Feature: FeatureRoles, Description: "Create Roles", Group: GroupSystemAccess},
	{Action: ActionUpdate, Feature: FeatureRoles, Description: "Update Roles", Group: GroupSystemAccess},
	{Action: ActionDelete, Feature: FeatureRoles, Description: "Delete Roles", Group: GroupSystemAccess},

	{Action: ActionRead, Feature: FeatureRoleClaims, Description: "Read Role Claims", Group: GroupSystemAccess},
	{Action: ActionUpdate, Feature: FeatureRoleClaims, Description: "Update Role Claims", Group: GroupSystemAccess},

	{Action: ActionRefreshToken, Feature: FeatureTokens, Description: "Generate Refresh Token", Group: GroupSystemAccess, IsBasic: true},

	{Action: ActionRead, Feature: FeatureSchools, Description: "Read Schools", Group: GroupAcademics, IsBasic: true},
	{Action: ActionCreate, Feature: FeatureSchools, Description: "Create Schools", Group: GroupAcademics},
	{Action: ActionUpdate, Feature: FeatureSchools, Description: "Update Schools", Group: GroupAcademics},
	{Action: ActionDelete, Feature: FeatureSchools, Description: "Delete Schools", Group: GroupAcademics},

	{Action: ActionRead, Feature: FeatureTenants, Description: "Read Tenants", Group: GroupTenancy, IsRoot: true},
	{Action: ActionCreate, Feature: FeatureTenants, Description: "Create Tenants", Group: GroupTenancy, IsRoot: true},
	{Action: ActionUpdate, Feature: FeatureTenants, Description: "Update Tenants", Group: GroupTenancy, IsRoot: true},
	{Action: ActionUpgradeSubscription, Feature: FeatureTenants, Description: "Upgrade Tenant Subscription", Group: GroupTenancy, IsRoot: true},
}

var names = func() map[string]struct{} {
	set := make(map[string]struct{}, len(catalog))
	for _, p := range catalog {
		set[p.Name()] = struct{}{}
	}
	return set
}()

// All returns every permission in catalog order.
func All() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	return out
}

// Root returns permissions grantable only within the root tenant.
func Root() []Permission {
	return filter(func(p Permission) bool { return p.IsRoot })
}

// Admin returns the subset granted to every tenant's Admin role.
func Admin() []Permission {
	return filter(func(p Permission) bool { return !p.IsRoot })
}

// Basic returns the subset granted to the Basic role.
func Basic() []Permission {
	return filter(func(p Permission) bool { return p.IsBasic })
}

// IsKnown reports whether name is a canonical name of a catalog permission.
func IsKnown(name string) bool {
	_, ok := names[name]
	return ok
}

func filter(keep func(Permission) bool) []Permission {
	var out []Permission
	for _, p := range catalog {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
