package identity

import (
	"context"
	"errors"
	"slices"
	"testing"

	"schoolhub.org/internal/permissions"
	"schoolhub.org/internal/tenancy"
)

func seededRoleService(t *testing.T, tenant tenancy.Tenant) (*RoleService, *fakeScopes) {
	t.Helper()
	scopes := newFakeScopes()
	seeder, err := NewSeeder(scopes, WithAdminPassword("bootstrap-pass"))
	if err != nil {
		t.Fatalf("NewSeeder: %v", err)
	}
	if err := seeder.SeedTenant(context.Background(), tenant); err != nil {
		t.Fatalf("SeedTenant: %v", err)
	}
	svc, err := NewRoleService(scopes)
	if err != nil {
		t.Fatalf("NewRoleService: %v", err)
	}
	return svc, scopes
}

func TestRoleCreateAndRename(t *testing.T) {
	tenant := activeTenant("acme")
	svc, _ := seededRoleService(t, tenant)

	if _, err := svc.Create(context.Background(), tenant, RoleRequest{Name: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank name, got %v", err)
	}

	role, err := svc.Create(context.Background(), tenant, RoleRequest{Name: "Teacher", Description: "Teaching staff"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if role.ID == "" || role.CreatedAt.IsZero() {
		t.Fatal("created role missing id or timestamps")
	}

	if _, err := svc.Create(context.Background(), tenant, RoleRequest{Name: "teacher"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for duplicate name, got %v", err)
	}

	renamed, err := svc.Update(context.Background(), tenant, role.ID, RoleRequest{Name: "Instructor"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if renamed.Name != "Instructor" {
		t.Fatalf("expected renamed role, got %s", renamed.Name)
	}

	other, err := svc.Create(context.Background(), tenant, RoleRequest{Name: "Clerk"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Update(context.Background(), tenant, other.ID, RoleRequest{Name: "Instructor"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict renaming onto existing role, got %v", err)
	}
}

func TestDefaultRolesAreImmutable(t *testing.T) {
	tenant := activeTenant("acme")
	svc, scopes := seededRoleService(t, tenant)

	scope, _ := scopes.Scope(context.Background(), tenant)
	for _, name := range DefaultRoles {
		role, err := scope.Roles().FindByName(context.Background(), name)
		if err != nil {
			t.Fatalf("FindByName %s: %v", name, err)
		}
		if _, err := svc.Update(context.Background(), tenant, role.ID, RoleRequest{Name: "Renamed"}); !errors.Is(err, ErrConflict) {
			t.Fatalf("renaming %s must conflict, got %v", name, err)
		}
		if err := svc.Delete(context.Background(), tenant, role.ID); !errors.Is(err, ErrConflict) {
			t.Fatalf("deleting %s must conflict, got %v", name, err)
		}
	}
}

func TestRoleDeleteBlockedWhileInUse(t *testing.T) {
	tenant := activeTenant("acme")
	svc, scopes := seededRoleService(t, tenant)

	role, err := svc.Create(context.Background(), tenant, RoleRequest{Name: "Teacher"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	seedUser(t, scopes, tenant, "teacher@acme.test", "pass-1", true, "Teacher")

	err = svc.Delete(context.Background(), tenant, role.ID)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict deleting a role in use, got %v", err)
	}
	if got := firstMessage(t, err); got != "Not allowed to delete Teacher Role as it is being used" {
		t.Fatalf("unexpected message %q", got)
	}

	scope, _ := scopes.Scope(context.Background(), tenant)
	user, err := scope.Users().FindByEmail(context.Background(), "teacher@acme.test")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if err := scope.Users().RemoveRole(context.Background(), user.ID, role.ID); err != nil {
		t.Fatalf("RemoveRole: %v", err)
	}
	if err := svc.Delete(context.Background(), tenant, role.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(context.Background(), tenant, role.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestUpdatePermissionsGuardsAdminRole(t *testing.T) {
	tenant := activeTenant("acme")
	svc, scopes := seededRoleService(t, tenant)

	scope, _ := scopes.Scope(context.Background(), tenant)
	admin, err := scope.Roles().FindByName(context.Background(), RoleAdmin)
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	err = svc.UpdatePermissions(context.Background(), tenant, admin.ID, nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for the Admin role, got %v", err)
	}
}

func TestUpdatePermissionsReplacesSet(t *testing.T) {
	tenant := activeTenant("acme")
	svc, _ := seededRoleService(t, tenant)

	role, err := svc.Create(context.Background(), tenant, RoleRequest{Name: "Teacher"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	readUsers := permissions.NameFor(permissions.ActionRead, permissions.FeatureUsers)
	readSchools := permissions.NameFor(permissions.ActionRead, permissions.FeatureSchools)
	if err := svc.UpdatePermissions(context.Background(), tenant, role.ID, []string{readUsers, readSchools}); err != nil {
		t.Fatalf("UpdatePermissions: %v", err)
	}
	got, err := svc.GetWithPermissions(context.Background(), tenant, role.ID)
	if err != nil {
		t.Fatalf("GetWithPermissions: %v", err)
	}
	if len(got.Permissions) != 2 {
		t.Fatalf("expected two permissions, got %v", got.Permissions)
	}

	// a second update drops what is no longer requested
	if err := svc.UpdatePermissions(context.Background(), tenant, role.ID, []string{readSchools}); err != nil {
		t.Fatalf("UpdatePermissions: %v", err)
	}
	got, err = svc.GetWithPermissions(context.Background(), tenant, role.ID)
	if err != nil {
		t.Fatalf("GetWithPermissions: %v", err)
	}
	if len(got.Permissions) != 1 || got.Permissions[0] != readSchools {
		t.Fatalf("expected only %s, got %v", readSchools, got.Permissions)
	}
}

func TestUpdatePermissionsFiltersUnknownAndTenantScoped(t *testing.T) {
	tenant := activeTenant("acme")
	svc, _ := seededRoleService(t, tenant)

	role, err := svc.Create(context.Background(), tenant, RoleRequest{Name: "Teacher"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	readUsers := permissions.NameFor(permissions.ActionRead, permissions.FeatureUsers)
	readTenants := permissions.NameFor(permissions.ActionRead, permissions.FeatureTenants)
	requested := []string{readUsers, readTenants, "Permission.Made.Up", "permission.users.read"}
	if err := svc.UpdatePermissions(context.Background(), tenant, role.ID, requested); err != nil {
		t.Fatalf("UpdatePermissions: %v", err)
	}
	got, err := svc.GetWithPermissions(context.Background(), tenant, role.ID)
	if err != nil {
		t.Fatalf("GetWithPermissions: %v", err)
	}
	if len(got.Permissions) != 1 || got.Permissions[0] != readUsers {
		t.Fatalf("expected only %s, got %v", readUsers, got.Permissions)
	}
}

func TestRootTenantMayGrantTenantPermissions(t *testing.T) {
	root := activeTenant(tenancy.RootID)
	svc, _ := seededRoleService(t, root)

	role, err := svc.Create(context.Background(), root, RoleRequest{Name: "Operator"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	readTenants := permissions.NameFor(permissions.ActionRead, permissions.FeatureTenants)
	if err := svc.UpdatePermissions(context.Background(), root, role.ID, []string{readTenants}); err != nil {
		t.Fatalf("UpdatePermissions: %v", err)
	}
	got, err := svc.GetWithPermissions(context.Background(), root, role.ID)
	if err != nil {
		t.Fatalf("GetWithPermissions: %v", err)
	}
	if !slices.Contains(got.Permissions, readTenants) {
		t.Fatalf("expected %s granted in root tenant, got %v", readTenants, got.Permissions)
	}
}
