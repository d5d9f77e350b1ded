package memdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"schoolhub.org/internal/identity"
	"schoolhub.org/internal/ids"
	"schoolhub.org/internal/tenancy"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func testTenant(id string) tenancy.Tenant {
	return tenancy.Tenant{
		ID:       id,
		Name:     id,
		ValidTo:  time.Now().UTC().Add(24 * time.Hour),
		IsActive: true,
	}
}

func TestTenantDirectory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tenant := testTenant("acme")
	if err := store.Create(ctx, &tenant); err != nil {
		t.Fatalf("Create: %v", err)
	}
	dup := testTenant("acme")
	if err := store.Create(ctx, &dup); !errors.Is(err, tenancy.ErrConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}
	if _, err := store.Get(ctx, "nope"); !errors.Is(err, tenancy.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	got, err := store.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Name = "Acme Renamed"
	if err := store.Update(ctx, &got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err = store.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Acme Renamed" {
		t.Fatalf("update not persisted, got %q", got.Name)
	}

	missing := testTenant("ghost")
	if err := store.Update(ctx, &missing); !errors.Is(err, tenancy.ErrNotFound) {
		t.Fatalf("expected not found updating missing tenant, got %v", err)
	}

	other := testTenant("globex")
	if err := store.Create(ctx, &other); err != nil {
		t.Fatalf("Create: %v", err)
	}
	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].ID != "acme" || all[1].ID != "globex" {
		t.Fatalf("unexpected listing %+v", all)
	}
}

func TestScopesIsolateTenants(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acme, err := store.Scope(ctx, testTenant("acme"))
	if err != nil {
		t.Fatalf("Scope acme: %v", err)
	}
	globex, err := store.Scope(ctx, testTenant("globex"))
	if err != nil {
		t.Fatalf("Scope globex: %v", err)
	}

	// the same email may exist independently in two tenants
	for _, scope := range []identity.Store{acme, globex} {
		user := identity.User{ID: ids.New(), Email: "shared@example.test", IsActive: true}
		if err := scope.Users().Create(ctx, &user); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	acmeUsers, err := acme.Users().List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(acmeUsers) != 1 {
		t.Fatalf("expected one user in acme, got %d", len(acmeUsers))
	}

	// a later scope for the same tenant sees the same data
	again, err := store.Scope(ctx, testTenant("acme"))
	if err != nil {
		t.Fatalf("Scope: %v", err)
	}
	if _, err := again.Users().FindByEmail(ctx, "SHARED@example.test"); err != nil {
		t.Fatalf("lookup in reopened scope: %v", err)
	}
}

func TestUserEmailUniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope, err := store.Scope(ctx, testTenant("acme"))
	if err != nil {
		t.Fatalf("Scope: %v", err)
	}

	first := identity.User{ID: ids.New(), Email: "alice@example.test"}
	if err := scope.Users().Create(ctx, &first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	second := identity.User{ID: ids.New(), Email: "Alice@Example.Test"}
	if err := scope.Users().Create(ctx, &second); !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected conflict for case-insensitive duplicate email, got %v", err)
	}
}

func TestRoleDeleteCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope, err := store.Scope(ctx, testTenant("acme"))
	if err != nil {
		t.Fatalf("Scope: %v", err)
	}

	role := identity.Role{ID: ids.New(), Name: "Teacher"}
	if err := scope.Roles().Create(ctx, &role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	user := identity.User{ID: ids.New(), Email: "alice@example.test"}
	if err := scope.Users().Create(ctx, &user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := scope.Users().AssignRole(ctx, user.ID, role.ID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	claim := identity.RoleClaim{RoleID: role.ID, ClaimType: "Permission", ClaimValue: "Permission.Users.Read"}
	if err := scope.Roles().AddClaim(ctx, claim); err != nil {
		t.Fatalf("AddClaim: %v", err)
	}

	if err := scope.Roles().Delete(ctx, role.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	names, err := scope.Users().Roles(ctx, user.ID)
	if err != nil {
		t.Fatalf("Roles: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no roles after cascade, got %v", names)
	}
	claims, err := scope.Roles().Claims(ctx, role.ID)
	if err != nil {
		t.Fatalf("Claims: %v", err)
	}
	if len(claims) != 0 {
		t.Fatalf("expected no claims after cascade, got %v", claims)
	}
}

func TestCountInRole(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope, err := store.Scope(ctx, testTenant("acme"))
	if err != nil {
		t.Fatalf("Scope: %v", err)
	}

	role := identity.Role{ID: ids.New(), Name: "Admin"}
	if err := scope.Roles().Create(ctx, &role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	for _, email := range []string{"a@example.test", "b@example.test"} {
		user := identity.User{ID: ids.New(), Email: email}
		if err := scope.Users().Create(ctx, &user); err != nil {
			t.Fatalf("create user: %v", err)
		}
		if err := scope.Users().AssignRole(ctx, user.ID, role.ID); err != nil {
			t.Fatalf("AssignRole: %v", err)
		}
	}

	count, err := scope.Users().CountInRole(ctx, "admin")
	if err != nil {
		t.Fatalf("CountInRole: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected two admins, got %d", count)
	}
	count, err = scope.Users().CountInRole(ctx, "Ghost")
	if err != nil {
		t.Fatalf("CountInRole: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected zero for unknown role, got %d", count)
	}
}

func TestUserDeleteDropsRoleLinks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope, err := store.Scope(ctx, testTenant("acme"))
	if err != nil {
		t.Fatalf("Scope: %v", err)
	}

	role := identity.Role{ID: ids.New(), Name: "Basic"}
	if err := scope.Roles().Create(ctx, &role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	user := identity.User{ID: ids.New(), Email: "alice@example.test"}
	if err := scope.Users().Create(ctx, &user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := scope.Users().AssignRole(ctx, user.ID, role.ID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	if err := scope.Users().Delete(ctx, user.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	count, err := scope.Users().CountInRole(ctx, role.Name)
	if err != nil {
		t.Fatalf("CountInRole: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected role links removed with the user, got %d", count)
	}

	if err := scope.Users().RemoveRole(ctx, user.ID, role.ID); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected not found removing a gone link, got %v", err)
	}
}
