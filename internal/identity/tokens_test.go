package identity

import (
	"context"
	"testing"
	"time"

	"schoolhub.org/internal/ids"
	"schoolhub.org/internal/permissions"
	"schoolhub.org/internal/tenancy"
)

func activeTenant(id string) tenancy.Tenant {
	return tenancy.Tenant{
		ID:       id,
		Name:     id,
		ValidTo:  time.Now().UTC().Add(30 * 24 * time.Hour),
		IsActive: true,
	}
}

func seedUser(t *testing.T, scopes *fakeScopes, tenant tenancy.Tenant, email, password string, active bool, roleName string, perms ...string) User {
	t.Helper()
	scope, err := scopes.Scope(context.Background(), tenant)
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	defer scope.Close()

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := User{
		ID:           ids.New(),
		Email:        email,
		FirstName:    "Test",
		LastName:     "User",
		PasswordHash: hash,
		IsActive:     active,
	}
	if err := scope.Users().Create(context.Background(), &user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if roleName == "" {
		return user
	}
	role, err := scope.Roles().FindByName(context.Background(), roleName)
	if err != nil {
		role = Role{ID: ids.New(), Name: roleName}
		if err := scope.Roles().Create(context.Background(), &role); err != nil {
			t.Fatalf("create role: %v", err)
		}
	}
	for _, p := range perms {
		claim := RoleClaim{RoleID: role.ID, ClaimType: permissions.ClaimType, ClaimValue: p}
		if err := scope.Roles().AddClaim(context.Background(), claim); err != nil {
			t.Fatalf("add claim: %v", err)
		}
	}
	if err := scope.Users().AssignRole(context.Background(), user.ID, role.ID); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	return user
}

func firstMessage(t *testing.T, err error) string {
	t.Helper()
	msgs := MessagesFrom(err)
	if len(msgs) == 0 {
		t.Fatalf("expected messages, got %v", err)
	}
	return msgs[0]
}

func TestLoginIssuesTokenPair(t *testing.T) {
	scopes := newFakeScopes()
	tenant := activeTenant("acme")
	readUsers := permissions.NameFor(permissions.ActionRead, permissions.FeatureUsers)
	user := seedUser(t, scopes, tenant, "alice@acme.test", "s3cret!pass", true, RoleAdmin, readUsers)

	svc, err := NewTokenService(scopes, "test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	pair, err := svc.Login(context.Background(), tenant, "Alice@ACME.test", "s3cret!pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.Jwt == "" || pair.RefreshToken == "" {
		t.Fatal("expected a token pair")
	}
	if !pair.RefreshTokenExpiryDate.After(time.Now()) {
		t.Fatalf("refresh expiry should be in the future: %v", pair.RefreshTokenExpiryDate)
	}

	claims, err := svc.Verify(pair.Jwt)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != user.ID {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Tenant != tenant.ID {
		t.Fatalf("unexpected tenant claim %s", claims.Tenant)
	}
	if claims.Email != "alice@acme.test" {
		t.Fatalf("unexpected email claim %s", claims.Email)
	}
	if !claims.HasRole(RoleAdmin) {
		t.Fatalf("missing role claim: %v", claims.Roles)
	}
	if !claims.HasPermission(readUsers) {
		t.Fatalf("missing permission claim: %v", claims.Permissions)
	}
	if claims.ID == "" {
		t.Fatal("expected a token id")
	}

	// rotation persisted on the user record
	scope, _ := scopes.Scope(context.Background(), tenant)
	stored, err := scope.Users().Get(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if stored.RefreshToken != pair.RefreshToken {
		t.Fatal("refresh token was not persisted")
	}
}

func TestLoginRejections(t *testing.T) {
	scopes := newFakeScopes()
	tenant := activeTenant("acme")
	seedUser(t, scopes, tenant, "bob@acme.test", "correct-pass", true, "")
	seedUser(t, scopes, tenant, "carol@acme.test", "correct-pass", false, "")

	svc, err := NewTokenService(scopes, "test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	inactive := tenant
	inactive.IsActive = false
	if _, err := svc.Login(context.Background(), inactive, "bob@acme.test", "correct-pass"); err == nil {
		t.Fatal("expected rejection for inactive tenant")
	} else if got := firstMessage(t, err); got != "Tenant subscription is not active. Contact Administrator" {
		t.Fatalf("unexpected message: %q", got)
	}

	_, errUnknown := svc.Login(context.Background(), tenant, "nobody@acme.test", "correct-pass")
	_, errBadPass := svc.Login(context.Background(), tenant, "bob@acme.test", "wrong-pass")
	if errUnknown == nil || errBadPass == nil {
		t.Fatal("expected credential rejections")
	}
	if firstMessage(t, errUnknown) != firstMessage(t, errBadPass) {
		t.Fatal("unknown user and bad password must be indistinguishable")
	}

	if _, err := svc.Login(context.Background(), tenant, "carol@acme.test", "correct-pass"); err == nil {
		t.Fatal("expected rejection for inactive user")
	} else if got := firstMessage(t, err); got != "User is not active. Contact Administrator" {
		t.Fatalf("unexpected message: %q", got)
	}

	expired := tenant
	expired.ValidTo = time.Now().UTC().Add(-time.Hour)
	if _, err := svc.Login(context.Background(), expired, "bob@acme.test", "correct-pass"); err == nil {
		t.Fatal("expected rejection for expired subscription")
	} else if got := firstMessage(t, err); got != "Tenant subscription has expired. Contact Administrator" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestRootTenantExemptFromExpiry(t *testing.T) {
	scopes := newFakeScopes()
	root := activeTenant(tenancy.RootID)
	root.ValidTo = time.Now().UTC().Add(-24 * time.Hour)
	seedUser(t, scopes, root, "admin@root.test", "root-pass", true, "")

	svc, err := NewTokenService(scopes, "test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	if _, err := svc.Login(context.Background(), root, "admin@root.test", "root-pass"); err != nil {
		t.Fatalf("root tenant login should ignore subscription expiry: %v", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	scopes := newFakeScopes()
	tenant := activeTenant("acme")
	seedUser(t, scopes, tenant, "dave@acme.test", "pass-word", true, RoleBasic,
		permissions.NameFor(permissions.ActionRefreshToken, permissions.FeatureTokens))

	svc, err := NewTokenService(scopes, "test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	pair0, err := svc.Login(context.Background(), tenant, "dave@acme.test", "pass-word")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	pair1, err := svc.Refresh(context.Background(), tenant, pair0.Jwt, pair0.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair1.RefreshToken == pair0.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// the consumed pair is dead
	if _, err := svc.Refresh(context.Background(), tenant, pair0.Jwt, pair0.RefreshToken); err == nil {
		t.Fatal("replayed refresh token must be rejected")
	}

	// the fresh pair still works
	if _, err := svc.Refresh(context.Background(), tenant, pair1.Jwt, pair1.RefreshToken); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
}

func TestRefreshRejectsTokenFromAnotherTenant(t *testing.T) {
	scopes := newFakeScopes()
	acme := activeTenant("acme")
	seedUser(t, scopes, acme, "dave@acme.test", "pass-word", true, RoleBasic,
		permissions.NameFor(permissions.ActionRefreshToken, permissions.FeatureTokens))

	svc, err := NewTokenService(scopes, "test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	pair, err := svc.Login(context.Background(), acme, "dave@acme.test", "pass-word")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// the tenant claim must match the tenant resolved for the request
	_, err = svc.Refresh(context.Background(), activeTenant("globex"), pair.Jwt, pair.RefreshToken)
	if err == nil {
		t.Fatal("expected refresh in a foreign tenant to fail")
	}
	if got := firstMessage(t, err); got != "Invalid token" {
		t.Fatalf("unexpected message: %q", got)
	}

	// still valid in its own tenant
	if _, err := svc.Refresh(context.Background(), acme, pair.Jwt, pair.RefreshToken); err != nil {
		t.Fatalf("refresh in own tenant: %v", err)
	}
}

func TestRefreshRejectsForgedAndExpired(t *testing.T) {
	scopes := newFakeScopes()
	tenant := activeTenant("acme")
	seedUser(t, scopes, tenant, "erin@acme.test", "pass-word", true, "")

	now := time.Now().UTC()
	svc, err := NewTokenService(scopes, "test-secret",
		WithTokenClock(func() time.Time { return now }),
		WithRefreshTTL(24*time.Hour))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	pair, err := svc.Login(context.Background(), tenant, "erin@acme.test", "pass-word")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := svc.Refresh(context.Background(), tenant, pair.Jwt, "forged-refresh-token"); err == nil {
		t.Fatal("mismatched refresh token must be rejected")
	}

	other, err := NewTokenService(scopes, "other-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	if _, err := other.Refresh(context.Background(), tenant, pair.Jwt, pair.RefreshToken); err == nil {
		t.Fatal("foreign signature must be rejected")
	}

	// run past the refresh window
	now = now.Add(48 * time.Hour)
	if _, err := svc.Refresh(context.Background(), tenant, pair.Jwt, pair.RefreshToken); err == nil {
		t.Fatal("expired refresh token must be rejected")
	}
}

func TestRefreshAcceptsExpiredAccessToken(t *testing.T) {
	scopes := newFakeScopes()
	tenant := activeTenant("acme")
	seedUser(t, scopes, tenant, "fred@acme.test", "pass-word", true, "")

	past := time.Now().UTC().Add(-2 * time.Hour)
	svc, err := NewTokenService(scopes, "test-secret",
		WithTokenClock(func() time.Time { return past }),
		WithAccessTTL(time.Minute))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	pair, err := svc.Login(context.Background(), tenant, "fred@acme.test", "pass-word")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// the access token is long expired
	if _, err := svc.Verify(pair.Jwt); err == nil {
		t.Fatal("expired access token must not verify")
	}
	// but it is still good enough to refresh with
	if _, err := svc.Refresh(context.Background(), tenant, pair.Jwt, pair.RefreshToken); err != nil {
		t.Fatalf("refresh with expired access token: %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc, err := NewTokenService(newFakeScopes(), "test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	for _, token := range []string{"", "   ", "not.a.jwt", "eyJhbGciOiJub25lIn0.e30."} {
		if _, err := svc.Verify(token); err == nil {
			t.Fatalf("expected rejection for %q", token)
		}
	}
}
