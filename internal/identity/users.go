package identity

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"schoolhub.org/internal/ids"
	"schoolhub.org/internal/permissions"
	"schoolhub.org/internal/tenancy"
)

// UserService provides user management within a tenant scope. Every method
// opens a fresh tenant-scoped storage handle and releases it before
// returning.
type UserService struct {
	scopes ScopeFactory
	now    func() time.Time
}

// UserOption configures UserService behavior.
type UserOption func(*UserService)

// WithUserClock overrides the time source (useful for tests).
func WithUserClock(fn func() time.Time) UserOption {
	return func(s *UserService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewUserService constructs a UserService.
func NewUserService(scopes ScopeFactory, opts ...UserOption) (*UserService, error) {
	if scopes == nil {
		return nil, fmt.Errorf("identity: scope factory is required")
	}
	svc := &UserService{scopes: scopes, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateUserRequest describes a new user account.
type CreateUserRequest struct {
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	PhoneNumber     string `json:"phone_number"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	IsActive        bool   `json:"is_active"`
}

// UpdateUserRequest mutates profile fields.
type UpdateUserRequest struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
}

// ChangePasswordRequest rotates a user's password.
type ChangePasswordRequest struct {
	CurrentPassword    string `json:"current_password"`
	NewPassword        string `json:"new_password"`
	ConfirmNewPassword string `json:"confirm_new_password"`
}

// RoleAssignment toggles one role for a user.
type RoleAssignment struct {
	Name       string `json:"name"`
	IsAssigned bool   `json:"is_assigned"`
}

// Create registers a new user. Email must be unique within the tenant.
func (s *UserService) Create(ctx context.Context, tenant tenancy.Tenant, req CreateUserRequest) (User, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return User{}, InvalidInput("A valid email is required")
	}
	if req.Password == "" {
		return User{}, InvalidInput("Password is required")
	}
	if req.Password != req.ConfirmPassword {
		return User{}, Conflict("Passwords do not match")
	}

	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return User{}, OperationFailed(err)
	}
	defer scope.Close()

	if _, err := scope.Users().FindByEmail(ctx, req.Email); err == nil {
		return User{}, Conflict("Email must be unique")
	} else if !isNotFound(err) {
		return User{}, OperationFailed(err)
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return User{}, OperationFailed(err)
	}
	now := s.now().UTC()
	user := User{
		ID:             ids.New(),
		Email:          req.Email,
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		PhoneNumber:    strings.TrimSpace(req.PhoneNumber),
		PasswordHash:   hash,
		IsActive:       req.IsActive,
		EmailConfirmed: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := scope.Users().Create(ctx, &user); err != nil {
		return User{}, OperationFailed(err)
	}
	return user, nil
}

// List returns every user in the tenant.
func (s *UserService) List(ctx context.Context, tenant tenancy.Tenant) ([]User, error) {
	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return nil, OperationFailed(err)
	}
	defer scope.Close()
	users, err := scope.Users().List(ctx)
	if err != nil {
		return nil, OperationFailed(err)
	}
	return users, nil
}

// Get returns one user by id.
func (s *UserService) Get(ctx context.Context, tenant tenancy.Tenant, userID string) (User, error) {
	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return User{}, OperationFailed(err)
	}
	defer scope.Close()
	return s.getUser(ctx, scope, userID)
}

// Update mutates profile fields.
func (s *UserService) Update(ctx context.Context, tenant tenancy.Tenant, userID string, req UpdateUserRequest) (User, error) {
	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return User{}, OperationFailed(err)
	}
	defer scope.Close()

	user, err := s.getUser(ctx, scope, userID)
	if err != nil {
		return User{}, err
	}
	user.FirstName = strings.TrimSpace(req.FirstName)
	user.LastName = strings.TrimSpace(req.LastName)
	user.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	user.UpdatedAt = s.now().UTC()
	if err := scope.Users().Update(ctx, &user); err != nil {
		return User{}, OperationFailed(err)
	}
	return user, nil
}

// SetActive activates or deactivates a user. Deactivated users cannot log in.
func (s *UserService) SetActive(ctx context.Context, tenant tenancy.Tenant, userID string, active bool) (User, error) {
	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return User{}, OperationFailed(err)
	}
	defer scope.Close()

	user, err := s.getUser(ctx, scope, userID)
	if err != nil {
		return User{}, err
	}
	user.IsActive = active
	user.UpdatedAt = s.now().UTC()
	if err := scope.Users().Update(ctx, &user); err != nil {
		return User{}, OperationFailed(err)
	}
	return user, nil
}

// Delete removes a user. The tenant's designated administrator account
// cannot be deleted.
func (s *UserService) Delete(ctx context.Context, tenant tenancy.Tenant, userID string) error {
	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return OperationFailed(err)
	}
	defer scope.Close()

	user, err := s.getUser(ctx, scope, userID)
	if err != nil {
		return err
	}
	if tenant.AdminEmail != "" && user.Email == tenant.AdminEmail {
		return Conflict("Not allowed to remove the tenant administrator account")
	}
	if err := scope.Users().Delete(ctx, user.ID); err != nil {
		return OperationFailed(err)
	}
	return nil
}

// AssignRoles applies a set of role assignment toggles. Removing the Admin
// role from the root tenant's administrator, or dropping a tenant below two
// admin users, is a conflict.
func (s *UserService) AssignRoles(ctx context.Context, tenant tenancy.Tenant, userID string, assignments []RoleAssignment) error {
	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return OperationFailed(err)
	}
	defer scope.Close()

	user, err := s.getUser(ctx, scope, userID)
	if err != nil {
		return err
	}

	current, err := scope.Users().Roles(ctx, user.ID)
	if err != nil {
		return OperationFailed(err)
	}

	removesAdmin := slices.ContainsFunc(assignments, func(a RoleAssignment) bool {
		return !a.IsAssigned && a.Name == RoleAdmin
	})
	if removesAdmin && slices.Contains(current, RoleAdmin) {
		if tenant.IsRoot() && user.Email == tenant.AdminEmail {
			return Conflict("Not allowed to remove the Admin role from the root tenant administrator")
		}
		adminCount, err := scope.Users().CountInRole(ctx, RoleAdmin)
		if err != nil {
			return OperationFailed(err)
		}
		if adminCount <= 2 {
			return Conflict("Tenant should have at least two admin users")
		}
	}

	for _, assignment := range assignments {
		role, err := scope.Roles().FindByName(ctx, assignment.Name)
		if err != nil {
			if isNotFound(err) {
				return NotFound(fmt.Sprintf("Role %s does not exist", assignment.Name))
			}
			return OperationFailed(err)
		}
		assigned := slices.Contains(current, role.Name)
		switch {
		case assignment.IsAssigned && !assigned:
			if err := scope.Users().AssignRole(ctx, user.ID, role.ID); err != nil {
				return OperationFailed(err)
			}
		case !assignment.IsAssigned && assigned:
			if err := scope.Users().RemoveRole(ctx, user.ID, role.ID); err != nil {
				return OperationFailed(err)
			}
		}
	}
	return nil
}

// ChangePassword rotates the user's password after verifying the current one.
func (s *UserService) ChangePassword(ctx context.Context, tenant tenancy.Tenant, userID string, req ChangePasswordRequest) error {
	if req.NewPassword == "" {
		return InvalidInput("New password is required")
	}
	if req.NewPassword != req.ConfirmNewPassword {
		return Conflict("Passwords do not match")
	}

	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return OperationFailed(err)
	}
	defer scope.Close()

	user, err := s.getUser(ctx, scope, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, req.CurrentPassword); err != nil {
		return Unauthorized("Current password is incorrect")
	}
	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		return OperationFailed(err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now().UTC()
	if err := scope.Users().Update(ctx, &user); err != nil {
		return OperationFailed(err)
	}
	return nil
}

// Roles returns the names of roles assigned to the user.
func (s *UserService) Roles(ctx context.Context, tenant tenancy.Tenant, userID string) ([]string, error) {
	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return nil, OperationFailed(err)
	}
	defer scope.Close()

	user, err := s.getUser(ctx, scope, userID)
	if err != nil {
		return nil, err
	}
	names, err := scope.Users().Roles(ctx, user.ID)
	if err != nil {
		return nil, OperationFailed(err)
	}
	return names, nil
}

// Permissions returns the distinct permission claim values attached to any
// of the user's assigned roles.
func (s *UserService) Permissions(ctx context.Context, tenant tenancy.Tenant, userID string) ([]string, error) {
	scope, err := s.scopes.Scope(ctx, tenant)
	if err != nil {
		return nil, OperationFailed(err)
	}
	defer scope.Close()

	user, err := s.getUser(ctx, scope, userID)
	if err != nil {
		return nil, err
	}
	roleNames, err := scope.Users().Roles(ctx, user.ID)
	if err != nil {
		return nil, OperationFailed(err)
	}

	seen := make(map[string]struct{})
	var out []string
	for _, name := range roleNames {
		role, err := scope.Roles().FindByName(ctx, name)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, OperationFailed(err)
		}
		claims, err := scope.Roles().Claims(ctx, role.ID)
		if err != nil {
			return nil, OperationFailed(err)
		}
		for _, claim := range claims {
			if claim.ClaimType != permissions.ClaimType {
				continue
			}
			if _, ok := seen[claim.ClaimValue]; ok {
				continue
			}
			seen[claim.ClaimValue] = struct{}{}
			out = append(out, claim.ClaimValue)
		}
	}
	return out, nil
}

func (s *UserService) getUser(ctx context.Context, scope Store, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, InvalidInput("User id is required")
	}
	user, err := scope.Users().Get(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return User{}, NotFound("User does not exist")
		}
		return User{}, OperationFailed(err)
	}
	return user, nil
}
