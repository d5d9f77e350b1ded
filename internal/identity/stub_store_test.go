package identity

import (
	"context"
	"sort"
	"strings"
	"sync"

	"schoolhub.org/internal/tenancy"
)

// fakeScopes is an in-memory ScopeFactory holding one data set per tenant.
type fakeScopes struct {
	mu      sync.Mutex
	tenants map[string]*fakeData
}

type fakeData struct {
	mu        sync.Mutex
	users     map[string]User
	roles     map[string]Role
	claims    []RoleClaim
	userRoles map[string]map[string]bool // user id -> role id set
}

func newFakeScopes() *fakeScopes {
	return &fakeScopes{tenants: make(map[string]*fakeData)}
}

func (f *fakeScopes) Scope(ctx context.Context, tenant tenancy.Tenant) (Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.tenants[tenant.ID]
	if !ok {
		d = &fakeData{
			users:     make(map[string]User),
			roles:     make(map[string]Role),
			userRoles: make(map[string]map[string]bool),
		}
		f.tenants[tenant.ID] = d
	}
	return &fakeStore{d: d}, nil
}

type fakeStore struct {
	d *fakeData
}

func (s *fakeStore) Users() UserStore { return &fakeUsers{d: s.d} }
func (s *fakeStore) Roles() RoleStore { return &fakeRoles{d: s.d} }
func (s *fakeStore) Close() error     { return nil }

type fakeUsers struct {
	d *fakeData
}

func (s *fakeUsers) Create(ctx context.Context, u *User) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if _, ok := s.d.users[u.ID]; ok {
		return ErrConflict
	}
	for _, existing := range s.d.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrConflict
		}
	}
	s.d.users[u.ID] = *u
	return nil
}

func (s *fakeUsers) Get(ctx context.Context, id string) (User, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	u, ok := s.d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *fakeUsers) FindByEmail(ctx context.Context, email string) (User, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	for _, u := range s.d.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *fakeUsers) List(ctx context.Context) ([]User, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	var out []User
	for _, u := range s.d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *fakeUsers) Update(ctx context.Context, u *User) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if _, ok := s.d.users[u.ID]; !ok {
		return ErrNotFound
	}
	s.d.users[u.ID] = *u
	return nil
}

func (s *fakeUsers) Delete(ctx context.Context, id string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if _, ok := s.d.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.d.users, id)
	delete(s.d.userRoles, id)
	return nil
}

func (s *fakeUsers) Roles(ctx context.Context, userID string) ([]string, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	var names []string
	for roleID := range s.d.userRoles[userID] {
		if role, ok := s.d.roles[roleID]; ok {
			names = append(names, role.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fakeUsers) AssignRole(ctx context.Context, userID, roleID string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	set, ok := s.d.userRoles[userID]
	if !ok {
		set = make(map[string]bool)
		s.d.userRoles[userID] = set
	}
	set[roleID] = true
	return nil
}

func (s *fakeUsers) RemoveRole(ctx context.Context, userID, roleID string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	set, ok := s.d.userRoles[userID]
	if !ok || !set[roleID] {
		return ErrNotFound
	}
	delete(set, roleID)
	return nil
}

func (s *fakeUsers) CountInRole(ctx context.Context, roleName string) (int, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	var roleID string
	for id, role := range s.d.roles {
		if strings.EqualFold(role.Name, roleName) {
			roleID = id
			break
		}
	}
	if roleID == "" {
		return 0, nil
	}
	count := 0
	for _, set := range s.d.userRoles {
		if set[roleID] {
			count++
		}
	}
	return count, nil
}

type fakeRoles struct {
	d *fakeData
}

func (s *fakeRoles) Create(ctx context.Context, r *Role) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	for _, existing := range s.d.roles {
		if strings.EqualFold(existing.Name, r.Name) {
			return ErrConflict
		}
	}
	s.d.roles[r.ID] = *r
	return nil
}

func (s *fakeRoles) Get(ctx context.Context, id string) (Role, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	r, ok := s.d.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (s *fakeRoles) FindByName(ctx context.Context, name string) (Role, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	for _, r := range s.d.roles {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return Role{}, ErrNotFound
}

func (s *fakeRoles) List(ctx context.Context) ([]Role, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	var out []Role
	for _, r := range s.d.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeRoles) Update(ctx context.Context, r *Role) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if _, ok := s.d.roles[r.ID]; !ok {
		return ErrNotFound
	}
	s.d.roles[r.ID] = *r
	return nil
}

func (s *fakeRoles) Delete(ctx context.Context, id string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if _, ok := s.d.roles[id]; !ok {
		return ErrNotFound
	}
	delete(s.d.roles, id)
	var kept []RoleClaim
	for _, c := range s.d.claims {
		if c.RoleID != id {
			kept = append(kept, c)
		}
	}
	s.d.claims = kept
	for _, set := range s.d.userRoles {
		delete(set, id)
	}
	return nil
}

func (s *fakeRoles) Claims(ctx context.Context, roleID string) ([]RoleClaim, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	var out []RoleClaim
	for _, c := range s.d.claims {
		if c.RoleID == roleID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeRoles) AddClaim(ctx context.Context, claim RoleClaim) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	for _, c := range s.d.claims {
		if c.RoleID == claim.RoleID && c.ClaimValue == claim.ClaimValue {
			return nil
		}
	}
	s.d.claims = append(s.d.claims, claim)
	return nil
}

func (s *fakeRoles) RemoveClaim(ctx context.Context, roleID, claimValue string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	for i, c := range s.d.claims {
		if c.RoleID == roleID && c.ClaimValue == claimValue {
			s.d.claims = append(s.d.claims[:i], s.d.claims[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
