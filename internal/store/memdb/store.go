// Package memdb provides an in-memory tenant directory and per-tenant
// identity stores backed by go-memdb. Each tenant gets its own database
// instance, so identity data cannot leak across tenant scopes. Intended for
// development and tests; production deployments use the postgres store.
package memdb

import (
	"context"
	"strings"
	"sync"

	"github.com/hashicorp/go-memdb"

	"schoolhub.org/internal/identity"
	"schoolhub.org/internal/tenancy"
)

const (
	tableTenant    = "tenant"
	tableUser      = "user"
	tableRole      = "role"
	tableRoleClaim = "roleclaim"
	tableUserRole  = "userrole"
)

// userRole links one user to one role.
type userRole struct {
	UserID string
	RoleID string
}

func tenantSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableTenant: {
				Name: tableTenant,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
				},
			},
		},
	}
}

func identitySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableUser: {
				Name: tableUser,
				Indexes: map[string]*memdb.IndexSchema{
					"id":    {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					"email": {Name: "email", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Email", Lowercase: true}},
				},
			},
			tableRole: {
				Name: tableRole,
				Indexes: map[string]*memdb.IndexSchema{
					"id":   {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					"name": {Name: "name", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Name", Lowercase: true}},
				},
			},
			tableRoleClaim: {
				Name: tableRoleClaim,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "RoleID"},
							&memdb.StringFieldIndex{Field: "ClaimValue"},
						}},
					},
					"role": {Name: "role", Indexer: &memdb.StringFieldIndex{Field: "RoleID"}},
				},
			},
			tableUserRole: {
				Name: tableUserRole,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "UserID"},
							&memdb.StringFieldIndex{Field: "RoleID"},
						}},
					},
					"user": {Name: "user", Indexer: &memdb.StringFieldIndex{Field: "UserID"}},
					"role": {Name: "role", Indexer: &memdb.StringFieldIndex{Field: "RoleID"}},
				},
			},
		},
	}
}

// Store is an in-memory tenant directory plus a registry of per-tenant
// identity databases.
type Store struct {
	tenants *memdb.MemDB

	mu     sync.Mutex
	scopes map[string]*memdb.MemDB
}

var (
	_ tenancy.Store         = (*Store)(nil)
	_ identity.ScopeFactory = (*Store)(nil)
)

// New constructs an empty store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(tenantSchema())
	if err != nil {
		return nil, err
	}
	return &Store{tenants: db, scopes: make(map[string]*memdb.MemDB)}, nil
}

// Create inserts a tenant record.
func (s *Store) Create(ctx context.Context, t *tenancy.Tenant) error {
	txn := s.tenants.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(tableTenant, "id", t.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return tenancy.ErrConflict
	}
	rec := *t
	if err := txn.Insert(tableTenant, &rec); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Get returns the tenant with the given id.
func (s *Store) Get(ctx context.Context, id string) (tenancy.Tenant, error) {
	txn := s.tenants.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableTenant, "id", id)
	if err != nil {
		return tenancy.Tenant{}, err
	}
	if raw == nil {
		return tenancy.Tenant{}, tenancy.ErrNotFound
	}
	return *raw.(*tenancy.Tenant), nil
}

// List returns all tenants ordered by id.
func (s *Store) List(ctx context.Context) ([]tenancy.Tenant, error) {
	txn := s.tenants.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableTenant, "id")
	if err != nil {
		return nil, err
	}
	var out []tenancy.Tenant
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *raw.(*tenancy.Tenant))
	}
	return out, nil
}

// Update replaces an existing tenant record.
func (s *Store) Update(ctx context.Context, t *tenancy.Tenant) error {
	txn := s.tenants.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(tableTenant, "id", t.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return tenancy.ErrNotFound
	}
	rec := *t
	if err := txn.Insert(tableTenant, &rec); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Scope returns an identity store handle bound to the tenant's private
// database, creating the database on first use.
func (s *Store) Scope(ctx context.Context, tenant tenancy.Tenant) (identity.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.scopes[tenant.ID]
	if !ok {
		var err error
		db, err = memdb.NewMemDB(identitySchema())
		if err != nil {
			return nil, err
		}
		s.scopes[tenant.ID] = db
	}
	return &scope{db: db}, nil
}

type scope struct {
	db *memdb.MemDB
}

var _ identity.Store = (*scope)(nil)

func (s *scope) Users() identity.UserStore { return &userStore{db: s.db} }
func (s *scope) Roles() identity.RoleStore { return &roleStore{db: s.db} }
func (s *scope) Close() error              { return nil }

type userStore struct {
	db *memdb.MemDB
}

func (s *userStore) Create(ctx context.Context, u *identity.User) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if raw, err := txn.First(tableUser, "id", u.ID); err != nil {
		return err
	} else if raw != nil {
		return identity.ErrConflict
	}
	if raw, err := txn.First(tableUser, "email", strings.ToLower(u.Email)); err != nil {
		return err
	} else if raw != nil {
		return identity.ErrConflict
	}
	rec := *u
	if err := txn.Insert(tableUser, &rec); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *userStore) Get(ctx context.Context, id string) (identity.User, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableUser, "id", id)
	if err != nil {
		return identity.User{}, err
	}
	if raw == nil {
		return identity.User{}, identity.ErrNotFound
	}
	return *raw.(*identity.User), nil
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (identity.User, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableUser, "email", strings.ToLower(email))
	if err != nil {
		return identity.User{}, err
	}
	if raw == nil {
		return identity.User{}, identity.ErrNotFound
	}
	return *raw.(*identity.User), nil
}

func (s *userStore) List(ctx context.Context) ([]identity.User, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableUser, "id")
	if err != nil {
		return nil, err
	}
	var out []identity.User
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *raw.(*identity.User))
	}
	return out, nil
}

func (s *userStore) Update(ctx context.Context, u *identity.User) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableUser, "id", u.ID)
	if err != nil {
		return err
	}
	if raw == nil {
		return identity.ErrNotFound
	}
	rec := *u
	if err := txn.Insert(tableUser, &rec); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableUser, "id", id)
	if err != nil {
		return err
	}
	if raw == nil {
		return identity.ErrNotFound
	}
	if err := txn.Delete(tableUser, raw); err != nil {
		return err
	}
	if _, err := txn.DeleteAll(tableUserRole, "user", id); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *userStore) Roles(ctx context.Context, userID string) ([]string, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableUserRole, "user", userID)
	if err != nil {
		return nil, err
	}
	var names []string
	for raw := it.Next(); raw != nil; raw = it.Next() {
		link := raw.(*userRole)
		roleRaw, err := txn.First(tableRole, "id", link.RoleID)
		if err != nil {
			return nil, err
		}
		if roleRaw == nil {
			continue
		}
		names = append(names, roleRaw.(*identity.Role).Name)
	}
	return names, nil
}

func (s *userStore) AssignRole(ctx context.Context, userID, roleID string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableUserRole, &userRole{UserID: userID, RoleID: roleID}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *userStore) RemoveRole(ctx context.Context, userID, roleID string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableUserRole, "id", userID, roleID)
	if err != nil {
		return err
	}
	if raw == nil {
		return identity.ErrNotFound
	}
	if err := txn.Delete(tableUserRole, raw); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *userStore) CountInRole(ctx context.Context, roleName string) (int, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	roleRaw, err := txn.First(tableRole, "name", strings.ToLower(roleName))
	if err != nil {
		return 0, err
	}
	if roleRaw == nil {
		return 0, nil
	}
	it, err := txn.Get(tableUserRole, "role", roleRaw.(*identity.Role).ID)
	if err != nil {
		return 0, err
	}
	count := 0
	for raw := it.Next(); raw != nil; raw = it.Next() {
		count++
	}
	return count, nil
}

type roleStore struct {
	db *memdb.MemDB
}

func (s *roleStore) Create(ctx context.Context, r *identity.Role) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if raw, err := txn.First(tableRole, "name", strings.ToLower(r.Name)); err != nil {
		return err
	} else if raw != nil {
		return identity.ErrConflict
	}
	rec := *r
	if err := txn.Insert(tableRole, &rec); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *roleStore) Get(ctx context.Context, id string) (identity.Role, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableRole, "id", id)
	if err != nil {
		return identity.Role{}, err
	}
	if raw == nil {
		return identity.Role{}, identity.ErrNotFound
	}
	return *raw.(*identity.Role), nil
}

func (s *roleStore) FindByName(ctx context.Context, name string) (identity.Role, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableRole, "name", strings.ToLower(name))
	if err != nil {
		return identity.Role{}, err
	}
	if raw == nil {
		return identity.Role{}, identity.ErrNotFound
	}
	return *raw.(*identity.Role), nil
}

func (s *roleStore) List(ctx context.Context) ([]identity.Role, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableRole, "id")
	if err != nil {
		return nil, err
	}
	var out []identity.Role
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *raw.(*identity.Role))
	}
	return out, nil
}

func (s *roleStore) Update(ctx context.Context, r *identity.Role) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableRole, "id", r.ID)
	if err != nil {
		return err
	}
	if raw == nil {
		return identity.ErrNotFound
	}
	rec := *r
	if err := txn.Insert(tableRole, &rec); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableRole, "id", id)
	if err != nil {
		return err
	}
	if raw == nil {
		return identity.ErrNotFound
	}
	if err := txn.Delete(tableRole, raw); err != nil {
		return err
	}
	if _, err := txn.DeleteAll(tableRoleClaim, "role", id); err != nil {
		return err
	}
	if _, err := txn.DeleteAll(tableUserRole, "role", id); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *roleStore) Claims(ctx context.Context, roleID string) ([]identity.RoleClaim, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableRoleClaim, "role", roleID)
	if err != nil {
		return nil, err
	}
	var out []identity.RoleClaim
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *raw.(*identity.RoleClaim))
	}
	return out, nil
}

func (s *roleStore) AddClaim(ctx context.Context, claim identity.RoleClaim) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	rec := claim
	if err := txn.Insert(tableRoleClaim, &rec); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *roleStore) RemoveClaim(ctx context.Context, roleID, claimValue string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableRoleClaim, "id", roleID, claimValue)
	if err != nil {
		return err
	}
	if raw == nil {
		return identity.ErrNotFound
	}
	if err := txn.Delete(tableRoleClaim, raw); err != nil {
		return err
	}
	txn.Commit()
	return nil
}
