package pg

import (
	"context"
	"database/sql"
	"errors"

	"schoolhub.org/internal/identity"
)

// scope is an identity store handle bound to one tenant. The underlying
// pool is shared and cached by the parent Store, so Close is a no-op.
type scope struct {
	db       *sql.DB
	tenantID string
}

var _ identity.Store = (*scope)(nil)

func (s *scope) Users() identity.UserStore { return &userStore{db: s.db, tenantID: s.tenantID} }
func (s *scope) Roles() identity.RoleStore { return &roleStore{db: s.db, tenantID: s.tenantID} }
func (s *scope) Close() error              { return nil }

type userStore struct {
	db       *sql.DB
	tenantID string
}

func (s *userStore) Create(ctx context.Context, u *identity.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, tenant_id, email, first_name, last_name, phone_number, password_hash,
		                   is_active, email_confirmed, refresh_token, refresh_token_expiry, created_at, updated_at)
		values ($1, $2, $3, $4, $5, nullif($6,''), $7, $8, $9, nullif($10,''), $11, $12, $13)
	`, u.ID, s.tenantID, u.Email, u.FirstName, u.LastName, u.PhoneNumber, u.PasswordHash,
		u.IsActive, u.EmailConfirmed, u.RefreshToken, nullIfZero(u.RefreshTokenExpiry), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrConflict
		}
		return err
	}
	return nil
}

const userColumns = `id, email, first_name, last_name, coalesce(phone_number,''), password_hash,
	is_active, email_confirmed, coalesce(refresh_token,''), refresh_token_expiry, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (identity.User, error) {
	var (
		u      identity.User
		expiry sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PhoneNumber, &u.PasswordHash,
		&u.IsActive, &u.EmailConfirmed, &u.RefreshToken, &expiry, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return identity.User{}, err
	}
	if expiry.Valid {
		u.RefreshTokenExpiry = expiry.Time
	}
	return u, nil
}

func (s *userStore) Get(ctx context.Context, id string) (identity.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where tenant_id = $1 and id = $2
	`, s.tenantID, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.ErrNotFound
	}
	return u, err
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (identity.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where tenant_id = $1 and lower(email) = lower($2)
	`, s.tenantID, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.ErrNotFound
	}
	return u, err
}

func (s *userStore) List(ctx context.Context) ([]identity.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+`
		from users
		where tenant_id = $1
		order by email
	`, s.tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []identity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *userStore) Update(ctx context.Context, u *identity.User) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set email = $3, first_name = $4, last_name = $5, phone_number = nullif($6,''),
		    password_hash = $7, is_active = $8, email_confirmed = $9,
		    refresh_token = nullif($10,''), refresh_token_expiry = $11, updated_at = $12
		where tenant_id = $1 and id = $2
	`, s.tenantID, u.ID, u.Email, u.FirstName, u.LastName, u.PhoneNumber,
		u.PasswordHash, u.IsActive, u.EmailConfirmed, u.RefreshToken, nullIfZero(u.RefreshTokenExpiry), u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrConflict
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from users
		where tenant_id = $1 and id = $2
	`, s.tenantID, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *userStore) Roles(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.tenant_id = $1 and ur.user_id = $2
		order by r.name
	`, s.tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

func (s *userStore) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (tenant_id, user_id, role_id)
		values ($1, $2, $3)
		on conflict do nothing
	`, s.tenantID, userID, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return identity.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *userStore) RemoveRole(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles
		where tenant_id = $1 and user_id = $2 and role_id = $3
	`, s.tenantID, userID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *userStore) CountInRole(ctx context.Context, roleName string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(*)
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.tenant_id = $1 and lower(r.name) = lower($2)
	`, s.tenantID, roleName).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

type roleStore struct {
	db       *sql.DB
	tenantID string
}

func (s *roleStore) Create(ctx context.Context, r *identity.Role) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, tenant_id, name, description, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, r.ID, s.tenantID, r.Name, nullIfEmpty(r.Description), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrConflict
		}
		return err
	}
	return nil
}

func scanRole(row interface{ Scan(...any) error }) (identity.Role, error) {
	var (
		r    identity.Role
		desc sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Name, &desc, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return identity.Role{}, err
	}
	r.Description = desc.String
	return r, nil
}

func (s *roleStore) Get(ctx context.Context, id string) (identity.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, description, created_at, updated_at
		from roles
		where tenant_id = $1 and id = $2
	`, s.tenantID, id)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Role{}, identity.ErrNotFound
	}
	return r, err
}

func (s *roleStore) FindByName(ctx context.Context, name string) (identity.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, description, created_at, updated_at
		from roles
		where tenant_id = $1 and lower(name) = lower($2)
	`, s.tenantID, name)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Role{}, identity.ErrNotFound
	}
	return r, err
}

func (s *roleStore) List(ctx context.Context) ([]identity.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, created_at, updated_at
		from roles
		where tenant_id = $1
		order by name
	`, s.tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []identity.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *roleStore) Update(ctx context.Context, r *identity.Role) error {
	res, err := s.db.ExecContext(ctx, `
		update roles
		set name = $3, description = $4, updated_at = $5
		where tenant_id = $1 and id = $2
	`, s.tenantID, r.ID, r.Name, nullIfEmpty(r.Description), r.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrConflict
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from roles
		where tenant_id = $1 and id = $2
	`, s.tenantID, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *roleStore) Claims(ctx context.Context, roleID string) ([]identity.RoleClaim, error) {
	rows, err := s.db.QueryContext(ctx, `
		select role_id, claim_type, claim_value, coalesce(description,''), coalesce(group_name,'')
		from role_claims
		where tenant_id = $1 and role_id = $2
		order by claim_value
	`, s.tenantID, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []identity.RoleClaim
	for rows.Next() {
		var c identity.RoleClaim
		if err := rows.Scan(&c.RoleID, &c.ClaimType, &c.ClaimValue, &c.Description, &c.Group); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *roleStore) AddClaim(ctx context.Context, claim identity.RoleClaim) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_claims (tenant_id, role_id, claim_type, claim_value, description, group_name)
		values ($1, $2, $3, $4, nullif($5,''), nullif($6,''))
		on conflict (tenant_id, role_id, claim_type, claim_value) do nothing
	`, s.tenantID, claim.RoleID, claim.ClaimType, claim.ClaimValue, claim.Description, claim.Group)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return identity.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *roleStore) RemoveClaim(ctx context.Context, roleID, claimValue string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from role_claims
		where tenant_id = $1 and role_id = $2 and claim_value = $3
	`, s.tenantID, roleID, claimValue)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}
