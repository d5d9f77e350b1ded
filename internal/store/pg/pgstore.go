// Package pg implements the tenant directory and tenant-scoped identity
// stores on postgres. Every tenant's rows are filtered by tenant_id; a
// tenant with its own ConnectionTarget gets a dedicated connection pool.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"schoolhub.org/internal/identity"
	"schoolhub.org/internal/tenancy"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB

	mu    sync.Mutex
	pools map[string]*sql.DB // keyed by connection target
}

var (
	_ tenancy.Store         = (*Store)(nil)
	_ identity.ScopeFactory = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := openPool(dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, pools: make(map[string]*sql.DB)}, nil
}

func openPool(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, db := range s.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.pools = make(map[string]*sql.DB)
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Create(ctx context.Context, t *tenancy.Tenant) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into tenants (id, name, connection_target, admin_email, admin_first_name, admin_last_name, valid_to, is_active, created_at, updated_at)
		values ($1, $2, nullif($3,''), nullif($4,''), $5, $6, $7, $8, $9, $10)
	`, t.ID, t.Name, t.ConnectionTarget, t.AdminEmail, t.AdminFirstName, t.AdminLastName, t.ValidTo, t.IsActive, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return tenancy.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (tenancy.Tenant, error) {
	if s.db == nil {
		return tenancy.Tenant{}, errors.New("database connection unavailable")
	}
	var (
		t          tenancy.Tenant
		connTarget sql.NullString
		adminEmail sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, connection_target, admin_email, admin_first_name, admin_last_name, valid_to, is_active, created_at, updated_at
		from tenants
		where id = $1
	`, id).Scan(&t.ID, &t.Name, &connTarget, &adminEmail, &t.AdminFirstName, &t.AdminLastName, &t.ValidTo, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenancy.Tenant{}, tenancy.ErrNotFound
	}
	if err != nil {
		return tenancy.Tenant{}, err
	}
	t.ConnectionTarget = connTarget.String
	t.AdminEmail = adminEmail.String
	return t, nil
}

func (s *Store) List(ctx context.Context) ([]tenancy.Tenant, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, connection_target, admin_email, admin_first_name, admin_last_name, valid_to, is_active, created_at, updated_at
		from tenants
		order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tenancy.Tenant
	for rows.Next() {
		var (
			t          tenancy.Tenant
			connTarget sql.NullString
			adminEmail sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Name, &connTarget, &adminEmail, &t.AdminFirstName, &t.AdminLastName, &t.ValidTo, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.ConnectionTarget = connTarget.String
		t.AdminEmail = adminEmail.String
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) Update(ctx context.Context, t *tenancy.Tenant) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update tenants
		set name = $2, connection_target = nullif($3,''), admin_email = nullif($4,''),
		    admin_first_name = $5, admin_last_name = $6, valid_to = $7, is_active = $8, updated_at = $9
		where id = $1
	`, t.ID, t.Name, t.ConnectionTarget, t.AdminEmail, t.AdminFirstName, t.AdminLastName, t.ValidTo, t.IsActive, t.UpdatedAt)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return tenancy.ErrNotFound
	}
	return nil
}

// Scope returns an identity store handle filtered to the tenant. Tenants
// with a dedicated ConnectionTarget get their own pool; everyone else shares
// the directory database. Pools are cached, so Close on a handle is cheap.
func (s *Store) Scope(ctx context.Context, tenant tenancy.Tenant) (identity.Store, error) {
	db := s.db
	if tenant.ConnectionTarget != "" {
		pooled, err := s.pool(tenant.ConnectionTarget)
		if err != nil {
			return nil, fmt.Errorf("open tenant database: %w", err)
		}
		db = pooled
	}
	return &scope{db: db, tenantID: tenant.ID}, nil
}

func (s *Store) pool(target string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.pools[target]; ok {
		return db, nil
	}
	db, err := openPool(target)
	if err != nil {
		return nil, err
	}
	s.pools[target] = db
	return db, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullIfZero(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
