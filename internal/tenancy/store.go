package tenancy

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("tenancy: tenant not found")
	ErrConflict     = errors.New("tenancy: tenant already exists")
	ErrInvalidInput = errors.New("tenancy: invalid input")
	ErrNoTenant     = errors.New("tenancy: no tenant identifier supplied")
)

// Store holds the tenant directory, including the root tenant.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
	Update(ctx context.Context, t *Tenant) error
}
