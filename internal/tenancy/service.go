package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// rootValidity keeps the root tenant's subscription effectively perpetual.
const rootValidity = 100 * 365 * 24 * time.Hour

// Seeder provisions a tenant's identity store (default roles, claims and
// the administrator account). Implemented by the identity package.
type Seeder interface {
	SeedTenant(ctx context.Context, t Tenant) error
}

// Service provides tenant lifecycle operations.
type Service struct {
	store  Store
	seeder Seeder
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a tenant Service.
func NewService(store Store, seeder Seeder, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("tenancy: store is required")
	}
	svc := &Service{store: store, seeder: seeder, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateRequest describes a new tenant.
type CreateRequest struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	ConnectionTarget string    `json:"connection_target"`
	AdminEmail       string    `json:"admin_email"`
	AdminFirstName   string    `json:"admin_first_name"`
	AdminLastName    string    `json:"admin_last_name"`
	ValidTo          time.Time `json:"valid_to"`
	IsActive         bool      `json:"is_active"`
}

// Create registers a new tenant and provisions its identity store.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Tenant, error) {
	req.ID = strings.TrimSpace(strings.ToLower(req.ID))
	req.Name = strings.TrimSpace(req.Name)
	if req.ID == "" || req.Name == "" {
		return Tenant{}, fmt.Errorf("%w: tenant id and name are required", ErrInvalidInput)
	}
	if req.ID == RootID {
		return Tenant{}, fmt.Errorf("%w: %s is a reserved tenant id", ErrInvalidInput, RootID)
	}
	now := s.now().UTC()
	tenant := Tenant{
		ID:               req.ID,
		Name:             req.Name,
		ConnectionTarget: strings.TrimSpace(req.ConnectionTarget),
		AdminEmail:       strings.TrimSpace(strings.ToLower(req.AdminEmail)),
		AdminFirstName:   strings.TrimSpace(req.AdminFirstName),
		AdminLastName:    strings.TrimSpace(req.AdminLastName),
		ValidTo:          req.ValidTo.UTC(),
		IsActive:         req.IsActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, &tenant); err != nil {
		return Tenant{}, err
	}
	if s.seeder != nil {
		if err := s.seeder.SeedTenant(ctx, tenant); err != nil {
			return Tenant{}, err
		}
	}
	return tenant, nil
}

// Get returns a tenant by id.
func (s *Service) Get(ctx context.Context, id string) (Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Tenant{}, fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// List returns all tenants.
func (s *Service) List(ctx context.Context) ([]Tenant, error) {
	return s.store.List(ctx)
}

// Activate sets the tenant active flag.
func (s *Service) Activate(ctx context.Context, id string) (Tenant, error) {
	return s.setActive(ctx, id, true)
}

// Deactivate clears the tenant active flag. Login is rejected for inactive
// tenants regardless of credential correctness.
func (s *Service) Deactivate(ctx context.Context, id string) (Tenant, error) {
	return s.setActive(ctx, id, false)
}

func (s *Service) setActive(ctx context.Context, id string, active bool) (Tenant, error) {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	tenant.IsActive = active
	tenant.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, &tenant); err != nil {
		return Tenant{}, err
	}
	return tenant, nil
}

// UpdateSubscription moves the tenant's subscription expiry.
func (s *Service) UpdateSubscription(ctx context.Context, id string, newExpiry time.Time) (Tenant, error) {
	if newExpiry.IsZero() {
		return Tenant{}, fmt.Errorf("%w: new expiry date is required", ErrInvalidInput)
	}
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	tenant.ValidTo = newExpiry.UTC()
	tenant.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, &tenant); err != nil {
		return Tenant{}, err
	}
	return tenant, nil
}

// EnsureRoot creates the root tenant record if it does not exist yet.
func (s *Service) EnsureRoot(ctx context.Context, adminEmail, adminFirstName, adminLastName string) (Tenant, error) {
	if tenant, err := s.store.Get(ctx, RootID); err == nil {
		return tenant, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Tenant{}, err
	}
	now := s.now().UTC()
	tenant := Tenant{
		ID:             RootID,
		Name:           "Root",
		AdminEmail:     strings.TrimSpace(strings.ToLower(adminEmail)),
		AdminFirstName: adminFirstName,
		AdminLastName:  adminLastName,
		ValidTo:        now.Add(rootValidity),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, &tenant); err != nil {
		return Tenant{}, err
	}
	return tenant, nil
}

// Bootstrap ensures the root tenant exists and provisions every known
// tenant sequentially. One tenant's provisioning fully completes, including
// release of its scoped storage handle, before the next begins; seeding is a
// rare bounded operation, so throughput is traded for isolation.
func (s *Service) Bootstrap(ctx context.Context, adminEmail, adminFirstName, adminLastName string) error {
	if _, err := s.EnsureRoot(ctx, adminEmail, adminFirstName, adminLastName); err != nil {
		return fmt.Errorf("tenancy: ensure root tenant: %w", err)
	}
	if s.seeder == nil {
		return nil
	}
	tenants, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.seeder.SeedTenant(ctx, tenant); err != nil {
			return fmt.Errorf("tenancy: seed tenant %s: %w", tenant.ID, err)
		}
	}
	return nil
}
