package tenancy

import "context"

type tenantContextKey struct{}

// WithTenant attaches the resolved tenant to the context. The value is
// scoped to a single logical operation; it is never cached across requests.
func WithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, &t)
}

// FromContext extracts the resolved tenant from the context.
func FromContext(ctx context.Context) (Tenant, bool) {
	if ctx == nil {
		return Tenant{}, false
	}
	v, ok := ctx.Value(tenantContextKey{}).(*Tenant)
	if !ok || v == nil {
		return Tenant{}, false
	}
	return *v, true
}
