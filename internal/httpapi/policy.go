package httpapi

import (
	"sync"

	"schoolhub.org/internal/identity"
	"schoolhub.org/internal/permissions"
)

// Requirement is an authorization rule checked against the caller's token
// claims.
type Requirement struct {
	Permission string
}

// Satisfied reports whether the claims meet the requirement.
func (req Requirement) Satisfied(claims *identity.Claims) bool {
	if claims == nil {
		return false
	}
	if req.Permission == "" {
		return true
	}
	return claims.HasPermission(req.Permission)
}

// PolicyProvider resolves authorization policies by name. Names matching a
// known permission get a requirement synthesized on first use, so new
// catalog entries never need explicit registration. Unknown names resolve
// to nothing and the request is rejected.
type PolicyProvider struct {
	mu       sync.RWMutex
	policies map[string]Requirement
}

// NewPolicyProvider constructs an empty provider.
func NewPolicyProvider() *PolicyProvider {
	return &PolicyProvider{policies: make(map[string]Requirement)}
}

// Register installs a static policy under the given name. Static policies
// take precedence over synthesized permission policies.
func (p *PolicyProvider) Register(name string, req Requirement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policies[name] = req
}

// Get resolves a policy by name.
func (p *PolicyProvider) Get(name string) (Requirement, bool) {
	p.mu.RLock()
	req, ok := p.policies[name]
	p.mu.RUnlock()
	if ok {
		return req, true
	}
	if !permissions.IsKnown(name) {
		return Requirement{}, false
	}
	req = Requirement{Permission: name}
	p.mu.Lock()
	p.policies[name] = req
	p.mu.Unlock()
	return req, true
}
