package permission

import (
	"context"
	"errors"
	"sync"
)

// RoleResolver composes grants from named roles. Subjects are mapped to
// roles by the lookup function passed to NewRoleResolver.
//
// Roles are registered during initialization; after Freeze the resolver is
// read-only.
type RoleResolver struct {
	lookup func(ctx context.Context, subject string) ([]string, error)

	mu     sync.RWMutex
	roles  map[string][]string
	frozen bool
}

// NewRoleResolver returns a resolver that asks lookup for a subject's roles.
func NewRoleResolver(lookup func(ctx context.Context, subject string) ([]string, error)) *RoleResolver {
	return &RoleResolver{
		lookup: lookup,
		roles:  make(map[string][]string),
	}
}

/*
====================================
REGISTER ROLE
====================================
*/

// RegisterRole declares role as holding grants.
func (r *RoleResolver) RegisterRole(role string, grants []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.New("role resolver frozen")
	}
	if role == "" {
		return errors.New("role name empty")
	}
	if _, exists := r.roles[role]; exists {
		return errors.New("role already registered")
	}

	r.roles[role] = append([]string(nil), grants...)
	return nil
}

// Freeze stops further registrations.
func (r *RoleResolver) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered roles.
func (r *RoleResolver) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roles)
}

/*
====================================
RESOLVE
====================================
*/

// ResolveGrants returns the union of the grants of every role held by
// subject. Unknown roles contribute nothing; the role name itself is always
// included so "admin"-style checks work without a registration.
func (r *RoleResolver) ResolveGrants(ctx context.Context, subject string) ([]string, error) {
	roles, err := r.lookup(ctx, subject)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, role := range roles {
		out = append(out, role)
		out = append(out, r.roles[role]...)
	}
	return out, nil
}
