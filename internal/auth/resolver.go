package auth

import (
	"context"
	"strings"
	"sync"
)

// StaticResolver answers administrator checks from a fixed set of user
// IDs. It backs the in-memory deployment and tests; the Postgres store
// resolves against user_roles instead.
type StaticResolver struct {
	mu     sync.RWMutex
	admins map[string]struct{}
}

func NewStaticResolver(adminIDs ...string) *StaticResolver {
	r := &StaticResolver{admins: make(map[string]struct{}, len(adminIDs))}
	for _, id := range adminIDs {
		r.Grant(id)
	}
	return r
}

func (r *StaticResolver) IsAdministrator(_ context.Context, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[strings.TrimSpace(userID)]
	return ok, nil
}

func (r *StaticResolver) Grant(userID string) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}
	r.mu.Lock()
	r.admins[userID] = struct{}{}
	r.mu.Unlock()
}

// Revoke removes the capability; Actors minted earlier lose it on their
// next administrator operation.
func (r *StaticResolver) Revoke(userID string) {
	r.mu.Lock()
	delete(r.admins, strings.TrimSpace(userID))
	r.mu.Unlock()
}

// Resolver is satisfied by StaticResolver and the Postgres store.
type Resolver interface {
	IsAdministrator(ctx context.Context, userID string) (bool, error)
}

// RolesFor returns the claim roles to stamp into a token for userID.
func RolesFor(ctx context.Context, resolver Resolver, userID string) ([]string, error) {
	admin, err := resolver.IsAdministrator(ctx, userID)
	if err != nil {
		return nil, err
	}
	if admin {
		return []string{RoleAdmin}, nil
	}
	return []string{RoleClient}, nil
}
