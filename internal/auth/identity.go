package auth

import (
	"context"
	"slices"
	"strings"
)

// Identity is the authenticated caller as the bearer token describes it.
type Identity struct {
	UserID string
	Roles  []string
}

// Has reports whether the token carried role.
func (id Identity) Has(role string) bool {
	return slices.Contains(id.Roles, strings.ToLower(strings.TrimSpace(role)))
}

type identityKey struct{}

// ContextWithUser stores the caller in ctx.
func ContextWithUser(ctx context.Context, userID string, roles []string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{
		UserID: strings.TrimSpace(userID),
		Roles:  NormalizeRoles(roles),
	})
}

// IdentityFromContext returns the caller stored by ContextWithUser.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	id.Roles = slices.Clone(id.Roles)
	return id, true
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	return id.UserID, ok
}
