package auth

import (
	"context"
	"slices"
	"testing"
)

func TestStaticResolver(t *testing.T) {
	ctx := context.Background()
	r := NewStaticResolver("admin-1", " ")

	ok, err := r.IsAdministrator(ctx, "admin-1")
	if err != nil || !ok {
		t.Fatalf("expected admin-1 to be an administrator, ok=%v err=%v", ok, err)
	}
	roles, err := RolesFor(ctx, r, "client-1")
	if err != nil || !slices.Equal(roles, []string{RoleClient}) {
		t.Fatalf("unexpected roles for client: %v (%v)", roles, err)
	}

	r.Revoke("admin-1")
	if ok, _ := r.IsAdministrator(ctx, "admin-1"); ok {
		t.Fatal("revoked administrator still resolves")
	}
	r.Grant("client-1")
	roles, _ = RolesFor(ctx, r, "client-1")
	if !slices.Equal(roles, []string{RoleAdmin}) {
		t.Fatalf("unexpected roles after grant: %v", roles)
	}
}
