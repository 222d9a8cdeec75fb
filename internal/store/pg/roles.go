package pg

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

const roleAdmin = "admin"

// IsAdministrator resolves the administrator capability from user_roles.
func (s *Store) IsAdministrator(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from user_roles where user_id = $1 and role = $2)
	`, strings.TrimSpace(userID), roleAdmin).Scan(&ok)
	if err != nil {
		return false, mapErr("resolve role", err)
	}
	return ok, nil
}

// SetAdministrator grants or revokes the administrator capability.
func (s *Store) SetAdministrator(ctx context.Context, userID string, admin bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}
	var err error
	if admin {
		_, err = s.db.ExecContext(ctx, `
			insert into user_roles (user_id, role) values ($1, $2)
			on conflict do nothing
		`, userID, roleAdmin)
	} else {
		_, err = s.db.ExecContext(ctx, `delete from user_roles where user_id = $1 and role = $2`, userID, roleAdmin)
	}
	return mapErr("set administrator", err)
}
