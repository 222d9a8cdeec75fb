package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"

	"levra.org/internal/lifecycle"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrCheckViolation      = "23514"
)

// mapErr translates driver errors into the lifecycle store contract:
// missing rows and dangling references become ErrNotFound, constraint
// rejections of a row state become ErrStale, lost connections become
// ErrStoreUnavailable.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(lifecycle.ErrNotFound, op)
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation, pgErrCheckViolation:
			return errors.Wrapf(lifecycle.ErrStale, "%s: constraint %s", op, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return errors.Wrapf(lifecycle.ErrNotFound, "%s: constraint %s", op, pgErr.ConstraintName)
		}
		return errors.Wrap(err, op)
	}
	if isConnectionError(err) {
		return lifecycle.StoreUnavailable(op, err)
	}
	return errors.Wrap(err, op)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isConnectionError(err error) bool {
	var connErr *pgconn.ConnectError
	switch {
	case errors.As(err, &connErr):
		return true
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, driver.ErrBadConn):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return pgconn.Timeout(err)
	}
}
