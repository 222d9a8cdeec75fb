package pg

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	_ "github.com/jackc/pgx/v5/stdlib"

	"levra.org/internal/lifecycle"
	"levra.org/internal/stream"
)

// Store is the Postgres-backed lifecycle store. Committed writes are
// published to the change stream after the statement or transaction
// succeeds.
type Store struct {
	db  *sql.DB
	pub stream.Publisher
}

var (
	_ lifecycle.Store          = (*Store)(nil)
	_ lifecycle.AtomicAcceptor = (*Store)(nil)
	_ lifecycle.RoleResolver   = (*Store)(nil)
)

func Open(dsn string, pub stream.Publisher) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, pub), nil
}

// New wraps an existing handle. pub may be nil.
func New(db *sql.DB, pub stream.Publisher) *Store {
	return &Store{db: db, pub: pub}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return lifecycle.StoreUnavailable("Ping", err)
	}
	return nil
}

func (s *Store) publish(changes ...stream.Change) {
	if s.pub == nil {
		return
	}
	for _, c := range changes {
		s.pub.Publish(c)
	}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// filter accumulates "col = $n" conditions.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) eq(col string, v string) {
	if v == "" {
		return
	}
	f.args = append(f.args, v)
	f.conds = append(f.conds, col+" = $"+strconv.Itoa(len(f.args)))
}

func (f *filter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " where " + strings.Join(f.conds, " and ")
}

// staleOrMissing explains a conditional write that touched no row.
func staleOrMissing(ctx context.Context, q querier, op, table, id string) error {
	var exists bool
	err := q.QueryRowContext(ctx, `select exists(select 1 from `+table+` where id = $1)`, id).Scan(&exists)
	if err != nil {
		return mapErr(op, err)
	}
	if !exists {
		return errors.Wrap(lifecycle.ErrNotFound, op)
	}
	return errors.Wrap(lifecycle.ErrStale, op)
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
