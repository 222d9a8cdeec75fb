package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"levra.org/internal/obs"
	"levra.org/internal/settlement"
)

// Actor is the capability token every operation takes. It is minted by
// Engine.Authorize from the Role Resolver and never from ambient state.
type Actor struct {
	id    string
	admin bool
}

func (a Actor) ID() string     { return a.id }
func (a Actor) IsAdmin() bool  { return a.admin }
func (a Actor) Valid() bool    { return a.id != "" }
func (a Actor) String() string { return a.id }

// Engine applies the lifecycle rules against a Store. It holds no entity
// state of its own.
type Engine struct {
	store     Store
	roles     RoleResolver
	processor settlement.Processor
	hooks     Hooks
	catalog   Catalog
	now       func() time.Time
	log       *logrus.Entry
}

type Option func(*Engine)

func WithProcessor(p settlement.Processor) Option {
	return func(e *Engine) {
		if p != nil {
			e.processor = p
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(e *Engine) {
		if h != nil {
			e.hooks = h
		}
	}
}

// WithCatalog replaces the project-type defaults.
func WithCatalog(c Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(store Store, roles RoleResolver, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		roles:     roles,
		processor: settlement.NewSimulated(),
		hooks:     nopHooks{},
		catalog:   DefaultCatalog(),
		now:       func() time.Time { return time.Now().UTC() },
		log:       obs.Logger().WithField("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize resolves userID into an Actor. A failing role lookup rejects
// the caller instead of treating it as a client.
func (e *Engine) Authorize(ctx context.Context, userID string) (Actor, error) {
	const op = "Authorize"
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Actor{}, unauthorized(op, "identity required")
	}
	admin, err := e.roles.IsAdministrator(ctx, userID)
	if err != nil {
		return Actor{}, &Error{Op: op, Kind: ErrAuthorization, Msg: "role lookup failed", Err: err}
	}
	return Actor{id: userID, admin: admin}, nil
}

func requireIdentity(op string, a Actor) error {
	if !a.Valid() {
		return unauthorized(op, "identity required")
	}
	return nil
}

// requireAdmin checks the token and asks the resolver again, so a revoked
// capability cannot be replayed from an older Actor.
func (e *Engine) requireAdmin(ctx context.Context, op string, a Actor) error {
	if err := requireIdentity(op, a); err != nil {
		return err
	}
	if !a.admin {
		return unauthorized(op, "administrator capability required")
	}
	ok, err := e.roles.IsAdministrator(ctx, a.id)
	if err != nil {
		return &Error{Op: op, Kind: ErrAuthorization, Msg: "role lookup failed", Err: err}
	}
	if !ok {
		return unauthorized(op, "administrator capability revoked")
	}
	return nil
}

func (e *Engine) observe(op string, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	outcome := Kind(err)
	obs.RecordOperation(op, outcome)
	if err != nil {
		e.log.WithFields(logrus.Fields{"op": op, "outcome": outcome}).WithError(err).Debug("lifecycle operation rejected")
	}
}
