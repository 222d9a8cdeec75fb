package lifecycle

import (
	"context"
	"time"
)

type RequestFilter struct {
	UserID  string
	AdminID string
	Status  RequestStatus
}

type ProjectFilter struct {
	UserID    string
	AdminID   string
	RequestID string
	Status    ProjectStatus
}

type PaymentFilter struct {
	UserID    string
	ProjectID string
	Status    PaymentStatus
}

// Store persists the three lifecycle collections. Writes that depend on a
// source state are conditional and return ErrStale when the row moved on;
// missing rows yield ErrNotFound; transport failures wrap ErrStoreUnavailable.
type Store interface {
	InsertRequest(ctx context.Context, r ProjectRequest) (ProjectRequest, error)
	GetRequest(ctx context.Context, id string) (ProjectRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]ProjectRequest, error)
	// ResolveRequest moves a pending request to status; ErrStale otherwise.
	ResolveRequest(ctx context.Context, id string, status RequestStatus, at time.Time, message string) (ProjectRequest, error)
	AnnotateRequest(ctx context.Context, id, notes string) (ProjectRequest, error)
	DeleteRequest(ctx context.Context, id string) error

	InsertProject(ctx context.Context, p Project) (Project, error)
	GetProject(ctx context.Context, id string) (Project, error)
	ListProjects(ctx context.Context, f ProjectFilter) ([]Project, error)
	// UpdateProject writes p when the stored version equals expectedVersion
	// and bumps the version; ErrStale otherwise.
	UpdateProject(ctx context.Context, p Project, expectedVersion int64) (Project, error)

	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	GetPayment(ctx context.Context, id string) (Payment, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error)
	// MarkPaid settles a pending payment; ErrStale otherwise.
	MarkPaid(ctx context.Context, id string, at time.Time, method Method, transactionID string) (Payment, error)
	// MarkConfirmed flags a paid, unconfirmed payment; ErrStale otherwise.
	MarkConfirmed(ctx context.Context, id string, at time.Time) (Payment, error)
	// FailPayment closes a pending payment as failed; ErrStale otherwise.
	FailPayment(ctx context.Context, id string, at time.Time) (Payment, error)
}

// AtomicAcceptor is implemented by stores that can create the spawned
// project and stamp the request accepted in a single transaction.
type AtomicAcceptor interface {
	AcceptRequest(ctx context.Context, requestID string, at time.Time, message string, p Project) (ProjectRequest, Project, error)
}

// RoleResolver answers whether an identity holds the administrator capability.
type RoleResolver interface {
	IsAdministrator(ctx context.Context, userID string) (bool, error)
}

// Hooks are fired after the corresponding write succeeded.
type Hooks interface {
	RequestIssued(ctx context.Context, r ProjectRequest)
	PaymentResolved(ctx context.Context, p Payment)
	PaymentConfirmed(ctx context.Context, p Payment)
}

type nopHooks struct{}

func (nopHooks) RequestIssued(context.Context, ProjectRequest) {}
func (nopHooks) PaymentResolved(context.Context, Payment)      {}
func (nopHooks) PaymentConfirmed(context.Context, Payment)     {}
