package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levra.org/internal/lifecycle"
	"levra.org/internal/stream"
)

type recorder struct{ changes []stream.Change }

func (r *recorder) Publish(c stream.Change) { r.changes = append(r.changes, c) }

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *recorder) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	rec := &recorder{}
	return New(db, rec), mock, rec
}

var (
	requestCols = []string{"id", "admin_id", "user_id", "title", "description", "project_type", "estimated_hours",
		"estimated_cost", "admin_notes", "status", "responded_at", "user_response_message", "created_at", "updated_at"}
	projectCols = []string{"id", "user_id", "admin_id", "request_id", "title", "description", "project_type", "status",
		"hours_worked", "estimated_hours", "estimated_cost", "completion_percentage", "notes", "version", "created_at", "updated_at"}
	paymentCols = []string{"id", "user_id", "project_id", "amount", "currency", "description", "due_date", "status",
		"reference_number", "paid_at", "payment_method", "transaction_id", "admin_confirmed", "confirmed_at", "created_at", "updated_at"}
)

func requestRow(id, status string, at time.Time) *sqlmock.Rows {
	var responded any
	if status != "pending" {
		responded = at
	}
	return sqlmock.NewRows(requestCols).
		AddRow(id, "admin-1", "client-1", "Landing Page", "", "web-development", int64(40), "25000.00", "vip", status, responded, "", at, at)
}

func projectRow(id, requestID, status string, version int64, at time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(projectCols).
		AddRow(id, "client-1", "admin-1", requestID, "Landing Page", "", "web-development", status, int64(0), int64(40), "25000.00", int64(0), "", version, at, at)
}

func paymentRow(id, status string, confirmed bool, at time.Time) *sqlmock.Rows {
	var paidAt any
	method := ""
	if status == "paid" {
		paidAt = at
		method = "upi"
	}
	return sqlmock.NewRows(paymentCols).
		AddRow(id, "client-1", "p1", "1500.00", "INR", "Milestone", nil, status, "REF-1", paidAt, method, "", confirmed, nil, at, at)
}

func TestInsertRequestScansAndPublishes(t *testing.T) {
	s, mock, rec := newMockStore(t)
	now := time.Now().UTC()
	hours := 40

	mock.ExpectQuery("insert into project_requests").
		WithArgs("r1", "admin-1", "client-1", "Landing Page", "", "web-development", sqlmock.AnyArg(), sqlmock.AnyArg(), "vip", "pending").
		WillReturnRows(requestRow("r1", "pending", now))

	r, err := s.InsertRequest(context.Background(), lifecycle.ProjectRequest{
		ID: "r1", AdminID: "admin-1", UserID: "client-1", Title: "Landing Page", ProjectType: "web-development",
		EstimatedHours: &hours, EstimatedCost: decimal.NewNullDecimal(decimal.NewFromInt(25000)),
		AdminNotes: "vip", Status: lifecycle.RequestPending,
	})
	require.NoError(t, err)
	require.NotNil(t, r.EstimatedHours)
	assert.Equal(t, 40, *r.EstimatedHours)
	assert.True(t, r.EstimatedCost.Valid)
	assert.True(t, r.EstimatedCost.Decimal.Equal(decimal.NewFromInt(25000)))
	assert.Nil(t, r.RespondedAt)

	require.Len(t, rec.changes, 1)
	assert.Equal(t, lifecycle.CollectionRequests, rec.changes[0].Collection)
	assert.Equal(t, stream.Insert, rec.changes[0].Kind)
	assert.Equal(t, "client-1", rec.changes[0].OwnerID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveRequestDistinguishesStaleFromMissing(t *testing.T) {
	s, mock, rec := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("update project_requests").WillReturnRows(sqlmock.NewRows(requestCols))
	mock.ExpectQuery("select exists").WithArgs("r1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	_, err := s.ResolveRequest(ctx, "r1", lifecycle.RequestDeclined, time.Now(), "")
	assert.ErrorIs(t, err, lifecycle.ErrStale)

	mock.ExpectQuery("update project_requests").WillReturnRows(sqlmock.NewRows(requestCols))
	mock.ExpectQuery("select exists").WithArgs("r2").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	_, err = s.ResolveRequest(ctx, "r2", lifecycle.RequestDeclined, time.Now(), "")
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)

	assert.Empty(t, rec.changes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptRequestRunsInOneTransaction(t *testing.T) {
	s, mock, rec := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("select status from project_requests where id = \\$1 for update").
		WithArgs("r1").WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectQuery("insert into projects").WillReturnRows(projectRow("p1", "r1", "in_progress", 1, now))
	mock.ExpectQuery("update project_requests").WillReturnRows(requestRow("r1", "accepted", now))
	mock.ExpectCommit()

	r, p, err := s.AcceptRequest(context.Background(), "r1", now, "go", lifecycle.Project{ID: "p1", UserID: "client-1", Status: lifecycle.ProjectInProgress})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.RequestAccepted, r.Status)
	assert.Equal(t, "r1", p.RequestID)
	assert.Equal(t, int64(1), p.Version)

	require.Len(t, rec.changes, 2)
	assert.Equal(t, lifecycle.CollectionProjects, rec.changes[0].Collection)
	assert.Equal(t, lifecycle.CollectionRequests, rec.changes[1].Collection)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptRequestRollsBackOnResolvedRequest(t *testing.T) {
	s, mock, rec := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select status from project_requests").
		WithArgs("r1").WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("declined"))
	mock.ExpectRollback()

	_, _, err := s.AcceptRequest(context.Background(), "r1", time.Now(), "", lifecycle.Project{ID: "p1"})
	assert.ErrorIs(t, err, lifecycle.ErrStale)
	assert.Empty(t, rec.changes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProjectVersionMismatch(t *testing.T) {
	s, mock, _ := newMockStore(t)

	mock.ExpectQuery("update projects").
		WithArgs("p1", int64(3), sqlmock.AnyArg(), sqlmock.AnyArg(), "completed", 10, 100, "").
		WillReturnRows(sqlmock.NewRows(projectCols))
	mock.ExpectQuery("select exists").WithArgs("p1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := s.UpdateProject(context.Background(), lifecycle.Project{ID: "p1", Status: lifecycle.ProjectCompleted, HoursWorked: 10, CompletionPercentage: 100}, 3)
	assert.ErrorIs(t, err, lifecycle.ErrStale)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPaymentsFilters(t *testing.T) {
	s, mock, _ := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("from project_payments where user_id = \\$1 and status = \\$2 order by created_at desc").
		WithArgs("client-1", "paid").
		WillReturnRows(paymentRow("pay1", "paid", true, now))

	out, err := s.ListPayments(context.Background(), lifecycle.PaymentFilter{UserID: "client-1", Status: lifecycle.PaymentPaid})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, lifecycle.MethodUPI, out[0].PaymentMethod)
	assert.True(t, out[0].AdminConfirmed)
	assert.True(t, out[0].Amount.Equal(decimal.NewFromInt(1500)))
	require.NotNil(t, out[0].PaidAt)
	assert.Nil(t, out[0].DueDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkConfirmedPublishesUpdate(t *testing.T) {
	s, mock, rec := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("update project_payments").
		WithArgs("pay1", now).
		WillReturnRows(paymentRow("pay1", "paid", true, now))

	p, err := s.MarkConfirmed(context.Background(), "pay1", now)
	require.NoError(t, err)
	assert.True(t, p.AdminConfirmed)
	require.Len(t, rec.changes, 1)
	assert.Equal(t, stream.Update, rec.changes[0].Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPaymentForMissingProject(t *testing.T) {
	s, mock, _ := newMockStore(t)

	mock.ExpectQuery("insert into project_payments").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "project_payments_project_id_fkey"})

	_, err := s.InsertPayment(context.Background(), lifecycle.Payment{ID: "pay1", ProjectID: "nope", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr("op", nil))
	assert.ErrorIs(t, mapErr("op", sql.ErrNoRows), lifecycle.ErrNotFound)
	assert.ErrorIs(t, mapErr("op", &pgconn.PgError{Code: pgErrUniqueViolation}), lifecycle.ErrStale)
	assert.ErrorIs(t, mapErr("op", &pgconn.PgError{Code: pgErrCheckViolation}), lifecycle.ErrStale)
	assert.ErrorIs(t, mapErr("op", sql.ErrConnDone), lifecycle.ErrStoreUnavailable)

	other := mapErr("op", errors.New("syntax"))
	assert.False(t, errors.Is(other, lifecycle.ErrStoreUnavailable))
	assert.Contains(t, other.Error(), "op")
}

func TestIsAdministrator(t *testing.T) {
	s, mock, _ := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("select exists\\(select 1 from user_roles").
		WithArgs("admin-1", "admin").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := s.IsAdministrator(ctx, " admin-1 ")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery("select exists\\(select 1 from user_roles").
		WithArgs("client-1", "admin").
		WillReturnError(sql.ErrConnDone)
	_, err = s.IsAdministrator(ctx, "client-1")
	assert.ErrorIs(t, err, lifecycle.ErrStoreUnavailable)

	mock.ExpectExec("insert into user_roles").WithArgs("client-1", "admin").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.SetAdministrator(ctx, "client-1", true))
	require.NoError(t, mock.ExpectationsWereMet())
}
