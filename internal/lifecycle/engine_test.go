package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levra.org/internal/settlement"
)

type roles map[string]bool

func (r roles) IsAdministrator(_ context.Context, id string) (bool, error) { return r[id], nil }

type brokenRoles struct{}

func (brokenRoles) IsAdministrator(context.Context, string) (bool, error) {
	return false, errors.New("role directory offline")
}

type fixture struct {
	engine *Engine
	store  *MemoryStore
	admin  Actor
	client Actor
	other  Actor
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	store := NewMemoryStore(nil)
	e := New(store, roles{"admin-1": true}, opts...)
	return fixture{
		engine: e,
		store:  store,
		admin:  authorize(t, e, "admin-1"),
		client: authorize(t, e, "client-c"),
		other:  authorize(t, e, "client-d"),
	}
}

func authorize(t *testing.T, e *Engine, id string) Actor {
	t.Helper()
	a, err := e.Authorize(context.Background(), id)
	require.NoError(t, err)
	return a
}

func intp(v int) *int { return &v }

func cost(v int64) decimal.NullDecimal { return decimal.NewNullDecimal(decimal.NewFromInt(v)) }

func (f fixture) issue(t *testing.T, title string) ProjectRequest {
	t.Helper()
	r, err := f.engine.IssueRequest(context.Background(), f.admin, RequestInput{
		ClientID:       f.client.ID(),
		Title:          title,
		Description:    "Marketing site",
		ProjectType:    "web-development",
		EstimatedHours: intp(40),
		EstimatedCost:  cost(20000),
		AdminNotes:     "rush if possible",
	})
	require.NoError(t, err)
	return r
}

func (f fixture) activeProject(t *testing.T) Project {
	t.Helper()
	r := f.issue(t, "Landing Page")
	_, p, err := f.engine.RespondToRequest(context.Background(), f.client, r.ID, DecisionAccept, "")
	require.NoError(t, err)
	return *p
}

func TestAuthorizeNeverDowngrades(t *testing.T) {
	e := New(NewMemoryStore(nil), brokenRoles{})
	_, err := e.Authorize(context.Background(), "admin-1")
	require.ErrorIs(t, err, ErrAuthorization)

	_, err = e.Authorize(context.Background(), "  ")
	require.ErrorIs(t, err, ErrAuthorization)
}

func TestAdminOperationsRequireCapability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.IssueRequest(ctx, f.client, RequestInput{ClientID: f.other.ID(), Title: "x"})
	require.ErrorIs(t, err, ErrAuthorization)

	_, err = f.engine.CreateProject(ctx, Actor{}, ProjectInput{ClientID: f.client.ID(), Title: "x"})
	require.ErrorIs(t, err, ErrAuthorization)

	// a token minted before revocation is re-checked against the resolver
	revoked := New(f.store, roles{})
	_, err = revoked.IssueRequest(ctx, f.admin, RequestInput{ClientID: f.client.ID(), Title: "x"})
	require.ErrorIs(t, err, ErrAuthorization)
}

func TestIssueRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.IssueRequest(ctx, f.admin, RequestInput{ClientID: f.client.ID()})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.engine.IssueRequest(ctx, f.admin, RequestInput{ClientID: f.client.ID(), Title: "x", EstimatedHours: intp(-1)})
	require.ErrorIs(t, err, ErrValidation)

	reqs, err := f.engine.ListRequests(ctx, f.admin, RequestQuery{})
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestIssueRequestDefaultsEstimatesFromCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.IssueRequest(ctx, f.admin, RequestInput{ClientID: f.client.ID(), Title: "App", ProjectType: "mobile-app"})
	require.NoError(t, err)
	require.NotNil(t, r.EstimatedHours)
	assert.Equal(t, 60, *r.EstimatedHours)
	assert.True(t, r.EstimatedCost.Decimal.Equal(decimal.NewFromInt(40000)))

	r, err = f.engine.IssueRequest(ctx, f.admin, RequestInput{ClientID: f.client.ID(), Title: "Odd", ProjectType: "interpretive-dance"})
	require.NoError(t, err)
	assert.Equal(t, "interpretive-dance", r.ProjectType)
	assert.Nil(t, r.EstimatedHours)
	assert.False(t, r.EstimatedCost.Valid)
}

func TestAcceptCopiesRequestIntoExactlyOneProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.issue(t, "Landing Page")

	resolved, p, err := f.engine.RespondToRequest(ctx, f.client, r.ID, DecisionAccept, "Looks good")
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Equal(t, RequestAccepted, resolved.Status)
	assert.Equal(t, "Looks good", resolved.ResponseMessage)
	assert.NotNil(t, resolved.RespondedAt)
	assert.Empty(t, resolved.AdminNotes, "admin notes must not reach the client")

	assert.Equal(t, r.Title, p.Title)
	assert.Equal(t, r.Description, p.Description)
	assert.Equal(t, r.ProjectType, p.ProjectType)
	assert.Equal(t, *r.EstimatedHours, *p.EstimatedHours)
	assert.True(t, r.EstimatedCost.Decimal.Equal(p.EstimatedCost.Decimal))
	assert.Equal(t, ProjectInProgress, p.Status)
	assert.Equal(t, f.client.ID(), p.UserID)
	assert.Equal(t, f.admin.ID(), p.AdminID)
	assert.Equal(t, r.ID, p.RequestID)

	_, again, err := f.engine.RespondToRequest(ctx, f.client, r.ID, DecisionAccept, "")
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Nil(t, again)

	_, _, err = f.engine.RespondToRequest(ctx, f.client, r.ID, DecisionDecline, "")
	require.ErrorIs(t, err, ErrInvalidState)

	projects, err := f.engine.ListProjects(ctx, f.admin, ProjectQuery{})
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestDeclineCreatesNoProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.issue(t, "Landing Page")

	resolved, p, err := f.engine.RespondToRequest(ctx, f.client, r.ID, DecisionDecline, "Not now")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, RequestDeclined, resolved.Status)

	projects, err := f.engine.ListProjects(ctx, f.admin, ProjectQuery{})
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestRespondRequiresTargetClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.issue(t, "Landing Page")

	_, _, err := f.engine.RespondToRequest(ctx, f.other, r.ID, DecisionAccept, "")
	require.ErrorIs(t, err, ErrAuthorization)

	_, _, err = f.engine.RespondToRequest(ctx, f.client, r.ID, Decision("maybe"), "")
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = f.engine.RespondToRequest(ctx, f.client, "missing", DecisionAccept, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRequestsAreScopedAndRedacted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.issue(t, "Landing Page")

	mine, err := f.engine.ListRequests(ctx, f.client, RequestQuery{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Empty(t, mine[0].AdminNotes)

	theirs, err := f.engine.ListRequests(ctx, f.other, RequestQuery{})
	require.NoError(t, err)
	assert.Empty(t, theirs)

	_, err = f.engine.GetRequest(ctx, f.other, r.ID)
	require.ErrorIs(t, err, ErrNotFound)

	full, err := f.engine.GetRequest(ctx, f.admin, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "rush if possible", full.AdminNotes)
}

func TestResolvedRequestOnlyTakesNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.issue(t, "Landing Page")
	_, _, err := f.engine.RespondToRequest(ctx, f.client, r.ID, DecisionDecline, "")
	require.NoError(t, err)

	annotated, err := f.engine.AnnotateRequest(ctx, f.admin, r.ID, "follow up in Q3")
	require.NoError(t, err)
	assert.Equal(t, "follow up in Q3", annotated.AdminNotes)
	assert.Equal(t, RequestDeclined, annotated.Status)

	require.NoError(t, f.engine.RemoveRequest(ctx, f.admin, r.ID))
	require.ErrorIs(t, f.engine.RemoveRequest(ctx, f.admin, r.ID), ErrNotFound)
}

func TestCreateProjectStartsPending(t *testing.T) {
	f := newFixture(t)
	p, err := f.engine.CreateProject(context.Background(), f.admin, ProjectInput{
		ClientID:    f.client.ID(),
		Title:       "SEO pass",
		ProjectType: "seo-optimization",
	})
	require.NoError(t, err)
	assert.Equal(t, ProjectPending, p.Status)
	assert.Equal(t, f.admin.ID(), p.AdminID)
	assert.Empty(t, p.RequestID)
	require.NotNil(t, p.EstimatedHours)
	assert.Equal(t, 15, *p.EstimatedHours)

	_, err = f.engine.CreateProject(context.Background(), f.admin, ProjectInput{ClientID: f.client.ID()})
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdateProgressClampsPercentage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activeProject(t)

	for input, want := range map[int]int{150: 100, -5: 0, 42: 42} {
		v := input
		updated, err := f.engine.UpdateProgress(ctx, f.admin, p.ID, ProgressUpdate{CompletionPercentage: &v})
		require.NoError(t, err)
		assert.Equal(t, want, updated.CompletionPercentage, "input %d", input)
	}

	_, err := f.engine.UpdateProgress(ctx, f.admin, p.ID, ProgressUpdate{HoursWorked: intp(-3)})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.engine.UpdateProgress(ctx, f.admin, p.ID, ProgressUpdate{})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.engine.UpdateProgress(ctx, f.client, p.ID, ProgressUpdate{HoursWorked: intp(3)})
	require.ErrorIs(t, err, ErrAuthorization)
}

func TestUpdateProgressFollowsTransitionTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.engine.CreateProject(ctx, f.admin, ProjectInput{ClientID: f.client.ID(), Title: "Direct"})
	require.NoError(t, err)

	completed := ProjectCompleted
	_, err = f.engine.UpdateProgress(ctx, f.admin, p.ID, ProgressUpdate{Status: &completed})
	require.ErrorIs(t, err, ErrInvalidState, "pending cannot skip in_progress")

	inProgress := ProjectInProgress
	_, err = f.engine.UpdateProgress(ctx, f.admin, p.ID, ProgressUpdate{Status: &inProgress})
	require.NoError(t, err)
	done, err := f.engine.UpdateProgress(ctx, f.admin, p.ID, ProgressUpdate{Status: &completed, Notes: strp("shipped")})
	require.NoError(t, err)
	assert.Equal(t, ProjectCompleted, done.Status)

	_, err = f.engine.UpdateProgress(ctx, f.admin, p.ID, ProgressUpdate{HoursWorked: intp(5)})
	require.ErrorIs(t, err, ErrInvalidState, "completed is terminal")

	bogus := ProjectStatus("archived")
	_, err = f.engine.UpdateProgress(ctx, f.admin, p.ID, ProgressUpdate{Status: &bogus})
	require.ErrorIs(t, err, ErrValidation)
}

func strp(s string) *string { return &s }

func TestUpdateProgressExpectedVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activeProject(t)

	updated, err := f.engine.UpdateProgress(ctx, f.admin, p.ID, ProgressUpdate{HoursWorked: intp(4), ExpectedVersion: p.Version})
	require.NoError(t, err)
	assert.Equal(t, p.Version+1, updated.Version)

	_, err = f.engine.UpdateProgress(ctx, f.admin, p.ID, ProgressUpdate{HoursWorked: intp(8), ExpectedVersion: p.Version})
	require.ErrorIs(t, err, ErrInvalidState)

	// without a version the write is last-write-wins
	last, err := f.engine.UpdateProgress(ctx, f.admin, p.ID, ProgressUpdate{HoursWorked: intp(9)})
	require.NoError(t, err)
	assert.Equal(t, 9, last.HoursWorked)
}

func TestProjectReadsAreScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activeProject(t)

	_, err := f.engine.CreateProject(ctx, f.admin, ProjectInput{ClientID: f.other.ID(), Title: "Other"})
	require.NoError(t, err)

	mine, err := f.engine.ListProjects(ctx, f.client, ProjectQuery{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, p.ID, mine[0].ID)

	_, err = f.engine.GetProject(ctx, f.other, p.ID)
	require.ErrorIs(t, err, ErrNotFound)

	queue, err := f.engine.ListProjects(ctx, f.admin, ProjectQuery{Mine: true})
	require.NoError(t, err)
	assert.Len(t, queue, 2)
}

func TestPaymentLifecycleEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.IssueRequest(ctx, f.admin, RequestInput{
		ClientID:      f.client.ID(),
		Title:         "Landing Page",
		EstimatedCost: cost(20000),
	})
	require.NoError(t, err)

	_, project, err := f.engine.RespondToRequest(ctx, f.client, r.ID, DecisionAccept, "")
	require.NoError(t, err)
	assert.Equal(t, "Landing Page", project.Title)
	assert.Equal(t, ProjectInProgress, project.Status)
	assert.True(t, project.EstimatedCost.Decimal.Equal(decimal.NewFromInt(20000)))

	payment, err := f.engine.RequestPayment(ctx, f.admin, PaymentInput{ProjectID: project.ID, Amount: decimal.NewFromInt(10000)})
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, payment.Status)
	assert.Equal(t, f.client.ID(), payment.UserID)
	assert.Equal(t, "Payment request for Landing Page", payment.Description)
	assert.Equal(t, Currency, payment.Currency)
	assert.Regexp(t, `^REF-\d+-[0-9A-Z]{6}$`, payment.ReferenceNumber)

	paid, err := f.engine.Pay(ctx, f.client, payment.ID, MethodCard)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, paid.Status)
	assert.Equal(t, MethodCard, paid.PaymentMethod)
	assert.Regexp(t, `^TXN\d+-[0-9A-Z]{6}$`, paid.TransactionID)
	assert.NotNil(t, paid.PaidAt)
	assert.False(t, paid.AdminConfirmed)

	confirmed, err := f.engine.ConfirmPayment(ctx, f.admin, payment.ID)
	require.NoError(t, err)
	assert.True(t, confirmed.AdminConfirmed)

	_, err = f.engine.ConfirmPayment(ctx, f.admin, payment.ID)
	require.ErrorIs(t, err, ErrInvalidState)
	still, err := f.engine.GetPayment(ctx, f.admin, payment.ID)
	require.NoError(t, err)
	assert.True(t, still.AdminConfirmed)

	totals, err := f.engine.Totals(ctx, f.client)
	require.NoError(t, err)
	assert.True(t, totals.Paid.GreaterThanOrEqual(decimal.NewFromInt(10000)))
}

func TestConfirmRequiresPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activeProject(t)
	payment, err := f.engine.RequestPayment(ctx, f.admin, PaymentInput{ProjectID: p.ID, Amount: decimal.NewFromInt(500)})
	require.NoError(t, err)

	_, err = f.engine.ConfirmPayment(ctx, f.admin, payment.ID)
	require.ErrorIs(t, err, ErrInvalidState)
	got, err := f.engine.GetPayment(ctx, f.admin, payment.ID)
	require.NoError(t, err)
	assert.False(t, got.AdminConfirmed)
}

func TestPayRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activeProject(t)
	payment, err := f.engine.RequestPayment(ctx, f.admin, PaymentInput{ProjectID: p.ID, Amount: decimal.NewFromInt(500)})
	require.NoError(t, err)

	_, err = f.engine.Pay(ctx, f.other, payment.ID, MethodUPI)
	require.ErrorIs(t, err, ErrAuthorization)

	got, err := f.engine.GetPayment(ctx, f.admin, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, got.Status)

	_, err = f.engine.Pay(ctx, f.client, payment.ID, Method("cash"))
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.engine.Pay(ctx, f.client, payment.ID, MethodUPI)
	require.NoError(t, err)
	_, err = f.engine.Pay(ctx, f.client, payment.ID, MethodUPI)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestProcessorFailureLeavesPaymentPending(t *testing.T) {
	processor := settlement.NewSimulated(settlement.WithDecline(func(settlement.Charge) bool { return true }))
	f := newFixture(t, WithProcessor(processor))
	ctx := context.Background()
	p := f.activeProject(t)
	payment, err := f.engine.RequestPayment(ctx, f.admin, PaymentInput{ProjectID: p.ID, Amount: decimal.NewFromInt(500)})
	require.NoError(t, err)

	_, err = f.engine.Pay(ctx, f.client, payment.ID, MethodCard)
	require.ErrorIs(t, err, ErrProcessing)
	require.ErrorIs(t, err, settlement.ErrDeclined)
	assert.Equal(t, "processing", Kind(err))

	got, err := f.engine.GetPayment(ctx, f.client, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, got.Status)
	assert.Empty(t, got.TransactionID)
}

func TestRequestPaymentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activeProject(t)

	for _, amount := range []string{"0", "-5", "0.001", "10.005"} {
		_, err := f.engine.RequestPayment(ctx, f.admin, PaymentInput{ProjectID: p.ID, Amount: decimal.RequireFromString(amount)})
		require.ErrorIs(t, err, ErrValidation, amount)
	}
	payments, err := f.engine.ListPayments(ctx, f.admin, PaymentQuery{})
	require.NoError(t, err)
	assert.Empty(t, payments)

	ok, err := f.engine.RequestPayment(ctx, f.admin, PaymentInput{ProjectID: p.ID, Amount: decimal.RequireFromString("0.01")})
	require.NoError(t, err)
	assert.True(t, ok.Amount.IsPositive())

	_, err = f.engine.RequestPayment(ctx, f.admin, PaymentInput{ProjectID: "missing", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.engine.RequestPayment(ctx, f.client, PaymentInput{ProjectID: p.ID, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrAuthorization)

	cancelled := ProjectCancelled
	_, err = f.engine.UpdateProgress(ctx, f.admin, p.ID, ProgressUpdate{Status: &cancelled})
	require.NoError(t, err)
	_, err = f.engine.RequestPayment(ctx, f.admin, PaymentInput{ProjectID: p.ID, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestComputeTotals(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)
	payments := []Payment{
		{Amount: decimal.NewFromInt(100), Status: PaymentPending, DueDate: &tomorrow},
		{Amount: decimal.NewFromInt(250), Status: PaymentPaid},
		{Amount: decimal.NewFromInt(75), Status: PaymentPending, DueDate: &yesterday},
		{Amount: decimal.NewFromInt(999), Status: PaymentFailed, DueDate: &yesterday},
	}
	totals := ComputeTotals(payments, now)
	assert.True(t, totals.Paid.Equal(decimal.NewFromInt(250)), totals.Paid.String())
	assert.True(t, totals.Pending.Equal(decimal.NewFromInt(175)), totals.Pending.String())
	assert.True(t, totals.Overdue.Equal(decimal.NewFromInt(75)), totals.Overdue.String())
	assert.Equal(t, "INR", totals.Currency)
}
