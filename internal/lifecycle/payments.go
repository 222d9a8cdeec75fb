package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"levra.org/internal/ids"
	"levra.org/internal/settlement"
)

// PaymentInput requests a charge against a project.
type PaymentInput struct {
	ProjectID   string
	Amount      decimal.Decimal
	Description string
	DueDate     *time.Time
}

type PaymentQuery struct {
	ProjectID string
	Status    PaymentStatus
}

// Totals are the dashboard aggregates over a caller's visible payments.
// Pending includes overdue amounts.
type Totals struct {
	Paid     decimal.Decimal `json:"paid"`
	Pending  decimal.Decimal `json:"pending"`
	Overdue  decimal.Decimal `json:"overdue"`
	Currency string          `json:"currency"`
}

// ComputeTotals sums paid, pending and overdue amounts as of now.
func ComputeTotals(payments []Payment, now time.Time) Totals {
	t := Totals{Paid: decimal.Zero, Pending: decimal.Zero, Overdue: decimal.Zero, Currency: Currency}
	for _, p := range payments {
		switch p.Status {
		case PaymentPaid:
			t.Paid = t.Paid.Add(p.Amount)
		case PaymentPending:
			t.Pending = t.Pending.Add(p.Amount)
			if p.Overdue(now) {
				t.Overdue = t.Overdue.Add(p.Amount)
			}
		}
	}
	return t
}

// RequestPayment opens a pending payment owned by the project's client.
func (e *Engine) RequestPayment(ctx context.Context, a Actor, in PaymentInput) (_ Payment, err error) {
	const op = "RequestPayment"
	defer e.observe(op, &err)

	if err := e.requireAdmin(ctx, op, a); err != nil {
		return Payment{}, err
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return Payment{}, validation(op, "amount must have at most 2 decimal places")
	}
	if !in.Amount.IsPositive() {
		return Payment{}, validation(op, "amount must be > 0")
	}
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	if in.ProjectID == "" {
		return Payment{}, validation(op, "project is required")
	}

	project, err := e.store.GetProject(ctx, in.ProjectID)
	if err != nil {
		return Payment{}, storeErr(op, "project", in.ProjectID, err)
	}
	if project.Status == ProjectCancelled {
		return Payment{}, invalidState(op, "project", project.ID, "project is cancelled")
	}

	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		desc = "Payment request for " + project.Title
	}
	now := e.now()
	p := Payment{
		ID:              ids.New(),
		UserID:          project.UserID,
		ProjectID:       project.ID,
		Amount:          in.Amount,
		Currency:        Currency,
		Description:     desc,
		DueDate:         in.DueDate,
		Status:          PaymentPending,
		ReferenceNumber: ids.Reference(now),
	}
	created, err := e.store.InsertPayment(ctx, p)
	if err != nil {
		return Payment{}, storeErr(op, "payment", p.ID, err)
	}
	return created, nil
}

// Pay settles a pending payment through the processor. The row moves to
// paid only after the processor succeeded; a processor failure leaves it
// pending and surfaces ErrProcessing.
func (e *Engine) Pay(ctx context.Context, a Actor, paymentID string, method Method) (_ Payment, err error) {
	const op = "Pay"
	defer e.observe(op, &err)

	if err := requireIdentity(op, a); err != nil {
		return Payment{}, err
	}
	if !method.Valid() {
		return Payment{}, validation(op, "payment method must be card or upi")
	}
	p, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return Payment{}, storeErr(op, "payment", paymentID, err)
	}
	if p.UserID != a.id {
		return Payment{}, unauthorized(op, "payment belongs to another client")
	}
	if p.Status != PaymentPending {
		return Payment{}, invalidState(op, "payment", p.ID, "payment is %s", p.Status)
	}

	receipt, err := e.processor.Process(ctx, settlement.Charge{
		PaymentID: p.ID,
		Payer:     a.id,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Method:    string(method),
	})
	if err != nil {
		return Payment{}, &Error{Op: op, Kind: ErrProcessing, Entity: "payment", ID: p.ID, Err: err}
	}

	paid, err := e.store.MarkPaid(ctx, p.ID, e.now(), method, receipt.Reference)
	if err != nil {
		return Payment{}, storeErr(op, "payment", p.ID, err)
	}
	e.hooks.PaymentResolved(ctx, paid)
	return paid, nil
}

// ConfirmPayment records the administrator's acknowledgment of a paid payment.
func (e *Engine) ConfirmPayment(ctx context.Context, a Actor, paymentID string) (_ Payment, err error) {
	const op = "ConfirmPayment"
	defer e.observe(op, &err)

	if err := e.requireAdmin(ctx, op, a); err != nil {
		return Payment{}, err
	}
	p, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return Payment{}, storeErr(op, "payment", paymentID, err)
	}
	if p.Status != PaymentPaid {
		return Payment{}, invalidState(op, "payment", p.ID, "payment is %s, not paid", p.Status)
	}
	if p.AdminConfirmed {
		return Payment{}, invalidState(op, "payment", p.ID, "payment already confirmed")
	}
	confirmed, err := e.store.MarkConfirmed(ctx, p.ID, e.now())
	if err != nil {
		return Payment{}, storeErr(op, "payment", p.ID, err)
	}
	e.hooks.PaymentConfirmed(ctx, confirmed)
	return confirmed, nil
}

func (e *Engine) ListPayments(ctx context.Context, a Actor, q PaymentQuery) (_ []Payment, err error) {
	const op = "ListPayments"
	defer e.observe(op, &err)

	if err := requireIdentity(op, a); err != nil {
		return nil, err
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, validation(op, "unknown status %q", q.Status)
	}
	f := PaymentFilter{ProjectID: strings.TrimSpace(q.ProjectID), Status: q.Status}
	if !a.admin {
		f.UserID = a.id
	}
	out, err := e.store.ListPayments(ctx, f)
	if err != nil {
		return nil, storeErr(op, "payment", "", err)
	}
	return out, nil
}

func (e *Engine) GetPayment(ctx context.Context, a Actor, paymentID string) (_ Payment, err error) {
	const op = "GetPayment"
	defer e.observe(op, &err)

	if err := requireIdentity(op, a); err != nil {
		return Payment{}, err
	}
	p, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return Payment{}, storeErr(op, "payment", paymentID, err)
	}
	if !a.admin && p.UserID != a.id {
		return Payment{}, notFound(op, "payment", paymentID)
	}
	return p, nil
}

// Totals aggregates the caller's visible payments.
func (e *Engine) Totals(ctx context.Context, a Actor) (Totals, error) {
	payments, err := e.ListPayments(ctx, a, PaymentQuery{})
	if err != nil {
		return Totals{}, err
	}
	return ComputeTotals(payments, e.now()), nil
}
