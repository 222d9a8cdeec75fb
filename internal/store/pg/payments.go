package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"

	"levra.org/internal/lifecycle"
	"levra.org/internal/stream"
)

const paymentColumns = `id, user_id, project_id, amount, currency, description, due_date, status, reference_number,
	paid_at, coalesce(payment_method, ''), transaction_id, admin_confirmed, confirmed_at, created_at, updated_at`

func scanPayment(row scanner) (lifecycle.Payment, error) {
	var (
		p                      lifecycle.Payment
		due, paid, confirmedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.ProjectID, &p.Amount, &p.Currency, &p.Description, &due, &p.Status,
		&p.ReferenceNumber, &paid, &p.PaymentMethod, &p.TransactionID, &p.AdminConfirmed, &confirmedAt,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return lifecycle.Payment{}, err
	}
	p.DueDate = timePtr(due)
	p.PaidAt = timePtr(paid)
	p.ConfirmedAt = timePtr(confirmedAt)
	return p, nil
}

func (s *Store) InsertPayment(ctx context.Context, p lifecycle.Payment) (lifecycle.Payment, error) {
	out, err := scanPayment(s.db.QueryRowContext(ctx, `
		insert into project_payments (id, user_id, project_id, amount, currency, description, due_date,
			status, reference_number)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+paymentColumns,
		p.ID, p.UserID, p.ProjectID, p.Amount, p.Currency, p.Description, nullTime(p.DueDate),
		string(p.Status), p.ReferenceNumber))
	if err != nil {
		return lifecycle.Payment{}, mapErr("insert payment", err)
	}
	s.publish(lifecycle.PaymentChange(stream.Insert, out))
	return out, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (lifecycle.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `select `+paymentColumns+` from project_payments where id = $1`, id))
	if err != nil {
		return lifecycle.Payment{}, mapErr("get payment", err)
	}
	return p, nil
}

func (s *Store) ListPayments(ctx context.Context, f lifecycle.PaymentFilter) ([]lifecycle.Payment, error) {
	const op = "list payments"
	var w filter
	w.eq("user_id", f.UserID)
	w.eq("project_id", f.ProjectID)
	w.eq("status", string(f.Status))
	rows, err := s.db.QueryContext(ctx, `select `+paymentColumns+` from project_payments`+w.where()+
		` order by created_at desc, id desc`, w.args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()

	out := []lifecycle.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, mapErr(op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(op, err)
	}
	return out, nil
}

func (s *Store) MarkPaid(ctx context.Context, id string, at time.Time, method lifecycle.Method, transactionID string) (lifecycle.Payment, error) {
	return s.mutatePayment(ctx, "mark paid", id, `
		update project_payments
		set status = 'paid', paid_at = $2, payment_method = $3, transaction_id = $4, updated_at = now()
		where id = $1 and status = 'pending'
		returning `+paymentColumns, at, string(method), transactionID)
}

func (s *Store) MarkConfirmed(ctx context.Context, id string, at time.Time) (lifecycle.Payment, error) {
	return s.mutatePayment(ctx, "mark confirmed", id, `
		update project_payments
		set admin_confirmed = true, confirmed_at = $2, updated_at = now()
		where id = $1 and status = 'paid' and not admin_confirmed
		returning `+paymentColumns, at)
}

func (s *Store) FailPayment(ctx context.Context, id string, at time.Time) (lifecycle.Payment, error) {
	return s.mutatePayment(ctx, "fail payment", id, `
		update project_payments
		set status = 'failed', updated_at = $2
		where id = $1 and status = 'pending'
		returning `+paymentColumns, at)
}

func (s *Store) mutatePayment(ctx context.Context, op, id, query string, args ...any) (lifecycle.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, query, append([]any{id}, args...)...))
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Payment{}, staleOrMissing(ctx, s.db, op, "project_payments", id)
	}
	if err != nil {
		return lifecycle.Payment{}, mapErr(op, err)
	}
	s.publish(lifecycle.PaymentChange(stream.Update, p))
	return p, nil
}
