package lifecycle

import (
	"context"
	"errors"
	"strings"
)

// ReconcileReport lists requests re-stamped as accepted.
type ReconcileReport struct {
	Repaired []string `json:"repaired"`
}

// Reconcile repairs accept cascades interrupted between the project insert
// and the request update: a pending request that already has a spawned
// project is stamped accepted. Running it twice is a no-op.
func (e *Engine) Reconcile(ctx context.Context, a Actor) (_ ReconcileReport, err error) {
	const op = "Reconcile"
	defer e.observe(op, &err)

	if err := e.requireAdmin(ctx, op, a); err != nil {
		return ReconcileReport{}, err
	}
	pending, err := e.store.ListRequests(ctx, RequestFilter{Status: RequestPending})
	if err != nil {
		return ReconcileReport{}, storeErr(op, "request", "", err)
	}
	report := ReconcileReport{Repaired: []string{}}
	for _, r := range pending {
		spawned, err := e.store.ListProjects(ctx, ProjectFilter{RequestID: r.ID})
		if err != nil {
			return report, storeErr(op, "project", "", err)
		}
		if len(spawned) == 0 {
			continue
		}
		_, err = e.store.ResolveRequest(ctx, r.ID, RequestAccepted, spawned[0].CreatedAt, "")
		switch {
		case errors.Is(err, ErrStale), errors.Is(err, ErrNotFound):
			continue
		case err != nil:
			return report, storeErr(op, "request", r.ID, err)
		}
		report.Repaired = append(report.Repaired, r.ID)
		e.log.WithField("request_id", r.ID).WithField("project_id", spawned[0].ID).Info("re-stamped orphaned accept")
	}
	return report, nil
}

// RetireReport lists what RetireClient touched.
type RetireReport struct {
	RequestsRemoved   []string `json:"requests_removed"`
	ProjectsCancelled []string `json:"projects_cancelled"`
	PaymentsFailed    []string `json:"payments_failed"`
}

// RetireClient closes out everything in flight for a client whose identity
// is being removed: pending requests are deleted, open projects cancelled
// and pending payments failed. Settled payments stay as history.
func (e *Engine) RetireClient(ctx context.Context, a Actor, clientID string) (_ RetireReport, err error) {
	const op = "RetireClient"
	defer e.observe(op, &err)

	if err := e.requireAdmin(ctx, op, a); err != nil {
		return RetireReport{}, err
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return RetireReport{}, validation(op, "client is required")
	}
	report := RetireReport{RequestsRemoved: []string{}, ProjectsCancelled: []string{}, PaymentsFailed: []string{}}

	requests, err := e.store.ListRequests(ctx, RequestFilter{UserID: clientID, Status: RequestPending})
	if err != nil {
		return report, storeErr(op, "request", "", err)
	}
	for _, r := range requests {
		if err := e.store.DeleteRequest(ctx, r.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return report, storeErr(op, "request", r.ID, err)
		}
		report.RequestsRemoved = append(report.RequestsRemoved, r.ID)
	}

	projects, err := e.store.ListProjects(ctx, ProjectFilter{UserID: clientID})
	if err != nil {
		return report, storeErr(op, "project", "", err)
	}
	cancelled := ProjectCancelled
	for _, p := range projects {
		if p.Status.Terminal() {
			continue
		}
		if _, err := e.updateProject(ctx, op, p.ID, ProgressUpdate{Status: &cancelled}); err != nil {
			if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) {
				continue
			}
			return report, err
		}
		report.ProjectsCancelled = append(report.ProjectsCancelled, p.ID)
	}

	payments, err := e.store.ListPayments(ctx, PaymentFilter{UserID: clientID, Status: PaymentPending})
	if err != nil {
		return report, storeErr(op, "payment", "", err)
	}
	for _, p := range payments {
		if _, err := e.store.FailPayment(ctx, p.ID, e.now()); err != nil {
			if errors.Is(err, ErrStale) || errors.Is(err, ErrNotFound) {
				continue
			}
			return report, storeErr(op, "payment", p.ID, err)
		}
		report.PaymentsFailed = append(report.PaymentsFailed, p.ID)
	}
	e.log.WithField("client_id", clientID).WithField("cancelled", len(report.ProjectsCancelled)).Info("client retired")
	return report, nil
}
