package lifecycle

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"levra.org/internal/ids"
)

// RequestInput is an administrator proposal addressed to one client.
type RequestInput struct {
	ClientID       string
	Title          string
	Description    string
	ProjectType    string
	EstimatedHours *int
	EstimatedCost  decimal.NullDecimal
	AdminNotes     string
}

type RequestQuery struct {
	Status RequestStatus
}

// IssueRequest creates a pending request. Unknown project types are kept
// as free text; known ones fill in missing estimates from the catalog.
func (e *Engine) IssueRequest(ctx context.Context, a Actor, in RequestInput) (_ ProjectRequest, err error) {
	const op = "IssueRequest"
	defer e.observe(op, &err)

	if err := e.requireAdmin(ctx, op, a); err != nil {
		return ProjectRequest{}, err
	}
	in.ClientID = strings.TrimSpace(in.ClientID)
	in.Title = strings.TrimSpace(in.Title)
	in.ProjectType = strings.TrimSpace(in.ProjectType)
	if in.ClientID == "" {
		return ProjectRequest{}, validation(op, "client is required")
	}
	if in.Title == "" {
		return ProjectRequest{}, validation(op, "title is required")
	}
	if err := validateEstimates(op, in.EstimatedHours, in.EstimatedCost); err != nil {
		return ProjectRequest{}, err
	}
	hours, cost := e.defaultEstimates(in.ProjectType, in.EstimatedHours, in.EstimatedCost)

	r := ProjectRequest{
		ID:             ids.New(),
		AdminID:        a.id,
		UserID:         in.ClientID,
		Title:          in.Title,
		Description:    strings.TrimSpace(in.Description),
		ProjectType:    in.ProjectType,
		EstimatedHours: hours,
		EstimatedCost:  cost,
		AdminNotes:     strings.TrimSpace(in.AdminNotes),
		Status:         RequestPending,
	}
	created, err := e.store.InsertRequest(ctx, r)
	if err != nil {
		return ProjectRequest{}, storeErr(op, "request", r.ID, err)
	}
	e.hooks.RequestIssued(ctx, created)
	return created, nil
}

// RespondToRequest records the target client's decision. Accepting spawns
// exactly one in-progress project through the shared creation path.
func (e *Engine) RespondToRequest(ctx context.Context, a Actor, requestID string, d Decision, message string) (_ ProjectRequest, _ *Project, err error) {
	const op = "RespondToRequest"
	defer e.observe(op, &err)

	if err := requireIdentity(op, a); err != nil {
		return ProjectRequest{}, nil, err
	}
	if !d.Valid() {
		return ProjectRequest{}, nil, validation(op, "decision must be accept or decline")
	}
	r, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return ProjectRequest{}, nil, storeErr(op, "request", requestID, err)
	}
	if r.UserID != a.id {
		return ProjectRequest{}, nil, unauthorized(op, "request is addressed to another client")
	}
	if r.Status != RequestPending {
		return ProjectRequest{}, nil, invalidState(op, "request", r.ID, "already %s", r.Status)
	}
	message = strings.TrimSpace(message)
	now := e.now()

	if d == DecisionDecline {
		out, err := e.store.ResolveRequest(ctx, r.ID, RequestDeclined, now, message)
		if err != nil {
			return ProjectRequest{}, nil, storeErr(op, "request", r.ID, err)
		}
		return RedactForClient(out), nil, nil
	}

	draft := projectDraft{
		ownerID:     r.UserID,
		adminID:     r.AdminID,
		requestID:   r.ID,
		title:       r.Title,
		description: r.Description,
		projectType: r.ProjectType,
		hours:       r.EstimatedHours,
		cost:        r.EstimatedCost,
		status:      ProjectInProgress,
	}
	p, out, err := e.createProject(ctx, op, draft, &acceptance{requestID: r.ID, at: now, message: message})
	if err != nil {
		return ProjectRequest{}, nil, err
	}
	return RedactForClient(out), &p, nil
}

// RemoveRequest hard-deletes a request in any status.
func (e *Engine) RemoveRequest(ctx context.Context, a Actor, requestID string) (err error) {
	const op = "RemoveRequest"
	defer e.observe(op, &err)

	if err := e.requireAdmin(ctx, op, a); err != nil {
		return err
	}
	if err := e.store.DeleteRequest(ctx, requestID); err != nil {
		return storeErr(op, "request", requestID, err)
	}
	return nil
}

// AnnotateRequest replaces the administrator notes, the only field that
// stays writable after a request is resolved.
func (e *Engine) AnnotateRequest(ctx context.Context, a Actor, requestID, notes string) (_ ProjectRequest, err error) {
	const op = "AnnotateRequest"
	defer e.observe(op, &err)

	if err := e.requireAdmin(ctx, op, a); err != nil {
		return ProjectRequest{}, err
	}
	out, err := e.store.AnnotateRequest(ctx, requestID, strings.TrimSpace(notes))
	if err != nil {
		return ProjectRequest{}, storeErr(op, "request", requestID, err)
	}
	return out, nil
}

func (e *Engine) ListRequests(ctx context.Context, a Actor, q RequestQuery) (_ []ProjectRequest, err error) {
	const op = "ListRequests"
	defer e.observe(op, &err)

	if err := requireIdentity(op, a); err != nil {
		return nil, err
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, validation(op, "unknown status %q", q.Status)
	}
	f := RequestFilter{Status: q.Status}
	if !a.admin {
		f.UserID = a.id
	}
	out, err := e.store.ListRequests(ctx, f)
	if err != nil {
		return nil, storeErr(op, "request", "", err)
	}
	if !a.admin {
		for i := range out {
			out[i] = RedactForClient(out[i])
		}
	}
	return out, nil
}

func (e *Engine) GetRequest(ctx context.Context, a Actor, requestID string) (_ ProjectRequest, err error) {
	const op = "GetRequest"
	defer e.observe(op, &err)

	if err := requireIdentity(op, a); err != nil {
		return ProjectRequest{}, err
	}
	r, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return ProjectRequest{}, storeErr(op, "request", requestID, err)
	}
	if a.admin {
		return r, nil
	}
	if r.UserID != a.id {
		return ProjectRequest{}, notFound(op, "request", requestID)
	}
	return RedactForClient(r), nil
}

func validateEstimates(op string, hours *int, cost decimal.NullDecimal) error {
	if hours != nil && *hours < 0 {
		return validation(op, "estimated hours must be >= 0")
	}
	if cost.Valid && cost.Decimal.IsNegative() {
		return validation(op, "estimated cost must be >= 0")
	}
	return nil
}

// defaultEstimates fills both estimates from the catalog when the caller
// supplied neither.
func (e *Engine) defaultEstimates(projectType string, hours *int, cost decimal.NullDecimal) (*int, decimal.NullDecimal) {
	if hours != nil || cost.Valid {
		return hours, cost
	}
	est, ok := e.catalog.Lookup(projectType)
	if !ok {
		return hours, cost
	}
	h := est.Hours
	return &h, decimal.NewNullDecimal(est.Cost)
}
