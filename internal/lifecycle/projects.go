package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"levra.org/internal/ids"
)

// ProjectInput describes a project an administrator opens directly.
type ProjectInput struct {
	ClientID       string
	Title          string
	Description    string
	ProjectType    string
	EstimatedHours *int
	EstimatedCost  decimal.NullDecimal
	Notes          string
}

// ProgressUpdate is a partial update; nil fields are left untouched.
// ExpectedVersion, when non-zero, turns the write into a compare-and-swap.
type ProgressUpdate struct {
	HoursWorked          *int
	CompletionPercentage *int
	Notes                *string
	Status               *ProjectStatus
	ExpectedVersion      int64
}

func (u ProgressUpdate) empty() bool {
	return u.HoursWorked == nil && u.CompletionPercentage == nil && u.Notes == nil && u.Status == nil
}

type ProjectQuery struct {
	// Mine narrows an administrator's listing to projects assigned to them.
	Mine   bool
	Status ProjectStatus
}

// maxProgressAttempts bounds re-reads when an unversioned update races
// another writer.
const maxProgressAttempts = 3

type projectDraft struct {
	ownerID     string
	adminID     string
	requestID   string
	title       string
	description string
	projectType string
	hours       *int
	cost        decimal.NullDecimal
	notes       string
	status      ProjectStatus
}

func (d projectDraft) validate(op string) error {
	if strings.TrimSpace(d.ownerID) == "" {
		return validation(op, "client is required")
	}
	if strings.TrimSpace(d.title) == "" {
		return validation(op, "title is required")
	}
	if d.status != ProjectPending && d.status != ProjectInProgress {
		return validation(op, "projects start pending or in_progress, not %q", d.status)
	}
	return validateEstimates(op, d.hours, d.cost)
}

type acceptance struct {
	requestID string
	at        time.Time
	message   string
}

// createProject is the single creation path for direct creation and the
// accept cascade. With an acceptance it also stamps the request, in one
// transaction when the store supports it, otherwise project first.
func (e *Engine) createProject(ctx context.Context, op string, d projectDraft, acc *acceptance) (Project, ProjectRequest, error) {
	if err := d.validate(op); err != nil {
		return Project{}, ProjectRequest{}, err
	}
	p := Project{
		ID:             ids.New(),
		UserID:         d.ownerID,
		AdminID:        d.adminID,
		RequestID:      d.requestID,
		Title:          strings.TrimSpace(d.title),
		Description:    strings.TrimSpace(d.description),
		ProjectType:    strings.TrimSpace(d.projectType),
		Status:         d.status,
		EstimatedHours: d.hours,
		EstimatedCost:  d.cost,
		Notes:          strings.TrimSpace(d.notes),
		Version:        1,
	}

	if acc == nil {
		created, err := e.store.InsertProject(ctx, p)
		if err != nil {
			return Project{}, ProjectRequest{}, storeErr(op, "project", p.ID, err)
		}
		return created, ProjectRequest{}, nil
	}

	if atomic, ok := e.store.(AtomicAcceptor); ok {
		r, created, err := atomic.AcceptRequest(ctx, acc.requestID, acc.at, acc.message, p)
		if err != nil {
			return Project{}, ProjectRequest{}, storeErr(op, "request", acc.requestID, err)
		}
		return created, r, nil
	}
	return e.acceptSequential(ctx, op, p, acc)
}

// acceptSequential reuses a project left behind by an earlier interrupted
// accept instead of spawning a second one.
func (e *Engine) acceptSequential(ctx context.Context, op string, p Project, acc *acceptance) (Project, ProjectRequest, error) {
	existing, err := e.store.ListProjects(ctx, ProjectFilter{RequestID: acc.requestID})
	if err != nil {
		return Project{}, ProjectRequest{}, storeErr(op, "project", "", err)
	}
	created := p
	if len(existing) > 0 {
		created = existing[0]
	} else {
		created, err = e.store.InsertProject(ctx, p)
		if err != nil {
			return Project{}, ProjectRequest{}, storeErr(op, "project", p.ID, err)
		}
	}
	r, err := e.store.ResolveRequest(ctx, acc.requestID, RequestAccepted, acc.at, acc.message)
	if err != nil {
		return Project{}, ProjectRequest{}, storeErr(op, "request", acc.requestID, err)
	}
	return created, r, nil
}

// CreateProject opens a pending project with the caller as assignee.
func (e *Engine) CreateProject(ctx context.Context, a Actor, in ProjectInput) (_ Project, err error) {
	const op = "CreateProject"
	defer e.observe(op, &err)

	if err := e.requireAdmin(ctx, op, a); err != nil {
		return Project{}, err
	}
	if err := validateEstimates(op, in.EstimatedHours, in.EstimatedCost); err != nil {
		return Project{}, err
	}
	hours, cost := e.defaultEstimates(in.ProjectType, in.EstimatedHours, in.EstimatedCost)
	p, _, err := e.createProject(ctx, op, projectDraft{
		ownerID:     strings.TrimSpace(in.ClientID),
		adminID:     a.id,
		title:       in.Title,
		description: in.Description,
		projectType: in.ProjectType,
		hours:       hours,
		cost:        cost,
		notes:       in.Notes,
		status:      ProjectPending,
	}, nil)
	return p, err
}

// UpdateProgress applies a partial progress update. The completion
// percentage is clamped to [0,100]; status changes follow the transition
// table and terminal projects reject every update.
func (e *Engine) UpdateProgress(ctx context.Context, a Actor, projectID string, u ProgressUpdate) (_ Project, err error) {
	const op = "UpdateProgress"
	defer e.observe(op, &err)

	if err := e.requireAdmin(ctx, op, a); err != nil {
		return Project{}, err
	}
	return e.updateProject(ctx, op, projectID, u)
}

func (e *Engine) updateProject(ctx context.Context, op, projectID string, u ProgressUpdate) (Project, error) {
	if u.empty() {
		return Project{}, validation(op, "nothing to update")
	}
	if u.HoursWorked != nil && *u.HoursWorked < 0 {
		return Project{}, validation(op, "hours worked must be >= 0")
	}
	if u.Status != nil && !u.Status.Valid() {
		return Project{}, validation(op, "unknown status %q", *u.Status)
	}

	attempts := maxProgressAttempts
	if u.ExpectedVersion != 0 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		cur, err := e.store.GetProject(ctx, projectID)
		if err != nil {
			return Project{}, storeErr(op, "project", projectID, err)
		}
		if u.ExpectedVersion != 0 && cur.Version != u.ExpectedVersion {
			return Project{}, invalidState(op, "project", cur.ID, "version %d is stale, current is %d", u.ExpectedVersion, cur.Version)
		}
		if cur.Status.Terminal() {
			return Project{}, invalidState(op, "project", cur.ID, "project is %s", cur.Status)
		}

		next := cur
		if u.HoursWorked != nil {
			next.HoursWorked = *u.HoursWorked
		}
		if u.CompletionPercentage != nil {
			next.CompletionPercentage = clampPercentage(*u.CompletionPercentage)
		}
		if u.Notes != nil {
			next.Notes = *u.Notes
		}
		if u.Status != nil {
			if !CanTransition(cur.Status, *u.Status) {
				return Project{}, invalidState(op, "project", cur.ID, "cannot move from %s to %s", cur.Status, *u.Status)
			}
			next.Status = *u.Status
		}

		updated, err := e.store.UpdateProject(ctx, next, cur.Version)
		if errors.Is(err, ErrStale) && attempt < attempts {
			continue
		}
		if err != nil {
			return Project{}, storeErr(op, "project", projectID, err)
		}
		return updated, nil
	}
}

func (e *Engine) ListProjects(ctx context.Context, a Actor, q ProjectQuery) (_ []Project, err error) {
	const op = "ListProjects"
	defer e.observe(op, &err)

	if err := requireIdentity(op, a); err != nil {
		return nil, err
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, validation(op, "unknown status %q", q.Status)
	}
	f := ProjectFilter{Status: q.Status}
	switch {
	case !a.admin:
		f.UserID = a.id
	case q.Mine:
		f.AdminID = a.id
	}
	out, err := e.store.ListProjects(ctx, f)
	if err != nil {
		return nil, storeErr(op, "project", "", err)
	}
	return out, nil
}

func (e *Engine) GetProject(ctx context.Context, a Actor, projectID string) (_ Project, err error) {
	const op = "GetProject"
	defer e.observe(op, &err)

	if err := requireIdentity(op, a); err != nil {
		return Project{}, err
	}
	p, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, storeErr(op, "project", projectID, err)
	}
	if !a.admin && p.UserID != a.id {
		return Project{}, notFound(op, "project", projectID)
	}
	return p, nil
}
