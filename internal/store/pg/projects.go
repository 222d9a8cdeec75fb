package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"

	"levra.org/internal/lifecycle"
	"levra.org/internal/stream"
)

const projectColumns = `id, user_id, admin_id, coalesce(request_id, ''), title, description, project_type, status,
	hours_worked, estimated_hours, estimated_cost, completion_percentage, notes, version, created_at, updated_at`

func scanProject(row scanner) (lifecycle.Project, error) {
	var (
		p     lifecycle.Project
		hours sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.AdminID, &p.RequestID, &p.Title, &p.Description, &p.ProjectType, &p.Status,
		&p.HoursWorked, &hours, &p.EstimatedCost, &p.CompletionPercentage, &p.Notes, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return lifecycle.Project{}, err
	}
	p.EstimatedHours = intPtr(hours)
	return p, nil
}

func (s *Store) InsertProject(ctx context.Context, p lifecycle.Project) (lifecycle.Project, error) {
	out, err := insertProject(ctx, s.db, p)
	if err != nil {
		return lifecycle.Project{}, mapErr("insert project", err)
	}
	s.publish(lifecycle.ProjectChange(stream.Insert, out))
	return out, nil
}

func insertProject(ctx context.Context, q querier, p lifecycle.Project) (lifecycle.Project, error) {
	return scanProject(q.QueryRowContext(ctx, `
		insert into projects (id, user_id, admin_id, request_id, title, description, project_type, status,
			hours_worked, estimated_hours, estimated_cost, completion_percentage, notes, version)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
		returning `+projectColumns,
		p.ID, p.UserID, p.AdminID, nullString(p.RequestID), p.Title, p.Description, p.ProjectType, string(p.Status),
		p.HoursWorked, nullInt(p.EstimatedHours), p.EstimatedCost, p.CompletionPercentage, p.Notes))
}

func (s *Store) GetProject(ctx context.Context, id string) (lifecycle.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, `select `+projectColumns+` from projects where id = $1`, id))
	if err != nil {
		return lifecycle.Project{}, mapErr("get project", err)
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, f lifecycle.ProjectFilter) ([]lifecycle.Project, error) {
	const op = "list projects"
	var w filter
	w.eq("user_id", f.UserID)
	w.eq("admin_id", f.AdminID)
	w.eq("request_id", f.RequestID)
	w.eq("status", string(f.Status))
	rows, err := s.db.QueryContext(ctx, `select `+projectColumns+` from projects`+w.where()+
		` order by created_at desc, id desc`, w.args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()

	out := []lifecycle.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
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

// UpdateProject writes the mutable project fields when the stored version
// still equals expectedVersion.
func (s *Store) UpdateProject(ctx context.Context, p lifecycle.Project, expectedVersion int64) (lifecycle.Project, error) {
	const op = "update project"
	out, err := scanProject(s.db.QueryRowContext(ctx, `
		update projects
		set title = $3, description = $4, status = $5, hours_worked = $6, completion_percentage = $7,
			notes = $8, version = version + 1, updated_at = now()
		where id = $1 and version = $2
		returning `+projectColumns,
		p.ID, expectedVersion, p.Title, p.Description, string(p.Status), p.HoursWorked, p.CompletionPercentage, p.Notes))
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Project{}, staleOrMissing(ctx, s.db, op, "projects", p.ID)
	}
	if err != nil {
		return lifecycle.Project{}, mapErr(op, err)
	}
	s.publish(lifecycle.ProjectChange(stream.Update, out))
	return out, nil
}

// AcceptRequest locks the pending request, spawns p and stamps the request
// accepted in one transaction.
func (s *Store) AcceptRequest(ctx context.Context, requestID string, at time.Time, message string, p lifecycle.Project) (lifecycle.ProjectRequest, lifecycle.Project, error) {
	const op = "accept request"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lifecycle.ProjectRequest{}, lifecycle.Project{}, mapErr(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `select status from project_requests where id = $1 for update`, requestID).Scan(&status)
	if err != nil {
		return lifecycle.ProjectRequest{}, lifecycle.Project{}, mapErr(op, err)
	}
	if lifecycle.RequestStatus(status) != lifecycle.RequestPending {
		return lifecycle.ProjectRequest{}, lifecycle.Project{}, errors.Wrap(lifecycle.ErrStale, op)
	}

	p.RequestID = requestID
	project, err := insertProject(ctx, tx, p)
	if err != nil {
		return lifecycle.ProjectRequest{}, lifecycle.Project{}, mapErr(op, err)
	}
	request, err := resolveRequest(ctx, tx, op, requestID, lifecycle.RequestAccepted, at, message)
	if err != nil {
		return lifecycle.ProjectRequest{}, lifecycle.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return lifecycle.ProjectRequest{}, lifecycle.Project{}, mapErr(op, err)
	}
	s.publish(lifecycle.ProjectChange(stream.Insert, project), lifecycle.RequestChange(stream.Update, request))
	return request, project, nil
}
