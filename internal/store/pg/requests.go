package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"

	"levra.org/internal/lifecycle"
	"levra.org/internal/stream"
)

const requestColumns = `id, admin_id, user_id, title, description, project_type, estimated_hours,
	estimated_cost, admin_notes, status, responded_at, user_response_message, created_at, updated_at`

func scanRequest(row scanner) (lifecycle.ProjectRequest, error) {
	var (
		r         lifecycle.ProjectRequest
		hours     sql.NullInt64
		responded sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.AdminID, &r.UserID, &r.Title, &r.Description, &r.ProjectType, &hours,
		&r.EstimatedCost, &r.AdminNotes, &r.Status, &responded, &r.ResponseMessage, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return lifecycle.ProjectRequest{}, err
	}
	r.EstimatedHours = intPtr(hours)
	r.RespondedAt = timePtr(responded)
	return r, nil
}

func (s *Store) InsertRequest(ctx context.Context, r lifecycle.ProjectRequest) (lifecycle.ProjectRequest, error) {
	const op = "insert request"
	out, err := scanRequest(s.db.QueryRowContext(ctx, `
		insert into project_requests (id, admin_id, user_id, title, description, project_type,
			estimated_hours, estimated_cost, admin_notes, status)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning `+requestColumns,
		r.ID, r.AdminID, r.UserID, r.Title, r.Description, r.ProjectType,
		nullInt(r.EstimatedHours), r.EstimatedCost, r.AdminNotes, string(r.Status)))
	if err != nil {
		return lifecycle.ProjectRequest{}, mapErr(op, err)
	}
	s.publish(lifecycle.RequestChange(stream.Insert, out))
	return out, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (lifecycle.ProjectRequest, error) {
	r, err := scanRequest(s.db.QueryRowContext(ctx, `select `+requestColumns+` from project_requests where id = $1`, id))
	if err != nil {
		return lifecycle.ProjectRequest{}, mapErr("get request", err)
	}
	return r, nil
}

func (s *Store) ListRequests(ctx context.Context, f lifecycle.RequestFilter) ([]lifecycle.ProjectRequest, error) {
	const op = "list requests"
	var w filter
	w.eq("user_id", f.UserID)
	w.eq("admin_id", f.AdminID)
	w.eq("status", string(f.Status))
	rows, err := s.db.QueryContext(ctx, `select `+requestColumns+` from project_requests`+w.where()+
		` order by created_at desc, id desc`, w.args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()

	out := []lifecycle.ProjectRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, mapErr(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(op, err)
	}
	return out, nil
}

func (s *Store) ResolveRequest(ctx context.Context, id string, status lifecycle.RequestStatus, at time.Time, message string) (lifecycle.ProjectRequest, error) {
	const op = "resolve request"
	r, err := resolveRequest(ctx, s.db, op, id, status, at, message)
	if err != nil {
		return lifecycle.ProjectRequest{}, err
	}
	s.publish(lifecycle.RequestChange(stream.Update, r))
	return r, nil
}

func resolveRequest(ctx context.Context, q querier, op, id string, status lifecycle.RequestStatus, at time.Time, message string) (lifecycle.ProjectRequest, error) {
	r, err := scanRequest(q.QueryRowContext(ctx, `
		update project_requests
		set status = $2, responded_at = $3, user_response_message = $4, updated_at = now()
		where id = $1 and status = 'pending'
		returning `+requestColumns, id, string(status), at, message))
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.ProjectRequest{}, staleOrMissing(ctx, q, op, "project_requests", id)
	}
	if err != nil {
		return lifecycle.ProjectRequest{}, mapErr(op, err)
	}
	return r, nil
}

func (s *Store) AnnotateRequest(ctx context.Context, id, notes string) (lifecycle.ProjectRequest, error) {
	r, err := scanRequest(s.db.QueryRowContext(ctx, `
		update project_requests set admin_notes = $2, updated_at = now()
		where id = $1
		returning `+requestColumns, id, notes))
	if err != nil {
		return lifecycle.ProjectRequest{}, mapErr("annotate request", err)
	}
	s.publish(lifecycle.RequestChange(stream.Update, r))
	return r, nil
}

func (s *Store) DeleteRequest(ctx context.Context, id string) error {
	var owner string
	err := s.db.QueryRowContext(ctx, `delete from project_requests where id = $1 returning user_id`, id).Scan(&owner)
	if err != nil {
		return mapErr("delete request", err)
	}
	s.publish(stream.NewChange(lifecycle.CollectionRequests, stream.Delete, id, owner, nil))
	return nil
}
