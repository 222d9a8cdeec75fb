package view

import (
	"encoding/json"
	"sort"
	"time"

	"levra.org/internal/lifecycle"
	"levra.org/internal/stream"
)

// Snapshot is the last known-good state a view renders. A collection whose
// latest read failed keeps its previous rows and is listed in Stale.
type Snapshot struct {
	Requests  []lifecycle.ProjectRequest `json:"requests"`
	Projects  []lifecycle.Project        `json:"projects"`
	Payments  []lifecycle.Payment        `json:"payments"`
	Totals    lifecycle.Totals           `json:"totals"`
	Stale     []string                   `json:"stale,omitempty"`
	Revision  uint64                     `json:"revision"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Project looks up a project by id. Payments may reference a project the
// view has not loaded yet; callers must handle ok == false.
func (s Snapshot) Project(id string) (lifecycle.Project, bool) {
	for _, p := range s.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return lifecycle.Project{}, false
}

// PaymentRow joins a payment with its project title for rendering.
type PaymentRow struct {
	lifecycle.Payment
	ProjectTitle string `json:"project_title"`
	Dangling     bool   `json:"dangling,omitempty"`
}

// PaymentRows joins every payment with its project, marking payments whose
// project is not (yet) visible.
func (s Snapshot) PaymentRows() []PaymentRow {
	rows := make([]PaymentRow, 0, len(s.Payments))
	for _, p := range s.Payments {
		row := PaymentRow{Payment: p}
		if project, ok := s.Project(p.ProjectID); ok {
			row.ProjectTitle = project.Title
		} else {
			row.Dangling = true
		}
		rows = append(rows, row)
	}
	return rows
}

func (s Snapshot) IsStale(collection string) bool {
	for _, c := range s.Stale {
		if c == collection {
			return true
		}
	}
	return false
}

func (s *Snapshot) markStale(collection string, stale bool) {
	out := s.Stale[:0:0]
	for _, c := range s.Stale {
		if c != collection {
			out = append(out, c)
		}
	}
	if stale {
		out = append(out, collection)
		sort.Strings(out)
	}
	s.Stale = out
}

func (s Snapshot) clone() Snapshot {
	s.Requests = append([]lifecycle.ProjectRequest(nil), s.Requests...)
	s.Projects = append([]lifecycle.Project(nil), s.Projects...)
	s.Payments = append([]lifecycle.Payment(nil), s.Payments...)
	s.Stale = append([]string(nil), s.Stale...)
	return s
}

// apply patches one change into the snapshot. It reports false when the
// change cannot be applied locally (no payload, undecodable row, update
// for a row the snapshot never saw) and a full re-read is needed.
func (s *Snapshot) apply(c stream.Change, redact bool) bool {
	switch c.Collection {
	case lifecycle.CollectionRequests:
		out, ok := patch(s.Requests, c, func(r lifecycle.ProjectRequest) string { return r.ID },
			func(r lifecycle.ProjectRequest) (time.Time, string) { return r.CreatedAt, r.ID })
		if !ok {
			return false
		}
		if redact {
			for i := range out {
				out[i] = lifecycle.RedactForClient(out[i])
			}
		}
		s.Requests = out
	case lifecycle.CollectionProjects:
		out, ok := patch(s.Projects, c, func(p lifecycle.Project) string { return p.ID },
			func(p lifecycle.Project) (time.Time, string) { return p.CreatedAt, p.ID })
		if !ok {
			return false
		}
		s.Projects = out
	case lifecycle.CollectionPayments:
		out, ok := patch(s.Payments, c, func(p lifecycle.Payment) string { return p.ID },
			func(p lifecycle.Payment) (time.Time, string) { return p.CreatedAt, p.ID })
		if !ok {
			return false
		}
		s.Payments = out
	default:
		return false
	}
	return true
}

func patch[T any](rows []T, c stream.Change, id func(T) string, order func(T) (time.Time, string)) ([]T, bool) {
	idx := -1
	for i, r := range rows {
		if id(r) == c.ID {
			idx = i
			break
		}
	}
	out := append([]T(nil), rows...)

	if c.Kind == stream.Delete {
		if idx >= 0 {
			out = append(out[:idx], out[idx+1:]...)
		}
		return out, true
	}
	if len(c.Row) == 0 {
		return nil, false
	}
	var row T
	if err := json.Unmarshal(c.Row, &row); err != nil || id(row) != c.ID {
		return nil, false
	}
	switch {
	case idx >= 0:
		out[idx] = row
	case c.Kind == stream.Update:
		return nil, false
	default:
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aid := order(out[i])
		bi, bid := order(out[j])
		if !ai.Equal(bi) {
			return ai.After(bi)
		}
		return aid > bid
	})
	return out, true
}
