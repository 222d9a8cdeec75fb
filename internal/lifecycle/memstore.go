package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"

	"levra.org/internal/stream"
)

// MemoryStore implements Store and AtomicAcceptor in-process and publishes
// every committed write to its Publisher.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]ProjectRequest
	projects map[string]Project
	payments map[string]Payment
	pub      stream.Publisher
	now      func() time.Time
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ AtomicAcceptor = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store. pub may be nil.
func NewMemoryStore(pub stream.Publisher) *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]ProjectRequest),
		projects: make(map[string]Project),
		payments: make(map[string]Payment),
		pub:      pub,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) publish(changes ...stream.Change) {
	if s.pub == nil {
		return
	}
	for _, c := range changes {
		s.pub.Publish(c)
	}
}

// RequestChange, ProjectChange and PaymentChange build the stream event for
// a committed write, keyed by the owning client.
func RequestChange(kind stream.Kind, r ProjectRequest) stream.Change {
	return stream.NewChange(CollectionRequests, kind, r.ID, r.UserID, r)
}

func ProjectChange(kind stream.Kind, p Project) stream.Change {
	return stream.NewChange(CollectionProjects, kind, p.ID, p.UserID, p)
}

func PaymentChange(kind stream.Kind, p Payment) stream.Change {
	return stream.NewChange(CollectionPayments, kind, p.ID, p.UserID, p)
}

func (s *MemoryStore) InsertRequest(ctx context.Context, r ProjectRequest) (ProjectRequest, error) {
	s.mu.Lock()
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	s.requests[r.ID] = r
	s.mu.Unlock()
	s.publish(RequestChange(stream.Insert, r))
	return r, nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, id string) (ProjectRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return ProjectRequest{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) ListRequests(ctx context.Context, f RequestFilter) ([]ProjectRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProjectRequest, 0, len(s.requests))
	for _, r := range s.requests {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.AdminID != "" && r.AdminID != f.AdminID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *MemoryStore) ResolveRequest(ctx context.Context, id string, status RequestStatus, at time.Time, message string) (ProjectRequest, error) {
	s.mu.Lock()
	r, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return ProjectRequest{}, ErrNotFound
	}
	if r.Status != RequestPending {
		s.mu.Unlock()
		return ProjectRequest{}, ErrStale
	}
	r = resolved(r, status, at, message, s.now())
	s.requests[id] = r
	s.mu.Unlock()
	s.publish(RequestChange(stream.Update, r))
	return r, nil
}

func resolved(r ProjectRequest, status RequestStatus, at time.Time, message string, now time.Time) ProjectRequest {
	r.Status = status
	stamp := at
	r.RespondedAt = &stamp
	r.ResponseMessage = message
	r.UpdatedAt = now
	return r
}

func (s *MemoryStore) AnnotateRequest(ctx context.Context, id, notes string) (ProjectRequest, error) {
	s.mu.Lock()
	r, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return ProjectRequest{}, ErrNotFound
	}
	r.AdminNotes = notes
	r.UpdatedAt = s.now()
	s.requests[id] = r
	s.mu.Unlock()
	s.publish(RequestChange(stream.Update, r))
	return r, nil
}

func (s *MemoryStore) DeleteRequest(ctx context.Context, id string) error {
	s.mu.Lock()
	r, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.requests, id)
	s.mu.Unlock()
	s.publish(stream.NewChange(CollectionRequests, stream.Delete, r.ID, r.UserID, nil))
	return nil
}

func (s *MemoryStore) InsertProject(ctx context.Context, p Project) (Project, error) {
	s.mu.Lock()
	p, err := s.insertProjectLocked(p)
	s.mu.Unlock()
	if err != nil {
		return Project{}, err
	}
	s.publish(ProjectChange(stream.Insert, p))
	return p, nil
}

func (s *MemoryStore) insertProjectLocked(p Project) (Project, error) {
	if p.RequestID != "" {
		for _, existing := range s.projects {
			if existing.RequestID == p.RequestID {
				return Project{}, ErrStale
			}
		}
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Version == 0 {
		p.Version = 1
	}
	s.projects[p.ID] = p
	return p, nil
}

func (s *MemoryStore) GetProject(ctx context.Context, id string) (Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListProjects(ctx context.Context, f ProjectFilter) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Project, 0, len(s.projects))
	for _, p := range s.projects {
		if f.UserID != "" && p.UserID != f.UserID {
			continue
		}
		if f.AdminID != "" && p.AdminID != f.AdminID {
			continue
		}
		if f.RequestID != "" && p.RequestID != f.RequestID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *MemoryStore) UpdateProject(ctx context.Context, p Project, expectedVersion int64) (Project, error) {
	s.mu.Lock()
	cur, ok := s.projects[p.ID]
	if !ok {
		s.mu.Unlock()
		return Project{}, ErrNotFound
	}
	if cur.Version != expectedVersion {
		s.mu.Unlock()
		return Project{}, ErrStale
	}
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = s.now()
	p.Version = expectedVersion + 1
	s.projects[p.ID] = p
	s.mu.Unlock()
	s.publish(ProjectChange(stream.Update, p))
	return p, nil
}

func (s *MemoryStore) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	s.mu.Lock()
	if _, ok := s.projects[p.ProjectID]; !ok {
		s.mu.Unlock()
		return Payment{}, ErrNotFound
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.payments[p.ID] = p
	s.mu.Unlock()
	s.publish(PaymentChange(stream.Insert, p))
	return p, nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, id string) (Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Payment, 0, len(s.payments))
	for _, p := range s.payments {
		if f.UserID != "" && p.UserID != f.UserID {
			continue
		}
		if f.ProjectID != "" && p.ProjectID != f.ProjectID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *MemoryStore) MarkPaid(ctx context.Context, id string, at time.Time, method Method, transactionID string) (Payment, error) {
	return s.mutatePayment(id, func(p *Payment) bool {
		if p.Status != PaymentPending {
			return false
		}
		paid := at
		p.Status = PaymentPaid
		p.PaidAt = &paid
		p.PaymentMethod = method
		p.TransactionID = transactionID
		return true
	})
}

func (s *MemoryStore) MarkConfirmed(ctx context.Context, id string, at time.Time) (Payment, error) {
	return s.mutatePayment(id, func(p *Payment) bool {
		if p.Status != PaymentPaid || p.AdminConfirmed {
			return false
		}
		confirmed := at
		p.AdminConfirmed = true
		p.ConfirmedAt = &confirmed
		return true
	})
}

func (s *MemoryStore) FailPayment(ctx context.Context, id string, at time.Time) (Payment, error) {
	return s.mutatePayment(id, func(p *Payment) bool {
		if p.Status != PaymentPending {
			return false
		}
		p.Status = PaymentFailed
		return true
	})
}

func (s *MemoryStore) mutatePayment(id string, apply func(p *Payment) bool) (Payment, error) {
	s.mu.Lock()
	p, ok := s.payments[id]
	if !ok {
		s.mu.Unlock()
		return Payment{}, ErrNotFound
	}
	if !apply(&p) {
		s.mu.Unlock()
		return Payment{}, ErrStale
	}
	p.UpdatedAt = s.now()
	s.payments[id] = p
	s.mu.Unlock()
	s.publish(PaymentChange(stream.Update, p))
	return p, nil
}

// AcceptRequest spawns p and stamps the request accepted under one lock.
func (s *MemoryStore) AcceptRequest(ctx context.Context, requestID string, at time.Time, message string, p Project) (ProjectRequest, Project, error) {
	s.mu.Lock()
	r, ok := s.requests[requestID]
	if !ok {
		s.mu.Unlock()
		return ProjectRequest{}, Project{}, ErrNotFound
	}
	if r.Status != RequestPending {
		s.mu.Unlock()
		return ProjectRequest{}, Project{}, ErrStale
	}
	p.RequestID = requestID
	p, err := s.insertProjectLocked(p)
	if err != nil {
		s.mu.Unlock()
		return ProjectRequest{}, Project{}, err
	}
	r = resolved(r, RequestAccepted, at, message, s.now())
	s.requests[requestID] = r
	s.mu.Unlock()
	s.publish(ProjectChange(stream.Insert, p), RequestChange(stream.Update, r))
	return r, p, nil
}

func newerFirst(a, b time.Time, aid, bid string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return aid > bid
}
