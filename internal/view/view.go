// Package view keeps an administrator's or a client's picture of the
// lifecycle collections current. Each view subscribes to every collection,
// bulk-reads it, and re-reads (or patches) on every change notification.
package view

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"levra.org/internal/lifecycle"
	"levra.org/internal/obs"
	"levra.org/internal/stream"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Mode selects how a notification is folded into the snapshot.
type Mode int

const (
	// FullReread re-reads the whole collection on every notification.
	FullReread Mode = iota
	// Incremental upserts the row carried in the notification and falls
	// back to a re-read when the row is missing, undecodable or unknown.
	Incremental
)

func (m Mode) String() string {
	if m == Incremental {
		return "incremental"
	}
	return "full"
}

type View struct {
	role    Role
	owner   string
	reader  Reader
	source  stream.Source
	mode    Mode
	backoff *Backoff
	now     func() time.Time
	log     *logrus.Entry

	mu      sync.RWMutex
	snap    Snapshot
	updates chan Snapshot
}

type Option func(*View)

func WithMode(m Mode) Option { return func(v *View) { v.mode = m } }

func WithBackoff(b *Backoff) Option {
	return func(v *View) {
		if b != nil {
			v.backoff = b
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *View) {
		if now != nil {
			v.now = now
		}
	}
}

// NewAdmin observes every row.
func NewAdmin(reader Reader, source stream.Source, opts ...Option) *View {
	return newView(RoleAdmin, "", reader, source, opts)
}

// NewClient observes only rows owned by clientID. Request rows are
// redacted before they reach the snapshot.
func NewClient(clientID string, reader Reader, source stream.Source, opts ...Option) *View {
	return newView(RoleClient, clientID, reader, source, opts)
}

func newView(role Role, owner string, reader Reader, source stream.Source, opts []Option) *View {
	v := &View{
		role:    role,
		owner:   owner,
		reader:  reader,
		source:  source,
		backoff: DefaultBackoff(),
		now:     func() time.Time { return time.Now().UTC() },
		updates: make(chan Snapshot, 1),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = obs.Logger().WithFields(logrus.Fields{"component": "view", "role": string(role), "mode": v.mode.String()})
	v.snap.Totals = lifecycle.ComputeTotals(nil, v.now())
	return v
}

func (v *View) Role() Role { return v.role }

// Snapshot returns a copy of the last known-good state.
func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap.clone()
}

// Updates delivers the latest snapshot after each change. Slow readers
// only ever see the newest one. The channel is closed when Run returns.
func (v *View) Updates() <-chan Snapshot { return v.updates }

// Run follows every collection until ctx ends. It returns nil on
// cancellation and the first non-retryable read error otherwise; in both
// cases all subscriptions are released before it returns.
func (v *View) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(v.updates)

	var (
		wg    sync.WaitGroup
		once  sync.Once
		fatal error
	)
	for _, collection := range lifecycle.Collections {
		wg.Add(1)
		go func(collection string) {
			defer wg.Done()
			if err := v.follow(ctx, collection); err != nil {
				once.Do(func() {
					fatal = err
					cancel()
				})
			}
		}(collection)
	}
	wg.Wait()
	return fatal
}

func (v *View) follow(ctx context.Context, collection string) error {
	log := v.log.WithField("collection", collection)
	attempt := 0
	for {
		if attempt > 0 && !sleep(ctx, v.backoff.Delay(attempt)) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		// Subscribe before reading so no change between the read and the
		// subscription goes unseen.
		sub, err := v.source.Subscribe(ctx, stream.Filter{Collection: collection, OwnerID: v.owner})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			obs.RecordResync(string(v.role), collection, "subscribe_error")
			log.WithError(err).WithField("attempt", attempt).Warn("subscribe failed")
			continue
		}
		err = v.consume(ctx, sub, collection)
		sub.Unsubscribe()
		switch {
		case ctx.Err() != nil:
			return nil
		case err == nil:
			attempt = 0
		case lifecycle.IsRetryable(err):
			attempt++
			log.WithError(err).WithField("attempt", attempt).Warn("read failed, keeping last snapshot")
		default:
			log.WithError(err).Error("read rejected")
			return err
		}
	}
}

// consume reads the collection once and then folds notifications into the
// snapshot until the subscription ends. A nil return means the feed
// dropped the subscription and the caller should resubscribe.
func (v *View) consume(ctx context.Context, sub *stream.Subscription, collection string) error {
	if err := v.refresh(ctx, collection); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-sub.Events():
			if !ok {
				obs.RecordResync(string(v.role), collection, "dropped")
				return nil
			}
			if v.mode == Incremental && v.patch(c) {
				continue
			}
			if !drain(sub) {
				obs.RecordResync(string(v.role), collection, "dropped")
				return nil
			}
			if err := v.refresh(ctx, collection); err != nil {
				return err
			}
		}
	}
}

// drain discards queued notifications a re-read is about to cover. It
// reports false when the subscription closed meanwhile.
func drain(sub *stream.Subscription) bool {
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

func (v *View) refresh(ctx context.Context, collection string) error {
	var (
		apply func(*Snapshot)
		err   error
	)
	switch collection {
	case lifecycle.CollectionRequests:
		var rows []lifecycle.ProjectRequest
		if rows, err = v.reader.ListRequests(ctx); err == nil {
			if v.role == RoleClient {
				for i := range rows {
					rows[i] = lifecycle.RedactForClient(rows[i])
				}
			}
			apply = func(s *Snapshot) { s.Requests = rows }
		}
	case lifecycle.CollectionProjects:
		var rows []lifecycle.Project
		if rows, err = v.reader.ListProjects(ctx); err == nil {
			apply = func(s *Snapshot) { s.Projects = rows }
		}
	case lifecycle.CollectionPayments:
		var rows []lifecycle.Payment
		if rows, err = v.reader.ListPayments(ctx); err == nil {
			apply = func(s *Snapshot) { s.Payments = rows }
		}
	default:
		return nil
	}
	if err != nil {
		obs.RecordResync(string(v.role), collection, "error")
		v.update(func(s *Snapshot) bool {
			s.markStale(collection, true)
			return true
		})
		return err
	}
	obs.RecordResync(string(v.role), collection, "ok")
	v.update(func(s *Snapshot) bool {
		apply(s)
		s.markStale(collection, false)
		return true
	})
	return nil
}

func (v *View) patch(c stream.Change) bool {
	applied := v.update(func(s *Snapshot) bool { return s.apply(c, v.role == RoleClient) })
	if applied {
		obs.RecordResync(string(v.role), c.Collection, "patched")
	}
	return applied
}

// update runs fn under the lock and publishes a new revision when fn
// reports a change.
func (v *View) update(fn func(*Snapshot) bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !fn(&v.snap) {
		return false
	}
	now := v.now()
	v.snap.Totals = lifecycle.ComputeTotals(v.snap.Payments, now)
	v.snap.Revision++
	v.snap.UpdatedAt = now
	v.emit(v.snap.clone())
	return true
}

func (v *View) emit(s Snapshot) {
	select {
	case v.updates <- s:
		return
	default:
	}
	select {
	case <-v.updates:
	default:
	}
	select {
	case v.updates <- s:
	default:
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
