package stream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"levra.org/internal/obs"
)

// Kind is the mutation that produced a Change.
type Kind string

const (
	Insert Kind = "insert"
	Update Kind = "update"
	Delete Kind = "delete"
)

// Change describes one committed row mutation. Row carries the full row
// state after the write (empty for deletes).
type Change struct {
	Collection string          `json:"collection"`
	Kind       Kind            `json:"kind"`
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id,omitempty"`
	Row        json.RawMessage `json:"row,omitempty"`
	At         time.Time       `json:"at"`
}

// NewChange marshals row into a Change. Rows that fail to marshal are
// sent without payload; subscribers fall back to a full re-read.
func NewChange(collection string, kind Kind, id, owner string, row any) Change {
	c := Change{Collection: collection, Kind: kind, ID: id, OwnerID: owner, At: time.Now().UTC()}
	if row != nil && kind != Delete {
		if data, err := json.Marshal(row); err == nil {
			c.Row = data
		}
	}
	return c
}

// Filter scopes a subscription to a collection and, optionally, one owner.
type Filter struct {
	Collection string `json:"collection"`
	OwnerID    string `json:"owner_id,omitempty"`
}

func (f Filter) Match(c Change) bool {
	if f.Collection != c.Collection {
		return false
	}
	return f.OwnerID == "" || f.OwnerID == c.OwnerID
}

var (
	ErrClosed        = errors.New("stream closed")
	ErrInvalidFilter = errors.New("subscription filter requires a collection")
)

// Source opens filtered change subscriptions.
type Source interface {
	Subscribe(ctx context.Context, f Filter) (*Subscription, error)
}

// Publisher accepts committed changes for fan-out.
type Publisher interface {
	Publish(c Change)
}

// Subscription is a handle on a filtered change feed. Its channel is closed
// on Unsubscribe, on context end, or when the subscriber fell behind and
// was dropped; readers should treat a closed channel as "re-read and
// resubscribe".
type Subscription struct {
	filter Filter
	ch     chan Change
	done   chan struct{}
	cancel func()

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

// NewSubscription builds a handle whose Unsubscribe runs cancel once.
func NewSubscription(f Filter, buffer int, cancel func()) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	return &Subscription{
		filter: f,
		ch:     make(chan Change, buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

func (s *Subscription) Filter() Filter { return s.filter }

func (s *Subscription) Events() <-chan Change { return s.ch }

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Deliver hands c to the subscriber without blocking. It reports false when
// the subscription is closed or its buffer is full.
func (s *Subscription) Deliver(c Change) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- c:
		return true
	default:
		return false
	}
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		close(s.done)
		s.mu.Unlock()
	})
}

// Hub fan-outs changes to all matching subscribers in-process.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	next   int
	buffer int
	closed bool
}

type Option func(*Hub)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func New(opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[int]*Subscription),
		buffer: 16,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber. The subscription ends when ctx ends or
// Unsubscribe is called.
func (h *Hub) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	f.Collection = strings.TrimSpace(f.Collection)
	if f.Collection == "" {
		return nil, ErrInvalidFilter
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	id := h.next
	h.next++
	sub := NewSubscription(f, h.buffer, func() { h.remove(id) })
	h.subs[id] = sub
	h.mu.Unlock()
	obs.StreamSubscribed(1)

	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.Done():
		}
	}()
	return sub, nil
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; ok {
		delete(h.subs, id)
		obs.StreamSubscribed(-1)
	}
}

// Publish fan-outs the change to matching subscribers. A subscriber whose
// queue is full is dropped so it resynchronises instead of silently
// missing the change.
func (h *Hub) Publish(c Change) {
	var lagging []*Subscription
	h.mu.RLock()
	for _, sub := range h.subs {
		if !sub.filter.Match(c) {
			continue
		}
		if !sub.Deliver(c) {
			lagging = append(lagging, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range lagging {
		obs.StreamDropped(c.Collection)
		sub.Unsubscribe()
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}
