package settlement

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"levra.org/internal/ids"
)

// Charge is a settlement attempt for one payment.
type Charge struct {
	PaymentID string          `json:"payment_id"`
	Payer     string          `json:"payer"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Method    string          `json:"method"`
}

// Receipt is the processor's proof of a successful charge.
type Receipt struct {
	Reference string          `json:"reference"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Method    string          `json:"method"`
	Sequence  uint64          `json:"sequence"`
	SettledAt time.Time       `json:"settled_at"`
}

// Processor settles charges against an external gateway.
type Processor interface {
	Process(ctx context.Context, c Charge) (Receipt, error)
}

var (
	ErrDeclined          = errors.New("charge declined")
	ErrInvalidAmount     = errors.New("invalid amount (must be > 0)")
	ErrInvalidCurrency   = errors.New("invalid currency")
	ErrUnsupportedMethod = errors.New("unsupported payment method")
)

// Simulated settles every valid charge locally. Charges are idempotent per
// payment id: a repeated Process call returns the original receipt.
type Simulated struct {
	mu       sync.Mutex
	seq      uint64
	receipts map[string]Receipt
	methods  map[string]bool
	decline  func(Charge) bool
	latency  time.Duration
	now      func() time.Time
}

type Option func(*Simulated)

// WithDecline makes the processor reject charges for which fn returns true.
func WithDecline(fn func(Charge) bool) Option {
	return func(s *Simulated) { s.decline = fn }
}

// WithLatency delays each new charge to mimic a gateway round trip.
func WithLatency(d time.Duration) Option {
	return func(s *Simulated) { s.latency = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Simulated) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSimulated accepts card and upi charges.
func NewSimulated(opts ...Option) *Simulated {
	s := &Simulated{
		receipts: make(map[string]Receipt),
		methods:  map[string]bool{"card": true, "upi": true},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulated) Process(ctx context.Context, c Charge) (Receipt, error) {
	if !c.Amount.IsPositive() {
		return Receipt{}, ErrInvalidAmount
	}
	if strings.TrimSpace(c.Currency) == "" {
		return Receipt{}, ErrInvalidCurrency
	}
	if !s.methods[c.Method] {
		return Receipt{}, ErrUnsupportedMethod
	}

	s.mu.Lock()
	if r, ok := s.receipts[c.PaymentID]; ok && c.PaymentID != "" {
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return Receipt{}, ctx.Err()
		case <-t.C:
		}
	}
	if s.decline != nil && s.decline(c) {
		return Receipt{}, ErrDeclined
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// a concurrent call for the same payment may have settled while we waited
	if r, ok := s.receipts[c.PaymentID]; ok && c.PaymentID != "" {
		return r, nil
	}
	s.seq++
	now := s.now()
	r := Receipt{
		Reference: ids.Settlement(now),
		PaymentID: c.PaymentID,
		Amount:    c.Amount,
		Currency:  c.Currency,
		Method:    c.Method,
		Sequence:  s.seq,
		SettledAt: now,
	}
	if c.PaymentID != "" {
		s.receipts[c.PaymentID] = r
	}
	return r, nil
}

// Receipts returns settled charges in settlement order.
func (s *Simulated) Receipts() []Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Receipt, 0, len(s.receipts))
	for _, r := range s.receipts {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}
