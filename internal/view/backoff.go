package view

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff spaces out re-subscribe and re-read attempts after a failure:
// Base * 2^(attempt-1), capped at Max, plus up to Jitter of random delay.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// DefaultBackoff returns 1s doubling up to 30s with 250ms of jitter.
func DefaultBackoff() *Backoff {
	return NewBackoff(time.Second, 30*time.Second, 250*time.Millisecond, time.Now().UnixNano())
}

func NewBackoff(base, max, jitter time.Duration, seed int64) *Backoff {
	return &Backoff{Base: base, Max: max, Jitter: jitter, rng: rand.New(rand.NewSource(seed))} //nolint:gosec
}

// Delay returns the wait before attempt (1-based). Attempt 0 never waits.
func (b *Backoff) Delay(attempt int) time.Duration {
	return backoff(attempt, b.Base, b.Max) + b.jitter()
}

func backoff(attempts int, base, maxBackoff time.Duration) time.Duration {
	if attempts <= 0 || base <= 0 {
		return 0
	}
	d := math.Pow(2, float64(attempts-1)) * float64(base)
	if maxBackoff > 0 && d > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(d)
}

func (b *Backoff) jitter() time.Duration {
	if b.Jitter <= 0 || b.rng == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// [0, Jitter]
	return time.Duration(b.rng.Int63n(int64(b.Jitter) + 1))
}
