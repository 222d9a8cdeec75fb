package ids

import (
	mathrand "math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const suffixLen = 6

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)

	codeMu   sync.Mutex
	lastCode int64
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Reference returns the human-facing payment code shown to clients, e.g.
// REF-1717171717171-7K3QZD. The suffix keeps codes minted by different
// instances in the same millisecond apart.
func Reference(now time.Time) string {
	return "REF-" + strconv.FormatInt(nextCode(now), 10) + "-" + suffix()
}

// Settlement returns a processor settlement reference, e.g. TXN1717171717171-0B9XQ2.
func Settlement(now time.Time) string {
	return "TXN" + strconv.FormatInt(nextCode(now), 10) + "-" + suffix()
}

// suffix is the low end of a fresh ULID's entropy, six Crockford base32 characters.
func suffix() string {
	id := New()
	return id[len(id)-suffixLen:]
}

// nextCode yields strictly increasing millisecond stamps so two codes minted
// within the same millisecond stay distinct.
func nextCode(now time.Time) int64 {
	ms := now.UnixMilli()
	codeMu.Lock()
	defer codeMu.Unlock()
	if ms <= lastCode {
		ms = lastCode + 1
	}
	lastCode = ms
	return ms
}
