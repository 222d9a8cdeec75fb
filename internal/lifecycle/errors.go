package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuthorization    = errors.New("not authorized")
	ErrInvalidState     = errors.New("invalid state")
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrProcessing       = errors.New("payment processing failed")

	// ErrStale is returned by a Store when a conditional write finds the row
	// no longer in the expected state. The engine reports it as ErrInvalidState.
	ErrStale = errors.New("row changed concurrently")
)

// Error carries the failing operation and entity alongside one of the
// sentinel kinds above, so callers can match with errors.Is.
type Error struct {
	Op     string
	Kind   error
	Entity string
	ID     string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Entity != "" {
		b.WriteString(" ")
		b.WriteString(e.Entity)
		if e.ID != "" {
			b.WriteString(" ")
			b.WriteString(e.ID)
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func unauthorized(op, msg string) error {
	return &Error{Op: op, Kind: ErrAuthorization, Msg: msg}
}

func invalidState(op, entity, id, format string, args ...any) error {
	return &Error{Op: op, Kind: ErrInvalidState, Entity: entity, ID: id, Msg: fmt.Sprintf(format, args...)}
}

func validation(op, format string, args ...any) error {
	return &Error{Op: op, Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func notFound(op, entity, id string) error {
	return &Error{Op: op, Kind: ErrNotFound, Entity: entity, ID: id}
}

// StoreUnavailable wraps a transport or database failure.
func StoreUnavailable(op string, err error) error {
	return &Error{Op: op, Kind: ErrStoreUnavailable, Err: err}
}

// storeErr translates a Store error into the engine taxonomy.
func storeErr(op, entity, id string, err error) error {
	var le *Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return notFound(op, entity, id)
	case errors.Is(err, ErrStale):
		return &Error{Op: op, Kind: ErrInvalidState, Entity: entity, ID: id, Msg: "changed by another actor", Err: err}
	case errors.As(err, &le):
		return err
	default:
		return &Error{Op: op, Kind: ErrStoreUnavailable, Entity: entity, ID: id, Err: err}
	}
}

// Kind names the taxonomy bucket of err; "ok" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuthorization):
		return "authorization"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrProcessing):
		return "processing"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}

// IsRetryable reports whether a read that failed with err may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
