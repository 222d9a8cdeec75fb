package client

import (
	"errors"
	"fmt"
	"net/http"

	"levra.org/internal/lifecycle"
)

// HTTPError represents a non-2xx HTTP response from the API.
type HTTPError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status back onto the lifecycle error taxonomy so callers
// can use errors.Is(err, lifecycle.ErrNotFound) and friends.
func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return lifecycle.ErrAuthorization
	case http.StatusBadRequest:
		return lifecycle.ErrValidation
	case http.StatusNotFound:
		return lifecycle.ErrNotFound
	case http.StatusConflict:
		return lifecycle.ErrInvalidState
	case http.StatusPaymentRequired:
		return lifecycle.ErrProcessing
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return lifecycle.ErrStoreUnavailable
	default:
		return nil
	}
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}
