// Package apperrors defines the typed error taxonomy shared by every
// backend adapter, the registry, and the workflow handlers.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors compared with errors.Is. Each corresponds to one of the
// adapter-level failure categories in the design.
var (
	ErrAuth             = errors.New("authentication rejected")
	ErrRateLimited      = errors.New("rate limited by backend")
	ErrTimeout          = errors.New("request timed out")
	ErrTransport        = errors.New("transport failure")
	ErrInvalidResponse  = errors.New("invalid or empty response")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrValidation       = errors.New("input validation failed")
	ErrNoHealthyBackend = errors.New("no healthy backend available")
)

// BackendError wraps one of the sentinels above with the backend and
// operation that produced it, the way core.FrameworkError wraps errors
// with Op/Kind/ID context.
type BackendError struct {
	Backend string
	Op      string
	Status  int // HTTP status, 0 if not applicable
	Err     error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: backend %q (http %d): %v", e.Op, e.Backend, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: backend %q: %v", e.Op, e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// NewHTTPError classifies a non-2xx HTTP status into the sentinel
// taxonomy: 401/403 -> auth, 429 -> rate limited, 408/504 -> timeout,
// 5xx -> transport, everything else is an opaque HTTP error that still
// counts as a circuit-breaker failure.
func NewHTTPError(backend, op string, status int) error {
	var base error
	switch {
	case status == 401 || status == 403:
		base = ErrAuth
	case status == 429:
		base = ErrRateLimited
	case status == 408 || status == 504:
		base = ErrTimeout
	case status >= 500:
		base = ErrTransport
	default:
		base = fmt.Errorf("unexpected http status %d", status)
	}
	return &BackendError{Backend: backend, Op: op, Status: status, Err: base}
}

// CountsAsFailure reports whether an error should increment a circuit
// breaker's failure counter. ErrValidation never reaches a backend so
// it is never a breaker failure.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) {
		return false
	}
	return true
}

// IsRetryableInFallback reports whether a fallback chain should continue
// trying the next backend after this error. All adapter failures are
// retryable in the fallback sense; only ErrValidation, which never
// touches a backend, is not.
func IsRetryableInFallback(err error) bool {
	return err != nil && !errors.Is(err, ErrValidation)
}
