package apiclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

// StatusError is a non-2xx response. It unwraps to the matching syncer
// sentinel for 401, 403 and 404 so callers can classify with errors.Is.
type StatusError struct {
	Service    string
	Method     string
	Path       string
	StatusCode int
	Message    string

	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s %s: status %d: %s", e.Service, e.Method, e.Path, e.StatusCode, msg)
}

func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return syncer.ErrUnauthorized
	case http.StatusForbidden:
		return syncer.ErrForbidden
	case http.StatusNotFound:
		return syncer.ErrNotFound
	}
	return nil
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// retryableError marks transport failures and temporary statuses.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }
