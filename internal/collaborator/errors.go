// Package collaborator holds the shared plumbing for the external grading
// services: typed errors, JSON-over-HTTP calls and retry.
package collaborator

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnavailable means the service could not be reached (transport failure, timeout).
type ErrUnavailable struct {
	Service string
	Err     error
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ErrUnavailable) Unwrap() error { return e.Err }

// ErrBadStatus means the service answered with a non-2xx status.
type ErrBadStatus struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *ErrBadStatus) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned HTTP %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Service, e.StatusCode, e.Body)
}

// ErrMalformedResponse means the service answered 2xx with a payload we cannot use.
type ErrMalformedResponse struct {
	Service string
	Err     error
}

func (e *ErrMalformedResponse) Error() string {
	return fmt.Sprintf("%s returned a malformed response: %v", e.Service, e.Err)
}

func (e *ErrMalformedResponse) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could plausibly succeed.
func Retryable(err error) bool {
	var unavailable *ErrUnavailable
	if errors.As(err, &unavailable) {
		return true
	}
	var status *ErrBadStatus
	if errors.As(err, &status) {
		return status.StatusCode >= http.StatusInternalServerError ||
			status.StatusCode == http.StatusTooManyRequests
	}
	return false
}
