package inventory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// AuthError indicates the inventory API rejected the caller's credential.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("inventory: authentication failed (status=%d): %s", e.Status, e.Message)
}

// NotFoundError indicates the requested record does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("inventory: %s %q not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("inventory: %s not found", e.Resource)
}

// APIError indicates the inventory API returned a non-success status
// that is not an auth or not-found condition.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inventory: request failed (status=%d): %s", e.Status, e.Message)
}

// ConnectionError indicates the inventory API could not be reached.
type ConnectionError struct {
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("inventory: connection failed: %v", e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// TimeoutError indicates the request exceeded its deadline.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("inventory: request timed out: %v", e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// classifyTransportError wraps a transport-level failure into the
// typed error the caller expects. Timeouts are distinguished from
// connection failures because only timeouts are plausibly transient.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Cause: err}
	}
	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return &TimeoutError{Cause: err}
	}
	return &ConnectionError{Cause: err}
}

func statusError(status int, resource, id, message string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Status: status, Message: message}
	case status == http.StatusNotFound:
		return &NotFoundError{Resource: resource, ID: id}
	default:
		return &APIError{Status: status, Message: message}
	}
}
