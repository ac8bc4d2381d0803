package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned before any I/O happens.
	ErrValidation     = errors.New("validation error")
	ErrEmptyContent   = fmt.Errorf("%w: message content is empty", ErrValidation)
	ErrNoActiveThread = fmt.Errorf("%w: no active thread", ErrValidation)

	ErrNetwork     = errors.New("network error")
	ErrStaleResult = errors.New("stale result")
	ErrDisposed    = errors.New("engine disposed")
)

// ServerError is a non-success HTTP response from the chat server.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("server error: status %d: %s", e.StatusCode, e.Body)
}

// NetworkError wraps a transport failure so that errors.Is(err, ErrNetwork) holds.
func NetworkError(err error) error {
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}
