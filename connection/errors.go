package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Acquire and Do while the manager has no
	// usable connection.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrPoolTimeout is returned when no pooled connection frees up within
	// the wait-queue timeout.
	ErrPoolTimeout = errors.New("connection: timed out waiting for a pooled connection")
)

// ConnectionError is returned by Connect once the retry budget is exhausted.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection: giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
