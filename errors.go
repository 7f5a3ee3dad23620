package redisnode

import (
	"errors"
	"fmt"
)

// Error types for specific failure scenarios
var (
	// ErrInvalidConfig indicates invalid configuration options
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClosed indicates the node has been closed
	ErrClosed = errors.New("node is closed")

	// ErrAlreadyStarted indicates Start was called twice
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNotStarted indicates an operation that needs a running node
	ErrNotStarted = errors.New("node not started")
)

// ConnectionError represents a connection-related error
type ConnectionError struct {
	Addr string
	Err  error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error to %s: %v", e.Addr, e.Err)
}

// Unwrap returns the wrapped error
func (e *ConnectionError) Unwrap() error {
	return e.Err
}
