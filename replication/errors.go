package replication

import (
	"errors"
	"fmt"
)

// Handshake phases reported by HandshakeError
const (
	PhaseConnect       = "connect"
	PhasePing          = "ping"
	PhaseListeningPort = "replconf listening-port"
	PhaseCapa          = "replconf capa"
	PhasePsync         = "psync"
	PhaseSnapshot      = "snapshot"
)

var (
	// ErrUnexpectedReply is wrapped when the master answers a handshake
	// step with something other than the expected reply
	ErrUnexpectedReply = errors.New("unexpected reply from master")

	// ErrAlreadyStarted is returned by Start on a client that was started before
	ErrAlreadyStarted = errors.New("replication client already started")
)

// HandshakeError reports a failed replication handshake. The attempt is
// abandoned and not retried.
type HandshakeError struct {
	Phase string
	Err   error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("replication handshake failed during %s: %v", e.Phase, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
