package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete is returned by Parse when the buffer ends before the
	// current frame does. Nothing is consumed; retry once more data arrives.
	ErrIncomplete = errors.New("incomplete RESP frame")

	// ErrProtocol is matched by every framing violation
	ErrProtocol = errors.New("protocol error")

	// ErrInvalidCommand indicates a frame that cannot be interpreted as a command
	ErrInvalidCommand = errors.New("invalid command")
)

// ProtocolError describes a malformed RESP frame
type ProtocolError struct {
	Offset   int    // position in the input where parsing failed
	Got      byte   // offending byte, 0 if the problem is not a single byte
	Expected string // what the parser was looking for
}

func (e *ProtocolError) Error() string {
	if e.Got == 0 {
		return fmt.Sprintf("protocol error at offset %d: expected %s", e.Offset, e.Expected)
	}
	return fmt.Sprintf("protocol error at offset %d: expected %s, got %q", e.Offset, e.Expected, e.Got)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

func protoErr(offset int, got byte, expected string) error {
	return &ProtocolError{Offset: offset, Got: got, Expected: expected}
}
