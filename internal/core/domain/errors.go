package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRegistered = errors.New("session already registered")
	ErrSessionClosed     = errors.New("session closed")
	ErrSendBufferFull    = errors.New("session send buffer full")
	ErrMalformedMessage  = errors.New("malformed message")
)

// ProtocolViolationError carries the human-readable reason that is
// echoed in the close frame when a client breaks the session protocol.
type ProtocolViolationError struct {
	Reason string
	Err    error
}

func NewProtocolViolation(reason string, err error) *ProtocolViolationError {
	return &ProtocolViolationError{Reason: reason, Err: err}
}

func (e *ProtocolViolationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol violation: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol violation: %s", e.Reason)
}

func (e *ProtocolViolationError) Unwrap() error {
	return e.Err
}
