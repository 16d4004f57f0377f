package transport

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected    = errors.New("transport: not connected")
	ErrSocketClosed    = errors.New("transport: socket closed")
	ErrTargetMismatch  = errors.New("transport: socket bound to another room or identity")
	ErrIdentityMissing = errors.New("transport: room and identity are required")
	ErrInvalidEndpoint = errors.New("transport: invalid endpoint")
)

// ConnectionError reports a handshake or network failure. It always leads to
// a reconnection attempt and is never fatal to the socket.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
