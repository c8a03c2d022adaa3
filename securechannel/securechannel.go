// Package securechannel holds the state machine and error taxonomy shared by
// the secure channel implementations.
package securechannel

import (
	"errors"
	"fmt"
)

// State of a secure channel session.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Established
	Closed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Established:
		return "established"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrAuthenticationFailed = errors.New("secure channel authentication failed")
	ErrChannelClosed        = errors.New("secure channel closed")
	ErrNotEstablished       = errors.New("secure channel not established")
)

// IntegrityError is returned when a protected response can't be verified.
// The session is lost and a new authentication is required.
type IntegrityError struct {
	Reason string
	Sw     uint16
}

func (e *IntegrityError) Error() string {
	if e.Sw != 0 {
		return fmt.Sprintf("secure channel integrity error: %s (sw %04X)", e.Reason, e.Sw)
	}

	return fmt.Sprintf("secure channel integrity error: %s", e.Reason)
}

// Zero overwrites the given buffers with zeros.
func Zero(bufs ...[]byte) {
	for _, b := range bufs {
		for i := range b {
			b[i] = 0
		}
	}
}
