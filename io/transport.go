package io

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
)

var logger = log.New("package", "keycard-proto/io")

// ErrNotConnected is returned when transmitting on a transport that lost its link.
var ErrNotConnected = errors.New("transport not connected")

// Transmitter defines an interface with one method to transmit raw commands and receive raw responses.
type Transmitter interface {
	Transmit([]byte) ([]byte, error)
}

// Transport is a single half-duplex link to a card.
// Exactly one exchange is in flight at a time; callers serialize access.
type Transport interface {
	Transmitter
	IsConnected() bool
	Reset() error
}

// TransportError is a link level failure. The whole operation can be retried
// after checking IsConnected, but any secure channel running on the link is lost.
type TransportError struct {
	Op  string
	Err error
}

// NewTransportError wraps err as a TransportError, unless it already is one.
func NewTransportError(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}

	return &TransportError{Op: op, Err: err}
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}
