package types

import "github.com/status-im/keycard-proto/apdu"

// Channel executes commands and returns the card responses.
// A status word other than 9000 is returned as *apdu.ErrBadResponse together with the response.
type Channel interface {
	Execute(*apdu.Command) (*apdu.Response, error)
}

// PairingInfo is the result of the pairing ceremony. Whoever holds it can open
// a secure channel with the card, callers are responsible for storing it safely.
type PairingInfo struct {
	Key   []byte
	Index int
}
