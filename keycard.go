// Package keycard implements the Keycard applet protocol: the pairing based
// secure channel, PIN and PUK handling, key derivation and signing.
package keycard

import "github.com/ethereum/go-ethereum/log"

var logger = log.New("package", "keycard-proto")
