package hexutils

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexToBytes converts a hex string to a byte sequence.
// The hex string can have spaces between bytes and an optional 0x prefix.
// It panics on invalid input, so it's meant for constants and tests.
func HexToBytes(s string) []byte {
	b, err := DecodeHex(s)
	if err != nil {
		panic(err)
	}

	return b
}

// DecodeHex is like HexToBytes but returns an error instead of panicking.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.ReplaceAll(s, " ", "")

	return hex.DecodeString(s)
}

// BytesToHexWithSpaces returns an hex string of b adding spaces between bytes.
func BytesToHexWithSpaces(b []byte) string {
	return fmt.Sprintf("% X", b)
}

// BytesToHex returns an hex string of b.
func BytesToHex(b []byte) string {
	return fmt.Sprintf("%X", b)
}
