// Package derivationpath parses and formats BIP32 style derivation paths.
package derivationpath

import (
	"fmt"
	"strconv"
	"strings"
)

type StartingPoint int

const (
	StartingPointMaster StartingPoint = iota + 1
	StartingPointCurrent
	StartingPointParent
)

const (
	tokenMaster    = "m"
	tokenParent    = ".."
	tokenCurrent   = "."
	tokenSeparator = "/"
	tokenHardened  = '\''

	hardenedStart = 0x80000000 // 2^31

	// MaxDepth is the deepest path the card accepts.
	MaxDepth = 10
)

// InvalidPathError is returned for malformed paths. Pos is the byte offset of the offending token.
type InvalidPathError struct {
	Path   string
	Pos    int
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid derivation path %q at position %d: %s", e.Path, e.Pos, e.Reason)
}

// Decode parses paths like "m/44'/60'/0'/0/0", "../1" or "0/1".
// Paths without a prefix are relative to the current key.
func Decode(str string) (StartingPoint, []uint32, error) {
	start, rest, pos := splitStartingPoint(str)
	path := make([]uint32, 0)

	if rest == "" {
		return start, path, nil
	}

	if pos > 0 {
		// the prefix is always followed by a separator here
		rest = rest[len(tokenSeparator):]
		pos += len(tokenSeparator)
	}

	for _, segment := range strings.Split(rest, tokenSeparator) {
		index, err := decodeSegment(segment)
		if err != nil {
			err.Path = str
			err.Pos += pos
			return start, nil, err
		}

		path = append(path, index)
		if len(path) > MaxDepth {
			return start, nil, &InvalidPathError{Path: str, Pos: pos, Reason: fmt.Sprintf("more than %d levels", MaxDepth)}
		}

		pos += len(segment) + len(tokenSeparator)
	}

	return start, path, nil
}

func splitStartingPoint(str string) (StartingPoint, string, int) {
	for _, prefix := range []struct {
		token string
		start StartingPoint
	}{
		{tokenMaster, StartingPointMaster},
		{tokenParent, StartingPointParent},
		{tokenCurrent, StartingPointCurrent},
	} {
		if str == prefix.token || strings.HasPrefix(str, prefix.token+tokenSeparator) {
			return prefix.start, str[len(prefix.token):], len(prefix.token)
		}
	}

	return StartingPointCurrent, str, 0
}

func decodeSegment(segment string) (uint32, *InvalidPathError) {
	if segment == "" {
		return 0, &InvalidPathError{Reason: "expected number"}
	}

	digits := segment
	hardened := false
	if segment[len(segment)-1] == tokenHardened {
		digits = segment[:len(segment)-1]
		hardened = true
	}

	if digits == "" {
		return 0, &InvalidPathError{Reason: "expected number before hardened marker"}
	}

	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, &InvalidPathError{Pos: i, Reason: fmt.Sprintf("unexpected character %q", digits[i])}
		}
	}

	i, err := strconv.ParseUint(digits, 10, 32)
	if err != nil || i >= hardenedStart {
		return 0, &InvalidPathError{Reason: fmt.Sprintf("index must be lower than 2^31, got %s", digits)}
	}

	if hardened {
		i += hardenedStart
	}

	return uint32(i), nil
}
