package apdu

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame is returned when a raw frame is too short to be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrInvalidLengthEncoding is returned when a declared Lc/Le doesn't match the available bytes.
	ErrInvalidLengthEncoding = errors.New("invalid length encoding")
)

// Status words as defined by iso7816.
const (
	SwOK                            = 0x9000
	SwSecurityConditionNotSatisfied = 0x6982
	SwAuthenticationMethodBlocked   = 0x6983
	SwConditionsNotSatisfied        = 0x6985
	SwIncorrectSecureMessaging      = 0x6988
	SwWrongData                     = 0x6A80
	SwFileNotFound                  = 0x6A82
	SwNotEnoughMemory               = 0x6A84
	SwIncorrectP1P2                 = 0x6A86
	SwReferencedDataNotFound        = 0x6A88
	SwInsNotSupported               = 0x6D00
	SwClaNotSupported               = 0x6E00

	Sw1ResponseDataIncomplete = 0x61
	Sw1WrongLength            = 0x6C
	Sw1CounterWarning         = 0x63

	swCounterMask = 0xFFF0
	swCounter     = 0x63C0
)

// IsCounter returns true and the counter value for 63CX status words,
// usually carrying the remaining attempts of a credential.
func IsCounter(sw uint16) (bool, int) {
	if sw&swCounterMask != swCounter {
		return false, 0
	}

	return true, int(sw & 0x000F)
}

// DescribeSw returns a human readable description of a status word.
func DescribeSw(sw uint16) string {
	return fmt.Sprintf("%04X: %s", sw, swMeaning(sw))
}

func swMeaning(sw uint16) string {
	if ok, n := IsCounter(sw); ok {
		return fmt.Sprintf("counter %d", n)
	}

	switch uint8(sw >> 8) {
	case Sw1ResponseDataIncomplete:
		return fmt.Sprintf("%d bytes available", shortLength(uint8(sw)))
	case Sw1WrongLength:
		return fmt.Sprintf("wrong length, exact length is %d", shortLength(uint8(sw)))
	}

	switch sw {
	case SwOK:
		return "success"
	case SwSecurityConditionNotSatisfied:
		return "security condition not satisfied"
	case SwAuthenticationMethodBlocked:
		return "authentication method blocked"
	case SwConditionsNotSatisfied:
		return "conditions of use not satisfied"
	case SwWrongData:
		return "wrong data"
	case SwFileNotFound:
		return "file or application not found"
	case SwNotEnoughMemory:
		return "not enough memory"
	case SwIncorrectP1P2:
		return "incorrect P1 P2"
	case SwReferencedDataNotFound:
		return "referenced data not found"
	case SwInsNotSupported:
		return "instruction not supported"
	case SwClaNotSupported:
		return "class not supported"
	}

	return "unknown status"
}
