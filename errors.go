package keycard

import (
	"errors"
	"fmt"

	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/processor"
	"github.com/status-im/keycard-proto/securechannel"
)

var (
	ErrNoAvailablePairingSlots = errors.New("no available pairing slots")
	ErrBadChecksumSize         = errors.New("bad checksum size")
	ErrSigningDenied           = errors.New("signing denied: pin not verified")
	ErrPathNotSelected         = errors.New("no key path selected")
	ErrPairingInfoMissing      = errors.New("cannot open secure channel without pairing info")
	ErrCardPublicKeyMissing    = errors.New("card public key unknown, select the applet first")
	ErrInvalidPairingResponse  = errors.New("invalid pairing response")
	ErrPayloadTooLong          = errors.New("secure channel payload too long")
)

// SecurityLevelError is returned, before anything is sent, for a command the
// current secure channel can't protect. It matches securechannel.ErrNotEstablished.
type SecurityLevelError struct {
	Ins      uint8
	Required processor.SecurityLevel
	Current  processor.SecurityLevel
}

func (e *SecurityLevelError) Error() string {
	return fmt.Sprintf("command %02X requires %s, channel provides %s", e.Ins, e.Required, e.Current)
}

func (e *SecurityLevelError) Unwrap() error {
	return securechannel.ErrNotEstablished
}

type WrongPINError struct {
	RemainingAttempts int
}

func (e *WrongPINError) Error() string {
	return fmt.Sprintf("wrong pin. remaining attempts: %d", e.RemainingAttempts)
}

type WrongPUKError struct {
	RemainingAttempts int
}

func (e *WrongPUKError) Error() string {
	return fmt.Sprintf("wrong puk. remaining attempts: %d", e.RemainingAttempts)
}

// CredentialBlockedError is returned when no attempts are left for a credential.
// A blocked PIN can be unblocked with the PUK, a blocked PUK can't be recovered.
type CredentialBlockedError struct {
	Credential string
}

func (e *CredentialBlockedError) Error() string {
	return fmt.Sprintf("%s blocked", e.Credential)
}

const (
	credentialPIN = "PIN"
	credentialPUK = "PUK"
)

// credentialError maps the status words of VERIFY PIN and UNBLOCK PIN.
// wrong builds the error for a failed attempt with retries left.
func credentialError(err error, credential string, wrong func(int) error) error {
	var cardErr *apdu.ErrBadResponse
	if !errors.As(err, &cardErr) {
		return err
	}

	if cardErr.Sw == apdu.SwAuthenticationMethodBlocked {
		return &CredentialBlockedError{Credential: credential}
	}

	if ok, remaining := apdu.IsCounter(cardErr.Sw); ok {
		if remaining == 0 {
			return &CredentialBlockedError{Credential: credential}
		}

		return wrong(remaining)
	}

	return err
}
