package globalplatform

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/hexutils"
	"github.com/status-im/keycard-proto/processor"
	"github.com/status-im/keycard-proto/securechannel"
	"github.com/status-im/keycard-proto/types"
)

// SecureChannel is the SCP02 processor. Once opened, every command crossing it
// is C-MAC wrapped with the session MAC key.
type SecureChannel struct {
	keys    SessionKeyProvider
	config  InitiationConfig
	rand    io.Reader
	state   securechannel.State
	session *Session
}

// NewSecureChannel returns a closed channel authenticating with the given static keys.
func NewSecureChannel(keys *SCP02Keys) *SecureChannel {
	return NewSecureChannelWithProvider(keys, DefaultInitiationConfig)
}

// NewSecureChannelWithProvider returns a closed channel deriving its session keys through provider.
func NewSecureChannelWithProvider(provider SessionKeyProvider, config InitiationConfig) *SecureChannel {
	return &SecureChannel{
		keys:   provider,
		config: config,
		rand:   rand.Reader,
		state:  securechannel.Unauthenticated,
	}
}

func (sc *SecureChannel) String() string {
	return "scp02"
}

func (sc *SecureChannel) State() securechannel.State {
	return sc.state
}

// Session returns the current session, nil if the channel is not open.
func (sc *SecureChannel) Session() *Session {
	return sc.session
}

func (sc *SecureChannel) IsActive() bool {
	switch sc.state {
	case securechannel.Established, securechannel.Closed:
		return true
	case securechannel.Authenticating:
		return sc.session != nil
	default:
		return false
	}
}

func (sc *SecureChannel) SecurityLevel() processor.SecurityLevel {
	if sc.state != securechannel.Established {
		return processor.SecurityLevelNone
	}

	return processor.Authenticated | processor.MACProtected
}

// Open runs INITIALIZE UPDATE and EXTERNAL AUTHENTICATE through ch.
// ch must be the executor this channel is part of.
func (sc *SecureChannel) Open(ch types.Channel) error {
	sc.Reset()

	hostChallenge := make([]byte, hostChallengeLen)
	if _, err := io.ReadFull(sc.rand, hostChallenge); err != nil {
		return err
	}

	sc.state = securechannel.Authenticating
	resp, err := ch.Execute(NewCommandInitializeUpdate(hostChallenge))
	if err != nil && !isCardError(err) {
		sc.close()
		return err
	}

	session, err := NewSession(sc.keys, sc.config, resp, hostChallenge)
	if err != nil {
		sc.close()
		return fmt.Errorf("%w: %w", securechannel.ErrAuthenticationFailed, err)
	}

	hostCryptogram, err := session.HostCryptogram()
	if err != nil {
		session.zero()
		sc.close()
		return err
	}

	sc.session = session

	if _, err = ch.Execute(NewCommandExternalAuthenticate(hostCryptogram)); err != nil {
		sc.close()
		if isCardError(err) {
			return fmt.Errorf("%w: %w", securechannel.ErrAuthenticationFailed, err)
		}

		return err
	}

	logger.Debug("scp02 channel established")
	sc.state = securechannel.Established

	return nil
}

func (sc *SecureChannel) Process(cmd []byte, next processor.Transmitter) ([]byte, error) {
	if sc.state == securechannel.Closed {
		return nil, securechannel.ErrChannelClosed
	}

	parsed, err := apdu.ParseCommand(cmd)
	if err != nil {
		return nil, err
	}

	wrapped, err := sc.session.Wrap(parsed)
	if err != nil {
		return nil, err
	}

	raw, err := wrapped.Serialize()
	if err != nil {
		return nil, err
	}

	logger.Debug("wrapped apdu command", "hex", hexutils.BytesToHexWithSpaces(raw))
	resp, err := next.Transmit(raw)
	if err != nil {
		// the MAC chain can't be resynchronized without the card state
		sc.close()
		return nil, err
	}

	// the card drops the session when it rejects a C-MAC
	if sc.state == securechannel.Established && len(resp) >= 2 {
		sw := uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
		if isSecurityStatus(sw) {
			sc.close()
			return nil, &securechannel.IntegrityError{Reason: "command rejected by the card", Sw: sw}
		}
	}

	return resp, nil
}

// Reset drops the session, the channel can be opened again.
func (sc *SecureChannel) Reset() {
	sc.zero()
	sc.state = securechannel.Unauthenticated
}

func (sc *SecureChannel) close() {
	sc.zero()
	sc.state = securechannel.Closed
}

func (sc *SecureChannel) zero() {
	if sc.session != nil {
		sc.session.zero()
		sc.session = nil
	}

}

func isSecurityStatus(sw uint16) bool {
	switch sw {
	case apdu.SwSecurityConditionNotSatisfied, apdu.SwIncorrectSecureMessaging:
		return true
	default:
		return false
	}
}

func isCardError(err error) bool {
	var cardErr *apdu.ErrBadResponse
	return errors.As(err, &cardErr)
}
