package globalplatform

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/globalplatform/crypto"
)

const (
	supportedSCPVersion  = 2
	initializeUpdateLen  = 28
	scpVersionOffset     = 11
	challengeOffset      = 12
	cardCryptogramOffset = 20
	hostChallengeLen     = 8
)

var errBadCryptogram = errors.New("bad card cryptogram")

// Session holds the keys, challenges and MAC chaining value of one SCP02 session.
type Session struct {
	options       Options
	keys          *SCP02Keys
	cardChallenge []byte
	hostChallenge []byte
	icv           []byte
	first         bool
}

// NewSession derives the session keys from the INITIALIZE UPDATE response and
// verifies the card cryptogram.
func NewSession(provider SessionKeyProvider, config InitiationConfig, resp *apdu.Response, hostChallenge []byte) (*Session, error) {
	switch resp.Sw {
	case apdu.SwSecurityConditionNotSatisfied:
		return nil, apdu.NewErrBadResponse(resp.Sw, "security condition not satisfied")
	case apdu.SwAuthenticationMethodBlocked:
		return nil, apdu.NewErrBadResponse(resp.Sw, "authentication method blocked")
	case apdu.SwOK:
	default:
		return nil, apdu.NewCardError(resp.Sw)
	}

	if len(resp.Data) != initializeUpdateLen {
		return nil, apdu.NewErrBadResponse(resp.Sw, fmt.Sprintf("bad data length, expected %d, got %d", initializeUpdateLen, len(resp.Data)))
	}

	if v := resp.Data[scpVersionOffset]; v != supportedSCPVersion {
		return nil, errors.Errorf("scp version %d not supported", v)
	}

	seq := resp.Data[challengeOffset : challengeOffset+2]
	cardChallenge := append([]byte{}, resp.Data[challengeOffset:cardCryptogramOffset]...)
	cardCryptogram := resp.Data[cardCryptogramOffset:initializeUpdateLen]

	enc, err := deriveSessionKey(provider, KeyIDEnc, config.KeyVersionNumber, crypto.PurposeEnc, seq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive ENC session key")
	}

	mac, err := deriveSessionKey(provider, KeyIDMac, config.KeyVersionNumber, crypto.PurposeMac, seq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive C-MAC session key")
	}

	keys := &SCP02Keys{enc: enc, mac: mac}
	ok, err := crypto.VerifyCryptogram(keys.Enc(), hostChallenge, cardChallenge, cardCryptogram)
	if err != nil {
		keys.zero()
		return nil, err
	}

	if !ok {
		keys.zero()
		return nil, errBadCryptogram
	}

	return &Session{
		options:       config.Options,
		keys:          keys,
		cardChallenge: cardChallenge,
		hostChallenge: append([]byte{}, hostChallenge...),
		icv:           make([]byte, macLength),
		first:         true,
	}, nil
}

func (s *Session) Keys() *SCP02Keys {
	return s.keys
}

func (s *Session) CardChallenge() []byte {
	return s.cardChallenge
}

func (s *Session) HostChallenge() []byte {
	return s.hostChallenge
}

// HostCryptogram returns the cryptogram proving the host owns the static keys.
func (s *Session) HostCryptogram() ([]byte, error) {
	return crypto.Cryptogram(s.keys.Enc(), s.cardChallenge, s.hostChallenge)
}

func (s *Session) zero() {
	s.keys.zero()
	s.icv = nil
}
