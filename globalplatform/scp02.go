package globalplatform

import (
	"github.com/pkg/errors"
	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/globalplatform/crypto"
	"github.com/status-im/keycard-proto/securechannel"
)

const (
	// KeyIDEnc is the ID of the static key the ENC session key is derived from.
	KeyIDEnc byte = 0x01
	// KeyIDMac is the ID of the static key the C-MAC and R-MAC session keys are derived from.
	KeyIDMac byte = 0x02
	// KeyIDDek is the ID of the data encryption key.
	KeyIDDek byte = 0x03
)

const macLength = 8

var ErrWrappedCommandTooLong = errors.New("command data too long to be wrapped")

// SessionKeyProvider derives session keys from static keys it keeps to itself.
// src is the derivation data: 2 bytes derivation constant, 2 bytes sequence counter, 12 zero bytes.
// dst receives the 3DES-CBC encryption of src under the selected static key.
type SessionKeyProvider interface {
	ProvideSessionKey(keyID byte, kvn byte, dst *[16]byte, src [16]byte) error
}

// Options are the implementation options encoded in the SCP02 i parameter.
type Options struct {
	CMACOnUnmodifiedAPDU bool // true: C-MAC on unmodified APDU, false: C-MAC on modified APDU
	ICVEncryptionForCMAC bool // true: ICV encryption for C-MAC session, false: no ICV encryption
}

// OptionsI15 is i=15: C-MAC on the modified APDU with ICV encryption, as used by the Keycard.
var OptionsI15 = Options{CMACOnUnmodifiedAPDU: false, ICVEncryptionForCMAC: true}

// InitiationConfig is the configuration of an explicitly initiated session.
type InitiationConfig struct {
	KeyVersionNumber byte
	Options          Options
}

// DefaultInitiationConfig uses the default key set with i=15.
var DefaultInitiationConfig = InitiationConfig{Options: OptionsI15}

// ProvideSessionKey derives a session key from the ENC or MAC static key.
func (k *SCP02Keys) ProvideSessionKey(keyID byte, kvn byte, dst *[16]byte, src [16]byte) error {
	var static []byte
	switch keyID {
	case KeyIDEnc:
		static = k.enc
	case KeyIDMac:
		static = k.mac
	default:
		return errors.Errorf("no static key with id %02X in key set %02X", keyID, kvn)
	}

	key, err := crypto.DeriveSessionKey(static, src[2:4], src[0:2])
	if err != nil {
		return errors.Wrap(err, "failed to derive session key")
	}

	copy(dst[:], key)
	securechannel.Zero(key)

	return nil
}

func deriveSessionKey(provider SessionKeyProvider, keyID, kvn byte, constant, seq []byte) ([]byte, error) {
	var src, dst [16]byte
	copy(src[:2], constant)
	copy(src[2:4], seq)

	if err := provider.ProvideSessionKey(keyID, kvn, &dst, src); err != nil {
		return nil, err
	}

	key := append([]byte{}, dst[:]...)
	securechannel.Zero(dst[:])

	return key, nil
}

// Wrap returns a new command with the secure messaging class bit set and the C-MAC appended to the data.
// Each MAC is chained to the previous one, so every wrapped command must reach the card in order.
func (s *Session) Wrap(cmd *apdu.Command) (*apdu.Command, error) {
	if len(cmd.Data)+macLength > apdu.MaxShortLc {
		return nil, ErrWrappedCommandTooLong
	}

	// the EXTERNAL AUTHENTICATE MAC is computed on the null ICV
	if !s.first && s.options.ICVEncryptionForCMAC {
		icv, err := crypto.EncryptICV(s.keys.Mac(), s.icv)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encrypt ICV")
		}
		s.icv = icv
	}
	s.first = false

	cla := cmd.Cla | ClaMac
	macData := []byte{cmd.Cla, cmd.Ins, cmd.P1, cmd.P2, byte(len(cmd.Data))}
	if !s.options.CMACOnUnmodifiedAPDU {
		macData[0] = cla
		macData[4] += macLength
	}
	macData = append(macData, cmd.Data...)

	mac, err := crypto.RetailMAC(s.keys.Mac(), macData, s.icv)
	if err != nil {
		return nil, errors.Wrap(err, "failed to calculate C-MAC")
	}
	s.icv = append(s.icv[:0], mac...)

	data := make([]byte, 0, len(cmd.Data)+macLength)
	data = append(data, cmd.Data...)
	data = append(data, mac...)

	wrapped := apdu.NewCommand(cla, cmd.Ins, cmd.P1, cmd.P2, data)
	if ok, ne := cmd.Ne(); ok {
		if err := wrapped.SetNe(ne); err != nil {
			return nil, err
		}
	}

	return wrapped, nil
}

// MaximumCommandPayloadLength is the largest data field Wrap accepts.
func (s *Session) MaximumCommandPayloadLength() int {
	return apdu.MaxShortLc - macLength
}
