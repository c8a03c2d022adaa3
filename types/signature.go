package types

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/status-im/keycard-proto/apdu"
)

var (
	TagSignatureTemplate = apdu.Tag{0xA0}
	TagRawSignature      = apdu.Tag{0x80}

	tagECDSASignature = apdu.Tag{0x30}
	tagInteger        = apdu.Tag{0x02}
)

var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidDigestSize  = errors.New("digest must be 32 bytes")
	ErrRecoveryIDNotFound = errors.New("no recovery id matches the public key")
)

const recoverableSignatureLength = 65

type Signature struct {
	pubKey []byte
	r      []byte
	s      []byte
	v      byte
}

// ParseSignature parses a SIGN response for the given digest. Both the
// signature template (public key and DER signature) and the raw 65 bytes
// recoverable signature are accepted. The public key is recovered or checked.
func ParseSignature(message, resp []byte) (*Signature, error) {
	if len(message) != 32 {
		return nil, ErrInvalidDigestSize
	}

	// check for old template first because TagRawSignature matches the pubkey tag
	template, err := apdu.FindTag(resp, TagSignatureTemplate)
	if err == nil {
		return parseLegacySignature(message, template)
	}

	sig, err := apdu.FindTag(resp, TagRawSignature)
	if err != nil {
		return nil, err
	}

	return ParseRecoverableSignature(message, sig)
}

func ParseRecoverableSignature(message, sig []byte) (*Signature, error) {
	if len(sig) != recoverableSignatureLength {
		return nil, ErrInvalidSignature
	}

	pubKey, err := crypto.Ecrecover(message, sig)
	if err != nil {
		return nil, err
	}

	return &Signature{
		pubKey: pubKey,
		r:      append([]byte{}, sig[0:32]...),
		s:      append([]byte{}, sig[32:64]...),
		v:      sig[64],
	}, nil
}

// DERSignatureToRS extracts r and s from a DER encoded ECDSA signature,
// dropping the sign padding and left padding both to 32 bytes.
func DERSignatureToRS(tlv []byte) ([]byte, []byte, error) {
	r, err := apdu.FindTagN(tlv, 0, tagECDSASignature, tagInteger)
	if err != nil {
		return nil, nil, err
	}

	s, err := apdu.FindTagN(tlv, 1, tagECDSASignature, tagInteger)
	if err != nil {
		return nil, nil, err
	}

	return leftPad32(r), leftPad32(s), nil
}

func (s *Signature) PubKey() []byte {
	return s.pubKey
}

func (s *Signature) R() []byte {
	return s.r
}

func (s *Signature) S() []byte {
	return s.s
}

func (s *Signature) V() byte {
	return s.v
}

// Bytes returns the signature in the [R || S || V] format used by Ecrecover.
func (s *Signature) Bytes() []byte {
	out := make([]byte, 0, recoverableSignatureLength)
	out = append(out, s.r...)
	out = append(out, s.s...)

	return append(out, s.v)
}

// Address returns the ethereum address of the signing key.
func (s *Signature) Address() (string, error) {
	pub, err := crypto.UnmarshalPubkey(s.pubKey)
	if err != nil {
		return "", err
	}

	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

func parseLegacySignature(message, template []byte) (*Signature, error) {
	pubKey, err := apdu.FindTag(template, TagRawSignature)
	if err != nil {
		return nil, err
	}

	r, s, err := DERSignatureToRS(template)
	if err != nil {
		return nil, err
	}

	v, err := calculateV(message, pubKey, r, s)
	if err != nil {
		return nil, err
	}

	return &Signature{
		pubKey: pubKey,
		r:      r,
		s:      s,
		v:      v,
	}, nil
}

func calculateV(message, pubKey, r, s []byte) (byte, error) {
	sig := make([]byte, recoverableSignatureLength)
	copy(sig, r)
	copy(sig[32:], s)

	for v := byte(0); v < 2; v++ {
		sig[64] = v
		rec, err := crypto.Ecrecover(message, sig)
		if err != nil {
			continue
		}

		if len(pubKey) == 33 {
			rec = compressPublicKey(rec)
		}

		if bytes.Equal(pubKey, rec) {
			return v, nil
		}
	}

	return 0, ErrRecoveryIDNotFound
}

func compressPublicKey(pubKey []byte) []byte {
	if len(pubKey) == 33 {
		return pubKey
	}

	pub, err := crypto.UnmarshalPubkey(pubKey)
	if err != nil {
		return nil
	}

	return crypto.CompressPubkey(pub)
}

func leftPad32(b []byte) []byte {
	if len(b) > 32 {
		return b[len(b)-32:]
	}

	out := make([]byte, 32)
	copy(out[32-len(b):], b)

	return out
}
