package types

import (
	"crypto/sha256"
	"errors"

	"github.com/status-im/keycard-proto/apdu"
)

var TagCertificate = apdu.Tag{0x8A}

const certificateLength = 98

var ErrInvalidCertificate = errors.New("certificate must be 98 byte long")

// Certificate binds the card identity key to the issuer key recovered from its signature.
type Certificate struct {
	identPub  []byte
	signature *Signature
}

func ParseCertificate(data []byte) (*Certificate, error) {
	if len(data) != certificateLength {
		return nil, ErrInvalidCertificate
	}

	identPub := data[0:33]
	sigData := data[33:98]
	msg := sha256.Sum256(identPub)

	sig, err := ParseRecoverableSignature(msg[:], sigData)
	if err != nil {
		return nil, err
	}

	return &Certificate{
		identPub:  identPub,
		signature: sig,
	}, nil
}

// IdentityPublicKey returns the compressed identity key of the card.
func (c *Certificate) IdentityPublicKey() []byte {
	return c.identPub
}

// VerifyIdentity checks the IDENTIFY response against the challenge and
// returns the compressed public key of the certificate issuer.
func VerifyIdentity(challenge []byte, tlvData []byte) ([]byte, error) {
	template, err := apdu.FindTag(tlvData, TagSignatureTemplate)
	if err != nil {
		return nil, err
	}

	certData, err := apdu.FindTag(template, TagCertificate)
	if err != nil {
		return nil, err
	}

	cert, err := ParseCertificate(certData)
	if err != nil {
		return nil, err
	}

	r, s, err := DERSignatureToRS(template)
	if err != nil {
		return nil, err
	}

	if _, err = calculateV(challenge, cert.identPub, r, s); err != nil {
		return nil, ErrInvalidSignature
	}

	return compressPublicKey(cert.signature.pubKey), nil
}
