package types

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/status-im/keycard-proto/apdu"
)

var (
	TagExportKeyTemplate  = apdu.Tag{0xA1}
	TagExportKeyPublic    = apdu.Tag{0x80}
	TagExportKeyPrivate   = apdu.Tag{0x81}
	TagExportKeyChainCode = apdu.Tag{0x82}
)

var ErrPrivateKeyExported = errors.New("card returned private key material")

// PublicKeyInfo is the public part of a key exported by the card.
// ChainCode is only set for extended public keys.
type PublicKeyInfo struct {
	PublicKey []byte
	ChainCode []byte
	Path      string
}

// Address returns the ethereum address of the key.
func (k *PublicKeyInfo) Address() (string, error) {
	pub, err := ethcrypto.UnmarshalPubkey(k.PublicKey)
	if err != nil {
		return "", err
	}

	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

// ParsePublicKeyInfo parses an EXPORT KEY response. Responses carrying a
// private key are rejected so it never goes further than this function.
func ParsePublicKeyInfo(data []byte, path string) (*PublicKeyInfo, error) {
	tpl, err := apdu.FindTag(data, TagExportKeyTemplate)
	if err != nil {
		return nil, err
	}

	if priv, err := apdu.FindTag(tpl, TagExportKeyPrivate); err == nil {
		for i := range priv {
			priv[i] = 0
		}

		return nil, ErrPrivateKeyExported
	}

	pubKey, err := apdu.FindTag(tpl, TagExportKeyPublic)
	if err != nil {
		return nil, err
	}

	if _, err := ethcrypto.UnmarshalPubkey(pubKey); err != nil {
		return nil, err
	}

	info := &PublicKeyInfo{
		PublicKey: pubKey,
		Path:      path,
	}

	if chainCode, err := apdu.FindTag(tpl, TagExportKeyChainCode); err == nil {
		info.ChainCode = chainCode
	}

	return info, nil
}
