// Package crypto implements the DES based primitives of the GlobalPlatform SCP02 protocol.
package crypto

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/subtle"
	"errors"
)

var (
	// PurposeEnc is the derivation constant of the session encryption key.
	PurposeEnc = []byte{0x01, 0x82}
	// PurposeMac is the derivation constant of the session C-MAC key.
	PurposeMac = []byte{0x01, 0x01}
	// NullICV is the initial chaining value of a session.
	NullICV = make([]byte, des.BlockSize)
)

var ErrInvalidKeyLength = errors.New("invalid DES key length, 16 bytes expected")

// DeriveSessionKey diversifies a 16 bytes static key with the 2 bytes sequence counter received from the card.
func DeriveSessionKey(staticKey, seq, purpose []byte) ([]byte, error) {
	block, err := tripleDES(staticKey)
	if err != nil {
		return nil, err
	}

	derivation := make([]byte, 16)
	copy(derivation, purpose[:2])
	copy(derivation[2:], seq[:2])

	out := make([]byte, 16)
	cipher.NewCBCEncrypter(block, NullICV).CryptBlocks(out, derivation)

	return out, nil
}

// Cryptogram computes an authentication cryptogram over first || second.
// The card cryptogram is Cryptogram(enc, hostChallenge, cardChallenge), the host one swaps the challenges.
func Cryptogram(encKey, first, second []byte) ([]byte, error) {
	data := make([]byte, 0, len(first)+len(second))
	data = append(data, first...)
	data = append(data, second...)

	return Mac3DES(encKey, Pad(data), NullICV)
}

// VerifyCryptogram returns true if expected matches the cryptogram computed over first || second.
func VerifyCryptogram(encKey, first, second, expected []byte) (bool, error) {
	calculated, err := Cryptogram(encKey, first, second)
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare(calculated, expected) == 1, nil
}

// Mac3DES returns the last block of the 3DES-CBC encryption of data. Data must be padded.
func Mac3DES(key, data, icv []byte) ([]byte, error) {
	block, err := tripleDES(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, icv).CryptBlocks(out, data)

	return out[len(out)-des.BlockSize:], nil
}

// RetailMAC computes the ISO 9797-1 algorithm 3 MAC of data: single DES chaining
// with the first half of the key and a final 3DES block. Data is padded here.
func RetailMAC(key, data, icv []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, ErrInvalidKeyLength
	}

	data = Pad(data)

	single, err := des.NewCipher(key[:8])
	if err != nil {
		return nil, err
	}

	triple, err := tripleDES(key)
	if err != nil {
		return nil, err
	}

	chain := icv
	if head := len(data) - des.BlockSize; head > 0 {
		tmp := make([]byte, head)
		cipher.NewCBCEncrypter(single, icv).CryptBlocks(tmp, data[:head])
		chain = tmp[head-des.BlockSize:]
	}

	out := make([]byte, des.BlockSize)
	cipher.NewCBCEncrypter(triple, chain).CryptBlocks(out, data[len(data)-des.BlockSize:])

	return out, nil
}

// EncryptICV encrypts the previous MAC with the first half of the MAC key, giving the next ICV.
func EncryptICV(macKey, mac []byte) ([]byte, error) {
	if len(macKey) != 16 {
		return nil, ErrInvalidKeyLength
	}

	block, err := des.NewCipher(macKey[:8])
	if err != nil {
		return nil, err
	}

	out := make([]byte, des.BlockSize)
	block.Encrypt(out, mac)

	return out, nil
}

// Pad appends 0x80 and as many zero bytes as needed to reach a multiple of 8 bytes.
func Pad(data []byte) []byte {
	size := len(data) + des.BlockSize - len(data)%des.BlockSize
	out := make([]byte, size)
	copy(out, data)
	out[len(data)] = 0x80

	return out
}

func tripleDES(key []byte) (cipher.Block, error) {
	if len(key) != 16 {
		return nil, ErrInvalidKeyLength
	}

	return des.NewTripleDESCipher(expandKey(key))
}

// expandKey turns a 2-key 3DES key into its 24 bytes K1 K2 K1 form.
func expandKey(key []byte) []byte {
	out := make([]byte, 24)
	copy(out, key[:16])
	copy(out[16:], key[:8])

	return out
}
