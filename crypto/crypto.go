// Package crypto implements the primitives of the Keycard secure channel:
// ECDH over secp256k1, AES-CBC with ISO 9797-1 padding and AES CBC-MAC.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

const (
	PairingTokenSalt       = "Keycard Pairing Password Salt"
	pairingTokenIterations = 50000

	KeyLength  = 32
	BlockSize  = aes.BlockSize
	SaltLength = 32
)

var (
	ErrInvalidCardCryptogram = errors.New("invalid card cryptogram")
	ErrInvalidPadding        = errors.New("invalid padding")
	ErrInvalidCardData       = errors.New("invalid open secure channel response length")
	ErrInvalidBlockLength    = errors.New("data is not a multiple of the block size")
)

// PairingToken derives the 32 bytes pairing token from the pairing password.
func PairingToken(password string) []byte {
	return pbkdf2.Key(norm.NFKD.Bytes([]byte(password)), norm.NFKD.Bytes([]byte(PairingTokenSalt)), pairingTokenIterations, KeyLength, sha256.New)
}

// Cryptogram returns sha256(token || challenge), the proof of knowledge of the pairing token.
func Cryptogram(token, challenge []byte) []byte {
	h := sha256.New()
	h.Write(token)
	h.Write(challenge)

	return h.Sum(nil)
}

// VerifyCryptogram checks the cryptogram sent by the card during the first pairing step.
func VerifyCryptogram(token, challenge, cardCryptogram []byte) error {
	if subtle.ConstantTimeCompare(Cryptogram(token, challenge), cardCryptogram) != 1 {
		return ErrInvalidCardCryptogram
	}

	return nil
}

// ECDH returns the x coordinate of the shared point, left padded to 32 bytes.
func ECDH(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) []byte {
	x, _ := crypto.S256().ScalarMult(pub.X, pub.Y, priv.D.Bytes())
	return x.FillBytes(make([]byte, KeyLength))
}

// DeriveSessionKeys splits the OPEN SECURE CHANNEL response in salt and IV and derives the session keys.
func DeriveSessionKeys(secret, pairingKey, cardData []byte) (encKey, macKey, iv []byte, err error) {
	if len(cardData) != SaltLength+BlockSize {
		return nil, nil, nil, ErrInvalidCardData
	}

	h := sha512.New()
	h.Write(secret)
	h.Write(pairingKey)
	h.Write(cardData[:SaltLength])
	keys := h.Sum(nil)

	iv = append([]byte{}, cardData[SaltLength:]...)

	return keys[:KeyLength], keys[KeyLength:], iv, nil
}

func EncryptData(data, encKey, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	data = Pad(data)
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)

	return out, nil
}

func DecryptData(data, encKey, iv []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, ErrInvalidBlockLength
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	return Unpad(out)
}

// CalculateMac returns the AES CBC-MAC of meta || pad(data) with a null IV.
// The padding block is excluded, the MAC is the last block of data.
func CalculateMac(meta, data, macKey []byte) ([]byte, error) {
	if len(meta) != BlockSize {
		return nil, ErrInvalidBlockLength
	}

	block, err := aes.NewCipher(macKey)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, BlockSize+len(data)+BlockSize)
	buf = append(buf, meta...)
	buf = append(buf, Pad(data)...)

	cipher.NewCBCEncrypter(block, make([]byte, BlockSize)).CryptBlocks(buf, buf)

	return buf[len(buf)-2*BlockSize : len(buf)-BlockSize], nil
}

// OneShotEncrypt encrypts data for the INIT command, which runs before any pairing exists.
// The result is len(pubKey) || pubKey || iv || ciphertext.
func OneShotEncrypt(rand io.Reader, pubKey, secret, data []byte) ([]byte, error) {
	iv := make([]byte, BlockSize)
	if _, err := io.ReadFull(rand, iv); err != nil {
		return nil, err
	}

	ciphertext, err := EncryptData(data, secret, iv)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(pubKey)+len(iv)+len(ciphertext))
	out = append(out, byte(len(pubKey)))
	out = append(out, pubKey...)
	out = append(out, iv...)

	return append(out, ciphertext...), nil
}

// Pad appends 0x80 and zeros up to the next multiple of the block size.
func Pad(data []byte) []byte {
	out := make([]byte, len(data)+BlockSize-len(data)%BlockSize)
	copy(out, data)
	out[len(data)] = 0x80

	return out
}

// Unpad removes the padding added by Pad.
func Unpad(data []byte) ([]byte, error) {
	for i := len(data) - 1; i >= 0 && i >= len(data)-BlockSize; i-- {
		switch data[i] {
		case 0x80:
			return data[:i], nil
		case 0x00:
		default:
			return nil, ErrInvalidPadding
		}
	}

	return nil, ErrInvalidPadding
}
