package keycard

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"

	"github.com/status-im/keycard-proto/crypto"
)

const (
	pinLength         = 6
	pukLength         = 12
	pairingPassLength = 16

	digits           = "0123456789"
	pairingPassChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	ErrInvalidPIN = errors.New("pin must be 6 digits")
	ErrInvalidPUK = errors.New("puk must be 12 digits")
)

// Secrets are the credentials set on the card by INIT.
type Secrets struct {
	pin          string
	puk          string
	pairingPass  string
	pairingToken []byte
}

func NewSecrets(pin, puk, pairingPass string) (*Secrets, error) {
	if !isDigits(pin, pinLength) {
		return nil, ErrInvalidPIN
	}

	if !isDigits(puk, pukLength) {
		return nil, ErrInvalidPUK
	}

	return &Secrets{
		pin:          pin,
		puk:          puk,
		pairingPass:  pairingPass,
		pairingToken: crypto.PairingToken(pairingPass),
	}, nil
}

// GenerateSecrets returns random credentials.
func GenerateSecrets() (*Secrets, error) {
	return generateSecrets(rand.Reader)
}

func generateSecrets(r io.Reader) (*Secrets, error) {
	pin, err := randomString(r, digits, pinLength)
	if err != nil {
		return nil, err
	}

	puk, err := randomString(r, digits, pukLength)
	if err != nil {
		return nil, err
	}

	pairingPass, err := randomString(r, pairingPassChars, pairingPassLength)
	if err != nil {
		return nil, err
	}

	return NewSecrets(pin, puk, pairingPass)
}

func (s *Secrets) Pin() string {
	return s.pin
}

func (s *Secrets) Puk() string {
	return s.puk
}

func (s *Secrets) PairingPass() string {
	return s.pairingPass
}

func (s *Secrets) PairingToken() []byte {
	return s.pairingToken
}

// initData is the plaintext of the INIT command.
func (s *Secrets) initData() []byte {
	data := make([]byte, 0, pinLength+pukLength+len(s.pairingToken))
	data = append(data, s.pin...)
	data = append(data, s.puk...)

	return append(data, s.pairingToken...)
}

func randomString(r io.Reader, alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(r, max)
		if err != nil {
			return "", err
		}

		out[i] = alphabet[idx.Int64()]
	}

	return string(out), nil
}

func isDigits(s string, length int) bool {
	if len(s) != length {
		return false
	}

	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}

	return true
}
