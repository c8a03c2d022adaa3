package keycard

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/crypto"
	"github.com/status-im/keycard-proto/hexutils"
	"github.com/status-im/keycard-proto/processor"
	"github.com/status-im/keycard-proto/securechannel"
	"github.com/status-im/keycard-proto/types"
)

const (
	// MaxPayloadLength is the biggest plaintext a single protected command can carry.
	MaxPayloadLength = 223

	macLength              = crypto.BlockSize
	mutualAuthChallengeLen = 32
	pairingChallengeLength = 32
)

// SecureChannel is the Keycard secure channel processor. Once opened, command
// data is encrypted with the session key and authenticated with a CBC-MAC
// chained through the IV. Responses are checked and decrypted the same way.
type SecureChannel struct {
	rand     io.Reader
	state    securechannel.State
	sessions uint64
	encKey   []byte
	macKey   []byte
	iv       []byte
}

func NewSecureChannel() *SecureChannel {
	return &SecureChannel{
		rand:  rand.Reader,
		state: securechannel.Unauthenticated,
	}
}

func (sc *SecureChannel) String() string {
	return "keycard-sc"
}

func (sc *SecureChannel) State() securechannel.State {
	return sc.state
}

// Session identifies the established session. It is 0 when no session is
// established and changes every time one is.
func (sc *SecureChannel) Session() uint64 {
	if sc.state != securechannel.Established {
		return 0
	}

	return sc.sessions
}

func (sc *SecureChannel) IsActive() bool {
	switch sc.state {
	case securechannel.Established, securechannel.Closed:
		return true
	case securechannel.Authenticating:
		return sc.encKey != nil
	default:
		return false
	}
}

func (sc *SecureChannel) SecurityLevel() processor.SecurityLevel {
	if sc.state != securechannel.Established {
		return processor.SecurityLevelNone
	}

	return processor.Authenticated | processor.MACProtected | processor.Encrypted
}

// Open runs OPEN SECURE CHANNEL and MUTUALLY AUTHENTICATE through ch, which
// must be the executor this channel is part of. A fresh ephemeral key is
// generated for every session.
func (sc *SecureChannel) Open(ch types.Channel, pairing *types.PairingInfo, cardPubKey []byte) error {
	sc.Reset()

	cardKey, err := ethcrypto.UnmarshalPubkey(cardPubKey)
	if err != nil {
		return err
	}

	key, err := ecdsa.GenerateKey(ethcrypto.S256(), sc.rand)
	if err != nil {
		return err
	}

	secret := crypto.ECDH(key, cardKey)
	defer securechannel.Zero(secret)

	sc.state = securechannel.Authenticating
	resp, err := ch.Execute(NewCommandOpenSecureChannel(uint8(pairing.Index), ethcrypto.FromECDSAPub(&key.PublicKey)))
	if err != nil {
		sc.close()
		return sc.authError(err)
	}

	encKey, macKey, iv, err := crypto.DeriveSessionKeys(secret, pairing.Key, resp.Data)
	if err != nil {
		sc.close()
		return fmt.Errorf("%w: %w", securechannel.ErrAuthenticationFailed, err)
	}

	sc.init(encKey, macKey, iv)

	challenge := make([]byte, mutualAuthChallengeLen)
	if _, err := io.ReadFull(sc.rand, challenge); err != nil {
		sc.close()
		return err
	}

	resp, err = ch.Execute(NewCommandMutuallyAuthenticate(challenge))
	if err != nil {
		sc.close()
		return sc.authError(err)
	}

	if len(resp.Data) != mutualAuthChallengeLen {
		sc.close()
		return fmt.Errorf("%w: mutual authentication response is %d bytes", securechannel.ErrAuthenticationFailed, len(resp.Data))
	}

	logger.Debug("keycard secure channel established", "pairing index", pairing.Index)
	sc.sessions++
	sc.state = securechannel.Established

	return nil
}

// OneShotEncrypt encrypts the INIT payload for a card that has no pairing yet,
// using an ephemeral key agreed with the card public key.
func (sc *SecureChannel) OneShotEncrypt(cardPubKey []byte, secrets *Secrets) ([]byte, error) {
	cardKey, err := ethcrypto.UnmarshalPubkey(cardPubKey)
	if err != nil {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(ethcrypto.S256(), sc.rand)
	if err != nil {
		return nil, err
	}

	secret := crypto.ECDH(key, cardKey)
	defer securechannel.Zero(secret)

	data := secrets.initData()
	defer securechannel.Zero(data)

	return crypto.OneShotEncrypt(sc.rand, ethcrypto.FromECDSAPub(&key.PublicKey), secret, data)
}

func (sc *SecureChannel) Process(cmd []byte, next processor.Transmitter) ([]byte, error) {
	if sc.state == securechannel.Closed {
		return nil, securechannel.ErrChannelClosed
	}

	parsed, err := apdu.ParseCommand(cmd)
	if err != nil {
		return nil, err
	}

	if len(parsed.Data) > MaxPayloadLength {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLong, len(parsed.Data), MaxPayloadLength)
	}

	wrapped, err := sc.wrap(parsed)
	if err != nil {
		return nil, err
	}

	raw, err := wrapped.Serialize()
	if err != nil {
		return nil, err
	}

	logger.Debug("wrapped apdu command", "hex", hexutils.BytesToHexWithSpaces(raw))
	rawResp, err := next.Transmit(raw)
	if err != nil {
		sc.close()
		return nil, err
	}

	plain, err := sc.unwrap(rawResp)
	if err != nil {
		sc.close()
		return nil, err
	}

	return plain, nil
}

// Reset drops the session keys, the channel can be opened again.
func (sc *SecureChannel) Reset() {
	sc.zero()
	sc.state = securechannel.Unauthenticated
}

func (sc *SecureChannel) init(encKey, macKey, iv []byte) {
	sc.encKey = encKey
	sc.macKey = macKey
	sc.iv = iv
}

func (sc *SecureChannel) wrap(cmd *apdu.Command) (*apdu.Command, error) {
	encData, err := crypto.EncryptData(cmd.Data, sc.encKey, sc.iv)
	if err != nil {
		return nil, err
	}

	meta := make([]byte, crypto.BlockSize)
	meta[0], meta[1], meta[2], meta[3] = cmd.Cla, cmd.Ins, cmd.P1, cmd.P2
	meta[4] = byte(len(encData) + macLength)

	mac, err := crypto.CalculateMac(meta, encData, sc.macKey)
	if err != nil {
		return nil, err
	}

	sc.iv = mac

	data := make([]byte, 0, macLength+len(encData))
	data = append(data, mac...)
	data = append(data, encData...)

	wrapped := apdu.NewCommand(cmd.Cla, cmd.Ins, cmd.P1, cmd.P2, data)
	if ok, ne := cmd.Ne(); ok {
		if err := wrapped.SetNe(ne); err != nil {
			return nil, err
		}
	}

	return wrapped, nil
}

func (sc *SecureChannel) unwrap(raw []byte) ([]byte, error) {
	resp, err := apdu.ParseResponse(raw)
	if err != nil {
		return nil, &securechannel.IntegrityError{Reason: "malformed response"}
	}

	if resp.Sw != apdu.SwOK {
		return nil, &securechannel.IntegrityError{Reason: "unprotected response", Sw: resp.Sw}
	}

	if len(resp.Data) < macLength+crypto.BlockSize || len(resp.Data)%crypto.BlockSize != 0 {
		return nil, &securechannel.IntegrityError{Reason: fmt.Sprintf("invalid protected response length %d", len(resp.Data))}
	}

	rmac := resp.Data[:macLength]
	rdata := resp.Data[macLength:]

	plain, decErr := crypto.DecryptData(rdata, sc.encKey, sc.iv)

	meta := make([]byte, crypto.BlockSize)
	meta[0] = byte(len(resp.Data))

	mac, err := crypto.CalculateMac(meta, rdata, sc.macKey)
	if err != nil {
		return nil, err
	}

	sc.iv = mac

	if subtle.ConstantTimeCompare(mac, rmac) != 1 {
		return nil, &securechannel.IntegrityError{Reason: "invalid response MAC"}
	}

	if decErr != nil {
		return nil, &securechannel.IntegrityError{Reason: decErr.Error()}
	}

	if len(plain) < 2 {
		return nil, &securechannel.IntegrityError{Reason: "missing inner status word"}
	}

	return plain, nil
}

// authError maps failures of the authentication exchanges. Card refusals and
// unverifiable responses mean the pairing is wrong, anything else is returned as is.
func (sc *SecureChannel) authError(err error) error {
	var (
		cardErr      *apdu.ErrBadResponse
		integrityErr *securechannel.IntegrityError
	)

	if errors.As(err, &cardErr) || errors.As(err, &integrityErr) {
		return fmt.Errorf("%w: %w", securechannel.ErrAuthenticationFailed, err)
	}

	return err
}

func (sc *SecureChannel) close() {
	sc.zero()
	sc.state = securechannel.Closed
}

func (sc *SecureChannel) zero() {
	securechannel.Zero(sc.encKey, sc.macKey, sc.iv)
	sc.encKey = nil
	sc.macKey = nil
	sc.iv = nil
}
