package keycard

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/crypto"
	"github.com/status-im/keycard-proto/derivationpath"
	"github.com/stretchr/testify/require"
)

const (
	emulatorPINRetries = 3
	emulatorPUKRetries = 5
)

// cardEmulator is an in-memory Keycard applet speaking the secure channel
// protocol. Key derivation is simulated: child keys are hashes of the master
// key and the path, which is enough to check which key signed.
type cardEmulator struct {
	t *testing.T

	scKey       *ecdsa.PrivateKey
	initialized bool
	pin         string
	puk         string
	pinRetries  int
	pukRetries  int
	token       []byte
	pairings    map[uint8][]byte
	maxPairings int

	cardChallenge []byte

	master      *ecdsa.PrivateKey
	currentPath []uint32
	pinlessPath []uint32
	data        map[uint8][]byte

	encKey        []byte
	macKey        []byte
	iv            []byte
	authenticated bool
	pinVerified   bool

	absent         bool
	connected      bool
	corruptNextMAC bool
	tamperNextCmd  bool
	sent           [][]byte
}

func newCardEmulator(t *testing.T) *cardEmulator {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	return &cardEmulator{
		t:           t,
		scKey:       key,
		pairings:    make(map[uint8][]byte),
		maxPairings: 5,
		data:        make(map[uint8][]byte),
		connected:   true,
	}
}

func (e *cardEmulator) Transmit(raw []byte) ([]byte, error) {
	e.sent = append(e.sent, append([]byte{}, raw...))

	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		return swBytes(apdu.SwWrongData), nil
	}

	if cmd.Cla == 0x00 && cmd.Ins == 0xA4 {
		return e.selectApplet(), nil
	}

	if e.encKey != nil && cmd.Ins != InsOpenSecureChannel {
		// flips a bit of the command MAC as if altered on the way to the card
		if e.tamperNextCmd && len(cmd.Data) > 0 {
			e.tamperNextCmd = false
			cmd.Data[0] ^= 0x01
		}

		return e.secured(cmd), nil
	}

	switch cmd.Ins {
	case InsInit:
		return swBytes(e.init(cmd.Data)), nil
	case InsPair:
		data, sw := e.pair(cmd)
		return respond(data, sw), nil
	case InsOpenSecureChannel:
		data, sw := e.openSecureChannel(cmd)
		return respond(data, sw), nil
	case InsSign:
		if cmd.P1 != P1SignPinless {
			return swBytes(apdu.SwConditionsNotSatisfied), nil
		}

		if e.pinlessPath == nil {
			return swBytes(apdu.SwReferencedDataNotFound), nil
		}

		data, sw := e.sign(cmd.Data[:32], e.pinlessPath)
		return respond(data, sw), nil
	case InsFactoryReset:
		return swBytes(e.factoryReset(cmd)), nil
	default:
		return swBytes(apdu.SwConditionsNotSatisfied), nil
	}
}

func (e *cardEmulator) IsConnected() bool {
	return e.connected
}

func (e *cardEmulator) Reset() error {
	e.dropSession()
	e.connected = true

	return nil
}

func (e *cardEmulator) dropSession() {
	e.encKey = nil
	e.macKey = nil
	e.iv = nil
	e.authenticated = false
	e.pinVerified = false
}

func (e *cardEmulator) selectApplet() []byte {
	e.dropSession()

	if e.absent {
		return swBytes(apdu.SwFileNotFound)
	}

	pubKey := ethcrypto.FromECDSAPub(&e.scKey.PublicKey)
	if !e.initialized {
		buf := new(bytes.Buffer)
		apdu.WriteTLV(buf, apdu.Tag{0x80}, pubKey)

		return respond(buf.Bytes(), apdu.SwOK)
	}

	tpl := new(bytes.Buffer)
	apdu.WriteTLV(tpl, apdu.Tag{0x8F}, bytes.Repeat([]byte{0xAB}, 16))
	apdu.WriteTLV(tpl, apdu.Tag{0x80}, pubKey)
	apdu.WriteTLV(tpl, apdu.Tag{0x02}, []byte{0x03, 0x01})
	apdu.WriteTLV(tpl, apdu.Tag{0x02}, []byte{byte(e.maxPairings - len(e.pairings))})
	apdu.WriteTLV(tpl, apdu.Tag{0x8E}, e.keyUID())
	apdu.WriteTLV(tpl, apdu.Tag{0x8D}, []byte{0x0F})

	buf := new(bytes.Buffer)
	apdu.WriteTLV(buf, apdu.Tag{0xA4}, tpl.Bytes())

	return respond(buf.Bytes(), apdu.SwOK)
}

func (e *cardEmulator) init(data []byte) uint16 {
	if e.initialized {
		return apdu.SwInsNotSupported
	}

	l := int(data[0])
	hostKey, err := ethcrypto.UnmarshalPubkey(data[1 : 1+l])
	if err != nil {
		return apdu.SwWrongData
	}

	secret := crypto.ECDH(e.scKey, hostKey)
	iv := data[1+l : 1+l+crypto.BlockSize]
	plain, err := crypto.DecryptData(data[1+l+crypto.BlockSize:], secret, iv)
	if err != nil || len(plain) != pinLength+pukLength+crypto.KeyLength {
		return apdu.SwWrongData
	}

	e.pin = string(plain[:pinLength])
	e.puk = string(plain[pinLength : pinLength+pukLength])
	e.token = append([]byte{}, plain[pinLength+pukLength:]...)
	e.pinRetries = emulatorPINRetries
	e.pukRetries = emulatorPUKRetries
	e.initialized = true

	return apdu.SwOK
}

func (e *cardEmulator) pair(cmd *apdu.Command) ([]byte, uint16) {
	switch cmd.P1 {
	case P1PairingFirstStep:
		if len(e.pairings) >= e.maxPairings {
			return nil, SwNoAvailablePairingSlots
		}

		e.cardChallenge = randomBytes(e.t, 32)
		cryptogram := crypto.Cryptogram(e.token, cmd.Data)

		return append(cryptogram, e.cardChallenge...), apdu.SwOK
	case P1PairingFinalStep:
		if e.cardChallenge == nil || !bytes.Equal(cmd.Data, crypto.Cryptogram(e.token, e.cardChallenge)) {
			return nil, apdu.SwSecurityConditionNotSatisfied
		}

		e.cardChallenge = nil
		index := e.freeSlot()
		salt := randomBytes(e.t, crypto.SaltLength)
		e.pairings[index] = crypto.Cryptogram(e.token, salt)

		return append([]byte{index}, salt...), apdu.SwOK
	default:
		return nil, apdu.SwIncorrectP1P2
	}
}

func (e *cardEmulator) freeSlot() uint8 {
	for i := uint8(0); ; i++ {
		if _, ok := e.pairings[i]; !ok {
			return i
		}
	}
}

func (e *cardEmulator) openSecureChannel(cmd *apdu.Command) ([]byte, uint16) {
	e.dropSession()

	pairingKey, ok := e.pairings[cmd.P1]
	if !ok {
		return nil, apdu.SwIncorrectP1P2
	}

	hostKey, err := ethcrypto.UnmarshalPubkey(cmd.Data)
	if err != nil {
		return nil, apdu.SwWrongData
	}

	cardData := randomBytes(e.t, crypto.SaltLength+crypto.BlockSize)
	encKey, macKey, iv, err := crypto.DeriveSessionKeys(crypto.ECDH(e.scKey, hostKey), pairingKey, cardData)
	require.NoError(e.t, err)

	e.encKey, e.macKey, e.iv = encKey, macKey, iv

	return cardData, apdu.SwOK
}

// secured unwraps a protected command, runs it and wraps the inner response.
// Any verification failure drops the session and answers in clear.
func (e *cardEmulator) secured(cmd *apdu.Command) []byte {
	data := cmd.Data
	if len(data) < 2*crypto.BlockSize || len(data)%crypto.BlockSize != 0 {
		e.dropSession()
		return swBytes(apdu.SwSecurityConditionNotSatisfied)
	}

	meta := make([]byte, crypto.BlockSize)
	meta[0], meta[1], meta[2], meta[3], meta[4] = cmd.Cla, cmd.Ins, cmd.P1, cmd.P2, byte(len(data))

	mac, enc := data[:crypto.BlockSize], data[crypto.BlockSize:]
	expected, err := crypto.CalculateMac(meta, enc, e.macKey)
	require.NoError(e.t, err)

	if !bytes.Equal(expected, mac) {
		e.dropSession()
		return swBytes(apdu.SwSecurityConditionNotSatisfied)
	}

	plain, err := crypto.DecryptData(enc, e.encKey, e.iv)
	if err != nil {
		e.dropSession()
		return swBytes(apdu.SwSecurityConditionNotSatisfied)
	}

	e.iv = append([]byte{}, mac...)

	if !e.authenticated && cmd.Ins != InsMutuallyAuthenticate {
		e.dropSession()
		return swBytes(apdu.SwSecurityConditionNotSatisfied)
	}

	respData, sw := e.handle(apdu.NewCommand(cmd.Cla, cmd.Ins, cmd.P1, cmd.P2, plain))

	return e.wrapResponse(respond(respData, sw))
}

func (e *cardEmulator) wrapResponse(plain []byte) []byte {
	enc, err := crypto.EncryptData(plain, e.encKey, e.iv)
	require.NoError(e.t, err)

	meta := make([]byte, crypto.BlockSize)
	meta[0] = byte(len(enc) + crypto.BlockSize)

	mac, err := crypto.CalculateMac(meta, enc, e.macKey)
	require.NoError(e.t, err)

	e.iv = append([]byte{}, mac...)

	if e.corruptNextMAC {
		e.corruptNextMAC = false
		mac[0] ^= 0xFF
	}

	return respond(append(mac, enc...), apdu.SwOK)
}

func (e *cardEmulator) handle(cmd *apdu.Command) ([]byte, uint16) {
	switch cmd.Ins {
	case InsMutuallyAuthenticate:
		if e.authenticated {
			return nil, apdu.SwConditionsNotSatisfied
		}

		e.authenticated = true

		return randomBytes(e.t, 32), apdu.SwOK
	case InsVerifyPIN:
		return nil, e.verifyPIN(string(cmd.Data))
	case InsUnblockPIN:
		return nil, e.unblockPIN(cmd.Data)
	case InsChangePIN:
		return nil, e.changeCredential(cmd)
	case InsGetStatus:
		return e.status(cmd.P1)
	case InsUnpair:
		if !e.pinVerified {
			return nil, apdu.SwSecurityConditionNotSatisfied
		}

		delete(e.pairings, cmd.P1)

		return nil, apdu.SwOK
	case InsFactoryReset:
		return nil, e.factoryReset(cmd)
	}

	if !e.pinVerified {
		return nil, apdu.SwConditionsNotSatisfied
	}

	switch cmd.Ins {
	case InsLoadKey:
		seed := sha256.Sum256(cmd.Data)
		return e.loadKey(seed[:])
	case InsGenerateKey:
		return e.loadKey(randomBytes(e.t, 32))
	case InsRemoveKey:
		e.master = nil
		e.currentPath = nil

		return nil, apdu.SwOK
	case InsGenerateMnemonic:
		if cmd.P1 < 4 || cmd.P1 > 8 {
			return nil, apdu.SwIncorrectP1P2
		}

		out := make([]byte, 0)
		for i := 0; i < int(cmd.P1)*3; i++ {
			out = append(out, 0x00, byte(i))
		}

		return out, apdu.SwOK
	case InsDeriveKey:
		if e.master == nil {
			return nil, apdu.SwReferencedDataNotFound
		}

		path, ok := e.resolve(cmd.P1, cmd.Data)
		if !ok {
			return nil, apdu.SwWrongData
		}

		e.currentPath = path

		return nil, apdu.SwOK
	case InsExportKey:
		return e.exportKey(cmd)
	case InsSign:
		if e.master == nil {
			return nil, apdu.SwReferencedDataNotFound
		}

		if len(cmd.Data) < 32 || cmd.P1&0x03 == P1SignPinless {
			return nil, apdu.SwWrongData
		}

		path := e.currentPath
		if cmd.P1&0x03 != P1SignCurrentKey {
			var ok bool
			if path, ok = e.resolve(cmd.P1, cmd.Data[32:]); !ok {
				return nil, apdu.SwWrongData
			}
		}

		if cmd.P1&0x03 == P1SignDeriveAndMakeCurrent {
			e.currentPath = path
		}

		return e.sign(cmd.Data[:32], path)
	case InsSetPinlessPath:
		path, err := derivationpath.FromBytes(cmd.Data)
		if err != nil {
			return nil, apdu.SwWrongData
		}

		e.pinlessPath = path

		return nil, apdu.SwOK
	case InsGetData:
		return e.data[cmd.P1], apdu.SwOK
	case InsStoreData:
		e.data[cmd.P1] = append([]byte{}, cmd.Data...)
		return nil, apdu.SwOK
	default:
		return nil, apdu.SwInsNotSupported
	}
}

func (e *cardEmulator) verifyPIN(pin string) uint16 {
	if e.pinRetries == 0 {
		return apdu.SwAuthenticationMethodBlocked
	}

	if pin == e.pin {
		e.pinRetries = emulatorPINRetries
		e.pinVerified = true

		return apdu.SwOK
	}

	e.pinRetries--
	e.pinVerified = false

	return 0x63C0 | uint16(e.pinRetries)
}

func (e *cardEmulator) unblockPIN(data []byte) uint16 {
	if e.pukRetries == 0 {
		return apdu.SwAuthenticationMethodBlocked
	}

	if len(data) != pukLength+pinLength {
		return apdu.SwWrongData
	}

	if string(data[:pukLength]) == e.puk {
		e.pin = string(data[pukLength:])
		e.pinRetries = emulatorPINRetries
		e.pukRetries = emulatorPUKRetries
		e.pinVerified = true

		return apdu.SwOK
	}

	e.pukRetries--

	return 0x63C0 | uint16(e.pukRetries)
}

func (e *cardEmulator) changeCredential(cmd *apdu.Command) uint16 {
	if !e.pinVerified {
		return apdu.SwConditionsNotSatisfied
	}

	switch cmd.P1 {
	case P1ChangePinPIN:
		e.pin = string(cmd.Data)
	case P1ChangePinPUK:
		e.puk = string(cmd.Data)
	case P1ChangePinPairingSecret:
		e.token = append([]byte{}, cmd.Data...)
	default:
		return apdu.SwIncorrectP1P2
	}

	return apdu.SwOK
}

func (e *cardEmulator) status(p1 uint8) ([]byte, uint16) {
	if p1 == P1GetStatusKeyPath {
		return derivationpath.ToBytes(e.currentPath), apdu.SwOK
	}

	keyInitialized := byte(0x00)
	if e.master != nil {
		keyInitialized = 0xFF
	}

	tpl := new(bytes.Buffer)
	apdu.WriteTLV(tpl, apdu.Tag{0x02}, []byte{byte(e.pinRetries)})
	apdu.WriteTLV(tpl, apdu.Tag{0x02}, []byte{byte(e.pukRetries)})
	apdu.WriteTLV(tpl, apdu.Tag{0x01}, []byte{keyInitialized})

	buf := new(bytes.Buffer)
	apdu.WriteTLV(buf, apdu.Tag{0xA3}, tpl.Bytes())

	return buf.Bytes(), apdu.SwOK
}

func (e *cardEmulator) loadKey(seed []byte) ([]byte, uint16) {
	key, err := ethcrypto.ToECDSA(seed)
	require.NoError(e.t, err)

	e.master = key
	e.currentPath = []uint32{}

	return e.keyUID(), apdu.SwOK
}

func (e *cardEmulator) exportKey(cmd *apdu.Command) ([]byte, uint16) {
	if e.master == nil {
		return nil, apdu.SwReferencedDataNotFound
	}

	if cmd.P2 == P2ExportKeyPrivateAndPublic {
		return nil, apdu.SwIncorrectP1P2
	}

	path := e.currentPath
	if cmd.P1&0x0F != P1ExportKeyCurrent {
		var ok bool
		if path, ok = e.resolve(cmd.P1, cmd.Data); !ok {
			return nil, apdu.SwWrongData
		}
	}

	if cmd.P1&0x0F == P1ExportKeyDeriveAndMakeCurrent {
		e.currentPath = path
	}

	key := e.deriveKey(path)

	tpl := new(bytes.Buffer)
	apdu.WriteTLV(tpl, apdu.Tag{0x80}, ethcrypto.FromECDSAPub(&key.PublicKey))
	if cmd.P2 == P2ExportKeyExtendedPublic {
		chainCode := sha256.Sum256(append([]byte("chain"), derivationpath.ToBytes(path)...))
		apdu.WriteTLV(tpl, apdu.Tag{0x82}, chainCode[:])
	}

	buf := new(bytes.Buffer)
	apdu.WriteTLV(buf, apdu.Tag{0xA1}, tpl.Bytes())

	return buf.Bytes(), apdu.SwOK
}

func (e *cardEmulator) sign(digest []byte, path []uint32) ([]byte, uint16) {
	if e.master == nil {
		return nil, apdu.SwReferencedDataNotFound
	}

	sig, err := ethcrypto.Sign(digest, e.deriveKey(path))
	require.NoError(e.t, err)

	buf := new(bytes.Buffer)
	apdu.WriteTLV(buf, apdu.Tag{0x80}, sig)

	return buf.Bytes(), apdu.SwOK
}

func (e *cardEmulator) factoryReset(cmd *apdu.Command) uint16 {
	if cmd.P1 != P1FactoryResetMagic || cmd.P2 != P2FactoryResetMagic {
		return apdu.SwIncorrectP1P2
	}

	e.initialized = false
	e.pairings = make(map[uint8][]byte)
	e.master = nil
	e.currentPath = nil
	e.pinlessPath = nil
	e.data = make(map[uint8][]byte)

	return apdu.SwOK
}

func (e *cardEmulator) resolve(p1 uint8, data []byte) ([]uint32, bool) {
	path, err := derivationpath.FromBytes(data)
	if err != nil {
		return nil, false
	}

	var base []uint32
	switch p1 & 0xC0 {
	case P1DeriveKeyFromMaster:
		base = []uint32{}
	case P1DeriveKeyFromParent:
		if len(e.currentPath) == 0 {
			return nil, false
		}
		base = append([]uint32{}, e.currentPath[:len(e.currentPath)-1]...)
	case P1DeriveKeyFromCurrent:
		base = append([]uint32{}, e.currentPath...)
	default:
		return nil, false
	}

	return append(base, path...), true
}

func (e *cardEmulator) deriveKey(path []uint32) *ecdsa.PrivateKey {
	if len(path) == 0 {
		return e.master
	}

	d := sha256.Sum256(append(ethcrypto.FromECDSA(e.master), derivationpath.ToBytes(path)...))
	key, err := ethcrypto.ToECDSA(d[:])
	require.NoError(e.t, err)

	return key
}

func (e *cardEmulator) keyUID() []byte {
	if e.master == nil {
		return []byte{}
	}

	uid := sha256.Sum256(ethcrypto.FromECDSAPub(&e.master.PublicKey))

	return uid[:]
}

func (e *cardEmulator) publicKeyAt(path []uint32) []byte {
	return ethcrypto.FromECDSAPub(&e.deriveKey(path).PublicKey)
}

func respond(data []byte, sw uint16) []byte {
	return append(append([]byte{}, data...), byte(sw>>8), byte(sw))
}

func swBytes(sw uint16) []byte {
	return respond(nil, sw)
}

func randomBytes(t *testing.T, n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}
