package keycard

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"

	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/crypto"
	"github.com/status-im/keycard-proto/derivationpath"
	"github.com/status-im/keycard-proto/globalplatform"
	"github.com/status-im/keycard-proto/identifiers"
	"github.com/status-im/keycard-proto/processor"
	"github.com/status-im/keycard-proto/securechannel"
	"github.com/status-im/keycard-proto/types"
)

var ErrSecureChannelOpen = errors.New("pinless signing requires a session without secure channel")

// Security levels required by the commands sent through the secure channel.
const (
	levelMAC       = processor.Authenticated | processor.MACProtected
	levelEncrypted = levelMAC | processor.Encrypted
)

// CommandSet runs the Keycard commands through c, an executor whose pipeline
// contains sc. Commands sent before the secure channel is open go in clear.
type CommandSet struct {
	c               types.Channel
	sc              *SecureChannel
	rand            io.Reader
	ApplicationInfo *types.ApplicationInfo
	PairingInfo     *types.PairingInfo

	session     uint64
	pinVerified bool
	currentPath string
}

func NewCommandSet(c types.Channel, sc *SecureChannel) *CommandSet {
	return &CommandSet{
		c:               c,
		sc:              sc,
		rand:            rand.Reader,
		ApplicationInfo: &types.ApplicationInfo{},
	}
}

func (cs *CommandSet) SetPairingInfo(key []byte, index int) {
	cs.PairingInfo = &types.PairingInfo{
		Key:   key,
		Index: index,
	}
}

// PINVerified returns true if the PIN was verified in the current session.
func (cs *CommandSet) PINVerified() bool {
	cs.syncSession()
	return cs.pinVerified
}

// CurrentPath returns the path of the key selected in this session, empty if none.
func (cs *CommandSet) CurrentPath() string {
	cs.syncSession()
	return cs.currentPath
}

// Select selects the Keycard applet. The card drops any open secure channel.
func (cs *CommandSet) Select() error {
	instanceAID, err := identifiers.KeycardInstanceAID(identifiers.KeycardDefaultInstanceIndex)
	if err != nil {
		return err
	}

	cs.resetSession()

	cmd := globalplatform.NewCommandSelect(instanceAID)
	resp, err := cs.c.Execute(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return err
	}

	appInfo, err := types.ParseApplicationInfo(resp.Data)
	if err != nil {
		return err
	}

	cs.ApplicationInfo = appInfo
	logger.Debug("keycard selected", "initialized", appInfo.Initialized, "key", appInfo.HasKey())

	return nil
}

// Init sets the credentials of a pre-initialized card.
func (cs *CommandSet) Init(secrets *Secrets) error {
	if len(cs.ApplicationInfo.PublicKey) == 0 {
		return ErrCardPublicKeyMissing
	}

	data, err := cs.sc.OneShotEncrypt(cs.ApplicationInfo.PublicKey, secrets)
	if err != nil {
		return err
	}

	init := NewCommandInit(data)
	resp, err := cs.c.Execute(init)

	return cs.checkOK(resp, err)
}

// Pair runs the pairing ceremony and stores the result in PairingInfo.
func (cs *CommandSet) Pair(pairingPass string) error {
	challenge := make([]byte, pairingChallengeLength)
	if _, err := io.ReadFull(cs.rand, challenge); err != nil {
		return err
	}

	cmd := NewCommandPairFirstStep(challenge)
	resp, err := cs.c.Execute(cmd)
	if resp != nil && resp.Sw == SwNoAvailablePairingSlots {
		return ErrNoAvailablePairingSlots
	}

	if err = cs.checkOK(resp, err); err != nil {
		return err
	}

	if len(resp.Data) != 2*pairingChallengeLength {
		return ErrInvalidPairingResponse
	}

	cardCryptogram := resp.Data[:pairingChallengeLength]
	cardChallenge := resp.Data[pairingChallengeLength:]

	token := crypto.PairingToken(pairingPass)
	defer securechannel.Zero(token)

	if err := crypto.VerifyCryptogram(token, challenge, cardCryptogram); err != nil {
		return err
	}

	cmd = NewCommandPairFinalStep(crypto.Cryptogram(token, cardChallenge))
	resp, err = cs.c.Execute(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return err
	}

	if len(resp.Data) != 1+crypto.SaltLength {
		return ErrInvalidPairingResponse
	}

	cs.PairingInfo = &types.PairingInfo{
		Key:   crypto.Cryptogram(token, resp.Data[1:]),
		Index: int(resp.Data[0]),
	}

	logger.Debug("paired", "index", cs.PairingInfo.Index)

	return nil
}

func (cs *CommandSet) Unpair(index uint8) error {
	cmd := NewCommandUnpair(index)
	resp, err := cs.execute(cmd, levelMAC)
	return cs.checkOK(resp, err)
}

func (cs *CommandSet) OpenSecureChannel() error {
	if cs.PairingInfo == nil {
		return ErrPairingInfoMissing
	}

	if len(cs.ApplicationInfo.PublicKey) == 0 {
		return ErrCardPublicKeyMissing
	}

	cs.pinVerified = false
	cs.currentPath = ""

	return cs.sc.Open(cs.c, cs.PairingInfo, cs.ApplicationInfo.PublicKey)
}

// Identify asks the card to prove its identity and returns the compressed
// public key of the certificate issuer.
func (cs *CommandSet) Identify() ([]byte, error) {
	challenge := make([]byte, 32)
	if _, err := io.ReadFull(cs.rand, challenge); err != nil {
		return nil, err
	}

	cmd := NewCommandIdentify(challenge)
	resp, err := cs.c.Execute(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	return types.VerifyIdentity(challenge, resp.Data)
}

func (cs *CommandSet) GetStatus(info uint8) (*types.ApplicationStatus, error) {
	cmd := NewCommandGetStatus(info)
	resp, err := cs.execute(cmd, levelMAC)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	return types.ParseApplicationStatus(resp.Data)
}

func (cs *CommandSet) GetStatusApplication() (*types.ApplicationStatus, error) {
	return cs.GetStatus(P1GetStatusApplication)
}

func (cs *CommandSet) GetStatusKeyPath() (*types.ApplicationStatus, error) {
	return cs.GetStatus(P1GetStatusKeyPath)
}

// VerifyPIN returns *WrongPINError while attempts are left and
// *CredentialBlockedError once the PIN is blocked. The channel stays open.
func (cs *CommandSet) VerifyPIN(pin string) error {
	cmd := NewCommandVerifyPIN(pin)
	resp, err := cs.execute(cmd, levelEncrypted)
	if err = cs.checkOK(resp, err); err != nil {
		cs.pinVerified = false
		return credentialError(err, credentialPIN, func(remaining int) error {
			return &WrongPINError{RemainingAttempts: remaining}
		})
	}

	cs.pinVerified = true

	return nil
}

func (cs *CommandSet) ChangePIN(pin string) error {
	cmd := NewCommandChangePIN(pin)
	resp, err := cs.execute(cmd, levelEncrypted)
	return cs.checkOK(resp, err)
}

// UnblockPIN sets a new PIN using the PUK. On success the new PIN counts as verified.
func (cs *CommandSet) UnblockPIN(puk string, newPIN string) error {
	cmd := NewCommandUnblockPIN(puk, newPIN)
	resp, err := cs.execute(cmd, levelEncrypted)
	if err = cs.checkOK(resp, err); err != nil {
		return credentialError(err, credentialPUK, func(remaining int) error {
			return &WrongPUKError{RemainingAttempts: remaining}
		})
	}

	cs.pinVerified = true

	return nil
}

func (cs *CommandSet) ChangePUK(puk string) error {
	cmd := NewCommandChangePUK(puk)
	resp, err := cs.execute(cmd, levelEncrypted)

	return cs.checkOK(resp, err)
}

func (cs *CommandSet) ChangePairingSecret(password string) error {
	secret := crypto.PairingToken(password)
	defer securechannel.Zero(secret)

	cmd := NewCommandChangePairingSecret(secret)
	resp, err := cs.execute(cmd, levelEncrypted)

	return cs.checkOK(resp, err)
}

// GenerateKey generates a new master key on the card and returns its key UID.
func (cs *CommandSet) GenerateKey() ([]byte, error) {
	cmd := NewCommandGenerateKey()
	resp, err := cs.execute(cmd, levelMAC)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	cs.currentPath = ""

	return resp.Data, nil
}

// GenerateMnemonic returns the BIP39 word indexes of a mnemonic generated by the card.
// checksumSize is between 4 and 8, giving 12 to 24 words.
func (cs *CommandSet) GenerateMnemonic(checksumSize int) ([]int, error) {
	if checksumSize < 4 || checksumSize > 8 {
		return nil, ErrBadChecksumSize
	}

	cmd := NewCommandGenerateMnemonic(byte(checksumSize))
	resp, err := cs.execute(cmd, levelEncrypted)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(resp.Data)
	indexes := make([]int, 0)
	for {
		var index int16
		err := binary.Read(buf, binary.BigEndian, &index)
		if err != nil {
			break
		}

		indexes = append(indexes, int(index))
	}

	return indexes, nil
}

func (cs *CommandSet) RemoveKey() error {
	cmd := NewCommandRemoveKey()
	resp, err := cs.execute(cmd, levelMAC)
	if err = cs.checkOK(resp, err); err != nil {
		return err
	}

	cs.currentPath = ""

	return nil
}

// LoadSeed loads a BIP39 seed as master key and returns its key UID.
func (cs *CommandSet) LoadSeed(seed []byte) ([]byte, error) {
	cmd := NewCommandLoadSeed(seed)
	resp, err := cs.execute(cmd, levelEncrypted)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	cs.currentPath = ""

	return resp.Data, nil
}

// DeriveKey makes the key at path the current one.
func (cs *CommandSet) DeriveKey(path string) error {
	cmd, err := NewCommandDeriveKey(path)
	if err != nil {
		return err
	}

	resp, err := cs.execute(cmd, levelMAC)
	if err = cs.checkOK(resp, err); err != nil {
		return err
	}

	cs.currentPath = cs.resolvePath(path)

	return nil
}

// DeriveAndSelect derives the key at path, makes it current and returns its
// extended public key.
func (cs *CommandSet) DeriveAndSelect(path string) (*types.PublicKeyInfo, error) {
	cmd, err := NewCommandExportKey(P1ExportKeyDeriveAndMakeCurrent, P2ExportKeyExtendedPublic, path)
	if err != nil {
		return nil, err
	}

	resp, err := cs.execute(cmd, levelEncrypted)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	resolved := cs.resolvePath(path)
	info, err := types.ParsePublicKeyInfo(resp.Data, resolved)
	if err != nil {
		return nil, err
	}

	cs.currentPath = resolved

	return info, nil
}

// ExportKey exports public key material. Without onlyPublic the extended
// public key is returned. Private keys are never requested from the card.
func (cs *CommandSet) ExportKey(derive bool, makeCurrent bool, onlyPublic bool, path string) (*types.PublicKeyInfo, error) {
	var p1 uint8
	if !derive {
		p1 = P1ExportKeyCurrent
	} else if !makeCurrent {
		p1 = P1ExportKeyDerive
	} else {
		p1 = P1ExportKeyDeriveAndMakeCurrent
	}

	var p2 uint8
	if onlyPublic {
		p2 = P2ExportKeyPublicOnly
	} else {
		p2 = P2ExportKeyExtendedPublic
	}

	cmd, err := NewCommandExportKey(p1, p2, path)
	if err != nil {
		return nil, err
	}

	resp, err := cs.execute(cmd, levelEncrypted)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	keyPath := cs.currentPath
	if derive {
		keyPath = cs.resolvePath(path)
	}

	info, err := types.ParsePublicKeyInfo(resp.Data, keyPath)
	if err != nil {
		return nil, err
	}

	if derive && makeCurrent {
		cs.currentPath = keyPath
	}

	return info, nil
}

func (cs *CommandSet) SetPinlessPath(path string) error {
	cmd, err := NewCommandSetPinlessPath(path)
	if err != nil {
		return err
	}

	resp, err := cs.execute(cmd, levelEncrypted)
	return cs.checkOK(resp, err)
}

// Sign signs a 32 bytes digest with the key at path, or with the current key
// if path is empty. The PIN must have been verified in this session.
func (cs *CommandSet) Sign(digest []byte, path string) (*types.Signature, error) {
	if err := cs.requireLevel(InsSign, levelEncrypted); err != nil {
		return nil, err
	}

	if !cs.pinVerified {
		return nil, ErrSigningDenied
	}

	if path == "" && cs.currentPath == "" {
		return nil, ErrPathNotSelected
	}

	p1 := uint8(P1SignCurrentKey)
	if path != "" {
		p1 = P1SignDerive
	}

	cmd, err := NewCommandSign(digest, p1, path)
	if err != nil {
		return nil, err
	}

	resp, err := cs.c.Execute(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, signError(resp, err)
	}

	return types.ParseSignature(digest, resp.Data)
}

// SignPinless signs with the key at the pinless path. It only works before a
// secure channel is opened.
func (cs *CommandSet) SignPinless(digest []byte) (*types.Signature, error) {
	if cs.sc.State() != securechannel.Unauthenticated {
		return nil, ErrSecureChannelOpen
	}

	cmd, err := NewCommandSign(digest, P1SignPinless, "")
	if err != nil {
		return nil, err
	}

	resp, err := cs.c.Execute(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, signError(resp, err)
	}

	return types.ParseSignature(digest, resp.Data)
}

func (cs *CommandSet) GetData(typ uint8) ([]byte, error) {
	cmd := NewCommandGetData(typ)
	resp, err := cs.execute(cmd, levelMAC)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	return resp.Data, nil
}

func (cs *CommandSet) StoreData(typ uint8, data []byte) error {
	cmd := NewCommandStoreData(typ, data)
	resp, err := cs.execute(cmd, levelMAC)
	return cs.checkOK(resp, err)
}

// Metadata reads the card name and wallet paths from the public data slot.
func (cs *CommandSet) Metadata() (*types.Metadata, error) {
	data, err := cs.GetData(P1StoreDataPublic)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return types.EmptyMetadata(), nil
	}

	return types.ParseMetadata(data)
}

func (cs *CommandSet) StoreMetadata(m *types.Metadata) error {
	return cs.StoreData(P1StoreDataPublic, m.Serialize())
}

// FactoryReset wipes keys, credentials and pairings. The applet must be selected again.
func (cs *CommandSet) FactoryReset() error {
	cmd := NewCommandFactoryReset()
	resp, err := cs.c.Execute(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return err
	}

	cs.resetSession()
	cs.PairingInfo = nil
	cs.ApplicationInfo = &types.ApplicationInfo{}

	return nil
}

// execute sends cmd only if the secure channel provides level. A closed
// channel is left to refuse the command itself.
func (cs *CommandSet) execute(cmd *apdu.Command, level processor.SecurityLevel) (*apdu.Response, error) {
	if err := cs.requireLevel(cmd.Ins, level); err != nil {
		return nil, err
	}

	return cs.c.Execute(cmd)
}

func (cs *CommandSet) requireLevel(ins uint8, level processor.SecurityLevel) error {
	cs.syncSession()

	if cs.sc.State() == securechannel.Closed {
		return nil
	}

	if current := cs.sc.SecurityLevel(); !current.Satisfies(level) {
		return &SecurityLevelError{Ins: ins, Required: level, Current: current}
	}

	return nil
}

// syncSession forgets the PIN and key state of a session that is gone.
func (cs *CommandSet) syncSession() {
	current := cs.sc.Session()
	if current != 0 && current == cs.session {
		return
	}

	cs.session = current
	cs.pinVerified = false
	cs.currentPath = ""
}

func (cs *CommandSet) resetSession() {
	cs.sc.Reset()
	cs.pinVerified = false
	cs.currentPath = ""
}

// resolvePath returns the absolute form of path when the current path is known.
func (cs *CommandSet) resolvePath(path string) string {
	start, segments, err := derivationpath.Decode(path)
	if err != nil {
		return path
	}

	if start == derivationpath.StartingPointMaster {
		return derivationpath.Encode(start, segments)
	}

	_, current, err := derivationpath.Decode(cs.currentPath)
	if cs.currentPath == "" || err != nil {
		return path
	}

	if start == derivationpath.StartingPointParent {
		if len(current) == 0 {
			return path
		}

		current = current[:len(current)-1]
	}

	return derivationpath.Encode(derivationpath.StartingPointMaster, append(current, segments...))
}

func signError(resp *apdu.Response, err error) error {
	if resp == nil {
		return err
	}

	switch resp.Sw {
	case apdu.SwConditionsNotSatisfied:
		return ErrSigningDenied
	case apdu.SwReferencedDataNotFound:
		return ErrPathNotSelected
	default:
		return err
	}
}

func (cs *CommandSet) checkOK(resp *apdu.Response, err error, allowedResponses ...uint16) error {
	var cardErr *apdu.ErrBadResponse
	if err != nil && (resp == nil || !errors.As(err, &cardErr)) {
		return err
	}

	if len(allowedResponses) == 0 {
		allowedResponses = []uint16{apdu.SwOK}
	}

	for _, code := range allowedResponses {
		if code == resp.Sw {
			return nil
		}
	}

	if err != nil {
		return err
	}

	return apdu.NewCardError(resp.Sw)
}
