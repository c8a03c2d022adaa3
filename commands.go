package keycard

import (
	"errors"
	"fmt"

	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/derivationpath"
	"github.com/status-im/keycard-proto/globalplatform"
	"github.com/status-im/keycard-proto/types"
)

var errPinlessPathNotAbsolute = errors.New("pinless path must be absolute")

const (
	InsInit                 = 0xFE
	InsFactoryReset         = 0xFD
	InsOpenSecureChannel    = 0x10
	InsMutuallyAuthenticate = 0x11
	InsPair                 = 0x12
	InsUnpair               = 0x13
	InsIdentify             = 0x14
	InsGetStatus            = 0xF2
	InsGenerateKey          = 0xD4
	InsRemoveKey            = 0xD3
	InsVerifyPIN            = 0x20
	InsChangePIN            = 0x21
	InsUnblockPIN           = 0x22
	InsDeriveKey            = 0xD1
	InsExportKey            = 0xC2
	InsSign                 = 0xC0
	InsSetPinlessPath       = 0xC1
	InsGetData              = 0xCA
	InsLoadKey              = 0xD0
	InsGenerateMnemonic     = 0xD2
	InsStoreData            = 0xE2
)

// PAIR
const (
	P1PairingFirstStep = 0x00
	P1PairingFinalStep = 0x01

	SwNoAvailablePairingSlots = 0x6A84
)

// GET STATUS
const (
	P1GetStatusApplication = 0x00
	P1GetStatusKeyPath     = 0x01
)

// Starting point of a derivation, shared by DERIVE KEY, EXPORT KEY and SIGN.
const (
	P1DeriveKeyFromMaster  = 0x00
	P1DeriveKeyFromParent  = 0x40
	P1DeriveKeyFromCurrent = 0x80
)

// CHANGE PIN
const (
	P1ChangePinPIN           = 0x00
	P1ChangePinPUK           = 0x01
	P1ChangePinPairingSecret = 0x02
)

// SIGN
const (
	P1SignCurrentKey           = 0x00
	P1SignDerive               = 0x01
	P1SignDeriveAndMakeCurrent = 0x02
	P1SignPinless              = 0x03
	P2SignECDSA                = 0x01

	digestLength = 32
)

// GET DATA and STORE DATA
const (
	P1StoreDataPublic = 0x00
	P1StoreDataNDEF   = 0x01
	P1StoreDataCash   = 0x02
)

// EXPORT KEY
const (
	P1ExportKeyCurrent              = 0x00
	P1ExportKeyDerive               = 0x01
	P1ExportKeyDeriveAndMakeCurrent = 0x02
	P2ExportKeyPrivateAndPublic     = 0x00
	P2ExportKeyPublicOnly           = 0x01
	P2ExportKeyExtendedPublic       = 0x02
)

const (
	P1LoadKeySeed       = 0x03
	P1FactoryResetMagic = 0xAA
	P2FactoryResetMagic = 0x55
)

// newCommand returns a command in the proprietary class used by every Keycard instruction.
func newCommand(ins, p1, p2 uint8, data []byte) *apdu.Command {
	return apdu.NewCommand(globalplatform.ClaGp, ins, p1, p2, data)
}

func NewCommandInit(data []byte) *apdu.Command {
	return newCommand(InsInit, 0, 0, data)
}

func NewCommandPairFirstStep(challenge []byte) *apdu.Command {
	return newCommand(InsPair, P1PairingFirstStep, 0, challenge)
}

func NewCommandPairFinalStep(cryptogramHash []byte) *apdu.Command {
	return newCommand(InsPair, P1PairingFinalStep, 0, cryptogramHash)
}

func NewCommandUnpair(index uint8) *apdu.Command {
	return newCommand(InsUnpair, index, 0, nil)
}

func NewCommandIdentify(challenge []byte) *apdu.Command {
	return newCommand(InsIdentify, 0, 0, challenge)
}

func NewCommandOpenSecureChannel(pairingIndex uint8, pubKey []byte) *apdu.Command {
	return newCommand(InsOpenSecureChannel, pairingIndex, 0, pubKey)
}

func NewCommandMutuallyAuthenticate(data []byte) *apdu.Command {
	return newCommand(InsMutuallyAuthenticate, 0, 0, data)
}

func NewCommandGetStatus(p1 uint8) *apdu.Command {
	return newCommand(InsGetStatus, p1, 0, nil)
}

func NewCommandGenerateKey() *apdu.Command {
	return newCommand(InsGenerateKey, 0, 0, nil)
}

func NewCommandGenerateMnemonic(checksumSize byte) *apdu.Command {
	return newCommand(InsGenerateMnemonic, checksumSize, 0, nil)
}

func NewCommandRemoveKey() *apdu.Command {
	return newCommand(InsRemoveKey, 0, 0, nil)
}

func NewCommandVerifyPIN(pin string) *apdu.Command {
	return newCommand(InsVerifyPIN, 0, 0, []byte(pin))
}

func NewCommandChangePIN(pin string) *apdu.Command {
	return newCommand(InsChangePIN, P1ChangePinPIN, 0, []byte(pin))
}

func NewCommandUnblockPIN(puk string, newPIN string) *apdu.Command {
	return newCommand(InsUnblockPIN, 0, 0, []byte(puk+newPIN))
}

func NewCommandChangePUK(puk string) *apdu.Command {
	return newCommand(InsChangePIN, P1ChangePinPUK, 0, []byte(puk))
}

func NewCommandChangePairingSecret(secret []byte) *apdu.Command {
	return newCommand(InsChangePIN, P1ChangePinPairingSecret, 0, secret)
}

func NewCommandLoadSeed(seed []byte) *apdu.Command {
	return newCommand(InsLoadKey, P1LoadKeySeed, 0, seed)
}

func NewCommandDeriveKey(pathStr string) (*apdu.Command, error) {
	p1, data, err := encodePath(pathStr)
	if err != nil {
		return nil, err
	}

	return newCommand(InsDeriveKey, p1, 0, data), nil
}

// NewCommandExportKey builds an EXPORT KEY command.
//
//	p1: P1ExportKeyCurrent, P1ExportKeyDerive or P1ExportKeyDeriveAndMakeCurrent.
//	    The starting point of pathStr is added to it.
//	p2: P2ExportKeyPublicOnly or P2ExportKeyExtendedPublic.
//	pathStr: derivation path like "m/44'/0'/0'/0/0", ignored for P1ExportKeyCurrent.
func NewCommandExportKey(p1 uint8, p2 uint8, pathStr string) (*apdu.Command, error) {
	if p1 == P1ExportKeyCurrent {
		return newCommand(InsExportKey, p1, p2, nil), nil
	}

	deriveP1, data, err := encodePath(pathStr)
	if err != nil {
		return nil, err
	}

	return newCommand(InsExportKey, p1|deriveP1, p2, data), nil
}

func NewCommandSetPinlessPath(pathStr string) (*apdu.Command, error) {
	startingPoint, path, err := derivationpath.Decode(pathStr)
	if err != nil {
		return nil, err
	}

	if len(path) > 0 && startingPoint != derivationpath.StartingPointMaster {
		return nil, errPinlessPathNotAbsolute
	}

	return newCommand(InsSetPinlessPath, 0, 0, derivationpath.ToBytes(path)), nil
}

// NewCommandSign builds a SIGN command for a 32 bytes digest.
// pathStr is only used with P1SignDerive and P1SignDeriveAndMakeCurrent.
func NewCommandSign(digest []byte, p1 uint8, pathStr string) (*apdu.Command, error) {
	if len(digest) != digestLength {
		return nil, fmt.Errorf("%w: %d bytes", types.ErrInvalidDigestSize, len(digest))
	}

	data := append([]byte{}, digest...)

	if p1 == P1SignDerive || p1 == P1SignDeriveAndMakeCurrent {
		deriveP1, pathData, err := encodePath(pathStr)
		if err != nil {
			return nil, err
		}

		p1 |= deriveP1
		data = append(data, pathData...)
	}

	return newCommand(InsSign, p1, P2SignECDSA, data), nil
}

func NewCommandGetData(typ uint8) *apdu.Command {
	return newCommand(InsGetData, typ, 0, nil)
}

func NewCommandStoreData(typ uint8, data []byte) *apdu.Command {
	return newCommand(InsStoreData, typ, 0, data)
}

func NewCommandFactoryReset() *apdu.Command {
	return newCommand(InsFactoryReset, P1FactoryResetMagic, P2FactoryResetMagic, nil)
}

// encodePath returns the P1 bits for the starting point of the path and the path itself
// as big endian uint32s. Used by DERIVE KEY, EXPORT KEY and SIGN.
func encodePath(pathStr string) (uint8, []byte, error) {
	startingPoint, path, err := derivationpath.Decode(pathStr)
	if err != nil {
		return 0, nil, err
	}

	p1, err := derivationP1FromStartingPoint(startingPoint)
	if err != nil {
		return 0, nil, err
	}

	return p1, derivationpath.ToBytes(path), nil
}

var startingPointP1 = map[derivationpath.StartingPoint]uint8{
	derivationpath.StartingPointMaster:  P1DeriveKeyFromMaster,
	derivationpath.StartingPointParent:  P1DeriveKeyFromParent,
	derivationpath.StartingPointCurrent: P1DeriveKeyFromCurrent,
}

func derivationP1FromStartingPoint(s derivationpath.StartingPoint) (uint8, error) {
	p1, ok := startingPointP1[s]
	if !ok {
		return 0, fmt.Errorf("invalid starting point %d", s)
	}

	return p1, nil
}
