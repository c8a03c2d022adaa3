package globalplatform

import (
	"github.com/status-im/keycard-proto/apdu"
)

const (
	ClaISO7816 = 0x00
	ClaGp      = 0x80
	ClaMac     = 0x04

	InsSelect               = 0xA4
	InsInitializeUpdate     = 0x50
	InsExternalAuthenticate = 0x82
	InsDelete               = 0xE4
	InsLoad                 = 0xE8
	InsInstall              = 0xE6
	InsGetStatus            = 0xF2

	P1SelectByName                     = 0x04
	P1ExternalAuthenticateCMAC         = 0x01
	P1InstallForLoad                   = 0x02
	P1InstallForInstall                = 0x04
	P1InstallForMakeSelectable         = 0x08
	P1LoadMoreBlocks                   = 0x00
	P1LoadLastBlock                    = 0x80
	P1GetStatusIssuerSecurityDomain    = 0x80
	P1GetStatusApplications            = 0x40
	P1GetStatusExecLoadFiles           = 0x20
	P1GetStatusExecLoadFilesAndModules = 0x10

	P2GetStatusTLVData             = 0x02
	P2GetStatusNext                = 0x01
	P2DeleteObject                 = 0x00
	P2DeleteObjectAndRelatedObject = 0x80

	SwMoreStatusData = 0x6310

	tagAID               = 0x4F
	tagLoadFileDataBlock = 0xC4
	tagInstallParams     = 0xC9
)

// NewCommandSelect returns a SELECT by name command. A nil aid selects the issuer security domain.
func NewCommandSelect(aid []byte) *apdu.Command {
	c := apdu.NewCommand(ClaISO7816, InsSelect, P1SelectByName, 0, aid)
	c.SetLe(0)

	return c
}

// NewCommandInitializeUpdate returns the first command of the SCP02 handshake.
func NewCommandInitializeUpdate(hostChallenge []byte) *apdu.Command {
	c := apdu.NewCommand(ClaGp, InsInitializeUpdate, 0, 0, hostChallenge)

	// T=1 readers want Le, T=0 ones don't care
	c.SetLe(0)

	return c
}

// NewCommandExternalAuthenticate returns the EXTERNAL AUTHENTICATE command requesting C-MAC.
// It must be sent through the secure channel, which adds the MAC.
func NewCommandExternalAuthenticate(hostCryptogram []byte) *apdu.Command {
	return apdu.NewCommand(ClaGp, InsExternalAuthenticate, P1ExternalAuthenticateCMAC, 0, hostCryptogram)
}

func NewCommandDelete(aid []byte, p2 uint8) *apdu.Command {
	return apdu.NewCommand(ClaGp, InsDelete, 0, p2, aidTLV(aid))
}

func NewCommandInstallForLoad(aid, sdaid []byte) *apdu.Command {
	data := lv(aid)
	data = append(data, lv(sdaid)...)
	// no load file hash, no load parameters, no load token
	data = append(data, 0x00, 0x00, 0x00)

	return apdu.NewCommand(ClaGp, InsInstall, P1InstallForLoad, 0, data)
}

func NewCommandInstallForInstall(pkgAID, appletAID, instanceAID, params []byte) *apdu.Command {
	data := lv(pkgAID)
	data = append(data, lv(appletAID)...)
	data = append(data, lv(instanceAID)...)
	// no privileges
	data = append(data, lv([]byte{0x00})...)

	installParams := append([]byte{tagInstallParams, byte(len(params))}, params...)
	data = append(data, lv(installParams)...)
	// no install token
	data = append(data, 0x00)

	return apdu.NewCommand(ClaGp, InsInstall, P1InstallForInstall|P1InstallForMakeSelectable, 0, data)
}

// NewCommandGetStatus returns a GET STATUS command filtering by aid, empty for every entry.
func NewCommandGetStatus(aid []byte, p1, p2 uint8) *apdu.Command {
	c := apdu.NewCommand(ClaGp, InsGetStatus, p1, p2, aidTLV(aid))
	c.SetLe(0)

	return c
}

func NewCommandLoad(p1, index uint8, block []byte) *apdu.Command {
	return apdu.NewCommand(ClaGp, InsLoad, p1, index, block)
}

func aidTLV(aid []byte) []byte {
	return append([]byte{tagAID}, lv(aid)...)
}

func lv(value []byte) []byte {
	return append([]byte{byte(len(value))}, value...)
}
