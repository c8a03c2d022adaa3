package globalplatform

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/moov-io/bertlv"
	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/identifiers"
	"github.com/status-im/keycard-proto/types"
)

type LoadingCallback = func(loadingBlock, totalBlocks int)

const maxStatusPages = 16

var ErrISDNotFound = errors.New("issuer security domain AID not found in FCI")

// CommandSet manages the card content through the issuer security domain.
// c must be an executor running sc in its pipeline.
type CommandSet struct {
	c  types.Channel
	sc *SecureChannel
}

func NewCommandSet(c types.Channel, sc *SecureChannel) *CommandSet {
	return &CommandSet{
		c:  c,
		sc: sc,
	}
}

// Select selects the issuer security domain and returns its AID.
func (cs *CommandSet) Select() ([]byte, error) {
	resp, err := cs.c.Execute(NewCommandSelect(nil))
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	return parseISDAID(resp.Data)
}

func (cs *CommandSet) OpenSecureChannel() error {
	return cs.sc.Open(cs.c)
}

// GetStatus returns the registry entries of the given kind (P1GetStatusApplications, P1GetStatusExecLoadFiles...).
func (cs *CommandSet) GetStatus(p1 uint8) ([]*RegistryEntry, error) {
	var (
		entries []*RegistryEntry
		p2      uint8 = P2GetStatusTLVData
	)

	for page := 0; page < maxStatusPages; page++ {
		resp, err := cs.c.Execute(NewCommandGetStatus(nil, p1, p2))
		if resp != nil && resp.Sw == apdu.SwReferencedDataNotFound {
			return entries, nil
		}

		if err = cs.checkOK(resp, err, apdu.SwOK, SwMoreStatusData); err != nil {
			return nil, err
		}

		batch, err := ParseRegistryEntries(resp.Data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, batch...)

		if resp.Sw == apdu.SwOK {
			return entries, nil
		}

		p2 = P2GetStatusTLVData | P2GetStatusNext
	}

	return entries, nil
}

// Delete removes the object with the given aid. Missing objects are not an error.
func (cs *CommandSet) Delete(aid []byte, p2 uint8) error {
	resp, err := cs.c.Execute(NewCommandDelete(aid, p2))
	return cs.checkOK(resp, err, apdu.SwOK, apdu.SwReferencedDataNotFound)
}

func (cs *CommandSet) DeleteKeycardInstancesAndPackage() error {
	instanceAID, err := identifiers.KeycardInstanceAID(identifiers.KeycardDefaultInstanceIndex)
	if err != nil {
		return err
	}

	ids := [][]byte{
		identifiers.NdefInstanceAID,
		identifiers.CashInstanceAID,
		instanceAID,
		identifiers.PackageAID,
	}

	for _, id := range ids {
		logger.Debug("deleting", "aid", fmt.Sprintf("%X", id))
		if err := cs.Delete(id, P2DeleteObjectAndRelatedObject); err != nil {
			return err
		}
	}

	return nil
}

// LoadKeycardPackage loads the CAP file read from r.
func (cs *CommandSet) LoadKeycardPackage(r io.ReaderAt, size int64, callback LoadingCallback) error {
	preLoad := NewCommandInstallForLoad(identifiers.PackageAID, []byte{})
	resp, err := cs.c.Execute(preLoad)
	if err = cs.checkOK(resp, err); err != nil {
		return err
	}

	load, err := NewLoadCommandStream(r, size)
	if err != nil {
		return err
	}

	for load.Next() {
		if callback != nil {
			callback(int(load.Index()), load.BlocksCount())
		}

		resp, err = cs.c.Execute(load.GetCommand())
		if err = cs.checkOK(resp, err); err != nil {
			return err
		}
	}

	return nil
}

func (cs *CommandSet) InstallNDEFApplet(ndefRecord []byte) error {
	return cs.installForInstall(
		identifiers.PackageAID,
		identifiers.NdefAID,
		identifiers.NdefInstanceAID,
		ndefRecord)
}

func (cs *CommandSet) InstallKeycardApplet() error {
	instanceAID, err := identifiers.KeycardInstanceAID(identifiers.KeycardDefaultInstanceIndex)
	if err != nil {
		return err
	}

	return cs.installForInstall(
		identifiers.PackageAID,
		identifiers.KeycardAID,
		instanceAID,
		[]byte{})
}

func (cs *CommandSet) InstallCashApplet(params []byte) error {
	return cs.installForInstall(
		identifiers.PackageAID,
		identifiers.CashAID,
		identifiers.CashInstanceAID,
		params)
}

func (cs *CommandSet) installForInstall(packageAID, appletAID, instanceAID, params []byte) error {
	cmd := NewCommandInstallForInstall(packageAID, appletAID, instanceAID, params)
	resp, err := cs.c.Execute(cmd)
	return cs.checkOK(resp, err)
}

func (cs *CommandSet) checkOK(resp *apdu.Response, err error, allowedResponses ...uint16) error {
	if err != nil && !isCardError(err) {
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

	return apdu.NewErrBadResponse(resp.Sw, "unexpected response")
}

func parseISDAID(fci []byte) ([]byte, error) {
	tlvs, err := bertlv.Decode(fci)
	if err != nil {
		return nil, fmt.Errorf("decoding FCI: %w", err)
	}

	for _, t := range tlvs {
		if !strings.EqualFold(t.Tag, "6F") {
			continue
		}

		for _, child := range t.TLVs {
			if strings.EqualFold(child.Tag, "84") {
				return child.Value, nil
			}
		}
	}

	return nil, ErrISDNotFound
}
