package keycard

import (
	"errors"
	"io"

	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/executor"
	"github.com/status-im/keycard-proto/globalplatform"
	kio "github.com/status-im/keycard-proto/io"
	"github.com/status-im/keycard-proto/types"
)

var (
	ErrAlreadyInitialized     = errors.New("card already initialized")
	ErrAppletNotInstalled     = errors.New("applet not installed")
	ErrCardNotInitialized     = errors.New("card not initialized")
	ErrAppletAlreadyInstalled = errors.New("applet already installed")
)

// Installer runs the card lifecycle flows: applet installation through the
// issuer security domain, then initialization and pairing of the Keycard applet.
// Both secure channels share a single executor, at most one is open at a time.
type Installer struct {
	ex   *executor.Executor
	gpSC *globalplatform.SecureChannel
	kcSC *SecureChannel
	gp   *globalplatform.CommandSet
	kc   *CommandSet
}

// NewInstaller returns an Installer talking to t. keys are the static keys of
// the issuer security domain.
func NewInstaller(t kio.Transport, keys *globalplatform.SCP02Keys) *Installer {
	gpSC := globalplatform.NewSecureChannel(keys)
	kcSC := NewSecureChannel()
	ex := executor.NewWithChannels(t, kcSC, gpSC)

	return &Installer{
		ex:   ex,
		gpSC: gpSC,
		kcSC: kcSC,
		gp:   globalplatform.NewCommandSet(ex, gpSC),
		kc:   NewCommandSet(ex, kcSC),
	}
}

// Executor returns the executor shared by the flows.
func (i *Installer) Executor() *executor.Executor {
	return i.ex
}

// CommandSet returns the Keycard command set, for operations after pairing.
func (i *Installer) CommandSet() *CommandSet {
	return i.kc
}

// Info selects the Keycard applet. A missing applet is reported with Installed false.
func (i *Installer) Info() (*types.ApplicationInfo, error) {
	i.gpSC.Reset()

	err := i.kc.Select()
	if isStatus(err, apdu.SwFileNotFound) {
		return &types.ApplicationInfo{}, nil
	}

	if err != nil {
		return nil, err
	}

	return i.kc.ApplicationInfo, nil
}

// Install installs the Keycard package and its applets from the CAP file in r.
// An installed applet is only replaced if overwrite is true.
func (i *Installer) Install(r io.ReaderAt, size int64, overwrite bool, callback globalplatform.LoadingCallback) error {
	info, err := i.Info()
	if err != nil {
		return err
	}

	if info.Installed && !overwrite {
		return ErrAppletAlreadyInstalled
	}

	if err := i.openCardManager(); err != nil {
		return err
	}
	defer i.gpSC.Reset()

	if err := i.gp.DeleteKeycardInstancesAndPackage(); err != nil {
		return err
	}

	if err := i.gp.LoadKeycardPackage(r, size, callback); err != nil {
		return err
	}

	if err := i.gp.InstallNDEFApplet([]byte{}); err != nil {
		return err
	}

	if err := i.gp.InstallKeycardApplet(); err != nil {
		return err
	}

	logger.Info("keycard applet installed")

	return i.gp.InstallCashApplet([]byte{})
}

// Delete removes the Keycard applets and package.
func (i *Installer) Delete() error {
	if err := i.openCardManager(); err != nil {
		return err
	}
	defer i.gpSC.Reset()

	return i.gp.DeleteKeycardInstancesAndPackage()
}

// Registry lists the applications registered in the issuer security domain.
func (i *Installer) Registry() ([]*globalplatform.RegistryEntry, error) {
	if err := i.openCardManager(); err != nil {
		return nil, err
	}
	defer i.gpSC.Reset()

	return i.gp.GetStatus(globalplatform.P1GetStatusApplications)
}

// Init sets random credentials on a pre-initialized card and returns them.
func (i *Installer) Init() (*Secrets, error) {
	secrets, err := GenerateSecrets()
	if err != nil {
		return nil, err
	}

	if err := i.InitWith(secrets); err != nil {
		return nil, err
	}

	return secrets, nil
}

func (i *Installer) InitWith(secrets *Secrets) error {
	info, err := i.Info()
	if err != nil {
		return err
	}

	if !info.Installed {
		return ErrAppletNotInstalled
	}

	if info.Initialized {
		return ErrAlreadyInitialized
	}

	return i.kc.Init(secrets)
}

// Pair pairs with an initialized card. The returned PairingInfo is needed to open a secure channel.
func (i *Installer) Pair(pairingPass string) (*types.PairingInfo, error) {
	if _, err := i.selectInitialized(); err != nil {
		return nil, err
	}

	if err := i.kc.Pair(pairingPass); err != nil {
		return nil, err
	}

	return i.kc.PairingInfo, nil
}

// Status opens a secure channel with the given pairing and returns the application status.
func (i *Installer) Status(pairing *types.PairingInfo) (*types.ApplicationStatus, error) {
	if err := i.Open(pairing); err != nil {
		return nil, err
	}

	return i.kc.GetStatusApplication()
}

// Open selects the applet and opens a secure channel with the given pairing.
func (i *Installer) Open(pairing *types.PairingInfo) error {
	if _, err := i.selectInitialized(); err != nil {
		return err
	}

	i.kc.SetPairingInfo(pairing.Key, pairing.Index)

	return i.kc.OpenSecureChannel()
}

func (i *Installer) selectInitialized() (*types.ApplicationInfo, error) {
	info, err := i.Info()
	if err != nil {
		return nil, err
	}

	if !info.Installed {
		return nil, ErrAppletNotInstalled
	}

	if !info.Initialized {
		return nil, ErrCardNotInitialized
	}

	return info, nil
}

func (i *Installer) openCardManager() error {
	i.kcSC.Reset()

	if _, err := i.gp.Select(); err != nil {
		return err
	}

	if err := i.gp.OpenSecureChannel(); err != nil {
		i.gpSC.Reset()
		return err
	}

	return nil
}

func isStatus(err error, sw uint16) bool {
	var cardErr *apdu.ErrBadResponse
	return errors.As(err, &cardErr) && cardErr.Sw == sw
}
