package keycard

import (
	"bytes"
	"testing"

	"github.com/status-im/keycard-proto/globalplatform"
	"github.com/status-im/keycard-proto/securechannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInstaller(t *testing.T) (*Installer, *cardEmulator) {
	card := newCardEmulator(t)
	keys := globalplatform.NewSCP02Keys(globalplatform.DefaultKey, globalplatform.DefaultKey)

	return NewInstaller(card, keys), card
}

func TestInstaller_Info(t *testing.T) {
	i, _ := newTestInstaller(t)

	info, err := i.Info()
	require.NoError(t, err)
	assert.True(t, info.Installed)
	assert.False(t, info.Initialized)
	assert.Len(t, info.PublicKey, 65)
}

func TestInstaller_InfoNotInstalled(t *testing.T) {
	i, card := newTestInstaller(t)
	card.absent = true

	info, err := i.Info()
	require.NoError(t, err)
	assert.False(t, info.Installed)

	_, err = i.Pair(testPairingPass)
	assert.ErrorIs(t, err, ErrAppletNotInstalled)

	_, err = i.Init()
	assert.ErrorIs(t, err, ErrAppletNotInstalled)
}

func TestInstaller_InstallOverInstalledApplet(t *testing.T) {
	i, card := newTestInstaller(t)
	sent := len(card.sent)

	err := i.Install(bytes.NewReader(nil), 0, false, nil)
	assert.ErrorIs(t, err, ErrAppletAlreadyInstalled)
	// only the SELECT reached the card
	assert.Len(t, card.sent, sent+1)
}

func TestInstaller_InitPairStatus(t *testing.T) {
	i, _ := newTestInstaller(t)

	_, err := i.Pair(testPairingPass)
	assert.ErrorIs(t, err, ErrCardNotInitialized)

	secrets, err := i.Init()
	require.NoError(t, err)
	assert.Len(t, secrets.Pin(), 6)
	assert.Len(t, secrets.Puk(), 12)

	_, err = i.Init()
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	pairing, err := i.Pair(secrets.PairingPass())
	require.NoError(t, err)
	assert.Len(t, pairing.Key, 32)

	status, err := i.Status(pairing)
	require.NoError(t, err)
	assert.Equal(t, 3, status.PinRetryCount)
	assert.Equal(t, 5, status.PUKRetryCount)
	assert.False(t, status.KeyInitialized)

	require.NoError(t, i.CommandSet().VerifyPIN(secrets.Pin()))
	assert.True(t, i.CommandSet().PINVerified())
}

func TestInstaller_WrongPairingPass(t *testing.T) {
	i, _ := newTestInstaller(t)

	_, err := i.Init()
	require.NoError(t, err)

	_, err = i.Pair("not the pairing password")
	assert.Error(t, err)
}

func TestInstaller_CardManagerDropsKeycardSession(t *testing.T) {
	i, card := newTestInstaller(t)

	secrets, err := i.Init()
	require.NoError(t, err)
	pairing, err := i.Pair(secrets.PairingPass())
	require.NoError(t, err)
	require.NoError(t, i.Open(pairing))
	require.NoError(t, i.CommandSet().VerifyPIN(secrets.Pin()))
	require.True(t, i.CommandSet().PINVerified())

	// the card manager session replaces the Keycard one whatever its outcome
	_, _ = i.Registry()
	assert.False(t, i.CommandSet().PINVerified())

	sent := len(card.sent)
	err = i.CommandSet().VerifyPIN(secrets.Pin())
	assert.ErrorIs(t, err, securechannel.ErrNotEstablished)
	assert.Len(t, card.sent, sent)
}
