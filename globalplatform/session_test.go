package globalplatform

import (
	"errors"
	"testing"

	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/hexutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testStaticKey        = "404142434445464748494a4b4c4d4e4f"
	testHostChallenge    = "f0467f908e5ca23f"
	testInitializeUpdate = "000002650183039536622002000de9c62ba1c4c8e55fcb91b6654ce4"
)

func testKeys() *SCP02Keys {
	key := hexutils.HexToBytes(testStaticKey)
	return NewSCP02Keys(key, key)
}

func TestNewSession(t *testing.T) {
	resp, err := apdu.ParseResponse(hexutils.HexToBytes(testInitializeUpdate + "9000"))
	require.NoError(t, err)

	session, err := NewSession(testKeys(), DefaultInitiationConfig, resp, hexutils.HexToBytes(testHostChallenge))
	require.NoError(t, err)

	assert.Equal(t, "217ABF8CC47294B2411871F381D7534E", hexutils.BytesToHex(session.Keys().Enc()))
	assert.Equal(t, "07EFCCEB0BB0CC01A22E0CE1E1E395F8", hexutils.BytesToHex(session.Keys().Mac()))
	assert.Equal(t, "000DE9C62BA1C4C8", hexutils.BytesToHex(session.CardChallenge()))

	hostCryptogram, err := session.HostCryptogram()
	require.NoError(t, err)
	assert.Equal(t, "3CE060483AACE927", hexutils.BytesToHex(hostCryptogram))
}

func TestNewSession_BadResponse(t *testing.T) {
	scenarios := []struct {
		raw string
		sw  uint16
	}{
		{"01026982", 0x6982},
		{"01026983", 0x6983},
		{"01029000", 0x9000},
	}

	for _, s := range scenarios {
		resp, err := apdu.ParseResponse(hexutils.HexToBytes(s.raw))
		require.NoError(t, err)

		_, err = NewSession(testKeys(), DefaultInitiationConfig, resp, hexutils.HexToBytes(testHostChallenge))
		var cardErr *apdu.ErrBadResponse
		require.True(t, errors.As(err, &cardErr), s.raw)
		assert.Equal(t, s.sw, cardErr.Sw)
	}
}

func TestNewSession_BadCryptogram(t *testing.T) {
	raw := hexutils.HexToBytes(testInitializeUpdate + "9000")
	raw[20] ^= 0x01
	resp, err := apdu.ParseResponse(raw)
	require.NoError(t, err)

	_, err = NewSession(testKeys(), DefaultInitiationConfig, resp, hexutils.HexToBytes(testHostChallenge))
	assert.Equal(t, errBadCryptogram, err)
}

func TestNewSession_UnsupportedVersion(t *testing.T) {
	raw := hexutils.HexToBytes(testInitializeUpdate + "9000")
	raw[11] = 0x01
	resp, err := apdu.ParseResponse(raw)
	require.NoError(t, err)

	_, err = NewSession(testKeys(), DefaultInitiationConfig, resp, hexutils.HexToBytes(testHostChallenge))
	assert.EqualError(t, err, "scp version 1 not supported")
}
