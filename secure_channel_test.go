package keycard

import (
	"errors"
	"testing"

	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/hexutils"
	"github.com/status-im/keycard-proto/processor"
	"github.com/status-im/keycard-proto/securechannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransmitter struct {
	sent [][]byte
	resp []byte
	err  error
}

func (r *recordingTransmitter) Transmit(cmd []byte) ([]byte, error) {
	r.sent = append(r.sent, cmd)
	return r.resp, r.err
}

func newEstablishedChannel() *SecureChannel {
	sc := NewSecureChannel()
	sc.init(
		hexutils.HexToBytes("FDBCB1637597CF3F8F5E8263007D4E45F64C12D44066D4576EB1443D60AEF441"),
		hexutils.HexToBytes("2FB70219E6635EE0958AB3F7A428BA87E8CD6E6F873A5725A55F25B102D0F1F7"),
		hexutils.HexToBytes("627E64358FA9BDCDAD4442BD8006E0A5"),
	)
	sc.state = securechannel.Established

	return sc
}

func TestSecureChannel_Wrap(t *testing.T) {
	sc := newEstablishedChannel()
	next := &recordingTransmitter{err: errors.New("card removed")}

	cmd, err := NewCommandMutuallyAuthenticate(hexutils.HexToBytes("D545A5E95963B6BCED86A6AE826D34C5E06AC64A1217EFFA1415A96674A82500")).Serialize()
	require.NoError(t, err)

	_, err = sc.Process(cmd, next)
	assert.EqualError(t, err, "card removed")
	require.Len(t, next.sent, 1)

	expected := "80 11 00 00 40 " +
		"BA 79 6B F8 FA D1 FD 50 40 7B 87 12 7B 94 F5 02 " +
		"3E F8 90 3A E9 26 EA D8 A2 04 F9 61 B8 A0 ED AE " +
		"E7 CC CF E7 F7 F6 38 0C E2 C6 F1 88 E5 98 E4 46 " +
		"8B 7D ED D0 E8 07 C1 8C CB DA 71 A5 5F 3E 1F 9A"
	assert.Equal(t, expected, hexutils.BytesToHexWithSpaces(next.sent[0]))

	// a link failure loses the IV chain
	assert.Equal(t, securechannel.Closed, sc.State())
	assert.Nil(t, sc.encKey)
}

func TestSecureChannel_PayloadTooLong(t *testing.T) {
	sc := newEstablishedChannel()
	next := &recordingTransmitter{}

	cmd, err := apdu.NewCommand(0x80, InsStoreData, 0, 0, make([]byte, MaxPayloadLength+1)).Serialize()
	require.NoError(t, err)

	_, err = sc.Process(cmd, next)
	assert.ErrorIs(t, err, ErrPayloadTooLong)
	assert.Empty(t, next.sent)
	assert.Equal(t, securechannel.Established, sc.State())
}

func TestSecureChannel_UnprotectedResponse(t *testing.T) {
	sc := newEstablishedChannel()
	next := &recordingTransmitter{resp: []byte{0x69, 0x82}}

	cmd, err := NewCommandGetStatus(P1GetStatusApplication).Serialize()
	require.NoError(t, err)

	_, err = sc.Process(cmd, next)
	var integrityErr *securechannel.IntegrityError
	require.True(t, errors.As(err, &integrityErr))
	assert.Equal(t, uint16(0x6982), integrityErr.Sw)
	assert.Equal(t, securechannel.Closed, sc.State())
	assert.Nil(t, sc.macKey)

	_, err = sc.Process(cmd, next)
	assert.ErrorIs(t, err, securechannel.ErrChannelClosed)
	assert.Len(t, next.sent, 1)

	sc.Reset()
	assert.Equal(t, securechannel.Unauthenticated, sc.State())
	assert.False(t, sc.IsActive())
}

func TestSecureChannel_MalformedResponse(t *testing.T) {
	sc := newEstablishedChannel()
	next := &recordingTransmitter{resp: append(make([]byte, 20), 0x90, 0x00)}

	cmd, err := NewCommandGetStatus(P1GetStatusApplication).Serialize()
	require.NoError(t, err)

	_, err = sc.Process(cmd, next)
	var integrityErr *securechannel.IntegrityError
	assert.True(t, errors.As(err, &integrityErr))
	assert.Equal(t, securechannel.Closed, sc.State())
}

func TestSecureChannel_StateAndSecurityLevel(t *testing.T) {
	sc := NewSecureChannel()
	assert.False(t, sc.IsActive())
	assert.Equal(t, processor.SecurityLevelNone, sc.SecurityLevel())

	sc.state = securechannel.Authenticating
	assert.False(t, sc.IsActive())

	sc = newEstablishedChannel()
	assert.True(t, sc.IsActive())
	assert.Equal(t, processor.Authenticated|processor.MACProtected|processor.Encrypted, sc.SecurityLevel())
}
