package executor

import (
	"errors"
	"testing"

	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/hexutils"
	"github.com/status-im/keycard-proto/io"
	"github.com/status-im/keycard-proto/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	active bool
	err    error
	resets int
}

func (c *fakeChannel) IsActive() bool { return c.active }
func (c *fakeChannel) Reset()         { c.active = false; c.resets++ }

func (c *fakeChannel) SecurityLevel() processor.SecurityLevel {
	return processor.Authenticated | processor.MACProtected
}

func (c *fakeChannel) Process(cmd []byte, next processor.Transmitter) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}

	return next.Transmit(cmd)
}

func TestExecute(t *testing.T) {
	tr := io.NewScriptedTransport(hexutils.HexToBytes("01 02 90 00"))
	e := NewWithChannels(tr)

	resp, err := e.Execute(apdu.NewCommand(0x80, 0xCA, 0x00, 0x00, nil))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, resp.Data)
	assert.Equal(t, uint16(0x9000), resp.Sw)
	assert.Equal(t, "80 CA 00 00", hexutils.BytesToHexWithSpaces(tr.Sent()[0]))
}

func TestExecute_ChainedResponse(t *testing.T) {
	tr := io.NewScriptedTransport(
		hexutils.HexToBytes("0A 61 05"),
		hexutils.HexToBytes("0B 0B 0B 0B 0B 61 02"),
		hexutils.HexToBytes("0C 0C 90 00"),
	)

	resp, err := NewWithChannels(tr).Execute(apdu.NewCommand(0x80, 0xCA, 0x00, 0x00, nil))
	require.NoError(t, err)
	assert.Equal(t, "0A 0B 0B 0B 0B 0B 0C 0C", hexutils.BytesToHexWithSpaces(resp.Data))
	assert.True(t, resp.IsOK())
}

func TestExecute_CardError(t *testing.T) {
	tr := io.NewScriptedTransport(hexutils.HexToBytes("6C 10"))

	resp, err := NewWithChannels(tr).Execute(apdu.NewCommand(0x00, 0xB0, 0x00, 0x00, nil))
	var cardErr *apdu.ErrBadResponse
	require.True(t, errors.As(err, &cardErr))
	assert.Equal(t, uint16(0x6C10), cardErr.Sw)
	require.NotNil(t, resp)
	assert.Equal(t, uint16(0x6C10), resp.Sw)
	assert.Len(t, tr.Sent(), 1)
}

func TestExecute_TransportError(t *testing.T) {
	tr := io.NewScriptedTransport()
	tr.PushError(errors.New("card removed"))

	_, err := NewWithChannels(tr, &fakeChannel{active: true}).Execute(apdu.NewCommand(0x00, 0xB0, 0x00, 0x00, nil))
	var te *io.TransportError
	assert.True(t, errors.As(err, &te))
}

func TestExecute_ProcessorError(t *testing.T) {
	tr := io.NewScriptedTransport()
	ch := &fakeChannel{active: true, err: errors.New("rejected")}

	_, err := NewWithChannels(tr, ch).Execute(apdu.NewCommand(0x00, 0xB0, 0x00, 0x00, nil))
	var pe *processor.ProcessorError
	require.True(t, errors.As(err, &pe))
	assert.Empty(t, tr.Sent())
}

func TestExecute_MalformedResponse(t *testing.T) {
	tr := io.NewScriptedTransport([]byte{0x90})

	_, err := New(tr).Execute(apdu.NewCommand(0x00, 0xB0, 0x00, 0x00, nil))
	assert.ErrorIs(t, err, apdu.ErrMalformedFrame)
}

func TestSecurityLevelAndReset(t *testing.T) {
	tr := io.NewScriptedTransport()
	ch := &fakeChannel{active: true}
	e := NewWithChannels(tr, ch)

	assert.Equal(t, processor.Authenticated|processor.MACProtected, e.SecurityLevel())

	require.NoError(t, e.Reset())
	assert.Equal(t, processor.SecurityLevelNone, e.SecurityLevel())
	assert.Equal(t, 1, ch.resets)
	assert.Equal(t, 1, tr.Resets())
}

func TestReset_TransportFailure(t *testing.T) {
	tr := io.NewScriptedTransport()
	tr.ResetErr = errors.New("no card")
	ch := &fakeChannel{active: true}
	e := NewWithChannels(tr, ch)

	err := e.Reset()
	var te *io.TransportError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, 1, ch.resets)
	assert.Equal(t, processor.SecurityLevelNone, e.SecurityLevel())
}
