package globalplatform

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/status-im/keycard-proto/executor"
	"github.com/status-im/keycard-proto/hexutils"
	"github.com/status-im/keycard-proto/io"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandSet_Select(t *testing.T) {
	tr := io.NewScriptedTransport(hexutils.HexToBytes("6F108408A000000151000000A5049F6501FF9000"))
	cs := NewCommandSet(executor.NewWithChannels(tr), NewSecureChannel(testKeys()))

	aid, err := cs.Select()
	require.NoError(t, err)
	assert.Equal(t, "A000000151000000", hexutils.BytesToHex(aid))

	tr.Push(hexutils.HexToBytes("A5049F6501FF9000"))
	_, err = cs.Select()
	assert.Equal(t, ErrISDNotFound, err)
}

func TestCommandSet_GetStatusPages(t *testing.T) {
	tr := io.NewScriptedTransport(
		hexutils.HexToBytes(testISDEntry+"6310"),
		hexutils.HexToBytes("E30E4F08A0000008040001019F700107"+"9000"),
	)
	cs := NewCommandSet(executor.NewWithChannels(tr), NewSecureChannel(testKeys()))

	entries, err := cs.GetStatus(P1GetStatusApplications)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "A000000804000101", hexutils.BytesToHex(entries[1].AID))
	assert.Equal(t, byte(LifeCycleSelectable), entries[1].LifeCycle)

	sent := tr.Sent()
	assert.Equal(t, uint8(0x03), sent[1][3])
}

func TestCommandSet_GetStatusEmpty(t *testing.T) {
	tr := io.NewScriptedTransport(hexutils.HexToBytes("6A88"))
	cs := NewCommandSet(executor.NewWithChannels(tr), NewSecureChannel(testKeys()))

	entries, err := cs.GetStatus(P1GetStatusExecLoadFiles)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCommandSet_DeleteKeycardInstancesAndPackage(t *testing.T) {
	tr := io.NewScriptedTransport(
		hexutils.HexToBytes("9000"),
		hexutils.HexToBytes("6A88"),
		hexutils.HexToBytes("9000"),
		hexutils.HexToBytes("9000"),
	)
	cs := NewCommandSet(executor.NewWithChannels(tr), NewSecureChannel(testKeys()))

	require.NoError(t, cs.DeleteKeycardInstancesAndPackage())
	sent := tr.Sent()
	require.Len(t, sent, 4)
	assert.Equal(t, "80E40080094F07A0000008040001", hexutils.BytesToHex(sent[3]))

	tr.Push(hexutils.HexToBytes("6985"))
	assert.Error(t, cs.Delete([]byte{0x01}, P2DeleteObject))
}

func testCAPFile(t *testing.T, componentSize int) *bytes.Reader {
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for i, name := range []string{"Header", "Directory", "Method", "Debug"} {
		f, err := w.Create("im/status/keycard/javacard/" + name + ".cap")
		require.NoError(t, err)
		_, err = f.Write(bytes.Repeat([]byte{byte(i + 1)}, componentSize))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return bytes.NewReader(buf.Bytes())
}

func TestLoadCommandStream(t *testing.T) {
	r := testCAPFile(t, 200)
	stream, err := NewLoadCommandStream(r, r.Size())
	require.NoError(t, err)

	// C4 82 0258 + 600 bytes
	assert.Equal(t, 3, stream.BlocksCount())

	var commands [][]byte
	for stream.Next() {
		raw, err := stream.GetCommand().Serialize()
		require.NoError(t, err)
		commands = append(commands, raw)
	}

	require.Len(t, commands, 3)
	assert.Equal(t, "80 E8 00 00 F7 C4 82 02 58 01", hexutils.BytesToHexWithSpaces(commands[0][:10]))
	assert.Equal(t, "80 E8 00 01 F7", hexutils.BytesToHexWithSpaces(commands[1][:5]))
	assert.Equal(t, "80 E8 80 02", hexutils.BytesToHexWithSpaces(commands[2][:4]))
	// Debug components are not loaded
	assert.NotContains(t, commands[2], byte(0x04))
}

func TestCommandSet_LoadKeycardPackage(t *testing.T) {
	r := testCAPFile(t, 10)
	tr := io.NewScriptedTransport(hexutils.HexToBytes("9000"), hexutils.HexToBytes("9000"))
	cs := NewCommandSet(executor.NewWithChannels(tr), NewSecureChannel(testKeys()))

	var calls []int
	err := cs.LoadKeycardPackage(r, r.Size(), func(block, total int) {
		calls = append(calls, block, total)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, calls)
	assert.Equal(t, "80 E6 02 00", hexutils.BytesToHexWithSpaces(tr.Sent()[0][:4]))
}
