package frame_test

import (
	"testing"

	tu "github.com/ipop-project/tincan/std/utils/testutils"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ARP request from 02:00:00:00:00:01 for 10.0.0.2, broadcast destination.
const arpRequest = "ffffffffffff020000000001" + "0806" +
	"0001080006040001" + "020000000001" + "0a000001" + "000000000000" + "0a000002"

// IPv4 frame from 02:00:00:00:00:01 to 02:00:00:00:00:02.
const ipv4Frame = "020000000002020000000001" + "0800" + "4500001c0000000040110000"

func TestFrameTagging(t *testing.T) {
	tu.SetT(t)

	f := frame.New()
	require.NoError(t, f.SetPayload(tu.Hex(ipv4Frame)))
	f.SetTag(frame.TagDtf)

	wire := f.Wire()
	assert.Equal(t, tu.Hex("0b01"), wire[:2])
	assert.Equal(t, []byte{0x00, byte(len(tu.Hex(ipv4Frame)))}, wire[2:4])
	assert.Equal(t, frame.DirectTransfer, frame.Classify(wire))
	assert.Equal(t, tu.Hex(ipv4Frame), f.Payload())

	f.SetTag(frame.TagFwd)
	assert.Equal(t, frame.Forward, f.Kind())
	f.SetTag(frame.TagIcc)
	assert.Equal(t, frame.InterController, f.Kind())
}

func TestFrameDecode(t *testing.T) {
	tu.SetT(t)

	f := frame.New()
	require.NoError(t, f.SetPayload([]byte("hello")))
	f.SetTag(frame.TagIcc)

	g, err := frame.Decode(f.Wire())
	require.NoError(t, err)
	assert.Equal(t, frame.InterController, g.Kind())
	assert.Equal(t, []byte("hello"), g.Payload())

	// trailing bytes beyond the declared length are ignored
	g, err = frame.Decode(append(f.Wire(), 0xee, 0xee))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), g.Payload())

	_, err = frame.Decode([]byte{0x0b, 0x01, 0x00})
	assert.ErrorIs(t, err, defn.ErrDecode)

	_, err = frame.Decode([]byte{0x0b, 0x01, 0x00, 0x09, 0x01})
	assert.ErrorIs(t, err, defn.ErrDecode)

	g, err = frame.Decode([]byte{0xde, 0xad, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, frame.Unknown, g.Kind())
	assert.Equal(t, frame.Unknown, frame.Classify([]byte{0x0b}))
}

func TestFrameOversize(t *testing.T) {
	f := frame.New()
	assert.ErrorIs(t, f.SetPayload(make([]byte, frame.MaxPayload+1)), defn.ErrDecode)
	assert.NoError(t, f.SetPayload(make([]byte, frame.MaxPayload)))
	assert.Len(t, f.ReadBuffer(), frame.MaxPayload)
}

func TestFrameEthernet(t *testing.T) {
	tu.SetT(t)

	f := frame.New()
	require.NoError(t, f.SetPayload(tu.Hex(arpRequest)))
	assert.True(t, f.IsArpRequest())
	assert.False(t, f.IsArpResponse())
	assert.True(t, f.IsBroadcast())
	assert.Equal(t, "arp-request", f.Describe())
	assert.Equal(t, defn.MacAddress{0x02, 0, 0, 0, 0, 0x01}, f.SourceMac())

	require.NoError(t, f.SetPayload(tu.Hex(ipv4Frame)))
	assert.False(t, f.IsArpRequest())
	assert.False(t, f.IsBroadcast())
	assert.Equal(t, defn.MacAddress{0x02, 0, 0, 0, 0, 0x02}, f.DestinationMac())
	assert.Equal(t, uint16(0x0800), f.EtherType())
	assert.Equal(t, "unicast", f.Describe())

	f.Reset()
	assert.Equal(t, 0, f.PayloadLen())
	assert.Equal(t, defn.MacAddress{}, f.DestinationMac())
}
