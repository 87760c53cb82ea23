package defn_test

import (
	"testing"

	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMac(t *testing.T) {
	m, err := defn.ParseMac("0a1b2c3d4e5f")
	require.NoError(t, err)
	assert.Equal(t, defn.MacAddress{0x0a, 0x1b, 0x2c, 0x3d, 0x4e, 0x5f}, m)
	assert.Equal(t, "0a:1b:2c:3d:4e:5f", m.String())
	assert.Equal(t, "0a1b2c3d4e5f", m.Hex())

	m2, err := defn.ParseMac("0A:1B:2C:3D:4E:5F")
	require.NoError(t, err)
	assert.Equal(t, m, m2)

	_, err = defn.ParseMac("zz1b2c3d4e5f")
	assert.ErrorIs(t, err, defn.ErrDecode)
	_, err = defn.ParseMac("0a:1b")
	assert.ErrorIs(t, err, defn.ErrDecode)
	_, err = defn.MacFromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, defn.ErrDecode)
}

func TestMacKinds(t *testing.T) {
	assert.True(t, defn.BroadcastMac.IsBroadcast())
	assert.True(t, defn.BroadcastMac.IsMulticast())
	assert.True(t, defn.MacAddress{0x01, 0x00, 0x5e, 0, 0, 1}.IsMulticast())
	assert.False(t, defn.MacAddress{0x02, 0, 0, 0, 0, 1}.IsMulticast())
}

func TestTieBreakRole(t *testing.T) {
	a, b := "1f0e", "a0b1"
	assert.Equal(t, defn.Initiator, defn.TieBreakRole(a, b))
	assert.Equal(t, defn.Responder, defn.TieBreakRole(b, a))
	assert.Equal(t, defn.TieBreakRole(a, b).Other(), defn.TieBreakRole(b, a))
}

func TestParseRole(t *testing.T) {
	r, err := defn.ParseRole("CONTROLLED")
	require.NoError(t, err)
	assert.Equal(t, defn.Responder, r)
	_, err = defn.ParseRole("observer")
	assert.ErrorIs(t, err, defn.ErrInvalid)
}
