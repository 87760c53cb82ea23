package utils_test

import (
	"testing"
	"time"

	"github.com/ipop-project/tincan/std/utils"
	tu "github.com/ipop-project/tincan/std/utils/testutils"
	"github.com/stretchr/testify/require"
)

func TestIdPtr(t *testing.T) {
	tu.SetT(t)

	p := utils.IdPtr(uint64(42))
	require.Equal(t, uint64(42), *p)
}

func TestMakeTimestamp(t *testing.T) {
	tu.SetT(t)

	date := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, uint64(1609459200000), utils.MakeTimestamp(date))
}

func TestIfAndMillis(t *testing.T) {
	tu.SetT(t)

	require.Equal(t, "a", utils.If(true, "a", "b"))
	require.Equal(t, "b", utils.If(false, "a", "b"))
	require.Equal(t, 120*time.Second, utils.Millis(120000))
	require.Equal(t, []byte{0x0b, 0x01}, tu.Hex("0b01"))
}
