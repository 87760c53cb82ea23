package utils

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

var testT *testing.T

func SetT(t *testing.T) {
	testT = t
}

func NoErr[T any](v T, err error) T {
	require.NoError(testT, err)
	return v
}

func Err[T any](_ T, err error) error {
	require.Error(testT, err)
	return err
}

// Hex decodes a hex string, failing the current test on error.
func Hex(s string) []byte {
	return NoErr(hex.DecodeString(s))
}
