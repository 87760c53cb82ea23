package core_test

import (
	"testing"

	"github.com/ipop-project/tincan/std/log"
	"github.com/ipop-project/tincan/tincan/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogLevel(t *testing.T) {
	prev := core.Log.Level()
	defer core.Log.SetLevel(prev)

	for name, level := range map[string]log.Level{
		"VERBOSE":   log.LevelDebug,
		"sensitive": log.LevelTrace,
		"NONE":      log.LevelNone,
		"WARNING":   log.LevelWarn,
		"error":     log.LevelError,
	} {
		require.NoError(t, core.SetLogLevel(name), name)
		assert.Equal(t, level, core.Log.Level(), name)
	}

	require.NoError(t, core.SetLogLevel("INFO"))
	assert.ErrorIs(t, core.SetLogLevel("LOUD"), log.ErrInvalidLevel)
	assert.Equal(t, log.LevelInfo, core.Log.Level())
}
