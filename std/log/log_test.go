package log_test

import (
	"bytes"
	"testing"

	"github.com/ipop-project/tincan/std/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tag struct{}

func (tag) String() string { return "unit" }

func TestParseLevel(t *testing.T) {
	lvl, err := log.ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, log.LevelDebug, lvl)

	lvl, err = log.ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, log.LevelWarn, lvl)

	lvl, err = log.ParseLevel("none")
	require.NoError(t, err)
	assert.Equal(t, log.LevelNone, lvl)
	assert.Equal(t, "NONE", lvl.String())
	assert.Equal(t, "UNKNOWN", log.Level(3).String())

	_, err = log.ParseLevel("verbose")
	assert.ErrorIs(t, err, log.ErrInvalidLevel)
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := log.NewText(&buf)

	l.Debug(tag{}, "hidden")
	assert.Empty(t, buf.String())

	prev := l.SetLevel(log.LevelDebug)
	assert.Equal(t, log.LevelInfo, prev)
	l.Debug(tag{}, "shown", "k", 1)
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "tag=unit")
	assert.Contains(t, buf.String(), "level=DEBUG")
}

func TestPionFactoryShift(t *testing.T) {
	var buf bytes.Buffer
	l := log.NewText(&buf)
	f := &log.PionFactory{Logger: l, Shift: 1}

	pl := f.NewLogger("ice")
	pl.Infof("gathered %d", 3)
	assert.Empty(t, buf.String())

	pl.Warn("warned")
	assert.Contains(t, buf.String(), "warned")
	assert.Contains(t, buf.String(), "tag=pion-ice")
	assert.Contains(t, buf.String(), "level=INFO")
}
