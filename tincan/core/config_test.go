package core_test

import (
	"strings"
	"testing"

	"github.com/ipop-project/tincan/std/utils/toolutils"
	"github.com/ipop-project/tincan/tincan/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := core.DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, 2, c.Overlay.ConcurrentReads)
	assert.Equal(t, 120000, c.Overlay.ScavengeInterval)
	assert.True(t, c.Overlay.Encryption)
}

func TestConfigYaml(t *testing.T) {
	doc := `
core:
  log_level: DEBUG
overlay:
  threads: 4
  concurrent_reads: 3
  stun_servers: []
mgmt:
  port: 5801
overlays:
  - overlay_id: ov1
    type: TUNNEL
    tap_name: tnc0
    ip4: 10.1.0.2
    prefix_len4: 24
    mtu4: 1410
`
	c := core.DefaultConfig()
	require.NoError(t, toolutils.DecodeYaml(c, strings.NewReader(doc)))
	require.NoError(t, c.Validate())

	assert.Equal(t, "DEBUG", c.Core.LogLevel)
	assert.Equal(t, 4, c.Overlay.Threads)
	assert.Equal(t, 3, c.Overlay.ConcurrentReads)
	assert.Empty(t, c.Overlay.StunServers)
	assert.Equal(t, uint16(5801), c.Mgmt.Port)
	assert.Equal(t, 1024, c.Overlay.QueueSize)
	require.Len(t, c.Overlays, 1)
	assert.Equal(t, "TUNNEL", c.Overlays[0].Type)
	assert.Equal(t, 1410, c.Overlays[0].MTU4)
}

func TestConfigRejects(t *testing.T) {
	c := core.DefaultConfig()
	err := toolutils.DecodeYaml(c, strings.NewReader("overlay:\n  bogus: 1\n"))
	assert.Error(t, err)

	c = core.DefaultConfig()
	c.Overlay.Threads = core.MaxThreads + 1
	assert.Error(t, c.Validate())

	c = core.DefaultConfig()
	c.Overlays = []core.OverlayConfig{{Type: "VNET"}}
	assert.Error(t, c.Validate())
}
