/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package core

import (
	"fmt"
	"path/filepath"
)

// Global initial configuration of the daemon.
// This configuration is IMMUTABLE once the daemon has started.
var C = DefaultConfig()

// MaxThreads is the maximum number of network worker threads per overlay.
const MaxThreads = 32

// TurnServer describes a TURN relay used during connectivity checks.
type TurnServer struct {
	// Address in host:port form
	Address string `json:"address"`
	// Username for the long-term credential
	User string `json:"user"`
	// Password for the long-term credential
	Password string `json:"password"`
}

// OverlayConfig describes one overlay and its TAP device.
type OverlayConfig struct {
	// Overlay identifier
	OverlayId string `json:"overlay_id"`
	// Overlay type: VNET or TUNNEL
	Type string `json:"type"`
	// TAP device name
	TapName string `json:"tap_name"`
	// IPv4 address assigned to the TAP device
	IP4 string `json:"ip4"`
	// IPv4 prefix length
	PrefixLen4 int `json:"prefix_len4"`
	// TAP device MTU
	MTU4 int `json:"mtu4"`
	// Local node UID
	NodeId string `json:"node_id"`
	// Override of overlay.stun_servers
	StunServers []string `json:"stun_servers"`
	// Override of overlay.turn_servers
	TurnServers []TurnServer `json:"turn_servers"`
	// Override of overlay.ignored_interfaces
	IgnoredInterfaces []string `json:"ignored_interfaces"`
}

// Config represents the configuration of the daemon.
type Config struct {
	Core struct {
		// Logging level
		LogLevel string `json:"log_level"`
		// Output log to file
		LogFile string `json:"log_file"`
		// Log format: text or json
		LogFormat string `json:"log_format"`

		// Config file base dir
		BaseDir string `json:"-"`
		// Write CPU profile to file
		CpuProfile string `json:"-"`
		// Write memory profile to file
		MemProfile string `json:"-"`
		// Write block profile to file
		BlockProfile string `json:"-"`
	} `json:"core"`

	Overlay struct {
		// Number of network worker threads per overlay
		Threads int `json:"threads"`
		// Size of each worker's task queue
		QueueSize int `json:"queue_size"`
		// Number of TAP reads kept outstanding
		ConcurrentReads int `json:"concurrent_reads"`
		// Route scavenger interval (milliseconds)
		ScavengeInterval int `json:"scavenge_interval"`
		// STUN servers used for candidate gathering
		StunServers []string `json:"stun_servers"`
		// TURN servers used for candidate gathering
		TurnServers []TurnServer `json:"turn_servers"`
		// Interfaces excluded from candidate gathering
		IgnoredInterfaces []string `json:"ignored_interfaces"`
		// Whether link traffic is encrypted
		Encryption bool `json:"encryption"`
	} `json:"overlay"`

	Link struct {
		// Time allowed for connectivity checks to succeed (milliseconds)
		ConnectTimeout int `json:"connect_timeout"`
		// Time allowed for the secure handshake (milliseconds)
		HandshakeTimeout int `json:"handshake_timeout"`
		// Handshake retransmission interval (milliseconds)
		HandshakeRetry int `json:"handshake_retry"`
		// Lowest local UDP port used for candidates, 0 for any
		PortMin uint16 `json:"port_min"`
		// Highest local UDP port used for candidates, 0 for any
		PortMax uint16 `json:"port_max"`
	} `json:"link"`

	Mgmt struct {
		// Bind address of the control channel
		Bind string `json:"bind"`
		// Port of the control channel
		Port uint16 `json:"port"`
		// Whether to serve prometheus metrics on /metrics
		Metrics bool `json:"metrics"`
	} `json:"mgmt"`

	// Overlays created at start-up
	Overlays []OverlayConfig `json:"overlays"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	c := &Config{}
	c.Core.LogLevel = "INFO"
	c.Core.LogFile = ""
	c.Core.LogFormat = "text"
	c.Core.BaseDir = ""
	c.Core.CpuProfile = ""
	c.Core.MemProfile = ""
	c.Core.BlockProfile = ""

	c.Overlay.Threads = 1
	c.Overlay.QueueSize = 1024
	c.Overlay.ConcurrentReads = 2
	c.Overlay.ScavengeInterval = 120000
	c.Overlay.StunServers = []string{"stun:stun.l.google.com:19302"}
	c.Overlay.TurnServers = []TurnServer{}
	c.Overlay.IgnoredInterfaces = []string{}
	c.Overlay.Encryption = true

	c.Link.ConnectTimeout = 30000
	c.Link.HandshakeTimeout = 10000
	c.Link.HandshakeRetry = 500
	c.Link.PortMin = 0
	c.Link.PortMax = 0

	c.Mgmt.Bind = "127.0.0.1"
	c.Mgmt.Port = 5800
	c.Mgmt.Metrics = true

	c.Overlays = []OverlayConfig{}

	return c
}

// Validate checks ranges that cannot be corrected at runtime.
func (c *Config) Validate() error {
	if c.Overlay.Threads < 1 || c.Overlay.Threads > MaxThreads {
		return fmt.Errorf("overlay.threads out of range [1, %d]: %d", MaxThreads, c.Overlay.Threads)
	}
	if c.Overlay.QueueSize < 1 {
		return fmt.Errorf("overlay.queue_size must be positive: %d", c.Overlay.QueueSize)
	}
	if c.Overlay.ConcurrentReads < 1 {
		return fmt.Errorf("overlay.concurrent_reads must be positive: %d", c.Overlay.ConcurrentReads)
	}
	if c.Overlay.ScavengeInterval <= 0 {
		return fmt.Errorf("overlay.scavenge_interval must be positive: %d", c.Overlay.ScavengeInterval)
	}
	if c.Link.PortMax < c.Link.PortMin {
		return fmt.Errorf("link.port_max (%d) below link.port_min (%d)", c.Link.PortMax, c.Link.PortMin)
	}
	for i, o := range c.Overlays {
		if o.OverlayId == "" {
			return fmt.Errorf("overlays[%d]: missing overlay_id", i)
		}
	}
	return nil
}

// ResolveRelPath resolves a possibly relative path based on config file path.
func (c *Config) ResolveRelPath(target string) string {
	if target == "" || filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(c.Core.BaseDir, target)
}
