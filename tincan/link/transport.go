/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package link

import (
	"time"

	"github.com/ipop-project/tincan/std/utils"
	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
)

// TransportConfig carries everything a transport needs to reach one peer.
type TransportConfig struct {
	StunServers       []string
	TurnServers       []core.TurnServer
	IgnoredInterfaces []string
	Encryption        bool
	ConnectTimeout    time.Duration
	HandshakeTimeout  time.Duration
	HandshakeRetry    time.Duration
	PortMin           uint16
	PortMax           uint16

	// Filled in by Session.Initialize
	Role            defn.Role
	Identity        *Identity
	PeerFingerprint string
}

// TransportConfigFrom builds the transport settings of an overlay.
func TransportConfigFrom(c *core.Config, o *core.OverlayConfig) TransportConfig {
	cfg := TransportConfig{
		StunServers:       c.Overlay.StunServers,
		TurnServers:       c.Overlay.TurnServers,
		IgnoredInterfaces: c.Overlay.IgnoredInterfaces,
		Encryption:        c.Overlay.Encryption,
		ConnectTimeout:    utils.Millis(c.Link.ConnectTimeout),
		HandshakeTimeout:  utils.Millis(c.Link.HandshakeTimeout),
		HandshakeRetry:    utils.Millis(c.Link.HandshakeRetry),
		PortMin:           c.Link.PortMin,
		PortMax:           c.Link.PortMax,
	}
	if o != nil {
		if len(o.StunServers) > 0 {
			cfg.StunServers = o.StunServers
		}
		if len(o.TurnServers) > 0 {
			cfg.TurnServers = o.TurnServers
		}
		if len(o.IgnoredInterfaces) > 0 {
			cfg.IgnoredInterfaces = o.IgnoredInterfaces
		}
	}
	return cfg
}

// PairStats describes one candidate pair of a connected transport.
type PairStats struct {
	Local         string  `json:"local"`
	Remote        string  `json:"remote"`
	State         string  `json:"state"`
	Nominated     bool    `json:"nominated"`
	BytesSent     uint64  `json:"bytes_sent"`
	BytesReceived uint64  `json:"bytes_received"`
	RttMs         float64 `json:"rtt_ms"`
}

// TransportEvents receives notifications from a transport.
// Calls may arrive on any goroutine.
type TransportEvents interface {
	// OnWritable is raised once the secure session can carry data.
	OnWritable()
	// OnCandidatesReady is raised when a gather completes.
	OnCandidatesReady(cas string)
	// OnBroken is raised when the transport fails permanently.
	OnBroken(err error)
	// OnPacket delivers one received message. The slice is only valid during the call.
	OnPacket(b []byte)
}

// Transport is the secure, connectivity-checked datagram session to one peer.
type Transport interface {
	GatherCandidates() error
	AddRemoteCandidates(cas string) error
	// Connect starts connectivity checks and the handshake. It does not block.
	Connect() error
	Send(b []byte) error
	LocalCandidates() string
	Stats() []PairStats
	Close() error
}

// TransportFactory creates transports for new sessions.
type TransportFactory interface {
	NewTransport(cfg TransportConfig, events TransportEvents) (Transport, error)
}

// TransportFactoryFunc adapts a function to TransportFactory.
type TransportFactoryFunc func(cfg TransportConfig, events TransportEvents) (Transport, error)

func (f TransportFactoryFunc) NewTransport(cfg TransportConfig, events TransportEvents) (Transport, error) {
	return f(cfg, events)
}
