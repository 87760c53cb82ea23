/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/link"
	"github.com/pion/ice/v2"
)

// IceTransport connects to one peer with ICE and secures the selected path
// with a Noise handshake.
type IceTransport struct {
	cfg    link.TransportConfig
	events link.TransportEvents
	agent  *ice.Agent

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	local       []string
	localCas    string
	remoteUfrag string
	remotePwd   string
	conn        *ice.Conn
	ch          *channel

	connecting atomic.Bool
	closed     atomic.Bool
	brokenOnce sync.Once
}

// Factory creates ICE transports.
var Factory link.TransportFactory = link.TransportFactoryFunc(NewIceTransport)

// NewIceTransport creates the ICE agent of a transport.
func NewIceTransport(cfg link.TransportConfig, events link.TransportEvents) (link.Transport, error) {
	uris, err := serverURIs(cfg.StunServers, cfg.TurnServers)
	if err != nil {
		return nil, err
	}
	agent, err := ice.NewAgent(&ice.AgentConfig{
		Urls:            uris,
		NetworkTypes:    []ice.NetworkType{ice.NetworkTypeUDP4, ice.NetworkTypeUDP6},
		PortMin:         cfg.PortMin,
		PortMax:         cfg.PortMax,
		InterfaceFilter: interfaceFilter(cfg.IgnoredInterfaces),
		LoggerFactory:   core.PionLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: ice agent: %v", defn.ErrSetup, err)
	}

	t := &IceTransport{cfg: cfg, events: events, agent: agent}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	if err := agent.OnCandidate(t.onCandidate); err != nil {
		agent.Close()
		return nil, err
	}
	if err := agent.OnConnectionStateChange(t.onStateChange); err != nil {
		agent.Close()
		return nil, err
	}
	return t, nil
}

func (t *IceTransport) String() string {
	return fmt.Sprintf("ice-transport (role=%s peer=%.8s)", t.cfg.Role, t.cfg.PeerFingerprint)
}

func (t *IceTransport) onCandidate(c ice.Candidate) {
	if c != nil {
		t.mu.Lock()
		t.local = append(t.local, c.Marshal())
		t.mu.Unlock()
		return
	}

	ufrag, pwd, err := t.agent.GetLocalUserCredentials()
	if err != nil {
		t.broken(err)
		return
	}
	t.mu.Lock()
	count := len(t.local)
	cas := CandidateSet{Ufrag: ufrag, Pwd: pwd, Candidates: t.local}.Encode()
	t.localCas = cas
	t.mu.Unlock()

	core.Log.Debug(t, "Gathering complete", "candidates", count)
	t.events.OnCandidatesReady(cas)
}

func (t *IceTransport) onStateChange(s ice.ConnectionState) {
	core.Log.Debug(t, "ICE state changed", "state", s)
	switch s {
	case ice.ConnectionStateFailed, ice.ConnectionStateClosed:
		t.broken(fmt.Errorf("ice %s", s))
	}
}

func (t *IceTransport) broken(err error) {
	if t.closed.Load() {
		return
	}
	t.brokenOnce.Do(func() { t.events.OnBroken(err) })
}

func (t *IceTransport) GatherCandidates() error {
	t.mu.Lock()
	t.local = nil
	t.mu.Unlock()
	return t.agent.GatherCandidates()
}

func (t *IceTransport) AddRemoteCandidates(cas string) error {
	set, err := ParseCandidateSet(cas)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.remoteUfrag != "" && (t.remoteUfrag != set.Ufrag || t.remotePwd != set.Pwd) {
		t.mu.Unlock()
		return fmt.Errorf("%w: remote credentials changed", defn.ErrInvalid)
	}
	t.remoteUfrag, t.remotePwd = set.Ufrag, set.Pwd
	t.mu.Unlock()

	var errs []error
	for _, raw := range set.Candidates {
		c, err := ice.UnmarshalCandidate(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: candidate %q: %v", defn.ErrDecode, raw, err))
			continue
		}
		if err := t.agent.AddRemoteCandidate(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Connect runs connectivity checks and the handshake in the background.
func (t *IceTransport) Connect() error {
	t.mu.Lock()
	ufrag, pwd := t.remoteUfrag, t.remotePwd
	t.mu.Unlock()
	if ufrag == "" {
		return fmt.Errorf("%w: no remote credentials", defn.ErrNotReady)
	}
	if !t.connecting.CompareAndSwap(false, true) {
		return nil
	}
	go t.connect(ufrag, pwd)
	return nil
}

func (t *IceTransport) connect(ufrag, pwd string) {
	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.ConnectTimeout)
	defer cancel()

	var conn *ice.Conn
	var err error
	if t.cfg.Role == defn.Initiator {
		conn, err = t.agent.Dial(ctx, ufrag, pwd)
	} else {
		conn, err = t.agent.Accept(ctx, ufrag, pwd)
	}
	if err != nil {
		t.broken(fmt.Errorf("connectivity checks: %w", err))
		return
	}

	ch, err := newChannel(conn, t.cfg, t.events.OnPacket)
	if err != nil {
		t.broken(err)
		return
	}
	t.mu.Lock()
	t.conn, t.ch = conn, ch
	t.mu.Unlock()

	go func() {
		t.broken(fmt.Errorf("read: %w", ch.ReadLoop()))
	}()

	if err := ch.Establish(t.ctx); err != nil {
		t.broken(err)
		return
	}
	if t.closed.Load() {
		return
	}
	core.Log.Info(t, "Transport writable", "remote", conn.RemoteAddr())
	t.events.OnWritable()
}

func (t *IceTransport) Send(b []byte) error {
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	if ch == nil {
		return defn.ErrNotReady
	}
	return ch.Send(b)
}

func (t *IceTransport) LocalCandidates() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localCas
}

func (t *IceTransport) Stats() []link.PairStats {
	pairs := t.agent.GetCandidatePairsStats()
	ret := make([]link.PairStats, 0, len(pairs))
	for _, p := range pairs {
		ret = append(ret, link.PairStats{
			Local:         p.LocalCandidateID,
			Remote:        p.RemoteCandidateID,
			State:         p.State.String(),
			Nominated:     p.Nominated,
			BytesSent:     p.BytesSent,
			BytesReceived: p.BytesReceived,
			RttMs:         p.CurrentRoundTripTime * 1000,
		})
	}
	return ret
}

// Close stops the agent. No events are raised afterwards.
func (t *IceTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()
	return t.agent.Close()
}
