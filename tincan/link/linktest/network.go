/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

// Package linktest provides an in-memory transport for testing link users.
package linktest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ipop-project/tincan/tincan/link"
)

var ErrNotConnected = errors.New("transport not connected")

// Network pairs transports created by its factory. Two transports connect
// once each has the other's candidates and both called Connect.
type Network struct {
	mu       sync.Mutex
	seq      int
	byCand   map[string]*Transport
	all      []*Transport
	failNext error

	// applied to the next transport created
	gatherErr  error
	gatherHold chan struct{}
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{byCand: make(map[string]*Transport)}
}

// FailNext makes the next NewTransport call fail with err.
func (n *Network) FailNext(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failNext = err
}

// FailGather makes GatherCandidates of the next transport fail with err.
func (n *Network) FailGather(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gatherErr = err
}

// HoldGather makes GatherCandidates of the next transport block until
// release is called.
func (n *Network) HoldGather() (release func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	hold := make(chan struct{})
	n.gatherHold = hold
	var once sync.Once
	return func() { once.Do(func() { close(hold) }) }
}

// NewTransport implements link.TransportFactory.
func (n *Network) NewTransport(cfg link.TransportConfig, ev link.TransportEvents) (link.Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.failNext; err != nil {
		n.failNext = nil
		return nil, err
	}
	n.seq++
	t := &Transport{
		net:  n,
		cfg:  cfg,
		ev:   ev,
		cand: fmt.Sprintf("mem:%d", n.seq),

		gatherErr:  n.gatherErr,
		gatherHold: n.gatherHold,
	}
	n.gatherErr, n.gatherHold = nil, nil
	n.byCand[t.cand] = t
	n.all = append(n.all, t)
	return t, nil
}

// Transports returns every transport created so far.
func (n *Network) Transports() []*Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Transport(nil), n.all...)
}

// Find returns the transport created for the given local and peer fingerprints.
func (n *Network) Find(localFpr, peerFpr string) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.all {
		if t.cfg.Identity.Fingerprint() == localFpr && t.cfg.PeerFingerprint == peerFpr {
			return t
		}
	}
	return nil
}

func (n *Network) lookup(cand string) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.byCand[cand]
}

// Transport is an in-memory link.Transport.
type Transport struct {
	net  *Network
	cfg  link.TransportConfig
	ev   link.TransportEvents
	cand string

	gatherErr  error
	gatherHold chan struct{}

	mu         sync.Mutex
	remote     string
	connecting bool
	peer       *Transport
	closed     bool
	sent       [][]byte
}

func (t *Transport) Config() link.TransportConfig {
	return t.cfg
}

func (t *Transport) GatherCandidates() error {
	if t.gatherHold != nil {
		<-t.gatherHold
	}
	if t.gatherErr != nil {
		return t.gatherErr
	}
	t.ev.OnCandidatesReady(t.cand)
	return nil
}

func (t *Transport) AddRemoteCandidates(cas string) error {
	if t.net.lookup(cas) == nil {
		return fmt.Errorf("unknown candidate %q", cas)
	}
	t.mu.Lock()
	t.remote = cas
	t.mu.Unlock()
	return nil
}

func (t *Transport) Connect() error {
	t.mu.Lock()
	t.connecting = true
	remote := t.remote
	t.mu.Unlock()

	other := t.net.lookup(remote)
	if other == nil {
		return fmt.Errorf("unknown candidate %q", remote)
	}

	other.mu.Lock()
	match := other.connecting && other.remote == t.cand && !other.closed
	other.mu.Unlock()
	if !match {
		return nil
	}

	t.mu.Lock()
	t.peer = other
	t.mu.Unlock()
	other.mu.Lock()
	other.peer = t
	other.mu.Unlock()

	t.ev.OnWritable()
	other.ev.OnWritable()
	return nil
}

// Send delivers b to the peer synchronously.
func (t *Transport) Send(b []byte) error {
	t.mu.Lock()
	peer, closed := t.peer, t.closed
	if !closed {
		t.sent = append(t.sent, append([]byte(nil), b...))
	}
	t.mu.Unlock()

	if closed || peer == nil {
		return ErrNotConnected
	}
	peer.mu.Lock()
	peerClosed := peer.closed
	peer.mu.Unlock()
	if !peerClosed {
		peer.ev.OnPacket(append([]byte(nil), b...))
	}
	return nil
}

func (t *Transport) LocalCandidates() string {
	return t.cand
}

func (t *Transport) Stats() []link.PairStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return []link.PairStats{{
		Local:     t.cand,
		Remote:    t.remote,
		State:     "succeeded",
		Nominated: t.peer != nil,
		BytesSent: uint64(len(t.sent)),
	}}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Sent returns copies of every message sent.
func (t *Transport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.sent...)
}

// IsClosed reports whether Close was called.
func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Break simulates a permanent transport failure.
func (t *Transport) Break() {
	t.ev.OnBroken(errors.New("simulated failure"))
}

// Deliver injects a received message.
func (t *Transport) Deliver(b []byte) {
	t.ev.OnPacket(b)
}

// Writable marks the transport writable without a peer.
func (t *Transport) Writable() {
	t.ev.OnWritable()
}
