/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package overlay

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/frame"
	"github.com/ipop-project/tincan/tincan/link"
)

// Tunnel connects the TAP device to a single peer. The peer link may hold
// a session in each role and transmits through the preferred one.
type Tunnel struct {
	*engine

	peerMu sync.RWMutex
	peer   *link.PeerLink
}

// NewTunnel creates a stopped tunnel.
func NewTunnel(p Params) (*Tunnel, error) {
	e, err := newEngine(p, TypeTunnel)
	if err != nil {
		return nil, err
	}
	t := &Tunnel{engine: e}
	e.d = t
	return t, nil
}

// Peer returns the peer link, nil before the first link is created.
func (t *Tunnel) Peer() *link.PeerLink {
	t.peerMu.RLock()
	defer t.peerMu.RUnlock()
	return t.peer
}

func (t *Tunnel) Start(ctx context.Context) error {
	_, err := t.start(ctx)
	return err
}

func (t *Tunnel) Shutdown() error {
	err := t.shutdown()
	t.peerMu.Lock()
	l := t.peer
	t.peer = nil
	t.peerMu.Unlock()
	if l == nil {
		return err
	}
	t.unmapLink(l)
	if derr := l.Disconnect(); err == nil {
		err = derr
	}
	return err
}

func (t *Tunnel) CreateLink(req LinkRequest) (*link.Session, error) {
	t.linkMu.Lock()
	defer t.linkMu.Unlock()

	l := t.Peer()
	if l != nil {
		if s := l.SessionByID(req.LinkId); s != nil {
			return t.updateSession(s, req), nil
		}
		if l.Mac() != req.PeerMac {
			return nil, fmt.Errorf("%w: tunnel %s already connects to %s", defn.ErrInvalid, t.id, l.Mac())
		}
	}

	s, err := t.newSession(req)
	if err != nil {
		return nil, err
	}
	if l == nil {
		l = link.NewPeerLink(req.PeerMac, t)
		t.peerMu.Lock()
		t.peer = l
		t.peerMu.Unlock()
	}
	if prev := l.AddSession(s); prev != nil {
		t.mu.Lock()
		delete(t.byID, prev.ID())
		delete(t.ready, prev.ID())
		t.mu.Unlock()
		prev.Disconnect()
	}
	t.mapLink(req.LinkId, l)
	s.StartConnections()
	return s, nil
}

// RemoveLink disconnects the session with the given id. The tunnel drops
// its peer once no session is left.
func (t *Tunnel) RemoveLink(linkID string) error {
	t.linkMu.Lock()
	defer t.linkMu.Unlock()

	l := t.Peer()
	var s *link.Session
	if l != nil {
		s = l.SessionByID(linkID)
	}
	if s == nil {
		if l != nil && t.lookup(linkID) == l {
			// session already released after breaking
			t.mu.Lock()
			delete(t.byID, linkID)
			t.mu.Unlock()
			t.dropIfEmpty(l)
			return nil
		}
		return fmt.Errorf("%w: link %s does not belong to tunnel %s", defn.ErrNotFound, linkID, t.id)
	}

	l.Release(s.Role())
	t.mu.Lock()
	delete(t.byID, linkID)
	delete(t.ready, linkID)
	t.mu.Unlock()
	core.Log.Info(t, "Removing link", "link", linkID, "role", s.Role())
	err := s.Disconnect()
	t.dropIfEmpty(l)
	return err
}

func (t *Tunnel) dropIfEmpty(l *link.PeerLink) {
	if !l.IsEmpty() {
		return
	}
	t.unmapLink(l)
	l.Invalidate()
	t.peerMu.Lock()
	if t.peer == l {
		t.peer = nil
	}
	t.peerMu.Unlock()
}

// UpdateRoute is rejected: the only destination of a tunnel is its peer.
func (t *Tunnel) UpdateRoute(dest, nextHop defn.MacAddress) error {
	return fmt.Errorf("%w: tunnel %s has no routing table", defn.ErrInvalidRoute, t.id)
}

func (t *Tunnel) outbound(f *frame.Frame) {
	l := t.Peer()
	if l == nil {
		metricDropped.WithLabelValues(t.id, "no-link").Inc()
		t.postRead(f)
		return
	}
	f.SetTag(frame.TagDtf)
	t.transmit(l, f, true)
}

func (t *Tunnel) inbound(l *link.PeerLink, s *link.Session, f *frame.Frame) {
	switch f.Kind() {
	case frame.DirectTransfer:
		t.writeTap(f)
	case frame.InterController:
		t.deliverIcc(l, s, f)
	case frame.Forward:
		// the sender is the only route
		t.escalate(f)
	default:
		core.Log.Warn(t, "Unknown frame type received", "tag", fmt.Sprintf("%#04x", uint16(f.Tag())), "link", s.ID())
		metricDropped.WithLabelValues(t.id, "unknown-tag").Inc()
	}
}
