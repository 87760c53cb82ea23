/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package overlay

import (
	"context"
	"fmt"

	"github.com/ipop-project/tincan/std/utils"
	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/frame"
	"github.com/ipop-project/tincan/tincan/link"
	"github.com/ipop-project/tincan/tincan/table"
	"go.uber.org/multierr"
)

// VirtualNetwork switches frames between the TAP device and any number of
// adjacent peers, forwarding through them to peers it has a route to.
type VirtualNetwork struct {
	*engine
	peers *table.PeerNetwork
}

// NewVirtualNetwork creates a stopped virtual network.
func NewVirtualNetwork(p Params) (*VirtualNetwork, error) {
	e, err := newEngine(p, TypeVirtualNetwork)
	if err != nil {
		return nil, err
	}
	vn := &VirtualNetwork{
		engine: e,
		peers:  table.NewPeerNetwork(e.id, utils.Millis(core.C.Overlay.ScavengeInterval), e.clock),
	}
	e.d = vn
	return vn, nil
}

// Peers returns the peer registry.
func (vn *VirtualNetwork) Peers() *table.PeerNetwork {
	return vn.peers
}

func (vn *VirtualNetwork) Start(ctx context.Context) error {
	ctx, err := vn.start(ctx)
	if err != nil {
		return err
	}
	vn.bg.Add(1)
	go func() {
		defer vn.bg.Done()
		vn.peers.Run(ctx)
	}()
	return nil
}

func (vn *VirtualNetwork) Shutdown() error {
	err := vn.shutdown()
	for _, l := range vn.peers.Clear() {
		vn.unmapLink(l)
		err = multierr.Append(err, l.Disconnect())
	}
	return err
}

func (vn *VirtualNetwork) CreateLink(req LinkRequest) (*link.Session, error) {
	vn.linkMu.Lock()
	defer vn.linkMu.Unlock()

	if l := vn.lookup(req.LinkId); l != nil {
		if s := l.SessionByID(req.LinkId); s != nil {
			return vn.updateSession(s, req), nil
		}
	}

	s, err := vn.newSession(req)
	if err != nil {
		return nil, err
	}
	l, err := vn.peers.GetLinkFor(req.PeerMac)
	if err != nil {
		l = link.NewPeerLink(req.PeerMac, vn)
	}
	if prev := l.AddSession(s); prev != nil {
		vn.mu.Lock()
		delete(vn.byID, prev.ID())
		delete(vn.ready, prev.ID())
		vn.mu.Unlock()
		prev.Disconnect()
	}
	vn.mapLink(req.LinkId, l)
	vn.peers.Add(l)
	s.StartConnections()
	return s, nil
}

func (vn *VirtualNetwork) RemoveLink(linkID string) error {
	vn.linkMu.Lock()
	defer vn.linkMu.Unlock()

	l := vn.lookup(linkID)
	if l == nil {
		return fmt.Errorf("%w: link %s", defn.ErrNotFound, linkID)
	}
	vn.unmapLink(l)
	if cur, err := vn.peers.GetLinkFor(l.Mac()); err == nil && cur == l {
		vn.peers.Remove(l.Mac())
	} else {
		l.Invalidate()
	}
	core.Log.Info(vn, "Removing link", "link", linkID, "peer", l.Mac())
	return l.Disconnect()
}

func (vn *VirtualNetwork) UpdateRoute(dest, nextHop defn.MacAddress) error {
	return vn.peers.UpdateRoute(dest, nextHop)
}

func (vn *VirtualNetwork) outbound(f *frame.Frame) {
	dest := f.DestinationMac()

	if l, err := vn.peers.GetLinkFor(dest); err == nil {
		f.SetTag(frame.TagDtf)
		core.Log.Trace(vn, "Unicast", "dest", dest, "len", f.PayloadLen())
		vn.transmit(l, f, true)
		return
	}

	if l, err := vn.peers.GetRoute(dest); err == nil {
		f.SetTag(frame.TagFwd)
		core.Log.Trace(vn, "Frame FWD", "dest", dest, "next-hop", l.Mac())
		vn.transmit(l, f, true)
		return
	}

	// ARP and broadcast frames take the same path; only the log differs
	f.SetTag(frame.TagIcc)
	vn.escalate(f)
	vn.postRead(f)
}

func (vn *VirtualNetwork) inbound(l *link.PeerLink, s *link.Session, f *frame.Frame) {
	switch f.Kind() {
	case frame.DirectTransfer:
		vn.writeTap(f)
	case frame.Forward:
		dest := f.DestinationMac()
		if next, err := vn.peers.GetRoute(dest); err == nil {
			core.Log.Trace(vn, "Forwarding frame", "from", l.Mac(), "dest", dest, "next-hop", next.Mac())
			vn.transmit(next, f, false)
		} else {
			vn.escalate(f)
		}
	case frame.InterController:
		vn.deliverIcc(l, s, f)
	default:
		core.Log.Warn(vn, "Unknown frame type received", "tag", fmt.Sprintf("%#04x", uint16(f.Tag())), "link", s.ID())
		metricDropped.WithLabelValues(vn.id, "unknown-tag").Inc()
	}
}
