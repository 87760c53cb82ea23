package overlay

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/link"
	"github.com/ipop-project/tincan/tincan/link/linktest"
	"github.com/ipop-project/tincan/tincan/tap/taptest"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// recorder is a ControlBridge keeping every event.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Deliver(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func eventsOf[T Event](r *recorder) []T {
	var ret []T
	for _, ev := range r.all() {
		if e, ok := ev.(T); ok {
			ret = append(ret, e)
		}
	}
	return ret
}

// node is one overlay with its fakes.
type node struct {
	ov  Overlay
	mac defn.MacAddress
	id  *link.Identity
	dev *taptest.Device
	br  *recorder
}

func (n *node) engine() *engine {
	switch ov := n.ov.(type) {
	case *VirtualNetwork:
		return ov.engine
	case *Tunnel:
		return ov.engine
	}
	return nil
}

func newNode(t *testing.T, net *linktest.Network, kind string, name string, last byte) *node {
	return newClockNode(t, net, kind, name, last, nil)
}

// newClockNode is newNode with the overlay running on clk.
func newClockNode(t *testing.T, net *linktest.Network, kind string, name string, last byte, clk clock.Clock) *node {
	mac := defn.MacAddress{0x02, 0, 0, 0, 0, last}
	id, err := link.NewIdentity()
	require.NoError(t, err)
	n := &node{
		mac: mac,
		id:  id,
		dev: taptest.NewDevice(mac),
		br:  &recorder{},
	}
	n.ov, err = New(Params{
		Config:   &core.OverlayConfig{OverlayId: name, Type: kind, TapName: "tap-" + name},
		Device:   n.dev,
		Factory:  net,
		Bridge:   n.br,
		Identity: id,
		Clock:    clk,
	})
	require.NoError(t, err)
	require.NoError(t, n.ov.Start(context.Background()))
	t.Cleanup(func() { n.ov.Shutdown() })
	return n
}

// connect creates and connects the link id between a and b. roles, if
// given, force the role of a and b in that order.
func connect(t *testing.T, linkID string, a, b *node, roles ...string) (*link.Session, *link.Session) {
	roleA, roleB := "", ""
	if len(roles) == 2 {
		roleA, roleB = roles[0], roles[1]
	}
	sa, err := a.ov.CreateLink(LinkRequest{
		LinkId:          linkID,
		PeerUID:         "uid-" + b.mac.Hex(),
		PeerMac:         b.mac,
		PeerFingerprint: b.id.Fingerprint(),
		Role:            roleA,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sa.LocalCandidates() != "" }, waitFor, tick)

	sb, err := b.ov.CreateLink(LinkRequest{
		LinkId:          linkID,
		PeerUID:         "uid-" + a.mac.Hex(),
		PeerMac:         a.mac,
		PeerFingerprint: a.id.Fingerprint(),
		PeerCandidates:  sa.LocalCandidates(),
		Role:            roleB,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sb.LocalCandidates() != "" }, waitFor, tick)

	again, err := a.ov.CreateLink(LinkRequest{
		LinkId:         linkID,
		PeerMac:        b.mac,
		PeerCandidates: sb.LocalCandidates(),
	})
	require.NoError(t, err)
	require.Same(t, sa, again)

	require.Eventually(t, func() bool { return sa.IsReady() && sb.IsReady() }, waitFor, tick)
	return sa, sb
}

// ethFrame builds an IPv4 Ethernet frame from src to dst.
func ethFrame(dst, src defn.MacAddress, body string) []byte {
	b := make([]byte, 14, 14+len(body))
	copy(b[0:6], dst[:])
	copy(b[6:12], src[:])
	binary.BigEndian.PutUint16(b[12:14], 0x0800)
	return append(b, body...)
}
