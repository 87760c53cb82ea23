package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/link"
	"github.com/pion/stun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// udpPeer sends every datagram to a fixed address.
type udpPeer struct {
	*net.UDPConn
	to *net.UDPAddr
}

func (u *udpPeer) Write(b []byte) (int, error) {
	return u.WriteToUDP(b, u.to)
}

func udpPair(t *testing.T) (*udpPeer, *udpPeer) {
	lo := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}
	a, err := net.ListenUDP("udp4", lo)
	require.NoError(t, err)
	b, err := net.ListenUDP("udp4", lo)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return &udpPeer{a, b.LocalAddr().(*net.UDPAddr)}, &udpPeer{b, a.LocalAddr().(*net.UDPAddr)}
}

func testConfig(t *testing.T, role defn.Role, encryption bool) link.TransportConfig {
	id, err := link.NewIdentity()
	require.NoError(t, err)
	return link.TransportConfig{
		Encryption:       encryption,
		HandshakeTimeout: 5 * time.Second,
		HandshakeRetry:   100 * time.Millisecond,
		Role:             role,
		Identity:         id,
	}
}

type channelPair struct {
	a, b       *channel
	recvA      chan []byte
	recvB      chan []byte
	errA, errB chan error
}

func startChannels(t *testing.T, cfgA, cfgB link.TransportConfig) *channelPair {
	connA, connB := udpPair(t)
	p := &channelPair{
		recvA: make(chan []byte, 8),
		recvB: make(chan []byte, 8),
		errA:  make(chan error, 1),
		errB:  make(chan error, 1),
	}
	var err error
	p.a, err = newChannel(connA, cfgA, func(b []byte) { p.recvA <- append([]byte(nil), b...) })
	require.NoError(t, err)
	p.b, err = newChannel(connB, cfgB, func(b []byte) { p.recvB <- append([]byte(nil), b...) })
	require.NoError(t, err)

	go p.a.ReadLoop()
	go p.b.ReadLoop()
	go func() { p.errA <- p.a.Establish(context.Background()) }()
	go func() { p.errB <- p.b.Establish(context.Background()) }()
	return p
}

func wait[T any](t *testing.T, ch chan T) T {
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestSecureChannel(t *testing.T) {
	cfgA := testConfig(t, defn.Initiator, true)
	cfgB := testConfig(t, defn.Responder, true)
	cfgA.PeerFingerprint = cfgB.Identity.Fingerprint()
	cfgB.PeerFingerprint = cfgA.Identity.Fingerprint()

	p := startChannels(t, cfgA, cfgB)
	require.NoError(t, wait(t, p.errA))
	require.NoError(t, wait(t, p.errB))

	require.NoError(t, p.a.Send([]byte("hello")))
	assert.Equal(t, []byte("hello"), wait(t, p.recvB))
	require.NoError(t, p.b.Send([]byte("world")))
	assert.Equal(t, []byte("world"), wait(t, p.recvA))
}

func TestSecureChannelFingerprintMismatch(t *testing.T) {
	cfgA := testConfig(t, defn.Initiator, true)
	cfgB := testConfig(t, defn.Responder, true)
	other, err := link.NewIdentity()
	require.NoError(t, err)
	cfgA.PeerFingerprint = other.Fingerprint()

	p := startChannels(t, cfgA, cfgB)
	assert.ErrorIs(t, wait(t, p.errA), ErrFingerprint)
	assert.ErrorIs(t, p.a.Send([]byte("x")), defn.ErrNotReady)
}

func TestPlainChannel(t *testing.T) {
	p := startChannels(t, testConfig(t, defn.Initiator, false), testConfig(t, defn.Responder, false))
	require.NoError(t, wait(t, p.errA))
	require.NoError(t, wait(t, p.errB))

	require.NoError(t, p.a.Send([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, wait(t, p.recvB))
}

func TestChannelRequiresIdentity(t *testing.T) {
	cfg := testConfig(t, defn.Initiator, true)
	cfg.Identity = nil
	_, err := newChannel(nil, cfg, nil)
	assert.ErrorIs(t, err, defn.ErrSetup)
}

func TestReplayWindow(t *testing.T) {
	ch, err := newChannel(nil, testConfig(t, defn.Responder, false), nil)
	require.NoError(t, err)
	check := func(n uint64) bool {
		accept, ok := ch.replay.Check(n)
		if ok {
			accept()
		}
		return ok
	}

	// a nonce is only consumed once accepted
	_, ok := ch.replay.Check(7)
	assert.True(t, ok)
	_, ok = ch.replay.Check(7)
	assert.True(t, ok)

	assert.True(t, check(5))
	assert.False(t, check(5))
	assert.True(t, check(3))
	assert.True(t, check(100))
	assert.False(t, check(3))
	assert.True(t, check(99))
	assert.False(t, check(36))
	assert.True(t, check(37))
	assert.True(t, check(500))
	assert.False(t, check(100))
}

func TestCandidateSet(t *testing.T) {
	set := CandidateSet{
		Ufrag:      "abcd",
		Pwd:        "secret",
		Candidates: []string{"1 1 udp 2130706431 10.0.0.1 5000 typ host"},
	}
	got, err := ParseCandidateSet(set.Encode())
	require.NoError(t, err)
	assert.Equal(t, set, got)

	_, err = ParseCandidateSet("1 1 udp 2130706431 10.0.0.1 5000 typ host")
	assert.ErrorIs(t, err, defn.ErrDecode)
}

func TestServerURIs(t *testing.T) {
	uris, err := serverURIs(
		[]string{"stun.l.google.com:19302", "stun:stun.example.org:3478"},
		[]core.TurnServer{{Address: "turn.example.org:3478", User: "u", Password: "p"}},
	)
	require.NoError(t, err)
	require.Len(t, uris, 3)
	assert.Equal(t, stun.SchemeTypeSTUN, uris[0].Scheme)
	assert.Equal(t, "stun.l.google.com", uris[0].Host)
	assert.Equal(t, 19302, uris[0].Port)
	assert.Equal(t, stun.SchemeTypeTURN, uris[2].Scheme)
	assert.Equal(t, "u", uris[2].Username)

	_, err = serverURIs([]string{"stun:"}, nil)
	assert.ErrorIs(t, err, defn.ErrSetup)
}

func TestInterfaceFilter(t *testing.T) {
	assert.Nil(t, interfaceFilter(nil))
	f := interfaceFilter([]string{"tap0", "docker0"})
	assert.False(t, f("tap0"))
	assert.True(t, f("eth0"))
}
