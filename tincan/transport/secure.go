/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flynn/noise"
	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/link"
	"github.com/pion/transport/v2/replaydetector"
)

// Datagram types on a connected path.
const (
	pktHandshake byte = 0x01
	pktData      byte = 0x02
	pktPlain     byte = 0x03
)

const (
	nonceLen   = 8
	readBufLen = 2048
	// accepted nonces remembered behind the newest one
	replayWindow = 64
	// size of an XX first message: one ephemeral key, empty payload
	xxMsg1Len = 32
)

var (
	ErrFingerprint = errors.New("peer fingerprint mismatch")
	ErrReplay      = errors.New("replayed or stale datagram")

	cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)
)

// channel runs the Noise XX handshake over a datagram connection and then
// protects each datagram with an explicit nonce so loss and reordering
// do not desynchronize the peers.
type channel struct {
	conn     io.ReadWriteCloser
	cfg      link.TransportConfig
	onPacket func([]byte)

	mu      sync.Mutex
	hs      *noise.HandshakeState
	step    int
	pending []byte
	send    noise.Cipher
	recv    noise.Cipher
	replay  replaydetector.ReplayDetector // used by ReadLoop only
	done    chan struct{}
	doneErr error

	nonce atomic.Uint64
	ready atomic.Bool
}

func newChannel(conn io.ReadWriteCloser, cfg link.TransportConfig, onPacket func([]byte)) (*channel, error) {
	ch := &channel{
		conn:     conn,
		cfg:      cfg,
		onPacket: onPacket,
		replay:   replaydetector.New(replayWindow, math.MaxUint64),
		done:     make(chan struct{}),
	}
	if !cfg.Encryption {
		return ch, nil
	}
	if !cfg.Identity.Valid() {
		return nil, fmt.Errorf("%w: no identity for handshake", defn.ErrSetup)
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     cfg.Role == defn.Initiator,
		StaticKeypair: cfg.Identity.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: handshake state: %v", defn.ErrSetup, err)
	}
	ch.hs = hs
	return ch, nil
}

func (ch *channel) String() string {
	return fmt.Sprintf("secure-channel (role=%s)", ch.cfg.Role)
}

// Establish completes the handshake, retransmitting the last message until
// the peer answers. Received datagrams must be fed through handle
// concurrently.
func (ch *channel) Establish(ctx context.Context) error {
	if !ch.cfg.Encryption {
		ch.ready.Store(true)
		return nil
	}

	timeout := ch.cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if ch.cfg.Role == defn.Initiator {
		ch.mu.Lock()
		msg, _, _, err := ch.hs.WriteMessage(nil, nil)
		if err != nil {
			ch.mu.Unlock()
			return err
		}
		ch.pending = append([]byte{pktHandshake}, msg...)
		ch.step = 1
		ch.mu.Unlock()
		ch.retransmit()
	}

	retry := ch.cfg.HandshakeRetry
	if retry <= 0 {
		retry = 500 * time.Millisecond
	}
	ticker := time.NewTicker(retry)
	defer ticker.Stop()

	for {
		select {
		case <-ch.done:
			return ch.doneErr
		case <-ticker.C:
			ch.retransmit()
		case <-ctx.Done():
			return fmt.Errorf("handshake: %w", ctx.Err())
		}
	}
}

func (ch *channel) retransmit() {
	ch.mu.Lock()
	msg := ch.pending
	ch.mu.Unlock()
	if msg == nil {
		return
	}
	if _, err := ch.conn.Write(msg); err != nil {
		core.Log.Debug(ch, "Handshake write failed", "err", err)
	}
}

// handle processes one received datagram.
func (ch *channel) handle(b []byte) {
	if len(b) == 0 {
		return
	}
	switch b[0] {
	case pktHandshake:
		if ch.hs != nil {
			ch.handshake(b[1:])
		}
	case pktData:
		if !ch.ready.Load() || len(b) < 1+nonceLen {
			return
		}
		n := binary.BigEndian.Uint64(b[1 : 1+nonceLen])
		accept, ok := ch.replay.Check(n)
		if !ok {
			core.Log.Trace(ch, "Dropped datagram", "err", ErrReplay, "nonce", n)
			return
		}
		pt, err := ch.recv.Decrypt(nil, n, nil, b[1+nonceLen:])
		if err != nil {
			core.Log.Trace(ch, "Dropped undecryptable datagram", "err", err)
			return
		}
		accept()
		ch.onPacket(pt)
	case pktPlain:
		if !ch.cfg.Encryption {
			ch.onPacket(b[1:])
		}
	}
}

func (ch *channel) handshake(msg []byte) {
	ch.mu.Lock()
	var resend []byte
	defer func() {
		ch.mu.Unlock()
		if resend != nil {
			ch.conn.Write(resend)
		}
	}()

	initiator := ch.cfg.Role == defn.Initiator
	switch {
	case initiator && ch.step == 1:
		// <- e, ee, s, es
		if _, _, _, err := ch.hs.ReadMessage(nil, msg); err != nil {
			ch.finish(fmt.Errorf("handshake: %w", err))
			return
		}
		// -> s, se
		out, cs1, cs2, err := ch.hs.WriteMessage(nil, nil)
		if err != nil {
			ch.finish(fmt.Errorf("handshake: %w", err))
			return
		}
		ch.pending = append([]byte{pktHandshake}, out...)
		if ch.established(cs1, cs2) {
			resend = ch.pending
		}
	case initiator && ch.step == 2:
		// our final message was lost
		resend = ch.pending
	case !initiator && ch.step == 0:
		// -> e
		if _, _, _, err := ch.hs.ReadMessage(nil, msg); err != nil {
			core.Log.Debug(ch, "Dropped bad handshake message", "err", err)
			return
		}
		out, _, _, err := ch.hs.WriteMessage(nil, nil)
		if err != nil {
			ch.finish(fmt.Errorf("handshake: %w", err))
			return
		}
		ch.pending = append([]byte{pktHandshake}, out...)
		ch.step = 1
		resend = ch.pending
	case !initiator && ch.step == 1:
		if len(msg) == xxMsg1Len {
			resend = ch.pending
			return
		}
		_, cs1, cs2, err := ch.hs.ReadMessage(nil, msg)
		if err != nil {
			ch.finish(fmt.Errorf("handshake: %w", err))
			return
		}
		ch.pending = nil
		ch.established(cs2, cs1)
	}
}

// established must be called with mu held.
func (ch *channel) established(send, recv *noise.CipherState) bool {
	ch.step = 2
	fpr := link.Fingerprint(ch.hs.PeerStatic())
	if ch.cfg.PeerFingerprint != "" && fpr != ch.cfg.PeerFingerprint {
		ch.pending = nil
		ch.finish(fmt.Errorf("%w: got %s", ErrFingerprint, fpr))
		return false
	}
	ch.send = send.Cipher()
	ch.recv = recv.Cipher()
	ch.ready.Store(true)
	core.Log.Debug(ch, "Handshake complete", "peer", fpr)
	ch.finish(nil)
	return true
}

// finish must be called with mu held.
func (ch *channel) finish(err error) {
	select {
	case <-ch.done:
	default:
		ch.doneErr = err
		close(ch.done)
	}
}

// Send writes one message.
func (ch *channel) Send(b []byte) error {
	if !ch.ready.Load() {
		return defn.ErrNotReady
	}
	if !ch.cfg.Encryption {
		out := make([]byte, 0, 1+len(b))
		out = append(append(out, pktPlain), b...)
		_, err := ch.conn.Write(out)
		return err
	}

	n := ch.nonce.Add(1) - 1
	if n == math.MaxUint64 {
		return fmt.Errorf("%w: nonce space exhausted", defn.ErrClosed)
	}
	out := make([]byte, 1+nonceLen, 1+nonceLen+len(b)+16)
	out[0] = pktData
	binary.BigEndian.PutUint64(out[1:], n)
	out = ch.send.Encrypt(out, n, nil, b)
	_, err := ch.conn.Write(out)
	return err
}

// ReadLoop feeds datagrams from the connection until it fails.
func (ch *channel) ReadLoop() error {
	buf := make([]byte, readBufLen)
	for {
		n, err := ch.conn.Read(buf)
		if err != nil {
			return err
		}
		ch.handle(buf[:n])
	}
}
