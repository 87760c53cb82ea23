/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package link

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
)

// Descriptor identifies a session and the peer it connects to.
type Descriptor struct {
	// Link identifier assigned by the controller
	ID string
	// Peer node UID
	PeerUID string
	// Peer TAP hardware address
	PeerMac defn.MacAddress
	// Peer identity fingerprint
	PeerFingerprint string
	// Peer candidate address set, may be empty
	PeerCandidates string
}

// SessionHandler observes session lifecycle events.
type SessionHandler interface {
	OnSessionReady(s *Session)
	// OnSessionBroken is raised at most once per session.
	OnSessionBroken(s *Session)
	// OnLocalCandidatesReady is raised once per completed gather.
	OnLocalCandidatesReady(s *Session, cas string)
	OnSessionMessage(s *Session, b []byte)
}

// Session is one negotiated transport to a peer, in a single role.
type Session struct {
	desc    Descriptor
	factory TransportFactory
	signal  *SignalingWorker

	mu        sync.Mutex
	role      defn.Role
	transport Transport
	handler   SessionHandler
	pending   []func(SessionHandler)
	started   bool
	gathered  bool
	remoteCas string
	localCas  string

	ready  atomic.Bool
	broken atomic.Bool
}

// NewSession creates an uninitialized session.
func NewSession(desc Descriptor, factory TransportFactory, signal *SignalingWorker) *Session {
	return &Session{
		desc:      desc,
		factory:   factory,
		signal:    signal,
		remoteCas: desc.PeerCandidates,
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("session (id=%s peer=%s role=%s)", s.desc.ID, s.desc.PeerMac, s.Role())
}

// ID returns the link identifier.
func (s *Session) ID() string {
	return s.desc.ID
}

// Peer returns the descriptor of the remote peer.
func (s *Session) Peer() Descriptor {
	return s.desc
}

// Role returns the role set by Initialize.
func (s *Session) Role() defn.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// SetHandler attaches the observer. Events raised before a handler was
// attached are replayed to it in order.
func (s *Session) SetHandler(h SessionHandler) {
	s.mu.Lock()
	s.handler = h
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, fn := range pending {
		fn(h)
	}
}

func (s *Session) emit(fn func(SessionHandler)) {
	s.mu.Lock()
	h := s.handler
	if h == nil {
		s.pending = append(s.pending, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn(h)
}

// Initialize creates the transport and starts gathering local candidates.
func (s *Session) Initialize(cfg TransportConfig, id *Identity, role defn.Role) error {
	if !id.Valid() {
		return fmt.Errorf("%w: session %s has no usable identity", defn.ErrSetup, s.desc.ID)
	}

	s.mu.Lock()
	if s.transport != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s already initialized", defn.ErrSetup, s.desc.ID)
	}
	s.role = role
	s.mu.Unlock()

	cfg.Role = role
	cfg.Identity = id
	cfg.PeerFingerprint = s.desc.PeerFingerprint
	t, err := s.factory.NewTransport(cfg, (*sessionEvents)(s))
	if err != nil {
		return fmt.Errorf("%w: session %s: %v", defn.ErrSetup, s.desc.ID, err)
	}

	s.mu.Lock()
	s.transport = t
	remote := s.remoteCas
	s.mu.Unlock()

	s.signal.Post(func() {
		if err := t.GatherCandidates(); err != nil {
			core.Log.Warn(s, "Candidate gathering failed", "err", err)
			(*sessionEvents)(s).OnBroken(err)
			return
		}
		if remote != "" {
			if err := t.AddRemoteCandidates(remote); err != nil {
				core.Log.Warn(s, "Rejected remote candidates", "err", err)
			}
		}
	})
	return nil
}

// AcceptRemoteCandidates records the peer's candidate address set and
// passes it to the transport.
func (s *Session) AcceptRemoteCandidates(cas string) {
	if cas == "" {
		return
	}
	s.signal.Post(func() {
		s.mu.Lock()
		s.remoteCas = cas
		t := s.transport
		s.mu.Unlock()

		if t == nil {
			return
		}
		if err := t.AddRemoteCandidates(cas); err != nil {
			core.Log.Warn(s, "Rejected remote candidates", "err", err)
		}
	})
}

// StartConnections begins connectivity checks. It is a no-op once started,
// and is deferred while no remote candidates are known.
func (s *Session) StartConnections() {
	s.signal.Post(func() {
		s.mu.Lock()
		t := s.transport
		if t == nil || s.started || s.broken.Load() {
			s.mu.Unlock()
			return
		}
		if s.remoteCas == "" {
			s.mu.Unlock()
			core.Log.Debug(s, "Deferring connection start until remote candidates arrive")
			return
		}
		s.started = true
		s.mu.Unlock()

		core.Log.Debug(s, "Starting connections")
		if err := t.Connect(); err != nil {
			core.Log.Warn(s, "Unable to start connections", "err", err)
			(*sessionEvents)(s).OnBroken(err)
		}
	})
}

// IsReady reports whether the session is writable.
func (s *Session) IsReady() bool {
	return s.ready.Load()
}

// IsBroken reports whether the session failed or was disconnected.
func (s *Session) IsBroken() bool {
	return s.broken.Load()
}

// Transmit sends one message. Errors from the transport are not retried.
func (s *Session) Transmit(b []byte) error {
	if !s.ready.Load() {
		return fmt.Errorf("%w: %s", defn.ErrNotReady, s.desc.ID)
	}
	return s.transport.Send(b)
}

// LocalCandidates returns the gathered candidate set, possibly empty.
func (s *Session) LocalCandidates() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localCas
}

// Stats returns candidate pair statistics of the transport.
func (s *Session) Stats() []PairStats {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil || !s.ready.Load() {
		return []PairStats{}
	}
	return t.Stats()
}

// Disconnect closes the transport. No events are raised afterwards.
func (s *Session) Disconnect() error {
	s.broken.Store(true)
	s.ready.Store(false)

	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	core.Log.Debug(s, "Disconnecting")
	return t.Close()
}

// sessionEvents adapts a Session to TransportEvents.
type sessionEvents Session

func (e *sessionEvents) OnWritable() {
	s := (*Session)(e)
	if s.broken.Load() || !s.ready.CompareAndSwap(false, true) {
		return
	}
	core.Log.Info(s, "Link session ready")
	s.emit(func(h SessionHandler) { h.OnSessionReady(s) })
}

func (e *sessionEvents) OnBroken(err error) {
	s := (*Session)(e)
	if !s.broken.CompareAndSwap(false, true) {
		return
	}
	s.ready.Store(false)
	core.Log.Warn(s, "Link session broken", "err", err)
	s.emit(func(h SessionHandler) { h.OnSessionBroken(s) })
}

func (e *sessionEvents) OnCandidatesReady(cas string) {
	s := (*Session)(e)
	s.mu.Lock()
	s.localCas = cas
	first := !s.gathered
	s.gathered = true
	s.mu.Unlock()

	if !first {
		return
	}
	core.Log.Debug(s, "Local candidates ready")
	s.emit(func(h SessionHandler) { h.OnLocalCandidatesReady(s, cas) })
}

func (e *sessionEvents) OnPacket(b []byte) {
	s := (*Session)(e)
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil || s.broken.Load() {
		return
	}
	h.OnSessionMessage(s, b)
}
