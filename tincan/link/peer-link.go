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

// PeerLinkHandler observes the sessions of a peer link.
type PeerLinkHandler interface {
	OnLinkReady(l *PeerLink, s *Session)
	// OnLinkBroken is raised after a broken session was released from its slot.
	// The handler owns the session and must disconnect it.
	OnLinkBroken(l *PeerLink, s *Session)
	OnLocalCandidatesReady(l *PeerLink, s *Session, cas string)
	OnLinkMessage(l *PeerLink, s *Session, b []byte)
}

// PeerLink groups the sessions to one peer, at most one per role, and
// transmits through the preferred one.
type PeerLink struct {
	mac     defn.MacAddress
	handler PeerLinkHandler

	mu        sync.RWMutex
	sessions  [len(defn.Roles)]*Session
	preferred defn.Role

	valid   atomic.Bool
	removed atomic.Bool
}

// NewPeerLink creates an empty, invalid peer link.
func NewPeerLink(mac defn.MacAddress, handler PeerLinkHandler) *PeerLink {
	return &PeerLink{mac: mac, handler: handler}
}

func (l *PeerLink) String() string {
	return fmt.Sprintf("peer-link (mac=%s)", l.mac)
}

// Mac returns the peer hardware address, the identity of the link.
func (l *PeerLink) Mac() defn.MacAddress {
	return l.mac
}

// AddSession places s in the slot of its role and returns the session it
// replaced, if any. The caller disconnects the replaced session.
func (l *PeerLink) AddSession(s *Session) (prev *Session) {
	role := s.Role()

	l.mu.Lock()
	prev = l.sessions[role]
	l.sessions[role] = s
	if other := l.sessions[role.Other()]; other == nil || !other.IsReady() {
		l.preferred = role
	}
	l.mu.Unlock()

	if prev != nil {
		core.Log.Info(l, "Replacing session", "role", role, "old", prev.ID(), "new", s.ID())
	}
	s.SetHandler(l)
	return prev
}

// Session returns the session in the given role slot.
func (l *PeerLink) Session(role defn.Role) *Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessions[role]
}

// SessionByID returns the session with the given link id.
func (l *PeerLink) SessionByID(id string) *Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range l.sessions {
		if s != nil && s.ID() == id {
			return s
		}
	}
	return nil
}

// Sessions returns all occupied slots.
func (l *PeerLink) Sessions() []*Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ret := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		if s != nil {
			ret = append(ret, s)
		}
	}
	return ret
}

// SlotState returns the lifecycle state of a role slot.
func (l *PeerLink) SlotState(role defn.Role) defn.State {
	s := l.Session(role)
	switch {
	case s == nil:
		return defn.Absent
	case s.IsBroken():
		return defn.Broken
	case s.IsReady():
		return defn.Ready
	default:
		return defn.Gathering
	}
}

// Preferred returns the role used for transmission.
func (l *PeerLink) Preferred() defn.Role {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.preferred
}

// IsValid reports whether the link may carry traffic.
func (l *PeerLink) IsValid() bool {
	return l.valid.Load()
}

// IsReady reports whether any session is ready.
func (l *PeerLink) IsReady() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.anyReady()
}

func (l *PeerLink) anyReady() bool {
	for _, s := range l.sessions {
		if s != nil && s.IsReady() {
			return true
		}
	}
	return false
}

// IsEmpty reports whether both slots are absent.
func (l *PeerLink) IsEmpty() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessions[defn.Initiator] == nil && l.sessions[defn.Responder] == nil
}

// MarkValid is used by the registry when the link becomes adjacent.
func (l *PeerLink) MarkValid() {
	l.removed.Store(false)
	l.valid.Store(true)
}

// Invalidate is used by the registry when the link is no longer adjacent.
// Routes through the link become unusable, and a late session becoming
// ready does not revive it.
func (l *PeerLink) Invalidate() {
	l.removed.Store(true)
	l.valid.Store(false)
}

// SetPreferred is called when the session in role becomes ready. The newly
// ready role is only preferred if the other slot is absent or not ready.
func (l *PeerLink) SetPreferred(role defn.Role) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if other := l.sessions[role.Other()]; other == nil || !other.IsReady() {
		l.preferred = role
	}
	if l.anyReady() && !l.removed.Load() {
		l.valid.Store(true)
	}
}

// Release drops the session in role and returns it. If the sibling session
// is ready it becomes preferred, otherwise the link becomes invalid.
func (l *PeerLink) Release(role defn.Role) *Session {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.sessions[role]
	l.sessions[role] = nil
	if other := l.sessions[role.Other()]; other != nil && other.IsReady() {
		l.preferred = role.Other()
	} else {
		l.valid.Store(false)
	}
	return s
}

// Transmit sends b through the preferred session.
func (l *PeerLink) Transmit(b []byte) error {
	l.mu.RLock()
	s := l.sessions[l.preferred]
	l.mu.RUnlock()

	if !l.valid.Load() || s == nil {
		return fmt.Errorf("%w: %s", defn.ErrInvalid, l.mac)
	}
	return s.Transmit(b)
}

// QueryCandidates returns the local candidates of each occupied slot.
func (l *PeerLink) QueryCandidates() map[defn.Role]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ret := make(map[defn.Role]string, len(l.sessions))
	for role, s := range l.sessions {
		if s != nil {
			ret[defn.Role(role)] = s.LocalCandidates()
		}
	}
	return ret
}

// Disconnect releases and disconnects every session.
func (l *PeerLink) Disconnect() error {
	l.mu.Lock()
	sessions := l.sessions
	l.sessions = [len(defn.Roles)]*Session{}
	l.valid.Store(false)
	l.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if s == nil {
			continue
		}
		if err := s.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *PeerLink) holds(s *Session) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessions[s.Role()] == s
}

// OnSessionReady implements SessionHandler.
func (l *PeerLink) OnSessionReady(s *Session) {
	if !l.holds(s) {
		return
	}
	l.SetPreferred(s.Role())
	core.Log.Debug(l, "Session ready", "role", s.Role(), "preferred", l.Preferred(), "valid", l.IsValid())
	if l.handler != nil {
		l.handler.OnLinkReady(l, s)
	}
}

// OnSessionBroken implements SessionHandler.
func (l *PeerLink) OnSessionBroken(s *Session) {
	if !l.holds(s) {
		return
	}
	l.Release(s.Role())
	core.Log.Info(l, "Session released", "role", s.Role(), "valid", l.IsValid())
	if l.handler != nil {
		l.handler.OnLinkBroken(l, s)
	}
}

// OnLocalCandidatesReady implements SessionHandler.
func (l *PeerLink) OnLocalCandidatesReady(s *Session, cas string) {
	if l.handler != nil {
		l.handler.OnLocalCandidatesReady(l, s, cas)
	}
}

// OnSessionMessage implements SessionHandler.
func (l *PeerLink) OnSessionMessage(s *Session, b []byte) {
	if l.handler != nil {
		l.handler.OnLinkMessage(l, s, b)
	}
}
