/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package transport

import (
	"fmt"
	"strings"

	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/pion/stun"
)

const (
	ufragPrefix = "ufrag:"
	pwdPrefix   = "pwd:"
)

// CandidateSet is the decoded form of a candidate address set: the ICE
// credentials followed by one marshaled candidate per line.
type CandidateSet struct {
	Ufrag      string
	Pwd        string
	Candidates []string
}

// Encode returns the wire text of the set.
func (c CandidateSet) Encode() string {
	var sb strings.Builder
	sb.WriteString(ufragPrefix + c.Ufrag + "\n")
	sb.WriteString(pwdPrefix + c.Pwd + "\n")
	for _, cand := range c.Candidates {
		sb.WriteString(cand)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ParseCandidateSet decodes a candidate address set. Blank lines are ignored.
func ParseCandidateSet(cas string) (CandidateSet, error) {
	var ret CandidateSet
	for _, line := range strings.Split(cas, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, ufragPrefix):
			ret.Ufrag = strings.TrimPrefix(line, ufragPrefix)
		case strings.HasPrefix(line, pwdPrefix):
			ret.Pwd = strings.TrimPrefix(line, pwdPrefix)
		default:
			ret.Candidates = append(ret.Candidates, line)
		}
	}
	if ret.Ufrag == "" || ret.Pwd == "" {
		return ret, fmt.Errorf("%w: candidate set has no credentials", defn.ErrDecode)
	}
	return ret, nil
}

// serverURIs converts the configured STUN and TURN servers.
func serverURIs(stunServers []string, turnServers []core.TurnServer) ([]*stun.URI, error) {
	uris := make([]*stun.URI, 0, len(stunServers)+len(turnServers))
	for _, s := range stunServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			s = "stun:" + s
		}
		u, err := stun.ParseURI(s)
		if err != nil {
			return nil, fmt.Errorf("%w: stun server %q: %v", defn.ErrSetup, s, err)
		}
		uris = append(uris, u)
	}
	for _, t := range turnServers {
		addr := t.Address
		if !strings.HasPrefix(addr, "turn:") && !strings.HasPrefix(addr, "turns:") {
			addr = "turn:" + addr
		}
		u, err := stun.ParseURI(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: turn server %q: %v", defn.ErrSetup, addr, err)
		}
		u.Username = t.User
		u.Password = t.Password
		uris = append(uris, u)
	}
	return uris, nil
}

// interfaceFilter excludes the ignored interfaces from gathering.
func interfaceFilter(ignored []string) func(string) bool {
	if len(ignored) == 0 {
		return nil
	}
	skip := make(map[string]struct{}, len(ignored))
	for _, name := range ignored {
		skip[name] = struct{}{}
	}
	return func(name string) bool {
		_, ok := skip[name]
		return !ok
	}
}
